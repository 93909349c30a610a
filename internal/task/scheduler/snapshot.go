package scheduler

import (
	"strings"
	"time"

	"dyncron/internal/task/executor"
)

type ScheduleInfo struct {
	TaskID      string
	Cron        string
	Rule        string
	InstalledAt time.Time
	Next        time.Time
}

type Snapshot struct {
	Timezone      string
	TriggerPeriod time.Duration
	Stopped       bool

	Registered int
	Active     []ScheduleInfo
	Passes     uint64
	LastPass   time.Time

	Executor executor.Snapshot
}

func (s *Service) Snapshot() Snapshot {
	now := time.Now()
	snap := Snapshot{
		Timezone:      s.eval.Location().String(),
		TriggerPeriod: s.cfg.TriggerPeriod,
		Stopped:       s.stopped.Load(),
		Registered:    s.reg.len(),
		Passes:        s.passes.Load(),
	}
	if ns := s.lastPass.Load(); ns != 0 {
		snap.LastPass = time.Unix(0, ns)
	}
	for _, a := range s.table.list() {
		info := ScheduleInfo{TaskID: a.taskID, Cron: a.cron, Rule: a.rule, InstalledAt: a.installedAt}
		if next, err := s.eval.NextFireAfter(strings.TrimSpace(a.cron), now); err == nil {
			info.Next = next
		}
		snap.Active = append(snap.Active, info)
	}
	if s.exec != nil {
		snap.Executor = s.exec.Snapshot()
	}
	return snap
}

// Registered returns a copy of the registry in insertion order.
func (s *Service) Registered() []TaskSpec {
	return s.reg.snapshot()
}
