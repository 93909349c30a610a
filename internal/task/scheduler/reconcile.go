package scheduler

import (
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"dyncron/internal/cronexpr"
	"dyncron/internal/eventbus"
	logx "dyncron/pkg/logx"
)

// Reconcile runs one pass synchronously. Passes never overlap; after
// Shutdown it does nothing.
func (s *Service) Reconcile() {
	s.passMu.Lock()
	defer s.passMu.Unlock()
	if s.stopped.Load() {
		return
	}
	s.reconcileLocked()
}

func (s *Service) reconcileLocked() {
	start := time.Now()

	// One entry per task id; the most recently added wins.
	kept, dropped := s.reg.dedupe()
	for _, d := range dropped {
		s.log.Debug("superseded registration dropped", logx.String("task_id", d.TaskID), logx.String("cron", d.Cron))
	}

	desired := make(map[string]TaskSpec, len(kept))
	for _, spec := range kept {
		desired[spec.TaskID] = spec
	}

	// Retire deleted and changed schedules before installing anything, so a
	// changed task is never armed twice.
	var retired, changed, installed, invalid int
	for _, a := range s.table.list() {
		want, ok := desired[a.taskID]
		switch {
		case !ok:
			s.cancel(a)
			retired++
			s.log.Info("schedule retired", logx.String("task_id", a.taskID), logx.String("cron", a.cron))
			s.publishSchedule(eventbus.TopicScheduleRetire, a.taskID, a.cron, a.rule, "deleted")
		case want.Cron != a.cron:
			s.cancel(a)
			changed++
			s.log.Info("schedule changed",
				logx.String("task_id", a.taskID),
				logx.String("old_cron", a.cron),
				logx.String("new_cron", want.Cron),
			)
			s.publishSchedule(eventbus.TopicScheduleRetire, a.taskID, a.cron, a.rule, "cron changed")
		case want.gen != a.gen:
			// Same cron, but the task was deleted and added again with a
			// new callback.
			s.cancel(a)
			changed++
			s.log.Info("schedule replaced", logx.String("task_id", a.taskID), logx.String("cron", a.cron))
			s.publishSchedule(eventbus.TopicScheduleRetire, a.taskID, a.cron, a.rule, "re-registered")
		}
	}

	// Arm every desired task that has no schedule yet.
	for _, spec := range kept {
		if _, ok := s.table.get(spec.TaskID); ok {
			continue
		}
		if s.install(spec) {
			installed++
		} else {
			invalid++
		}
	}

	s.passes.Add(1)
	s.lastPass.Store(start.UnixNano())
	if retired+changed+installed > 0 {
		s.log.Debug("reconciliation pass",
			logx.Int("registered", len(kept)),
			logx.Int("installed", installed),
			logx.Int("changed", changed),
			logx.Int("retired", retired),
			logx.Int("invalid", invalid),
			logx.Duration("took", time.Since(start)),
		)
	}
}

// cancel suppresses future firings of a and forgets it. In-flight callbacks
// keep running.
func (s *Service) cancel(a *activeSchedule) {
	a.handle.Cancel()
	s.table.remove(a.taskID)
	s.forgetSubmitWarn(a.taskID)
}

// install arms spec and records it. It reports false when the cron
// expression is unusable; the entry stays registered and is reported again
// on the next pass.
func (s *Service) install(spec TaskSpec) bool {
	expr := strings.TrimSpace(spec.Cron)
	if expr == "" {
		s.log.Error("task not scheduled: blank cron", logx.String("task_id", spec.TaskID), logx.String("rule", spec.Rule))
		s.publishSchedule(eventbus.TopicScheduleBad, spec.TaskID, spec.Cron, spec.Rule, cronexpr.ErrBlank.Error())
		return false
	}
	if _, err := s.eval.Parse(expr); err != nil {
		s.log.Error("task not scheduled: invalid cron",
			logx.String("task_id", spec.TaskID),
			logx.String("cron", spec.Cron),
			logx.String("rule", spec.Rule),
			logx.Err(err),
		)
		s.publishSchedule(eventbus.TopicScheduleBad, spec.TaskID, spec.Cron, spec.Rule, err.Error())
		return false
	}

	h, err := s.triggers.ScheduleCron(spec.TaskID, expr, func(fired time.Time) {
		s.fire(spec, fired)
	})
	if err != nil {
		s.log.Error("schedule install failed", logx.String("task_id", spec.TaskID), logx.String("cron", spec.Cron), logx.Err(err))
		s.publishSchedule(eventbus.TopicScheduleBad, spec.TaskID, spec.Cron, spec.Rule, err.Error())
		return false
	}
	now := time.Now()
	s.table.put(&activeSchedule{
		taskID:      spec.TaskID,
		cron:        spec.Cron,
		rule:        spec.Rule,
		gen:         spec.gen,
		handle:      h,
		installedAt: now,
	})

	fields := []logx.Field{
		logx.String("task_id", spec.TaskID),
		logx.String("cron", spec.Cron),
		logx.String("rule", spec.Rule),
	}
	if next, err := s.eval.Preview(expr, now, 3); err == nil {
		if len(next) == 0 {
			fields = append(fields, logx.String("next", "never"))
		} else {
			fields = append(fields, logx.String("next", cronexpr.FormatPreview(next)))
		}
	}
	s.log.Info("schedule installed", fields...)
	s.publishSchedule(eventbus.TopicScheduleAdded, spec.TaskID, spec.Cron, spec.Rule, "")
	return true
}

// fire runs on the trigger goroutine and must not block on user code.
func (s *Service) fire(spec TaskSpec, fired time.Time) {
	fireID := uuid.NewString()
	if err := s.exec.Submit(spec.TaskID, func() { s.runTask(spec, fired, fireID) }); err != nil {
		s.reportSubmitError(spec.TaskID, err)
	}
}

// runTask is the wrapped callback executed by a worker. A callback that
// panics with an error is reported as a failed run; any other panic is logged
// with its stack. Either way the schedule stays armed.
func (s *Service) runTask(spec TaskSpec, fired time.Time, fireID string) {
	s.log.Info("task fired",
		logx.String("task_id", spec.TaskID),
		logx.Time("fire_time", fired),
		logx.String("rule", spec.Rule),
		logx.String("fire_id", fireID),
	)
	ev := eventbus.RunEvent{FireID: fireID, TaskID: spec.TaskID, Cron: spec.Cron, Rule: spec.Rule, Fired: fired}
	s.publish(eventbus.TopicTaskFired, ev)

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			ev.Error = fmt.Sprint(r)
			if err, ok := r.(error); ok {
				s.log.Warn("task failed", logx.String("task_id", spec.TaskID), logx.String("fire_id", fireID), logx.Err(err))
			} else {
				s.log.Error("task callback panicked",
					logx.String("task_id", spec.TaskID),
					logx.String("fire_id", fireID),
					logx.Any("panic", ev.Error),
					logx.Stack(string(debug.Stack())),
				)
			}
		}
		ev.Duration = time.Since(start)
		s.publish(eventbus.TopicTaskFinished, ev)
	}()
	spec.Callback(spec.TaskID)
}

func (s *Service) publish(topic string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: topic, Time: time.Now(), Data: data})
}

func (s *Service) publishSchedule(topic, taskID, cronExpr, rule, reason string) {
	s.publish(topic, eventbus.ScheduleEvent{TaskID: taskID, Cron: cronExpr, Rule: rule, Reason: reason})
}
