package storage

import (
	"context"
	"time"

	"dyncron/internal/eventbus"
	logx "dyncron/pkg/logx"
)

// Recorder writes run events from the bus into a Store.
type Recorder struct {
	store Store
	bus   eventbus.Bus
	log   logx.Logger
}

func NewRecorder(store Store, bus eventbus.Bus, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{store: store, bus: bus, log: log}
}

// Run consumes events until ctx is done. Write failures are logged and
// skipped; history is best-effort.
func (r *Recorder) Run(ctx context.Context) error {
	events, unsub := r.bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			run, ok := runFromEvent(e)
			if !ok {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := r.store.AppendRun(wctx, run)
			cancel()
			if err != nil {
				r.log.Warn("run history write failed", logx.String("task_id", run.TaskID), logx.Err(err))
			}
		}
	}
}

func runFromEvent(e eventbus.Event) (Run, bool) {
	re, ok := e.Data.(eventbus.RunEvent)
	if !ok {
		return Run{}, false
	}
	run := Run{
		FireID:   re.FireID,
		TaskID:   re.TaskID,
		Cron:     re.Cron,
		Rule:     re.Rule,
		Fired:    re.Fired,
		Duration: re.Duration,
		Error:    re.Error,
	}
	switch e.Type {
	case eventbus.TopicTaskFinished:
		run.Status = StatusOK
		if re.Error != "" {
			run.Status = StatusFailed
		}
	case eventbus.TopicTaskRejected:
		run.Status = StatusRejected
	default:
		return Run{}, false
	}
	return run, true
}
