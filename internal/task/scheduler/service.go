package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"dyncron/internal/cronexpr"
	"dyncron/internal/eventbus"
	"dyncron/internal/task/trigger"
	logx "dyncron/pkg/logx"
)

type Service struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	eval     *cronexpr.Evaluator
	triggers trigger.Registrar
	exec     Executor

	reg   *registry
	table *table

	// passMu serializes reconciliation passes with each other and with Shutdown.
	passMu sync.Mutex

	mu      sync.Mutex
	tick    trigger.Handle
	stopped atomic.Bool

	passes   atomic.Uint64
	lastPass atomic.Int64

	subMu       sync.Mutex
	lastSubWarn map[string]time.Time
}

func New(cfg Config, triggers trigger.Registrar, exec Executor, eval *cronexpr.Evaluator, log logx.Logger, bus eventbus.Bus) *Service {
	if eval == nil {
		eval = cronexpr.New(nil)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:         cfg.withDefaults(),
		log:         log,
		bus:         bus,
		eval:        eval,
		triggers:    triggers,
		exec:        exec,
		reg:         newRegistry(),
		table:       newTable(),
		lastSubWarn: map[string]time.Time{},
	}
}

func (s *Service) Config() Config { return s.cfg }

// Start arms the reconciliation tick. The first pass runs immediately.
func (s *Service) Start(ctx context.Context) error {
	if ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped.Load() {
		return ErrStopped
	}
	if s.tick != nil {
		return nil
	}
	h, err := s.triggers.SchedulePeriodic("scheduler.reconcile", s.cfg.TriggerPeriod, s.Reconcile)
	if err != nil {
		return fmt.Errorf("arm reconciliation tick: %w", err)
	}
	s.tick = h
	s.log.Info("service started",
		logx.Duration("trigger_period", s.cfg.TriggerPeriod),
		logx.String("tz", s.eval.Location().String()),
		logx.Int("registered", s.reg.len()),
	)
	return nil
}

// AddTask registers spec and reports whether an equal spec (same id and cron)
// was not already registered. The cron expression is checked by the next
// reconciliation pass, not here. After Shutdown it returns ErrStopped, which
// also matches ErrInvalidArgument.
func (s *Service) AddTask(spec TaskSpec) (bool, error) {
	if err := spec.validate(); err != nil {
		return false, err
	}
	if s.stopped.Load() {
		return false, ErrStopped
	}
	added := s.reg.add(spec)
	s.log.Debug("task registered", logx.String("task_id", spec.TaskID), logx.String("cron", spec.Cron), logx.Bool("added", added))
	return added, nil
}

// DeleteTask unregisters every entry for taskID. The armed schedule is
// retired by the next pass. Unknown ids are not an error.
func (s *Service) DeleteTask(taskID string) error {
	if strings.TrimSpace(taskID) == "" {
		return ErrEmptyTaskID
	}
	if n := s.reg.delete(taskID); n == 0 {
		s.log.Info("delete: task not registered", logx.String("task_id", taskID))
		return nil
	}
	s.log.Debug("task unregistered", logx.String("task_id", taskID))
	return nil
}

// Shutdown stops the tick, waits for a running pass, cancels every armed
// schedule and drains the executor. In-flight callbacks complete; the wait
// for them is bounded by ctx. Calling it again is a no-op.
func (s *Service) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !s.stopped.CompareAndSwap(false, true) {
		return nil
	}
	start := time.Now()
	s.log.Info("stop requested")

	s.mu.Lock()
	tick := s.tick
	s.mu.Unlock()
	if tick != nil {
		tick.Cancel()
	}

	s.passMu.Lock()
	cancelled := s.table.drain()
	for _, a := range cancelled {
		a.handle.Cancel()
	}
	s.passMu.Unlock()

	err := s.exec.Shutdown(ctx)
	if err != nil {
		s.log.Warn("executor drain incomplete", logx.Err(err))
	}
	s.log.Info("service stopped", logx.Int("cancelled", len(cancelled)), logx.Duration("took", time.Since(start)))
	return err
}
