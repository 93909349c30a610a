package trigger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"dyncron/internal/cronexpr"
	logx "dyncron/pkg/logx"
)

// Service implements Registrar.
//
// Periodic jobs run on a gocron scheduler in singleton mode, so a slow run
// delays the next one instead of overlapping it. Cron entries run on a
// robfig/cron loop sharing the evaluator's parser and location.
type Service struct {
	mu sync.Mutex

	log  logx.Logger
	eval *cronexpr.Evaluator

	periodic gocron.Scheduler
	c        *cron.Cron

	started bool
	stopped bool
}

func New(eval *cronexpr.Evaluator, log logx.Logger) (*Service, error) {
	if eval == nil {
		eval = cronexpr.New(nil)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	ps, err := gocron.NewScheduler(
		gocron.WithLocation(eval.Location()),
		gocron.WithLogger(gocronLogger{log: log.With(logx.String("lib", "gocron"))}),
	)
	if err != nil {
		return nil, fmt.Errorf("create periodic scheduler: %w", err)
	}
	clog := cronLogger{log: log.With(logx.String("lib", "cron"))}
	c := cron.New(
		cron.WithLocation(eval.Location()),
		cron.WithParser(eval.Parser()),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog)),
	)
	return &Service{log: log, eval: eval, periodic: ps, c: c}, nil
}

// Start begins dispatching. Triggers registered before Start arm on Start.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	s.periodic.Start()
	s.c.Start()
	s.log.Info("trigger service started", logx.String("tz", s.eval.Location().String()))
}

// Stop halts both loops. Callbacks already dispatched are not interrupted;
// Stop waits for them, bounded by ctx.
func (s *Service) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	if !started {
		return nil
	}
	var errs []error
	if err := s.periodic.Shutdown(); err != nil {
		errs = append(errs, fmt.Errorf("periodic shutdown: %w", err))
	}
	select {
	case <-s.c.Stop().Done():
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("cron stop: %w", ctx.Err()))
	}
	s.log.Info("trigger service stopped")
	return errors.Join(errs...)
}

func (s *Service) SchedulePeriodic(name string, period time.Duration, fn func()) (Handle, error) {
	if fn == nil {
		return nil, errors.New("periodic trigger: nil func")
	}
	if period <= 0 {
		return nil, fmt.Errorf("periodic trigger %q: period must be > 0", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, ErrStopped
	}

	h := &periodicHandle{svc: s, name: name}
	job, err := s.periodic.NewJob(
		gocron.DurationJob(period),
		gocron.NewTask(func() {
			if h.Cancelled() {
				return
			}
			fn()
		}),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return nil, fmt.Errorf("periodic trigger %q: %w", name, err)
	}
	h.id = job.ID()
	s.log.Debug("periodic trigger armed", logx.String("name", name), logx.Duration("period", period))
	return h, nil
}

func (s *Service) ScheduleCron(name, expr string, fn func(fired time.Time)) (Handle, error) {
	if fn == nil {
		return nil, errors.New("cron trigger: nil func")
	}
	sched, err := s.eval.Parse(expr)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, ErrStopped
	}

	h := &cronHandle{svc: s, name: name}
	h.id = s.c.Schedule(sched, cron.FuncJob(func() {
		// The cron loop may have dispatched this run just before Cancel
		// removed the entry; the flag makes Cancel authoritative.
		if h.Cancelled() {
			return
		}
		fn(time.Now().In(s.eval.Location()))
	}))
	return h, nil
}

// Entries reports the number of armed cron entries.
func (s *Service) Entries() int {
	return len(s.c.Entries())
}

// NextRun returns the next fire time the cron loop has computed for h.
func (s *Service) NextRun(h Handle) (time.Time, bool) {
	ch, ok := h.(*cronHandle)
	if !ok || ch.svc != s || ch.Cancelled() {
		return time.Time{}, false
	}
	e := s.c.Entry(ch.id)
	if !e.Valid() {
		return time.Time{}, false
	}
	return e.Next, true
}

type cronHandle struct {
	svc       *Service
	name      string
	id        cron.EntryID
	cancelled atomic.Bool
}

func (h *cronHandle) Cancel() {
	if !h.cancelled.CompareAndSwap(false, true) {
		return
	}
	h.svc.c.Remove(h.id)
	h.svc.log.Debug("cron trigger cancelled", logx.String("name", h.name))
}

func (h *cronHandle) Cancelled() bool { return h.cancelled.Load() }

type periodicHandle struct {
	svc       *Service
	name      string
	id        uuid.UUID
	cancelled atomic.Bool
}

func (h *periodicHandle) Cancel() {
	if !h.cancelled.CompareAndSwap(false, true) {
		return
	}
	if err := h.svc.periodic.RemoveJob(h.id); err != nil && !errors.Is(err, gocron.ErrJobNotFound) {
		h.svc.log.Warn("periodic trigger remove failed", logx.String("name", h.name), logx.Err(err))
	}
}

func (h *periodicHandle) Cancelled() bool { return h.cancelled.Load() }

// ---- library logger adapters ----

type gocronLogger struct{ log logx.Logger }

func (l gocronLogger) Debug(msg string, args ...any) { l.log.Debug(msg, kvFields(args)...) }
func (l gocronLogger) Info(msg string, args ...any)  { l.log.Debug(msg, kvFields(args)...) }
func (l gocronLogger) Warn(msg string, args ...any)  { l.log.Warn(msg, kvFields(args)...) }
func (l gocronLogger) Error(msg string, args ...any) { l.log.Error(msg, kvFields(args)...) }

type cronLogger struct{ log logx.Logger }

// Info is very chatty in robfig/cron (one line per wake-up); keep it at trace.
func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Trace(msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(args []any) []logx.Field {
	fields := make([]logx.Field, 0, len(args)/2+1)
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			fields = append(fields, logx.Any("value", args[i]))
			break
		}
		key, ok := args[i].(string)
		if !ok || strings.TrimSpace(key) == "" {
			key = fmt.Sprint(args[i])
		}
		fields = append(fields, logx.Any(key, args[i+1]))
	}
	return fields
}
