package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"dyncron/internal/config"
	"dyncron/internal/cronexpr"
	"dyncron/internal/eventbus"
	"dyncron/internal/observability/diag"
	"dyncron/internal/runtime/supervisor"
	"dyncron/internal/storage"
	"dyncron/internal/task/executor"
	"dyncron/internal/task/scheduler"
	"dyncron/internal/task/trigger"
	logx "dyncron/pkg/logx"
)

// App wires the scheduler daemon: config, logging, triggers, executor,
// scheduler and the optional run-history store.
type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	trig   *trigger.Service
	sched  *scheduler.Service
	units  unitController
	runner *taskRunner

	diag        *diag.Server
	stopTimeout time.Duration
	watchdog    trigger.Handle
	started     time.Time

	mu      sync.Mutex
	applied []config.TaskConfig
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	log = log.With(logx.String("comp", "app"))

	ss, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	ec, err := mapExecutorConfig(cfg)
	if err != nil {
		return nil, err
	}
	dc, diagOn, err := mapDiagConfig(cfg)
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	eval := cronexpr.New(ss.loc)
	trig, err := trigger.New(eval, log.With(logx.String("comp", "trigger")))
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}
	pool := executor.New(ec, log.With(logx.String("comp", "executor")), bus)
	sched := scheduler.New(ss.sched, trig, pool, eval, log.With(logx.String("comp", "scheduler")), bus)

	units := newUnitController()
	a := &App{
		cfgm:        cfgm,
		log:         log,
		logs:        logSvc,
		bus:         bus,
		store:       store,
		trig:        trig,
		sched:       sched,
		units:       units,
		runner:      &taskRunner{log: log.With(logx.String("comp", "task")), units: units},
		stopTimeout: ss.stopTimeout,
	}
	if diagOn {
		a.diag = diag.New(dc, a.Status, log.With(logx.String("comp", "diag")))
	}
	return a, nil
}

// Scheduler exposes the running scheduler.
func (a *App) Scheduler() *scheduler.Service { return a.sched }

// Done is closed when the app context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by a background loop.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.started = time.Now()
	a.runner.base = a.sup.Context()

	// Reject reloads that would fail to map, in addition to struct validation.
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if err := config.Validator(c, cfg); err != nil {
			return err
		}
		if _, err := mapSchedulerConfig(cfg); err != nil {
			return err
		}
		if _, err := mapExecutorConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		_, _, err := mapDiagConfig(cfg)
		return err
	})

	if a.store != nil {
		rec := storage.NewRecorder(a.store, a.bus, a.log.With(logx.String("comp", "history")))
		a.sup.Go("history.recorder", rec.Run)
	}
	a.sup.Go("eventbus.log", a.logEvents)
	if a.diag != nil {
		a.sup.Go("diagnostics", func(c context.Context) error {
			// Diagnostics are optional; a failure must not stop scheduling.
			if err := a.diag.Run(c); err != nil {
				a.log.Error("diagnostics server failed", logx.Err(err))
			}
			return nil
		})
	}

	// Register before arming the tick so the first pass installs everything.
	cfg := a.cfgm.Get()
	a.mu.Lock()
	syncTasks(a.sched, a.runner, nil, cfg.Tasks, a.log)
	a.applied = cfg.Tasks
	a.mu.Unlock()

	a.trig.Start()
	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}

	if h, err := armWatchdog(a.trig, a.log); err != nil {
		a.log.Warn("systemd watchdog not armed", logx.Err(err))
	} else {
		a.watchdog = h
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	sdNotify(a.log, "READY=1")
	a.log.Info("app started",
		logx.Int("tasks", len(cfg.Tasks)),
		logx.Duration("trigger_period", a.sched.Config().TriggerPeriod),
	)
	return nil
}

// Status is the document served at /status.
type Status struct {
	Started    time.Time           `json:"started"`
	Uptime     string              `json:"uptime"`
	Scheduler  scheduler.Snapshot  `json:"scheduler"`
	Goroutines supervisor.Counters `json:"goroutines"`
}

func (a *App) Status() any {
	st := Status{
		Started:   a.started,
		Scheduler: a.sched.Snapshot(),
	}
	if !a.started.IsZero() {
		st.Uptime = time.Since(a.started).Round(time.Second).String()
	}
	if a.sup != nil {
		st.Goroutines = a.sup.Counters()
	}
	return st
}

func (a *App) logEvents(c context.Context) error {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-c.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

func (a *App) reloadLoop(c context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts; only the newest config matters.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(last, next)
			last = next
		}
	}
}

// applyConfig applies the live parts of a reloaded config: logging and tasks.
// Other sections are reported as needing a restart.
func (a *App) applyConfig(prev, next *config.Config) {
	changed, attrs, restart := config.SummarizeConfigChange(prev, next)
	if len(changed) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(restart) > 0 {
		a.log.Warn("config change requires restart", logx.Strings("sections", restart))
	}

	a.logs.Apply(mapLogConfig(next))

	a.mu.Lock()
	syncTasks(a.sched, a.runner, a.applied, next.Tasks, a.log)
	a.applied = next.Tasks
	a.mu.Unlock()

	fields := append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts down in order: scheduler (drains running callbacks), then the
// trigger loops, background goroutines and unit connection, then storage.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	sdNotify(a.log, "STOPPING=1")

	if a.watchdog != nil {
		a.watchdog.Cancel()
	}

	var errs []error
	record := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	record(a.step(ctx, "scheduler", a.stopTimeout, a.sched.Shutdown))
	a.sup.Cancel()

	// The remaining steps are independent; a failing one must not cut the
	// others short, so the group carries no shared context.
	var g errgroup.Group
	g.Go(func() error { return a.step(ctx, "triggers", 2*time.Second, a.trig.Stop) })
	g.Go(func() error {
		return a.step(ctx, "units", time.Second, func(context.Context) error { a.units.Close(); return nil })
	})
	g.Go(func() error {
		// The recorder must stop writing before the store closes.
		werr := a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)
		if a.store == nil {
			return werr
		}
		return errors.Join(werr, a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() }))
	})
	record(g.Wait())

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}

// step runs fn bounded by max without extending the caller's deadline. A
// step that overruns is logged and abandoned.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		took := time.Since(start)
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			return fmt.Errorf("stop %s: %w", name, err)
		}
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
		return nil
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
			}
		}()
		return fmt.Errorf("stop %s: %w", name, stepCtx.Err())
	}
}
