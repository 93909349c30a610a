package app

import (
	"fmt"
	"strings"
	"time"

	"dyncron/internal/config"
	"dyncron/internal/cronexpr"
	"dyncron/internal/observability/diag"
	"dyncron/internal/storage"
	"dyncron/internal/task/executor"
	"dyncron/internal/task/scheduler"
	logx "dyncron/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || !cfg.Storage.Enabled() {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=%s", sc.Driver)
	}
	busy, err := sc.Busy()
	if err != nil {
		return storage.Config{}, false, err
	}
	keep, err := sc.KeepFor()
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        path,
		BusyTimeout: busy,
		Retention:   keep,
	}, true, nil
}

func mapExecutorConfig(cfg *config.Config) (executor.Config, error) {
	idle, err := cfg.Executor.Idle()
	if err != nil {
		return executor.Config{}, err
	}
	return executor.Config{
		CoreWorkers: cfg.Executor.CoreWorkers,
		MaxWorkers:  cfg.Executor.MaxWorkers,
		IdleTimeout: idle,
		QueueSize:   cfg.Executor.QueueSize,
	}, nil
}

type schedulerSettings struct {
	sched       scheduler.Config
	loc         *time.Location
	stopTimeout time.Duration
}

func mapSchedulerConfig(cfg *config.Config) (schedulerSettings, error) {
	period, err := cfg.Scheduler.Period()
	if err != nil {
		return schedulerSettings{}, err
	}
	stop, err := cfg.Scheduler.StopTimeout()
	if err != nil {
		return schedulerSettings{}, err
	}
	loc, err := cronexpr.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return schedulerSettings{}, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return schedulerSettings{
		sched:       scheduler.Config{TriggerPeriod: period},
		loc:         loc,
		stopTimeout: stop,
	}, nil
}

// mapDiagConfig validates the diagnostics section. It never starts the server.
func mapDiagConfig(cfg *config.Config) (diag.Config, bool, error) {
	if cfg == nil || cfg.Diagnostics == nil || !cfg.Diagnostics.Enabled {
		return diag.Config{}, false, nil
	}
	dc := diag.Config{
		Addr:          strings.TrimSpace(cfg.Diagnostics.Addr),
		Token:         strings.TrimSpace(cfg.Diagnostics.Token),
		AllowInsecure: cfg.Diagnostics.AllowInsecure,
		ReadTimeout:   5 * time.Second,
		IdleTimeout:   120 * time.Second,
	}
	if dc.Addr == "" {
		dc.Addr = diag.DefaultAddr
	}
	if err := diag.CheckBind(dc); err != nil {
		return diag.Config{}, false, fmt.Errorf("diagnostics: %w", err)
	}
	return dc, true, nil
}
