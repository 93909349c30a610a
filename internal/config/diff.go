package config

import (
	"strings"

	logx "dyncron/pkg/logx"
)

// SummarizeConfigChange returns the sections that differ, safe structured
// attrs for logging, and the subset of sections that only take effect after a
// restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		restart = append(restart, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.trigger_period", strings.TrimSpace(newCfg.Scheduler.TriggerPeriod)),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}
	if oldCfg.Executor != newCfg.Executor {
		changed = append(changed, "executor")
		restart = append(restart, "executor")
		attrs = append(attrs,
			logx.Int("executor.core_workers", newCfg.Executor.CoreWorkers),
			logx.Int("executor.max_workers", newCfg.Executor.MaxWorkers),
			logx.Int("executor.queue_size", newCfg.Executor.QueueSize),
		)
	}
	if storageOf(oldCfg) != storageOf(newCfg) {
		changed = append(changed, "storage")
		restart = append(restart, "storage")
		attrs = append(attrs, logx.String("storage.driver", storageOf(newCfg).Driver))
	}

	if diagOf(oldCfg) != diagOf(newCfg) {
		changed = append(changed, "diagnostics")
		restart = append(restart, "diagnostics")
		attrs = append(attrs,
			logx.Bool("diagnostics.enabled", diagOf(newCfg).Enabled),
			logx.String("diagnostics.addr", diagOf(newCfg).Addr),
		)
	}

	upserts, removed := DiffTasks(oldCfg.Tasks, newCfg.Tasks)
	if len(upserts) > 0 || len(removed) > 0 {
		changed = append(changed, "tasks")
		attrs = append(attrs,
			logx.Int("tasks.total", len(newCfg.Tasks)),
			logx.Int("tasks.changed", len(upserts)),
			logx.Strings("tasks.removed", removed),
		)
	}
	return changed, attrs, restart
}

func storageOf(c *Config) StorageConfig {
	if c.Storage == nil {
		return StorageConfig{}
	}
	return *c.Storage
}

func diagOf(c *Config) DiagnosticsConfig {
	if c.Diagnostics == nil {
		return DiagnosticsConfig{}
	}
	return *c.Diagnostics
}

// DiffTasks returns the tasks that are new or differ in any field, in the
// order of next, and the ids that disappeared, in the order of prev.
func DiffTasks(prev, next []TaskConfig) (upserts []TaskConfig, removed []string) {
	old := make(map[string]TaskConfig, len(prev))
	for _, t := range prev {
		old[t.ID] = t
	}
	seen := make(map[string]struct{}, len(next))
	for _, t := range next {
		seen[t.ID] = struct{}{}
		if o, ok := old[t.ID]; !ok || o != t {
			upserts = append(upserts, t)
		}
	}
	for _, t := range prev {
		if _, ok := seen[t.ID]; !ok {
			removed = append(removed, t.ID)
		}
	}
	return upserts, removed
}
