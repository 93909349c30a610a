package config

import (
	"strings"
	"time"
)

const (
	DefaultTriggerPeriod   = 5 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultBusyTimeout     = 5 * time.Second
	DefaultRetention       = 7 * 24 * time.Hour
)

// Period returns the reconciliation period, defaulting to 5s.
func (c SchedulerConfig) Period() (time.Duration, error) {
	return durationOr("scheduler.trigger_period", c.TriggerPeriod, DefaultTriggerPeriod)
}

func (c SchedulerConfig) StopTimeout() (time.Duration, error) {
	return durationOr("scheduler.shutdown_timeout", c.ShutdownTimeout, DefaultShutdownTimeout)
}

func (c ExecutorConfig) Idle() (time.Duration, error) {
	return durationOr("executor.idle_timeout", c.IdleTimeout, DefaultIdleTimeout)
}

// Enabled reports whether run history should be recorded.
func (c *StorageConfig) Enabled() bool {
	if c == nil {
		return false
	}
	d := strings.ToLower(strings.TrimSpace(c.Driver))
	return d != "" && d != "none"
}

func (c *StorageConfig) Busy() (time.Duration, error) {
	if c == nil {
		return DefaultBusyTimeout, nil
	}
	return durationOr("storage.busy_timeout", c.BusyTimeout, DefaultBusyTimeout)
}

// RunTimeout bounds one run of the task's command. Zero means unbounded.
func (t TaskConfig) RunTimeout() (time.Duration, error) {
	return parseDuration("tasks."+t.ID+".timeout", t.Timeout)
}

// KeepFor returns the history retention. An explicit "0s" disables pruning.
func (c *StorageConfig) KeepFor() (time.Duration, error) {
	if c == nil || strings.TrimSpace(c.Retention) == "" {
		return DefaultRetention, nil
	}
	return parseDuration("storage.retention", c.Retention)
}
