package config

// Config is the daemon configuration. YAML and JSON files decode into it
// strictly; unknown keys are rejected.
//
// Durations are Go duration strings ("500ms", "5s", "1m").
type Config struct {
	Logging     LoggingConfig      `json:"logging"`
	Scheduler   SchedulerConfig    `json:"scheduler"`
	Executor    ExecutorConfig     `json:"executor"`
	Storage     *StorageConfig     `json:"storage,omitempty"`
	Diagnostics *DiagnosticsConfig `json:"diagnostics,omitempty"`
	Tasks       []TaskConfig       `json:"tasks,omitempty" validate:"unique=ID,dive"`
}

type LoggingConfig struct {
	Level   string      `json:"level" validate:"omitempty,loglevel"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the reconciliation loop.
//
// Defaults: trigger_period 5s, timezone local, shutdown_timeout 30s.
type SchedulerConfig struct {
	TriggerPeriod   string `json:"trigger_period,omitempty" validate:"omitempty,duration"`
	Timezone        string `json:"timezone,omitempty" validate:"omitempty,timezone"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty" validate:"omitempty,duration"`
}

// ExecutorConfig sizes the worker pool that runs task callbacks.
//
// queue_size 0 is a synchronous hand-off: a firing is rejected when no worker
// is free. Zero worker counts fall back to 10.
type ExecutorConfig struct {
	CoreWorkers int    `json:"core_workers,omitempty" validate:"gte=0,lte=4096"`
	MaxWorkers  int    `json:"max_workers,omitempty" validate:"gte=0,lte=4096"`
	IdleTimeout string `json:"idle_timeout,omitempty" validate:"omitempty,duration"`
	QueueSize   int    `json:"queue_size,omitempty" validate:"gte=0"`
}

// StorageConfig controls the run-history store.
//
// Example:
//
//	storage: { driver: sqlite, path: ./dyncron.db }
type StorageConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=sqlite sqlite3 none"`
	Path        string `json:"path" validate:"required_if=Driver sqlite,required_if=Driver sqlite3"`
	BusyTimeout string `json:"busy_timeout,omitempty" validate:"omitempty,duration"`
	// Retention drops history older than this (default 168h). "0s" keeps everything.
	Retention string `json:"retention,omitempty" validate:"omitempty,duration"`
}

// DiagnosticsConfig serves /healthz, /status and pprof. The addr defaults to
// 127.0.0.1:6060; a non-loopback addr needs token or allow_insecure.
type DiagnosticsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

// TaskConfig declares a task. The cron expression is not checked here; the
// scheduler reports a bad one on every reconciliation pass.
//
// A task does one of: run Command through "sh -c", or apply Action to a
// systemd Unit over D-Bus. With neither it only logs its firing.
type TaskConfig struct {
	ID      string `json:"id" validate:"required"`
	Cron    string `json:"cron"`
	Rule    string `json:"rule,omitempty"`
	Command string `json:"command,omitempty"`
	Unit    string `json:"unit,omitempty" validate:"excluded_with=Command"`
	Action  string `json:"action,omitempty" validate:"omitempty,oneof=start stop restart"` // default restart
	Timeout string `json:"timeout,omitempty" validate:"omitempty,duration"`
}
