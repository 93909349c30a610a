package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (pure Go driver)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration
	// Retention drops runs older than this on periodic prunes. 0 keeps everything.
	Retention time.Duration
}

// Run statuses.
const (
	StatusOK       = "ok"
	StatusFailed   = "failed"
	StatusRejected = "rejected"
)

// Run is one firing of a task.
type Run struct {
	FireID   string
	TaskID   string
	Cron     string
	Rule     string
	Fired    time.Time
	Duration time.Duration
	Status   string
	Error    string
}
