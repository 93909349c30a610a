// Package trigger arms periodic and cron-driven callbacks and hands back
// cancellation handles.
//
// Cancellation never interrupts a callback that is already running; it only
// suppresses future firings.
package trigger

import (
	"errors"
	"time"
)

var ErrStopped = errors.New("trigger service stopped")

// Handle cancels one armed trigger.
type Handle interface {
	// Cancel suppresses future firings. It is idempotent and returns once no
	// further firing can start.
	Cancel()
	Cancelled() bool
}

// Registrar is the capability the scheduler needs from its host.
type Registrar interface {
	// SchedulePeriodic runs fn every period, starting immediately. Runs of the
	// same periodic trigger never overlap.
	SchedulePeriodic(name string, period time.Duration, fn func()) (Handle, error)
	// ScheduleCron runs fn at every fire time of expr. fn receives the fire time.
	ScheduleCron(name, expr string, fn func(fired time.Time)) (Handle, error)
}
