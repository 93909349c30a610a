package executor

import (
	"errors"
	"time"
)

var (
	ErrRejected = errors.New("executor saturated: submission rejected")
	ErrStopped  = errors.New("executor stopped")
)

const (
	DefaultCoreWorkers = 10
	DefaultMaxWorkers  = 10
	DefaultIdleTimeout = 60 * time.Second
)

// Config controls the executor pool.
//
// QueueSize 0 is a synchronous hand-off: a submission is accepted only if a
// worker can take it right away (an idle one, or a newly spawned one below
// MaxWorkers). Anything else is rejected, never queued.
type Config struct {
	CoreWorkers int
	MaxWorkers  int
	IdleTimeout time.Duration
	QueueSize   int
}

func (c Config) withDefaults() Config {
	if c.CoreWorkers <= 0 {
		c.CoreWorkers = DefaultCoreWorkers
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = DefaultMaxWorkers
	}
	if c.MaxWorkers < c.CoreWorkers {
		c.MaxWorkers = c.CoreWorkers
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.QueueSize < 0 {
		c.QueueSize = 0
	}
	return c
}

type job struct {
	name string
	run  func()
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	CoreWorkers int
	MaxWorkers  int
	QueueSize   int
	QueueLen    int

	Workers int
	Busy    int

	Submitted uint64
	Completed uint64
	Rejected  uint64
	Panics    uint64

	Stopped bool
}
