// Package executor runs task callbacks on a bounded set of worker goroutines,
// off the scheduler's trigger goroutine.
package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"dyncron/internal/eventbus"
	"dyncron/internal/runtime/supervisor"
	logx "dyncron/pkg/logx"
)

// Pool is a bounded worker pool. Submit never blocks.
type Pool struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	handoff chan job
	stopCh  chan struct{}
	sup     *supervisor.Supervisor

	mu       sync.Mutex
	workers  int
	stopped  bool
	workerID uint64

	busy      int32
	submitted uint64
	completed uint64
	rejected  uint64
	panics    uint64

	warnLimiter *rate.Limiter
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Pool {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pool{
		cfg:     cfg,
		log:     log,
		bus:     bus,
		handoff: make(chan job, cfg.QueueSize),
		stopCh:  make(chan struct{}),
		sup: supervisor.New(context.Background(),
			supervisor.WithLogger(log.With(logx.String("comp", "executor.sup"))),
		),
		// One rejection warning per second with a small burst keeps overload
		// visible without flooding the log under sustained saturation.
		warnLimiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

func (p *Pool) Config() Config { return p.cfg }

// Submit hands fn to a worker. It returns ErrRejected when every worker is
// busy and no queue slot is free, and ErrStopped after Shutdown.
//
// Placement follows the thread-pool-executor rule: below CoreWorkers always
// start a worker; otherwise offer to the hand-off; otherwise start a worker
// up to MaxWorkers; otherwise reject.
func (p *Pool) Submit(name string, fn func()) error {
	if fn == nil {
		return fmt.Errorf("executor: nil job")
	}
	j := job{name: strings.TrimSpace(name), run: fn}

	// The hand-off offer is non-blocking, so holding mu across it is safe and
	// keeps Submit ordered against Shutdown.
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	accepted := true
	if p.workers < p.cfg.CoreWorkers {
		p.spawnLocked(j)
	} else {
		select {
		case p.handoff <- j:
		default:
			if p.workers < p.cfg.MaxWorkers {
				p.spawnLocked(j)
			} else {
				accepted = false
			}
		}
	}
	p.mu.Unlock()

	if !accepted {
		p.onRejected(j)
		return ErrRejected
	}
	atomic.AddUint64(&p.submitted, 1)
	return nil
}

// spawnLocked starts a worker that runs first before reading the hand-off.
// Call with p.mu held.
func (p *Pool) spawnLocked(first job) {
	p.workers++
	p.workerID++
	name := fmt.Sprintf("worker.%d", p.workerID)
	p.sup.Go(name, func(ctx context.Context) error {
		p.worker(first)
		return nil
	})
}

// Shutdown stops accepting work and waits, bounded by ctx, for running and
// queued jobs to finish. Running callbacks are never interrupted.
func (p *Pool) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.stopCh)
	}
	p.mu.Unlock()

	start := time.Now()
	if err := p.sup.Wait(ctx); err != nil && ctx.Err() != nil {
		p.log.Warn("executor shutdown timed out", logx.Int("busy", int(atomic.LoadInt32(&p.busy))), logx.Err(err))
		return err
	}
	p.log.Info("executor stopped", logx.Duration("took", time.Since(start)), logx.Uint64("completed", atomic.LoadUint64(&p.completed)))
	return nil
}

func (p *Pool) Snapshot() Snapshot {
	p.mu.Lock()
	workers := p.workers
	stopped := p.stopped
	p.mu.Unlock()

	return Snapshot{
		CoreWorkers: p.cfg.CoreWorkers,
		MaxWorkers:  p.cfg.MaxWorkers,
		QueueSize:   p.cfg.QueueSize,
		QueueLen:    len(p.handoff),
		Workers:     workers,
		Busy:        int(atomic.LoadInt32(&p.busy)),
		Submitted:   atomic.LoadUint64(&p.submitted),
		Completed:   atomic.LoadUint64(&p.completed),
		Rejected:    atomic.LoadUint64(&p.rejected),
		Panics:      atomic.LoadUint64(&p.panics),
		Stopped:     stopped,
	}
}

func (p *Pool) onRejected(j job) {
	n := atomic.AddUint64(&p.rejected, 1)
	if p.bus != nil {
		p.bus.Publish(eventbus.Event{Type: eventbus.TopicTaskRejected, Data: eventbus.RunEvent{TaskID: j.name, Fired: time.Now(), Error: ErrRejected.Error()}})
	}
	if p.warnLimiter.Allow() {
		p.log.Warn("task rejected: executor saturated",
			logx.String("task", j.name),
			logx.Int("workers", p.cfg.MaxWorkers),
			logx.Int("queue_size", p.cfg.QueueSize),
			logx.Uint64("rejected_total", n),
		)
	}
}
