package scheduler

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"dyncron/internal/task/executor"
	"dyncron/internal/task/trigger"
	logx "dyncron/pkg/logx"
)

type fakeHandle struct {
	name      string
	expr      string
	fn        func(time.Time)
	tick      func()
	cancelled atomic.Bool
}

func (h *fakeHandle) Cancel()         { h.cancelled.Store(true) }
func (h *fakeHandle) Cancelled() bool { return h.cancelled.Load() }

// fire mimics a trigger: nothing happens once the handle is cancelled.
func (h *fakeHandle) fire() {
	if h.Cancelled() {
		return
	}
	if h.tick != nil {
		h.tick()
		return
	}
	h.fn(time.Now())
}

type fakeRegistrar struct {
	mu       sync.Mutex
	crons    []*fakeHandle
	periodic []*fakeHandle
	periods  []time.Duration
}

var _ trigger.Registrar = (*fakeRegistrar)(nil)

func (r *fakeRegistrar) SchedulePeriodic(name string, period time.Duration, fn func()) (trigger.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := &fakeHandle{name: name, tick: fn}
	r.periodic = append(r.periodic, h)
	r.periods = append(r.periods, period)
	return h, nil
}

func (r *fakeRegistrar) ScheduleCron(name, expr string, fn func(time.Time)) (trigger.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := &fakeHandle{name: name, expr: expr, fn: fn}
	r.crons = append(r.crons, h)
	return h, nil
}

// live returns the uncancelled cron handles by task id.
func (r *fakeRegistrar) live() map[string][]*fakeHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string][]*fakeHandle{}
	for _, h := range r.crons {
		if !h.Cancelled() {
			out[h.name] = append(out[h.name], h)
		}
	}
	return out
}

func (r *fakeRegistrar) all() []*fakeHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*fakeHandle, len(r.crons))
	copy(out, r.crons)
	return out
}

// fakeExecutor runs jobs inline, on goroutines, or rejects them.
type fakeExecutor struct {
	async  bool
	reject atomic.Bool

	wg       sync.WaitGroup
	stopped  atomic.Bool
	shutdown atomic.Int32
	accepted atomic.Int32
	refused  atomic.Int32
}

func (e *fakeExecutor) Submit(name string, fn func()) error {
	if e.stopped.Load() {
		return executor.ErrStopped
	}
	if e.reject.Load() {
		e.refused.Add(1)
		return executor.ErrRejected
	}
	e.accepted.Add(1)
	if !e.async {
		fn()
		return nil
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
	return nil
}

func (e *fakeExecutor) Shutdown(ctx context.Context) error {
	e.stopped.Store(true)
	e.shutdown.Add(1)
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *fakeExecutor) Snapshot() executor.Snapshot {
	return executor.Snapshot{Submitted: uint64(e.accepted.Load()), Rejected: uint64(e.refused.Load())}
}

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) count(substr string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Count(b.buf.String(), substr)
}

func bufferLogger() (*syncBuffer, logx.Logger) {
	buf := &syncBuffer{}
	return buf, logx.NewWriter(buf, logx.ParseLevel("debug"))
}

// recorder collects callback invocations.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) cb(taskID string) {
	r.mu.Lock()
	r.calls = append(r.calls, taskID)
	r.mu.Unlock()
}

func (r *recorder) count(taskID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c == taskID {
			n++
		}
	}
	return n
}
