package executor

import (
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	logx "dyncron/pkg/logx"
)

func (p *Pool) worker(first job) {
	reaped := false
	defer func() {
		if reaped {
			return
		}
		p.mu.Lock()
		p.workers--
		p.mu.Unlock()
	}()

	p.exec(first)

	idle := time.NewTimer(p.cfg.IdleTimeout)
	defer idle.Stop()
	for {
		select {
		case j := <-p.handoff:
			p.exec(j)
			resetTimer(idle, p.cfg.IdleTimeout)
		case <-idle.C:
			// Only workers above core are reaped; the count is decided under mu
			// so two idle workers can't both exit below core.
			p.mu.Lock()
			if p.workers > p.cfg.CoreWorkers {
				p.workers--
				reaped = true
			}
			p.mu.Unlock()
			if reaped {
				p.log.Debug("idle worker exited", logx.Duration("idle", p.cfg.IdleTimeout))
				return
			}
			idle.Reset(p.cfg.IdleTimeout)
		case <-p.stopCh:
			p.drain()
			return
		}
	}
}

// drain runs whatever is still buffered in the queue. Submit refuses new work
// once stopCh is closed, so the buffer only shrinks here.
func (p *Pool) drain() {
	for {
		select {
		case j := <-p.handoff:
			p.exec(j)
		default:
			return
		}
	}
}

// exec runs a single job. A panic is converted into a log line so one bad
// callback can't kill a worker.
func (p *Pool) exec(j job) {
	atomic.AddInt32(&p.busy, 1)
	defer atomic.AddInt32(&p.busy, -1)
	defer atomic.AddUint64(&p.completed, 1)
	defer func() {
		if r := recover(); r != nil {
			atomic.AddUint64(&p.panics, 1)
			p.log.Error("task.panic", logx.String("task", j.name), logx.Any("panic", fmt.Sprint(r)), logx.Stack(string(debug.Stack())))
		}
	}()
	j.run()
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
