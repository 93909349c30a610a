package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Topics published by the scheduler and executor.
const (
	TopicTaskFired      = "task.fired"
	TopicTaskFinished   = "task.finished"
	TopicTaskRejected   = "task.rejected"
	TopicScheduleAdded  = "schedule.installed"
	TopicScheduleRetire = "schedule.retired"
	TopicScheduleBad    = "schedule.invalid"
)

// Event is an in-memory signal used to decouple components.
//
// Publish never blocks; subscribers use buffered channels and a slow
// subscriber drops events.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// RunEvent is the payload of task.fired, task.finished and task.rejected.
type RunEvent struct {
	FireID   string        `json:"fire_id,omitempty"`
	TaskID   string        `json:"task_id"`
	Cron     string        `json:"cron,omitempty"`
	Rule     string        `json:"rule,omitempty"`
	Fired    time.Time     `json:"fired"`
	Duration time.Duration `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// ScheduleEvent is the payload of schedule.* events.
type ScheduleEvent struct {
	TaskID string `json:"task_id"`
	Cron   string `json:"cron"`
	Rule   string `json:"rule,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Deliver under the read lock: unsubscribe takes the write lock before
	// closing, so a send never races a close.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}
