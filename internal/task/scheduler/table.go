package scheduler

import (
	"sort"
	"sync"
	"time"

	"dyncron/internal/task/trigger"
)

// activeSchedule is a trigger that is currently armed for a task.
type activeSchedule struct {
	taskID      string
	cron        string
	rule        string
	gen         uint64
	handle      trigger.Handle
	installedAt time.Time
}

// table maps task id to its armed schedule. Only the reconciliation pass and
// Shutdown mutate it; Snapshot reads it.
type table struct {
	mu sync.RWMutex
	m  map[string]*activeSchedule
}

func newTable() *table {
	return &table{m: map[string]*activeSchedule{}}
}

func (t *table) get(taskID string) (*activeSchedule, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	a, ok := t.m[taskID]
	return a, ok
}

func (t *table) put(a *activeSchedule) {
	t.mu.Lock()
	t.m[a.taskID] = a
	t.mu.Unlock()
}

func (t *table) remove(taskID string) {
	t.mu.Lock()
	delete(t.m, taskID)
	t.mu.Unlock()
}

func (t *table) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.m)
}

// list returns the entries ordered by task id.
func (t *table) list() []*activeSchedule {
	t.mu.RLock()
	out := make([]*activeSchedule, 0, len(t.m))
	for _, a := range t.m {
		out = append(out, a)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].taskID < out[j].taskID })
	return out
}

// drain empties the table and returns what it held.
func (t *table) drain() []*activeSchedule {
	t.mu.Lock()
	out := make([]*activeSchedule, 0, len(t.m))
	for _, a := range t.m {
		out = append(out, a)
	}
	t.m = map[string]*activeSchedule{}
	t.mu.Unlock()
	return out
}
