package scheduler

import "sync"

// registry is an insertion-ordered set of TaskSpec keyed by (task id, cron).
type registry struct {
	mu      sync.Mutex
	entries []TaskSpec
	keys    map[specKey]struct{}
	seq     uint64
}

func newRegistry() *registry {
	return &registry{keys: map[specKey]struct{}{}}
}

// add reports whether spec was not already present. An equal spec keeps its
// original position.
func (r *registry) add(spec TaskSpec) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := spec.key()
	if _, ok := r.keys[k]; ok {
		return false
	}
	r.keys[k] = struct{}{}
	r.seq++
	spec.gen = r.seq
	r.entries = append(r.entries, spec)
	return true
}

// delete removes every entry for taskID and returns how many were removed.
func (r *registry) delete(taskID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.entries[:0]
	removed := 0
	for _, e := range r.entries {
		if e.TaskID == taskID {
			delete(r.keys, e.key())
			removed++
			continue
		}
		kept = append(kept, e)
	}
	clearTail(r.entries, len(kept))
	r.entries = kept
	return removed
}

func (r *registry) snapshot() []TaskSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TaskSpec, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// dedupe keeps only the last inserted entry per task id, in place, and
// returns the surviving entries in order plus the ones it dropped.
func (r *registry) dedupe() (kept, dropped []TaskSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()

	last := make(map[string]int, len(r.entries))
	for i, e := range r.entries {
		last[e.TaskID] = i
	}
	if len(last) == len(r.entries) {
		kept = make([]TaskSpec, len(r.entries))
		copy(kept, r.entries)
		return kept, nil
	}

	out := r.entries[:0]
	for i, e := range r.entries {
		if last[e.TaskID] != i {
			delete(r.keys, e.key())
			dropped = append(dropped, e)
			continue
		}
		out = append(out, e)
	}
	clearTail(r.entries, len(out))
	r.entries = out

	kept = make([]TaskSpec, len(out))
	copy(kept, out)
	return kept, dropped
}

// clearTail zeroes the slots past n so dropped callbacks can be collected.
func clearTail(s []TaskSpec, n int) {
	for i := n; i < len(s); i++ {
		s[i] = TaskSpec{}
	}
}
