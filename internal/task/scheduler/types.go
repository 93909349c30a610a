package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dyncron/internal/task/executor"
)

const DefaultTriggerPeriod = 5 * time.Second

var (
	// ErrInvalidArgument marks caller-input errors. Nothing else surfaces to callers.
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNilCallback     = fmt.Errorf("%w: callback is nil", ErrInvalidArgument)
	ErrEmptyTaskID     = fmt.Errorf("%w: task id is empty", ErrInvalidArgument)

	// ErrStopped is returned by AddTask and Start after Shutdown. Calling
	// them then is a caller error, so it matches ErrInvalidArgument too.
	ErrStopped = fmt.Errorf("%w: scheduler stopped", ErrInvalidArgument)
)

// Callback receives the id of the task that fired, so one function can serve
// several tasks.
type Callback func(taskID string)

// TaskSpec is one registration. Two specs are equal when TaskID and Cron match;
// Rule and Callback do not take part.
type TaskSpec struct {
	TaskID   string
	Cron     string
	Rule     string // free-text description, logged on every fire
	Callback Callback

	// gen is stamped by the registry on insert. A task deleted and added
	// again with the same cron gets a new gen, so its new callback is armed.
	gen uint64
}

// NewTaskSpec validates the parts AddTask checks eagerly. The cron
// expression is not validated here; a bad one is reported by every
// reconciliation pass until it is fixed or removed.
func NewTaskSpec(taskID, cronExpr, rule string, cb Callback) (TaskSpec, error) {
	spec := TaskSpec{TaskID: taskID, Cron: cronExpr, Rule: rule, Callback: cb}
	if err := spec.validate(); err != nil {
		return TaskSpec{}, err
	}
	return spec, nil
}

func (t TaskSpec) validate() error {
	if t.Callback == nil {
		return ErrNilCallback
	}
	if strings.TrimSpace(t.TaskID) == "" {
		return ErrEmptyTaskID
	}
	return nil
}

func (t TaskSpec) Equal(o TaskSpec) bool { return t.key() == o.key() }

type specKey struct {
	taskID string
	cron   string
}

func (t TaskSpec) key() specKey { return specKey{taskID: t.TaskID, cron: t.Cron} }

// Config is injected so tests can shrink the period.
type Config struct {
	// TriggerPeriod is the reconciliation period. A cron change takes effect
	// within one period plus the duration of a pass.
	TriggerPeriod time.Duration
}

func (c Config) withDefaults() Config {
	if c.TriggerPeriod <= 0 {
		c.TriggerPeriod = DefaultTriggerPeriod
	}
	return c
}

// Executor runs fired callbacks. *executor.Pool implements it.
type Executor interface {
	Submit(name string, fn func()) error
	Shutdown(ctx context.Context) error
	Snapshot() executor.Snapshot
}
