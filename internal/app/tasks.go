package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"dyncron/internal/config"
	"dyncron/internal/task/scheduler"
	logx "dyncron/pkg/logx"
)

// maxOutputLog caps how much command output lands in one log line.
const maxOutputLog = 2048

// taskRunner builds scheduler callbacks for configured tasks.
type taskRunner struct {
	log   logx.Logger
	units unitController
	base  context.Context
}

// callback returns the function the scheduler calls when tc fires. Failures
// are logged; nothing propagates back to the scheduler.
func (r *taskRunner) callback(tc config.TaskConfig) scheduler.Callback {
	timeout, _ := tc.RunTimeout()
	log := r.log.With(logx.String("task_id", tc.ID))
	command := strings.TrimSpace(tc.Command)
	unit := strings.TrimSpace(tc.Unit)

	return func(taskID string) {
		ctx := r.base
		if ctx == nil {
			ctx = context.Background()
		}
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		start := time.Now()
		var err error
		switch {
		case command != "":
			var out string
			out, err = runCommand(ctx, command)
			if out != "" {
				log.Debug("command output", logx.String("output", out))
			}
		case unit != "":
			if r.units == nil {
				err = errors.New("systemd unit control unavailable")
			} else {
				err = r.units.Control(ctx, unit, tc.Action)
			}
		default:
			return
		}
		if err != nil {
			// Callbacks have no error return; panicking with an error marks
			// the run as failed without a stack trace.
			panic(fmt.Errorf("task %s: %w (after %s)", taskID, err, time.Since(start).Round(time.Millisecond)))
		}
		log.Debug("task succeeded", logx.Duration("took", time.Since(start)))
	}
}

func runCommand(ctx context.Context, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	// Children that inherit the output pipe must not hold Run open past a kill.
	cmd.WaitDelay = time.Second
	err := cmd.Run()
	out := strings.TrimSpace(buf.String())
	if len(out) > maxOutputLog {
		out = out[:maxOutputLog] + "..."
	}
	if err != nil {
		if ctx.Err() != nil {
			return out, fmt.Errorf("command timed out: %w", ctx.Err())
		}
		return out, err
	}
	return out, nil
}

// syncTasks brings the scheduler registry in line with the configured tasks.
// Changed tasks are re-added (the next pass keeps the newest entry) and
// removed ids are deleted.
func syncTasks(sched *scheduler.Service, r *taskRunner, prev, next []config.TaskConfig, log logx.Logger) {
	upserts, removed := config.DiffTasks(prev, next)
	for _, id := range removed {
		if err := sched.DeleteTask(id); err != nil {
			log.Warn("task delete failed", logx.String("task_id", id), logx.Err(err))
		}
	}
	for _, tc := range upserts {
		// Same id and cron as before means only the body changed; drop the old
		// entry so the new callback is registered.
		if old, ok := findTask(prev, tc.ID); ok && old.Cron == tc.Cron {
			_ = sched.DeleteTask(tc.ID)
		}
		if _, err := sched.AddTask(scheduler.TaskSpec{
			TaskID:   tc.ID,
			Cron:     tc.Cron,
			Rule:     tc.Rule,
			Callback: r.callback(tc),
		}); err != nil {
			log.Warn("task add failed", logx.String("task_id", tc.ID), logx.Err(err))
		}
	}
	if len(upserts) > 0 || len(removed) > 0 {
		log.Info("tasks synced", logx.Int("changed", len(upserts)), logx.Strings("removed", removed))
	}
}

func findTask(tasks []config.TaskConfig, id string) (config.TaskConfig, bool) {
	for _, t := range tasks {
		if t.ID == id {
			return t, true
		}
	}
	return config.TaskConfig{}, false
}
