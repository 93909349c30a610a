package scheduler

import (
	"errors"
	"time"

	"dyncron/internal/task/executor"
	logx "dyncron/pkg/logx"
)

const submitWarnThrottle = 5 * time.Second

// reportSubmitError logs a dropped firing. The schedule stays armed.
func (s *Service) reportSubmitError(taskID string, err error) {
	if err == nil {
		return
	}
	// Shutdown races with late firings; not worth a warning.
	if errors.Is(err, executor.ErrStopped) {
		s.log.Debug("firing dropped: executor stopped", logx.String("task_id", taskID))
		return
	}

	now := time.Now()
	s.subMu.Lock()
	last := s.lastSubWarn[taskID]
	if !last.IsZero() && now.Sub(last) < submitWarnThrottle {
		s.subMu.Unlock()
		return
	}
	s.lastSubWarn[taskID] = now
	s.subMu.Unlock()

	s.log.Warn("firing dropped", logx.String("task_id", taskID), logx.Err(err))
}

func (s *Service) forgetSubmitWarn(taskID string) {
	s.subMu.Lock()
	delete(s.lastSubWarn, taskID)
	s.subMu.Unlock()
}
