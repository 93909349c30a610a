package app

import (
	"github.com/coreos/go-systemd/v22/daemon"

	"dyncron/internal/task/trigger"
	logx "dyncron/pkg/logx"
)

// sdNotify reports state to systemd. Outside a Type=notify unit it is a no-op.
func sdNotify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("systemd notified", logx.String("state", state))
	}
}

// armWatchdog pings the systemd watchdog at half its interval when
// WatchdogSec is configured for the unit.
func armWatchdog(reg trigger.Registrar, log logx.Logger) (trigger.Handle, error) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return nil, err
	}
	h, err := reg.SchedulePeriodic("systemd.watchdog", interval/2, func() {
		_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
	})
	if err != nil {
		return nil, err
	}
	log.Info("systemd watchdog armed", logx.Duration("interval", interval))
	return h, nil
}
