package app

import (
	"context"
	"strings"
)

// unitController applies start/stop/restart to a systemd unit.
type unitController interface {
	Control(ctx context.Context, unit, action string) error
	Close()
}

// unitName appends ".service" when no unit type suffix is given.
func unitName(unit string) string {
	unit = strings.TrimSpace(unit)
	for _, suffix := range []string{".service", ".timer", ".socket", ".target", ".mount", ".path"} {
		if strings.HasSuffix(unit, suffix) {
			return unit
		}
	}
	return unit + ".service"
}
