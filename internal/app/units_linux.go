//go:build linux

package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"
)

func newUnitController() unitController { return &dbusUnits{} }

// dbusUnits talks to the system manager over D-Bus. The connection is opened
// on first use so hosts without systemd only fail when a unit task fires.
type dbusUnits struct {
	mu   sync.Mutex
	conn *dbus.Conn
}

func (u *dbusUnits) connLocked(ctx context.Context) (*dbus.Conn, error) {
	if u.conn != nil && u.conn.Connected() {
		return u.conn, nil
	}
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	u.conn = conn
	return conn, nil
}

func (u *dbusUnits) Control(ctx context.Context, unit, action string) error {
	u.mu.Lock()
	conn, err := u.connLocked(ctx)
	u.mu.Unlock()
	if err != nil {
		return err
	}

	name := unitName(unit)
	done := make(chan string, 1)
	switch action {
	case "start":
		_, err = conn.StartUnitContext(ctx, name, "replace", done)
	case "stop":
		_, err = conn.StopUnitContext(ctx, name, "replace", done)
	case "", "restart":
		action = "restart"
		_, err = conn.RestartUnitContext(ctx, name, "replace", done)
	default:
		return fmt.Errorf("unknown unit action %q", action)
	}
	if err != nil {
		return fmt.Errorf("failed to %s %s: %w", action, name, err)
	}
	select {
	case res := <-done:
		if res != "done" {
			return fmt.Errorf("%s %s: job %s", action, name, res)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s %s: %w", action, name, ctx.Err())
	}
}

func (u *dbusUnits) Close() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn != nil {
		u.conn.Close()
		u.conn = nil
	}
}
