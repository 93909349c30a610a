//go:build !linux

package app

import (
	"context"
	"errors"
)

var errUnitsUnsupported = errors.New("systemd unit control is only supported on linux")

func newUnitController() unitController { return noUnits{} }

type noUnits struct{}

func (noUnits) Control(context.Context, string, string) error { return errUnitsUnsupported }
func (noUnits) Close()                                        {}
