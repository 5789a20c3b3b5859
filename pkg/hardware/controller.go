// Package hardware is the charging control surface of chargectl. A Controller
// talks to the SMC either directly (Local) or through the privileged helper
// (see package client); a Switcher decides which one is in use.
package hardware

import (
	"context"
	"errors"

	"github.com/chargectl/chargectl/pkg/smc"
)

var (
	// ErrHardwareUnavailable means neither access path could reach the SMC.
	ErrHardwareUnavailable = errors.New("hardware unavailable")
	// ErrRegisterWriteFailed means every present register variant rejected a write.
	ErrRegisterWriteFailed = errors.New("register write failed")
	// ErrIPCTimeout means the helper did not reply in time.
	ErrIPCTimeout = errors.New("helper call timed out")
	// ErrCapabilityMissing means no register variant exists for the requested
	// capability on this machine.
	ErrCapabilityMissing = errors.New("capability missing")
)

// Controller is the set of charging actions chargectl performs. Every method
// returns nil on success.
type Controller interface {
	Ping(ctx context.Context) error
	Version(ctx context.Context) (string, error)
	Capabilities(ctx context.Context) (Capabilities, error)

	ReadChargeLevel(ctx context.Context) (int, error)
	ReadTemperatures(ctx context.Context) ([]float64, error)

	// SetChargeLimit writes the charge ceiling register. Only 80 and 100 are
	// meaningful to the hardware; other values are mapped with smc.CeilingFor.
	SetChargeLimit(ctx context.Context, limit byte) error
	SetChargingEnabled(ctx context.Context, enabled bool) error
	SetChargeInhibit(ctx context.Context, inhibit bool) error
	SetForceCharging(ctx context.Context, force bool) error
	SetMagSafeLED(ctx context.Context, state smc.MagSafeLedState) error
}

// IsDisconnect reports whether err means the access path itself is gone, as
// opposed to the hardware refusing a request.
func IsDisconnect(err error) bool {
	return errors.Is(err, ErrIPCTimeout) || errors.Is(err, ErrHardwareUnavailable)
}
