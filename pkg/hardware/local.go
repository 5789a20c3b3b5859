package hardware

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/chargectl/chargectl/pkg/smc"
)

var _ Controller = &Local{}

// Local talks to the SMC directly. Reads work for any user; writes need root
// and report ErrRegisterWriteFailed otherwise.
type Local struct {
	mu      sync.Mutex
	rw      smc.ReadWriter
	caps    Capabilities
	version string
}

// NewLocal probes rw and returns a Local bound to it. A nil rw yields a
// controller on which every call fails with ErrHardwareUnavailable.
func NewLocal(rw smc.ReadWriter, version string) *Local {
	l := &Local{
		rw:      rw,
		version: version,
	}
	if rw != nil {
		l.caps = Detect(rw)
	}
	return l
}

// NewLocalWithCapabilities skips detection and uses caps as-is.
func NewLocalWithCapabilities(rw smc.ReadWriter, caps Capabilities, version string) *Local {
	return &Local{
		rw:      rw,
		caps:    caps,
		version: version,
	}
}

func (l *Local) Ping(_ context.Context) error {
	if l.rw == nil {
		return ErrHardwareUnavailable
	}
	return nil
}

func (l *Local) Version(_ context.Context) (string, error) {
	return l.version, nil
}

func (l *Local) Capabilities(_ context.Context) (Capabilities, error) {
	if l.rw == nil {
		return Capabilities{}, ErrHardwareUnavailable
	}
	return l.caps, nil
}

// ReadChargeLevel reads the battery charge, trying BUIC first and then BCLM.
func (l *Local) ReadChargeLevel(_ context.Context) (int, error) {
	if l.rw == nil {
		return 0, ErrHardwareUnavailable
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	present := map[string]bool{
		smc.BatteryChargeKey: l.caps.ChargeLevel,
		smc.ChargeCeilingKey: l.caps.ChargeCeiling,
	}

	var lastErr error = ErrCapabilityMissing
	for _, key := range smc.ChargeLevelKeys {
		if !present[key] {
			continue
		}
		v, err := l.rw.Read(key)
		if err != nil {
			lastErr = fmt.Errorf("%w: read %s: %v", ErrHardwareUnavailable, key, err)
			continue
		}
		level, err := smc.DecodeChargeLevel(v)
		if err != nil {
			lastErr = fmt.Errorf("%w: decode %s: %v", ErrHardwareUnavailable, key, err)
			continue
		}
		return level, nil
	}

	return 0, lastErr
}

// ReadTemperatures returns the decoded value of every present sensor that could
// be read. Invalid values are returned as-is; filtering is up to the caller.
func (l *Local) ReadTemperatures(_ context.Context) ([]float64, error) {
	if l.rw == nil {
		return nil, ErrHardwareUnavailable
	}

	regs := l.caps.TemperatureRegisters()
	if len(regs) == 0 {
		return nil, ErrCapabilityMissing
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	temps := make([]float64, 0, len(regs))
	for _, r := range regs {
		v, err := l.rw.Read(r.Key)
		if err != nil {
			logrus.WithError(err).WithField("key", r.Key).Debug("failed to read temperature")
			continue
		}
		t, err := smc.DecodeSP78(v)
		if err != nil {
			logrus.WithError(err).WithField("key", r.Key).Debug("failed to decode temperature")
			continue
		}
		temps = append(temps, t)
	}

	if len(temps) == 0 {
		return nil, fmt.Errorf("%w: no temperature sensor could be read", ErrHardwareUnavailable)
	}

	return temps, nil
}

func (l *Local) SetChargeLimit(_ context.Context, limit byte) error {
	if !l.caps.ChargeCeiling {
		return l.missing()
	}

	v := smc.CeilingFor(int(limit))
	return l.writeAll([]smc.Register{smc.ChargeCeilingReg}, func(r smc.Register) []byte {
		return r.Encode(uint32(v))
	})
}

func (l *Local) SetChargingEnabled(_ context.Context, enabled bool) error {
	return l.writeAll(l.caps.ChargingRegisters(), func(r smc.Register) []byte {
		return smc.ChargingPayload(r, enabled)
	})
}

func (l *Local) SetChargeInhibit(_ context.Context, inhibit bool) error {
	return l.writeAll(l.caps.InhibitRegisters(), func(r smc.Register) []byte {
		return smc.InhibitPayload(r, inhibit)
	})
}

func (l *Local) SetForceCharging(_ context.Context, force bool) error {
	if !l.caps.ForceCharging {
		return l.missing()
	}

	var v uint32
	if force {
		v = 1
	}
	return l.writeAll([]smc.Register{smc.ForceChargingReg}, func(r smc.Register) []byte {
		return r.Encode(v)
	})
}

func (l *Local) SetMagSafeLED(_ context.Context, state smc.MagSafeLedState) error {
	if !l.caps.MagSafeLED {
		return l.missing()
	}

	return l.writeAll([]smc.Register{smc.MagSafeLedRegister}, func(r smc.Register) []byte {
		return r.Encode(uint32(state))
	})
}

func (l *Local) missing() error {
	if l.rw == nil {
		return ErrHardwareUnavailable
	}
	return ErrCapabilityMissing
}

// writeAll writes to every register in regs. It succeeds if any write
// succeeds; every register is attempted regardless.
func (l *Local) writeAll(regs []smc.Register, payload func(smc.Register) []byte) error {
	if l.rw == nil {
		return ErrHardwareUnavailable
	}
	if len(regs) == 0 {
		return ErrCapabilityMissing
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	for _, r := range regs {
		v := payload(r)
		if err := l.rw.Write(r.Key, v); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"key": r.Key,
				"val": v,
			}).Debug("register write rejected")
			errs = append(errs, fmt.Errorf("%s: %w", r.Key, err))
		}
	}

	if len(errs) == len(regs) {
		return fmt.Errorf("%w: %w", ErrRegisterWriteFailed, errors.Join(errs...))
	}

	return nil
}
