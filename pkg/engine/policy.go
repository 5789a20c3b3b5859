package engine

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chargectl/chargectl/pkg/calibration"
	"github.com/chargectl/chargectl/pkg/events"
	"github.com/chargectl/chargectl/pkg/hardware"
	"github.com/chargectl/chargectl/pkg/smc"
)

// PolicySnapshot is the state one evaluation works on. It is captured under
// the engine lock and never changes afterwards.
type PolicySnapshot struct {
	Level        int
	PluggedIn    bool
	FullyCharged bool
	HasReading   bool

	Mode            Mode
	EffectiveLimit  int
	ConfiguredLimit int
	SailingLow      int
	SailingHigh     int
	HeatProtection  bool
	HeatThreshold   float64
	PreventSleep    bool
	ControlLED      bool

	At time.Time
}

// Decision is what an evaluation did to the charger.
type Decision string

const (
	DecisionSkipped   Decision = "skipped"
	DecisionCharge    Decision = "charge"
	DecisionHold      Decision = "hold"
	DecisionIdle      Decision = "idle"
	DecisionDischarge Decision = "discharge"
	DecisionOverheat  Decision = "overheat"
)

// Evaluation is the outcome of one evaluation.
type Evaluation struct {
	At       time.Time `json:"at"`
	Mode     Mode      `json:"mode"`
	Level    int       `json:"level"`
	Limit    int       `json:"limit"`
	Decision Decision  `json:"decision"`
	Error    string    `json:"error,omitempty"`
}

// Snapshot captures the current policy state.
func (e *Engine) Snapshot() PolicySnapshot {
	p := e.conf.Policy()

	e.mu.Lock()
	defer e.mu.Unlock()

	return PolicySnapshot{
		Level:           e.battery.Level,
		PluggedIn:       e.battery.PluggedIn,
		FullyCharged:    e.battery.FullyCharged,
		HasReading:      e.hasReading,
		Mode:            e.mode,
		EffectiveLimit:  e.effectiveLimit,
		ConfiguredLimit: p.Limit,
		SailingLow:      p.SailingLow,
		SailingHigh:     p.SailingHigh,
		HeatProtection:  p.HeatProtection,
		HeatThreshold:   p.HeatThreshold,
		PreventSleep:    p.PreventSleepWhileCharging,
		ControlLED:      p.ControlMagSafeLED,
		At:              e.now(),
	}
}

// evaluate runs on the worker.
func (e *Engine) evaluate(ctx context.Context, snap PolicySnapshot) Evaluation {
	ev := Evaluation{
		At:    snap.At,
		Mode:  snap.Mode,
		Level: snap.Level,
		Limit: snap.EffectiveLimit,
	}

	if e.resync.Swap(false) {
		e.ceiling = 0
	}

	if !snap.HasReading {
		e.log.WithField("mode", snap.Mode).Trace("no battery reading yet, skipping evaluation")
		ev.Decision = DecisionSkipped
		return ev
	}

	e.recorder.AddRecord(snap.At)

	var err error
	if snap.HeatProtection && e.thermal.IsOverheating(ctx, snap.HeatThreshold) {
		temp, _ := e.thermal.Last()
		if snap.Mode != ModeHeatProtection {
			e.log.WithFields(logrus.Fields{
				"temperature": temp,
				"threshold":   snap.HeatThreshold,
			}).Warn("battery too hot, charging disabled")
			e.setMode(ModeHeatProtection, "overheating")
			ev.Mode = ModeHeatProtection
		}
		ev.Decision = DecisionOverheat
		err = e.overheat(ctx)
	} else {
		ev.Decision, err = e.dispatch(ctx, snap)
	}

	if snap.ControlLED {
		e.refreshLED(ctx, snap.Level, ev.Decision == DecisionCharge)
	}

	if err != nil {
		ev.Error = err.Error()
		e.failed(string(ev.Decision), err)
	}

	e.mu.Lock()
	e.last = &ev
	e.mu.Unlock()

	e.printStatus(ev)

	return ev
}

func (e *Engine) dispatch(ctx context.Context, snap PolicySnapshot) (Decision, error) {
	switch snap.Mode {
	case ModeNormal:
		if snap.Level >= snap.EffectiveLimit {
			return DecisionHold, errors.Join(
				e.setCeiling(ctx, smc.CeilingFor(snap.EffectiveLimit)),
				e.setCharging(ctx, false),
				e.setInhibit(ctx, true),
				e.allowSleep(),
			)
		}
		return DecisionCharge, errors.Join(
			e.setCeiling(ctx, smc.CeilingFor(snap.EffectiveLimit)),
			e.setInhibit(ctx, false),
			e.setCharging(ctx, true),
			e.chargingSleep(snap),
		)

	case ModeTopUp:
		if snap.Level >= 100 || snap.FullyCharged {
			e.log.WithField("level", snap.Level).Info("top up complete")
			err := e.setCeiling(ctx, smc.CeilingFor(snap.ConfiguredLimit))
			e.setMode(ModeNormal, "top up complete")
			return DecisionHold, errors.Join(err, e.allowSleep())
		}
		e.ceiling = 0
		return DecisionCharge, errors.Join(
			e.setCeiling(ctx, smc.CeilingHigh),
			e.setInhibit(ctx, false),
			e.setCharging(ctx, true),
			e.chargingSleep(snap),
		)

	case ModeSailing:
		switch {
		case snap.Level < snap.SailingLow:
			return DecisionCharge, errors.Join(
				e.setInhibit(ctx, false),
				e.setCharging(ctx, true),
				e.chargingSleep(snap),
			)
		case snap.Level > snap.SailingHigh:
			return DecisionDischarge, errors.Join(e.forceDischarge(ctx), e.allowSleep())
		default:
			return DecisionIdle, errors.Join(
				e.setCharging(ctx, false),
				e.setInhibit(ctx, false),
				e.allowSleep(),
			)
		}

	case ModeDischarge:
		return DecisionDischarge, errors.Join(e.forceDischarge(ctx), e.allowSleep())

	case ModeCalibration:
		return e.tickCalibration(ctx, snap)

	case ModeHeatProtection:
		return DecisionOverheat, e.overheat(ctx)
	}

	return DecisionSkipped, nil
}

func (e *Engine) tickCalibration(ctx context.Context, snap PolicySnapshot) (Decision, error) {
	before := e.calib.State()
	res, err := e.calib.Tick(ctx, actuator{e}, snap.Level, snap.FullyCharged, snap.ConfiguredLimit)
	after := e.calib.State()

	if before.Phase != after.Phase {
		e.hub.Publish(events.CalibrationPhase, events.CalibrationPhaseEvent{
			From: string(before.Phase),
			To:   string(after.Phase),
			Ts:   e.now().Unix(),
		})
	}

	switch res {
	case calibration.ResultIdle:
		e.setMode(ModeNormal, "no calibration running")
		return DecisionSkipped, err
	case calibration.ResultCompleted:
		e.conf.SetLastCalibration(after.CompletedAt)
		e.setMode(ModeNormal, "calibration complete")
		return DecisionHold, errors.Join(err, e.allowSleep())
	}

	if after.Phase == calibration.PhaseDischarging {
		return DecisionDischarge, errors.Join(err, e.allowSleep())
	}
	return DecisionCharge, errors.Join(err, e.chargingSleep(snap))
}

// overheat keeps charging off. A calibration cycle cannot continue without
// charging, so it is cancelled.
func (e *Engine) overheat(ctx context.Context) error {
	var cancelErr error
	if e.calib.State().Active() {
		e.log.Warn("heat protection active, cancelling calibration")
		before := e.calib.State()
		cancelErr = e.calib.Cancel(ctx, actuator{e})
		if errors.Is(cancelErr, calibration.ErrNotRunning) {
			cancelErr = nil
		}
		e.hub.Publish(events.CalibrationPhase, events.CalibrationPhaseEvent{
			From: string(before.Phase),
			To:   string(e.calib.State().Phase),
			Ts:   e.now().Unix(),
		})
	}
	return errors.Join(cancelErr, e.setCharging(ctx, false), e.allowSleep())
}

func (e *Engine) forceDischarge(ctx context.Context) error {
	return errors.Join(
		e.setCharging(ctx, false),
		e.setInhibit(ctx, true),
	)
}

// chargingSleep takes the sleep assertion while charging if configured, and
// releases it otherwise.
func (e *Engine) chargingSleep(snap PolicySnapshot) error {
	if snap.PreventSleep {
		return e.sleep.PreventSleep("chargectl is charging the battery")
	}
	return e.allowSleep()
}

func (e *Engine) allowSleep() error {
	return e.sleep.AllowSleep()
}

// ignoreMissing drops ErrCapabilityMissing, which only means the feature does
// not exist on this machine.
func (e *Engine) ignoreMissing(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, hardware.ErrCapabilityMissing) && !errors.Is(err, hardware.ErrRegisterWriteFailed) {
		e.log.WithField("op", op).Debug("capability missing, skipped")
		return nil
	}
	return err
}

func (e *Engine) setCharging(ctx context.Context, enabled bool) error {
	e.log.WithField("enabled", enabled).Trace("SetChargingEnabled")
	return e.ignoreMissing("SetChargingEnabled", e.ctrl.SetChargingEnabled(ctx, enabled))
}

func (e *Engine) setInhibit(ctx context.Context, inhibit bool) error {
	e.log.WithField("inhibit", inhibit).Trace("SetChargeInhibit")
	return e.ignoreMissing("SetChargeInhibit", e.ctrl.SetChargeInhibit(ctx, inhibit))
}

// setCeiling writes the ceiling register when it differs from the last value
// written.
func (e *Engine) setCeiling(ctx context.Context, ceiling byte) error {
	if e.ceiling == ceiling {
		return nil
	}
	e.log.WithField("ceiling", ceiling).Trace("SetChargeLimit")
	err := e.ctrl.SetChargeLimit(ctx, ceiling)
	if err == nil {
		e.ceiling = ceiling
	}
	return e.ignoreMissing("SetChargeLimit", err)
}

// refreshLED sets the MagSafe LED from the charging state. A level < 0 hands
// the LED back to the system. Failures are only logged.
func (e *Engine) refreshLED(ctx context.Context, level int, charging bool) {
	caps, ok := e.capabilities(ctx)
	if !ok || !caps.MagSafeLED {
		return
	}

	state := smc.LEDSystem
	if level >= 0 {
		state = smc.LEDFor(charging && level < 100)
	}

	if err := e.ctrl.SetMagSafeLED(ctx, state); err != nil {
		e.log.WithError(err).WithField("state", state).Debug("failed to set MagSafe LED")
	}
}

// capabilities returns the controller capabilities, asking for them until the
// first success.
func (e *Engine) capabilities(ctx context.Context) (hardware.Capabilities, bool) {
	e.mu.Lock()
	caps := e.caps
	e.mu.Unlock()
	if caps != nil {
		return *caps, true
	}

	c, err := e.ctrl.Capabilities(ctx)
	if err != nil {
		e.log.WithError(err).Debug("failed to get capabilities")
		return hardware.Capabilities{}, false
	}

	e.mu.Lock()
	e.caps = &c
	e.mu.Unlock()
	return c, true
}

// printStatus logs the evaluation at debug level when it differs from the
// last one, and at trace level otherwise.
func (e *Engine) printStatus(ev Evaluation) {
	fields := logrus.Fields{
		"mode":     ev.Mode,
		"level":    ev.Level,
		"limit":    ev.Limit,
		"decision": ev.Decision,
	}

	cmp := ev
	cmp.At = time.Time{}
	defer func() { e.lastPrintAt = ev.At }()

	if ev.At.Sub(e.lastPrintAt) < e.interval+time.Second && cmp == e.lastPrinted {
		e.log.WithFields(fields).Trace("evaluation")
		return
	}

	e.log.WithFields(fields).Debug("evaluation")
	e.lastPrinted = cmp
}

// actuator is what the calibration cycle drives. It goes through the engine
// so missing capabilities are skipped and the ceiling cache stays right.
type actuator struct {
	e *Engine
}

func (a actuator) SetChargeLimit(ctx context.Context, limit byte) error {
	a.e.ceiling = 0
	return a.e.setCeiling(ctx, limit)
}

func (a actuator) SetChargingEnabled(ctx context.Context, enabled bool) error {
	return a.e.setCharging(ctx, enabled)
}

func (a actuator) SetChargeInhibit(ctx context.Context, inhibit bool) error {
	return a.e.setInhibit(ctx, inhibit)
}
