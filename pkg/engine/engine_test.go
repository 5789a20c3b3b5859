package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chargectl/chargectl/pkg/calibration"
	"github.com/chargectl/chargectl/pkg/config"
	"github.com/chargectl/chargectl/pkg/events"
	"github.com/chargectl/chargectl/pkg/hardware"
	"github.com/chargectl/chargectl/pkg/powerassert"
	"github.com/chargectl/chargectl/pkg/powerinfo"
	"github.com/chargectl/chargectl/pkg/schedule"
	"github.com/chargectl/chargectl/pkg/smc"
)

type fakeController struct {
	mu sync.Mutex

	caps     hardware.Capabilities
	charging bool
	inhibit  bool
	ceiling  byte
	led      smc.MagSafeLedState
	temps    []float64

	ceilingWrites int
	inhibitErr    error
}

func newFakeController() *fakeController {
	return &fakeController{
		caps: hardware.Capabilities{
			ChargingCombined: true,
			InhibitModern:    true,
			ChargeCeiling:    true,
		},
		charging: true,
		ceiling:  smc.CeilingHigh,
	}
}

func (f *fakeController) Ping(context.Context) error { return nil }

func (f *fakeController) Version(context.Context) (string, error) { return "test", nil }

func (f *fakeController) Capabilities(context.Context) (hardware.Capabilities, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.caps, nil
}

func (f *fakeController) ReadChargeLevel(context.Context) (int, error) { return 0, nil }

func (f *fakeController) ReadTemperatures(context.Context) ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.temps, nil
}

func (f *fakeController) SetChargeLimit(_ context.Context, limit byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ceiling = limit
	f.ceilingWrites++
	return nil
}

func (f *fakeController) SetChargingEnabled(_ context.Context, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.charging = enabled
	return nil
}

func (f *fakeController) SetChargeInhibit(_ context.Context, inhibit bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inhibitErr != nil {
		return f.inhibitErr
	}
	f.inhibit = inhibit
	return nil
}

func (f *fakeController) SetForceCharging(context.Context, bool) error { return nil }

func (f *fakeController) SetMagSafeLED(_ context.Context, state smc.MagSafeLedState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.caps.MagSafeLED {
		return hardware.ErrCapabilityMissing
	}
	f.led = state
	return nil
}

func (f *fakeController) state() (charging, inhibit bool, ceiling byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.charging, f.inhibit, f.ceiling
}

func (f *fakeController) setTemps(t ...float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.temps = t
}

type fakeAsserter struct{}

type fakeAssertion struct{}

func (fakeAsserter) Acquire(string) (powerassert.Assertion, error) { return fakeAssertion{}, nil }

func (fakeAssertion) Release() error { return nil }

type fixture struct {
	e    *Engine
	ctrl *fakeController
	conf *config.File
	hub  *events.EventHub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ctrl := newFakeController()
	conf := config.NewFileFromConfig(nil, filepath.Join(t.TempDir(), "chargectl.json"))
	calib, err := calibration.New(nil)
	require.NoError(t, err)
	hub := events.NewEventHub()
	t.Cleanup(hub.Close)

	e, err := New(Options{
		Controller:  ctrl,
		Config:      conf,
		Calibration: calib,
		Sleep:       powerassert.NewGuard(fakeAsserter{}),
		Events:      hub,
		Interval:    time.Hour,
	})
	require.NoError(t, err)

	return &fixture{e: e, ctrl: ctrl, conf: conf, hub: hub}
}

// eval runs one evaluation inline, without the worker.
func (f *fixture) eval(level int) Evaluation {
	f.e.UpdateBattery(powerinfo.Reading{Level: level, PluggedIn: true})
	return f.e.evaluate(context.Background(), f.e.Snapshot())
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	_, err = New(Options{Controller: newFakeController()})
	assert.Error(t, err)
}

func TestEvaluate_SkippedWithoutReading(t *testing.T) {
	f := newFixture(t)

	ev := f.e.evaluate(context.Background(), f.e.Snapshot())
	assert.Equal(t, DecisionSkipped, ev.Decision)

	charging, inhibit, _ := f.ctrl.state()
	assert.True(t, charging)
	assert.False(t, inhibit)
}

func TestNormal_AboveLimitHolds(t *testing.T) {
	f := newFixture(t)

	ev := f.eval(85)
	assert.Equal(t, DecisionHold, ev.Decision)
	assert.Empty(t, ev.Error)

	charging, inhibit, ceiling := f.ctrl.state()
	assert.False(t, charging)
	assert.True(t, inhibit)
	assert.Equal(t, smc.CeilingLow, ceiling)
}

func TestNormal_BelowLimitCharges(t *testing.T) {
	f := newFixture(t)
	f.conf.SetPreventSleepWhileCharging(true)

	f.eval(85)
	ev := f.eval(50)
	assert.Equal(t, DecisionCharge, ev.Decision)

	charging, inhibit, _ := f.ctrl.state()
	assert.True(t, charging)
	assert.False(t, inhibit)
	assert.True(t, f.e.sleep.Held())

	f.eval(80)
	assert.False(t, f.e.sleep.Held())
}

func TestNormal_CeilingWrittenOnlyOnChange(t *testing.T) {
	f := newFixture(t)

	f.eval(50)
	f.eval(60)
	f.eval(85)
	assert.Equal(t, 1, f.ctrl.ceilingWrites)

	require.NoError(t, f.e.SetChargeLimit(90))
	f.eval(85)
	_, _, ceiling := f.ctrl.state()
	assert.Equal(t, smc.CeilingHigh, ceiling)
	assert.Equal(t, 2, f.ctrl.ceilingWrites)
}

func TestSailing(t *testing.T) {
	tests := []struct {
		level        int
		wantDecision Decision
		wantCharging bool
		wantInhibit  bool
	}{
		{level: 60, wantDecision: DecisionCharge, wantCharging: true, wantInhibit: false},
		{level: 65, wantDecision: DecisionIdle, wantCharging: false, wantInhibit: false},
		{level: 72, wantDecision: DecisionIdle, wantCharging: false, wantInhibit: false},
		{level: 80, wantDecision: DecisionIdle, wantCharging: false, wantInhibit: false},
		{level: 90, wantDecision: DecisionDischarge, wantCharging: false, wantInhibit: true},
	}

	for _, tt := range tests {
		f := newFixture(t)
		f.conf.SetSailing(65, 80)
		f.e.setMode(ModeSailing, "test")

		ev := f.eval(tt.level)
		assert.Equal(t, tt.wantDecision, ev.Decision, "level %d", tt.level)

		charging, inhibit, _ := f.ctrl.state()
		assert.Equal(t, tt.wantCharging, charging, "level %d", tt.level)
		assert.Equal(t, tt.wantInhibit, inhibit, "level %d", tt.level)
	}
}

func TestDischarge(t *testing.T) {
	f := newFixture(t)
	f.e.setMode(ModeDischarge, "test")

	f.eval(30)
	charging, inhibit, _ := f.ctrl.state()
	assert.False(t, charging)
	assert.True(t, inhibit)
}

func TestTopUp(t *testing.T) {
	f := newFixture(t)
	f.conf.SetLimit(70)
	f.e.setMode(ModeTopUp, "test")

	ev := f.eval(90)
	assert.Equal(t, DecisionCharge, ev.Decision)
	charging, inhibit, ceiling := f.ctrl.state()
	assert.True(t, charging)
	assert.False(t, inhibit)
	assert.Equal(t, smc.CeilingHigh, ceiling)
	assert.Equal(t, ModeTopUp, f.e.Mode())

	f.e.UpdateBattery(powerinfo.Reading{Level: 99, PluggedIn: true, FullyCharged: true})
	f.e.evaluate(context.Background(), f.e.Snapshot())

	_, _, ceiling = f.ctrl.state()
	assert.Equal(t, smc.CeilingLow, ceiling)
	assert.Equal(t, ModeNormal, f.e.Mode())
	assert.Equal(t, "normal", f.conf.Mode())
}

func TestHeatProtection_Overrides(t *testing.T) {
	f := newFixture(t)
	f.e.setMode(ModeSailing, "test")
	f.ctrl.setTemps(-1, 45.5, 30)

	ev := f.eval(40)
	assert.Equal(t, DecisionOverheat, ev.Decision)
	assert.Equal(t, ModeHeatProtection, f.e.Mode())
	charging, _, _ := f.ctrl.state()
	assert.False(t, charging)

	// Cooling down does not leave heat protection.
	f.ctrl.setTemps(30)
	ev = f.eval(40)
	assert.Equal(t, DecisionOverheat, ev.Decision)
	assert.Equal(t, ModeHeatProtection, f.e.Mode())

	require.NoError(t, f.e.SetMode(context.Background(), ModeNormal))
	ev = f.eval(40)
	assert.Equal(t, DecisionCharge, ev.Decision)
	charging, _, _ = f.ctrl.state()
	assert.True(t, charging)
}

func TestHeatProtection_Disabled(t *testing.T) {
	f := newFixture(t)
	f.conf.SetHeatProtection(false)
	f.ctrl.setTemps(55)

	ev := f.eval(40)
	assert.Equal(t, DecisionCharge, ev.Decision)
	assert.Equal(t, ModeNormal, f.e.Mode())
}

func TestCalibration_FullCycle(t *testing.T) {
	f := newFixture(t)
	f.conf.SetLimit(80)

	require.NoError(t, f.e.StartCalibration(15))
	assert.Equal(t, ModeCalibration, f.e.Mode())

	ev := f.eval(50)
	assert.Equal(t, DecisionDischarge, ev.Decision)
	charging, inhibit, _ := f.ctrl.state()
	assert.False(t, charging)
	assert.True(t, inhibit)

	f.eval(15)
	assert.Equal(t, calibration.PhaseCharging, f.e.calib.State().Phase)
	charging, inhibit, ceiling := f.ctrl.state()
	assert.True(t, charging)
	assert.False(t, inhibit)
	assert.Equal(t, smc.CeilingHigh, ceiling)

	ev = f.eval(100)
	assert.Equal(t, DecisionHold, ev.Decision)
	assert.Equal(t, calibration.PhaseComplete, f.e.calib.State().Phase)
	assert.Equal(t, ModeNormal, f.e.Mode())
	assert.False(t, f.conf.LastCalibration().IsZero())
	_, _, ceiling = f.ctrl.state()
	assert.Equal(t, smc.CeilingLow, ceiling)
}

func TestCalibration_NeverSkipsDischarge(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.e.StartCalibration(20))
	f.eval(100)
	assert.Equal(t, calibration.PhaseDischarging, f.e.calib.State().Phase)
	assert.Equal(t, ModeCalibration, f.e.Mode())
}

func TestCalibration_Cancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.e.CancelCalibration(ctx), ErrNotRunning)

	require.NoError(t, f.e.StartCalibration(0))
	assert.Equal(t, f.conf.CalibrationTarget(), f.e.calib.State().Target)
	assert.ErrorIs(t, f.e.StartCalibration(0), calibration.ErrInProgress)

	f.e.Start(ctx)
	defer f.e.Stop(ctx)

	require.NoError(t, f.e.CancelCalibration(ctx))
	assert.Equal(t, calibration.PhaseIdle, f.e.calib.State().Phase)
	assert.Equal(t, ModeNormal, f.e.Mode())
	charging, inhibit, _ := f.ctrl.state()
	assert.True(t, charging)
	assert.False(t, inhibit)

	assert.ErrorIs(t, f.e.CancelCalibration(ctx), calibration.ErrNotRunning)
}

func TestSetMode_CalibrationStartsCycle(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.e.SetMode(context.Background(), ModeCalibration))
	assert.Equal(t, ModeCalibration, f.e.Mode())
	assert.True(t, f.e.calib.State().Active())
}

func TestApplyChargeLimit_KeepsConfigured(t *testing.T) {
	f := newFixture(t)
	sub := f.hub.Subscribe()

	f.e.ApplyChargeLimit(100)
	assert.Equal(t, 100, f.e.EffectiveLimit())
	assert.Equal(t, 80, f.e.ConfiguredLimit())

	select {
	case ev := <-sub:
		assert.Equal(t, events.LimitChanged, ev.Name)
		payload, err := events.DecodeAs[events.LimitChangedEvent](ev)
		require.NoError(t, err)
		assert.Equal(t, 100, payload.Effective)
		assert.Equal(t, 80, payload.Configured)
	case <-time.After(time.Second):
		t.Fatal("no limit.changed event")
	}

	ev := f.eval(85)
	assert.Equal(t, DecisionCharge, ev.Decision)

	f.e.ApplyChargeLimit(f.e.ConfiguredLimit())
	ev = f.eval(85)
	assert.Equal(t, DecisionHold, ev.Decision)

	f.e.ApplyChargeLimit(5)
	assert.Equal(t, config.MinLimit, f.e.EffectiveLimit())
}

func TestCapabilityMissingIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.ctrl.inhibitErr = hardware.ErrCapabilityMissing

	ev := f.eval(85)
	assert.Empty(t, ev.Error)

	f.ctrl.inhibitErr = hardware.ErrRegisterWriteFailed
	sub := f.hub.Subscribe()
	ev = f.eval(85)
	assert.NotEmpty(t, ev.Error)

	select {
	case e := <-sub:
		assert.Equal(t, events.ActionFailed, e.Name)
	case <-time.After(time.Second):
		t.Fatal("no action.failed event")
	}
}

func TestMagSafeLED(t *testing.T) {
	f := newFixture(t)
	f.ctrl.caps.MagSafeLED = true
	f.conf.SetControlMagSafeLED(true)

	f.eval(50)
	assert.Equal(t, smc.LEDOrange, f.ctrl.led)

	f.eval(85)
	assert.Equal(t, smc.LEDGreen, f.ctrl.led)
}

func TestStop_RestoresDefaults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.eval(85)
	f.e.setMode(ModeDischarge, "test")
	f.eval(85)
	require.NoError(t, f.e.sleep.PreventSleep("test"))

	f.e.Start(ctx)
	f.e.Stop(ctx)

	charging, inhibit, ceiling := f.ctrl.state()
	assert.True(t, charging)
	assert.False(t, inhibit)
	assert.Equal(t, smc.CeilingHigh, ceiling)
	assert.False(t, f.e.sleep.Held())

	_, err := f.e.Evaluate(ctx)
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestEvaluate_OnWorker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.e.Start(ctx)
	defer f.e.Stop(ctx)

	f.e.UpdateBattery(powerinfo.Reading{Level: 30, PluggedIn: true})
	ev, err := f.e.Evaluate(ctx)
	require.NoError(t, err)
	assert.Equal(t, DecisionCharge, ev.Decision)

	st := f.e.Status()
	assert.Equal(t, ModeNormal, st.Mode)
	require.NotNil(t, st.Battery)
	assert.Equal(t, 30, st.Battery.Level)
	require.NotNil(t, st.LastEvaluation)
	assert.NotEmpty(t, st.RecentEvaluations)
	assert.True(t, st.Calibration.CanStart)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("TOPUP")
	require.NoError(t, err)
	assert.Equal(t, ModeTopUp, m)

	_, err = ParseMode("turbo")
	assert.Error(t, err)
}

func TestSnapshot_SailingBandIsConsistent(t *testing.T) {
	f := newFixture(t)
	f.conf.SetSailing(85, 95)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			if i%2 == 0 {
				f.conf.SetSailing(30, 40)
			} else {
				f.conf.SetSailing(85, 95)
			}
		}
	}()
	defer func() {
		close(stop)
		wg.Wait()
	}()

	for i := 0; i < 20000; i++ {
		snap := f.e.Snapshot()
		if !(snap.SailingLow == 30 && snap.SailingHigh == 40) && !(snap.SailingLow == 85 && snap.SailingHigh == 95) {
			t.Fatalf("snapshot has a sailing band that was never set: %d-%d", snap.SailingLow, snap.SailingHigh)
		}
	}
}

// fixedOverride reports a constant override.
type fixedOverride struct {
	active *schedule.Schedule
}

func (o fixedOverride) WithOverrideState(fn func(active *schedule.Schedule)) {
	fn(o.active)
}

func TestSetChargeLimit_KeepsOverride(t *testing.T) {
	f := newFixture(t)
	s := schedule.New(0, 60, 100, nil)
	f.e.SetOverrides(fixedOverride{active: &s})
	f.e.ApplyChargeLimit(100)

	sub := f.hub.Subscribe()
	require.NoError(t, f.e.SetChargeLimit(60))
	assert.Equal(t, 60, f.conf.Limit())
	assert.Equal(t, 100, f.e.EffectiveLimit())

	select {
	case ev := <-sub:
		t.Fatalf("unexpected event %s", ev.Name)
	default:
	}

	ev := f.eval(85)
	assert.Equal(t, DecisionCharge, ev.Decision)
	assert.Equal(t, 100, ev.Limit)

	f.e.SetOverrides(fixedOverride{})
	require.NoError(t, f.e.SetChargeLimit(60))
	assert.Equal(t, 60, f.e.EffectiveLimit())
}

func TestHeatProtection_CancelsCalibration(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.e.StartCalibration(15))
	f.eval(50)
	require.Equal(t, calibration.PhaseDischarging, f.e.calib.State().Phase)

	f.ctrl.setTemps(50)
	ev := f.eval(50)
	assert.Equal(t, DecisionOverheat, ev.Decision)
	assert.Equal(t, ModeHeatProtection, f.e.Mode())
	assert.Equal(t, calibration.PhaseIdle, f.e.calib.State().Phase)

	charging, inhibit, _ := f.ctrl.state()
	assert.False(t, charging)
	assert.False(t, inhibit)
}

type memCalibrationStore struct {
	st calibration.State
}

func (m *memCalibrationStore) LoadCalibration() (calibration.State, bool, error) {
	return m.st, true, nil
}

func (m *memCalibrationStore) SaveCalibration(st calibration.State) error {
	m.st = st
	return nil
}

func TestNew_RestoredMode(t *testing.T) {
	tests := []struct {
		stored string
		phase  calibration.Phase
		want   Mode
	}{
		{"heatProtection", calibration.PhaseDischarging, ModeHeatProtection},
		{"normal", calibration.PhaseDischarging, ModeCalibration},
		{"calibration", calibration.PhaseIdle, ModeNormal},
		{"sailing", calibration.PhaseIdle, ModeSailing},
		{"turbo", calibration.PhaseIdle, ModeNormal},
	}
	for _, tt := range tests {
		t.Run(tt.stored, func(t *testing.T) {
			conf := config.NewFileFromConfig(nil, filepath.Join(t.TempDir(), "chargectl.json"))
			conf.SetMode(tt.stored)
			calib, err := calibration.New(&memCalibrationStore{st: calibration.State{Phase: tt.phase, Target: 15}})
			require.NoError(t, err)

			e, err := New(Options{Controller: newFakeController(), Config: conf, Calibration: calib})
			require.NoError(t, err)
			assert.Equal(t, tt.want, e.Mode())
		})
	}
}

func TestResync_RewritesCeiling(t *testing.T) {
	f := newFixture(t)

	f.eval(85)
	f.eval(85)
	assert.Equal(t, 1, f.ctrl.ceilingWrites)

	f.e.Resync()
	f.eval(85)
	assert.Equal(t, 2, f.ctrl.ceilingWrites)

	f.eval(85)
	assert.Equal(t, 2, f.ctrl.ceilingWrites)
}
