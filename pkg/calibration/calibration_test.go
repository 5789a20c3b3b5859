package calibration

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeActuator records the last value written per capability.
type fakeActuator struct {
	charging bool
	inhibit  bool
	ceiling  byte
	writes   int
	fail     bool
}

func (f *fakeActuator) SetChargeLimit(_ context.Context, limit byte) error {
	f.writes++
	if f.fail {
		return errors.New("write failed")
	}
	f.ceiling = limit
	return nil
}

func (f *fakeActuator) SetChargingEnabled(_ context.Context, enabled bool) error {
	f.writes++
	if f.fail {
		return errors.New("write failed")
	}
	f.charging = enabled
	return nil
}

func (f *fakeActuator) SetChargeInhibit(_ context.Context, inhibit bool) error {
	f.writes++
	if f.fail {
		return errors.New("write failed")
	}
	f.inhibit = inhibit
	return nil
}

type memStore struct {
	st    State
	ok    bool
	saves []State
}

func (m *memStore) LoadCalibration() (State, bool, error) { return m.st, m.ok, nil }
func (m *memStore) SaveCalibration(st State) error {
	m.st, m.ok = st, true
	m.saves = append(m.saves, st)
	return nil
}

// TestCalibrationFlow walks a full cycle.
func TestCalibrationFlow(t *testing.T) {
	done := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	store := &memStore{}
	s, err := New(store, WithClock(func() time.Time { return done }))
	if err != nil {
		t.Fatal(err)
	}
	act := &fakeActuator{charging: true, ceiling: 80}
	ctx := context.Background()

	if err := s.Start(0); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if st := s.State(); st.Phase != PhaseDischarging || st.Target != DefaultTarget {
		t.Fatalf("expected DischargingTo(%d), got %+v", DefaultTarget, st)
	}
	if err := s.Start(20); !errors.Is(err, ErrInProgress) {
		t.Fatalf("expected ErrInProgress, got %v", err)
	}

	// Above target: forced discharge every tick.
	res, err := s.Tick(ctx, act, 40, false, 80)
	if err != nil || res != ResultRunning {
		t.Fatalf("Tick = %v, %v", res, err)
	}
	if act.charging || !act.inhibit {
		t.Fatalf("expected forced discharge, got %+v", act)
	}

	// At target: switch to charging.
	if _, err := s.Tick(ctx, act, 15, false, 80); err != nil {
		t.Fatal(err)
	}
	if st := s.State(); st.Phase != PhaseCharging {
		t.Fatalf("expected ChargingTo100, got %s", st.Phase)
	}
	if !act.charging || act.inhibit || act.ceiling != 100 {
		t.Fatalf("expected charging to 100, got %+v", act)
	}

	// Still charging.
	act.ceiling = 80
	if res, _ := s.Tick(ctx, act, 70, false, 80); res != ResultRunning {
		t.Fatalf("expected running, got %v", res)
	}
	if act.ceiling != 100 {
		t.Fatalf("ceiling not kept at maximum: %d", act.ceiling)
	}

	// Fully charged before 100%.
	res, err = s.Tick(ctx, act, 99, true, 75)
	if err != nil || res != ResultCompleted {
		t.Fatalf("Tick = %v, %v", res, err)
	}
	st := s.State()
	if st.Phase != PhaseComplete || !st.CompletedAt.Equal(done) {
		t.Fatalf("unexpected state %+v", st)
	}
	if act.ceiling != 80 {
		t.Fatalf("expected ceiling restored to 80, got %d", act.ceiling)
	}

	// Complete is terminal until a new Start.
	if res, _ := s.Tick(ctx, act, 100, true, 80); res != ResultIdle {
		t.Fatalf("expected idle after completion, got %v", res)
	}
	if err := s.Start(30); err != nil {
		t.Fatalf("restart after completion failed: %v", err)
	}

	phases := make([]Phase, 0, len(store.saves))
	for _, sv := range store.saves {
		phases = append(phases, sv.Phase)
	}
	want := []Phase{PhaseDischarging, PhaseCharging, PhaseComplete, PhaseDischarging}
	if len(phases) != len(want) {
		t.Fatalf("saved phases = %v, want %v", phases, want)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Fatalf("saved phases = %v, want %v", phases, want)
		}
	}
}

func TestCalibrationNeverSkipsDischarge(t *testing.T) {
	s, _ := New(nil)
	act := &fakeActuator{}

	// Even when already at 100%, the first phase is DischargingTo.
	if err := s.Start(15); err != nil {
		t.Fatal(err)
	}
	if s.State().Phase != PhaseDischarging {
		t.Fatalf("expected DischargingTo, got %s", s.State().Phase)
	}
	if _, err := s.Tick(context.Background(), act, 100, true, 80); err != nil {
		t.Fatal(err)
	}
	if s.State().Phase != PhaseDischarging {
		t.Fatalf("fully charged battery must not skip discharge, got %s", s.State().Phase)
	}
}

func TestCalibrationCancel(t *testing.T) {
	for _, level := range []int{50, 10} {
		s, _ := New(nil)
		act := &fakeActuator{}
		ctx := context.Background()

		_ = s.Start(15)
		_, _ = s.Tick(ctx, act, level, false, 80)

		if err := s.Cancel(ctx, act); err != nil {
			t.Fatalf("Cancel failed: %v", err)
		}
		if s.State().Phase != PhaseIdle {
			t.Fatalf("expected Idle, got %s", s.State().Phase)
		}
		if !act.charging || act.inhibit {
			t.Fatalf("expected charging re-enabled and inhibit cleared, got %+v", act)
		}
	}

	s, _ := New(nil)
	if err := s.Cancel(context.Background(), &fakeActuator{}); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func TestCalibrationResume(t *testing.T) {
	store := &memStore{st: State{Phase: PhaseCharging, Target: 15}, ok: true}
	s, err := New(store)
	if err != nil {
		t.Fatal(err)
	}
	if s.State().Phase != PhaseCharging {
		t.Fatalf("expected resumed ChargingTo100, got %s", s.State().Phase)
	}
}

func TestCalibrationWriteErrorsAreReported(t *testing.T) {
	s, _ := New(nil)
	_ = s.Start(15)
	act := &fakeActuator{fail: true}

	if _, err := s.Tick(context.Background(), act, 50, false, 80); err == nil {
		t.Fatal("expected error")
	}
	if act.writes != 2 {
		t.Fatalf("expected both writes attempted, got %d", act.writes)
	}
}
