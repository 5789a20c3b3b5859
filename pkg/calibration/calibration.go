package calibration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chargectl/chargectl/pkg/smc"
)

var (
	ErrInProgress = errors.New("calibration already in progress")
	ErrNotRunning = errors.New("calibration not running")
)

// ChangeFunc is called after every phase change.
type ChangeFunc func(action Action, st State)

// Subsystem is the calibration state machine. Tick and Cancel perform
// register writes and are meant to be called from the engine's worker.
type Subsystem struct {
	mu       sync.Mutex
	state    State
	store    StateStore
	now      func() time.Time
	onChange ChangeFunc
}

// Option configures a Subsystem.
type Option func(*Subsystem)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Subsystem) { s.now = now }
}

// WithOnChange registers a callback for phase changes.
func WithOnChange(f ChangeFunc) Option {
	return func(s *Subsystem) { s.onChange = f }
}

// New returns a Subsystem, resuming any cycle saved in store. store may be nil.
func New(store StateStore, opts ...Option) (*Subsystem, error) {
	s := &Subsystem{
		state: State{Phase: PhaseIdle},
		store: store,
		now:   time.Now,
	}
	for _, o := range opts {
		o(s)
	}

	if store != nil {
		st, ok, err := store.LoadCalibration()
		if err != nil {
			return nil, fmt.Errorf("failed to load calibration state: %w", err)
		}
		if ok {
			s.state = st
			if st.Active() {
				logrus.WithFields(logrus.Fields{
					"phase":  st.Phase,
					"target": st.Target,
				}).Info("resuming calibration")
			}
		}
	}

	return s, nil
}

// State returns the current state.
func (s *Subsystem) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins a new cycle discharging to target. It fails with ErrInProgress
// if a cycle is already running.
func (s *Subsystem) Start(target int) error {
	if target <= 0 {
		target = DefaultTarget
	}
	target = min(max(target, MinTarget), MaxTarget)

	s.mu.Lock()
	if s.state.Active() {
		s.mu.Unlock()
		return ErrInProgress
	}
	s.state = State{
		Phase:     PhaseDischarging,
		Target:    target,
		StartedAt: s.now(),
	}
	st := s.state
	s.mu.Unlock()

	logrus.WithField("target", target).Infof("calibration started: discharging to %d%%", target)
	s.commit(ActionStart, st)

	return nil
}

// Tick advances the cycle for the given battery reading. configuredLimit is
// the user's base limit, used to restore the ceiling register when done.
func (s *Subsystem) Tick(ctx context.Context, act Actuator, level int, fullyCharged bool, configuredLimit int) (Result, error) {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()

	switch st.Phase {
	case PhaseDischarging:
		if level > st.Target {
			return ResultRunning, forceDischarge(ctx, act)
		}

		logrus.WithField("level", level).Infof("calibration reached %d%%, charging to 100%%", st.Target)
		err := errors.Join(
			act.SetChargeInhibit(ctx, false),
			act.SetChargeLimit(ctx, smc.CeilingHigh),
			act.SetChargingEnabled(ctx, true),
		)
		st.Phase = PhaseCharging
		s.set(ActionAdvance, st)
		return ResultRunning, err

	case PhaseCharging:
		if level < 100 && !fullyCharged {
			return ResultRunning, errors.Join(
				act.SetChargeLimit(ctx, smc.CeilingHigh),
				act.SetChargingEnabled(ctx, true),
			)
		}

		st.Phase = PhaseComplete
		st.CompletedAt = s.now()
		logrus.WithField("completedAt", st.CompletedAt.Format(time.DateTime)).Info("calibration complete")
		s.set(ActionComplete, st)
		return ResultCompleted, act.SetChargeLimit(ctx, smc.CeilingFor(configuredLimit))

	default:
		return ResultIdle, nil
	}
}

// Cancel aborts a running cycle: back to Idle, charging on, inhibit cleared.
func (s *Subsystem) Cancel(ctx context.Context, act Actuator) error {
	s.mu.Lock()
	if !s.state.Active() {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.mu.Unlock()

	logrus.Info("calibration cancelled")
	s.set(ActionCancel, State{Phase: PhaseIdle})

	return errors.Join(
		act.SetChargingEnabled(ctx, true),
		act.SetChargeInhibit(ctx, false),
	)
}

func (s *Subsystem) set(action Action, st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.commit(action, st)
}

func (s *Subsystem) commit(action Action, st State) {
	if s.store != nil {
		if err := s.store.SaveCalibration(st); err != nil {
			logrus.WithError(err).Error("failed to save calibration state")
		}
	}
	if s.onChange != nil {
		s.onChange(action, st)
	}
}

func forceDischarge(ctx context.Context, act Actuator) error {
	return errors.Join(
		act.SetChargingEnabled(ctx, false),
		act.SetChargeInhibit(ctx, true),
	)
}
