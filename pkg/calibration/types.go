package calibration

import (
	"context"
	"time"
)

// Phase is a step of the calibration cycle.
type Phase string

const (
	PhaseIdle        Phase = "Idle"
	PhaseDischarging Phase = "DischargingTo"
	PhaseCharging    Phase = "ChargingTo100"
	PhaseComplete    Phase = "Complete"
)

// DefaultTarget is the discharge target when none is given.
const DefaultTarget = 15

// Target bounds.
const (
	MinTarget = 5
	MaxTarget = 50
)

// Action defines user actions for calibration, as reported in events.
type Action string

const (
	ActionStart    Action = "Start"
	ActionCancel   Action = "Cancel"
	ActionAdvance  Action = "Advance"
	ActionComplete Action = "Complete"
	ActionSchedule Action = "Schedule"
	ActionPostpone Action = "Postpone"
	ActionSkip     Action = "Skip"
)

// State is the persisted position in the cycle.
type State struct {
	Phase       Phase     `json:"phase"`
	Target      int       `json:"target,omitempty"`
	StartedAt   time.Time `json:"startedAt,omitzero"`
	CompletedAt time.Time `json:"completedAt,omitzero"`
}

// Active reports whether a cycle is in progress.
func (s State) Active() bool {
	return s.Phase == PhaseDischarging || s.Phase == PhaseCharging
}

// Status is the view of the calibration returned by the control API.
type Status struct {
	State
	ChargePercent int       `json:"chargePercent"`
	CanStart      bool      `json:"canStart"`
	CanCancel     bool      `json:"canCancel"`
	Message       string    `json:"message"`
	NextRun       time.Time `json:"nextRun,omitzero"`
}

// Actuator is the part of the hardware controller a cycle drives.
type Actuator interface {
	SetChargeLimit(ctx context.Context, limit byte) error
	SetChargingEnabled(ctx context.Context, enabled bool) error
	SetChargeInhibit(ctx context.Context, inhibit bool) error
}

// StateStore persists State across restarts.
type StateStore interface {
	LoadCalibration() (State, bool, error)
	SaveCalibration(State) error
}

// Result tells the engine what a Tick did.
type Result int

const (
	// ResultIdle means no cycle is running.
	ResultIdle Result = iota
	// ResultRunning means the cycle continues.
	ResultRunning
	// ResultCompleted means the cycle finished on this tick; the engine should
	// return to normal mode.
	ResultCompleted
)
