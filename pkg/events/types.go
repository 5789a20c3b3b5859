package events

import (
	"encoding/json"
	"time"
)

// Event name constants
const (
	ModeChanged       = "mode.changed"
	LimitChanged      = "limit.changed"
	ActionFailed      = "action.failed"
	CalibrationPhase  = "calibration.phase"
	CalibrationAction = "calibration.action"
	ScheduleOverride  = "schedule.override"
	HelperConnection  = "helper.connection"
)

// Event is a generic SSE event from the daemon.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
	Time time.Time       // publish time, not sent over SSE
}

// ModeChangedEvent is the payload of mode.changed.
type ModeChangedEvent struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
	Ts     int64  `json:"ts"`
}

// LimitChangedEvent is the payload of limit.changed.
type LimitChangedEvent struct {
	Effective  int   `json:"effective"`
	Configured int   `json:"configured"`
	Ts         int64 `json:"ts"`
}

// ActionFailedEvent is the payload of action.failed.
type ActionFailedEvent struct {
	Action string `json:"action"`
	Error  string `json:"error"`
	Ts     int64  `json:"ts"`
}

// CalibrationPhaseEvent is the typed payload for calibration.phase.
type CalibrationPhaseEvent struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Message string `json:"message,omitempty"`
	Ts      int64  `json:"ts"`
}

// CalibrationActionEvent is the payload of calibration.action.
type CalibrationActionEvent struct {
	Action  string `json:"action"`
	Message string `json:"message,omitempty"`
	Ts      int64  `json:"ts"`
}

// ScheduleOverrideEvent is the payload of schedule.override. ScheduleID is
// empty when the override ended.
type ScheduleOverrideEvent struct {
	ScheduleID string `json:"scheduleId,omitempty"`
	Limit      int    `json:"limit"`
	Ts         int64  `json:"ts"`
}

// HelperConnectionEvent is the payload of helper.connection.
type HelperConnectionEvent struct {
	Proxied bool  `json:"proxied"`
	Ts      int64 `json:"ts"`
}

// DecodeAs decodes the event payload into the caller-specified generic type T.
// It ignores the event name and simply unmarshals Data into T. If Data is empty,
// it returns the zero value of T with a nil error.
//
// Example:
//
//	payload, err := events.DecodeAs[events.ModeChangedEvent](ev)
//	if err != nil { /* handle */ }
//	fmt.Println(payload.From, payload.To)
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
