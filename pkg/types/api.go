// Package types holds the control API payloads shared between the daemon and
// its clients.
package types

import (
	"github.com/chargectl/chargectl/pkg/engine"
	"github.com/chargectl/chargectl/pkg/schedule"
)

// Status is the reply of GET /status.
type Status struct {
	engine.Status

	Connection Connection          `json:"connection"`
	Schedules  []schedule.Schedule `json:"schedules"`
	// ActiveSchedule is the id of the schedule overriding the charge limit,
	// empty if none.
	ActiveSchedule string `json:"activeSchedule,omitempty"`
	Version        string `json:"version"`
}

// Connection describes how registers are reached.
type Connection struct {
	// Proxied is true when writes go through the privileged helper.
	Proxied bool `json:"proxied"`
	// Disconnected is true after a helper call timed out. The next call
	// reconnects lazily.
	Disconnected bool `json:"disconnected"`
}

// SailingRequest is the body of PUT /sailing.
type SailingRequest struct {
	Low  int `json:"low"`
	High int `json:"high"`
}

// HeatProtectionRequest is the body of PUT /heat-protection. A Threshold <= 0
// keeps the current threshold.
type HeatProtectionRequest struct {
	Enabled   bool    `json:"enabled"`
	Threshold float64 `json:"threshold,omitempty"`
}

// ScheduleRequest is the body of POST /schedules. Start and End are "HH:MM",
// Days is a comma separated list like "mon,tue" or empty for a one-shot.
type ScheduleRequest struct {
	Start  string `json:"start"`
	End    string `json:"end"`
	Target int    `json:"target"`
	Days   string `json:"days,omitempty"`
}

// CalibrationStartRequest is the optional body of POST /calibration/start.
type CalibrationStartRequest struct {
	Target int `json:"target,omitempty"`
}

// CalibrationScheduleRequest is the body of PUT /calibration/schedule. An
// empty Cron disables scheduled calibration.
type CalibrationScheduleRequest struct {
	Cron string `json:"cron"`
}

// CalibrationPostponeRequest is the body of POST /calibration/postpone.
// Duration is parsed by time.ParseDuration.
type CalibrationPostponeRequest struct {
	Duration string `json:"duration"`
}
