package engine

import (
	"fmt"

	"github.com/chargectl/chargectl/pkg/calibration"
	"github.com/chargectl/chargectl/pkg/hardware"
	"github.com/chargectl/chargectl/pkg/powerinfo"
)

// Status is the engine part of the daemon status.
type Status struct {
	Mode            Mode    `json:"mode"`
	ConfiguredLimit int     `json:"configuredLimit"`
	EffectiveLimit  int     `json:"effectiveLimit"`
	SailingLow      int     `json:"sailingLow"`
	SailingHigh     int     `json:"sailingHigh"`
	HeatProtection  bool    `json:"heatProtection"`
	HeatThreshold   float64 `json:"heatThreshold"`
	// Temperature is the hottest sensor of the last read, 0 if none.
	Temperature    float64 `json:"temperature,omitempty"`
	SleepPrevented bool    `json:"sleepPrevented"`

	Battery        *powerinfo.Reading     `json:"battery,omitempty"`
	Calibration    calibration.Status     `json:"calibration"`
	Capabilities   *hardware.Capabilities `json:"capabilities,omitempty"`
	LastEvaluation *Evaluation            `json:"lastEvaluation,omitempty"`
	// RecentEvaluations are how long ago the last evaluations ran, newest
	// first.
	RecentEvaluations []string `json:"recentEvaluations"`
}

// Status returns the current engine status.
func (e *Engine) Status() Status {
	conf := e.conf

	s := Status{
		ConfiguredLimit: conf.Limit(),
		SailingLow:      conf.SailingLow(),
		SailingHigh:     conf.SailingHigh(),
		HeatProtection:  conf.HeatProtection(),
		HeatThreshold:   conf.HeatThreshold(),
		SleepPrevented:  e.sleep.Held(),
	}
	if t, ok := e.thermal.Last(); ok {
		s.Temperature = t
	}

	e.mu.Lock()
	s.Mode = e.mode
	s.EffectiveLimit = e.effectiveLimit
	if e.hasReading {
		r := e.battery
		s.Battery = &r
	}
	if e.caps != nil {
		c := *e.caps
		s.Capabilities = &c
	}
	if e.last != nil {
		ev := *e.last
		s.LastEvaluation = &ev
	}
	e.mu.Unlock()

	level := -1
	if s.Battery != nil {
		level = s.Battery.Level
	}
	s.Calibration = calibrationStatus(e.calib.State(), level)

	now := e.now()
	s.RecentEvaluations = formatRelativeTimes(now, e.recorder.GetLastRecords(10*e.interval))
	if s.RecentEvaluations == nil {
		s.RecentEvaluations = []string{}
	}

	return s
}

func calibrationStatus(st calibration.State, level int) calibration.Status {
	s := calibration.Status{
		State:         st,
		ChargePercent: level,
		CanStart:      !st.Active(),
		CanCancel:     st.Active(),
	}

	switch st.Phase {
	case calibration.PhaseDischarging:
		s.Message = fmt.Sprintf("Discharging to %d%%", st.Target)
	case calibration.PhaseCharging:
		s.Message = "Charging to 100%"
	case calibration.PhaseComplete:
		s.Message = "Last calibration completed " + st.CompletedAt.Format("2006-01-02 15:04")
	default:
		s.Message = "Not running"
	}

	return s
}
