package config

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Bounds applied by the setters. Out-of-range values are clamped, never
// rejected.
const (
	MinLimit = 20
	MaxLimit = 100

	MinHeatThreshold = 25.0
	MaxHeatThreshold = 60.0

	MinCalibrationTarget = 5
	MaxCalibrationTarget = 50
)

type Config interface {
	Limit() int
	Mode() string
	SailingLow() int
	SailingHigh() int
	HeatProtection() bool
	HeatThreshold() float64
	RestoreOnStop() bool
	PreventSleepWhileCharging() bool
	ControlMagSafeLED() bool
	AllowNonRootAccess() bool
	CalibrationTarget() int
	CalibrationCron() string
	LastCalibration() time.Time
	// Policy reads every setting an evaluation needs in one consistent copy.
	Policy() Policy

	SetLimit(int)
	SetMode(string)
	SetSailing(low, high int)
	SetHeatProtection(bool)
	SetHeatThreshold(float64)
	SetRestoreOnStop(bool)
	SetPreventSleepWhileCharging(bool)
	SetControlMagSafeLED(bool)
	SetAllowNonRootAccess(bool)
	SetCalibrationTarget(int)
	SetCalibrationCron(string)
	SetLastCalibration(time.Time)

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error

	LogrusFields() logrus.Fields
}

// Policy is the part of the configuration the policy engine reads on every
// evaluation.
type Policy struct {
	Limit                     int
	Mode                      string
	SailingLow                int
	SailingHigh               int
	HeatProtection            bool
	HeatThreshold             float64
	PreventSleepWhileCharging bool
	ControlMagSafeLED         bool
}

// ClampLimit clamps a charge limit to [MinLimit, MaxLimit].
func ClampLimit(l int) int {
	return clamp(l, MinLimit, MaxLimit)
}

// ClampSailing clamps a sailing band so that
// MinLimit <= low < high <= MaxLimit.
func ClampSailing(low, high int) (int, int) {
	low = clamp(low, MinLimit, MaxLimit-1)
	high = clamp(high, low+1, MaxLimit)
	return low, high
}

func clamp[T int | float64](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
