package engine

import (
	"fmt"
	"strings"
)

// Mode is the active charging mode. Exactly one is active at a time.
type Mode string

const (
	// ModeNormal holds the battery at the effective limit.
	ModeNormal Mode = "normal"
	// ModeTopUp charges to 100% once, then returns to normal.
	ModeTopUp Mode = "topUp"
	// ModeSailing lets the level drift between the sailing bounds.
	ModeSailing Mode = "sailing"
	// ModeDischarge runs on battery even when plugged in.
	ModeDischarge Mode = "discharge"
	// ModeCalibration hands control to the calibration cycle.
	ModeCalibration Mode = "calibration"
	// ModeHeatProtection is entered when the battery is too hot. It stays
	// until another mode is selected.
	ModeHeatProtection Mode = "heatProtection"
)

// Modes lists every mode.
var Modes = []Mode{ModeNormal, ModeTopUp, ModeSailing, ModeDischarge, ModeCalibration, ModeHeatProtection}

// ParseMode parses a mode name, ignoring case.
func ParseMode(s string) (Mode, error) {
	for _, m := range Modes {
		if strings.EqualFold(string(m), s) {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown mode %q, must be one of %v", s, Modes)
}

func (m Mode) String() string {
	return string(m)
}
