package powerinfo

import "time"

// BatteryState represents the charging state of the battery.
type BatteryState int

const (
	// Discharging indicates the battery is discharging.
	Discharging BatteryState = iota
	// Charging indicates the battery is charging.
	Charging
	// Full indicates the battery is full.
	Full
	// Idle indicates the battery is neither charging nor discharging, e.g.
	// on AC with charging disabled.
	Idle
)

func (s BatteryState) String() string {
	switch s {
	case Discharging:
		return "discharging"
	case Charging:
		return "charging"
	case Full:
		return "full"
	default:
		return "not charging"
	}
}

// Reading is one battery sample fed to the policy engine.
// Units:
// - Level: percent
// - ChargeRate: mW (negative when discharging)
// - Design, Current, Full: mWh
type Reading struct {
	Level        int          `json:"level"`
	State        BatteryState `json:"state"`
	PluggedIn    bool         `json:"pluggedIn"`
	FullyCharged bool         `json:"fullyCharged"`
	ChargeRate   float64      `json:"chargeRate"`
	Current      float64      `json:"current,omitempty"`
	Full         float64      `json:"full,omitempty"`
	Design       float64      `json:"design,omitempty"`
	// Source is "battery" for the OS battery API and "smc" for the register
	// fallback.
	Source string    `json:"source"`
	At     time.Time `json:"at"`
}

// Health returns full capacity over design capacity in percent, or 0 when
// unknown.
func (r Reading) Health() int {
	if r.Design <= 0 || r.Full <= 0 {
		return 0
	}
	return int(r.Full / r.Design * 100)
}
