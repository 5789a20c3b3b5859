package smc

// Raw values of the charging switches.
const (
	chargingOnLegacy    = 0x00
	chargingOffLegacy   = 0x02
	chargingOnCombined  = 0x00
	chargingOffCombined = 0x01
)

// ChargingPayload returns the bytes that turn charging on or off for the given
// charging register. The combined 4-byte key uses a different encoding than the
// legacy single-byte pair.
func ChargingPayload(r Register, enabled bool) []byte {
	if r.Layout == LayoutUint32 {
		if enabled {
			return r.Encode(chargingOnCombined)
		}
		return r.Encode(chargingOffCombined)
	}

	if enabled {
		return r.Encode(chargingOnLegacy)
	}
	return r.Encode(chargingOffLegacy)
}

// IsChargingEnabled decodes a value read from a charging register.
func IsChargingEnabled(b []byte) bool {
	for _, v := range b {
		if v != 0x0 {
			return false
		}
	}
	return len(b) > 0
}
