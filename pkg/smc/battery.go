package smc

import (
	"fmt"
)

// The charge ceiling register only accepts two values.
const (
	CeilingLow  byte = 80
	CeilingHigh byte = 100
)

// CeilingFor maps a charge limit to the value of the charge ceiling register.
// Anything at or below 80 uses the low ceiling.
func CeilingFor(limit int) byte {
	if limit <= int(CeilingLow) {
		return CeilingLow
	}
	return CeilingHigh
}

// DecodeChargeLevel decodes a battery charge percentage.
func DecodeChargeLevel(b []byte) (int, error) {
	if len(b) != 1 {
		return 0, fmt.Errorf("incorrect data length %d!=1", len(b))
	}

	return int(b[0]), nil
}
