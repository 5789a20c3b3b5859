package smc

import (
	"encoding/binary"
	"fmt"
)

// DecodeSP78 decodes a signed 7.8 fixed-point value: the first two bytes as a
// big-endian int16, divided by 256.
func DecodeSP78(b []byte) (float64, error) {
	if len(b) < 2 {
		return 0, fmt.Errorf("incorrect data length %d<2", len(b))
	}

	raw := int16(binary.BigEndian.Uint16(b[:2]))
	return float64(raw) / 256.0, nil
}
