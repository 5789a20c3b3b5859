package smc

import (
	"encoding/binary"
	"fmt"
)

// Layout describes how a register stores its value.
type Layout int

const (
	// LayoutFlag is a single byte (ui8).
	LayoutFlag Layout = iota
	// LayoutUint32 is four bytes, little-endian (ui32).
	LayoutUint32
	// LayoutSP78 is a signed 7.8 fixed-point value, big-endian.
	LayoutSP78
)

// Size returns the number of bytes a register with this layout holds.
func (l Layout) Size() int {
	switch l {
	case LayoutUint32:
		return 4
	case LayoutSP78:
		return 2
	default:
		return 1
	}
}

func (l Layout) String() string {
	switch l {
	case LayoutFlag:
		return "ui8"
	case LayoutUint32:
		return "ui32"
	case LayoutSP78:
		return "sp78"
	default:
		return fmt.Sprintf("Layout(%d)", int(l))
	}
}

// Register is a key together with its byte layout.
type Register struct {
	Key    string
	Layout Layout
}

// Encode packs v into the register's layout. Values that do not fit are
// truncated to the register width.
func (r Register) Encode(v uint32) []byte {
	switch r.Layout {
	case LayoutUint32:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, v)
		return b
	case LayoutSP78:
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, uint16(int16(v)))
		return b
	default:
		return []byte{byte(v)}
	}
}

// Check verifies that b has the size the layout requires.
func (r Register) Check(b []byte) error {
	if len(b) != r.Layout.Size() {
		return fmt.Errorf("key %s: incorrect data length %d!=%d", r.Key, len(b), r.Layout.Size())
	}
	return nil
}

// Registers known to chargectl, with their layouts.
var (
	ChargingRegister1    = Register{Key: ChargingKey1, Layout: LayoutFlag}
	ChargingRegister2    = Register{Key: ChargingKey2, Layout: LayoutFlag}
	ChargingRegister3    = Register{Key: ChargingKey3, Layout: LayoutUint32}
	AdapterRegister1     = Register{Key: AdapterKey1, Layout: LayoutFlag}
	AdapterRegister2     = Register{Key: AdapterKey2, Layout: LayoutFlag}
	ChargeCeilingReg     = Register{Key: ChargeCeilingKey, Layout: LayoutFlag}
	ForceChargingReg     = Register{Key: ForceChargingKey, Layout: LayoutFlag}
	BatteryChargeReg     = Register{Key: BatteryChargeKey, Layout: LayoutFlag}
	MagSafeLedRegister   = Register{Key: MagSafeLedKey, Layout: LayoutFlag}
	TemperatureRegisters = []Register{
		{Key: TemperatureKeys[0], Layout: LayoutSP78},
		{Key: TemperatureKeys[1], Layout: LayoutSP78},
		{Key: TemperatureKeys[2], Layout: LayoutSP78},
	}
)
