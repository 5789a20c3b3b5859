package smc

// MagSafeLedState is the state of the MagSafe LED.
type MagSafeLedState uint8

// Representation of MagSafeLedState.
const (
	LEDSystem        MagSafeLedState = 0x00
	LEDOff           MagSafeLedState = 0x01
	LEDGreen         MagSafeLedState = 0x03
	LEDOrange        MagSafeLedState = 0x04
	LEDErrorOnce     MagSafeLedState = 0x05
	LEDErrorPermSlow MagSafeLedState = 0x06
	LEDErrorPermFast MagSafeLedState = 0x07
	LEDErrorPermOff  MagSafeLedState = 0x19
)

func (s MagSafeLedState) String() string {
	switch s {
	case LEDSystem:
		return "system"
	case LEDOff:
		return "off"
	case LEDGreen:
		return "green"
	case LEDOrange:
		return "orange"
	case LEDErrorOnce, LEDErrorPermSlow, LEDErrorPermFast, LEDErrorPermOff:
		return "error"
	default:
		return "unknown"
	}
}

// DecodeMagSafeLedState normalizes a raw LED register value. Unknown values
// are reported as orange, which is what the firmware shows while charging.
func DecodeMagSafeLedState(b []byte) MagSafeLedState {
	if len(b) != 1 {
		return LEDOrange
	}

	rawState := MagSafeLedState(b[0])
	switch rawState {
	case LEDOff, LEDGreen, LEDOrange, LEDErrorOnce, LEDErrorPermSlow:
		return rawState
	case 2:
		return LEDGreen
	}
	return LEDOrange
}

// LEDFor returns the LED color for a charging state: orange while charging,
// green once charging has stopped.
func LEDFor(charging bool) MagSafeLedState {
	if charging {
		return LEDOrange
	}
	return LEDGreen
}
