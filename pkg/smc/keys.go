package smc

// SMC keys used by chargectl. Not every key exists on every machine; which
// ones do is decided at runtime by probing (see package hardware).
const (
	MagSafeLedKey = "ACLC"
	ACPowerKey    = "AC-W"

	// ChargingKey1 and ChargingKey2 are the single-byte charging switches
	// found on firmware before macOS 26.
	ChargingKey1 = "CH0B"
	ChargingKey2 = "CH0C"
	// ChargingKey3 is the combined 4-byte charging switch of macOS 26 firmware.
	ChargingKey3 = "CHTE"

	// AdapterKey1 inhibits charging and forces the battery to discharge on AC.
	AdapterKey1 = "CH0I"
	// AdapterKey2 is the macOS 26 replacement of AdapterKey1.
	AdapterKey2 = "CHIE"

	ChargeCeilingKey = "BCLM"
	ForceChargingKey = "BFCL"
	BatteryChargeKey = "BUIC"
)

// TemperatureKeys are the battery temperature sensors, in sp78 format.
var TemperatureKeys = []string{"TB0T", "TB1T", "TB2T"}

// ChargeLevelKeys are tried in order when reading the battery charge.
var ChargeLevelKeys = []string{BatteryChargeKey, ChargeCeilingKey}

var allKeys = []string{
	MagSafeLedKey,
	ACPowerKey,
	ChargingKey1,
	ChargingKey2,
	ChargingKey3,
	AdapterKey1,
	AdapterKey2,
	ChargeCeilingKey,
	ForceChargingKey,
	BatteryChargeKey,
	TemperatureKeys[0],
	TemperatureKeys[1],
	TemperatureKeys[2],
}

// AllKeys returns every key chargectl knows about.
func AllKeys() []string {
	ret := make([]string, len(allKeys))
	copy(ret, allKeys)
	return ret
}
