package hardware

import (
	"github.com/sirupsen/logrus"

	"github.com/chargectl/chargectl/pkg/smc"
)

// Capabilities records which register variants exist on this machine. It is
// computed once by Detect and never changes afterwards.
type Capabilities struct {
	ChargingLegacy1  bool    `json:"CH0B"`
	ChargingLegacy2  bool    `json:"CH0C"`
	ChargingCombined bool    `json:"CHTE"`
	InhibitLegacy    bool    `json:"CH0I"`
	InhibitModern    bool    `json:"CHIE"`
	ChargeCeiling    bool    `json:"BCLM"`
	ForceCharging    bool    `json:"BFCL"`
	ChargeLevel      bool    `json:"BUIC"`
	MagSafeLED       bool    `json:"ACLC"`
	Temperature      [3]bool `json:"temperature"`
}

// Detect probes every known register with a read. A register is present if the
// read succeeds.
func Detect(r smc.ReadWriter) Capabilities {
	probe := func(key string) bool {
		_, err := r.Read(key)
		logrus.WithFields(logrus.Fields{
			"key":     key,
			"present": err == nil,
		}).Trace("probed register")
		return err == nil
	}

	caps := Capabilities{
		ChargingLegacy1:  probe(smc.ChargingKey1),
		ChargingLegacy2:  probe(smc.ChargingKey2),
		ChargingCombined: probe(smc.ChargingKey3),
		InhibitLegacy:    probe(smc.AdapterKey1),
		InhibitModern:    probe(smc.AdapterKey2),
		ChargeCeiling:    probe(smc.ChargeCeilingKey),
		ForceCharging:    probe(smc.ForceChargingKey),
		ChargeLevel:      probe(smc.BatteryChargeKey),
		MagSafeLED:       probe(smc.MagSafeLedKey),
	}
	for i, key := range smc.TemperatureKeys {
		caps.Temperature[i] = probe(key)
	}

	logrus.WithFields(caps.LogrusFields()).Info("detected hardware capabilities")

	return caps
}

// ChargingRegisters returns the present charging switch variants.
func (c Capabilities) ChargingRegisters() []smc.Register {
	var regs []smc.Register
	if c.ChargingCombined {
		regs = append(regs, smc.ChargingRegister3)
	}
	if c.ChargingLegacy1 {
		regs = append(regs, smc.ChargingRegister1)
	}
	if c.ChargingLegacy2 {
		regs = append(regs, smc.ChargingRegister2)
	}
	return regs
}

// InhibitRegisters returns the present discharge inhibit variants.
func (c Capabilities) InhibitRegisters() []smc.Register {
	var regs []smc.Register
	if c.InhibitModern {
		regs = append(regs, smc.AdapterRegister2)
	}
	if c.InhibitLegacy {
		regs = append(regs, smc.AdapterRegister1)
	}
	return regs
}

// TemperatureRegisters returns the present temperature sensors.
func (c Capabilities) TemperatureRegisters() []smc.Register {
	var regs []smc.Register
	for i, present := range c.Temperature {
		if present {
			regs = append(regs, smc.TemperatureRegisters[i])
		}
	}
	return regs
}

// CanControlCharging reports whether charging can be switched on and off.
func (c Capabilities) CanControlCharging() bool {
	return len(c.ChargingRegisters()) > 0
}

// CanInhibit reports whether the battery can be forced to discharge on AC.
func (c Capabilities) CanInhibit() bool {
	return len(c.InhibitRegisters()) > 0
}

// HasTemperature reports whether at least one temperature sensor exists.
func (c Capabilities) HasTemperature() bool {
	return len(c.TemperatureRegisters()) > 0
}

// Supported reports whether the machine has enough registers for chargectl to
// do anything useful.
func (c Capabilities) Supported() bool {
	return c.CanControlCharging()
}

func (c Capabilities) LogrusFields() logrus.Fields {
	return logrus.Fields{
		"chargingLegacy":   c.ChargingLegacy1 || c.ChargingLegacy2,
		"chargingCombined": c.ChargingCombined,
		"inhibitLegacy":    c.InhibitLegacy,
		"inhibitModern":    c.InhibitModern,
		"ceiling":          c.ChargeCeiling,
		"magsafe":          c.MagSafeLED,
		"temperature":      c.HasTemperature(),
	}
}
