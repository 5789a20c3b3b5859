package hardware

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/chargectl/chargectl/pkg/smc"
)

// memRegisters is an in-memory register file. Keys in rejected fail on write.
type memRegisters struct {
	mu       sync.Mutex
	values   map[string][]byte
	rejected map[string]bool
	writes   []string
}

func newMemRegisters(keys ...string) *memRegisters {
	m := &memRegisters{
		values:   map[string][]byte{},
		rejected: map[string]bool{},
	}
	for _, k := range keys {
		m.values[k] = []byte{0}
	}
	return m
}

func (m *memRegisters) Read(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return nil, errors.New("key not found")
	}
	return v, nil
}

func (m *memRegisters) Write(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = append(m.writes, key)
	if m.rejected[key] {
		return errors.New("not privileged")
	}
	m.values[key] = value
	return nil
}

func TestDetect(t *testing.T) {
	regs := newMemRegisters(smc.ChargingKey3, smc.AdapterKey2, smc.ChargeCeilingKey, "TB1T")
	caps := Detect(regs)

	if !caps.ChargingCombined || caps.ChargingLegacy1 || caps.ChargingLegacy2 {
		t.Errorf("unexpected charging capabilities: %+v", caps)
	}
	if !caps.InhibitModern || caps.InhibitLegacy {
		t.Errorf("unexpected inhibit capabilities: %+v", caps)
	}
	if caps.Temperature != [3]bool{false, true, false} {
		t.Errorf("unexpected temperature capabilities: %v", caps.Temperature)
	}
	if caps.MagSafeLED {
		t.Error("ACLC reported present")
	}
}

func TestLocal_LegacyPairWritesBothKeys(t *testing.T) {
	regs := newMemRegisters(smc.ChargingKey1, smc.ChargingKey2, smc.AdapterKey1)
	l := NewLocal(regs, "test")
	ctx := context.Background()

	regs.rejected[smc.ChargingKey1] = true
	if err := l.SetChargingEnabled(ctx, false); err != nil {
		t.Fatalf("expected success when one key accepts the write, got %v", err)
	}
	if len(regs.writes) != 2 || regs.writes[0] != smc.ChargingKey1 || regs.writes[1] != smc.ChargingKey2 {
		t.Fatalf("expected writes to both legacy keys, got %v", regs.writes)
	}
	if v := regs.values[smc.ChargingKey2]; len(v) != 1 || v[0] != 0x02 {
		t.Errorf("CH0C = %v, want [2]", v)
	}

	regs.writes = nil
	regs.rejected[smc.ChargingKey2] = true
	err := l.SetChargingEnabled(ctx, true)
	if !errors.Is(err, ErrRegisterWriteFailed) {
		t.Fatalf("expected ErrRegisterWriteFailed, got %v", err)
	}
	if len(regs.writes) != 2 {
		t.Errorf("expected both keys attempted, got %v", regs.writes)
	}
}

func TestLocal_CombinedKey(t *testing.T) {
	regs := newMemRegisters(smc.ChargingKey3, smc.AdapterKey2)
	l := NewLocal(regs, "test")
	ctx := context.Background()

	if err := l.SetChargingEnabled(ctx, false); err != nil {
		t.Fatal(err)
	}
	if v := regs.values[smc.ChargingKey3]; string(v) != string([]byte{1, 0, 0, 0}) {
		t.Errorf("CHTE = %v", v)
	}
	if err := l.SetChargeInhibit(ctx, true); err != nil {
		t.Fatal(err)
	}
	if v := regs.values[smc.AdapterKey2]; v[0] != 0x08 {
		t.Errorf("CHIE = %v", v)
	}
}

func TestLocal_MissingCapabilities(t *testing.T) {
	l := NewLocal(newMemRegisters(smc.ChargingKey1), "test")
	ctx := context.Background()

	if err := l.SetChargeInhibit(ctx, true); !errors.Is(err, ErrCapabilityMissing) {
		t.Errorf("SetChargeInhibit: got %v", err)
	}
	if err := l.SetMagSafeLED(ctx, smc.LEDGreen); !errors.Is(err, ErrCapabilityMissing) {
		t.Errorf("SetMagSafeLED: got %v", err)
	}
	if _, err := l.ReadTemperatures(ctx); !errors.Is(err, ErrCapabilityMissing) {
		t.Errorf("ReadTemperatures: got %v", err)
	}

	var nilLocal = NewLocal(nil, "test")
	if err := nilLocal.SetChargingEnabled(ctx, true); !errors.Is(err, ErrHardwareUnavailable) {
		t.Errorf("nil SMC: got %v", err)
	}
}

func TestLocal_ChargeLimitAndLevel(t *testing.T) {
	regs := newMemRegisters(smc.ChargeCeilingKey, smc.BatteryChargeKey)
	regs.values[smc.BatteryChargeKey] = []byte{57}
	l := NewLocal(regs, "test")
	ctx := context.Background()

	if err := l.SetChargeLimit(ctx, 60); err != nil {
		t.Fatal(err)
	}
	if v := regs.values[smc.ChargeCeilingKey]; v[0] != 80 {
		t.Errorf("BCLM = %v, want 80", v)
	}
	if err := l.SetChargeLimit(ctx, 90); err != nil {
		t.Fatal(err)
	}
	if v := regs.values[smc.ChargeCeilingKey]; v[0] != 100 {
		t.Errorf("BCLM = %v, want 100", v)
	}

	level, err := l.ReadChargeLevel(ctx)
	if err != nil || level != 57 {
		t.Errorf("ReadChargeLevel = %d, %v", level, err)
	}
}

func TestLocal_ReadTemperatures(t *testing.T) {
	regs := newMemRegisters()
	regs.values["TB0T"] = []byte{0x28, 0x00}
	regs.values["TB2T"] = []byte{0x1e, 0x80}
	l := NewLocal(regs, "test")

	temps, err := l.ReadTemperatures(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(temps) != 2 || temps[0] != 40.0 || temps[1] != 30.5 {
		t.Errorf("temps = %v", temps)
	}
}
