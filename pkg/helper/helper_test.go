package helper

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chargectl/chargectl/pkg/client"
	"github.com/chargectl/chargectl/pkg/hardware"
	"github.com/chargectl/chargectl/pkg/smc"
)

type registers struct {
	mu     sync.Mutex
	values map[string][]byte
	deny   map[string]bool
}

func (r *registers) Read(key string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.values[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return v, nil
}

func (r *registers) Write(key string, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deny[key] {
		return errors.New("denied")
	}
	r.values[key] = value
	return nil
}

func (r *registers) get(key string) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.values[key]
}

func (r *registers) setDeny(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deny[key] = true
}

// slowController blocks every call until the request is cancelled.
type slowController struct {
	hardware.Controller
}

func (slowController) SetChargingEnabled(ctx context.Context, _ bool) error {
	<-ctx.Done()
	return ctx.Err()
}

func serve(t *testing.T, ctrl hardware.Controller) string {
	t.Helper()

	sock := filepath.Join(t.TempDir(), "h.sock")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = NewServer(ctrl).Serve(ctx, sock, false)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	h := client.NewHelper(sock)
	require.Eventually(t, func() bool {
		return h.Ping(context.Background()) == nil
	}, 2*time.Second, 10*time.Millisecond)

	return sock
}

func TestHelperRoundTrip(t *testing.T) {
	regs := &registers{
		values: map[string][]byte{
			smc.ChargingKey1:     {0},
			smc.ChargingKey2:     {0},
			smc.AdapterKey1:      {0},
			smc.ChargeCeilingKey: {100},
			smc.BatteryChargeKey: {63},
			"TB0T":               {0x28, 0x00},
		},
		deny: map[string]bool{},
	}
	local := hardware.NewLocal(regs, "v1.2.3")
	h := client.NewHelper(serve(t, local))
	ctx := context.Background()

	v, err := h.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v1.2.3", v)

	caps, err := h.Capabilities(ctx)
	require.NoError(t, err)
	assert.True(t, caps.ChargingLegacy1)
	assert.False(t, caps.ChargingCombined)

	level, err := h.ReadChargeLevel(ctx)
	require.NoError(t, err)
	assert.Equal(t, 63, level)

	temps, err := h.ReadTemperatures(ctx)
	require.NoError(t, err)
	assert.Equal(t, []float64{40.0}, temps)

	require.NoError(t, h.SetChargingEnabled(ctx, false))
	assert.Equal(t, []byte{0x02}, regs.get(smc.ChargingKey1))
	assert.Equal(t, []byte{0x02}, regs.get(smc.ChargingKey2))

	require.NoError(t, h.SetChargeLimit(ctx, 70))
	assert.Equal(t, []byte{80}, regs.get(smc.ChargeCeilingKey))

	require.NoError(t, h.SetChargeInhibit(ctx, true))
	assert.Equal(t, []byte{0x01}, regs.get(smc.AdapterKey1))

	err = h.SetForceCharging(ctx, true)
	assert.ErrorIs(t, err, hardware.ErrCapabilityMissing)

	regs.setDeny(smc.AdapterKey1)
	err = h.SetChargeInhibit(ctx, false)
	assert.ErrorIs(t, err, hardware.ErrRegisterWriteFailed)
}

func TestHelperTimeout(t *testing.T) {
	sock := serve(t, slowController{Controller: hardware.NewLocal(&registers{values: map[string][]byte{}}, "v")})
	h := client.NewHelperWithClient(client.NewClient(sock).WithTimeout(100 * time.Millisecond))

	err := h.SetChargingEnabled(context.Background(), true)
	assert.ErrorIs(t, err, hardware.ErrIPCTimeout)
}

func TestHelperNotRunning(t *testing.T) {
	h := client.NewHelper(filepath.Join(t.TempDir(), "missing.sock"))

	err := h.Ping(context.Background())
	assert.ErrorIs(t, err, hardware.ErrHardwareUnavailable)

	sw := hardware.NewSwitcher(h, hardware.NewLocal(nil, "v"))
	assert.False(t, sw.Connect(context.Background()))
	assert.False(t, sw.UsingProxy())
}
