package hardware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chargectl/chargectl/pkg/smc"
)

// stubController answers every call with err. When block is set, Ping waits
// for the context to expire.
type stubController struct {
	mu    sync.Mutex
	name  string
	err   error
	block bool
	calls int
}

func (s *stubController) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *stubController) call() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.err
}

func (s *stubController) Ping(ctx context.Context) error {
	if s.block {
		<-ctx.Done()
		return ErrIPCTimeout
	}
	return s.call()
}

func (s *stubController) Version(context.Context) (string, error) { return s.name, s.call() }
func (s *stubController) Capabilities(context.Context) (Capabilities, error) {
	return Capabilities{}, s.call()
}
func (s *stubController) ReadChargeLevel(context.Context) (int, error)        { return 50, s.call() }
func (s *stubController) ReadTemperatures(context.Context) ([]float64, error) { return nil, s.call() }
func (s *stubController) SetChargeLimit(context.Context, byte) error          { return s.call() }
func (s *stubController) SetChargingEnabled(context.Context, bool) error      { return s.call() }
func (s *stubController) SetChargeInhibit(context.Context, bool) error        { return s.call() }
func (s *stubController) SetForceCharging(context.Context, bool) error        { return s.call() }
func (s *stubController) SetMagSafeLED(context.Context, smc.MagSafeLedState) error {
	return s.call()
}

func TestSwitcher_HandshakeTimeoutFallsBackThenReconnects(t *testing.T) {
	proxied := &stubController{name: "helper", block: true}
	local := &stubController{name: "local"}
	s := NewSwitcher(proxied, local, WithPingTimeout(50*time.Millisecond))

	start := time.Now()
	if s.Connect(context.Background()) {
		t.Fatal("expected handshake to fail")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("handshake not bounded by ping timeout: %v", elapsed)
	}
	if v, _ := s.Version(context.Background()); v != "local" {
		t.Fatalf("expected local path, got %s", v)
	}

	proxied.block = false
	if !s.Reconnect(context.Background()) {
		t.Fatal("expected reconnect to succeed")
	}
	if !s.UsingProxy() {
		t.Fatal("expected proxied path after reconnect")
	}
	if v, _ := s.Version(context.Background()); v != "helper" {
		t.Fatalf("expected helper path, got %s", v)
	}
}

func TestSwitcher_NoHelper(t *testing.T) {
	local := &stubController{name: "local"}
	s := NewSwitcher(nil, local)
	if s.Connect(context.Background()) {
		t.Fatal("expected no proxy")
	}
	if err := s.SetChargingEnabled(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	if local.calls != 1 {
		t.Fatalf("expected local call, got %d", local.calls)
	}
}

func TestSwitcher_LazyReconnect(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }

	proxied := &stubController{name: "helper"}
	local := &stubController{name: "local"}
	s := NewSwitcher(proxied, local, WithClock(clock), WithReconnectBackoff(30*time.Second))
	ctx := context.Background()

	if !s.Connect(ctx) {
		t.Fatal("expected handshake to succeed")
	}

	// A timed out call degrades to an error and marks the helper lost.
	proxied.setErr(ErrIPCTimeout)
	err := s.SetChargingEnabled(ctx, false)
	if !errors.Is(err, ErrIPCTimeout) {
		t.Fatalf("expected ErrIPCTimeout, got %v", err)
	}
	if s.UsingProxy() || !s.Disconnected() {
		t.Fatal("expected switcher to be disconnected")
	}

	// The next call retries the handshake, which still fails: local is used.
	if v, _ := s.Version(ctx); v != "local" {
		t.Fatalf("expected local path, got %s", v)
	}

	// Within the backoff window the helper is not retried.
	proxied.setErr(nil)
	pings := proxied.calls
	if v, _ := s.Version(ctx); v != "local" {
		t.Fatalf("expected local path during backoff, got %s", v)
	}
	if proxied.calls != pings {
		t.Fatal("helper retried during backoff")
	}

	now = now.Add(31 * time.Second)
	if v, _ := s.Version(ctx); v != "helper" {
		t.Fatalf("expected helper after backoff, got %s", v)
	}
	if !s.UsingProxy() || s.Disconnected() {
		t.Fatal("expected switcher to be reconnected")
	}
}

func TestSwitcher_WriteRejectionKeepsConnection(t *testing.T) {
	proxied := &stubController{name: "helper"}
	s := NewSwitcher(proxied, &stubController{name: "local"})
	ctx := context.Background()
	s.Connect(ctx)

	proxied.setErr(ErrRegisterWriteFailed)
	if err := s.SetChargeInhibit(ctx, true); !errors.Is(err, ErrRegisterWriteFailed) {
		t.Fatalf("got %v", err)
	}
	if !s.UsingProxy() {
		t.Fatal("a rejected write must not drop the helper")
	}
}

func TestSwitcher_OnPathChange(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	proxied := &stubController{name: "helper"}
	s := NewSwitcher(proxied, &stubController{name: "local"}, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	var changes []bool
	s.OnPathChange(func(p bool) { changes = append(changes, p) })

	s.Connect(ctx)
	// Same path again is not a change.
	s.Connect(ctx)

	proxied.setErr(ErrIPCTimeout)
	_ = s.SetChargingEnabled(ctx, true)

	proxied.setErr(nil)
	if v, _ := s.Version(ctx); v != "helper" {
		t.Fatalf("expected helper after lazy reconnect, got %s", v)
	}

	want := []bool{true, false, true}
	if len(changes) != len(want) {
		t.Fatalf("path changes = %v, want %v", changes, want)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Fatalf("path changes = %v, want %v", changes, want)
		}
	}
}
