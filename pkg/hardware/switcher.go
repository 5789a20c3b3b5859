package hardware

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chargectl/chargectl/pkg/smc"
)

const (
	// DefaultPingTimeout bounds the handshake with the helper.
	DefaultPingTimeout = 3 * time.Second
	// DefaultReconnectBackoff is the minimum time between two lazy
	// reconnection attempts after the helper went away.
	DefaultReconnectBackoff = 30 * time.Second
)

var _ Controller = &Switcher{}

// Switcher routes calls to the helper when it answers, and to a Local
// controller otherwise.
type Switcher struct {
	proxied Controller
	local   Controller

	pingTimeout time.Duration
	backoff     time.Duration
	now         func() time.Time

	// handshake serializes connection attempts.
	handshake sync.Mutex

	mu           sync.RWMutex
	usingProxy   bool
	disconnected bool
	lastAttempt  time.Time
	onPathChange func(proxied bool)
}

// SwitcherOption configures a Switcher.
type SwitcherOption func(*Switcher)

// WithPingTimeout overrides DefaultPingTimeout.
func WithPingTimeout(d time.Duration) SwitcherOption {
	return func(s *Switcher) { s.pingTimeout = d }
}

// WithReconnectBackoff overrides DefaultReconnectBackoff.
func WithReconnectBackoff(d time.Duration) SwitcherOption {
	return func(s *Switcher) { s.backoff = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) SwitcherOption {
	return func(s *Switcher) { s.now = now }
}

// NewSwitcher returns a Switcher that starts on the local path. Call Connect
// to try the helper. proxied may be nil when there is no helper at all.
func NewSwitcher(proxied, local Controller, opts ...SwitcherOption) *Switcher {
	s := &Switcher{
		proxied:     proxied,
		local:       local,
		pingTimeout: DefaultPingTimeout,
		backoff:     DefaultReconnectBackoff,
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Connect pings the helper and selects it if it answers within the ping
// timeout. It returns whether the helper is now in use.
func (s *Switcher) Connect(ctx context.Context) bool {
	s.handshake.Lock()
	defer s.handshake.Unlock()

	ok := s.tryProxied(ctx)

	s.mu.Lock()
	changed := s.usingProxy != ok
	s.usingProxy = ok
	s.disconnected = false
	s.lastAttempt = s.now()
	s.mu.Unlock()

	if changed {
		s.pathChanged(ok)
	}

	if ok {
		logrus.Info("connected to privileged helper")
	} else {
		logrus.Info("privileged helper not reachable, using direct SMC access")
	}

	return ok
}

// Reconnect repeats the handshake, typically after the helper was installed.
func (s *Switcher) Reconnect(ctx context.Context) bool {
	return s.Connect(ctx)
}

// OnPathChange registers f to be called whenever calls move between the
// helper and the local path.
func (s *Switcher) OnPathChange(f func(proxied bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPathChange = f
}

func (s *Switcher) pathChanged(proxied bool) {
	s.mu.RLock()
	f := s.onPathChange
	s.mu.RUnlock()

	if f != nil {
		f(proxied)
	}
}

// UsingProxy reports whether calls currently go to the helper.
func (s *Switcher) UsingProxy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usingProxy
}

// Disconnected reports whether the helper went away mid-session and has not
// been reached since.
func (s *Switcher) Disconnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.disconnected
}

func (s *Switcher) tryProxied(ctx context.Context) bool {
	if s.proxied == nil {
		return false
	}

	pingCtx, cancel := context.WithTimeout(ctx, s.pingTimeout)
	defer cancel()

	err := s.proxied.Ping(pingCtx)
	if err != nil {
		logrus.WithError(err).Debug("helper handshake failed")
		return false
	}
	return true
}

// active returns the controller to use for the next call, retrying the helper
// handshake if it was lost and the backoff has elapsed.
func (s *Switcher) active(ctx context.Context) (Controller, bool) {
	s.mu.RLock()
	usingProxy, disconnected, last := s.usingProxy, s.disconnected, s.lastAttempt
	s.mu.RUnlock()

	if usingProxy {
		return s.proxied, true
	}
	if !disconnected || s.now().Sub(last) < s.backoff {
		return s.local, false
	}

	s.handshake.Lock()
	defer s.handshake.Unlock()

	// Someone else may have reconnected while we waited.
	s.mu.RLock()
	usingProxy, disconnected = s.usingProxy, s.disconnected
	s.mu.RUnlock()
	if usingProxy {
		return s.proxied, true
	}
	if !disconnected {
		return s.local, false
	}

	ok := s.tryProxied(ctx)

	s.mu.Lock()
	s.lastAttempt = s.now()
	if ok {
		s.usingProxy = true
		s.disconnected = false
	}
	s.mu.Unlock()

	if ok {
		logrus.Info("reconnected to privileged helper")
		s.pathChanged(true)
		return s.proxied, true
	}
	return s.local, false
}

// observe marks the helper as lost when a proxied call failed at the transport
// level. The next call falls back to the local path and retries the helper.
func (s *Switcher) observe(proxied bool, err error) {
	if !proxied || err == nil || !IsDisconnect(err) {
		return
	}

	s.mu.Lock()
	if !s.usingProxy {
		s.mu.Unlock()
		return
	}
	s.usingProxy = false
	s.disconnected = true
	// The first retry happens on the very next call.
	s.lastAttempt = time.Time{}
	s.mu.Unlock()

	logrus.WithError(err).Warn("lost connection to privileged helper")
	s.pathChanged(false)
}

func (s *Switcher) Ping(ctx context.Context) error {
	c, p := s.active(ctx)
	err := c.Ping(ctx)
	s.observe(p, err)
	return err
}

func (s *Switcher) Version(ctx context.Context) (string, error) {
	c, p := s.active(ctx)
	v, err := c.Version(ctx)
	s.observe(p, err)
	return v, err
}

func (s *Switcher) Capabilities(ctx context.Context) (Capabilities, error) {
	c, p := s.active(ctx)
	caps, err := c.Capabilities(ctx)
	s.observe(p, err)
	return caps, err
}

func (s *Switcher) ReadChargeLevel(ctx context.Context) (int, error) {
	c, p := s.active(ctx)
	v, err := c.ReadChargeLevel(ctx)
	s.observe(p, err)
	return v, err
}

func (s *Switcher) ReadTemperatures(ctx context.Context) ([]float64, error) {
	c, p := s.active(ctx)
	v, err := c.ReadTemperatures(ctx)
	s.observe(p, err)
	return v, err
}

func (s *Switcher) SetChargeLimit(ctx context.Context, limit byte) error {
	c, p := s.active(ctx)
	err := c.SetChargeLimit(ctx, limit)
	s.observe(p, err)
	return err
}

func (s *Switcher) SetChargingEnabled(ctx context.Context, enabled bool) error {
	c, p := s.active(ctx)
	err := c.SetChargingEnabled(ctx, enabled)
	s.observe(p, err)
	return err
}

func (s *Switcher) SetChargeInhibit(ctx context.Context, inhibit bool) error {
	c, p := s.active(ctx)
	err := c.SetChargeInhibit(ctx, inhibit)
	s.observe(p, err)
	return err
}

func (s *Switcher) SetForceCharging(ctx context.Context, force bool) error {
	c, p := s.active(ctx)
	err := c.SetForceCharging(ctx, force)
	s.observe(p, err)
	return err
}

func (s *Switcher) SetMagSafeLED(ctx context.Context, state smc.MagSafeLedState) error {
	c, p := s.active(ctx)
	err := c.SetMagSafeLED(ctx, state)
	s.observe(p, err)
	return err
}
