// Package powerassert keeps the machine from idle-sleeping while chargectl
// wants charging to continue.
package powerassert

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Assertion is a held OS sleep-prevention handle.
type Assertion interface {
	Release() error
}

// Asserter creates sleep-prevention assertions. NewAsserter returns the one
// for the running platform.
type Asserter interface {
	Acquire(reason string) (Assertion, error)
}

// Guard wraps at most one assertion. PreventSleep and AllowSleep are
// idempotent.
type Guard struct {
	a Asserter

	mu   sync.Mutex
	held Assertion
}

// NewGuard returns a Guard using a. A nil a uses NewAsserter().
func NewGuard(a Asserter) *Guard {
	if a == nil {
		a = NewAsserter()
	}
	return &Guard{a: a}
}

// PreventSleep takes an assertion unless one is already held.
func (g *Guard) PreventSleep(reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.held != nil {
		return nil
	}

	held, err := g.a.Acquire(reason)
	if err != nil {
		return err
	}
	g.held = held
	logrus.WithField("reason", reason).Debug("idle sleep prevented")

	return nil
}

// AllowSleep releases the assertion if one is held.
func (g *Guard) AllowSleep() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.held == nil {
		return nil
	}

	err := g.held.Release()
	g.held = nil
	logrus.Debug("idle sleep allowed")

	return err
}

// Held reports whether an assertion is currently held.
func (g *Guard) Held() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held != nil
}
