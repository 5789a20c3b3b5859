// Package thermal watches the battery temperature sensors.
package thermal

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/chargectl/chargectl/pkg/hardware"
)

// Reader reads the raw sensor values, in degrees Celsius.
type Reader interface {
	ReadTemperatures(ctx context.Context) ([]float64, error)
}

// Guard reports the hottest valid sensor and whether it is over a threshold.
type Guard struct {
	r Reader

	mu   sync.Mutex
	last float64
	ok   bool
}

// NewGuard returns a Guard reading from r.
func NewGuard(r Reader) *Guard {
	return &Guard{r: r}
}

// Max filters out readings <= 0 and returns the maximum of the rest.
func Max(readings []float64) (float64, bool) {
	var (
		hottest float64
		found   bool
	)
	for _, t := range readings {
		if t <= 0 {
			continue
		}
		if !found || t > hottest {
			hottest = t
			found = true
		}
	}
	return hottest, found
}

// Temperature reads the sensors and returns the hottest valid one. ok is false
// when there is no valid reading.
func (g *Guard) Temperature(ctx context.Context) (temp float64, ok bool) {
	readings, err := g.r.ReadTemperatures(ctx)
	if err != nil {
		entry := logrus.WithError(err)
		if errors.Is(err, hardware.ErrCapabilityMissing) {
			entry.Trace("no temperature sensors")
		} else {
			entry.Debug("failed to read temperatures")
		}
		g.remember(0, false)
		return 0, false
	}

	temp, ok = Max(readings)
	g.remember(temp, ok)
	return temp, ok
}

// IsOverheating reports whether a valid reading exists and is >= threshold.
func (g *Guard) IsOverheating(ctx context.Context, threshold float64) bool {
	temp, ok := g.Temperature(ctx)
	return ok && temp >= threshold
}

// Last returns the result of the most recent read without touching the
// hardware.
func (g *Guard) Last() (float64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last, g.ok
}

func (g *Guard) remember(t float64, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last, g.ok = t, ok
}
