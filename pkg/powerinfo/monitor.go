package powerinfo

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/distatus/battery"
	"github.com/sirupsen/logrus"
)

// DefaultInterval is how often the battery is sampled.
const DefaultInterval = 5 * time.Second

// LevelReader is the register fallback for the charge level.
type LevelReader interface {
	ReadChargeLevel(ctx context.Context) (int, error)
}

// Sink receives readings.
type Sink interface {
	UpdateBattery(Reading)
}

// Monitor samples the battery periodically and feeds a Sink.
type Monitor struct {
	Interval time.Duration

	sink     Sink
	fallback LevelReader
	getAll   func() ([]*battery.Battery, error)
	now      func() time.Time
}

// NewMonitor returns a Monitor feeding sink. fallback may be nil.
func NewMonitor(sink Sink, fallback LevelReader) *Monitor {
	return &Monitor{
		Interval: DefaultInterval,
		sink:     sink,
		fallback: fallback,
		getAll:   battery.GetAll,
		now:      time.Now,
	}
}

// Run samples until ctx is cancelled. The first sample is taken immediately.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	for {
		m.sample(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) sample(ctx context.Context) {
	r, err := m.Read(ctx)
	if err != nil {
		logrus.WithError(err).Debug("failed to read battery")
		return
	}
	m.sink.UpdateBattery(r)
}

// Read takes one sample, from the OS battery API or, failing that, from the
// SMC charge level register.
func (m *Monitor) Read(ctx context.Context) (Reading, error) {
	batteries, err := m.getAll()
	if err == nil && len(batteries) > 0 && batteries[0] != nil {
		// Macs only have one battery.
		return fromBattery(batteries[0], m.now()), nil
	}
	if err == nil {
		err = errors.New("no batteries found")
	}

	if m.fallback == nil {
		return Reading{}, err
	}

	level, ferr := m.fallback.ReadChargeLevel(ctx)
	if ferr != nil {
		return Reading{}, errors.Join(err, ferr)
	}
	logrus.WithError(err).Trace("battery API unavailable, using SMC charge level")

	return Reading{
		Level:        level,
		State:        Idle,
		FullyCharged: level >= 100,
		Source:       "smc",
		At:           m.now(),
	}, nil
}

func fromBattery(bat *battery.Battery, at time.Time) Reading {
	r := Reading{
		Current:    bat.Current,
		Full:       bat.Full,
		Design:     bat.Design,
		ChargeRate: bat.ChargeRate,
		Source:     "battery",
		At:         at,
	}

	if bat.Full > 0 {
		r.Level = int(math.Round(bat.Current / bat.Full * 100))
		r.Level = min(max(r.Level, 0), 100)
	}

	switch bat.State {
	case battery.Discharging:
		r.State = Discharging
		r.ChargeRate = -bat.ChargeRate
	case battery.Charging:
		r.State = Charging
		r.PluggedIn = true
	case battery.Full:
		r.State = Full
		r.PluggedIn = true
		r.FullyCharged = true
	default:
		// Not charging while on AC, e.g. held at the limit.
		r.State = Idle
		r.PluggedIn = true
	}

	return r
}
