package schedule

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DefaultSpec is how often the evaluator runs.
const DefaultSpec = "@every 60s"

// ErrNotFound is returned for an unknown schedule id.
var ErrNotFound = errors.New("schedule not found")

// Target receives the charge limit decisions.
type Target interface {
	// ApplyChargeLimit sets the effective charge limit.
	ApplyChargeLimit(limit int)
	// ConfiguredLimit is the user's base limit, restored when no schedule is
	// active any more.
	ConfiguredLimit() int
}

// Repository persists the schedule list in order.
type Repository interface {
	LoadSchedules() ([]Schedule, error)
	SaveSchedules([]Schedule) error
}

// ChangeFunc is called after every edge. active is nil on a falling edge.
type ChangeFunc func(active *Schedule)

// Evaluator applies the first active schedule to a Target. It only acts on
// edges: when a schedule becomes active, and when none is active any more.
type Evaluator struct {
	target   Target
	repo     Repository
	now      func() time.Time
	spec     string
	onChange ChangeFunc

	// evalMu serializes evaluations so edges are seen exactly once.
	evalMu sync.Mutex
	// saveMu serializes writes to repo.
	saveMu sync.Mutex

	mu         sync.Mutex
	schedules  []Schedule
	overriding bool
	active     *Schedule

	cron *cron.Cron
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// WithSpec replaces DefaultSpec.
func WithSpec(spec string) Option {
	return func(e *Evaluator) { e.spec = spec }
}

// WithOnChange registers a callback for edges.
func WithOnChange(f ChangeFunc) Option {
	return func(e *Evaluator) { e.onChange = f }
}

// NewEvaluator loads the schedules from repo, which may be nil.
func NewEvaluator(target Target, repo Repository, opts ...Option) (*Evaluator, error) {
	e := &Evaluator{
		target: target,
		repo:   repo,
		now:    time.Now,
		spec:   DefaultSpec,
	}
	for _, o := range opts {
		o(e)
	}

	if repo != nil {
		list, err := repo.LoadSchedules()
		if err != nil {
			return nil, err
		}
		for _, s := range list {
			e.schedules = append(e.schedules, s.Normalize())
		}
	}

	return e, nil
}

// Start evaluates once and then on every tick of the spec.
func (e *Evaluator) Start() error {
	c := cron.New(cron.WithParser(cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)))
	if _, err := c.AddFunc(e.spec, e.Evaluate); err != nil {
		return err
	}

	e.mu.Lock()
	e.cron = c
	e.mu.Unlock()

	e.Evaluate()
	c.Start()
	logrus.WithField("spec", e.spec).Debug("schedule evaluator started")

	return nil
}

// Stop stops the timer and waits for a running evaluation.
func (e *Evaluator) Stop() {
	e.mu.Lock()
	c := e.cron
	e.cron = nil
	e.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

// Evaluate runs one evaluation at the current time.
func (e *Evaluator) Evaluate() {
	e.evaluateAt(e.now())
}

func (e *Evaluator) evaluateAt(t time.Time) {
	e.evalMu.Lock()
	defer e.evalMu.Unlock()

	e.mu.Lock()
	var found *Schedule
	for i := range e.schedules {
		if e.schedules[i].IsActiveAt(t) {
			s := e.schedules[i]
			found = &s
			break
		}
	}

	var (
		apply    int
		applyNow bool
		ended    *Schedule
		dirty    bool
	)
	switch {
	case found != nil && !e.overriding:
		e.overriding = true
		e.active = found
		apply, applyNow = found.TargetPercent, true
	case found == nil && e.overriding:
		e.overriding = false
		ended = e.active
		e.active = nil
		applyNow = true
		if ended != nil && ended.OneShot() {
			if i := e.indexLocked(ended.ID); i >= 0 && e.schedules[i].Enabled {
				e.schedules[i].Enabled = false
				dirty = true
			}
		}
	}
	e.mu.Unlock()

	if !applyNow {
		return
	}

	if found == nil {
		apply = e.target.ConfiguredLimit()
	}

	if found != nil {
		logrus.WithFields(logrus.Fields{
			"schedule": found.ID,
			"window":   found.String(),
		}).Infof("schedule active, charge limit overridden to %d%%", apply)
	} else {
		logrus.Infof("no schedule active, charge limit restored to %d%%", apply)
	}

	e.target.ApplyChargeLimit(apply)

	if dirty {
		logrus.WithField("schedule", ended.ID).Info("one-shot schedule finished, disabling it")
		_ = e.save()
	}
	if e.onChange != nil {
		e.onChange(found)
	}
}

// WithOverrideState runs fn with the schedule that overrides the limit, or
// nil, while no evaluation can start or end an override.
func (e *Evaluator) WithOverrideState(fn func(active *Schedule)) {
	e.evalMu.Lock()
	defer e.evalMu.Unlock()

	e.mu.Lock()
	var active *Schedule
	if e.overriding && e.active != nil {
		s := *e.active
		active = &s
	}
	e.mu.Unlock()

	fn(active)
}

// Overriding reports whether a schedule currently overrides the limit, and
// which one.
func (e *Evaluator) Overriding() (Schedule, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.overriding || e.active == nil {
		return Schedule{}, false
	}
	return *e.active, true
}

// List returns a copy of the schedules in evaluation order.
func (e *Evaluator) List() []Schedule {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.schedules)
}

// Add appends s and evaluates immediately.
func (e *Evaluator) Add(s Schedule) (Schedule, error) {
	s = s.Normalize()

	e.mu.Lock()
	e.schedules = append(e.schedules, s)
	e.mu.Unlock()

	if err := e.save(); err != nil {
		return s, err
	}
	e.Evaluate()
	return s, nil
}

// Remove deletes the schedule with id and evaluates immediately.
func (e *Evaluator) Remove(id string) error {
	e.mu.Lock()
	i := e.indexLocked(id)
	if i < 0 {
		e.mu.Unlock()
		return ErrNotFound
	}
	e.schedules = slices.Delete(e.schedules, i, i+1)
	e.mu.Unlock()

	if err := e.save(); err != nil {
		return err
	}
	e.Evaluate()
	return nil
}

// SetEnabled toggles the schedule with id and evaluates immediately.
func (e *Evaluator) SetEnabled(id string, enabled bool) error {
	e.mu.Lock()
	i := e.indexLocked(id)
	if i < 0 {
		e.mu.Unlock()
		return ErrNotFound
	}
	e.schedules[i].Enabled = enabled
	e.mu.Unlock()

	if err := e.save(); err != nil {
		return err
	}
	e.Evaluate()
	return nil
}

func (e *Evaluator) indexLocked(id string) int {
	return slices.IndexFunc(e.schedules, func(s Schedule) bool { return s.ID == id })
}

// save writes the current list. Every save copies the list after the
// previous one finished, so the last write always holds the latest list.
func (e *Evaluator) save() error {
	if e.repo == nil {
		return nil
	}

	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	e.mu.Lock()
	list := slices.Clone(e.schedules)
	e.mu.Unlock()

	if err := e.repo.SaveSchedules(list); err != nil {
		logrus.WithError(err).Error("failed to save schedules")
		return err
	}
	return nil
}
