// Package engine is the charging policy engine. A periodic loop takes a
// snapshot of the shared policy state and hands it to a single worker
// goroutine, which is the only place register writes happen.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chargectl/chargectl/pkg/calibration"
	"github.com/chargectl/chargectl/pkg/config"
	"github.com/chargectl/chargectl/pkg/events"
	"github.com/chargectl/chargectl/pkg/hardware"
	"github.com/chargectl/chargectl/pkg/powerassert"
	"github.com/chargectl/chargectl/pkg/powerinfo"
	"github.com/chargectl/chargectl/pkg/schedule"
	"github.com/chargectl/chargectl/pkg/smc"
	"github.com/chargectl/chargectl/pkg/thermal"
)

// DefaultInterval is the time between two periodic evaluations.
const DefaultInterval = 30 * time.Second

var (
	// ErrNotRunning is returned by calls that need the worker before Start or
	// after Stop.
	ErrNotRunning = errors.New("engine not running")
)

var (
	_ powerinfo.Sink  = &Engine{}
	_ schedule.Target = &Engine{}
)

// Overrides owns the effective limit while a schedule is active.
// WithOverrideState runs fn serialized with its own edge handling, so the
// override cannot start or end while fn runs.
type Overrides interface {
	WithOverrideState(fn func(active *schedule.Schedule))
}

// Options are the collaborators of an Engine. Controller and Config are
// required; the rest have defaults.
type Options struct {
	Controller  hardware.Controller
	Config      config.Config
	Thermal     *thermal.Guard
	Calibration *calibration.Subsystem
	Sleep       *powerassert.Guard
	Events      *events.EventHub
	Logger      logrus.FieldLogger

	// Interval defaults to DefaultInterval.
	Interval time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine owns the charging mode and decides, on every evaluation, which
// registers to write.
type Engine struct {
	ctrl     hardware.Controller
	conf     config.Config
	thermal  *thermal.Guard
	calib    *calibration.Subsystem
	sleep    *powerassert.Guard
	hub      *events.EventHub
	log      logrus.FieldLogger
	interval time.Duration
	now      func() time.Time
	recorder *TimeSeriesRecorder

	// mu guards the shared policy state below.
	mu             sync.Mutex
	battery        powerinfo.Reading
	hasReading     bool
	mode           Mode
	effectiveLimit int
	last           *Evaluation
	caps           *hardware.Capabilities
	overrides      Overrides

	// resync makes the worker forget the register values it wrote last.
	resync atomic.Bool

	// Worker-only state.
	ceiling     byte
	lastPrinted Evaluation
	lastPrintAt time.Time

	kick    chan struct{}
	jobs    chan job
	runMu   sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
	wg      sync.WaitGroup
}

type job struct {
	run  func(ctx context.Context) error
	done chan error
}

// New returns an Engine in the mode stored in the configuration. A stored
// calibration mode is only kept when a cycle is actually in progress, and a
// cycle in progress resumes unless heat protection was active.
func New(opts Options) (*Engine, error) {
	if opts.Controller == nil {
		return nil, errors.New("engine: controller is required")
	}
	if opts.Config == nil {
		return nil, errors.New("engine: config is required")
	}

	e := &Engine{
		ctrl:     opts.Controller,
		conf:     opts.Config,
		thermal:  opts.Thermal,
		calib:    opts.Calibration,
		sleep:    opts.Sleep,
		hub:      opts.Events,
		log:      opts.Logger,
		interval: opts.Interval,
		now:      opts.Now,
		kick:     make(chan struct{}, 1),
		jobs:     make(chan job),
	}
	if e.thermal == nil {
		e.thermal = thermal.NewGuard(e.ctrl)
	}
	if e.calib == nil {
		calib, err := calibration.New(nil)
		if err != nil {
			return nil, err
		}
		e.calib = calib
	}
	if e.sleep == nil {
		e.sleep = powerassert.NewGuard(nil)
	}
	if e.log == nil {
		e.log = logrus.StandardLogger()
	}
	if e.interval <= 0 {
		e.interval = DefaultInterval
	}
	if e.now == nil {
		e.now = time.Now
	}
	e.recorder = NewTimeSeriesRecorder(60, e.interval)
	e.recorder.now = e.now

	mode, err := ParseMode(e.conf.Mode())
	if err != nil {
		e.log.WithError(err).Warn("invalid stored mode, using normal")
		mode = ModeNormal
	}
	if mode == ModeCalibration && !e.calib.State().Active() {
		mode = ModeNormal
	}
	if mode != ModeCalibration && mode != ModeHeatProtection && e.calib.State().Active() {
		mode = ModeCalibration
	}
	e.mode = mode
	e.effectiveLimit = e.conf.Limit()

	return e, nil
}

// Start runs the evaluation loop and the worker until ctx is done or Stop is
// called. The first evaluation is requested immediately.
func (e *Engine) Start(ctx context.Context) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.stopped = make(chan struct{})

	e.wg.Add(2)
	go e.worker(ctx)
	go e.loop(ctx)

	e.log.WithFields(logrus.Fields{
		"mode":     e.Mode(),
		"interval": e.interval,
	}).Info("policy engine started")

	e.Trigger()
}

// Stop stops both goroutines. If configured, it then restores the hardware
// defaults. Any sleep assertion is released.
func (e *Engine) Stop(ctx context.Context) {
	e.runMu.Lock()
	if e.cancel == nil {
		e.runMu.Unlock()
		return
	}
	e.cancel()
	close(e.stopped)
	e.wg.Wait()
	e.cancel = nil
	e.runMu.Unlock()

	if e.conf.RestoreOnStop() {
		if err := e.RestoreDefaults(ctx); err != nil {
			e.log.WithError(err).Error("failed to restore defaults")
		}
	}

	if err := e.sleep.AllowSleep(); err != nil {
		e.log.WithError(err).Error("failed to release sleep assertion")
	}

	e.log.Info("policy engine stopped")
}

// RestoreDefaults enables charging, clears the inhibit flag and sets the
// charge ceiling to its maximum. It must not run concurrently with the worker.
func (e *Engine) RestoreDefaults(ctx context.Context) error {
	e.log.Info("restoring charging defaults")
	e.ceiling = 0
	err := errors.Join(
		e.setCharging(ctx, true),
		e.setInhibit(ctx, false),
		e.setCeiling(ctx, smc.CeilingHigh),
	)
	if e.conf.ControlMagSafeLED() {
		e.refreshLED(ctx, -1, true)
	}
	return err
}

// Trigger requests an evaluation as soon as possible. Requests made while one
// is pending are merged.
func (e *Engine) Trigger() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Evaluate runs one evaluation on the worker and waits for its result.
func (e *Engine) Evaluate(ctx context.Context) (Evaluation, error) {
	var ev Evaluation
	err := e.do(ctx, func(ctx context.Context) error {
		ev = e.evaluate(ctx, e.Snapshot())
		return nil
	})
	return ev, err
}

func (e *Engine) loop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.checkMissedEvaluations()
		case <-e.kick:
		}

		snap := e.Snapshot()
		j := job{run: func(ctx context.Context) error {
			e.evaluate(ctx, snap)
			return nil
		}}
		select {
		case e.jobs <- j:
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) worker(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case j := <-e.jobs:
			err := j.run(ctx)
			if j.done != nil {
				j.done <- err
			}
		}
	}
}

// do runs fn on the worker and waits for it.
func (e *Engine) do(ctx context.Context, fn func(ctx context.Context) error) error {
	e.runMu.Lock()
	stopped := e.stopped
	running := e.cancel != nil
	e.runMu.Unlock()
	if !running {
		return ErrNotRunning
	}

	done := make(chan error, 1)
	select {
	case e.jobs <- job{run: fn, done: done}:
	case <-stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) checkMissedEvaluations() {
	threshold := 2*e.interval + 20*time.Second
	count := e.recorder.GetRecordsIn(threshold)
	expected := int(threshold / e.interval)

	if count < expected-1 {
		e.log.WithFields(logrus.Fields{
			"count":         count,
			"expected":      expected,
			"recentRecords": formatRelativeTimes(e.now(), e.recorder.GetLastRecords(threshold)),
		}).Debug("possibly missed evaluations, system may have slept")
	}
}

// UpdateBattery stores a new battery reading. The first reading triggers an
// evaluation, since evaluations are skipped until one arrives.
func (e *Engine) UpdateBattery(r powerinfo.Reading) {
	e.mu.Lock()
	first := !e.hasReading
	e.battery = r
	e.hasReading = true
	e.mu.Unlock()

	if first {
		e.Trigger()
	}
}

// Battery returns the last reading. ok is false before the first one.
func (e *Engine) Battery() (r powerinfo.Reading, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.battery, e.hasReading
}

// Mode returns the active mode.
func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// ConfiguredLimit returns the persisted base limit.
func (e *Engine) ConfiguredLimit() int {
	return e.conf.Limit()
}

// EffectiveLimit returns the limit normal mode holds, which is the configured
// limit or a schedule override.
func (e *Engine) EffectiveLimit() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.effectiveLimit
}

// ApplyChargeLimit sets the effective limit without persisting it. It is the
// entry point of the schedule evaluator.
func (e *Engine) ApplyChargeLimit(limit int) {
	limit = config.ClampLimit(limit)

	e.mu.Lock()
	changed := e.effectiveLimit != limit
	e.effectiveLimit = limit
	e.mu.Unlock()

	if !changed {
		return
	}

	configured := e.conf.Limit()
	e.log.WithFields(logrus.Fields{
		"effective":  limit,
		"configured": configured,
	}).Info("effective charge limit changed")
	e.hub.Publish(events.LimitChanged, events.LimitChangedEvent{
		Effective:  limit,
		Configured: configured,
		Ts:         e.now().Unix(),
	})
	e.Trigger()
}

// SetOverrides connects the schedule evaluator. Until it is called the
// configured limit is always effective.
func (e *Engine) SetOverrides(o Overrides) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.overrides = o
}

// SetChargeLimit persists a new configured limit and makes it effective,
// unless a schedule overrides the limit. The schedule restores the configured
// limit when its window ends.
func (e *Engine) SetChargeLimit(limit int) error {
	e.conf.SetLimit(limit)
	if err := e.save(); err != nil {
		return err
	}
	e.ApplyConfiguredLimit()
	return nil
}

// ApplyConfiguredLimit makes the configured limit effective unless a schedule
// overrides it.
func (e *Engine) ApplyConfiguredLimit() {
	e.mu.Lock()
	o := e.overrides
	e.mu.Unlock()

	apply := func(active *schedule.Schedule) {
		configured := e.conf.Limit()
		if active != nil {
			e.log.WithFields(logrus.Fields{
				"configured": configured,
				"schedule":   active.ID,
				"effective":  active.TargetPercent,
			}).Info("configured charge limit saved, schedule keeps the effective limit")
			return
		}
		e.ApplyChargeLimit(configured)
	}

	if o == nil {
		apply(nil)
		return
	}
	o.WithOverrideState(apply)
}

// SetMode switches to m. Selecting calibration starts a cycle with the
// configured target if none is running. Leaving calibration while a cycle is
// running cancels it.
func (e *Engine) SetMode(ctx context.Context, m Mode) error {
	if _, err := ParseMode(string(m)); err != nil {
		return err
	}

	if m == ModeCalibration {
		if e.calib.State().Active() {
			e.setMode(ModeCalibration, "user")
			e.Trigger()
			return nil
		}
		return e.StartCalibration(0)
	}

	if e.calib.State().Active() {
		if err := e.CancelCalibration(ctx); err != nil && !errors.Is(err, calibration.ErrNotRunning) {
			return err
		}
	}

	e.setMode(m, "user")
	e.Trigger()
	return nil
}

// SetSailing persists the sailing band.
func (e *Engine) SetSailing(low, high int) error {
	e.conf.SetSailing(low, high)
	if err := e.save(); err != nil {
		return err
	}
	e.Trigger()
	return nil
}

// SetHeatProtection persists the heat protection switch and threshold. A
// threshold <= 0 keeps the current one.
func (e *Engine) SetHeatProtection(enabled bool, threshold float64) error {
	e.conf.SetHeatProtection(enabled)
	if threshold > 0 {
		e.conf.SetHeatThreshold(threshold)
	}
	if err := e.save(); err != nil {
		return err
	}
	e.Trigger()
	return nil
}

// SetPreventSleep persists whether idle sleep is prevented while charging.
func (e *Engine) SetPreventSleep(enabled bool) error {
	e.conf.SetPreventSleepWhileCharging(enabled)
	if err := e.save(); err != nil {
		return err
	}
	e.Trigger()
	return nil
}

// SetControlMagSafeLED persists whether the LED follows the charging state.
// Turning it off hands the LED back to the system.
func (e *Engine) SetControlMagSafeLED(ctx context.Context, enabled bool) error {
	e.conf.SetControlMagSafeLED(enabled)
	if err := e.save(); err != nil {
		return err
	}
	if !enabled {
		return e.do(ctx, func(ctx context.Context) error {
			e.refreshLED(ctx, -1, true)
			return nil
		})
	}
	e.Trigger()
	return nil
}

// StartCalibration starts a cycle discharging to target. A target <= 0 uses
// the configured one.
func (e *Engine) StartCalibration(target int) error {
	if target <= 0 {
		target = e.conf.CalibrationTarget()
	}
	if err := e.calib.Start(target); err != nil {
		return err
	}
	e.setMode(ModeCalibration, "calibration started")
	e.Trigger()
	return nil
}

// CancelCalibration aborts the running cycle on the worker and returns to
// normal mode.
func (e *Engine) CancelCalibration(ctx context.Context) error {
	return e.do(ctx, func(ctx context.Context) error {
		err := e.calib.Cancel(ctx, actuator{e})
		if errors.Is(err, calibration.ErrNotRunning) {
			return err
		}
		e.setMode(ModeNormal, "calibration cancelled")
		if err != nil {
			e.failed("cancelCalibration", err)
		}
		e.Trigger()
		return err
	})
}

// Resync forgets what the engine believes the hardware holds, so the next
// evaluation writes every register again. Call it after sleep, or when the
// access path to the registers changed.
func (e *Engine) Resync() {
	e.mu.Lock()
	e.caps = nil
	e.mu.Unlock()

	e.resync.Store(true)
	e.Trigger()
}

// Calibration returns the calibration subsystem.
func (e *Engine) Calibration() *calibration.Subsystem {
	return e.calib
}

// Recorder returns the evaluation time recorder.
func (e *Engine) Recorder() *TimeSeriesRecorder {
	return e.recorder
}

func (e *Engine) setMode(m Mode, reason string) {
	e.mu.Lock()
	from := e.mode
	e.mode = m
	e.mu.Unlock()

	if from == m {
		return
	}

	e.conf.SetMode(string(m))
	if err := e.save(); err != nil {
		e.log.WithError(err).Error("failed to persist mode")
	}

	e.log.WithFields(logrus.Fields{
		"from":   from,
		"to":     m,
		"reason": reason,
	}).Info("charging mode changed")
	e.hub.Publish(events.ModeChanged, events.ModeChangedEvent{
		From:   string(from),
		To:     string(m),
		Reason: reason,
		Ts:     e.now().Unix(),
	})
}

func (e *Engine) save() error {
	if err := e.conf.Save(); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

func (e *Engine) failed(action string, err error) {
	e.log.WithError(err).WithField("action", action).Error("charging action failed")
	e.hub.Publish(events.ActionFailed, events.ActionFailedEvent{
		Action: action,
		Error:  err.Error(),
		Ts:     e.now().Unix(),
	})
}
