package daemon

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chargectl/chargectl/pkg/calibration"
	"github.com/chargectl/chargectl/pkg/events"
)

var errNotPluggedIn = errors.New("not plugged in")

func (d *Daemon) newCalibrationScheduler() *calibration.Scheduler {
	s := calibration.NewScheduler(d.startScheduledCalibration, d.calibrationPreCheck)

	s.OnUpcoming = func(runAt time.Time) {
		d.publishCalibrationAction(calibration.ActionSchedule,
			fmt.Sprintf("Calibration will start at %s", runAt.Format("2006-01-02 15:04")))
	}
	s.OnError = func(err error) {
		logrus.WithError(err).Warn("scheduled calibration did not start")
		d.publishCalibrationAction(calibration.ActionSkip, "Scheduled calibration did not start: "+err.Error())
	}

	return s
}

func (d *Daemon) startScheduledCalibration() error {
	logrus.Info("starting scheduled calibration")
	err := d.engine.StartCalibration(0)
	if errors.Is(err, calibration.ErrInProgress) {
		return nil
	}
	return err
}

// calibrationPreCheck only lets a scheduled cycle start on AC power.
func (d *Daemon) calibrationPreCheck() error {
	r, ok := d.engine.Battery()
	if !ok || !r.PluggedIn {
		return errNotPluggedIn
	}
	return nil
}

// scheduleCalibration persists and applies a cron expression. An empty
// expression disables scheduled calibration.
func (d *Daemon) scheduleCalibration(expr string) error {
	if expr != "" {
		if err := d.calSched.Validate(expr); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", expr, err)
		}
	}
	if err := d.calSched.Schedule(expr); err != nil {
		return err
	}

	d.conf.SetCalibrationCron(expr)
	if err := d.conf.Save(); err != nil {
		return err
	}

	msg := "Scheduled calibration disabled"
	if expr != "" {
		_, next, _ := d.calSched.Status()
		msg = fmt.Sprintf("Calibration scheduled with %q, next run at %s", expr, next.Format("2006-01-02 15:04"))
	}
	logrus.Info(msg)
	d.publishCalibrationAction(calibration.ActionSchedule, msg)

	return nil
}

func (d *Daemon) postponeCalibration(dur time.Duration) error {
	if err := d.calSched.Postpone(dur); err != nil {
		return err
	}
	_, next, _ := d.calSched.Status()
	d.publishCalibrationAction(calibration.ActionPostpone,
		fmt.Sprintf("Next calibration postponed to %s", next.Format("2006-01-02 15:04")))
	return nil
}

func (d *Daemon) skipCalibration() error {
	if err := d.calSched.Skip(); err != nil {
		return err
	}
	_, next, _ := d.calSched.Status()
	d.publishCalibrationAction(calibration.ActionSkip,
		fmt.Sprintf("Next calibration skipped, following run at %s", next.Format("2006-01-02 15:04")))
	return nil
}

// calibrationStatus is the engine view plus the next scheduled run.
func (d *Daemon) calibrationStatus() calibration.Status {
	st := d.engine.Status().Calibration
	if _, next, _ := d.calSched.Status(); !next.IsZero() {
		st.NextRun = next
	}
	return st
}

func (d *Daemon) onCalibrationChange(action calibration.Action, st calibration.State) {
	var msg string
	switch action {
	case calibration.ActionStart:
		msg = fmt.Sprintf("Start calibration: discharging to %d%%", st.Target)
	case calibration.ActionAdvance:
		msg = "Start charging to full"
	case calibration.ActionComplete:
		msg = "Calibration completed"
	case calibration.ActionCancel:
		msg = "Calibration cancelled"
	default:
		return
	}
	d.publishCalibrationAction(action, msg)
}

func (d *Daemon) publishCalibrationAction(action calibration.Action, msg string) {
	d.hub.Publish(events.CalibrationAction, events.CalibrationActionEvent{
		Action:  string(action),
		Message: msg,
		Ts:      time.Now().Unix(),
	})
}
