// Package daemon wires chargectl together: hardware access, the policy engine,
// schedules, calibration, and the control API served on a unix socket.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chargectl/chargectl/pkg/calibration"
	"github.com/chargectl/chargectl/pkg/client"
	"github.com/chargectl/chargectl/pkg/config"
	"github.com/chargectl/chargectl/pkg/engine"
	"github.com/chargectl/chargectl/pkg/events"
	"github.com/chargectl/chargectl/pkg/hardware"
	"github.com/chargectl/chargectl/pkg/logbuf"
	"github.com/chargectl/chargectl/pkg/powerassert"
	"github.com/chargectl/chargectl/pkg/powerinfo"
	"github.com/chargectl/chargectl/pkg/schedule"
	"github.com/chargectl/chargectl/pkg/smc"
	"github.com/chargectl/chargectl/pkg/store"
	"github.com/chargectl/chargectl/pkg/thermal"
	"github.com/chargectl/chargectl/pkg/version"
)

// Options are the daemon command line settings.
type Options struct {
	ConfigPath       string
	SocketPath       string
	HelperSocketPath string
	DBPath           string
	AllowNonRoot     bool
}

// Daemon holds the long-lived components.
type Daemon struct {
	conf      config.Config
	switcher  *hardware.Switcher
	engine    *engine.Engine
	schedules *schedule.Evaluator
	calSched  *calibration.Scheduler
	monitor   *powerinfo.Monitor
	hub       *events.EventHub
	logs      *logbuf.Buffer

	stopMonitor context.CancelFunc
	monitorDone chan struct{}
}

// Run starts the daemon and blocks until SIGINT or SIGTERM.
func Run(opts Options) error {
	logs := logbuf.New(logbuf.DefaultCapacity, logrus.DebugLevel)
	logrus.AddHook(logs)

	conf, err := config.NewFile(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to parse config during startup: %w", err)
	}
	logrus.WithFields(conf.LogrusFields()).Info("config loaded")

	db, err := store.Open(opts.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logrus.WithError(err).Error("failed to close state database")
		}
	}()

	// Open Apple SMC for reading. Writes only work as root, otherwise they go
	// through the helper.
	var rw smc.ReadWriter
	smcConn := smc.New()
	if err := smcConn.Open(); err != nil {
		logrus.WithError(err).Warn("failed to open SMC, direct access unavailable")
	} else {
		rw = smcConn
		defer func() {
			logrus.Info("closing smc connection")
			if err := smcConn.Close(); err != nil {
				logrus.WithError(err).Error("failed to close smc connection")
			}
		}()
	}

	local := hardware.NewLocal(rw, version.Version)
	logrus.WithFields(func() logrus.Fields {
		caps, _ := local.Capabilities(context.Background())
		return caps.LogrusFields()
	}()).Info("hardware capabilities detected")

	var proxied hardware.Controller
	if opts.HelperSocketPath != "" {
		proxied = client.NewHelper(opts.HelperSocketPath)
	}
	switcher := hardware.NewSwitcher(proxied, local)

	hub := events.NewEventHub()

	d, err := New(conf, switcher, db, hub, logs)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d.Connect(ctx)

	// Receive SIGHUP to reload config.
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigc:
				d.Reload()
			}
		}
	}()

	srv := &http.Server{
		Handler:           d.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if err := os.Remove(opts.SocketPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	l, err := net.Listen("unix", opts.SocketPath)
	if err != nil {
		return err
	}

	if conf.AllowNonRootAccess() || opts.AllowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", opts.SocketPath)
		if err := os.Chmod(opts.SocketPath, 0777); err != nil {
			_ = l.Close()
			return err
		}
	}

	errc := make(chan error, 1)
	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	if err := d.Start(ctx); err != nil {
		return err
	}

	stopNotify, err := listenSleepNotifications(d.onWake)
	if err != nil {
		logrus.WithError(err).Warn("failed to listen to system sleep notifications")
	}

	// Handle common process-killing signals, so we can gracefully shut down.
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigc:
		logrus.Infof("caught signal \"%s\": shutting down.", sig)
	case err := <-errc:
		logrus.WithError(err).Error("http server failed")
	}

	logrus.Info("shutting down http server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("failed to shutdown http server")
	}
	shutdownCancel()

	if stopNotify != nil {
		stopNotify()
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	d.Stop(stopCtx)
	stopCancel()

	logrus.Info("exiting")
	return nil
}

// New builds a Daemon around an already chosen controller. db may be nil, in
// which case schedules and calibration progress are not persisted.
func New(conf config.Config, switcher *hardware.Switcher, db *store.DB, hub *events.EventHub, logs *logbuf.Buffer) (*Daemon, error) {
	d := &Daemon{
		conf:     conf,
		switcher: switcher,
		hub:      hub,
		logs:     logs,
	}

	var (
		calStore calibration.StateStore
		repo     schedule.Repository
	)
	if db != nil {
		calStore, repo = db, db
	}

	calib, err := calibration.New(calStore, calibration.WithOnChange(d.onCalibrationChange))
	if err != nil {
		return nil, err
	}

	d.engine, err = engine.New(engine.Options{
		Controller:  switcher,
		Config:      conf,
		Thermal:     thermal.NewGuard(switcher),
		Calibration: calib,
		Sleep:       powerassert.NewGuard(nil),
		Events:      hub,
		Logger:      logrus.StandardLogger(),
	})
	if err != nil {
		return nil, err
	}

	d.schedules, err = schedule.NewEvaluator(d.engine, repo, schedule.WithOnChange(d.onScheduleChange))
	if err != nil {
		return nil, err
	}
	d.engine.SetOverrides(d.schedules)

	// Registers written through one path say nothing about the other.
	switcher.OnPathChange(func(bool) { d.engine.Resync() })

	d.monitor = powerinfo.NewMonitor(d.engine, switcher)
	d.calSched = d.newCalibrationScheduler()

	return d, nil
}

// Connect performs the helper handshake and reports the result. The next
// evaluation rewrites every register.
func (d *Daemon) Connect(ctx context.Context) bool {
	proxied := d.switcher.Connect(ctx)
	d.engine.Resync()
	d.hub.Publish(events.HelperConnection, events.HelperConnectionEvent{
		Proxied: proxied,
		Ts:      time.Now().Unix(),
	})
	return proxied
}

// Start runs the engine, the battery monitor, the schedule evaluator and the
// calibration scheduler.
func (d *Daemon) Start(ctx context.Context) error {
	d.engine.Start(ctx)

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	d.stopMonitor = stopMonitor
	d.monitorDone = make(chan struct{})
	go func() {
		defer close(d.monitorDone)
		d.monitor.Run(monitorCtx)
	}()

	if err := d.schedules.Start(); err != nil {
		return fmt.Errorf("failed to start schedule evaluator: %w", err)
	}

	d.calSched.Start()
	if expr := d.conf.CalibrationCron(); expr != "" {
		if err := d.calSched.Schedule(expr); err != nil {
			logrus.WithError(err).WithField("cron", expr).Error("invalid calibration schedule, ignored")
		}
	}

	return nil
}

// Stop stops every timer and the battery monitor, then lets the engine
// restore defaults.
func (d *Daemon) Stop(ctx context.Context) {
	d.calSched.Stop()
	d.schedules.Stop()
	if d.stopMonitor != nil {
		d.stopMonitor()
		<-d.monitorDone
	}
	d.engine.Stop(ctx)
	d.hub.Close()
}

// Reload rereads the config file and applies it.
func (d *Daemon) Reload() {
	if err := d.conf.Load(); err != nil {
		logrus.WithError(err).Error("failed to reload config")
		return
	}
	logrus.WithFields(d.conf.LogrusFields()).Info("config reloaded")

	d.engine.ApplyConfiguredLimit()
	if err := d.calSched.Schedule(d.conf.CalibrationCron()); err != nil {
		logrus.WithError(err).Error("invalid calibration schedule, ignored")
	}
	d.engine.Trigger()
}

func (d *Daemon) onWake() {
	logrus.Debug("system woke up, evaluating now")
	d.engine.Recorder().ClearRecords()
	// The firmware may have reset the registers during sleep.
	d.engine.Resync()
	d.schedules.Evaluate()
}

func (d *Daemon) onScheduleChange(active *schedule.Schedule) {
	ev := events.ScheduleOverrideEvent{
		Limit: d.conf.Limit(),
		Ts:    time.Now().Unix(),
	}
	if active != nil {
		ev.ScheduleID = active.ID
		ev.Limit = active.TargetPercent
	}
	d.hub.Publish(events.ScheduleOverride, ev)
}
