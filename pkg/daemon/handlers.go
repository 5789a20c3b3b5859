package daemon

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/chargectl/chargectl/pkg/calibration"
	"github.com/chargectl/chargectl/pkg/config"
	"github.com/chargectl/chargectl/pkg/engine"
	"github.com/chargectl/chargectl/pkg/schedule"
	"github.com/chargectl/chargectl/pkg/smc"
	"github.com/chargectl/chargectl/pkg/types"
	"github.com/chargectl/chargectl/pkg/utils/ginlog"
	"github.com/chargectl/chargectl/pkg/version"
)

func (d *Daemon) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginlog.Logger(logrus.StandardLogger()))

	router.GET("/status", d.getStatus)
	router.GET("/config", d.getConfig)
	router.GET("/limit", d.getLimit)
	router.PUT("/limit", d.setLimit)
	router.GET("/mode", d.getMode)
	router.PUT("/mode", d.setMode)
	router.PUT("/sailing", d.setSailing)
	router.PUT("/heat-protection", d.setHeatProtection)
	router.PUT("/prevent-sleep", d.setPreventSleep)
	router.PUT("/magsafe-led", d.setControlMagSafeLED)

	router.GET("/calibration", d.getCalibration)
	router.POST("/calibration/start", d.startCalibration)
	router.POST("/calibration/cancel", d.cancelCalibration)
	router.PUT("/calibration/schedule", d.setCalibrationSchedule)
	router.POST("/calibration/postpone", d.postponeCalibrationHandler)
	router.POST("/calibration/skip", d.skipCalibrationHandler)

	router.GET("/schedules", d.listSchedules)
	router.POST("/schedules", d.addSchedule)
	router.DELETE("/schedules/:id", d.removeSchedule)
	router.PUT("/schedules/:id/enabled", d.setScheduleEnabled)

	router.POST("/reconnect", d.reconnect)
	router.GET("/capabilities", d.getCapabilities)
	router.GET("/logs", d.getLogs)
	router.DELETE("/logs", d.clearLogs)
	router.GET("/events", d.streamEvents)
	router.GET("/version", getVersion)

	return router
}

func abort(c *gin.Context, code int, err error) {
	c.IndentedJSON(code, err.Error())
	_ = c.AbortWithError(code, err)
}

func (d *Daemon) status() types.Status {
	s := types.Status{
		Status: d.engine.Status(),
		Connection: types.Connection{
			Proxied:      d.switcher.UsingProxy(),
			Disconnected: d.switcher.Disconnected(),
		},
		Schedules: d.schedules.List(),
		Version:   version.Version,
	}
	s.Calibration = d.calibrationStatus()
	if active, ok := d.schedules.Overriding(); ok {
		s.ActiveSchedule = active.ID
	}
	if s.Schedules == nil {
		s.Schedules = []schedule.Schedule{}
	}
	return s
}

func (d *Daemon) getStatus(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, d.status())
}

func (d *Daemon) getConfig(c *gin.Context) {
	fc, err := config.NewRawFileConfigFromConfig(d.conf)
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, fc)
}

func (d *Daemon) getLimit(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, d.conf.Limit())
}

func (d *Daemon) setLimit(c *gin.Context) {
	var l int
	if err := c.BindJSON(&l); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	if err := d.engine.SetChargeLimit(l); err != nil {
		logrus.Errorf("saveConfig failed: %v", err)
		abort(c, http.StatusInternalServerError, err)
		return
	}
	l = d.conf.Limit()

	logrus.Infof("set charging limit to %d", l)

	msg := fmt.Sprintf("set charging limit to %d%%", l)
	if r, ok := d.engine.Battery(); ok {
		msg += fmt.Sprintf(", current charge: %d%%", r.Level)
		if r.Level > l && d.engine.Mode() == engine.ModeNormal {
			msg += ". Current charge is above the limit, so your computer will use power from the wall only. Battery charge will remain the same."
		}
	}
	if smc.CeilingFor(l) == smc.CeilingLow {
		msg += fmt.Sprintf(". Hardware charge ceiling is %d%%.", smc.CeilingLow)
	}
	if active, ok := d.schedules.Overriding(); ok {
		msg += fmt.Sprintf(" Schedule %s is active, its %d%% target applies until it ends.", active.ID, active.TargetPercent)
	}

	c.IndentedJSON(http.StatusCreated, msg)
}

func (d *Daemon) getMode(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, d.engine.Mode())
}

func (d *Daemon) setMode(c *gin.Context) {
	var s string
	if err := c.BindJSON(&s); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	m, err := engine.ParseMode(s)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	if err := d.engine.SetMode(c.Request.Context(), m); err != nil {
		logrus.WithError(err).Errorf("failed to set mode to %s", m)
		abort(c, http.StatusInternalServerError, err)
		return
	}

	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("mode set to %s", d.engine.Mode()))
}

func (d *Daemon) setSailing(c *gin.Context) {
	var req types.SailingRequest
	if err := c.BindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	if err := d.engine.SetSailing(req.Low, req.High); err != nil {
		logrus.Errorf("saveConfig failed: %v", err)
		abort(c, http.StatusInternalServerError, err)
		return
	}

	low, high := d.conf.SailingLow(), d.conf.SailingHigh()
	logrus.Infof("set sailing range to %d%%-%d%%", low, high)

	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("set sailing range to %d%%-%d%%", low, high))
}

func (d *Daemon) setHeatProtection(c *gin.Context) {
	var req types.HeatProtectionRequest
	if err := c.BindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	if err := d.engine.SetHeatProtection(req.Enabled, req.Threshold); err != nil {
		logrus.Errorf("saveConfig failed: %v", err)
		abort(c, http.StatusInternalServerError, err)
		return
	}

	logrus.Infof("set heat protection to %t, threshold %.1f°C", d.conf.HeatProtection(), d.conf.HeatThreshold())

	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("heat protection set to %t, threshold %.1f°C", d.conf.HeatProtection(), d.conf.HeatThreshold()))
}

func (d *Daemon) setPreventSleep(c *gin.Context) {
	var p bool
	if err := c.BindJSON(&p); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	if err := d.engine.SetPreventSleep(p); err != nil {
		logrus.Errorf("saveConfig failed: %v", err)
		abort(c, http.StatusInternalServerError, err)
		return
	}

	logrus.Infof("set prevent sleep while charging to %t", p)

	c.IndentedJSON(http.StatusCreated, "ok")
}

func (d *Daemon) setControlMagSafeLED(c *gin.Context) {
	var enabled bool
	if err := c.BindJSON(&enabled); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	if err := d.engine.SetControlMagSafeLED(c.Request.Context(), enabled); err != nil {
		logrus.Errorf("failed to set magsafe led control: %v", err)
		abort(c, http.StatusInternalServerError, err)
		return
	}

	logrus.Infof("set control magsafe led to %t", enabled)

	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("ControlMagSafeLED set to %t. You should be able to see the effect in a few minutes.", enabled))
}

func (d *Daemon) getCalibration(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, d.calibrationStatus())
}

func (d *Daemon) startCalibration(c *gin.Context) {
	var req types.CalibrationStartRequest
	// The body is optional.
	if c.Request.ContentLength != 0 {
		if err := c.BindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			abort(c, http.StatusBadRequest, err)
			return
		}
	}

	err := d.engine.StartCalibration(req.Target)
	switch {
	case errors.Is(err, calibration.ErrInProgress):
		abort(c, http.StatusConflict, err)
		return
	case err != nil:
		abort(c, http.StatusInternalServerError, err)
		return
	}

	c.IndentedJSON(http.StatusCreated, d.calibrationStatus())
}

func (d *Daemon) cancelCalibration(c *gin.Context) {
	err := d.engine.CancelCalibration(c.Request.Context())
	switch {
	case errors.Is(err, calibration.ErrNotRunning):
		abort(c, http.StatusConflict, err)
		return
	case err != nil:
		abort(c, http.StatusInternalServerError, err)
		return
	}

	c.IndentedJSON(http.StatusCreated, d.calibrationStatus())
}

func (d *Daemon) setCalibrationSchedule(c *gin.Context) {
	var req types.CalibrationScheduleRequest
	if err := c.BindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	if err := d.scheduleCalibration(req.Cron); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	c.IndentedJSON(http.StatusCreated, d.calibrationStatus())
}

func (d *Daemon) postponeCalibrationHandler(c *gin.Context) {
	var req types.CalibrationPostponeRequest
	if err := c.BindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	dur, err := time.ParseDuration(req.Duration)
	if err != nil || dur <= 0 {
		abort(c, http.StatusBadRequest, fmt.Errorf("invalid duration %q", req.Duration))
		return
	}

	if err := d.postponeCalibration(dur); err != nil {
		abort(c, http.StatusConflict, err)
		return
	}

	c.IndentedJSON(http.StatusCreated, d.calibrationStatus())
}

func (d *Daemon) skipCalibrationHandler(c *gin.Context) {
	if err := d.skipCalibration(); err != nil {
		abort(c, http.StatusConflict, err)
		return
	}

	c.IndentedJSON(http.StatusCreated, d.calibrationStatus())
}

func (d *Daemon) listSchedules(c *gin.Context) {
	list := d.schedules.List()
	if list == nil {
		list = []schedule.Schedule{}
	}
	c.IndentedJSON(http.StatusOK, list)
}

func (d *Daemon) addSchedule(c *gin.Context) {
	var req types.ScheduleRequest
	if err := c.BindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	start, err := schedule.ParseMinute(req.Start)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	end, err := schedule.ParseMinute(req.End)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	days, err := schedule.ParseDays(req.Days)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	s, err := d.schedules.Add(schedule.New(start, end, req.Target, days))
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}

	logrus.WithField("schedule", s.String()).Info("schedule added")

	c.IndentedJSON(http.StatusCreated, s)
}

func (d *Daemon) removeSchedule(c *gin.Context) {
	id := c.Param("id")

	err := d.schedules.Remove(id)
	switch {
	case errors.Is(err, schedule.ErrNotFound):
		abort(c, http.StatusNotFound, err)
		return
	case err != nil:
		abort(c, http.StatusInternalServerError, err)
		return
	}

	logrus.WithField("id", id).Info("schedule removed")

	c.IndentedJSON(http.StatusOK, "ok")
}

func (d *Daemon) setScheduleEnabled(c *gin.Context) {
	var enabled bool
	if err := c.BindJSON(&enabled); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	id := c.Param("id")
	err := d.schedules.SetEnabled(id, enabled)
	switch {
	case errors.Is(err, schedule.ErrNotFound):
		abort(c, http.StatusNotFound, err)
		return
	case err != nil:
		abort(c, http.StatusInternalServerError, err)
		return
	}

	logrus.WithFields(logrus.Fields{"id": id, "enabled": enabled}).Info("schedule updated")

	c.IndentedJSON(http.StatusCreated, "ok")
}

func (d *Daemon) reconnect(c *gin.Context) {
	proxied := d.Connect(c.Request.Context())
	d.engine.Trigger()
	c.IndentedJSON(http.StatusOK, types.Connection{
		Proxied:      proxied,
		Disconnected: d.switcher.Disconnected(),
	})
}

func (d *Daemon) getCapabilities(c *gin.Context) {
	caps, err := d.switcher.Capabilities(c.Request.Context())
	if err != nil {
		abort(c, http.StatusServiceUnavailable, err)
		return
	}
	c.IndentedJSON(http.StatusOK, caps)
}

func (d *Daemon) getLogs(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, d.logs.Entries())
}

func (d *Daemon) clearLogs(c *gin.Context) {
	d.logs.Clear()
	c.IndentedJSON(http.StatusOK, "ok")
}

// streamEvents relays hub events as server-sent events until the client goes
// away or the hub is closed.
func (d *Daemon) streamEvents(c *gin.Context) {
	ch := d.hub.Subscribe()
	defer d.hub.Unsubscribe(ch)

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Header("Content-Type", "text/event-stream")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, string(ev.Data))
			return true
		}
	})
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}
