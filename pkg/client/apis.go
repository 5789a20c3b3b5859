package client

import (
	"encoding/json"
	"strconv"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/chargectl/chargectl/pkg/calibration"
	"github.com/chargectl/chargectl/pkg/config"
	"github.com/chargectl/chargectl/pkg/engine"
	"github.com/chargectl/chargectl/pkg/hardware"
	"github.com/chargectl/chargectl/pkg/logbuf"
	"github.com/chargectl/chargectl/pkg/schedule"
	"github.com/chargectl/chargectl/pkg/types"
)

func (c *Client) GetStatus() (*types.Status, error) {
	var s types.Status
	if err := c.getJSON("/status", &s); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get status")
	}
	return &s, nil
}

func (c *Client) GetConfig() (*config.RawFileConfig, error) {
	var conf config.RawFileConfig
	if err := c.getJSON("/config", &conf); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get config")
	}
	return &conf, nil
}

func (c *Client) GetLimit() (int, error) {
	ret, err := c.Get("/limit")
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "failed to get charge limit")
	}
	l, err := strconv.Atoi(ret)
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "failed to unmarshal charge limit")
	}
	return l, nil
}

func (c *Client) SetLimit(l int) (string, error) {
	return c.putJSON("/limit", l)
}

func (c *Client) GetMode() (engine.Mode, error) {
	var m engine.Mode
	if err := c.getJSON("/mode", &m); err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get mode")
	}
	return m, nil
}

func (c *Client) SetMode(m engine.Mode) (string, error) {
	return c.putJSON("/mode", m)
}

func (c *Client) SetSailing(low, high int) (string, error) {
	return c.putJSON("/sailing", types.SailingRequest{Low: low, High: high})
}

func (c *Client) SetHeatProtection(enabled bool, threshold float64) (string, error) {
	return c.putJSON("/heat-protection", types.HeatProtectionRequest{Enabled: enabled, Threshold: threshold})
}

func (c *Client) SetPreventSleep(enabled bool) (string, error) {
	return c.Put("/prevent-sleep", strconv.FormatBool(enabled))
}

func (c *Client) SetControlMagSafeLED(enabled bool) (string, error) {
	return c.Put("/magsafe-led", strconv.FormatBool(enabled))
}

// ===== Calibration APIs =====

func (c *Client) GetCalibration() (*calibration.Status, error) {
	var st calibration.Status
	if err := c.getJSON("/calibration", &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get calibration status")
	}
	return &st, nil
}

// StartCalibration starts a cycle. A target <= 0 uses the configured one.
func (c *Client) StartCalibration(target int) (*calibration.Status, error) {
	return c.calibrationAction("/calibration/start", types.CalibrationStartRequest{Target: target})
}

func (c *Client) CancelCalibration() (*calibration.Status, error) {
	return c.calibrationAction("/calibration/cancel", nil)
}

// ScheduleCalibration sets the cron expression. An empty one disables
// scheduled calibration.
func (c *Client) ScheduleCalibration(cron string) (*calibration.Status, error) {
	ret, err := c.putJSON("/calibration/schedule", types.CalibrationScheduleRequest{Cron: cron})
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to schedule calibration")
	}
	return decodeCalibrationStatus(ret)
}

func (c *Client) PostponeCalibration(d time.Duration) (*calibration.Status, error) {
	return c.calibrationAction("/calibration/postpone", types.CalibrationPostponeRequest{Duration: d.String()})
}

func (c *Client) SkipCalibration() (*calibration.Status, error) {
	return c.calibrationAction("/calibration/skip", nil)
}

func (c *Client) calibrationAction(path string, body any) (*calibration.Status, error) {
	ret, err := c.postJSON(path, body)
	if err != nil {
		return nil, err
	}
	return decodeCalibrationStatus(ret)
}

func decodeCalibrationStatus(ret string) (*calibration.Status, error) {
	var st calibration.Status
	if err := json.Unmarshal([]byte(ret), &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal calibration status")
	}
	return &st, nil
}

// ===== Schedule APIs =====

func (c *Client) ListSchedules() ([]schedule.Schedule, error) {
	var list []schedule.Schedule
	if err := c.getJSON("/schedules", &list); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to list schedules")
	}
	return list, nil
}

func (c *Client) AddSchedule(req types.ScheduleRequest) (*schedule.Schedule, error) {
	ret, err := c.postJSON("/schedules", req)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to add schedule")
	}
	var s schedule.Schedule
	if err := json.Unmarshal([]byte(ret), &s); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal schedule")
	}
	return &s, nil
}

func (c *Client) RemoveSchedule(id string) error {
	_, err := c.Delete("/schedules/" + id)
	return err
}

func (c *Client) SetScheduleEnabled(id string, enabled bool) error {
	_, err := c.Put("/schedules/"+id+"/enabled", strconv.FormatBool(enabled))
	return err
}

// ===== Misc APIs =====

// Reconnect asks the daemon to repeat the helper handshake.
func (c *Client) Reconnect() (*types.Connection, error) {
	ret, err := c.Post("/reconnect", "")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to reconnect")
	}
	var conn types.Connection
	if err := json.Unmarshal([]byte(ret), &conn); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal connection")
	}
	return &conn, nil
}

func (c *Client) GetCapabilities() (*hardware.Capabilities, error) {
	var caps hardware.Capabilities
	if err := c.getJSON("/capabilities", &caps); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get capabilities")
	}
	return &caps, nil
}

func (c *Client) GetLogs() ([]logbuf.Entry, error) {
	var entries []logbuf.Entry
	if err := c.getJSON("/logs", &entries); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get logs")
	}
	return entries, nil
}

func (c *Client) ClearLogs() error {
	_, err := c.Delete("/logs")
	return err
}

func (c *Client) GetVersion() (string, error) {
	ret, err := c.Get("/version")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get version")
	}
	// Remove "" around JSON string. I don't want to use a JSON decoder just for this.
	if len(ret) >= 2 && ret[0] == '"' {
		ret = ret[1 : len(ret)-1]
	}
	return ret, nil
}

func (c *Client) getJSON(path string, v any) error {
	ret, err := c.Get(path)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(ret), v)
}

func (c *Client) putJSON(path string, v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return c.Put(path, string(b))
}

func (c *Client) postJSON(path string, v any) (string, error) {
	if v == nil {
		return c.Post(path, "")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return c.Post(path, string(b))
}

func parseBoolResponse(resp string) (bool, error) {
	switch resp {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, pkgerrors.Errorf("unexpected response: %s", resp)
	}
}
