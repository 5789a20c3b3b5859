package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/chargectl/chargectl/pkg/hardware"
	"github.com/chargectl/chargectl/pkg/smc"
)

// Routes served by the privileged helper.
const (
	HelperPathPing          = "/ping"
	HelperPathVersion       = "/version"
	HelperPathCapabilities  = "/capabilities"
	HelperPathChargeLevel   = "/charge-level"
	HelperPathTemperatures  = "/temperatures"
	HelperPathChargeLimit   = "/charge-limit"
	HelperPathCharging      = "/charging"
	HelperPathChargeInhibit = "/charge-inhibit"
	HelperPathForceCharging = "/force-charging"
	HelperPathMagSafeLED    = "/magsafe-led"
)

// PingTimeout bounds the helper handshake.
const PingTimeout = 3 * time.Second

var _ hardware.Controller = &Helper{}

// Helper is a hardware.Controller that forwards every call to the privileged
// helper. Each call is a synchronous round trip bounded by the client timeout.
type Helper struct {
	c *Client
}

// NewHelper returns a Helper talking to the helper socket.
func NewHelper(socketPath string) *Helper {
	return &Helper{c: NewClient(socketPath)}
}

// NewHelperWithClient wraps an existing client.
func NewHelperWithClient(c *Client) *Helper {
	return &Helper{c: c}
}

func (h *Helper) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, PingTimeout)
	defer cancel()

	var ok bool
	if err := h.get(ctx, HelperPathPing, &ok); err != nil {
		return err
	}
	if !ok {
		return hardware.ErrHardwareUnavailable
	}
	return nil
}

func (h *Helper) Version(ctx context.Context) (string, error) {
	var v string
	err := h.get(ctx, HelperPathVersion, &v)
	return v, err
}

func (h *Helper) Capabilities(ctx context.Context) (hardware.Capabilities, error) {
	var caps hardware.Capabilities
	err := h.get(ctx, HelperPathCapabilities, &caps)
	return caps, err
}

func (h *Helper) ReadChargeLevel(ctx context.Context) (int, error) {
	var level int
	err := h.get(ctx, HelperPathChargeLevel, &level)
	return level, err
}

func (h *Helper) ReadTemperatures(ctx context.Context) ([]float64, error) {
	var temps []float64
	err := h.get(ctx, HelperPathTemperatures, &temps)
	return temps, err
}

func (h *Helper) SetChargeLimit(ctx context.Context, limit byte) error {
	return h.put(ctx, HelperPathChargeLimit, strconv.Itoa(int(limit)))
}

func (h *Helper) SetChargingEnabled(ctx context.Context, enabled bool) error {
	return h.put(ctx, HelperPathCharging, strconv.FormatBool(enabled))
}

func (h *Helper) SetChargeInhibit(ctx context.Context, inhibit bool) error {
	return h.put(ctx, HelperPathChargeInhibit, strconv.FormatBool(inhibit))
}

func (h *Helper) SetForceCharging(ctx context.Context, force bool) error {
	return h.put(ctx, HelperPathForceCharging, strconv.FormatBool(force))
}

func (h *Helper) SetMagSafeLED(ctx context.Context, state smc.MagSafeLedState) error {
	return h.put(ctx, HelperPathMagSafeLED, strconv.Itoa(int(state)))
}

func (h *Helper) get(ctx context.Context, path string, out any) error {
	ret, err := h.c.SendContext(ctx, http.MethodGet, path, "")
	if err != nil {
		return mapHelperError(ctx, err)
	}
	if err := json.Unmarshal([]byte(ret), out); err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal %s", path)
	}
	return nil
}

// put sends a setter and expects a boolean reply; false means the helper
// could not write any register variant.
func (h *Helper) put(ctx context.Context, path string, data string) error {
	ret, err := h.c.SendContext(ctx, http.MethodPut, path, data)
	if err != nil {
		return mapHelperError(ctx, err)
	}

	ok, err := parseBoolResponse(ret)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: helper rejected %s", hardware.ErrRegisterWriteFailed, path)
	}
	return nil
}

// mapHelperError turns transport failures into hardware errors.
func mapHelperError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", hardware.ErrIPCTimeout, err)
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case http.StatusNotImplemented:
			return fmt.Errorf("%w: %s", hardware.ErrCapabilityMissing, se.Body)
		case http.StatusServiceUnavailable:
			return fmt.Errorf("%w: %s", hardware.ErrHardwareUnavailable, se.Body)
		default:
			return fmt.Errorf("%w: %v", hardware.ErrRegisterWriteFailed, se)
		}
	}

	return fmt.Errorf("%w: %v", hardware.ErrHardwareUnavailable, err)
}
