package helper

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/chargectl/chargectl/pkg/hardware"
	"github.com/chargectl/chargectl/pkg/smc"
)

// statusFor maps a controller error to the reply status understood by
// client.Helper.
func statusFor(err error) int {
	switch {
	case errors.Is(err, hardware.ErrCapabilityMissing):
		return http.StatusNotImplemented
	case errors.Is(err, hardware.ErrHardwareUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func abort(c *gin.Context, err error) {
	code := statusFor(err)
	c.IndentedJSON(code, err.Error())
	_ = c.AbortWithError(code, err)
}

func (s *Server) ping(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, s.ctrl.Ping(c.Request.Context()) == nil)
}

func (s *Server) version(c *gin.Context) {
	v, err := s.ctrl.Version(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, v)
}

func (s *Server) capabilities(c *gin.Context) {
	caps, err := s.ctrl.Capabilities(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, caps)
}

func (s *Server) chargeLevel(c *gin.Context) {
	level, err := s.ctrl.ReadChargeLevel(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, level)
}

func (s *Server) temperatures(c *gin.Context) {
	temps, err := s.ctrl.ReadTemperatures(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, temps)
}

// reply answers a setter. A rejected write is a normal false reply; missing
// capabilities and an absent SMC are reported through the status code.
func reply(c *gin.Context, err error) {
	if err == nil {
		c.IndentedJSON(http.StatusOK, true)
		return
	}
	if errors.Is(err, hardware.ErrRegisterWriteFailed) {
		logrus.WithError(err).Warn("register write failed")
		c.IndentedJSON(http.StatusOK, false)
		return
	}
	abort(c, err)
}

func (s *Server) setChargeLimit(c *gin.Context) {
	var l int
	if err := c.BindJSON(&l); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}
	if l < 0 || l > 100 {
		l = 100
	}

	reply(c, s.ctrl.SetChargeLimit(c.Request.Context(), byte(l)))
}

func (s *Server) setBool(set func(context.Context, bool) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		var b bool
		if err := c.BindJSON(&b); err != nil {
			c.IndentedJSON(http.StatusBadRequest, err.Error())
			_ = c.AbortWithError(http.StatusBadRequest, err)
			return
		}

		reply(c, set(c.Request.Context(), b))
	}
}

func (s *Server) setMagSafeLED(c *gin.Context) {
	var v uint8
	if err := c.BindJSON(&v); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	reply(c, s.ctrl.SetMagSafeLED(c.Request.Context(), smc.MagSafeLedState(v)))
}
