// Package helper is the privileged side of chargectl. It runs as root, owns
// the SMC connection, and serves a small request/reply API over a unix socket
// that the unprivileged daemon reaches through client.Helper.
package helper

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/chargectl/chargectl/pkg/client"
	"github.com/chargectl/chargectl/pkg/hardware"
	"github.com/chargectl/chargectl/pkg/utils/ginlog"
)

// Server exposes a hardware.Controller over HTTP.
type Server struct {
	ctrl hardware.Controller
	srv  *http.Server
}

// NewServer returns a Server backed by ctrl, normally a hardware.Local.
func NewServer(ctrl hardware.Controller) *Server {
	s := &Server{ctrl: ctrl}
	s.srv = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginlog.Logger(logrus.StandardLogger()))
	router.GET(client.HelperPathPing, s.ping)
	router.GET(client.HelperPathVersion, s.version)
	router.GET(client.HelperPathCapabilities, s.capabilities)
	router.GET(client.HelperPathChargeLevel, s.chargeLevel)
	router.GET(client.HelperPathTemperatures, s.temperatures)
	router.PUT(client.HelperPathChargeLimit, s.setChargeLimit)
	router.PUT(client.HelperPathCharging, s.setBool(s.ctrl.SetChargingEnabled))
	router.PUT(client.HelperPathChargeInhibit, s.setBool(s.ctrl.SetChargeInhibit))
	router.PUT(client.HelperPathForceCharging, s.setBool(s.ctrl.SetForceCharging))
	router.PUT(client.HelperPathMagSafeLED, s.setMagSafeLED)

	return router
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Serve listens on socketPath until ctx is cancelled. With allowNonRoot the
// socket is made world-accessible so an unprivileged daemon can reach it.
func (s *Server) Serve(ctx context.Context, socketPath string, allowNonRoot bool) error {
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return err
	}

	l, err := net.Listen("unix", socketPath)
	if err != nil {
		return err
	}

	if allowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", socketPath)
		if err := os.Chmod(socketPath, 0777); err != nil {
			_ = l.Close()
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.Infof("helper listening on %s", l.Addr().String())
		if err := s.srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logrus.Info("shutting down helper")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}
