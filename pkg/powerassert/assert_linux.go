//go:build linux

package powerassert

import (
	"fmt"
	"os"

	"github.com/godbus/dbus/v5"
)

const (
	logindDest    = "org.freedesktop.login1"
	logindPath    = "/org/freedesktop/login1"
	logindInhibit = "org.freedesktop.login1.Manager.Inhibit"
)

// logindAsserter takes a systemd-logind "idle" inhibitor lock. The lock lives
// as long as the returned file descriptor stays open.
type logindAsserter struct{}

type logindAssertion struct {
	f *os.File
}

// NewAsserter returns a logind idle inhibitor asserter.
func NewAsserter() Asserter {
	return logindAsserter{}
}

func (logindAsserter) Acquire(reason string) (Assertion, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}

	var fd dbus.UnixFD
	obj := conn.Object(logindDest, dbus.ObjectPath(logindPath))
	err = obj.Call(logindInhibit, 0, "idle", "chargectl", reason, "block").Store(&fd)
	if err != nil {
		return nil, fmt.Errorf("logind inhibit failed: %w", err)
	}

	return &logindAssertion{f: os.NewFile(uintptr(fd), "logind-inhibit")}, nil
}

func (a *logindAssertion) Release() error {
	return a.f.Close()
}
