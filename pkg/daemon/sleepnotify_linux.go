//go:build linux

package daemon

import (
	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
)

// listenSleepNotifications calls onWake every time logind reports that the
// system resumed. The returned function stops listening.
func listenSleepNotifications(onWake func()) (func(), error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, err
	}

	err = conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.login1.Manager"),
		dbus.WithMatchMember("PrepareForSleep"),
	)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	ch := make(chan *dbus.Signal, 16)
	conn.Signal(ch)
	done := make(chan struct{})

	go func() {
		defer conn.RemoveSignal(ch)
		for {
			select {
			case <-done:
				return
			case sig, ok := <-ch:
				if !ok {
					return
				}
				if len(sig.Body) < 1 {
					continue
				}
				sleeping, ok := sig.Body[0].(bool)
				if !ok {
					continue
				}
				if sleeping {
					logrus.Debug("system going to sleep")
					continue
				}
				logrus.Debug("system woke up")
				onWake()
			}
		}
	}()

	logrus.Info("registered and listening system sleep notifications")

	return func() {
		close(done)
		_ = conn.Close()
		logrus.Info("stopped listening system sleep notifications")
	}, nil
}
