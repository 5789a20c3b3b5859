//go:build !linux

package daemon

// listenSleepNotifications is not available on this platform. Evaluations
// after wake happen on the next engine tick.
func listenSleepNotifications(func()) (func(), error) {
	return nil, nil
}
