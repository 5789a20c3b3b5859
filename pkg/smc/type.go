package smc

import (
	"errors"
)

// ErrUnavailable is returned when the platform has no SMC.
var ErrUnavailable = errors.New("smc: not available on this platform")

// ReadWriter reads and writes raw register bytes by key.
type ReadWriter interface {
	Read(key string) ([]byte, error)
	Write(key string, value []byte) error
}
