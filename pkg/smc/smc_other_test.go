//go:build !darwin

package smc

import (
	"errors"
	"testing"
)

func TestUnavailable(t *testing.T) {
	c := New()
	if err := c.Open(); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Open() = %v, want ErrUnavailable", err)
	}
	if _, err := c.Read(ChargeCeilingKey); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Read() = %v, want ErrUnavailable", err)
	}
	if err := c.Write(ChargeCeilingKey, []byte{CeilingHigh}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Write() = %v, want ErrUnavailable", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}
