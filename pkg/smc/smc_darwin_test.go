//go:build darwin

package smc

import (
	"bytes"
	"testing"
)

func TestMockReadWrite(t *testing.T) {
	c := NewMock(map[string][]byte{
		ChargeCeilingKey: {CeilingLow},
	})
	if err := c.Open(); err != nil {
		t.Fatalf("Open() = %v", err)
	}
	defer c.Close()

	b, err := c.Read(ChargeCeilingKey)
	if err != nil {
		t.Fatalf("Read() = %v", err)
	}
	if !bytes.Equal(b, []byte{CeilingLow}) {
		t.Errorf("Read() = %v, want %v", b, []byte{CeilingLow})
	}

	if err := c.Write(ChargeCeilingKey, []byte{CeilingHigh}); err != nil {
		t.Fatalf("Write() = %v", err)
	}
	b, _ = c.Read(ChargeCeilingKey)
	if !bytes.Equal(b, []byte{CeilingHigh}) {
		t.Errorf("Read() after Write() = %v", b)
	}
}
