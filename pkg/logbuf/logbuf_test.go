package logbuf

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestBuffer(t *testing.T) {
	b := New(3, logrus.InfoLevel)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.TraceLevel)
	logger.AddHook(b)

	logger.Debug("not kept")
	logger.Info("one")
	if got := b.Entries(); len(got) != 1 || got[0].Message != "one" {
		t.Fatalf("unexpected entries %+v", got)
	}

	for i := 2; i <= 5; i++ {
		logger.WithError(errors.New("boom")).Warn(fmt.Sprint(i))
	}

	got := b.Entries()
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	for i, want := range []string{"3", "4", "5"} {
		if got[i].Message != want {
			t.Fatalf("entry %d = %q, want %q", i, got[i].Message, want)
		}
	}
	if got[0].Level != "warning" || got[0].Fields[logrus.ErrorKey] != "boom" {
		t.Fatalf("unexpected entry %+v", got[0])
	}

	b.Clear()
	if len(b.Entries()) != 0 {
		t.Fatal("expected empty buffer")
	}
}
