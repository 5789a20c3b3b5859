// Package logbuf keeps the most recent log entries in memory so the daemon can
// serve them to clients.
package logbuf

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultCapacity is the number of entries kept by New(0).
const DefaultCapacity = 200

// Entry is one buffered log line.
type Entry struct {
	Time    time.Time     `json:"time"`
	Level   string        `json:"level"`
	Message string        `json:"message"`
	Fields  logrus.Fields `json:"fields,omitempty"`
}

// Buffer is a fixed-size ring of log entries. It is a logrus.Hook.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
	levels  []logrus.Level
}

var _ logrus.Hook = &Buffer{}

// New returns a Buffer keeping capacity entries at minLevel or more severe.
func New(capacity int, minLevel logrus.Level) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	var levels []logrus.Level
	for _, l := range logrus.AllLevels {
		if l <= minLevel {
			levels = append(levels, l)
		}
	}

	return &Buffer{
		entries: make([]Entry, capacity),
		levels:  levels,
	}
}

func (b *Buffer) Levels() []logrus.Level {
	return b.levels
}

func (b *Buffer) Fire(e *logrus.Entry) error {
	var fields logrus.Fields
	if len(e.Data) > 0 {
		fields = make(logrus.Fields, len(e.Data))
		for k, v := range e.Data {
			if err, ok := v.(error); ok {
				v = err.Error()
			}
			fields[k] = v
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.next] = Entry{
		Time:    e.Time,
		Level:   e.Level.String(),
		Message: e.Message,
		Fields:  fields,
	}
	b.next = (b.next + 1) % len(b.entries)
	if b.next == 0 {
		b.full = true
	}

	return nil
}

// Entries returns the buffered entries, oldest first.
func (b *Buffer) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.full {
		return append([]Entry(nil), b.entries[:b.next]...)
	}

	out := make([]Entry, 0, len(b.entries))
	out = append(out, b.entries[b.next:]...)
	out = append(out, b.entries[:b.next]...)
	return out
}

// Clear drops every entry.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.entries)
	b.next = 0
	b.full = false
}
