package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(weekday time.Weekday, hour, minute int) time.Time {
	// 2026-03-01 is a Sunday.
	return time.Date(2026, 3, 1+int(weekday), hour, minute, 0, 0, time.Local)
}

func TestIsActiveAt_Overnight(t *testing.T) {
	s := New(23*60, 7*60, 60, nil)

	assert.True(t, s.IsActiveAt(at(time.Monday, 0, 30)))
	assert.True(t, s.IsActiveAt(at(time.Monday, 6, 59)))
	assert.True(t, s.IsActiveAt(at(time.Monday, 23, 0)))
	assert.False(t, s.IsActiveAt(at(time.Monday, 7, 0)))
	assert.False(t, s.IsActiveAt(at(time.Monday, 8, 0)))
	assert.False(t, s.IsActiveAt(at(time.Monday, 22, 59)))
}

func TestIsActiveAt(t *testing.T) {
	tests := []struct {
		name string
		s    Schedule
		t    time.Time
		want bool
	}{
		{
			name: "inside daytime window",
			s:    New(9*60, 17*60, 50, nil),
			t:    at(time.Wednesday, 12, 0),
			want: true,
		},
		{
			name: "end is exclusive",
			s:    New(9*60, 17*60, 50, nil),
			t:    at(time.Wednesday, 17, 0),
			want: false,
		},
		{
			name: "weekday matches",
			s:    New(9*60, 17*60, 50, []time.Weekday{time.Monday, time.Wednesday}),
			t:    at(time.Wednesday, 9, 0),
			want: true,
		},
		{
			name: "weekday does not match",
			s:    New(9*60, 17*60, 50, []time.Weekday{time.Monday}),
			t:    at(time.Tuesday, 10, 0),
			want: false,
		},
		{
			name: "disabled",
			s:    Schedule{StartMinute: 0, EndMinute: 1439, TargetPercent: 50},
			t:    at(time.Tuesday, 10, 0),
			want: false,
		},
		{
			name: "empty window",
			s:    New(600, 600, 50, nil),
			t:    at(time.Tuesday, 10, 0),
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.s.IsActiveAt(tt.t))
		})
	}
}

func TestNormalize(t *testing.T) {
	s := New(-10, 5000, 5, []time.Weekday{time.Friday, time.Monday, time.Friday, 9})

	assert.Equal(t, 0, s.StartMinute)
	assert.Equal(t, 1439, s.EndMinute)
	assert.Equal(t, MinTarget, s.TargetPercent)
	assert.Equal(t, []time.Weekday{time.Monday, time.Friday}, s.RepeatDays)
	assert.NotEmpty(t, s.ID)
	assert.True(t, s.Enabled)
}

func TestParseDays(t *testing.T) {
	days, err := ParseDays("mon, Wednesday,fri")
	require.NoError(t, err)
	assert.Equal(t, []time.Weekday{time.Monday, time.Wednesday, time.Friday}, days)

	days, err = ParseDays("daily")
	require.NoError(t, err)
	assert.Len(t, days, 7)
	assert.Equal(t, "every day", FormatDays(days))

	days, err = ParseDays("")
	require.NoError(t, err)
	assert.Empty(t, days)
	assert.Equal(t, "once", FormatDays(days))

	_, err = ParseDays("mon,funday")
	assert.Error(t, err)
}

func TestParseMinute(t *testing.T) {
	m, err := ParseMinute("23:30")
	require.NoError(t, err)
	assert.Equal(t, 23*60+30, m)
	assert.Equal(t, "23:30", FormatMinute(m))

	_, err = ParseMinute("25:00")
	assert.Error(t, err)
}
