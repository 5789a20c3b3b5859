// Package schedule holds time-windowed charge limit overrides and the
// evaluator that applies them.
package schedule

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

const minutesPerDay = 24 * 60

// Target percent bounds, same as the charge limit.
const (
	MinTarget = 20
	MaxTarget = 100
)

// Schedule overrides the charge limit with TargetPercent while the local time
// is inside [StartMinute, EndMinute). A window with StartMinute > EndMinute
// wraps past midnight. An empty RepeatDays matches every day and marks a
// one-shot schedule, which disables itself once its window has passed.
type Schedule struct {
	ID            string         `json:"id"`
	StartMinute   int            `json:"startMinute"`
	EndMinute     int            `json:"endMinute"`
	TargetPercent int            `json:"targetPercent"`
	RepeatDays    []time.Weekday `json:"repeatDays,omitempty"`
	Enabled       bool           `json:"enabled"`
}

// New returns an enabled schedule with a fresh id and clamped bounds.
func New(startMinute, endMinute, target int, days []time.Weekday) Schedule {
	return Schedule{
		ID:            uuid.NewString(),
		StartMinute:   startMinute,
		EndMinute:     endMinute,
		TargetPercent: target,
		RepeatDays:    days,
		Enabled:       true,
	}.Normalize()
}

// Normalize clamps the bounds and sorts and dedupes RepeatDays.
func (s Schedule) Normalize() Schedule {
	s.StartMinute = clamp(s.StartMinute, 0, minutesPerDay-1)
	s.EndMinute = clamp(s.EndMinute, 0, minutesPerDay-1)
	s.TargetPercent = clamp(s.TargetPercent, MinTarget, MaxTarget)

	var days []time.Weekday
	for _, d := range s.RepeatDays {
		if d < time.Sunday || d > time.Saturday || slices.Contains(days, d) {
			continue
		}
		days = append(days, d)
	}
	slices.Sort(days)
	s.RepeatDays = days

	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return s
}

// OneShot reports whether the schedule has no repeat days.
func (s Schedule) OneShot() bool {
	return len(s.RepeatDays) == 0
}

// IsActiveAt reports whether the schedule applies at t, in t's location.
func (s Schedule) IsActiveAt(t time.Time) bool {
	if !s.Enabled {
		return false
	}
	if len(s.RepeatDays) > 0 && !slices.Contains(s.RepeatDays, t.Weekday()) {
		return false
	}

	now := t.Hour()*60 + t.Minute()
	if s.StartMinute <= s.EndMinute {
		return now >= s.StartMinute && now < s.EndMinute
	}
	// Overnight window.
	return now >= s.StartMinute || now < s.EndMinute
}

func (s Schedule) String() string {
	return fmt.Sprintf("%s-%s %d%% %s", FormatMinute(s.StartMinute), FormatMinute(s.EndMinute), s.TargetPercent, FormatDays(s.RepeatDays))
}

// FormatMinute formats a minute of day as HH:MM.
func FormatMinute(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// ParseMinute parses HH:MM into a minute of day.
func ParseMinute(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q, expected HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// FormatDays formats repeat days as short weekday names.
func FormatDays(days []time.Weekday) string {
	switch len(days) {
	case 0:
		return "once"
	case 7:
		return "every day"
	}

	names := make([]string, 0, len(days))
	for _, d := range days {
		names = append(names, d.String()[:3])
	}
	return strings.Join(names, ",")
}

// ParseDays parses a comma separated list of weekday names such as
// "mon,tue". "daily" and "every" mean all seven days; an empty string means
// none.
func ParseDays(s string) ([]time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return nil, nil
	case "daily", "every", "everyday":
		return []time.Weekday{time.Sunday, time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday}, nil
	case "weekdays":
		return []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}, nil
	case "weekends":
		return []time.Weekday{time.Sunday, time.Saturday}, nil
	}

	var days []time.Weekday
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		found := false
		for d := time.Sunday; d <= time.Saturday; d++ {
			name := strings.ToLower(d.String())
			if part == name || part == name[:3] {
				days = append(days, d)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown weekday %q", part)
		}
	}
	return days, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
