package store

import (
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/chargectl/chargectl/pkg/schedule"
)

var _ schedule.Repository = &DB{}

// LoadSchedules returns the schedules in their saved order.
func (d *DB) LoadSchedules() ([]schedule.Schedule, error) {
	rows, err := d.db.Query(`SELECT id, start_minute, end_minute, target, repeat_days, enabled
		FROM schedules ORDER BY position`)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to query schedules")
	}
	defer rows.Close()

	var list []schedule.Schedule
	for rows.Next() {
		var (
			s    schedule.Schedule
			days string
		)
		if err := rows.Scan(&s.ID, &s.StartMinute, &s.EndMinute, &s.TargetPercent, &days, &s.Enabled); err != nil {
			return nil, pkgerrors.Wrap(err, "failed to scan schedule")
		}
		s.RepeatDays, err = decodeDays(days)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "schedule %s", s.ID)
		}
		list = append(list, s)
	}

	return list, pkgerrors.Wrap(rows.Err(), "failed to read schedules")
}

// SaveSchedules replaces the stored list with list.
func (d *DB) SaveSchedules(list []schedule.Schedule) error {
	tx, err := d.db.Begin()
	if err != nil {
		return pkgerrors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM schedules`); err != nil {
		return pkgerrors.Wrap(err, "failed to clear schedules")
	}

	for i, s := range list {
		_, err := tx.Exec(`INSERT INTO schedules (id, position, start_minute, end_minute, target, repeat_days, enabled)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			s.ID, i, s.StartMinute, s.EndMinute, s.TargetPercent, encodeDays(s.RepeatDays), s.Enabled)
		if err != nil {
			return pkgerrors.Wrapf(err, "failed to insert schedule %s", s.ID)
		}
	}

	return pkgerrors.Wrap(tx.Commit(), "failed to commit schedules")
}

func encodeDays(days []time.Weekday) string {
	parts := make([]string, 0, len(days))
	for _, d := range days {
		parts = append(parts, strconv.Itoa(int(d)))
	}
	return strings.Join(parts, ",")
}

func decodeDays(s string) ([]time.Weekday, error) {
	if s == "" {
		return nil, nil
	}

	var days []time.Weekday
	for _, p := range strings.Split(s, ",") {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		days = append(days, time.Weekday(n))
	}
	return days, nil
}
