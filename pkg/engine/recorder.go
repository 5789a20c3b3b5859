package engine

import (
	"sync"
	"time"
)

// TimeSeriesRecorder records the last N evaluation times.
type TimeSeriesRecorder struct {
	MaxRecordCount int
	// Interval is the expected gap between two records.
	Interval time.Duration

	mu      sync.Mutex
	records []time.Time
	now     func() time.Time
}

// NewTimeSeriesRecorder returns a new TimeSeriesRecorder.
func NewTimeSeriesRecorder(maxRecordCount int, interval time.Duration) *TimeSeriesRecorder {
	return &TimeSeriesRecorder{
		MaxRecordCount: maxRecordCount,
		Interval:       interval,
		records:        make([]time.Time, 0, maxRecordCount),
		now:            time.Now,
	}
}

// AddRecord adds a new record.
func (r *TimeSeriesRecorder) AddRecord(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Strip the monotonic clock reading, so time.Since stays accurate across
	// system sleep.
	t = t.Round(0)

	if len(r.records) >= r.MaxRecordCount {
		r.records = r.records[1:]
	}
	r.records = append(r.records, t)
}

// ClearRecords clears all records.
func (r *TimeSeriesRecorder) ClearRecords() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = make([]time.Time, 0, r.MaxRecordCount)
}

// GetRecords returns a copy of the records, oldest first.
func (r *TimeSeriesRecorder) GetRecords() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]time.Time, len(r.records))
	copy(out, r.records)
	return out
}

// GetRecordsIn returns the number of continuous records in the last duration.
// Two records are continuous when they are less than Interval+1s apart.
func (r *TimeSeriesRecorder) GetRecordsIn(last time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	gap := r.Interval + time.Second

	// The last record must be within the last interval.
	if len(r.records) > 0 && now.Sub(r.records[len(r.records)-1]) >= gap {
		return 0
	}

	count := 0
	for i := len(r.records) - 1; i >= 0; i-- {
		record := r.records[i]
		if now.Sub(record) > last {
			break
		}

		theRecordAfter := record
		if i+1 < len(r.records) {
			theRecordAfter = r.records[i+1]
		}

		if theRecordAfter.Sub(record) >= gap {
			break
		}
		count++
	}

	return count
}

// GetLastRecords returns the records in the last duration, newest first.
func (r *TimeSeriesRecorder) GetLastRecords(last time.Duration) []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var records []time.Time
	for i := len(r.records) - 1; i >= 0; i-- {
		record := r.records[i]
		if now.Sub(record) > last {
			break
		}
		records = append(records, record)
	}

	return records
}

// GetLastRecord returns the last record, or the zero time.
func (r *TimeSeriesRecorder) GetLastRecord() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.records) == 0 {
		return time.Time{}
	}
	return r.records[len(r.records)-1]
}

func formatRelativeTimes(now time.Time, times []time.Time) []string {
	var out []string
	for _, t := range times {
		out = append(out, now.Sub(t).Round(time.Second).String())
	}
	return out
}
