package store

import (
	"encoding/json"

	pkgerrors "github.com/pkg/errors"

	"github.com/chargectl/chargectl/pkg/calibration"
)

const calibrationKey = "calibration"

// LoadCalibration returns the saved calibration state. ok is false when
// nothing was saved yet.
func (d *DB) LoadCalibration() (calibration.State, bool, error) {
	var st calibration.State

	raw, ok, err := d.Get(calibrationKey)
	if err != nil || !ok {
		return st, false, err
	}

	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return st, false, pkgerrors.Wrap(err, "failed to decode calibration state")
	}
	return st, true, nil
}

// SaveCalibration persists st so a restart resumes the cycle.
func (d *DB) SaveCalibration(st calibration.State) error {
	b, err := json.Marshal(st)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to encode calibration state")
	}
	return d.Put(calibrationKey, string(b))
}
