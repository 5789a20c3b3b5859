package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFile_Defaults(t *testing.T) {
	f, err := NewFile(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, 80, f.Limit())
	assert.Equal(t, "normal", f.Mode())
	assert.Equal(t, 65, f.SailingLow())
	assert.Equal(t, 80, f.SailingHigh())
	assert.True(t, f.HeatProtection())
	assert.Equal(t, 40.0, f.HeatThreshold())
	assert.True(t, f.RestoreOnStop())
	assert.False(t, f.PreventSleepWhileCharging())
	assert.Equal(t, 15, f.CalibrationTarget())
	assert.Empty(t, f.CalibrationCron())
	assert.True(t, f.LastCalibration().IsZero())
}

func TestFile_Clamping(t *testing.T) {
	f := NewFileFromConfig(nil, "")

	tests := []struct {
		in, want int
	}{
		{-5, 20},
		{0, 20},
		{19, 20},
		{20, 20},
		{73, 73},
		{100, 100},
		{150, 100},
	}
	for _, tt := range tests {
		f.SetLimit(tt.in)
		assert.Equal(t, tt.want, f.Limit(), "SetLimit(%d)", tt.in)
	}

	f.SetSailing(90, 40)
	assert.Equal(t, 90, f.SailingLow())
	assert.Equal(t, 91, f.SailingHigh())

	f.SetSailing(0, 200)
	assert.Equal(t, 20, f.SailingLow())
	assert.Equal(t, 100, f.SailingHigh())

	f.SetHeatThreshold(100)
	assert.Equal(t, MaxHeatThreshold, f.HeatThreshold())

	f.SetCalibrationTarget(1)
	assert.Equal(t, MinCalibrationTarget, f.CalibrationTarget())
}

func TestFile_SailingBandIsNeverTorn(t *testing.T) {
	f := NewFileFromConfig(nil, "")
	f.SetSailing(85, 95)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			if i%2 == 0 {
				f.SetSailing(30, 40)
			} else {
				f.SetSailing(85, 95)
			}
		}
	}()

	torn := 0
	for i := 0; i < 20000; i++ {
		p := f.Policy()
		if !(p.SailingLow == 30 && p.SailingHigh == 40) && !(p.SailingLow == 85 && p.SailingHigh == 95) {
			torn++
		}
	}
	close(stop)
	wg.Wait()

	assert.Zero(t, torn, "policy mixed bounds of two sailing bands")
}

func TestFile_Policy(t *testing.T) {
	f := NewFileFromConfig(nil, "")
	f.SetLimit(150)
	f.SetMode("sailing")
	f.SetSailing(50, 60)
	f.SetHeatThreshold(10)
	f.SetPreventSleepWhileCharging(true)

	assert.Equal(t, Policy{
		Limit:                     100,
		Mode:                      "sailing",
		SailingLow:                50,
		SailingHigh:               60,
		HeatProtection:            true,
		HeatThreshold:             MinHeatThreshold,
		PreventSleepWhileCharging: true,
		ControlMagSafeLED:         false,
	}, f.Policy())
}

func TestFile_HandEditedValuesAreClamped(t *testing.T) {
	p := filepath.Join(t.TempDir(), "chargectl.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"limit": 5, "sailingLow": 99, "sailingHigh": 10}`), 0644))

	f, err := NewFile(p)
	require.NoError(t, err)
	assert.Equal(t, 20, f.Limit())
	assert.Equal(t, 99, f.SailingLow())
	assert.Equal(t, 100, f.SailingHigh())
}

func TestFile_SaveLoad(t *testing.T) {
	for _, name := range []string{"chargectl.json", "chargectl.toml"} {
		t.Run(name, func(t *testing.T) {
			p := filepath.Join(t.TempDir(), name)
			f, err := NewFile(p)
			require.NoError(t, err)

			last := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			f.SetLimit(72)
			f.SetMode("sailing")
			f.SetHeatProtection(false)
			f.SetCalibrationCron("0 10 1 * *")
			f.SetLastCalibration(last)
			require.NoError(t, f.Save())

			g, err := NewFile(p)
			require.NoError(t, err)
			assert.Equal(t, 72, g.Limit())
			assert.Equal(t, "sailing", g.Mode())
			assert.False(t, g.HeatProtection())
			assert.Equal(t, "0 10 1 * *", g.CalibrationCron())
			assert.True(t, last.Equal(g.LastCalibration()))
			// Untouched fields keep their defaults.
			assert.Equal(t, 65, g.SailingLow())

			_, err = os.Stat(p + ".tmp")
			assert.True(t, os.IsNotExist(err))
		})
	}
}

func TestFile_EmptyFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "chargectl.json")
	require.NoError(t, os.WriteFile(p, []byte("  \n"), 0644))

	f, err := NewFile(p)
	require.NoError(t, err)
	assert.Equal(t, 80, f.Limit())
}

func TestNewRawFileConfigFromConfig(t *testing.T) {
	f := NewFileFromConfig(nil, "")
	f.SetLimit(90)

	raw, err := NewRawFileConfigFromConfig(f)
	require.NoError(t, err)
	require.NotNil(t, raw.Limit)
	assert.Equal(t, 90, *raw.Limit)
	assert.Nil(t, raw.LastCalibration)

	_, err = NewRawFileConfigFromConfig(nil)
	assert.Error(t, err)
}
