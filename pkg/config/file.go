package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/chargectl/chargectl/pkg/utils/ptr"
)

var (
	defaultFileConfig = &RawFileConfig{
		Limit:                     ptr.To(80),
		Mode:                      ptr.To("normal"),
		SailingLow:                ptr.To(65),
		SailingHigh:               ptr.To(80),
		HeatProtection:            ptr.To(true),
		HeatThreshold:             ptr.To(40.0),
		RestoreOnStop:             ptr.To(true),
		PreventSleepWhileCharging: ptr.To(false),
		// Not every Mac has a MagSafe LED, so this is opt-in.
		ControlMagSafeLED:  ptr.To(false),
		AllowNonRootAccess: ptr.To(false),
		CalibrationTarget:  ptr.To(15),
		CalibrationCron:    ptr.To(""),
	}
)

var _ Config = &File{}

// File is a Config stored in a JSON file, or TOML when the path ends in
// ".toml". Unset fields fall back to defaults.
type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}

	f := &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}

	return f
}

type RawFileConfig struct {
	Limit                     *int       `json:"limit,omitempty" toml:"limit,omitempty"`
	Mode                      *string    `json:"mode,omitempty" toml:"mode,omitempty"`
	SailingLow                *int       `json:"sailingLow,omitempty" toml:"sailingLow,omitempty"`
	SailingHigh               *int       `json:"sailingHigh,omitempty" toml:"sailingHigh,omitempty"`
	HeatProtection            *bool      `json:"heatProtection,omitempty" toml:"heatProtection,omitempty"`
	HeatThreshold             *float64   `json:"heatThreshold,omitempty" toml:"heatThreshold,omitempty"`
	RestoreOnStop             *bool      `json:"restoreOnStop,omitempty" toml:"restoreOnStop,omitempty"`
	PreventSleepWhileCharging *bool      `json:"preventSleepWhileCharging,omitempty" toml:"preventSleepWhileCharging,omitempty"`
	ControlMagSafeLED         *bool      `json:"controlMagSafeLED,omitempty" toml:"controlMagSafeLED,omitempty"`
	AllowNonRootAccess        *bool      `json:"allowNonRootAccess,omitempty" toml:"allowNonRootAccess,omitempty"`
	CalibrationTarget         *int       `json:"calibrationTarget,omitempty" toml:"calibrationTarget,omitempty"`
	CalibrationCron           *string    `json:"calibrationCron,omitempty" toml:"calibrationCron,omitempty"`
	LastCalibration           *time.Time `json:"lastCalibration,omitempty" toml:"lastCalibration,omitempty"`
}

func NewRawFileConfigFromConfig(c Config) (*RawFileConfig, error) {
	if c == nil {
		return nil, pkgerrors.New("config is nil")
	}

	rawConfig := &RawFileConfig{
		Limit:                     ptr.To(c.Limit()),
		Mode:                      ptr.To(c.Mode()),
		SailingLow:                ptr.To(c.SailingLow()),
		SailingHigh:               ptr.To(c.SailingHigh()),
		HeatProtection:            ptr.To(c.HeatProtection()),
		HeatThreshold:             ptr.To(c.HeatThreshold()),
		RestoreOnStop:             ptr.To(c.RestoreOnStop()),
		PreventSleepWhileCharging: ptr.To(c.PreventSleepWhileCharging()),
		ControlMagSafeLED:         ptr.To(c.ControlMagSafeLED()),
		AllowNonRootAccess:        ptr.To(c.AllowNonRootAccess()),
		CalibrationTarget:         ptr.To(c.CalibrationTarget()),
		CalibrationCron:           ptr.To(c.CalibrationCron()),
	}
	if t := c.LastCalibration(); !t.IsZero() {
		rawConfig.LastCalibration = ptr.To(t)
	}

	return rawConfig, nil
}

// get reads one field under the read lock, falling back to its default.
func get[T any](f *File, field func(*RawFileConfig) *T) T {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return value(f.c, field)
}

// value reads one field of c, falling back to its default. The caller holds
// the lock.
func value[T any](c *RawFileConfig, field func(*RawFileConfig) *T) T {
	var zero T
	return ptr.Deref(field(c), ptr.Deref(field(defaultFileConfig), zero))
}

// set writes one field under the write lock.
func set[T any](f *File, field func(*RawFileConfig) **T, v T) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	*field(f.c) = &v
}

func (f *File) Limit() int {
	return ClampLimit(get(f, func(c *RawFileConfig) *int { return c.Limit }))
}

func (f *File) Mode() string {
	return get(f, func(c *RawFileConfig) *string { return c.Mode })
}

func (f *File) SailingLow() int {
	low, _ := f.sailing()
	return low
}

func (f *File) SailingHigh() int {
	_, high := f.sailing()
	return high
}

func (f *File) sailing() (int, int) {
	p := f.Policy()
	return p.SailingLow, p.SailingHigh
}

func (f *File) HeatProtection() bool {
	return get(f, func(c *RawFileConfig) *bool { return c.HeatProtection })
}

func (f *File) HeatThreshold() float64 {
	return clamp(get(f, func(c *RawFileConfig) *float64 { return c.HeatThreshold }), MinHeatThreshold, MaxHeatThreshold)
}

func (f *File) RestoreOnStop() bool {
	return get(f, func(c *RawFileConfig) *bool { return c.RestoreOnStop })
}

func (f *File) PreventSleepWhileCharging() bool {
	return get(f, func(c *RawFileConfig) *bool { return c.PreventSleepWhileCharging })
}

func (f *File) ControlMagSafeLED() bool {
	return get(f, func(c *RawFileConfig) *bool { return c.ControlMagSafeLED })
}

func (f *File) AllowNonRootAccess() bool {
	return get(f, func(c *RawFileConfig) *bool { return c.AllowNonRootAccess })
}

func (f *File) CalibrationTarget() int {
	return clamp(get(f, func(c *RawFileConfig) *int { return c.CalibrationTarget }), MinCalibrationTarget, MaxCalibrationTarget)
}

func (f *File) CalibrationCron() string {
	return get(f, func(c *RawFileConfig) *string { return c.CalibrationCron })
}

func (f *File) LastCalibration() time.Time {
	return get(f, func(c *RawFileConfig) *time.Time { return c.LastCalibration })
}

func (f *File) Policy() Policy {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	low, high := ClampSailing(
		value(f.c, func(c *RawFileConfig) *int { return c.SailingLow }),
		value(f.c, func(c *RawFileConfig) *int { return c.SailingHigh }),
	)

	return Policy{
		Limit:                     ClampLimit(value(f.c, func(c *RawFileConfig) *int { return c.Limit })),
		Mode:                      value(f.c, func(c *RawFileConfig) *string { return c.Mode }),
		SailingLow:                low,
		SailingHigh:               high,
		HeatProtection:            value(f.c, func(c *RawFileConfig) *bool { return c.HeatProtection }),
		HeatThreshold:             clamp(value(f.c, func(c *RawFileConfig) *float64 { return c.HeatThreshold }), MinHeatThreshold, MaxHeatThreshold),
		PreventSleepWhileCharging: value(f.c, func(c *RawFileConfig) *bool { return c.PreventSleepWhileCharging }),
		ControlMagSafeLED:         value(f.c, func(c *RawFileConfig) *bool { return c.ControlMagSafeLED }),
	}
}

func (f *File) SetLimit(i int) {
	set(f, func(c *RawFileConfig) **int { return &c.Limit }, ClampLimit(i))
}

func (f *File) SetMode(m string) {
	set(f, func(c *RawFileConfig) **string { return &c.Mode }, m)
}

func (f *File) SetSailing(low, high int) {
	if f.c == nil {
		panic("config is nil")
	}

	low, high = ClampSailing(low, high)

	// Both bounds change together, a reader never sees half a band.
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.SailingLow = &low
	f.c.SailingHigh = &high
}

func (f *File) SetHeatProtection(b bool) {
	set(f, func(c *RawFileConfig) **bool { return &c.HeatProtection }, b)
}

func (f *File) SetHeatThreshold(t float64) {
	set(f, func(c *RawFileConfig) **float64 { return &c.HeatThreshold }, clamp(t, MinHeatThreshold, MaxHeatThreshold))
}

func (f *File) SetRestoreOnStop(b bool) {
	set(f, func(c *RawFileConfig) **bool { return &c.RestoreOnStop }, b)
}

func (f *File) SetPreventSleepWhileCharging(b bool) {
	set(f, func(c *RawFileConfig) **bool { return &c.PreventSleepWhileCharging }, b)
}

func (f *File) SetControlMagSafeLED(b bool) {
	set(f, func(c *RawFileConfig) **bool { return &c.ControlMagSafeLED }, b)
}

func (f *File) SetAllowNonRootAccess(b bool) {
	set(f, func(c *RawFileConfig) **bool { return &c.AllowNonRootAccess }, b)
}

func (f *File) SetCalibrationTarget(i int) {
	set(f, func(c *RawFileConfig) **int { return &c.CalibrationTarget }, clamp(i, MinCalibrationTarget, MaxCalibrationTarget))
}

func (f *File) SetCalibrationCron(s string) {
	set(f, func(c *RawFileConfig) **string { return &c.CalibrationCron }, strings.TrimSpace(s))
}

func (f *File) SetLastCalibration(t time.Time) {
	set(f, func(c *RawFileConfig) **time.Time { return &c.LastCalibration }, t.UTC().Truncate(time.Second))
}

func (f *File) isTOML() bool {
	return strings.EqualFold(filepath.Ext(f.filepath), ".toml")
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := os.ReadFile(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// If the file does not exist, return the empty config.
			// Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	if f.isTOML() {
		err = toml.Unmarshal(b, &conf)
	} else {
		err = json.Unmarshal(b, &conf)
	}
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	f.c = &conf

	return nil
}

// Save writes the config to a temporary file next to the target and renames
// it into place.
func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	var buf bytes.Buffer
	if f.isTOML() {
		if err := toml.NewEncoder(&buf).Encode(f.c); err != nil {
			return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
		}
	} else {
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		if err := enc.Encode(f.c); err != nil {
			return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
		}
	}

	if dir := filepath.Dir(f.filepath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return pkgerrors.Wrapf(err, "failed to create config directory %s", dir)
		}
	}

	tmp := f.filepath + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return pkgerrors.Wrapf(err, "failed to write file %s", tmp)
	}
	if err := os.Rename(tmp, f.filepath); err != nil {
		_ = os.Remove(tmp)
		return pkgerrors.Wrapf(err, "failed to replace file %s", f.filepath)
	}

	return nil
}

func (f *File) LogrusFields() logrus.Fields {
	if f.c == nil {
		panic("config is nil")
	}

	return logrus.Fields{
		"limit":                     f.Limit(),
		"mode":                      f.Mode(),
		"sailingLow":                f.SailingLow(),
		"sailingHigh":               f.SailingHigh(),
		"heatProtection":            f.HeatProtection(),
		"heatThreshold":             f.HeatThreshold(),
		"restoreOnStop":             f.RestoreOnStop(),
		"preventSleepWhileCharging": f.PreventSleepWhileCharging(),
		"controlMagsafeLed":         f.ControlMagSafeLED(),
		"allowNonRootAccess":        f.AllowNonRootAccess(),
		"calibrationTarget":         f.CalibrationTarget(),
		"calibrationCron":           f.CalibrationCron(),
	}
}
