package settings

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for preference operations.
var (
	ErrInvalidThresholds = errors.New("settings: invalid thresholds")
	ErrInvalidSchedule   = errors.New("settings: invalid fertilizer schedule")
	ErrNotFound          = errors.New("settings: preferences row not found")
)

// Frequency is how often the fertilizer pump runs.
type Frequency string

// Supported fertilizer frequencies.
const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

// Valid reports whether f is a supported frequency.
func (f Frequency) Valid() bool {
	return f == Daily || f == Weekly || f == Monthly
}

// Preferences is the installation's single set of automation preferences.
// One row, always present, seeded by the initial migration.
type Preferences struct {
	TemperatureUnit string

	// Hysteresis thresholds. The fan engages above MaxTemperature and
	// releases below MinTemperature; irrigation engages below MinMoisture
	// and releases above MaxMoisture.
	MinTemperature float64
	MaxTemperature float64
	MinMoisture    float64
	MaxMoisture    float64

	// Daily lighting window [StartHour, EndHour). A start after the end
	// means the window wraps past midnight.
	LightingStartHour int
	LightingEndHour   int

	FertilizerFrequency  Frequency
	FertilizerHour       int
	FertilizerMinute     int
	FertilizerDayOfWeek  int // 0 = Sunday, 6 = Saturday; weekly only
	FertilizerDayOfMonth int // 1-31, clamped to month length; monthly only

	UpdatedAt time.Time
}

// Validate checks the preferences for internal consistency.
func (p *Preferences) Validate() error {
	if p.MinTemperature >= p.MaxTemperature {
		return fmt.Errorf("%w: temperature min %.1f must be below max %.1f",
			ErrInvalidThresholds, p.MinTemperature, p.MaxTemperature)
	}
	if p.MinMoisture >= p.MaxMoisture {
		return fmt.Errorf("%w: moisture min %.1f must be below max %.1f",
			ErrInvalidThresholds, p.MinMoisture, p.MaxMoisture)
	}
	if p.LightingStartHour < 0 || p.LightingStartHour > 23 {
		return fmt.Errorf("%w: lighting start hour %d out of range", ErrInvalidSchedule, p.LightingStartHour)
	}
	if p.LightingEndHour < 0 || p.LightingEndHour > 23 {
		return fmt.Errorf("%w: lighting end hour %d out of range", ErrInvalidSchedule, p.LightingEndHour)
	}
	if !p.FertilizerFrequency.Valid() {
		return fmt.Errorf("%w: frequency %q", ErrInvalidSchedule, p.FertilizerFrequency)
	}
	if p.FertilizerHour < 0 || p.FertilizerHour > 23 {
		return fmt.Errorf("%w: fertilizer hour %d out of range", ErrInvalidSchedule, p.FertilizerHour)
	}
	if p.FertilizerMinute < 0 || p.FertilizerMinute > 59 {
		return fmt.Errorf("%w: fertilizer minute %d out of range", ErrInvalidSchedule, p.FertilizerMinute)
	}
	if p.FertilizerDayOfWeek < 0 || p.FertilizerDayOfWeek > 6 {
		return fmt.Errorf("%w: fertilizer day of week %d out of range", ErrInvalidSchedule, p.FertilizerDayOfWeek)
	}
	if p.FertilizerDayOfMonth < 1 || p.FertilizerDayOfMonth > 31 {
		return fmt.Errorf("%w: fertilizer day of month %d out of range", ErrInvalidSchedule, p.FertilizerDayOfMonth)
	}
	return nil
}

// LightingActiveAt reports whether the lighting window covers the given
// local time. Windows that wrap past midnight are supported.
func (p *Preferences) LightingActiveAt(t time.Time) bool {
	h := t.Hour()
	if p.LightingStartHour == p.LightingEndHour {
		return false
	}
	if p.LightingStartHour < p.LightingEndHour {
		return h >= p.LightingStartHour && h < p.LightingEndHour
	}
	return h >= p.LightingStartHour || h < p.LightingEndHour
}

// Clone returns a deep copy of the preferences.
func (p *Preferences) Clone() *Preferences {
	clone := *p
	return &clone
}
