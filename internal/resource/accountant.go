// Package resource charges completed device runs for the energy and
// water they consumed and answers consumption queries for the dashboard.
package resource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for accounting operations.
var (
	ErrInvalidWindow = errors.New("resource: operation end must be after start")
)

const (
	wattsPerKilowatt = 1000.0
	dayFormat        = "2006-01-02"
)

// Record is one immutable consumption row, written when a device run
// completes. Rows are never updated; period totals are computed by query.
type Record struct {
	ID          string    `json:"id"`
	Device      string    `json:"device"`
	Day         string    `json:"day"` // UTC date the run ended, YYYY-MM-DD
	EnergyKWh   float64   `json:"energy_kwh"`
	WaterLiters float64   `json:"water_liters"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Summary is aggregated consumption for one device over a query period.
type Summary struct {
	Device      string  `json:"device"`
	EnergyKWh   float64 `json:"energy_kwh"`
	WaterLiters float64 `json:"water_liters"`
	Operations  int     `json:"operations"`
}

// Mirror receives each record for time-series storage. Mirroring is best
// effort and asynchronous on the other side.
type Mirror interface {
	WriteResourceUsage(device string, energyKWh, waterLiters float64, endedAt time.Time)
}

// Accountant converts completed runs into consumption records.
//
// Energy is the nameplate power held for the run duration:
// watts x hours / 1000. Water is flow rate times minutes, and only for
// devices with a flow rate.
type Accountant struct {
	repo   Repository
	mirror Mirror

	// now is the clock source, replaceable in tests.
	now func() time.Time
}

// NewAccountant creates an accountant over the given repository.
func NewAccountant(repo Repository) *Accountant {
	return &Accountant{
		repo: repo,
		now:  time.Now,
	}
}

// SetMirror attaches a time-series sink. Optional.
func (a *Accountant) SetMirror(m Mirror) {
	a.mirror = m
}

// RecordOperation charges one completed run. waterRatePerMinute of zero
// means the device consumes no water.
func (a *Accountant) RecordOperation(ctx context.Context, name string, powerWatts, waterRatePerMinute float64, startedAt, endedAt time.Time) error {
	if !endedAt.After(startedAt) {
		return fmt.Errorf("%w: %v .. %v", ErrInvalidWindow, startedAt, endedAt)
	}

	duration := endedAt.Sub(startedAt)
	energy := powerWatts * duration.Hours() / wattsPerKilowatt
	water := waterRatePerMinute * duration.Minutes()

	record := &Record{
		ID:          "use-" + uuid.NewString()[:8],
		Device:      name,
		Day:         endedAt.UTC().Format(dayFormat),
		EnergyKWh:   energy,
		WaterLiters: water,
		StartedAt:   startedAt.UTC(),
		EndedAt:     endedAt.UTC(),
		RecordedAt:  a.now().UTC(),
	}

	if err := a.repo.Insert(ctx, record); err != nil {
		return fmt.Errorf("recording operation for %s: %w", name, err)
	}

	if a.mirror != nil {
		a.mirror.WriteResourceUsage(record.Device, record.EnergyKWh, record.WaterLiters, record.EndedAt)
	}

	return nil
}

// UsageForDay returns per-device totals for a single UTC day.
func (a *Accountant) UsageForDay(ctx context.Context, day time.Time) ([]Summary, error) {
	d := day.UTC().Format(dayFormat)
	return a.repo.Summarize(ctx, d, d)
}

// UsageByDateRange returns per-device totals for the inclusive UTC date
// range [from, to].
func (a *Accountant) UsageByDateRange(ctx context.Context, from, to time.Time) ([]Summary, error) {
	return a.repo.Summarize(ctx, from.UTC().Format(dayFormat), to.UTC().Format(dayFormat))
}
