package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Store defines the interface for preference persistence. Preferences are
// a singleton; there is no create or delete.
type Store interface {
	// Get retrieves the current preferences.
	Get(ctx context.Context) (*Preferences, error)

	// Update validates and persists new preferences.
	Update(ctx context.Context, prefs *Preferences) error
}

// SQLiteStore implements Store against the settings singleton row.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed preference store.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Get retrieves the current preferences.
func (s *SQLiteStore) Get(ctx context.Context) (*Preferences, error) {
	query := `
		SELECT temperature_unit,
			min_temperature_threshold, max_temperature_threshold,
			min_moisture_threshold, max_moisture_threshold,
			lighting_start_hour, lighting_end_hour,
			fertilizer_schedule, fertilizer_hour, fertilizer_minute,
			fertilizer_day_of_week, fertilizer_day_of_month,
			updated_at
		FROM settings
		WHERE id = 1`

	var p Preferences
	var frequency, updatedAt string

	err := s.db.QueryRowContext(ctx, query).Scan(
		&p.TemperatureUnit,
		&p.MinTemperature,
		&p.MaxTemperature,
		&p.MinMoisture,
		&p.MaxMoisture,
		&p.LightingStartHour,
		&p.LightingEndHour,
		&frequency,
		&p.FertilizerHour,
		&p.FertilizerMinute,
		&p.FertilizerDayOfWeek,
		&p.FertilizerDayOfMonth,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying preferences: %w", err)
	}

	p.FertilizerFrequency = Frequency(frequency)
	p.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &p, nil
}

// Update validates and persists new preferences.
func (s *SQLiteStore) Update(ctx context.Context, prefs *Preferences) error {
	if err := prefs.Validate(); err != nil {
		return err
	}

	prefs.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE settings SET
			temperature_unit = ?,
			min_temperature_threshold = ?, max_temperature_threshold = ?,
			min_moisture_threshold = ?, max_moisture_threshold = ?,
			lighting_start_hour = ?, lighting_end_hour = ?,
			fertilizer_schedule = ?, fertilizer_hour = ?, fertilizer_minute = ?,
			fertilizer_day_of_week = ?, fertilizer_day_of_month = ?,
			updated_at = ?
		WHERE id = 1`

	result, err := s.db.ExecContext(ctx, query,
		prefs.TemperatureUnit,
		prefs.MinTemperature,
		prefs.MaxTemperature,
		prefs.MinMoisture,
		prefs.MaxMoisture,
		prefs.LightingStartHour,
		prefs.LightingEndHour,
		string(prefs.FertilizerFrequency),
		prefs.FertilizerHour,
		prefs.FertilizerMinute,
		prefs.FertilizerDayOfWeek,
		prefs.FertilizerDayOfMonth,
		prefs.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("updating preferences: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}
