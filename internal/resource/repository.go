package resource

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Repository defines the interface for consumption persistence.
type Repository interface {
	// Insert appends a consumption record. Records are immutable.
	Insert(ctx context.Context, record *Record) error

	// List returns the raw records for the inclusive day range, most
	// recent first.
	List(ctx context.Context, fromDay, toDay string) ([]Record, error)

	// Summarize returns per-device totals for the inclusive day range.
	Summarize(ctx context.Context, fromDay, toDay string) ([]Summary, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Insert appends a consumption record.
func (r *SQLiteRepository) Insert(ctx context.Context, record *Record) error {
	query := `
		INSERT INTO resource_usage (id, device, day, energy_kwh, water_liters, started_at, ended_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.Device,
		record.Day,
		record.EnergyKWh,
		record.WaterLiters,
		record.StartedAt.Format(time.RFC3339),
		record.EndedAt.Format(time.RFC3339),
		record.RecordedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting usage record: %w", err)
	}

	return nil
}

// List returns raw records for the inclusive day range, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, fromDay, toDay string) ([]Record, error) {
	query := `
		SELECT id, device, day, energy_kwh, water_liters, started_at, ended_at, recorded_at
		FROM resource_usage
		WHERE day BETWEEN ? AND ?
		ORDER BY ended_at DESC`

	rows, err := r.db.QueryContext(ctx, query, fromDay, toDay)
	if err != nil {
		return nil, fmt.Errorf("querying usage records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var startedAt, endedAt, recordedAt string

		if err := rows.Scan(&rec.ID, &rec.Device, &rec.Day,
			&rec.EnergyKWh, &rec.WaterLiters,
			&startedAt, &endedAt, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning usage record: %w", err)
		}

		if rec.StartedAt, err = time.Parse(time.RFC3339, startedAt); err != nil {
			return nil, fmt.Errorf("parsing started_at: %w", err)
		}
		if rec.EndedAt, err = time.Parse(time.RFC3339, endedAt); err != nil {
			return nil, fmt.Errorf("parsing ended_at: %w", err)
		}
		if rec.RecordedAt, err = time.Parse(time.RFC3339, recordedAt); err != nil {
			return nil, fmt.Errorf("parsing recorded_at: %w", err)
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating usage records: %w", err)
	}

	return records, nil
}

// Summarize returns per-device totals for the inclusive day range.
func (r *SQLiteRepository) Summarize(ctx context.Context, fromDay, toDay string) ([]Summary, error) {
	query := `
		SELECT device, COALESCE(SUM(energy_kwh), 0), COALESCE(SUM(water_liters), 0), COUNT(*)
		FROM resource_usage
		WHERE day BETWEEN ? AND ?
		GROUP BY device
		ORDER BY device`

	rows, err := r.db.QueryContext(ctx, query, fromDay, toDay)
	if err != nil {
		return nil, fmt.Errorf("summarizing usage: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.Device, &s.EnergyKWh, &s.WaterLiters, &s.Operations); err != nil {
			return nil, fmt.Errorf("scanning usage summary: %w", err)
		}
		summaries = append(summaries, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating usage summaries: %w", err)
	}

	return summaries, nil
}
