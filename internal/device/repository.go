package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository defines the interface for device persistence.
// The device set is fixed; there is no create or delete.
type Repository interface {
	// GetByName retrieves a device by name.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByName(ctx context.Context, name Name) (*Device, error)

	// List retrieves all devices.
	List(ctx context.Context) ([]Device, error)

	// Update persists the full state of an existing device.
	// Returns ErrDeviceNotFound if the device does not exist.
	Update(ctx context.Context, device *Device) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByName retrieves a device by name.
func (r *SQLiteRepository) GetByName(ctx context.Context, name Name) (*Device, error) {
	query := `
		SELECT name, status, auto_mode, power_rating_watts,
			water_rate_per_minute, operation_start_time, last_updated
		FROM devices
		WHERE name = ?`

	row := r.db.QueryRowContext(ctx, query, string(name))
	device, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by name: %w", err)
	}
	return device, nil
}

// List retrieves all devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	query := `
		SELECT name, status, auto_mode, power_rating_watts,
			water_rate_per_minute, operation_start_time, last_updated
		FROM devices
		ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	return devices, nil
}

// Update persists the full state of an existing device.
func (r *SQLiteRepository) Update(ctx context.Context, device *Device) error {
	device.LastUpdated = time.Now().UTC()

	query := `
		UPDATE devices SET
			status = ?, auto_mode = ?, power_rating_watts = ?,
			water_rate_per_minute = ?, operation_start_time = ?, last_updated = ?
		WHERE name = ?`

	result, err := r.db.ExecContext(ctx, query,
		boolToInt(device.Status),
		boolToInt(device.AutoMode),
		device.PowerRatingWatts,
		nullableFloat(device.WaterRatePerMinute),
		nullableTime(device.OperationStartTime),
		device.LastUpdated.Format(time.RFC3339),
		string(device.Name),
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDevice scans a row or rows result into a Device.
func scanDevice(scanner rowScanner) (*Device, error) {
	var d Device
	var name string
	var status, autoMode int
	var waterRate sql.NullFloat64
	var operationStart sql.NullString
	var lastUpdated string

	err := scanner.Scan(
		&name,
		&status,
		&autoMode,
		&d.PowerRatingWatts,
		&waterRate,
		&operationStart,
		&lastUpdated,
	)
	if err != nil {
		return nil, err
	}

	d.Name = Name(name)
	d.Status = status != 0
	d.AutoMode = autoMode != 0

	if waterRate.Valid {
		rate := waterRate.Float64
		d.WaterRatePerMinute = &rate
	}

	if operationStart.Valid && operationStart.String != "" {
		t, err := time.Parse(time.RFC3339, operationStart.String)
		if err != nil {
			return nil, fmt.Errorf("parsing operation_start_time: %w", err)
		}
		d.OperationStartTime = &t
	}

	d.LastUpdated, err = time.Parse(time.RFC3339, lastUpdated)
	if err != nil {
		return nil, fmt.Errorf("parsing last_updated: %w", err)
	}

	return &d, nil
}

// nullableFloat returns a sql.NullFloat64 for optional float pointers.
func nullableFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// nullableTime returns a sql.NullString for optional time pointers (RFC3339).
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
