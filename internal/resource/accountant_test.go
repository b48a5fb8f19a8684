package resource

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"
)

type mockRepository struct {
	mu        sync.Mutex
	records   []Record
	insertErr error
}

func (m *mockRepository) Insert(_ context.Context, record *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.records = append(m.records, *record)
	return nil
}

func (m *mockRepository) List(_ context.Context, _, _ string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...), nil
}

func (m *mockRepository) Summarize(_ context.Context, fromDay, toDay string) ([]Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	totals := make(map[string]*Summary)
	for _, rec := range m.records {
		if rec.Day < fromDay || rec.Day > toDay {
			continue
		}
		s, ok := totals[rec.Device]
		if !ok {
			s = &Summary{Device: rec.Device}
			totals[rec.Device] = s
		}
		s.EnergyKWh += rec.EnergyKWh
		s.WaterLiters += rec.WaterLiters
		s.Operations++
	}

	var out []Summary
	for _, s := range totals {
		out = append(out, *s)
	}
	return out, nil
}

type mockMirror struct {
	mu    sync.Mutex
	calls int
}

func (m *mockMirror) WriteResourceUsage(_ string, _, _ float64, _ time.Time) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestRecordOperationEnergy(t *testing.T) {
	repo := &mockRepository{}
	accountant := NewAccountant(repo)

	start := time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC)

	// 45 W fan running for 2 hours: 45 * 2 / 1000 = 0.09 kWh.
	err := accountant.RecordOperation(context.Background(), "fan", 45, 0, start, start.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("RecordOperation: %v", err)
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.records) != 1 {
		t.Fatalf("got %d records, want 1", len(repo.records))
	}
	rec := repo.records[0]
	if !almostEqual(rec.EnergyKWh, 0.09) {
		t.Errorf("EnergyKWh = %v, want 0.09", rec.EnergyKWh)
	}
	if rec.WaterLiters != 0 {
		t.Errorf("WaterLiters = %v, want 0", rec.WaterLiters)
	}
	if rec.Day != "2026-08-15" {
		t.Errorf("Day = %q, want 2026-08-15", rec.Day)
	}
	if rec.ID == "" {
		t.Error("ID not generated")
	}
}

func TestRecordOperationWater(t *testing.T) {
	repo := &mockRepository{}
	accountant := NewAccountant(repo)

	start := time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC)

	// Irrigation at 2 L/min for 10 minutes: 20 litres.
	// Energy: 30 W for 1/6 hour = 0.005 kWh.
	err := accountant.RecordOperation(context.Background(), "irrigation", 30, 2.0, start, start.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("RecordOperation: %v", err)
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	rec := repo.records[0]
	if !almostEqual(rec.WaterLiters, 20) {
		t.Errorf("WaterLiters = %v, want 20", rec.WaterLiters)
	}
	if !almostEqual(rec.EnergyKWh, 0.005) {
		t.Errorf("EnergyKWh = %v, want 0.005", rec.EnergyKWh)
	}
}

func TestRecordOperationDayFromEnd(t *testing.T) {
	repo := &mockRepository{}
	accountant := NewAccountant(repo)

	// A run straddling midnight is charged to the day it ended.
	start := time.Date(2026, 8, 15, 23, 30, 0, 0, time.UTC)
	end := time.Date(2026, 8, 16, 0, 30, 0, 0, time.UTC)

	if err := accountant.RecordOperation(context.Background(), "lighting", 120, 0, start, end); err != nil {
		t.Fatalf("RecordOperation: %v", err)
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if repo.records[0].Day != "2026-08-16" {
		t.Errorf("Day = %q, want 2026-08-16", repo.records[0].Day)
	}
}

func TestRecordOperationInvalidWindow(t *testing.T) {
	accountant := NewAccountant(&mockRepository{})
	now := time.Now()

	tests := []struct {
		name  string
		start time.Time
		end   time.Time
	}{
		{"end before start", now, now.Add(-time.Minute)},
		{"zero duration", now, now},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := accountant.RecordOperation(context.Background(), "fan", 45, 0, tt.start, tt.end)
			if !errors.Is(err, ErrInvalidWindow) {
				t.Errorf("error = %v, want ErrInvalidWindow", err)
			}
		})
	}
}

func TestRecordOperationMirrors(t *testing.T) {
	repo := &mockRepository{}
	mirror := &mockMirror{}
	accountant := NewAccountant(repo)
	accountant.SetMirror(mirror)

	start := time.Now().Add(-time.Hour)
	if err := accountant.RecordOperation(context.Background(), "fan", 45, 0, start, time.Now()); err != nil {
		t.Fatalf("RecordOperation: %v", err)
	}

	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	if mirror.calls != 1 {
		t.Errorf("mirror called %d times, want 1", mirror.calls)
	}
}

func TestRecordOperationInsertFailureSkipsMirror(t *testing.T) {
	repo := &mockRepository{insertErr: errors.New("disk full")}
	mirror := &mockMirror{}
	accountant := NewAccountant(repo)
	accountant.SetMirror(mirror)

	start := time.Now().Add(-time.Hour)
	if err := accountant.RecordOperation(context.Background(), "fan", 45, 0, start, time.Now()); err == nil {
		t.Fatal("expected error from failed insert")
	}

	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	if mirror.calls != 0 {
		t.Error("mirror called despite failed insert")
	}
}

func TestUsageByDateRange(t *testing.T) {
	repo := &mockRepository{}
	accountant := NewAccountant(repo)
	ctx := context.Background()

	day1 := time.Date(2026, 8, 14, 9, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 15, 9, 0, 0, 0, time.UTC)

	accountant.RecordOperation(ctx, "fan", 45, 0, day1, day1.Add(time.Hour))
	accountant.RecordOperation(ctx, "fan", 45, 0, day2, day2.Add(time.Hour))
	accountant.RecordOperation(ctx, "irrigation", 30, 2.0, day2, day2.Add(10*time.Minute))

	summaries, err := accountant.UsageByDateRange(ctx, day1, day2)
	if err != nil {
		t.Fatalf("UsageByDateRange: %v", err)
	}

	byDevice := make(map[string]Summary)
	for _, s := range summaries {
		byDevice[s.Device] = s
	}

	fan := byDevice["fan"]
	if fan.Operations != 2 || !almostEqual(fan.EnergyKWh, 0.09) {
		t.Errorf("fan summary = %+v, want 2 ops 0.09 kWh", fan)
	}
	irrigation := byDevice["irrigation"]
	if irrigation.Operations != 1 || !almostEqual(irrigation.WaterLiters, 20) {
		t.Errorf("irrigation summary = %+v, want 1 op 20 L", irrigation)
	}
}
