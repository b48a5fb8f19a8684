package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// mockRepository is an in-memory Repository for registry tests.
type mockRepository struct {
	mu      sync.Mutex
	devices map[Name]*Device

	updateErr   error
	updateCalls int

	// updateEntered and updateGate, when set before concurrent use, let a
	// test observe a writer reaching Update and park it there.
	updateEntered chan struct{}
	updateGate    chan struct{}
}

func newMockRepository(devices ...*Device) *mockRepository {
	m := &mockRepository{devices: make(map[Name]*Device)}
	for _, d := range devices {
		m.devices[d.Name] = d.Clone()
	}
	return m
}

func (m *mockRepository) GetByName(_ context.Context, name Name) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[name]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return d.Clone(), nil
}

func (m *mockRepository) List(_ context.Context) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Device
	for _, name := range AllNames() {
		if d, ok := m.devices[name]; ok {
			out = append(out, *d.Clone())
		}
	}
	return out, nil
}

func (m *mockRepository) Update(_ context.Context, device *Device) error {
	if m.updateEntered != nil {
		select {
		case m.updateEntered <- struct{}{}:
		default:
		}
	}
	if m.updateGate != nil {
		<-m.updateGate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	if m.updateErr != nil {
		return m.updateErr
	}
	if _, ok := m.devices[device.Name]; !ok {
		return ErrDeviceNotFound
	}
	m.devices[device.Name] = device.Clone()
	return nil
}

func (m *mockRepository) stored(name Name) *Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.devices[name].Clone()
}

// mockPublisher records published commands and can be made to fail.
type mockPublisher struct {
	mu       sync.Mutex
	commands []string
	err      error
}

func (m *mockPublisher) PublishState(name Name, status, autoMode bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	state := "off"
	if status {
		state = "on"
	}
	m.commands = append(m.commands, string(name)+":"+state)
	return nil
}

func (m *mockPublisher) commandCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.commands)
}

// mockUsageRecorder captures accounting calls.
type mockUsageRecorder struct {
	mu    sync.Mutex
	calls []usageCall
	err   error
}

type usageCall struct {
	name      string
	power     float64
	waterRate float64
	start     time.Time
	end       time.Time
}

func (m *mockUsageRecorder) RecordOperation(_ context.Context, name string, power, waterRate float64, start, end time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.calls = append(m.calls, usageCall{name, power, waterRate, start, end})
	return nil
}

func waterRate(rate float64) *float64 {
	return &rate
}

func testFan() *Device {
	return &Device{
		Name:             Fan,
		AutoMode:         true,
		PowerRatingWatts: 45,
		LastUpdated:      time.Now().UTC(),
	}
}

func testIrrigation() *Device {
	return &Device{
		Name:               Irrigation,
		AutoMode:           true,
		PowerRatingWatts:   30,
		WaterRatePerMinute: waterRate(2.0),
		LastUpdated:        time.Now().UTC(),
	}
}

func newTestRegistry(t *testing.T, repo *mockRepository) (*Registry, *mockPublisher, *mockUsageRecorder) {
	t.Helper()
	registry := NewRegistry(repo)
	publisher := &mockPublisher{}
	usage := &mockUsageRecorder{}
	registry.SetPublisher(publisher)
	registry.SetUsageRecorder(usage)
	if err := registry.RefreshCache(context.Background()); err != nil {
		t.Fatalf("RefreshCache: %v", err)
	}
	return registry, publisher, usage
}

func TestToggleOn(t *testing.T) {
	repo := newMockRepository(testFan())
	registry, publisher, _ := newTestRegistry(t, repo)

	start := time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC)
	registry.now = func() time.Time { return start }

	got, err := registry.Toggle(context.Background(), Fan, true)
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}

	if !got.Status {
		t.Error("Status = false, want true")
	}
	if got.OperationStartTime == nil || !got.OperationStartTime.Equal(start) {
		t.Errorf("OperationStartTime = %v, want %v", got.OperationStartTime, start)
	}
	if publisher.commandCount() != 1 {
		t.Errorf("published %d commands, want 1", publisher.commandCount())
	}
	if stored := repo.stored(Fan); !stored.Status {
		t.Error("repository not updated")
	}
}

func TestToggleOffChargesEnergy(t *testing.T) {
	start := time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC)
	fan := testFan()
	fan.Status = true
	fan.OperationStartTime = &start

	repo := newMockRepository(fan)
	registry, _, usage := newTestRegistry(t, repo)

	end := start.Add(2 * time.Hour)
	registry.now = func() time.Time { return end }

	got, err := registry.Toggle(context.Background(), Fan, false)
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}

	if got.Status {
		t.Error("Status = true, want false")
	}
	if got.OperationStartTime != nil {
		t.Error("OperationStartTime not cleared on off")
	}

	usage.mu.Lock()
	defer usage.mu.Unlock()
	if len(usage.calls) != 1 {
		t.Fatalf("got %d usage records, want 1", len(usage.calls))
	}
	call := usage.calls[0]
	if call.name != "fan" || call.power != 45 || call.waterRate != 0 {
		t.Errorf("unexpected usage call: %+v", call)
	}
	if !call.start.Equal(start) || !call.end.Equal(end) {
		t.Errorf("run window = %v..%v, want %v..%v", call.start, call.end, start, end)
	}
}

func TestToggleOffIrrigationIncludesWater(t *testing.T) {
	start := time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC)
	irrigation := testIrrigation()
	irrigation.Status = true
	irrigation.OperationStartTime = &start

	repo := newMockRepository(irrigation)
	registry, _, usage := newTestRegistry(t, repo)
	registry.now = func() time.Time { return start.Add(10 * time.Minute) }

	if _, err := registry.Toggle(context.Background(), Irrigation, false); err != nil {
		t.Fatalf("Toggle: %v", err)
	}

	usage.mu.Lock()
	defer usage.mu.Unlock()
	if len(usage.calls) != 1 {
		t.Fatalf("got %d usage records, want 1", len(usage.calls))
	}
	if usage.calls[0].waterRate != 2.0 {
		t.Errorf("waterRate = %v, want 2.0", usage.calls[0].waterRate)
	}
}

func TestToggleSameStatusIsNoop(t *testing.T) {
	repo := newMockRepository(testFan())
	registry, publisher, _ := newTestRegistry(t, repo)

	got, err := registry.Toggle(context.Background(), Fan, false)
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if got.Status {
		t.Error("Status changed on no-op toggle")
	}
	if publisher.commandCount() != 0 {
		t.Errorf("published %d commands on no-op, want 0", publisher.commandCount())
	}
	if repo.updateCalls != 0 {
		t.Errorf("repo written %d times on no-op, want 0", repo.updateCalls)
	}
}

func TestToggleNotFound(t *testing.T) {
	repo := newMockRepository(testFan())
	registry, _, _ := newTestRegistry(t, repo)

	_, err := registry.Toggle(context.Background(), "heater", true)
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("error = %v, want ErrDeviceNotFound", err)
	}
}

func TestTogglePublishFailureRollsBack(t *testing.T) {
	repo := newMockRepository(testFan())
	registry, publisher, usage := newTestRegistry(t, repo)
	publisher.err = errors.New("broker unreachable")

	_, err := registry.Toggle(context.Background(), Fan, true)
	if !errors.Is(err, ErrCommunication) {
		t.Fatalf("error = %v, want ErrCommunication", err)
	}

	// Persisted state must match the pre-command values.
	stored := repo.stored(Fan)
	if stored.Status {
		t.Error("repository left in commanded state after rollback")
	}
	if stored.OperationStartTime != nil {
		t.Error("OperationStartTime set after rollback")
	}

	// Cache must also still report the old state.
	cached, _ := registry.Get(Fan)
	if cached.Status {
		t.Error("cache left in commanded state after rollback")
	}

	usage.mu.Lock()
	if len(usage.calls) != 0 {
		t.Error("usage recorded for a failed transition")
	}
	usage.mu.Unlock()
}

func TestTogglePublishFailureOnOffKeepsRunOpen(t *testing.T) {
	start := time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC)
	fan := testFan()
	fan.Status = true
	fan.OperationStartTime = &start

	repo := newMockRepository(fan)
	registry, publisher, usage := newTestRegistry(t, repo)
	publisher.err = errors.New("broker unreachable")

	_, err := registry.Toggle(context.Background(), Fan, false)
	if !errors.Is(err, ErrCommunication) {
		t.Fatalf("error = %v, want ErrCommunication", err)
	}

	stored := repo.stored(Fan)
	if !stored.Status || stored.OperationStartTime == nil {
		t.Error("running state lost after failed off command")
	}

	usage.mu.Lock()
	if len(usage.calls) != 0 {
		t.Error("usage recorded despite failed off command")
	}
	usage.mu.Unlock()
}

func TestConcurrentOffTransitionChargedOnce(t *testing.T) {
	start := time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Minute)
	irrigation := testIrrigation()
	irrigation.Status = true
	irrigation.OperationStartTime = &start

	repo := newMockRepository(irrigation)
	repo.updateEntered = make(chan struct{}, 2)
	repo.updateGate = make(chan struct{})
	registry, _, usage := newTestRegistry(t, repo)
	registry.now = func() time.Time { return end }

	// The automation loop and the field-report handler both see the pump
	// running and both try to turn it off. Transitions are serialized, so
	// whichever goes second must observe the device already off and no-op.
	done := make(chan struct{}, 2)
	go func() {
		_, _ = registry.Toggle(context.Background(), Irrigation, false)
		done <- struct{}{}
	}()
	go func() {
		_, _ = registry.ApplyFieldReport(context.Background(), Irrigation, false, end)
		done <- struct{}{}
	}()

	// Park the first writer inside the repository write to widen the
	// window, then release it and let both calls finish.
	<-repo.updateEntered
	close(repo.updateGate)
	<-done
	<-done

	usage.mu.Lock()
	defer usage.mu.Unlock()
	if len(usage.calls) != 1 {
		t.Fatalf("one off-transition produced %d usage records, want 1", len(usage.calls))
	}
	if repo.stored(Irrigation).Status {
		t.Error("device still on after off transition")
	}
}

func TestSetAutoMode(t *testing.T) {
	repo := newMockRepository(testFan())
	registry, _, _ := newTestRegistry(t, repo)

	got, err := registry.SetAutoMode(context.Background(), Fan, false)
	if err != nil {
		t.Fatalf("SetAutoMode: %v", err)
	}
	if got.AutoMode {
		t.Error("AutoMode = true, want false")
	}
	if repo.stored(Fan).AutoMode {
		t.Error("repository not updated")
	}
}

func TestSetAutoModeIrrigationRunning(t *testing.T) {
	start := time.Now().UTC()
	irrigation := testIrrigation()
	irrigation.Status = true
	irrigation.OperationStartTime = &start

	repo := newMockRepository(irrigation)
	registry, _, _ := newTestRegistry(t, repo)

	_, err := registry.SetAutoMode(context.Background(), Irrigation, false)
	if !errors.Is(err, ErrIrrigationRunning) {
		t.Errorf("error = %v, want ErrIrrigationRunning", err)
	}
}

func TestApplyFieldReport(t *testing.T) {
	t.Run("accepted in auto mode", func(t *testing.T) {
		repo := newMockRepository(testFan())
		registry, publisher, _ := newTestRegistry(t, repo)

		reportedAt := time.Date(2026, 8, 15, 11, 0, 0, 0, time.UTC)
		got, err := registry.ApplyFieldReport(context.Background(), Fan, true, reportedAt)
		if err != nil {
			t.Fatalf("ApplyFieldReport: %v", err)
		}
		if !got.Status {
			t.Error("Status = false, want true")
		}
		if got.OperationStartTime == nil || !got.OperationStartTime.Equal(reportedAt) {
			t.Errorf("OperationStartTime = %v, want report time", got.OperationStartTime)
		}
		// The hardware is already in this state; no command goes out.
		if publisher.commandCount() != 0 {
			t.Errorf("published %d commands for field report, want 0", publisher.commandCount())
		}
	})

	t.Run("rejected in manual mode", func(t *testing.T) {
		fan := testFan()
		fan.AutoMode = false
		repo := newMockRepository(fan)
		registry, _, _ := newTestRegistry(t, repo)

		_, err := registry.ApplyFieldReport(context.Background(), Fan, true, time.Now())
		if !errors.Is(err, ErrNotInAutoMode) {
			t.Errorf("error = %v, want ErrNotInAutoMode", err)
		}
		if repo.stored(Fan).Status {
			t.Error("rejected report mutated state")
		}
	})

	t.Run("off report charges run", func(t *testing.T) {
		start := time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC)
		irrigation := testIrrigation()
		irrigation.Status = true
		irrigation.OperationStartTime = &start

		repo := newMockRepository(irrigation)
		registry, _, usage := newTestRegistry(t, repo)

		_, err := registry.ApplyFieldReport(context.Background(), Irrigation, false, start.Add(5*time.Minute))
		if err != nil {
			t.Fatalf("ApplyFieldReport: %v", err)
		}

		usage.mu.Lock()
		defer usage.mu.Unlock()
		if len(usage.calls) != 1 {
			t.Fatalf("got %d usage records, want 1", len(usage.calls))
		}
	})

	t.Run("matching report is a no-op", func(t *testing.T) {
		fan := testFan()
		fan.AutoMode = false // even manual devices accept a matching report
		repo := newMockRepository(fan)
		registry, _, _ := newTestRegistry(t, repo)

		_, err := registry.ApplyFieldReport(context.Background(), Fan, false, time.Now())
		if err != nil {
			t.Errorf("matching report rejected: %v", err)
		}
		if repo.updateCalls != 0 {
			t.Errorf("repo written %d times on no-op report, want 0", repo.updateCalls)
		}
	})
}

// mockStateMirror records mirrored transitions.
type mockStateMirror struct {
	mu     sync.Mutex
	points []string
}

func (m *mockStateMirror) WriteDeviceState(device string, status, _ bool, _ time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := "off"
	if status {
		state = "on"
	}
	m.points = append(m.points, device+":"+state)
}

func TestToggleMirrorsState(t *testing.T) {
	repo := newMockRepository(testFan())
	registry, _, _ := newTestRegistry(t, repo)
	mirror := &mockStateMirror{}
	registry.SetStateMirror(mirror)

	if _, err := registry.Toggle(context.Background(), Fan, true); err != nil {
		t.Fatalf("Toggle: %v", err)
	}

	mirror.mu.Lock()
	if len(mirror.points) != 1 || mirror.points[0] != "fan:on" {
		t.Fatalf("mirrored points = %v, want [fan:on]", mirror.points)
	}
	mirror.mu.Unlock()

	// A no-op toggle commits nothing and mirrors nothing.
	if _, err := registry.Toggle(context.Background(), Fan, true); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	if len(mirror.points) != 1 {
		t.Errorf("no-op toggle mirrored a point: %v", mirror.points)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	repo := newMockRepository(testFan())
	registry, _, _ := newTestRegistry(t, repo)

	first, _ := registry.Get(Fan)
	first.Status = true
	first.PowerRatingWatts = 9999

	second, _ := registry.Get(Fan)
	if second.Status || second.PowerRatingWatts == 9999 {
		t.Error("Get returned shared memory; cache was mutated")
	}
}

func TestListStableOrder(t *testing.T) {
	repo := newMockRepository(testIrrigation(), testFan())
	registry, _, _ := newTestRegistry(t, repo)

	devices := registry.List()
	if len(devices) != 2 {
		t.Fatalf("List returned %d devices, want 2", len(devices))
	}
	if devices[0].Name != Fan || devices[1].Name != Irrigation {
		t.Errorf("order = %v, %v; want fan, irrigation", devices[0].Name, devices[1].Name)
	}
}
