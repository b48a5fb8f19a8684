package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/verdanthq/verdant-core/internal/audit"
)

// Publisher delivers state commands to the actuator hardware.
type Publisher interface {
	PublishState(name Name, status, autoMode bool) error
}

// UsageRecorder receives completed-run consumption figures.
// waterRatePerMinute is zero for devices that do not consume water.
type UsageRecorder interface {
	RecordOperation(ctx context.Context, name string, powerWatts, waterRatePerMinute float64, startedAt, endedAt time.Time) error
}

// Broadcaster pushes device state changes to connected dashboard clients.
type Broadcaster interface {
	EmitDeviceUpdate(device Device)
}

// StateMirror receives committed state transitions for time-series storage.
type StateMirror interface {
	WriteDeviceState(device string, status, autoMode bool, timestamp time.Time)
}

// Logger is the logging interface used by the registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the single authority over device state.
//
// All state transitions, whether from the dashboard, the automation loop
// or hardware field reports, flow through here. It keeps an in-memory
// cache backed by the repository, commands actuators through the
// publisher, and charges completed runs to the usage recorder.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Returned devices are deep copies; callers cannot corrupt the cache.
type Registry struct {
	repo Repository

	// opMu serializes state transitions. Toggle, SetAutoMode and
	// ApplyFieldReport each read, decide and write; without the lock two
	// callers can both observe a running device, both take the
	// off-transition branch and charge the same run twice.
	opMu sync.Mutex

	mu    sync.RWMutex
	cache map[Name]*Device

	publisher   Publisher
	usage       UsageRecorder
	broadcaster Broadcaster
	mirror      StateMirror
	audit       audit.Logger
	logger      Logger

	// now is the clock source, replaceable in tests.
	now func() time.Time
}

// NewRegistry creates a registry over the given repository. Call
// RefreshCache before first use to populate the cache.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[Name]*Device),
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetPublisher attaches the actuator command channel. Without one,
// toggles fail with ErrCommunication.
func (r *Registry) SetPublisher(p Publisher) {
	r.mu.Lock()
	r.publisher = p
	r.mu.Unlock()
}

// SetUsageRecorder attaches the resource accountant.
func (r *Registry) SetUsageRecorder(u UsageRecorder) {
	r.mu.Lock()
	r.usage = u
	r.mu.Unlock()
}

// SetBroadcaster attaches the live-update sink.
func (r *Registry) SetBroadcaster(b Broadcaster) {
	r.mu.Lock()
	r.broadcaster = b
	r.mu.Unlock()
}

// SetStateMirror attaches the time-series sink for state transitions.
func (r *Registry) SetStateMirror(m StateMirror) {
	r.mu.Lock()
	r.mirror = m
	r.mu.Unlock()
}

// SetAuditLogger attaches the audit trail.
func (r *Registry) SetAuditLogger(a audit.Logger) {
	r.mu.Lock()
	r.audit = a
	r.mu.Unlock()
}

// SetLogger sets the diagnostic logger.
func (r *Registry) SetLogger(l Logger) {
	r.mu.Lock()
	r.logger = l
	r.mu.Unlock()
}

// RefreshCache reloads all devices from the repository.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("refreshing device cache: %w", err)
	}

	cache := make(map[Name]*Device, len(devices))
	for i := range devices {
		cache[devices[i].Name] = devices[i].Clone()
	}

	r.mu.Lock()
	r.cache = cache
	r.mu.Unlock()

	return nil
}

// Get returns a copy of the named device.
func (r *Registry) Get(name Name) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.cache[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, name)
	}
	return d.Clone(), nil
}

// List returns copies of all devices in stable name order.
func (r *Registry) List() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Device, 0, len(r.cache))
	for _, name := range AllNames() {
		if d, ok := r.cache[name]; ok {
			out = append(out, *d.Clone())
		}
	}
	return out
}

// Toggle drives the named device to the desired status.
//
// A toggle that matches the current status is a no-op and returns the
// current state; re-asserting a state is always safe. A real transition
// persists the new state, commands the actuator, and on delivery failure
// rolls the persisted state back and returns ErrCommunication, so the
// database never claims a state the hardware was not told about.
//
// Turning a device off charges the completed run to the usage recorder:
// energy from the power rating and run duration, water from the flow
// rate for devices that have one.
func (r *Registry) Toggle(ctx context.Context, name Name, desired bool) (*Device, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	current, err := r.Get(name)
	if err != nil {
		return nil, err
	}

	if current.Status == desired {
		return current, nil
	}

	now := r.now().UTC()
	updated := current.Clone()
	updated.Status = desired

	var runStart, runEnd time.Time
	if desired {
		updated.OperationStartTime = &now
	} else {
		if current.OperationStartTime != nil {
			runStart = *current.OperationStartTime
			runEnd = now
		}
		updated.OperationStartTime = nil
	}

	if err := r.repo.Update(ctx, updated); err != nil {
		return nil, fmt.Errorf("persisting toggle for %s: %w", name, err)
	}

	if err := r.publishState(updated); err != nil {
		r.rollback(ctx, current)
		r.logger.Error("device command delivery failed",
			"device", name, "desired", desired, "error", err)
		r.auditLog(ctx, audit.LevelError, "device command failed",
			map[string]any{"device": string(name), "desired": desired, "error": err.Error()})
		return nil, fmt.Errorf("%w: %s: %w", ErrCommunication, name, err)
	}

	r.storeInCache(updated)

	if !desired && !runStart.IsZero() {
		r.chargeRun(ctx, updated, runStart, runEnd)
	}

	r.logger.Info("device toggled", "device", name, "status", desired)
	r.auditLog(ctx, audit.LevelInfo, "device toggled",
		map[string]any{"device": string(name), "status": desired})
	r.broadcast(updated)
	r.mirrorState(updated)

	return updated.Clone(), nil
}

// SetAutoMode switches the device between automation and manual control.
// Irrigation cannot leave auto mode mid-cycle; the valve must close under
// automation control so the run is accounted for.
func (r *Registry) SetAutoMode(ctx context.Context, name Name, auto bool) (*Device, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	current, err := r.Get(name)
	if err != nil {
		return nil, err
	}

	if current.AutoMode == auto {
		return current, nil
	}

	if name == Irrigation && current.Status && !auto {
		return nil, ErrIrrigationRunning
	}

	updated := current.Clone()
	updated.AutoMode = auto

	if err := r.repo.Update(ctx, updated); err != nil {
		return nil, fmt.Errorf("persisting auto mode for %s: %w", name, err)
	}

	r.storeInCache(updated)

	r.logger.Info("device auto mode changed", "device", name, "auto_mode", auto)
	r.auditLog(ctx, audit.LevelInfo, "device auto mode changed",
		map[string]any{"device": string(name), "auto_mode": auto})
	r.broadcast(updated)
	r.mirrorState(updated)

	return updated.Clone(), nil
}

// ApplyFieldReport reconciles a state report from the hardware itself.
//
// Reports are honoured only for devices in auto mode; under manual
// control the dashboard is authoritative and a divergent report returns
// ErrNotInAutoMode. An accepted report mirrors Toggle's accounting but
// publishes nothing, since the hardware is already in the reported state.
func (r *Registry) ApplyFieldReport(ctx context.Context, name Name, status bool, reportedAt time.Time) (*Device, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	current, err := r.Get(name)
	if err != nil {
		return nil, err
	}

	if current.Status == status {
		return current, nil
	}

	if !current.AutoMode {
		r.auditLog(ctx, audit.LevelWarning, "field report ignored for manual device",
			map[string]any{"device": string(name), "reported_status": status})
		return nil, fmt.Errorf("%w: %s", ErrNotInAutoMode, name)
	}

	if reportedAt.IsZero() {
		reportedAt = r.now()
	}
	reportedAt = reportedAt.UTC()

	updated := current.Clone()
	updated.Status = status

	var runStart, runEnd time.Time
	if status {
		updated.OperationStartTime = &reportedAt
	} else {
		if current.OperationStartTime != nil {
			runStart = *current.OperationStartTime
			runEnd = reportedAt
		}
		updated.OperationStartTime = nil
	}

	if err := r.repo.Update(ctx, updated); err != nil {
		return nil, fmt.Errorf("persisting field report for %s: %w", name, err)
	}

	r.storeInCache(updated)

	if !status && !runStart.IsZero() {
		r.chargeRun(ctx, updated, runStart, runEnd)
	}

	r.logger.Info("field report applied", "device", name, "status", status)
	r.auditLog(ctx, audit.LevelInfo, "field report applied",
		map[string]any{"device": string(name), "status": status})
	r.broadcast(updated)
	r.mirrorState(updated)

	return updated.Clone(), nil
}

// publishState sends the device's state to its actuator.
func (r *Registry) publishState(d *Device) error {
	r.mu.RLock()
	publisher := r.publisher
	r.mu.RUnlock()

	if publisher == nil {
		return fmt.Errorf("no publisher configured")
	}
	return publisher.PublishState(d.Name, d.Status, d.AutoMode)
}

// rollback restores the pre-command state after a failed publish. A
// rollback failure leaves the database ahead of the hardware; that is
// logged loudly and corrected by the next successful transition.
func (r *Registry) rollback(ctx context.Context, previous *Device) {
	if err := r.repo.Update(ctx, previous.Clone()); err != nil {
		r.logger.Error("device state rollback failed",
			"device", previous.Name, "error", err)
	}
}

// chargeRun records the consumption of a completed run. Accounting is
// best effort; a failed insert never unwinds the state transition.
func (r *Registry) chargeRun(ctx context.Context, d *Device, start, end time.Time) {
	r.mu.RLock()
	usage := r.usage
	r.mu.RUnlock()

	if usage == nil || !end.After(start) {
		return
	}

	waterRate := 0.0
	if d.WaterRatePerMinute != nil {
		waterRate = *d.WaterRatePerMinute
	}

	if err := usage.RecordOperation(ctx, string(d.Name), d.PowerRatingWatts, waterRate, start, end); err != nil {
		r.logger.Error("resource accounting failed", "device", d.Name, "error", err)
		r.auditLog(ctx, audit.LevelError, "resource accounting failed",
			map[string]any{"device": string(d.Name), "error": err.Error()})
	}
}

func (r *Registry) storeInCache(d *Device) {
	r.mu.Lock()
	r.cache[d.Name] = d.Clone()
	r.mu.Unlock()
}

func (r *Registry) broadcast(d *Device) {
	r.mu.RLock()
	broadcaster := r.broadcaster
	r.mu.RUnlock()

	if broadcaster != nil {
		broadcaster.EmitDeviceUpdate(*d.Clone())
	}
}

// mirrorState forwards a committed transition to the time-series sink.
func (r *Registry) mirrorState(d *Device) {
	r.mu.RLock()
	mirror := r.mirror
	r.mu.RUnlock()

	if mirror != nil {
		mirror.WriteDeviceState(string(d.Name), d.Status, d.AutoMode, d.LastUpdated)
	}
}

func (r *Registry) auditLog(ctx context.Context, level audit.Level, message string, details map[string]any) {
	r.mu.RLock()
	auditor := r.audit
	r.mu.RUnlock()

	if auditor != nil {
		auditor.Log(ctx, level, "device", message, details)
	}
}
