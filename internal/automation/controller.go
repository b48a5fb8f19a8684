package automation

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/verdanthq/verdant-core/internal/audit"
	"github.com/verdanthq/verdant-core/internal/device"
	"github.com/verdanthq/verdant-core/internal/sensor"
	"github.com/verdanthq/verdant-core/internal/settings"
)

const auditSource = "automation"

// DeviceRegistry is the interface the controller needs from the device
// package. Every state change goes through Toggle; the controller never
// mutates device fields itself.
type DeviceRegistry interface {
	Get(name device.Name) (*device.Device, error)
	Toggle(ctx context.Context, name device.Name, desired bool) (*device.Device, error)
}

// PreferenceSource provides the current automation preferences.
type PreferenceSource interface {
	Get(ctx context.Context) (*settings.Preferences, error)
}

// SensorSource provides the latest reading per sensor type.
type SensorSource interface {
	Ingest(reading sensor.Reading) error
	Current(t sensor.Type) (sensor.Reading, error)
}

// TransportHealth reports whether the path to the actuators is live.
type TransportHealth interface {
	IsHealthy() bool
}

// Logger is the logging interface used by the controller.
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

// Controller runs the evaluation loop that keeps the actuators in line
// with the preferences and the latest sensor readings.
//
// Two triggers feed it: a self-rescheduling timer and inbound telemetry.
// A capacity-1 semaphore guarantees single-flight evaluation; a trigger
// arriving while a cycle is in flight is dropped, not queued, so bursts
// of telemetry coalesce into the next eligible cycle.
//
// Cycle errors are logged to the audit trail and swallowed; the loop
// never terminates itself because of a processing error.
type Controller struct {
	registry DeviceRegistry
	prefs    PreferenceSource
	sensors  SensorSource

	transport TransportHealth
	audit     audit.Logger
	logger    Logger

	cycleDelay time.Duration

	// sem is the single-flight guard: a cycle holds the slot for its
	// entire duration, and anyone else finding it taken drops their
	// trigger.
	sem chan struct{}

	running atomic.Bool
	stop    chan struct{}
	done    chan struct{}

	// scheduleMu guards the fertilizer next-due state.
	scheduleMu    sync.Mutex
	fertilizerKey string
	fertilizerDue time.Time

	// now is the clock source, replaceable in tests.
	now func() time.Time
}

// NewController creates a controller. Start must be called to begin the
// timer loop; IngestTelemetry works as soon as the controller exists.
func NewController(registry DeviceRegistry, prefs PreferenceSource, sensors SensorSource, cycleDelay time.Duration) *Controller {
	if cycleDelay <= 0 {
		cycleDelay = 5 * time.Second
	}
	return &Controller{
		registry:   registry,
		prefs:      prefs,
		sensors:    sensors,
		cycleDelay: cycleDelay,
		sem:        make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		logger:     noopLogger{},
		now:        time.Now,
	}
}

// SetTransportHealth attaches the gateway health check. When the
// transport is unhealthy the controller skips cycles rather than issuing
// commands that cannot reach the hardware.
func (c *Controller) SetTransportHealth(t TransportHealth) {
	c.transport = t
}

// SetAuditLogger attaches the audit trail.
func (c *Controller) SetAuditLogger(a audit.Logger) {
	c.audit = a
}

// SetLogger sets the diagnostic logger.
func (c *Controller) SetLogger(l Logger) {
	c.logger = l
}

// Start launches the timer loop. The first cycle runs immediately; each
// subsequent cycle is scheduled a fixed delay after the previous one
// completes, so cycles never overlap no matter how long one runs.
func (c *Controller) Start(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	c.logger.Info("automation controller started", "cycle_delay", c.cycleDelay)
	go c.loop(ctx)
	return nil
}

// Stop cancels the pending timer and blocks until any in-flight cycle
// finishes. No cycle is left running after Stop returns.
func (c *Controller) Stop() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}

	close(c.stop)
	<-c.done

	// The timer loop is down; drain any telemetry-triggered cycle still
	// holding the slot.
	c.sem <- struct{}{}
	<-c.sem

	c.logger.Info("automation controller stopped")
}

// loop is the timer path: evaluate, then wait, then evaluate again.
func (c *Controller) loop(ctx context.Context) {
	defer close(c.done)

	for {
		c.tryCycle(ctx, "timer")

		select {
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		case <-time.After(c.cycleDelay):
		}
	}
}

// IngestTelemetry is the event path. It validates and stores the reading,
// then attempts an immediate evaluation cycle. Usable by the transport
// gateway and by in-process fallback sources alike.
func (c *Controller) IngestTelemetry(ctx context.Context, reading sensor.Reading) error {
	if err := c.sensors.Ingest(reading); err != nil {
		return fmt.Errorf("ingesting telemetry: %w", err)
	}

	go c.tryCycle(ctx, "telemetry")
	return nil
}

// TriggerCycle requests an immediate evaluation. Returns false if a cycle
// was already in flight and the request was dropped.
func (c *Controller) TriggerCycle(ctx context.Context) bool {
	return c.tryCycle(ctx, "manual")
}

// tryCycle runs one cycle if the single-flight slot is free. A taken slot
// means another trigger won this window; ours is intentionally dropped.
func (c *Controller) tryCycle(ctx context.Context, trigger string) bool {
	select {
	case c.sem <- struct{}{}:
	default:
		c.logger.Debug("evaluation cycle dropped, another in flight", "trigger", trigger)
		return false
	}
	defer func() { <-c.sem }()

	// The running check must happen while holding the slot: a telemetry
	// trigger spawned just before Stop could otherwise acquire the slot
	// after Stop's drain and run a cycle past shutdown.
	if !c.running.Load() && trigger != "manual" {
		return false
	}

	c.runCycle(ctx, trigger)
	return true
}

// runCycle performs one full evaluation. Callers hold the semaphore.
func (c *Controller) runCycle(ctx context.Context, trigger string) {
	if c.transport != nil && !c.transport.IsHealthy() {
		c.logger.Warn("evaluation cycle skipped, transport unhealthy", "trigger", trigger)
		c.auditLog(ctx, audit.LevelWarning, "cycle skipped: transport unhealthy", nil)
		return
	}

	prefs, err := c.prefs.Get(ctx)
	if err != nil {
		c.logger.Error("loading preferences failed", "error", err)
		c.auditLog(ctx, audit.LevelError, "cycle aborted: preferences unavailable",
			map[string]any{"error": err.Error()})
		return
	}
	if err := prefs.Validate(); err != nil {
		// Inverted thresholds are an error condition, never auto-corrected.
		c.logger.Error("preferences invalid", "error", err)
		c.auditLog(ctx, audit.LevelError, "cycle aborted: invalid preferences",
			map[string]any{"error": err.Error()})
		return
	}

	devices, missing := c.loadDevices()
	if len(missing) > 0 {
		c.logger.Error("devices missing from registry", "missing", missing)
		c.auditLog(ctx, audit.LevelError, "cycle aborted: devices missing",
			map[string]any{"missing": strings.Join(missing, ", ")})
		return
	}

	if err := c.evaluateFan(ctx, prefs, devices[device.Fan]); err != nil {
		return
	}
	if err := c.evaluateIrrigation(ctx, prefs, devices[device.Irrigation]); err != nil {
		return
	}
	c.evaluateLighting(ctx, prefs, devices[device.Lighting])
	c.evaluateFertilizer(ctx, prefs, devices[device.Fertilizer])
}

// loadDevices reads all four actuators, reporting any that are absent.
func (c *Controller) loadDevices() (map[device.Name]*device.Device, []string) {
	devices := make(map[device.Name]*device.Device, 4)
	var missing []string

	for _, name := range device.AllNames() {
		d, err := c.registry.Get(name)
		if err != nil {
			missing = append(missing, string(name))
			continue
		}
		devices[name] = d
	}

	return devices, missing
}

// evaluateFan applies temperature hysteresis: on above the max threshold,
// off below the min, no action in the dead band between them.
func (c *Controller) evaluateFan(ctx context.Context, prefs *settings.Preferences, fan *device.Device) error {
	if !fan.AutoMode {
		return nil
	}

	reading, err := c.sensors.Current(sensor.TypeTemperature)
	if err != nil {
		// No temperature yet; nothing to decide on.
		c.logger.Debug("fan evaluation skipped, no temperature reading")
		return nil
	}
	if err := c.checkFinite(ctx, reading); err != nil {
		return err
	}

	switch {
	case reading.Value > prefs.MaxTemperature && !fan.Status:
		c.toggle(ctx, device.Fan, true, fmt.Sprintf("temperature %.1f above max %.1f", reading.Value, prefs.MaxTemperature))
	case reading.Value < prefs.MinTemperature && fan.Status:
		c.toggle(ctx, device.Fan, false, fmt.Sprintf("temperature %.1f below min %.1f", reading.Value, prefs.MinTemperature))
	}
	return nil
}

// evaluateIrrigation applies moisture hysteresis: on below the min
// threshold, off above the max.
func (c *Controller) evaluateIrrigation(ctx context.Context, prefs *settings.Preferences, irrigation *device.Device) error {
	if !irrigation.AutoMode {
		return nil
	}

	reading, err := c.sensors.Current(sensor.TypeMoisture)
	if err != nil {
		c.logger.Debug("irrigation evaluation skipped, no moisture reading")
		return nil
	}
	if err := c.checkFinite(ctx, reading); err != nil {
		return err
	}

	switch {
	case reading.Value < prefs.MinMoisture && !irrigation.Status:
		c.toggle(ctx, device.Irrigation, true, fmt.Sprintf("moisture %.1f below min %.1f", reading.Value, prefs.MinMoisture))
	case reading.Value > prefs.MaxMoisture && irrigation.Status:
		c.toggle(ctx, device.Irrigation, false, fmt.Sprintf("moisture %.1f above max %.1f", reading.Value, prefs.MaxMoisture))
	}
	return nil
}

// evaluateLighting asserts the schedule state every cycle, independent
// of sensor values. The assertion is idempotent, not edge-triggered: an
// externally flipped light in auto mode is corrected within one cycle.
func (c *Controller) evaluateLighting(ctx context.Context, prefs *settings.Preferences, lighting *device.Device) {
	if !lighting.AutoMode {
		return
	}

	desired := prefs.LightingActiveAt(c.now())
	if desired == lighting.Status {
		// Already in schedule state; skip so the audit trail records
		// transitions, not every re-assertion.
		return
	}
	c.toggle(ctx, device.Lighting, desired, "lighting schedule")
}

// evaluateFertilizer fires a one-shot run once the next-due instant has
// elapsed. Firing on elapsed-since-due rather than exact minute equality
// means a delayed cycle triggers late instead of not at all.
func (c *Controller) evaluateFertilizer(ctx context.Context, prefs *settings.Preferences, fertilizer *device.Device) {
	if !fertilizer.AutoMode {
		return
	}

	now := c.now()

	c.scheduleMu.Lock()
	key := scheduleKey(prefs)
	if key != c.fertilizerKey || c.fertilizerDue.IsZero() {
		c.fertilizerKey = key
		c.fertilizerDue = nextFertilizerDue(prefs, now)
		c.logger.Info("fertilizer schedule set", "next_due", c.fertilizerDue)
	}
	due := c.fertilizerDue
	fire := !due.IsZero() && !now.Before(due)
	if fire {
		c.fertilizerDue = nextFertilizerDue(prefs, now)
	}
	c.scheduleMu.Unlock()

	if !fire {
		return
	}

	// One-shot: trigger only if currently off, never re-assert.
	if fertilizer.Status {
		return
	}
	c.toggle(ctx, device.Fertilizer, true, "fertilizer schedule due")
}

// checkFinite guards the evaluation step against non-finite values. The
// sensor store rejects them at ingest, so tripping here means corruption.
func (c *Controller) checkFinite(ctx context.Context, reading sensor.Reading) error {
	if math.IsNaN(reading.Value) || math.IsInf(reading.Value, 0) {
		c.logger.Error("non-finite sensor value, aborting cycle",
			"type", reading.Type, "value", reading.Value)
		c.auditLog(ctx, audit.LevelError, "cycle aborted: invalid sensor data",
			map[string]any{"sensor": string(reading.Type)})
		return fmt.Errorf("%w: %s", ErrInvalidSensorData, reading.Type)
	}
	return nil
}

// toggle executes one decision through the registry. Failures abort only
// this device's action; the rest of the cycle proceeds.
func (c *Controller) toggle(ctx context.Context, name device.Name, desired bool, reason string) {
	if _, err := c.registry.Toggle(ctx, name, desired); err != nil {
		c.logger.Error("automation toggle failed",
			"device", name, "desired", desired, "reason", reason, "error", err)
		c.auditLog(ctx, audit.LevelError, "automation toggle failed",
			map[string]any{"device": string(name), "desired": desired, "error": err.Error()})
		return
	}

	c.logger.Info("automation toggle", "device", name, "desired", desired, "reason", reason)
	c.auditLog(ctx, audit.LevelInfo, "automation toggle",
		map[string]any{"device": string(name), "desired": desired, "reason": reason})
}

func (c *Controller) auditLog(ctx context.Context, level audit.Level, message string, details map[string]any) {
	if c.audit != nil {
		c.audit.Log(ctx, level, auditSource, message, details)
	}
}
