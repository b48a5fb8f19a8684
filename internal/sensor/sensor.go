package sensor

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// Sentinel errors for sensor operations.
var (
	ErrUnknownType    = errors.New("sensor: unknown sensor type")
	ErrInvalidReading = errors.New("sensor: invalid reading")
	ErrNoReading      = errors.New("sensor: no reading available")
)

// Type identifies an environmental measurement channel.
type Type string

// Known sensor types.
const (
	TypeTemperature Type = "temperature"
	TypeMoisture    Type = "moisture"
)

// Valid reports whether t is a known sensor type.
func (t Type) Valid() bool {
	return t == TypeTemperature || t == TypeMoisture
}

// Reading is a single timestamped environmental measurement.
type Reading struct {
	Type      Type
	Value     float64
	Unit      string
	Timestamp time.Time
}

// Recorder receives accepted readings for time-series storage.
type Recorder interface {
	WriteSensorReading(sensorType string, value float64, unit string, timestamp time.Time)
}

// Broadcaster pushes accepted readings to connected dashboard clients.
type Broadcaster interface {
	EmitSensorUpdate(reading Reading)
}

// Store holds the latest reading per sensor type.
//
// The automation loop reads current conditions from here; the MQTT
// gateway and WebSocket hub feed it. Only the most recent reading per
// type is retained, the full history lives in the time-series store.
type Store struct {
	mu     sync.RWMutex
	latest map[Type]Reading

	recorder    Recorder
	broadcaster Broadcaster
}

// NewStore creates an empty sensor store.
func NewStore() *Store {
	return &Store{
		latest: make(map[Type]Reading),
	}
}

// SetRecorder attaches a time-series sink. Optional; nil means readings
// are kept in memory only.
func (s *Store) SetRecorder(r Recorder) {
	s.mu.Lock()
	s.recorder = r
	s.mu.Unlock()
}

// SetBroadcaster attaches a live-update sink. Optional.
func (s *Store) SetBroadcaster(b Broadcaster) {
	s.mu.Lock()
	s.broadcaster = b
	s.mu.Unlock()
}

// Ingest validates and stores a reading, then fans it out to the attached
// sinks. Later Ingest calls for the same type replace the stored reading
// regardless of timestamp order; the latest arrival wins.
func (s *Store) Ingest(reading Reading) error {
	if !reading.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownType, reading.Type)
	}
	if math.IsNaN(reading.Value) || math.IsInf(reading.Value, 0) {
		return fmt.Errorf("%w: non-finite value for %s", ErrInvalidReading, reading.Type)
	}
	if reading.Timestamp.IsZero() {
		reading.Timestamp = time.Now()
	}

	s.mu.Lock()
	s.latest[reading.Type] = reading
	recorder := s.recorder
	broadcaster := s.broadcaster
	s.mu.Unlock()

	if recorder != nil {
		recorder.WriteSensorReading(string(reading.Type), reading.Value, reading.Unit, reading.Timestamp)
	}
	if broadcaster != nil {
		broadcaster.EmitSensorUpdate(reading)
	}

	return nil
}

// Current returns the latest reading for the given type, or ErrNoReading
// if nothing has arrived yet.
func (s *Store) Current(t Type) (Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reading, ok := s.latest[t]
	if !ok {
		return Reading{}, fmt.Errorf("%w: %s", ErrNoReading, t)
	}
	return reading, nil
}

// Snapshot returns a copy of the latest reading for every type seen so far.
func (s *Store) Snapshot() map[Type]Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[Type]Reading, len(s.latest))
	for t, r := range s.latest {
		out[t] = r
	}
	return out
}
