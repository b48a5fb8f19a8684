package device

import "time"

// Name identifies one of the four fixed actuators. The set is closed;
// devices are provisioned by migration, never created at runtime.
type Name string

// The actuators under automation control.
const (
	Fan        Name = "fan"
	Irrigation Name = "irrigation"
	Lighting   Name = "lighting"
	Fertilizer Name = "fertilizer"
)

// AllNames returns every known device name in a stable order.
func AllNames() []Name {
	return []Name{Fan, Irrigation, Lighting, Fertilizer}
}

// Valid reports whether n is a known device name.
func (n Name) Valid() bool {
	switch n {
	case Fan, Irrigation, Lighting, Fertilizer:
		return true
	}
	return false
}

// Device is the authoritative record of one actuator.
//
// Invariant: OperationStartTime is non-nil exactly when Status is true.
// It marks when the current run began and is the basis for resource
// accounting when the device turns off.
type Device struct {
	Name     Name `json:"name"`
	Status   bool `json:"status"`
	AutoMode bool `json:"auto_mode"`

	// PowerRatingWatts is the nameplate draw used for energy accounting.
	PowerRatingWatts float64 `json:"power_rating_watts"`

	// WaterRatePerMinute is litres per minute of flow while running.
	// Nil for devices that do not consume water.
	WaterRatePerMinute *float64 `json:"water_rate_per_minute,omitempty"`

	OperationStartTime *time.Time `json:"operation_start_time,omitempty"`
	LastUpdated        time.Time  `json:"last_updated"`
}

// Clone returns a deep copy of the device.
func (d *Device) Clone() *Device {
	clone := *d
	if d.WaterRatePerMinute != nil {
		rate := *d.WaterRatePerMinute
		clone.WaterRatePerMinute = &rate
	}
	if d.OperationStartTime != nil {
		start := *d.OperationStartTime
		clone.OperationStartTime = &start
	}
	return &clone
}
