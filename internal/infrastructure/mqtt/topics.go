package mqtt

import (
	"fmt"
	"strings"
)

// Topics builds Verdant MQTT topic strings under a configurable prefix.
//
// Topic scheme:
//
//	<prefix>/sensors/<type>   inbound telemetry (temperature, moisture)
//	<prefix>/devices/<name>   outbound commands and inbound field reports
//	<prefix>/system/status    core online/offline status (retained)
//	<prefix>/system/ping      heartbeat round-trip probe
type Topics struct {
	Prefix string
}

// NewTopics returns a Topics builder for the given prefix.
func NewTopics(prefix string) Topics {
	return Topics{Prefix: prefix}
}

// Sensor returns the telemetry topic for a sensor type.
//
// Example: verdant/sensors/temperature
func (t Topics) Sensor(sensorType string) string {
	return fmt.Sprintf("%s/sensors/%s", t.Prefix, sensorType)
}

// Device returns the command/report topic for a device.
//
// Example: verdant/devices/fan
func (t Topics) Device(name string) string {
	return fmt.Sprintf("%s/devices/%s", t.Prefix, name)
}

// SystemStatus returns the core status topic.
//
// Example: verdant/system/status
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", t.Prefix)
}

// SystemPing returns the heartbeat probe topic.
//
// Example: verdant/system/ping
func (t Topics) SystemPing() string {
	return fmt.Sprintf("%s/system/ping", t.Prefix)
}

// AllSensors returns a pattern matching all sensor telemetry.
//
// Pattern: verdant/sensors/+
func (t Topics) AllSensors() string {
	return fmt.Sprintf("%s/sensors/+", t.Prefix)
}

// AllDevices returns a pattern matching all device topics.
//
// Pattern: verdant/devices/+
func (t Topics) AllDevices() string {
	return fmt.Sprintf("%s/devices/+", t.Prefix)
}

// SensorType extracts the sensor type from a telemetry topic.
// Returns false if the topic is not under the sensor namespace.
func (t Topics) SensorType(topic string) (string, bool) {
	return t.lastSegment(topic, t.Prefix+"/sensors/")
}

// DeviceName extracts the device name from a device topic.
// Returns false if the topic is not under the device namespace.
func (t Topics) DeviceName(topic string) (string, bool) {
	return t.lastSegment(topic, t.Prefix+"/devices/")
}

// lastSegment returns the single segment following prefix, rejecting
// topics with further levels.
func (t Topics) lastSegment(topic, prefix string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, prefix)
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}
