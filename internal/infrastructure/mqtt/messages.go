package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// SensorMessage is a single telemetry reading published by a sensor node
// under <prefix>/sensors/<type>. The sensor type comes from the topic; a
// type field in the payload is ignored.
type SensorMessage struct {
	Type      string    `json:"type"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// DeviceMessage is a device state frame. Outbound it is a command to the
// actuator; inbound (under <prefix>/devices/<name>) it is a field report of
// the device's actual state. The device name comes from the topic on the
// inbound path.
type DeviceMessage struct {
	Name      string    `json:"name"`
	Status    bool      `json:"status"`
	AutoMode  bool      `json:"auto_mode"`
	Timestamp time.Time `json:"timestamp"`
}

// dispatch routes a raw inbound message to the registered handler based on
// its topic. Malformed payloads are logged and dropped; they never stall
// the subscription. Handler panics are contained so a consumer bug cannot
// kill paho's receive goroutine.
func (c *Client) dispatch(_ pahomqtt.Client, msg pahomqtt.Message) {
	defer func() {
		if r := recover(); r != nil {
			c.getLogger().Error("mqtt handler panic",
				"topic", msg.Topic(), "panic", fmt.Sprintf("%v", r))
		}
	}()

	topic := msg.Topic()

	if sensorType, ok := c.topics.SensorType(topic); ok {
		parsed, err := parseSensorMessage(sensorType, msg.Payload(), c.now())
		if err != nil {
			c.getLogger().Warn("mqtt sensor message dropped",
				"topic", topic, "error", err)
			return
		}
		c.handlerMu.RLock()
		handler := c.sensorHandler
		c.handlerMu.RUnlock()
		if handler != nil {
			handler(parsed)
		}
		return
	}

	if deviceName, ok := c.topics.DeviceName(topic); ok {
		parsed, err := parseDeviceMessage(deviceName, msg.Payload(), c.now())
		if err != nil {
			c.getLogger().Warn("mqtt device message dropped",
				"topic", topic, "error", err)
			return
		}
		c.handlerMu.RLock()
		handler := c.deviceHandler
		c.handlerMu.RUnlock()
		if handler != nil {
			handler(parsed)
		}
		return
	}

	c.getLogger().Debug("mqtt message on unhandled topic", "topic", topic)
}

// parseSensorMessage decodes a telemetry payload. The topic is authoritative
// for the sensor type. A missing timestamp falls back to receive time.
func parseSensorMessage(sensorType string, payload []byte, received time.Time) (SensorMessage, error) {
	var raw struct {
		Value     *float64  `json:"value"`
		Unit      string    `json:"unit"`
		Timestamp time.Time `json:"timestamp"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return SensorMessage{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if raw.Value == nil {
		return SensorMessage{}, fmt.Errorf("%w: missing value", ErrInvalidPayload)
	}

	msg := SensorMessage{
		Type:      sensorType,
		Value:     *raw.Value,
		Unit:      raw.Unit,
		Timestamp: raw.Timestamp,
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = received
	}
	return msg, nil
}

// parseDeviceMessage decodes a field report. The topic is authoritative for
// the device name; a name field in the payload is ignored.
func parseDeviceMessage(deviceName string, payload []byte, received time.Time) (DeviceMessage, error) {
	var raw struct {
		Status    *bool     `json:"status"`
		AutoMode  bool      `json:"auto_mode"`
		Timestamp time.Time `json:"timestamp"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return DeviceMessage{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if raw.Status == nil {
		return DeviceMessage{}, fmt.Errorf("%w: missing status", ErrInvalidPayload)
	}

	msg := DeviceMessage{
		Name:      deviceName,
		Status:    *raw.Status,
		AutoMode:  raw.AutoMode,
		Timestamp: raw.Timestamp,
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = received
	}
	return msg, nil
}
