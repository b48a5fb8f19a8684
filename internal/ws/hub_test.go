package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/verdanthq/verdant-core/internal/device"
	"github.com/verdanthq/verdant-core/internal/infrastructure/config"
	"github.com/verdanthq/verdant-core/internal/sensor"
)

func testHub() *Hub {
	return NewHub(config.WebSocketConfig{
		Path:           "/ws",
		MaxMessageSize: 4096,
		PingInterval:   30,
		PongTimeout:    10,
	})
}

// newHubClient attaches a pumpless client directly to the hub, with the
// given channel subscriptions.
func newHubClient(h *Hub, channels ...string) *Client {
	c := &Client{
		hub:           h,
		send:          make(chan []byte, sendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	for _, ch := range channels {
		c.subscriptions[ch] = struct{}{}
	}
	h.register(c)
	return c
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case data := <-c.send:
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("no frame received")
		return Message{}
	}
}

func TestBroadcastRespectsSubscriptions(t *testing.T) {
	h := testHub()
	deviceWatcher := newHubClient(h, ChannelDeviceUpdated)
	sensorWatcher := newHubClient(h, ChannelSensorReading)

	h.EmitDeviceUpdate(device.Device{Name: device.Fan, Status: true})

	msg := receive(t, deviceWatcher)
	if msg.Type != TypeEvent || msg.EventType != ChannelDeviceUpdated {
		t.Errorf("frame = %+v, want device.updated event", msg)
	}

	select {
	case data := <-sensorWatcher.send:
		t.Errorf("unsubscribed client received frame: %s", data)
	default:
	}
}

func TestEmitSensorUpdate(t *testing.T) {
	h := testHub()
	watcher := newHubClient(h, ChannelSensorReading)

	h.EmitSensorUpdate(sensor.Reading{
		Type:      sensor.TypeTemperature,
		Value:     23.5,
		Unit:      "C",
		Timestamp: time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC),
	})

	msg := receive(t, watcher)
	if msg.EventType != ChannelSensorReading {
		t.Errorf("EventType = %q, want %q", msg.EventType, ChannelSensorReading)
	}
	payload, ok := msg.Payload.(map[string]any)
	if !ok {
		t.Fatalf("payload type %T", msg.Payload)
	}
	if payload["value"] != 23.5 || payload["type"] != "temperature" {
		t.Errorf("payload = %v", payload)
	}
}

func TestUnregisterStopsDelivery(t *testing.T) {
	h := testHub()
	watcher := newHubClient(h, ChannelDeviceUpdated)

	h.unregister(watcher)
	if h.ClientCount() != 0 {
		t.Fatalf("ClientCount = %d, want 0", h.ClientCount())
	}

	// Broadcasting after unregister must not panic on the closed channel.
	h.EmitDeviceUpdate(device.Device{Name: device.Fan})

	// Double unregister is safe.
	h.unregister(watcher)
}

type mockRelay struct {
	mu       sync.Mutex
	readings []sensor.Reading
	err      error
}

func (m *mockRelay) IngestTelemetry(_ context.Context, reading sensor.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.readings = append(m.readings, reading)
	return nil
}

func TestSensorFrameRelayed(t *testing.T) {
	h := testHub()
	relay := &mockRelay{}
	h.SetTelemetryRelay(relay)
	client := newHubClient(h)

	frame, _ := json.Marshal(Message{
		Type: TypeSensor,
		ID:   "f1",
		Payload: map[string]any{
			"type":  "moisture",
			"value": 48.0,
			"unit":  "%",
		},
	})
	client.handleMessage(frame)

	relay.mu.Lock()
	if len(relay.readings) != 1 {
		t.Fatalf("relayed %d readings, want 1", len(relay.readings))
	}
	reading := relay.readings[0]
	relay.mu.Unlock()

	if reading.Type != sensor.TypeMoisture || reading.Value != 48 {
		t.Errorf("reading = %+v", reading)
	}

	resp := receive(t, client)
	if resp.Type != TypeResponse || resp.ID != "f1" {
		t.Errorf("response = %+v", resp)
	}
}

func TestSensorFrameRejected(t *testing.T) {
	h := testHub()
	relay := &mockRelay{err: errors.New("unknown sensor type")}
	h.SetTelemetryRelay(relay)
	client := newHubClient(h)

	frame, _ := json.Marshal(Message{
		Type:    TypeSensor,
		ID:      "f2",
		Payload: map[string]any{"type": "bogus", "value": 1.0},
	})
	client.handleMessage(frame)

	resp := receive(t, client)
	if resp.Type != TypeError {
		t.Errorf("response type = %q, want error", resp.Type)
	}
}

func TestSensorFrameMissingValue(t *testing.T) {
	h := testHub()
	h.SetTelemetryRelay(&mockRelay{})
	client := newHubClient(h)

	frame, _ := json.Marshal(Message{
		Type:    TypeSensor,
		ID:      "f3",
		Payload: map[string]any{"type": "temperature"},
	})
	client.handleMessage(frame)

	resp := receive(t, client)
	if resp.Type != TypeError {
		t.Errorf("response type = %q, want error", resp.Type)
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	h := testHub()
	client := newHubClient(h)

	sub, _ := json.Marshal(Message{
		Type:    TypeSubscribe,
		ID:      "s1",
		Payload: map[string]any{"channels": []string{ChannelDeviceUpdated}},
	})
	client.handleMessage(sub)
	receive(t, client) // ack

	if !client.isSubscribed(ChannelDeviceUpdated) {
		t.Error("subscription not recorded")
	}

	unsub, _ := json.Marshal(Message{
		Type:    TypeUnsubscribe,
		ID:      "s2",
		Payload: map[string]any{"channels": []string{ChannelDeviceUpdated}},
	})
	client.handleMessage(unsub)
	receive(t, client) // ack

	if client.isSubscribed(ChannelDeviceUpdated) {
		t.Error("subscription not removed")
	}
}

func TestUnknownMessageType(t *testing.T) {
	h := testHub()
	client := newHubClient(h)

	client.handleMessage([]byte(`{"type":"teleport","id":"x"}`))

	resp := receive(t, client)
	if resp.Type != TypeError {
		t.Errorf("response type = %q, want error", resp.Type)
	}
}
