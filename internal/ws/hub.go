// Package ws pushes live state to dashboard clients over WebSocket and
// accepts telemetry frames as an in-process fallback source alongside the
// MQTT gateway.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/verdanthq/verdant-core/internal/device"
	"github.com/verdanthq/verdant-core/internal/infrastructure/config"
	"github.com/verdanthq/verdant-core/internal/sensor"
)

// Message types and broadcast channels.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeSensor      = "sensor"
	TypePing        = "ping"
	TypePong        = "pong"
	TypeEvent       = "event"
	TypeResponse    = "response"
	TypeError       = "error"

	ChannelDeviceUpdated = "device.updated"
	ChannelSensorReading = "sensor.reading"

	// sendBufferSize is the per-client outbound message buffer size.
	sendBufferSize = 256
)

// Message is the frame format to and from a WebSocket client.
type Message struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// subscribePayload is the payload for subscribe/unsubscribe messages.
type subscribePayload struct {
	Channels []string `json:"channels"`
}

// sensorPayload is an inbound telemetry frame from a client-side relay.
type sensorPayload struct {
	Type      string    `json:"type"`
	Value     *float64  `json:"value"`
	Unit      string    `json:"unit"`
	Timestamp time.Time `json:"timestamp"`
}

// TelemetryRelay receives sensor frames arriving over WebSocket. The
// automation controller implements this; the hub is a second telemetry
// path next to MQTT, deduplicated only by the controller's own lock.
type TelemetryRelay interface {
	IngestTelemetry(ctx context.Context, reading sensor.Reading) error
}

// Logger is the logging interface used by the hub.
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

// Hub manages WebSocket connections and broadcasts state changes.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  Logger
	relay   TelemetryRelay
	clients map[*Client]struct{}
	mu      sync.RWMutex
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// NewHub creates a WebSocket hub.
func NewHub(cfg config.WebSocketConfig) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  noopLogger{},
		clients: make(map[*Client]struct{}),
	}
}

// SetLogger sets the diagnostic logger.
func (h *Hub) SetLogger(l Logger) {
	h.mu.Lock()
	h.logger = l
	h.mu.Unlock()
}

// SetTelemetryRelay attaches the consumer for inbound sensor frames.
// Without one, sensor frames are acknowledged but dropped.
func (h *Hub) SetTelemetryRelay(r TelemetryRelay) {
	h.mu.Lock()
	h.relay = r
	h.mu.Unlock()
}

// Run blocks until the context is cancelled, then disconnects all clients.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// ServeHTTP upgrades the request and starts the client pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, sendBufferSize),
		subscriptions: make(map[string]struct{}),
	}

	h.register(client)

	go client.writePump(h.cfg)
	go client.readPump(h.cfg)
}

// EmitDeviceUpdate broadcasts a device state change.
func (h *Hub) EmitDeviceUpdate(d device.Device) {
	h.broadcast(ChannelDeviceUpdated, d)
}

// EmitSensorUpdate broadcasts a sensor reading.
func (h *Hub) EmitSensorUpdate(reading sensor.Reading) {
	h.broadcast(ChannelSensorReading, map[string]any{
		"type":      reading.Type,
		"value":     reading.Value,
		"unit":      reading.Unit,
		"timestamp": reading.Timestamp.UTC().Format(time.RFC3339),
	})
}

// broadcast sends an event to all clients subscribed to the channel.
// The client list is snapshotted under the hub lock and released before
// per-client sends, so a slow client never stalls the hub.
func (h *Hub) broadcast(channel string, payload any) {
	msg := Message{
		Type:      TypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if client.isSubscribed(channel) {
			client.trySend(data)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// register adds a client to the hub.
func (h *Hub) register(client *Client) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// unregister removes a client. Only the goroutine that removes the
// client from the map closes the send channel, preventing double-close
// panics during shutdown.
func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// closeAll disconnects all clients and closes their send channels so the
// write pumps exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

func (h *Hub) telemetryRelay() TelemetryRelay {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.relay
}
