package mqtt

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/verdanthq/verdant-core/internal/infrastructure/config"
)

// Client is the transport gateway to the MQTT broker.
//
// It owns the broker connection end to end: subscribing to the sensor and
// device namespaces, publishing commands, probing liveness with a heartbeat,
// and reconnecting after failures. Consumers register handlers for parsed
// inbound messages and otherwise never see the underlying paho session.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Handlers are invoked from paho's receive goroutines and should not block.
type Client struct {
	cfg    config.MQTTConfig
	topics Topics

	client  pahomqtt.Client
	options *pahomqtt.ClientOptions

	// mu guards connected, lastPing and lastLatency.
	mu          sync.RWMutex
	connected   bool
	lastPing    time.Time
	lastLatency time.Duration

	// reconnectPending suppresses concurrent reconnect attempts: only one
	// reconnect may be scheduled or in flight at any time.
	reconnectPending atomic.Bool

	// closed marks the gateway as shut down; no reconnects after this.
	closed atomic.Bool

	heartbeatStop chan struct{}
	heartbeatDone chan struct{}

	handlerMu     sync.RWMutex
	sensorHandler func(SensorMessage)
	deviceHandler func(DeviceMessage)

	logger   Logger
	loggerMu sync.RWMutex

	// now is the clock source, replaceable in tests.
	now func() time.Time
}

// Logger is the logging interface used by the gateway.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Connect establishes a connection to the MQTT broker and starts the
// heartbeat loop. A nil logger falls back to a noop; passing one here
// (rather than via SetLogger afterwards) captures the initial connect
// and subscribe events too.
//
// It performs the following setup:
//  1. Builds connection options from config (broker URL, auth, TLS, LWT)
//  2. Attempts initial connection with timeout
//  3. Subscribes to the sensor and device namespaces
//  4. Publishes online status to <prefix>/system/status
//  5. Starts the heartbeat goroutine
func Connect(cfg config.MQTTConfig, logger Logger) (*Client, error) {
	c := newClient(cfg, logger)

	c.options.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	c.options.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleConnectionLost(err)
	})

	c.client = pahomqtt.NewClient(c.options)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// Set connected state immediately after successful connection.
	// The OnConnectHandler callback runs asynchronously and may not have
	// executed yet; setting it here ensures IsHealthy() is true on return.
	c.markConnected()

	go c.heartbeatLoop()

	return c, nil
}

// newClient assembles an unconnected gateway: topic builders, paho options
// with LWT, and the logger (wired here so initial connect events are logged).
func newClient(cfg config.MQTTConfig, logger Logger) *Client {
	topics := NewTopics(cfg.TopicPrefix)

	opts := buildClientOptions(cfg)
	configureLWT(opts, topics, cfg.Broker.ClientID)

	if logger == nil {
		logger = noopLogger{}
	}

	return &Client{
		cfg:           cfg,
		topics:        topics,
		options:       opts,
		heartbeatStop: make(chan struct{}),
		heartbeatDone: make(chan struct{}),
		logger:        logger,
		now:           time.Now,
	}
}

// handleConnect runs on every successful (re)connection. It restores
// subscriptions and announces the core as online.
func (c *Client) handleConnect() {
	c.markConnected()
	c.getLogger().Info("mqtt connected", "broker", c.cfg.Broker.Host)

	if err := c.subscribeAll(); err != nil {
		// A session without subscriptions is useless; treat like a stale
		// connection and go through the reconnect path.
		c.getLogger().Error("mqtt subscription setup failed", "error", err)
		c.teardownAndReconnect()
		return
	}

	payload := buildStatusPayload("online", c.cfg.Broker.ClientID, "")
	c.client.Publish(c.topics.SystemStatus(), byte(c.cfg.QoS), true, payload)
}

// handleConnectionLost runs when the broker reports a closed connection.
// A single reconnect attempt is scheduled after the configured fixed delay.
func (c *Client) handleConnectionLost(err error) {
	c.markDisconnected()
	c.getLogger().Warn("mqtt connection lost", "error", err)
	c.scheduleReconnect()
}

// subscribeAll subscribes to the fixed set of inbound topic patterns.
func (c *Client) subscribeAll() error {
	patterns := []string{
		c.topics.AllSensors(),
		c.topics.AllDevices(),
	}

	for _, pattern := range patterns {
		token := c.client.Subscribe(pattern, byte(c.cfg.QoS), c.dispatch)
		if !token.WaitTimeout(defaultPublishTimeout) {
			return fmt.Errorf("%w: timeout subscribing to %q", ErrSubscribeFailed, pattern)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("%w: %q: %w", ErrSubscribeFailed, pattern, err)
		}
	}

	return nil
}

// scheduleReconnect arranges a single reconnect attempt after the configured
// delay. Re-entry while an attempt is pending or in flight is suppressed.
// Retries are unbounded; the gateway keeps trying until Close().
func (c *Client) scheduleReconnect() {
	if c.closed.Load() {
		return
	}
	if !c.reconnectPending.CompareAndSwap(false, true) {
		return
	}

	c.getLogger().Info("mqtt reconnect scheduled", "delay", c.cfg.ReconnectDelay())
	time.AfterFunc(c.cfg.ReconnectDelay(), c.attemptReconnect)
}

// attemptReconnect performs one reconnect attempt. On failure the next
// attempt is scheduled after the same fixed delay.
func (c *Client) attemptReconnect() {
	if c.closed.Load() {
		c.reconnectPending.Store(false)
		return
	}

	token := c.client.Connect()
	completed := token.WaitTimeout(defaultConnectTimeout)
	err := reconnectError(completed, token.Error())

	c.reconnectPending.Store(false)

	if err != nil {
		c.getLogger().Warn("mqtt reconnect attempt failed", "error", err)
		c.scheduleReconnect()
		return
	}
	// Success: the OnConnect handler restores subscriptions and status.
}

// reconnectError normalizes a connect token outcome. WaitTimeout returning
// false leaves the token error nil, so the timeout case needs its own error.
func reconnectError(completed bool, tokenErr error) error {
	if !completed {
		return fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if tokenErr != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, tokenErr)
	}
	return nil
}

// teardownAndReconnect proactively closes the session and schedules a
// reconnect. Used when the heartbeat detects a half-open connection that
// the broker has not reported as closed.
func (c *Client) teardownAndReconnect() {
	c.markDisconnected()
	c.client.Disconnect(0)
	c.scheduleReconnect()
}

// IsHealthy reports whether the gateway has a live, recently verified
// session. It returns false if no successful heartbeat round trip has
// completed within the staleness window, even if the underlying socket
// still reports open. This guards against half-open connections.
func (c *Client) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected {
		return false
	}
	return c.now().Sub(c.lastPing) < c.cfg.StaleAfter()
}

// IsConnected returns the last known connection state without applying
// the staleness rule. Prefer IsHealthy for liveness decisions.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Latency returns the round-trip time of the most recent successful
// heartbeat probe, or zero if none has completed yet.
func (c *Client) Latency() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastLatency
}

func (c *Client) markConnected() {
	c.mu.Lock()
	c.connected = true
	c.lastPing = c.now()
	c.mu.Unlock()
}

func (c *Client) markDisconnected() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

// SetSensorHandler registers the callback for parsed telemetry messages.
func (c *Client) SetSensorHandler(handler func(SensorMessage)) {
	c.handlerMu.Lock()
	c.sensorHandler = handler
	c.handlerMu.Unlock()
}

// SetDeviceHandler registers the callback for parsed device field reports.
func (c *Client) SetDeviceHandler(handler func(DeviceMessage)) {
	c.handlerMu.Lock()
	c.deviceHandler = handler
	c.handlerMu.Unlock()
}

// SetLogger sets a logger for connection events and parse failures.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// Close gracefully shuts down the gateway.
//
// It performs:
//  1. Stops the heartbeat loop (before touching the session, so no probe
//     fires against a half-closed transport)
//  2. Publishes graceful offline status (distinct from the LWT crash status)
//  3. Disconnects from the broker with a quiesce period
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	close(c.heartbeatStop)
	<-c.heartbeatDone

	if c.IsConnected() {
		payload := buildStatusPayload("offline", c.cfg.Broker.ClientID, "graceful_shutdown")
		token := c.client.Publish(c.topics.SystemStatus(), byte(c.cfg.QoS), true, payload)
		token.WaitTimeout(defaultPublishTimeout)
	}

	c.client.Disconnect(defaultDisconnectQuiesce)
	c.markDisconnected()

	return nil
}
