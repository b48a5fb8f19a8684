// Package mqtt is the transport gateway between the core and the broker.
//
// It wraps the paho client behind a small surface: Connect to stand the
// session up, Publish for outbound commands, handler registration for
// inbound telemetry and field reports, and IsHealthy for liveness.
//
// The gateway owns its own reconnect policy. Paho's built-in auto
// reconnect is disabled; after a connection loss or a failed heartbeat
// probe the gateway schedules a single attempt after a fixed delay and
// repeats until it succeeds or the gateway is closed. Health is judged by
// heartbeat round trips, not socket state: a session with no successful
// probe inside the staleness window reports unhealthy even if the TCP
// connection is still open.
package mqtt
