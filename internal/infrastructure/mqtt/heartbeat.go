package mqtt

import (
	"time"
)

// heartbeatLoop probes the broker every heartbeat interval until Close().
//
// A probe is a QoS 1 publish to the ping topic: the PUBACK round trip
// verifies the full path to the broker, which a TCP keepalive alone does
// not. Successful probes refresh the health window; a failed probe tears
// the session down and hands off to the reconnect path.
func (c *Client) heartbeatLoop() {
	defer close(c.heartbeatDone)

	ticker := time.NewTicker(c.cfg.HeartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-c.heartbeatStop:
			return
		case <-ticker.C:
			c.probe()
		}
	}
}

// probe performs a single heartbeat round trip.
func (c *Client) probe() {
	if !c.IsConnected() {
		return
	}

	start := c.now()
	token := c.client.Publish(c.topics.SystemPing(), 1, false, []byte(`{"ping":1}`))
	if !token.WaitTimeout(defaultProbeTimeout) || token.Error() != nil {
		c.getLogger().Warn("mqtt heartbeat probe failed",
			"timeout", defaultProbeTimeout, "error", token.Error())
		c.teardownAndReconnect()
		return
	}

	latency := c.now().Sub(start)

	c.mu.Lock()
	c.lastPing = c.now()
	c.lastLatency = latency
	c.mu.Unlock()

	c.getLogger().Debug("mqtt heartbeat ok", "latency", latency)
}
