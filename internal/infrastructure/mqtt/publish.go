package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Publish sends a JSON-encoded payload to the given topic at the configured
// QoS level. It fails fast when the gateway has no live session rather than
// queueing into a dead connection.
func (c *Client) Publish(topic string, payload any) error {
	if topic == "" || strings.ContainsAny(topic, "#+") {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	if !c.IsConnected() {
		return fmt.Errorf("%w: cannot publish to %q", ErrNotConnected, topic)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: marshal for %q: %w", ErrInvalidPayload, topic, err)
	}

	token := c.client.Publish(topic, byte(c.cfg.QoS), false, data)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout publishing to %q", ErrPublishFailed, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %q: %w", ErrPublishFailed, topic, err)
	}

	return nil
}

// PublishDeviceState publishes a device state message to the device's
// command topic.
func (c *Client) PublishDeviceState(msg DeviceMessage) error {
	return c.Publish(c.topics.Device(msg.Name), msg)
}

// Topics returns the topic builder for this gateway's configured prefix.
func (c *Client) Topics() Topics {
	return c.topics
}
