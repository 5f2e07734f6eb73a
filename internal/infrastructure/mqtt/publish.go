package mqtt

import (
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publish sends payload to topic at QoS 0 and waits up to the server ack timeout.
func (c *Connection) Publish(topic string, payload []byte) error {
	return c.publish(topic, QoS0, payload, c.ackTimeout())
}

// PublishQoS sends payload to topic at qos and waits up to the server ack timeout.
//
// QoS Levels:
//   - 0: At most once (fire and forget)
//   - 1: At least once (PUBACK awaited, may duplicate)
func (c *Connection) PublishQoS(topic string, qos QoS, payload []byte) error {
	return c.publish(topic, qos, payload, c.ackTimeout())
}

// PublishTimeout sends payload to topic at QoS 0 and waits up to timeout.
func (c *Connection) PublishTimeout(topic string, payload []byte, timeout time.Duration) error {
	return c.publish(topic, QoS0, payload, timeout)
}

// PublishQoSTimeout sends payload to topic at qos and waits up to timeout.
//
// Example:
//
//	topic := mqtt.Topics{}.ShadowUpdate("boiler-01")
//	err := conn.PublishQoSTimeout(topic, mqtt.QoS1, []byte(`{"state":{"reported":{"on":true}}}`), 2*time.Second)
func (c *Connection) PublishQoSTimeout(topic string, qos QoS, payload []byte, timeout time.Duration) error {
	return c.publish(topic, qos, payload, timeout)
}

// PublishAsync sends msg without blocking. Completion is reported on the
// Executor through exactly one of the message callbacks.
//
// Argument and state errors are returned directly and no callback fires.
func (c *Connection) PublishAsync(msg AsyncMessage) error {
	if msg == nil {
		return fmt.Errorf("%w: message cannot be nil", ErrPublishFailed)
	}

	client, release, err := c.preparePublish(msg.Topic(), msg.QoS(), msg.Payload())
	if err != nil {
		return err
	}

	timeout := c.ackTimeout()
	token := client.Publish(msg.Topic(), byte(msg.QoS()), false, msg.Payload())

	err = c.Executor().Go(func() {
		defer release()
		if !token.WaitTimeout(timeout) {
			msg.OnTimeout()
			return
		}
		if err := token.Error(); err != nil {
			msg.OnFailure(fmt.Errorf("%w: %w", ErrPublishFailed, err))
			return
		}
		msg.OnSuccess()
	})
	if err != nil {
		release()
		return err
	}
	return nil
}

func (c *Connection) publish(topic string, qos QoS, payload []byte, timeout time.Duration) error {
	client, release, err := c.preparePublish(topic, qos, payload)
	if err != nil {
		return err
	}
	defer release()

	token := client.Publish(topic, byte(qos), false, payload)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: %w after %v", ErrPublishFailed, ErrTimeout, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

// preparePublish validates a publish and, while reconnecting, reserves a
// slot in the offline queue for QoS 1. QoS 0 is refused while reconnecting.
// The returned release func frees the slot.
func (c *Connection) preparePublish(topic string, qos QoS, payload []byte) (pahomqtt.Client, func(), error) {
	noop := func() {}

	if err := ValidatePublishTopic(topic); err != nil {
		return nil, noop, err
	}
	if !qos.Valid() {
		return nil, noop, ErrInvalidQoS
	}
	if err := ValidatePayload(payload); err != nil {
		return nil, noop, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.closed:
		return nil, noop, ErrClosed
	case c.status == StatusConnected:
		return c.client, noop, nil
	case c.status == StatusReconnecting && qos == QoS0:
		// paho drops QoS 0 publishes while reconnecting yet completes their token.
		return nil, noop, fmt.Errorf("%w: qos0 publish while reconnecting", ErrNotConnected)
	case c.status == StatusReconnecting:
		limit := c.tunables.Normalized().MaxOfflineQueueSize
		if c.queued >= limit {
			return nil, noop, fmt.Errorf("%w: %d publishes pending", ErrOfflineQueueFull, c.queued)
		}
		c.queued++
		return c.client, c.releaseQueued, nil
	default:
		return nil, noop, ErrNotConnected
	}
}

// ValidatePayload rejects payloads above the AWS IoT message size limit.
func ValidatePayload(payload []byte) error {
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	return nil
}

func (c *Connection) releaseQueued() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.queued > 0 {
		c.queued--
	}
}

func (c *Connection) ackTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tunables.Normalized().ServerAckTimeout
}

// OfflineQueued returns the number of publishes issued during the current
// reconnect that have not completed yet.
func (c *Connection) OfflineQueued() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.queued
}
