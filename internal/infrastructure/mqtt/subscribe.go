package mqtt

import (
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// subackFailure is the SUBACK return code for a rejected filter.
const subackFailure = 0x80

// Subscribe registers a handler for messages matching sub.Topic.
//
// Topics can include MQTT wildcards:
//   - + (single-level): "$aws/things/+/shadow/update/delta"
//   - # (multi-level): "factory/line-1/#"
//
// While the session is reconnecting the subscription is tracked and sent
// once the connection is restored.
func (c *Connection) Subscribe(sub TopicSubscription) error {
	if err := ValidateTopicFilter(sub.Topic); err != nil {
		return err
	}
	if !sub.QoS.Valid() {
		return ErrInvalidQoS
	}
	if sub.Handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	client, status, err := c.checkReady()
	if err != nil {
		return err
	}

	c.subMu.Lock()
	previous, hadPrevious := c.subscriptions[sub.Topic]
	c.subscriptions[sub.Topic] = sub
	c.subMu.Unlock()

	if status == StatusReconnecting {
		return nil
	}

	if err := c.awaitSubscribe(client, sub); err != nil {
		c.subMu.Lock()
		if hadPrevious {
			c.subscriptions[sub.Topic] = previous
		} else {
			delete(c.subscriptions, sub.Topic)
		}
		c.subMu.Unlock()
		return err
	}

	return nil
}

func (c *Connection) awaitSubscribe(client pahomqtt.Client, sub TopicSubscription) error {
	timeout := c.ackTimeout()

	token := client.Subscribe(sub.Topic, byte(sub.QoS), c.wrapHandler(sub.Handler))
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: %w after %v", ErrSubscribeFailed, ErrTimeout, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	if st, ok := token.(*pahomqtt.SubscribeToken); ok {
		if code, found := st.Result()[sub.Topic]; found && code == subackFailure {
			return fmt.Errorf("%w: broker rejected %q", ErrSubscribeFailed, sub.Topic)
		}
	}
	return nil
}

// Unsubscribe removes a subscription and stops receiving messages for a topic.
//
// Any messages already in flight may still be delivered.
func (c *Connection) Unsubscribe(topic string) error {
	if err := ValidateTopicFilter(topic); err != nil {
		return err
	}

	client, status, err := c.checkReady()
	if err != nil {
		return err
	}

	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()

	if status == StatusReconnecting {
		return nil
	}

	return c.awaitUnsubscribe(client, topic, c.ackTimeout())
}

func (c *Connection) awaitUnsubscribe(client pahomqtt.Client, topic string, timeout time.Duration) error {
	token := client.Unsubscribe(topic)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: %w after %v", ErrUnsubscribeFailed, ErrTimeout, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}
	return nil
}

// SubscriptionCount returns the number of tracked subscriptions.
func (c *Connection) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// HasSubscription checks if a subscription exists for the exact filter.
func (c *Connection) HasSubscription(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, exists := c.subscriptions[topic]
	return exists
}
