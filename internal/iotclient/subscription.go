package iotclient

import "github.com/nerrad567/gray-logic-iot/internal/infrastructure/mqtt"

// Message is an inbound message as seen by a subscription callback.
type Message struct {
	Topic     string
	QoS       string
	Payload   []byte
	Retained  bool
	Duplicate bool
}

// SubscriptionDescriptor binds a topic filter and QoS tag to a callback.
type SubscriptionDescriptor struct {
	Topic     string
	QoS       string
	OnMessage func(Message)
}

// MakeSubscription builds a SubscriptionDescriptor. A nil onMessage drops
// every message.
func MakeSubscription(topic, qos string, onMessage func(Message)) *SubscriptionDescriptor {
	if onMessage == nil {
		onMessage = func(Message) {}
	}
	return &SubscriptionDescriptor{Topic: topic, QoS: qos, OnMessage: onMessage}
}

// Subscribe registers sub with the Connection. Messages are delivered in
// the order the Connection delivers them, without buffering.
func (c *Client) Subscribe(sub *SubscriptionDescriptor) (*Client, error) {
	qos, err := qosFromTag(sub.QoS)
	if err != nil {
		return c, err
	}

	onMessage := sub.OnMessage
	if onMessage == nil {
		onMessage = func(Message) {}
	}

	err = c.conn.Subscribe(mqtt.TopicSubscription{
		Topic: sub.Topic,
		QoS:   qos,
		Handler: func(m mqtt.Message) {
			tag := qosTag(m.QoS)
			c.recorder.RecordDelivery(m.Topic, tag, len(m.Payload))
			onMessage(Message{
				Topic:     m.Topic,
				QoS:       tag,
				Payload:   m.Payload,
				Retained:  m.Retained,
				Duplicate: m.Duplicate,
			})
		},
	})
	if err != nil {
		return c, err
	}

	c.logger.Debug("subscribed", "topic", sub.Topic, "qos", qosTag(qos))
	return c, nil
}

// Unsubscribe removes the subscription for topic.
func (c *Client) Unsubscribe(topic string) (*Client, error) {
	return c, c.conn.Unsubscribe(topic)
}

// Subscriptions returns the active subscriptions as topic to QoS tag.
func (c *Client) Subscriptions() map[string]string {
	subs := c.conn.Subscriptions()
	out := make(map[string]string, len(subs))
	for topic, qos := range subs {
		out[topic] = qosTag(qos)
	}
	return out
}
