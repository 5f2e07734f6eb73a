package iotclient

import (
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/mqtt"
)

// OutboundMessage is an asynchronous publish with its completion callbacks.
//
// The Connection invokes exactly one of the callbacks per publish. Callbacks
// run on the Connection's executor, never on the caller's goroutine.
type OutboundMessage struct {
	// ID correlates log lines and telemetry for one publish.
	ID      string
	Topic   string
	QoS     string
	Payload []byte

	onSuccess func()
	onFailure func()
	onTimeout func()
}

// PublishFunc builds an OutboundMessage bound to a fixed set of callbacks.
type PublishFunc func(topic, qos string, payload []byte) *OutboundMessage

// MakePublisher returns a PublishFunc whose messages report completion to
// the given callbacks. Nil callbacks are no-ops. Each call yields a fresh
// message; nothing is shared between messages except the callbacks.
func MakePublisher(onSuccess, onFailure, onTimeout func()) PublishFunc {
	onSuccess = orNop(onSuccess)
	onFailure = orNop(onFailure)
	onTimeout = orNop(onTimeout)

	return func(topic, qos string, payload []byte) *OutboundMessage {
		return &OutboundMessage{
			ID:        uuid.NewString(),
			Topic:     topic,
			QoS:       qos,
			Payload:   payload,
			onSuccess: onSuccess,
			onFailure: onFailure,
			onTimeout: onTimeout,
		}
	}
}

func orNop(fn func()) func() {
	if fn == nil {
		return func() {}
	}
	return fn
}

// PublishOptions selects the blocking publish form. The zero value publishes
// at the Connection's default QoS with its default acknowledgement timeout.
type PublishOptions struct {
	// QoS is a QoS tag such as "qos1". Empty means unspecified.
	QoS string

	// Timeout bounds the wait for acknowledgement. Zero means unspecified.
	Timeout time.Duration
}

// PublishBlocking publishes and waits for the outcome.
//
// The Connection form is picked by which options are set:
//
//	neither       Publish(topic, payload)
//	QoS only      PublishQoS(topic, qos, payload)
//	Timeout only  PublishTimeout(topic, payload, timeout)
//	both          PublishQoSTimeout(topic, qos, payload, timeout)
//
// An unknown QoS tag fails with ErrUnknownTag before anything is published.
// Connection errors are returned unchanged.
func (c *Client) PublishBlocking(topic string, payload []byte, opts PublishOptions) (*Client, error) {
	start := time.Now()

	var err error
	switch {
	case opts.QoS == "" && opts.Timeout == 0:
		err = c.conn.Publish(topic, payload)
	case opts.Timeout == 0:
		qos, tagErr := qosFromTag(opts.QoS)
		if tagErr != nil {
			return c, tagErr
		}
		err = c.conn.PublishQoS(topic, qos, payload)
	case opts.QoS == "":
		err = c.conn.PublishTimeout(topic, payload, opts.Timeout)
	default:
		qos, tagErr := qosFromTag(opts.QoS)
		if tagErr != nil {
			return c, tagErr
		}
		err = c.conn.PublishQoSTimeout(topic, qos, payload, opts.Timeout)
	}

	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	c.recorder.RecordPublish(topic, tagOrDefault(opts.QoS), outcome, time.Since(start))
	return c, err
}

// PublishAsync hands msg to the Connection and returns once it is accepted.
// The outcome arrives through msg's callbacks. An error here means the
// message was not accepted and no callback will fire.
func (c *Client) PublishAsync(msg *OutboundMessage) (*Client, error) {
	qos, err := qosFromTag(msg.QoS)
	if err != nil {
		return c, err
	}

	adapter := &asyncMessage{
		msg:      msg,
		qos:      qos,
		start:    time.Now(),
		logger:   c.logger,
		recorder: c.recorder,
	}
	if err := c.conn.PublishAsync(adapter); err != nil {
		return c, err
	}
	return c, nil
}

// asyncMessage adapts an OutboundMessage to mqtt.AsyncMessage.
type asyncMessage struct {
	msg      *OutboundMessage
	qos      mqtt.QoS
	start    time.Time
	logger   Logger
	recorder Recorder
}

func (a *asyncMessage) Topic() string   { return a.msg.Topic }
func (a *asyncMessage) QoS() mqtt.QoS   { return a.qos }
func (a *asyncMessage) Payload() []byte { return a.msg.Payload }

func (a *asyncMessage) OnSuccess() {
	a.record(OutcomeSuccess)
	a.msg.onSuccess()
}

func (a *asyncMessage) OnFailure(err error) {
	a.logger.Warn("async publish failed", "id", a.msg.ID, "topic", a.msg.Topic, "error", err)
	a.record(OutcomeFailure)
	a.msg.onFailure()
}

func (a *asyncMessage) OnTimeout() {
	a.logger.Warn("async publish timed out", "id", a.msg.ID, "topic", a.msg.Topic)
	a.record(OutcomeTimeout)
	a.msg.onTimeout()
}

func (a *asyncMessage) record(outcome string) {
	a.recorder.RecordPublish(a.msg.Topic, qosTag(a.qos), outcome, time.Since(a.start))
}

// tagOrDefault reports the QoS tag used when the caller left it unspecified.
func tagOrDefault(tag string) string {
	if tag == "" {
		return qosTag(mqtt.QoS0)
	}
	return tag
}
