package iotclient

import (
	"time"

	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/mqtt"
)

// Logger is the logging interface the client and its connections accept.
type Logger = mqtt.Logger

// Recorder receives delivery telemetry. Implementations must be safe for
// concurrent use; methods are called from completion and delivery goroutines.
type Recorder interface {
	RecordPublish(topic, qos, outcome string, latency time.Duration)
	RecordDelivery(topic, qos string, size int)
	RecordStatus(clientID, status string)
}

// Publish outcomes reported to a Recorder.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeTimeout = "timeout"
)

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	logger      Logger
	recorder    Recorder
	connOptions []mqtt.Option
}

// WithLogger sets the logger. NewClient also hands it to the connection.
func WithLogger(logger Logger) Option {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// WithRecorder sets the telemetry recorder.
func WithRecorder(recorder Recorder) Option {
	return func(o *clientOptions) {
		o.recorder = recorder
	}
}

// WithConnectionOptions passes options to the paho connection built by
// NewClient. New ignores them.
func WithConnectionOptions(opts ...mqtt.Option) Option {
	return func(o *clientOptions) {
		o.connOptions = append(o.connOptions, opts...)
	}
}

// Client is the chainable facade over a Connection.
//
// It holds no session state of its own: every getter reads the Connection
// live, and every enumeration crosses the boundary as a tag. Callbacks run
// on the Connection's goroutines and may run concurrently with Client calls.
type Client struct {
	conn     Connection
	logger   Logger
	recorder Recorder
}

// New wraps conn. The Client owns conn from here on.
func New(conn Connection, opts ...Option) *Client {
	var settings clientOptions
	for _, opt := range opts {
		opt(&settings)
	}

	c := &Client{
		conn:     conn,
		logger:   settings.logger,
		recorder: settings.recorder,
	}
	if c.logger == nil {
		c.logger = nopLogger{}
	}
	if c.recorder == nil {
		c.recorder = nopRecorder{}
	}
	return c
}

// =============================================================================
// Lifecycle
// =============================================================================

// Connect establishes the session.
func (c *Client) Connect() (*Client, error) {
	err := c.conn.Connect()
	c.recordStatus()
	if err != nil {
		c.logger.Error("connect failed", "endpoint", c.conn.Endpoint(), "client_id", c.conn.ClientID(), "error", err)
		return c, err
	}
	c.logger.Info("connected", "endpoint", c.conn.Endpoint(), "client_id", c.conn.ClientID(), "type", c.ConnectionType())
	return c, nil
}

// Disconnect ends the session. The underlying Connection cannot be reused.
func (c *Client) Disconnect() (*Client, error) {
	err := c.conn.Disconnect()
	c.recordStatus()
	return c, err
}

func (c *Client) recordStatus() {
	c.recorder.RecordStatus(c.conn.ClientID(), c.ConnectionStatus())
}

// =============================================================================
// Session settings
// =============================================================================

// SetBaseRetryDelay sets the initial reconnect delay. Settings apply at the next Connect.
func (c *Client) SetBaseRetryDelay(d time.Duration) *Client {
	c.conn.UpdateTunables(func(t *mqtt.Tunables) { t.BaseRetryDelay = d })
	return c
}

// SetMaxRetryDelay sets the reconnect delay ceiling.
func (c *Client) SetMaxRetryDelay(d time.Duration) *Client {
	c.conn.UpdateTunables(func(t *mqtt.Tunables) { t.MaxRetryDelay = d })
	return c
}

// SetMaxConnectionRetries sets how many reconnect attempts follow a dropped session.
func (c *Client) SetMaxConnectionRetries(n int) *Client {
	c.conn.UpdateTunables(func(t *mqtt.Tunables) { t.MaxConnectionRetries = n })
	return c
}

// SetConnectionTimeout bounds the connection handshake.
func (c *Client) SetConnectionTimeout(d time.Duration) *Client {
	c.conn.UpdateTunables(func(t *mqtt.Tunables) { t.ConnectionTimeout = d })
	return c
}

// SetKeepAliveInterval sets the MQTT keep-alive.
func (c *Client) SetKeepAliveInterval(d time.Duration) *Client {
	c.conn.UpdateTunables(func(t *mqtt.Tunables) { t.KeepAliveInterval = d })
	return c
}

// SetMaxOfflineQueueSize bounds publishes accepted while reconnecting.
func (c *Client) SetMaxOfflineQueueSize(n int) *Client {
	c.conn.UpdateTunables(func(t *mqtt.Tunables) { t.MaxOfflineQueueSize = n })
	return c
}

// SetNumOfClientThreads sets the executor size.
func (c *Client) SetNumOfClientThreads(n int) *Client {
	c.conn.UpdateTunables(func(t *mqtt.Tunables) { t.NumOfClientThreads = n })
	return c
}

// SetServerAckTimeout sets the default wait for acknowledgements.
func (c *Client) SetServerAckTimeout(d time.Duration) *Client {
	c.conn.UpdateTunables(func(t *mqtt.Tunables) { t.ServerAckTimeout = d })
	return c
}

// BaseRetryDelay returns the configured initial reconnect delay.
func (c *Client) BaseRetryDelay() time.Duration { return c.conn.Tunables().BaseRetryDelay }

// MaxRetryDelay returns the configured reconnect delay ceiling.
func (c *Client) MaxRetryDelay() time.Duration { return c.conn.Tunables().MaxRetryDelay }

// MaxConnectionRetries returns the configured reconnect attempt limit.
func (c *Client) MaxConnectionRetries() int { return c.conn.Tunables().MaxConnectionRetries }

// ConnectionTimeout returns the configured handshake bound.
func (c *Client) ConnectionTimeout() time.Duration { return c.conn.Tunables().ConnectionTimeout }

// KeepAliveInterval returns the configured keep-alive.
func (c *Client) KeepAliveInterval() time.Duration { return c.conn.Tunables().KeepAliveInterval }

// MaxOfflineQueueSize returns the configured offline queue bound.
func (c *Client) MaxOfflineQueueSize() int { return c.conn.Tunables().MaxOfflineQueueSize }

// NumOfClientThreads returns the configured executor size.
func (c *Client) NumOfClientThreads() int { return c.conn.Tunables().NumOfClientThreads }

// ServerAckTimeout returns the configured acknowledgement wait.
func (c *Client) ServerAckTimeout() time.Duration { return c.conn.Tunables().ServerAckTimeout }

// =============================================================================
// Introspection
// =============================================================================

// ConnectionStatus returns the session state as a tag, e.g. "connected".
func (c *Client) ConnectionStatus() string {
	tag, _ := StatusTags.Tag(c.conn.Status())
	return tag
}

// ConnectionType returns the transport as a tag, e.g. "mqtt-over-tls".
func (c *Client) ConnectionType() string {
	tag, _ := TypeTags.Tag(c.conn.Type())
	return tag
}

// Endpoint returns the gateway host name.
func (c *Client) Endpoint() string { return c.conn.Endpoint() }

// ClientID returns the MQTT client identifier.
func (c *Client) ClientID() string { return c.conn.ClientID() }

// Connection returns the wrapped Connection.
func (c *Client) Connection() Connection { return c.conn }

// Executor returns the executor completion callbacks run on.
func (c *Client) Executor() *mqtt.Executor { return c.conn.Executor() }

// =============================================================================
// Will message
// =============================================================================

// WillMessage is the message the broker publishes if the session ends
// ungracefully.
type WillMessage struct {
	Topic    string
	QoS      string
	Payload  []byte
	Retained bool
}

// SetWillMessage sets the will registered at the next Connect. Setting it
// on a connected session is accepted; it takes effect on the next session.
func (c *Client) SetWillMessage(will WillMessage) (*Client, error) {
	qos, err := qosFromTag(will.QoS)
	if err != nil {
		return c, err
	}
	return c, c.conn.SetWill(&mqtt.Will{
		Topic:    will.Topic,
		QoS:      qos,
		Payload:  will.Payload,
		Retained: will.Retained,
	})
}

// ClearWillMessage removes the will.
func (c *Client) ClearWillMessage() *Client {
	if err := c.conn.SetWill(nil); err != nil {
		c.logger.Warn("clearing will message", "error", err)
	}
	return c
}

// WillMessage returns the will, and false if none is set.
func (c *Client) WillMessage() (WillMessage, bool) {
	will := c.conn.Will()
	if will == nil {
		return WillMessage{}, false
	}
	return WillMessage{
		Topic:    will.Topic,
		QoS:      qosTag(will.QoS),
		Payload:  will.Payload,
		Retained: will.Retained,
	}, true
}

// =============================================================================
// Devices
// =============================================================================

// AttachDevice follows the shadow of thingName; onDelta receives each delta
// document. A nil onDelta follows the shadow without a callback.
func (c *Client) AttachDevice(thingName string, onDelta func(thingName string, delta []byte)) (*Client, error) {
	if onDelta == nil {
		onDelta = func(string, []byte) {}
	}
	return c, c.conn.AttachDevice(&mqtt.Device{ThingName: thingName, OnDelta: onDelta})
}

// DetachDevice stops following the shadow of thingName.
func (c *Client) DetachDevice(thingName string) (*Client, error) {
	return c, c.conn.DetachDevice(thingName)
}

// Devices returns the attached thing names.
func (c *Client) Devices() []string { return c.conn.Devices() }

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type nopRecorder struct{}

func (nopRecorder) RecordPublish(string, string, string, time.Duration) {}
func (nopRecorder) RecordDelivery(string, string, int)                  {}
func (nopRecorder) RecordStatus(string, string)                         {}
