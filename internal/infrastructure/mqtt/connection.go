package mqtt

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Connection is one MQTT session with an AWS IoT style device gateway.
//
// Construction validates arguments only; Connect performs the handshake.
// Once Disconnect has been called the Connection is closed for good and
// every further operation returns ErrClosed.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Subscriptions and attached devices are restored on reconnection.
type Connection struct {
	endpoint  string
	clientID  string
	port      int
	connType  ConnectionType
	tlsCreds  TLSCredentials
	presigner *presigner
	store     pahomqtt.Store
	logger    Logger
	newClient func(*pahomqtt.ClientOptions) pahomqtt.Client
	brokerURL string

	// mu guards the session state below.
	mu       sync.RWMutex
	client   pahomqtt.Client
	status   ConnectionStatus
	closed   bool
	tunables Tunables
	will     *Will
	executor *Executor
	retries  int // reconnect attempts in the current outage
	queued   int // publishes issued while reconnecting and not yet complete

	// subscriptions tracks active subscriptions for re-subscription on reconnect.
	subscriptions map[string]TopicSubscription
	devices       map[string]*Device
	subMu         sync.RWMutex
}

// NewTLSConnection builds a Connection that authenticates with a client
// certificate over MQTT/TLS (port 8883 unless overridden).
func NewTLSConnection(endpoint, clientID string, creds TLSCredentials, opts ...Option) (*Connection, error) {
	if len(creds.Certificate.Certificate) == 0 {
		return nil, fmt.Errorf("%w: client certificate is required", ErrInvalidCredentials)
	}

	c, err := newConnection(endpoint, clientID, TypeMQTTOverTLS, DefaultTLSPort, opts)
	if err != nil {
		return nil, err
	}
	c.tlsCreds = creds
	return c, nil
}

// NewWebSocketConnection builds a Connection that authenticates with a
// SigV4 presigned URL over MQTT/WebSocket (port 443 unless overridden).
// The region is derived from the endpoint when creds.Region is empty.
func NewWebSocketConnection(endpoint, clientID string, creds SigV4Credentials, opts ...Option) (*Connection, error) {
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return nil, fmt.Errorf("%w: access key id and secret access key are required", ErrInvalidCredentials)
	}
	if creds.Region == "" {
		creds.Region = RegionFromEndpoint(endpoint)
	}
	if creds.Region == "" {
		return nil, fmt.Errorf("%w: region is required and cannot be derived from %q", ErrInvalidCredentials, endpoint)
	}

	c, err := newConnection(endpoint, clientID, TypeMQTTOverWebSocket, DefaultWebSocketPort, opts)
	if err != nil {
		return nil, err
	}
	c.presigner = newPresigner(endpoint, c.port, creds)
	return c, nil
}

func newConnection(endpoint, clientID string, connType ConnectionType, port int, opts []Option) (*Connection, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint is required", ErrInvalidCredentials)
	}
	if clientID == "" {
		return nil, fmt.Errorf("%w: client id is required", ErrInvalidCredentials)
	}

	c := &Connection{
		endpoint:      endpoint,
		clientID:      clientID,
		port:          port,
		connType:      connType,
		logger:        nopLogger{},
		newClient:     pahomqtt.NewClient,
		status:        StatusDisconnected,
		tunables:      DefaultTunables(),
		subscriptions: make(map[string]TopicSubscription),
		devices:       make(map[string]*Device),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.executor = NewExecutor(c.tunables.Normalized().NumOfClientThreads, c.logger)

	return c, nil
}

// Connect establishes the session.
//
// It performs the following setup:
//  1. Resolves the broker URL (presigning it for WebSocket)
//  2. Applies the current tunables and will message
//  3. Makes a single connection attempt bounded by the connection timeout
//
// Calling Connect on a connected session is a no-op.
func (c *Connection) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.status != StatusDisconnected {
		c.mu.Unlock()
		return nil
	}

	t := c.tunables.Normalized()
	server, err := c.serverURL(context.Background())
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	opts := c.buildClientOptions(t, c.will, server)
	opts.SetOnConnectHandler(func(client pahomqtt.Client) {
		c.handleConnect(client)
	})
	opts.SetConnectionLostHandler(func(client pahomqtt.Client, err error) {
		c.handleConnectionLost(client, err)
	})
	opts.SetReconnectingHandler(func(client pahomqtt.Client, o *pahomqtt.ClientOptions) {
		c.handleReconnecting(client, o)
	})

	if c.executor.Size() != t.NumOfClientThreads {
		old := c.executor
		c.executor = NewExecutor(t.NumOfClientThreads, c.logger)
		go old.Close()
	}

	client := c.newClient(opts)
	c.client = client
	c.status = StatusConnecting
	c.retries = 0
	c.queued = 0
	c.mu.Unlock()

	c.logger.Info("connecting", "endpoint", c.endpoint, "client_id", c.clientID, "type", c.connType.String())

	token := client.Connect()
	if !token.WaitTimeout(t.ConnectionTimeout) {
		c.abandon(client)
		return fmt.Errorf("%w: %w after %v", ErrConnectionFailed, ErrTimeout, t.ConnectionTimeout)
	}
	if err := token.Error(); err != nil {
		c.abandon(client)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.mu.Lock()
	if c.client == client && c.status == StatusConnecting {
		c.status = StatusConnected
	}
	c.mu.Unlock()

	return nil
}

// abandon stops client and marks the session disconnected if client is
// still the current one.
func (c *Connection) abandon(client pahomqtt.Client) {
	c.mu.Lock()
	if c.client == client && !c.closed {
		c.status = StatusDisconnected
	}
	c.mu.Unlock()

	client.Disconnect(0)
}

// serverURL returns the broker URL for the next connection attempt.
// Callers must hold c.mu.
func (c *Connection) serverURL(ctx context.Context) (*url.URL, error) {
	if c.brokerURL != "" {
		return url.Parse(c.brokerURL)
	}
	if c.connType == TypeMQTTOverWebSocket {
		return c.presigner.Presign(ctx)
	}
	return c.tlsServerURL(), nil
}

// handleConnect is called on the initial connection and on every reconnect.
func (c *Connection) handleConnect(client pahomqtt.Client) {
	c.mu.Lock()
	if c.client != client || c.closed {
		c.mu.Unlock()
		return
	}
	reconnected := c.status == StatusReconnecting
	c.status = StatusConnected
	c.retries = 0
	c.mu.Unlock()

	if reconnected {
		c.logger.Info("reconnected", "endpoint", c.endpoint, "client_id", c.clientID)
	}
	c.restoreSubscriptions(client)
}

// handleConnectionLost is called when an established session drops.
func (c *Connection) handleConnectionLost(client pahomqtt.Client, err error) {
	c.mu.Lock()
	if c.client != client || c.closed {
		c.mu.Unlock()
		return
	}
	if c.tunables.Normalized().MaxConnectionRetries > 0 {
		c.status = StatusReconnecting
	} else {
		c.status = StatusDisconnected
	}
	c.retries = 0
	status := c.status
	c.mu.Unlock()

	c.logger.Warn("connection lost", "error", err, "status", status.String())
}

// handleReconnecting runs before each reconnect attempt. WebSocket URLs are
// re-signed here because a presigned URL expires.
func (c *Connection) handleReconnecting(client pahomqtt.Client, opts *pahomqtt.ClientOptions) {
	c.mu.Lock()
	if c.client != client || c.closed {
		c.mu.Unlock()
		return
	}
	c.retries++
	attempt := c.retries
	limit := c.tunables.Normalized().MaxConnectionRetries
	exceeded := attempt > limit

	if !exceeded && c.connType == TypeMQTTOverWebSocket && c.brokerURL == "" {
		server, err := c.presigner.Presign(context.Background())
		if err != nil {
			c.logger.Error("re-signing websocket url", "error", err)
		} else {
			opts.Servers = []*url.URL{server}
		}
	}
	c.mu.Unlock()

	if exceeded {
		c.logger.Error("giving up reconnecting", "attempts", limit, "client_id", c.clientID)
		go c.abandon(client)
		return
	}
	c.logger.Info("reconnecting", "attempt", attempt, "max_attempts", limit)
}

// restoreSubscriptions re-subscribes to all tracked topics after reconnect.
func (c *Connection) restoreSubscriptions(client pahomqtt.Client) {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for _, sub := range c.subscriptions {
		// Errors surface through the token; a failed restore is logged, not retried.
		token := client.Subscribe(sub.Topic, byte(sub.QoS), c.wrapHandler(sub.Handler))
		go c.logTokenFailure(token, "restoring subscription", sub.Topic)
	}
}

func (c *Connection) logTokenFailure(token pahomqtt.Token, action, topic string) {
	<-token.Done()
	if err := token.Error(); err != nil {
		c.logger.Warn(action+" failed", "topic", topic, "error", err)
	}
}

// Disconnect ends the session and releases the executor once pending
// completion callbacks have run. The Connection cannot be reused.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.status = StatusDisconnected
	client := c.client
	executor := c.executor
	c.mu.Unlock()

	if client != nil {
		client.Disconnect(defaultDisconnectQuiesce)
	}
	executor.Close()

	c.logger.Info("disconnected", "endpoint", c.endpoint, "client_id", c.clientID)
	return nil
}

// checkReady returns the client to use for an operation, or the reason
// none can be performed.
func (c *Connection) checkReady() (pahomqtt.Client, ConnectionStatus, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch {
	case c.closed:
		return nil, StatusDisconnected, ErrClosed
	case c.status == StatusConnected || c.status == StatusReconnecting:
		return c.client, c.status, nil
	default:
		return nil, c.status, ErrNotConnected
	}
}

// Status returns the current session state.
func (c *Connection) Status() ConnectionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Type returns the transport of the session.
func (c *Connection) Type() ConnectionType {
	return c.connType
}

// Endpoint returns the gateway host name.
func (c *Connection) Endpoint() string {
	return c.endpoint
}

// ClientID returns the MQTT client identifier.
func (c *Connection) ClientID() string {
	return c.clientID
}

// Port returns the gateway port.
func (c *Connection) Port() int {
	return c.port
}

// Executor returns the executor completion callbacks run on.
func (c *Connection) Executor() *Executor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.executor
}

// Tunables returns the settings the next Connect will apply.
func (c *Connection) Tunables() Tunables {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tunables
}

// UpdateTunables changes the settings under the connection lock.
// Changes take effect at the next Connect.
func (c *Connection) UpdateTunables(update func(*Tunables)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	update(&c.tunables)
}

// SetWill sets the will message registered at the next Connect.
// A nil will clears it.
func (c *Connection) SetWill(will *Will) error {
	if will != nil {
		if err := ValidatePublishTopic(will.Topic); err != nil {
			return err
		}
		if !will.QoS.Valid() {
			return ErrInvalidQoS
		}
		copied := *will
		copied.Payload = append([]byte(nil), will.Payload...)
		will = &copied
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.will = will
	return nil
}

// Will returns a copy of the will message, or nil if none is set.
func (c *Connection) Will() *Will {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.will == nil {
		return nil
	}
	copied := *c.will
	copied.Payload = append([]byte(nil), c.will.Payload...)
	return &copied
}

// Subscriptions returns the tracked topic filters and their QoS.
func (c *Connection) Subscriptions() map[string]QoS {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	out := make(map[string]QoS, len(c.subscriptions))
	for topic, sub := range c.subscriptions {
		out[topic] = sub.QoS
	}
	return out
}

// Devices returns the names of attached things, sorted.
func (c *Connection) Devices() []string {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	names := make([]string, 0, len(c.devices))
	for name := range c.devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HealthCheck reports whether the session is usable.
func (c *Connection) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	_, status, err := c.checkReady()
	if err != nil {
		return err
	}
	if status != StatusConnected {
		return fmt.Errorf("%w: %s", ErrNotConnected, status)
	}
	return nil
}

// wrapHandler wraps a MessageHandler with panic recovery and converts the
// paho message.
func (c *Connection) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("MQTT handler panic recovered",
					"topic", msg.Topic(),
					"panic", r,
				)
			}
		}()

		handler(Message{
			Topic:     msg.Topic(),
			QoS:       QoS(msg.Qos()),
			Payload:   msg.Payload(),
			Retained:  msg.Retained(),
			Duplicate: msg.Duplicate(),
		})
	}
}
