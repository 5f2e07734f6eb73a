package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/url"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Connection defaults, matching the AWS IoT device SDK.
const (
	DefaultBaseRetryDelay       = 3 * time.Second
	DefaultMaxRetryDelay        = 30 * time.Second
	DefaultMaxConnectionRetries = 5
	DefaultConnectionTimeout    = 30 * time.Second
	DefaultKeepAliveInterval    = 600 * time.Second
	DefaultMaxOfflineQueueSize  = 64
	DefaultNumOfClientThreads   = 1
	DefaultServerAckTimeout     = 3 * time.Second

	// DefaultTLSPort is the MQTT over TLS port of the device gateway.
	DefaultTLSPort = 8883

	// DefaultWebSocketPort is the MQTT over WebSocket port of the device gateway.
	DefaultWebSocketPort = 443

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// maxPayloadSize is the AWS IoT message size limit.
	maxPayloadSize = 128 << 10

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12

	// alpnMQTT lets MQTT with client certificates share port 443 with HTTPS.
	alpnMQTT = "x-amzn-mqtt-ca"
)

// Tunables are the session settings applied at each Connect.
type Tunables struct {
	BaseRetryDelay       time.Duration
	MaxRetryDelay        time.Duration
	MaxConnectionRetries int
	ConnectionTimeout    time.Duration
	KeepAliveInterval    time.Duration
	MaxOfflineQueueSize  int
	NumOfClientThreads   int
	ServerAckTimeout     time.Duration
}

// DefaultTunables returns the device SDK defaults.
func DefaultTunables() Tunables {
	return Tunables{
		BaseRetryDelay:       DefaultBaseRetryDelay,
		MaxRetryDelay:        DefaultMaxRetryDelay,
		MaxConnectionRetries: DefaultMaxConnectionRetries,
		ConnectionTimeout:    DefaultConnectionTimeout,
		KeepAliveInterval:    DefaultKeepAliveInterval,
		MaxOfflineQueueSize:  DefaultMaxOfflineQueueSize,
		NumOfClientThreads:   DefaultNumOfClientThreads,
		ServerAckTimeout:     DefaultServerAckTimeout,
	}
}

// Normalized replaces out-of-range values with defaults.
// Zero retries and a zero offline queue are meaningful and kept.
func (t Tunables) Normalized() Tunables {
	d := DefaultTunables()
	if t.BaseRetryDelay <= 0 {
		t.BaseRetryDelay = d.BaseRetryDelay
	}
	if t.MaxRetryDelay <= 0 {
		t.MaxRetryDelay = d.MaxRetryDelay
	}
	if t.MaxRetryDelay < t.BaseRetryDelay {
		t.MaxRetryDelay = t.BaseRetryDelay
	}
	if t.MaxConnectionRetries < 0 {
		t.MaxConnectionRetries = d.MaxConnectionRetries
	}
	if t.ConnectionTimeout <= 0 {
		t.ConnectionTimeout = d.ConnectionTimeout
	}
	if t.KeepAliveInterval <= 0 {
		t.KeepAliveInterval = d.KeepAliveInterval
	}
	if t.MaxOfflineQueueSize < 0 {
		t.MaxOfflineQueueSize = d.MaxOfflineQueueSize
	}
	if t.NumOfClientThreads < 1 {
		t.NumOfClientThreads = d.NumOfClientThreads
	}
	if t.ServerAckTimeout <= 0 {
		t.ServerAckTimeout = d.ServerAckTimeout
	}
	return t
}

// TLSCredentials hold the client certificate for mutual TLS.
// RootCAs may be nil to use the system roots.
type TLSCredentials struct {
	Certificate tls.Certificate
	RootCAs     *x509.CertPool
}

// Option configures a Connection at construction.
type Option func(*Connection)

// WithPort overrides the gateway port.
func WithPort(port int) Option {
	return func(c *Connection) {
		if port > 0 {
			c.port = port
		}
	}
}

// WithStore sets the paho store used to persist in-flight QoS 1 packets.
// With a store the session is not clean: packets left by a previous process
// are resent on connect. Without it paho keeps them in memory.
func WithStore(store pahomqtt.Store) Option {
	return func(c *Connection) {
		c.store = store
	}
}

// WithLogger sets the logger for connection events and handler failures.
func WithLogger(logger Logger) Option {
	return func(c *Connection) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTunables replaces the initial session settings.
func WithTunables(t Tunables) Option {
	return func(c *Connection) {
		c.tunables = t
	}
}

// withClientFactory replaces pahomqtt.NewClient.
func withClientFactory(factory func(*pahomqtt.ClientOptions) pahomqtt.Client) Option {
	return func(c *Connection) {
		c.newClient = factory
	}
}

// withBrokerURL bypasses the gateway URL, e.g. to reach a local broker.
func withBrokerURL(raw string) Option {
	return func(c *Connection) {
		c.brokerURL = raw
	}
}

// buildClientOptions creates paho options for one Connect call.
//
// This configures:
//   - Broker URL (ssl:// or presigned wss://)
//   - Client identification and will message
//   - Auto-reconnect bounded by the retry delays
//   - Timeouts and keep-alive from the tunables
//   - Optional persistent store, which also turns off clean sessions
func (c *Connection) buildClientOptions(t Tunables, will *Will, server *url.URL) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.Servers = []*url.URL{server}

	opts.SetClientID(c.clientID)
	opts.SetCleanSession(true)
	if c.store != nil {
		// A clean session makes paho reset the store on connect, discarding
		// packets persisted by a previous process.
		opts.SetCleanSession(false)
		opts.SetResumeSubs(true)
		opts.SetStore(c.store)
	}

	// A single initial attempt; later retries are paho's auto-reconnect.
	opts.SetConnectRetry(false)
	opts.SetAutoReconnect(t.MaxConnectionRetries > 0)
	opts.SetConnectRetryInterval(t.BaseRetryDelay)
	opts.SetMaxReconnectInterval(t.MaxRetryDelay)

	opts.SetConnectTimeout(t.ConnectionTimeout)
	opts.SetKeepAlive(t.KeepAliveInterval)
	opts.SetWriteTimeout(t.ServerAckTimeout)

	// Handlers run concurrently only when more than one client thread is configured.
	opts.SetOrderMatters(t.NumOfClientThreads <= 1)
	// paho reads 0 as unlimited; a zero queue sends nothing while offline,
	// so it leaves resumed publishes unthrottled.
	if t.MaxOfflineQueueSize > 0 {
		opts.SetMaxResumePubInFlight(t.MaxOfflineQueueSize)
	}

	if will != nil {
		opts.SetBinaryWill(will.Topic, will.Payload, byte(will.QoS), will.Retained)
	}

	tlsConfig := &tls.Config{
		MinVersion: tlsMinVersion,
	}
	if c.connType == TypeMQTTOverTLS {
		tlsConfig.Certificates = []tls.Certificate{c.tlsCreds.Certificate}
		tlsConfig.RootCAs = c.tlsCreds.RootCAs
		if c.port == 443 {
			tlsConfig.NextProtos = []string{alpnMQTT}
		}
	}
	opts.SetTLSConfig(tlsConfig)

	return opts
}

// tlsServerURL returns the ssl:// broker URL of the gateway.
func (c *Connection) tlsServerURL() *url.URL {
	return &url.URL{
		Scheme: "ssl",
		Host:   fmt.Sprintf("%s:%d", c.endpoint, c.port),
	}
}
