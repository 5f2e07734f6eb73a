package loopback

import (
	"fmt"
	"sort"
	"sync"

	"github.com/amir-yaghoubi/mqttpattern"

	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-iot/internal/iotclient"
)

// Broker routes messages between in-memory connections.
type Broker struct {
	logger mqtt.Logger

	mu       sync.RWMutex
	sessions map[string]*Connection // live sessions by client id
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithLogger sets the broker's logger. Connections built by the broker share it.
func WithLogger(logger mqtt.Logger) BrokerOption {
	return func(b *Broker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBroker creates an empty broker.
func NewBroker(opts ...BrokerOption) *Broker {
	b := &Broker{
		logger:   nopLogger{},
		sessions: make(map[string]*Connection),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewConnection creates a session on the broker. It starts disconnected.
func (b *Broker) NewConnection(endpoint, clientID string, connType mqtt.ConnectionType) (*Connection, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint is required", mqtt.ErrInvalidCredentials)
	}
	if clientID == "" {
		return nil, fmt.Errorf("%w: client id is required", mqtt.ErrInvalidCredentials)
	}
	return newConnection(b, endpoint, clientID, connType), nil
}

// Connector returns an iotclient.Connector that builds sessions on b.
// Credentials are checked for presence and otherwise ignored.
func (b *Broker) Connector() iotclient.Connector {
	return connector{broker: b}
}

// Publish routes msg to every live session with a matching subscription
// and returns the number of sessions it was queued for.
func (b *Broker) Publish(msg mqtt.Message) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	routed := 0
	for _, session := range b.sessions {
		if session.matches(msg.Topic) {
			session.enqueue(msg)
			routed++
		}
	}
	return routed
}

// Sessions returns the client ids of live sessions, sorted.
func (b *Broker) Sessions() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.sessions))
	for id := range b.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// attach registers c as the live session for its client id. A previous
// session with the same id is dropped, as the gateway does.
func (b *Broker) attach(c *Connection) {
	b.mu.Lock()
	previous := b.sessions[c.clientID]
	b.sessions[c.clientID] = c
	b.mu.Unlock()

	if previous != nil && previous != c {
		b.logger.Warn("client id taken over, dropping previous session", "client_id", c.clientID)
		previous.Drop()
	}
}

// detach removes c and, for an ungraceful end, publishes its will.
func (b *Broker) detach(c *Connection, will *mqtt.Will) {
	b.mu.Lock()
	if b.sessions[c.clientID] == c {
		delete(b.sessions, c.clientID)
	}
	b.mu.Unlock()

	if will != nil {
		b.logger.Debug("publishing will", "client_id", c.clientID, "topic", will.Topic)
		b.Publish(mqtt.Message{
			Topic:    will.Topic,
			QoS:      will.QoS,
			Payload:  will.Payload,
			Retained: will.Retained,
		})
	}
}

// matchesAny reports whether any filter matches topic.
func matchesAny(filters map[string]mqtt.TopicSubscription, topic string) bool {
	for filter := range filters {
		if mqttpattern.Matches(filter, topic) {
			return true
		}
	}
	return false
}

type connector struct {
	broker *Broker
}

func (c connector) NewTLSConnection(endpoint, clientID string, creds mqtt.TLSCredentials) (iotclient.Connection, error) {
	if len(creds.Certificate.Certificate) == 0 {
		return nil, fmt.Errorf("%w: client certificate is required", mqtt.ErrInvalidCredentials)
	}
	conn, err := c.broker.NewConnection(endpoint, clientID, mqtt.TypeMQTTOverTLS)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (c connector) NewWebSocketConnection(endpoint, clientID string, creds mqtt.SigV4Credentials) (iotclient.Connection, error) {
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return nil, fmt.Errorf("%w: access key id and secret access key are required", mqtt.ErrInvalidCredentials)
	}
	conn, err := c.broker.NewConnection(endpoint, clientID, mqtt.TypeMQTTOverWebSocket)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
