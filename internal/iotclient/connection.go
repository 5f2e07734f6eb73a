package iotclient

import (
	"time"

	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/mqtt"
)

// Connection is the live session the Client drives. *mqtt.Connection and
// the in-memory loopback connection implement it.
type Connection interface {
	Connect() error
	Disconnect() error

	Publish(topic string, payload []byte) error
	PublishQoS(topic string, qos mqtt.QoS, payload []byte) error
	PublishTimeout(topic string, payload []byte, timeout time.Duration) error
	PublishQoSTimeout(topic string, qos mqtt.QoS, payload []byte, timeout time.Duration) error
	PublishAsync(msg mqtt.AsyncMessage) error

	Subscribe(sub mqtt.TopicSubscription) error
	Unsubscribe(topic string) error
	Subscriptions() map[string]mqtt.QoS

	SetWill(will *mqtt.Will) error
	Will() *mqtt.Will

	AttachDevice(d *mqtt.Device) error
	DetachDevice(thingName string) error
	Devices() []string

	Status() mqtt.ConnectionStatus
	Type() mqtt.ConnectionType
	Endpoint() string
	ClientID() string
	Executor() *mqtt.Executor

	Tunables() mqtt.Tunables
	UpdateTunables(update func(*mqtt.Tunables))
}

// Connector constructs Connections for BuildConnection.
type Connector interface {
	NewTLSConnection(endpoint, clientID string, creds mqtt.TLSCredentials) (Connection, error)
	NewWebSocketConnection(endpoint, clientID string, creds mqtt.SigV4Credentials) (Connection, error)
}

// PahoConnector builds paho-backed connections.
type PahoConnector struct {
	// Port overrides the transport's default gateway port when non-zero.
	Port int

	// Options are applied to every connection built.
	Options []mqtt.Option
}

func (p PahoConnector) options() []mqtt.Option {
	opts := append([]mqtt.Option(nil), p.Options...)
	if p.Port != 0 {
		opts = append(opts, mqtt.WithPort(p.Port))
	}
	return opts
}

// NewTLSConnection implements Connector.
func (p PahoConnector) NewTLSConnection(endpoint, clientID string, creds mqtt.TLSCredentials) (Connection, error) {
	conn, err := mqtt.NewTLSConnection(endpoint, clientID, creds, p.options()...)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// NewWebSocketConnection implements Connector.
func (p PahoConnector) NewWebSocketConnection(endpoint, clientID string, creds mqtt.SigV4Credentials) (Connection, error) {
	conn, err := mqtt.NewWebSocketConnection(endpoint, clientID, creds, p.options()...)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
