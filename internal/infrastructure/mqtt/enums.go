package mqtt

// QoS is the delivery guarantee requested for a publish or subscription.
// AWS IoT Core does not support QoS 2.
type QoS byte

// Supported QoS levels.
const (
	QoS0 QoS = 0 // at most once
	QoS1 QoS = 1 // at least once
)

// String returns the canonical constant name.
func (q QoS) String() string {
	switch q {
	case QoS0:
		return "QOS0"
	case QoS1:
		return "QOS1"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether q is a supported level.
func (q QoS) Valid() bool {
	return q == QoS0 || q == QoS1
}

// QoSValues lists every supported QoS level.
func QoSValues() []QoS {
	return []QoS{QoS0, QoS1}
}

// ConnectionStatus is the observed state of a session.
//
//	DISCONNECTED -> CONNECTING -> CONNECTED <-> RECONNECTING -> DISCONNECTED
type ConnectionStatus int

// Session states.
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

// String returns the canonical constant name.
func (s ConnectionStatus) String() string {
	switch s {
	case StatusConnecting:
		return "CONNECTING"
	case StatusConnected:
		return "CONNECTED"
	case StatusReconnecting:
		return "RECONNECTING"
	case StatusDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// ConnectionStatusValues lists every session state.
func ConnectionStatusValues() []ConnectionStatus {
	return []ConnectionStatus{StatusConnecting, StatusConnected, StatusReconnecting, StatusDisconnected}
}

// ConnectionType is the transport a session runs over.
type ConnectionType int

// Transports.
const (
	TypeMQTTOverTLS ConnectionType = iota
	TypeMQTTOverWebSocket
)

// String returns the canonical constant name.
func (t ConnectionType) String() string {
	switch t {
	case TypeMQTTOverTLS:
		return "MQTT_OVER_TLS"
	case TypeMQTTOverWebSocket:
		return "MQTT_OVER_WEBSOCKET"
	default:
		return "UNKNOWN"
	}
}

// ConnectionTypeValues lists every transport.
func ConnectionTypeValues() []ConnectionType {
	return []ConnectionType{TypeMQTTOverTLS, TypeMQTTOverWebSocket}
}
