package iotclient

import (
	"fmt"
	"strings"

	"github.com/nerrad567/gray-logic-iot/internal/enumcodec"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/mqtt"
)

// Translation tables for the enumerations that cross the client boundary.
var (
	// QoSTags maps mqtt.QoS to "qos0" and "qos1".
	QoSTags = enumcodec.Build(mqtt.QoSValues(), mqtt.QoS.String)

	// StatusTags maps mqtt.ConnectionStatus to "connecting", "connected",
	// "reconnecting" and "disconnected".
	StatusTags = enumcodec.Build(mqtt.ConnectionStatusValues(), mqtt.ConnectionStatus.String)

	// TypeTags maps mqtt.ConnectionType to "mqtt-over-tls" and "mqtt-over-websocket".
	TypeTags = enumcodec.Build(mqtt.ConnectionTypeValues(), mqtt.ConnectionType.String)
)

// qosFromTag resolves a caller-supplied QoS tag. An empty tag means no
// preference and resolves to QoS 0.
func qosFromTag(tag string) (mqtt.QoS, error) {
	if tag == "" {
		return mqtt.QoS0, nil
	}
	q, ok := QoSTags.Value(tag)
	if !ok {
		return 0, fmt.Errorf("%w: qos %q (want one of %s)", ErrUnknownTag, tag, strings.Join(QoSTags.Tags(), ", "))
	}
	return q, nil
}

// qosTag returns the tag for q, or "" if q has none.
func qosTag(q mqtt.QoS) string {
	tag, _ := QoSTags.Tag(q)
	return tag
}
