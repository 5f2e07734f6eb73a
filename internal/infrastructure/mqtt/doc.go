// Package mqtt provides the MQTT session used by the Gray Logic IoT client.
//
// A Connection talks to an AWS IoT style device gateway through
// eclipse/paho.mqtt.golang under one of two transports:
//
//   - MQTT over TLS with a client certificate (ssl://endpoint:8883)
//   - MQTT over WebSocket with a SigV4 presigned URL (wss://endpoint/mqtt)
//
// # Session lifecycle
//
//	DISCONNECTED -> CONNECTING -> CONNECTED <-> RECONNECTING -> DISCONNECTED
//
// The initial Connect is a single attempt. After an established session
// drops, paho reconnects automatically until MaxConnectionRetries attempts
// have failed. Disconnect is terminal.
//
// # Completion callbacks
//
// PublishAsync reports completion through exactly one of the message's
// OnSuccess, OnFailure or OnTimeout callbacks, run on the session Executor.
//
// # Security Considerations
//
//   - Presigned WebSocket URLs embed credentials and are never logged
//   - TLS 1.2 is the minimum protocol version
//   - QoS 2 is rejected; the device gateway does not support it
//
// # Usage
//
//	conn, err := mqtt.NewTLSConnection(endpoint, "gateway-01", mqtt.TLSCredentials{Certificate: cert})
//	if err != nil {
//	    return err
//	}
//	if err := conn.Connect(); err != nil {
//	    return err
//	}
//	defer conn.Disconnect()
//
//	err = conn.Subscribe(mqtt.TopicSubscription{
//	    Topic: "factory/+/alarm",
//	    QoS:   mqtt.QoS1,
//	    Handler: func(msg mqtt.Message) {
//	        log.Printf("Received: %s = %s", msg.Topic, msg.Payload)
//	    },
//	})
package mqtt
