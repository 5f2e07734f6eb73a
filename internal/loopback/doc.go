// Package loopback is an in-memory MQTT broker for running the IoT client
// without a device gateway.
//
// A Broker routes publishes between its Connections using MQTT wildcard
// matching. Each Connection implements iotclient.Connection and behaves
// like a gateway session: messages are delivered to subscribers in publish
// order on a per-connection goroutine, asynchronous publishes complete on
// the connection's executor, and an ungraceful drop makes the broker
// publish the session's will.
//
// Usage:
//
//	broker := loopback.NewBroker()
//	client, err := iotclient.BuildConnection(mode, cfg, broker.Connector())
package loopback
