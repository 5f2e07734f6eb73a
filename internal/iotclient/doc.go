// Package iotclient is the public surface of the Gray Logic IoT client.
//
// It wraps a Connection and adapts it in four ways:
//
//   - Enumerations (QoS, connection status, connection type) cross the
//     boundary as symbolic tags such as "qos1" or "mqtt-over-tls".
//   - BuildConnection picks the transport from the authentication mode and
//     the credentials supplied, rejecting incomplete configurations before
//     anything is constructed.
//   - Publishing and subscribing take plain functions instead of callback
//     objects: MakePublisher binds three completion callbacks once and
//     yields messages for any topic, MakeSubscription binds a handler.
//   - Every mutation returns the Client so calls chain.
//
// # Chaining
//
// Mutations that cannot fail return *Client. Mutations that can fail return
// (*Client, error) and pass Connection errors through unchanged:
//
//	client.SetKeepAliveInterval(time.Minute).SetMaxOfflineQueueSize(128)
//	if _, err := client.Connect(); err != nil {
//	    return err
//	}
//
// # Usage
//
//	client, err := iotclient.NewClient(iotclient.AuthModeTLS, iotclient.ClientConfig{
//	    Endpoint:         "a1b2c3-ats.iot.eu-west-2.amazonaws.com",
//	    ClientID:         "gateway-01",
//	    CredentialBundle: bundle,
//	})
//	if err != nil {
//	    return err
//	}
//	publish := iotclient.MakePublisher(onSuccess, onFailure, onTimeout)
//	_, err = client.PublishAsync(publish("factory/line-1/temp", "qos1", payload))
package iotclient
