package mqtt

import "errors"

// Domain-specific errors for connection operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when attempting operations on a disconnected session.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned when a connection attempt fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrUnsubscribeFailed is returned when an unsubscribe operation fails.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS is returned when a QoS other than 0 or 1 is requested.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0 or 1)")

	// ErrInvalidTopic is returned when an empty or malformed topic is provided.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("mqtt: operation timed out")

	// ErrClosed is returned by operations on a session that has been disconnected.
	// A disconnected session cannot be reconnected; build a new one.
	ErrClosed = errors.New("mqtt: connection closed")

	// ErrOfflineQueueFull is returned when a publish is issued during a
	// reconnect and the offline queue has no room left.
	ErrOfflineQueueFull = errors.New("mqtt: offline queue full")

	// ErrInvalidCredentials is returned when a connection is built with
	// missing or unusable credentials.
	ErrInvalidCredentials = errors.New("mqtt: invalid credentials")
)
