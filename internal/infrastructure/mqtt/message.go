package mqtt

// Message is an inbound message delivered to a subscription handler.
type Message struct {
	Topic     string
	QoS       QoS
	Payload   []byte
	Retained  bool
	Duplicate bool
}

// MessageHandler is the callback signature for received messages.
//
// Handlers run on the session's delivery goroutines and should not block
// for extended periods. A panicking handler is recovered and logged.
type MessageHandler func(msg Message)

// TopicSubscription binds a topic filter and QoS to a handler.
type TopicSubscription struct {
	Topic   string
	QoS     QoS
	Handler MessageHandler
}

// Will is the last-will message the broker publishes when the session
// terminates ungracefully.
type Will struct {
	Topic    string
	QoS      QoS
	Payload  []byte
	Retained bool
}

// AsyncMessage is a publish whose completion is reported through callbacks
// instead of a return value.
//
// Exactly one of OnSuccess, OnFailure or OnTimeout is invoked per publish,
// on the session's Executor.
type AsyncMessage interface {
	Topic() string
	QoS() QoS
	Payload() []byte
	OnSuccess()
	OnFailure(err error)
	OnTimeout()
}
