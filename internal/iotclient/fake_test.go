package iotclient

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/mqtt"
)

// publishCall records which Connection publish form was used.
type publishCall struct {
	form    string
	topic   string
	qos     mqtt.QoS
	payload []byte
	timeout time.Duration
}

// fakeConnection is a recording Connection. asyncOutcome selects which
// callback PublishAsync fires.
type fakeConnection struct {
	mu sync.Mutex

	endpoint string
	clientID string
	connType mqtt.ConnectionType
	status   mqtt.ConnectionStatus
	tunables mqtt.Tunables
	will     *mqtt.Will
	executor *mqtt.Executor

	calls         []publishCall
	publishErr    error
	connectErr    error
	asyncOutcome  string
	subscriptions map[string]mqtt.TopicSubscription
	devices       map[string]*mqtt.Device
}

func newFakeConnection() *fakeConnection {
	return &fakeConnection{
		endpoint:      "a1b2c3-ats.iot.eu-west-2.amazonaws.com",
		clientID:      "gateway-01",
		connType:      mqtt.TypeMQTTOverTLS,
		status:        mqtt.StatusDisconnected,
		tunables:      mqtt.DefaultTunables(),
		executor:      mqtt.NewExecutor(1, nil),
		asyncOutcome:  OutcomeSuccess,
		subscriptions: make(map[string]mqtt.TopicSubscription),
		devices:       make(map[string]*mqtt.Device),
	}
}

func (f *fakeConnection) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.status = mqtt.StatusConnected
	return nil
}

func (f *fakeConnection) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = mqtt.StatusDisconnected
	return nil
}

func (f *fakeConnection) record(call publishCall) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.publishErr
}

func (f *fakeConnection) Publish(topic string, payload []byte) error {
	return f.record(publishCall{form: "Publish", topic: topic, payload: payload})
}

func (f *fakeConnection) PublishQoS(topic string, qos mqtt.QoS, payload []byte) error {
	return f.record(publishCall{form: "PublishQoS", topic: topic, qos: qos, payload: payload})
}

func (f *fakeConnection) PublishTimeout(topic string, payload []byte, timeout time.Duration) error {
	return f.record(publishCall{form: "PublishTimeout", topic: topic, payload: payload, timeout: timeout})
}

func (f *fakeConnection) PublishQoSTimeout(topic string, qos mqtt.QoS, payload []byte, timeout time.Duration) error {
	return f.record(publishCall{form: "PublishQoSTimeout", topic: topic, qos: qos, payload: payload, timeout: timeout})
}

func (f *fakeConnection) PublishAsync(msg mqtt.AsyncMessage) error {
	if err := f.record(publishCall{form: "PublishAsync", topic: msg.Topic(), qos: msg.QoS(), payload: msg.Payload()}); err != nil {
		return err
	}
	outcome := f.asyncOutcome
	return f.executor.Go(func() {
		switch outcome {
		case OutcomeSuccess:
			msg.OnSuccess()
		case OutcomeTimeout:
			msg.OnTimeout()
		default:
			msg.OnFailure(errors.New("broker rejected publish"))
		}
	})
}

func (f *fakeConnection) Subscribe(sub mqtt.TopicSubscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscriptions[sub.Topic] = sub
	return nil
}

func (f *fakeConnection) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subscriptions[topic]; !ok {
		return mqtt.ErrUnsubscribeFailed
	}
	delete(f.subscriptions, topic)
	return nil
}

func (f *fakeConnection) Subscriptions() map[string]mqtt.QoS {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]mqtt.QoS, len(f.subscriptions))
	for topic, sub := range f.subscriptions {
		out[topic] = sub.QoS
	}
	return out
}

// deliver invokes the handler registered for topic.
func (f *fakeConnection) deliver(msg mqtt.Message) {
	f.mu.Lock()
	sub, ok := f.subscriptions[msg.Topic]
	f.mu.Unlock()
	if ok {
		sub.Handler(msg)
	}
}

func (f *fakeConnection) SetWill(will *mqtt.Will) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if will != nil && will.Topic == "" {
		return mqtt.ErrInvalidTopic
	}
	f.will = will
	return nil
}

func (f *fakeConnection) Will() *mqtt.Will {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.will
}

func (f *fakeConnection) AttachDevice(d *mqtt.Device) error {
	if d == nil || d.OnDelta == nil {
		return mqtt.ErrSubscribeFailed
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices[d.ThingName] = d
	return nil
}

func (f *fakeConnection) DetachDevice(thingName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.devices[thingName]; !ok {
		return mqtt.ErrUnsubscribeFailed
	}
	delete(f.devices, thingName)
	return nil
}

func (f *fakeConnection) Devices() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.devices))
	for name := range f.devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (f *fakeConnection) Status() mqtt.ConnectionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeConnection) Type() mqtt.ConnectionType { return f.connType }
func (f *fakeConnection) Endpoint() string          { return f.endpoint }
func (f *fakeConnection) ClientID() string          { return f.clientID }
func (f *fakeConnection) Executor() *mqtt.Executor  { return f.executor }

func (f *fakeConnection) Tunables() mqtt.Tunables {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tunables
}

func (f *fakeConnection) UpdateTunables(update func(*mqtt.Tunables)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	update(&f.tunables)
}

func (f *fakeConnection) publishCalls() []publishCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishCall(nil), f.calls...)
}

// recordingConnector captures the credentials BuildConnection hands over.
type recordingConnector struct {
	tlsCreds   *mqtt.TLSCredentials
	sigv4Creds *mqtt.SigV4Credentials
	err        error
}

func (r *recordingConnector) NewTLSConnection(endpoint, clientID string, creds mqtt.TLSCredentials) (Connection, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.tlsCreds = &creds
	conn := newFakeConnection()
	conn.endpoint, conn.clientID = endpoint, clientID
	return conn, nil
}

func (r *recordingConnector) NewWebSocketConnection(endpoint, clientID string, creds mqtt.SigV4Credentials) (Connection, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.sigv4Creds = &creds
	conn := newFakeConnection()
	conn.endpoint, conn.clientID = endpoint, clientID
	conn.connType = mqtt.TypeMQTTOverWebSocket
	return conn, nil
}

// stubBundle is a CredentialBundle with a fixed outcome.
type stubBundle struct {
	err     error
	gotPass string
}

func (s *stubBundle) Certificate(keyPassphrase string) (tls.Certificate, error) {
	s.gotPass = keyPassphrase
	if s.err != nil {
		return tls.Certificate{}, s.err
	}
	return tls.Certificate{Certificate: [][]byte{{0x30}}}, nil
}

func (s *stubBundle) RootCAs() *x509.CertPool { return x509.NewCertPool() }

// recordingRecorder collects telemetry calls.
type recordingRecorder struct {
	mu         sync.Mutex
	publishes  []string
	deliveries []string
	statuses   []string
}

func (r *recordingRecorder) RecordPublish(topic, qos, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishes = append(r.publishes, topic+"|"+qos+"|"+outcome)
}

func (r *recordingRecorder) RecordDelivery(topic, qos string, size int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, topic+"|"+qos)
}

func (r *recordingRecorder) RecordStatus(_, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func (r *recordingRecorder) snapshot() (publishes, deliveries, statuses []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.publishes...),
		append([]string(nil), r.deliveries...),
		append([]string(nil), r.statuses...)
}
