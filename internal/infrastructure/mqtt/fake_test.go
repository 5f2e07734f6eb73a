package mqtt

import (
	"crypto/tls"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// =============================================================================
// Fake paho client
// =============================================================================

type fakeToken struct {
	done chan struct{}
	err  error
}

func completedToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func pendingToken() *fakeToken {
	return &fakeToken{done: make(chan struct{})}
}

func (t *fakeToken) complete(err error) {
	t.err = err
	close(t.done)
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} {
	return t.done
}

func (t *fakeToken) Error() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

type fakePublish struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeMessage struct {
	topic     string
	qos       byte
	payload   []byte
	retained  bool
	duplicate bool
}

func (m *fakeMessage) Duplicate() bool   { return m.duplicate }
func (m *fakeMessage) Qos() byte         { return m.qos }
func (m *fakeMessage) Retained() bool    { return m.retained }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

type fakeClient struct {
	mu sync.Mutex

	opts         *pahomqtt.ClientOptions
	connectToken *fakeToken
	nextPublish  func() *fakeToken
	subscribeErr error
	reconnecting bool

	published      []fakePublish
	subscribeCalls int
	handlers       map[string]pahomqtt.MessageHandler
	unsubscribed   []string
	disconnected   bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: make(map[string]pahomqtt.MessageHandler)}
}

func (f *fakeClient) IsConnected() bool      { return true }
func (f *fakeClient) IsConnectionOpen() bool { return true }

func (f *fakeClient) Connect() pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectToken != nil {
		return f.connectToken
	}
	return completedToken(nil)
}

func (f *fakeClient) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
}

func (f *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reconnecting && qos == 0 {
		// paho discards QoS 0 while reconnecting and completes the token.
		return completedToken(nil)
	}
	b, _ := payload.([]byte)
	f.published = append(f.published, fakePublish{topic: topic, qos: qos, payload: b})
	if f.nextPublish != nil {
		return f.nextPublish()
	}
	return completedToken(nil)
}

func (f *fakeClient) Subscribe(topic string, _ byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribeCalls++
	if f.subscribeErr != nil {
		return completedToken(f.subscribeErr)
	}
	f.handlers[topic] = callback
	return completedToken(nil)
}

func (f *fakeClient) SubscribeMultiple(map[string]byte, pahomqtt.MessageHandler) pahomqtt.Token {
	return completedToken(nil)
}

func (f *fakeClient) Unsubscribe(topics ...string) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, topic := range topics {
		delete(f.handlers, topic)
	}
	f.unsubscribed = append(f.unsubscribed, topics...)
	return completedToken(nil)
}

func (f *fakeClient) AddRoute(string, pahomqtt.MessageHandler) {}

func (f *fakeClient) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.NewOptionsReader(f.opts)
}

// deliver invokes the handler registered for filter as if the broker had
// routed msg to it.
func (f *fakeClient) deliver(filter string, msg *fakeMessage) bool {
	f.mu.Lock()
	handler, ok := f.handlers[filter]
	f.mu.Unlock()
	if !ok {
		return false
	}
	handler(f, msg)
	return true
}

func (f *fakeClient) publishes() []fakePublish {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakePublish(nil), f.published...)
}

func (f *fakeClient) subscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribeCalls
}

func (f *fakeClient) wasDisconnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnected
}

// =============================================================================
// Helpers
// =============================================================================

const testEndpoint = "a1b2c3-ats.iot.eu-west-2.amazonaws.com"

func testCertificate() tls.Certificate {
	return tls.Certificate{Certificate: [][]byte{{0x30, 0x00}}}
}

func factoryFor(fc *fakeClient) Option {
	return withClientFactory(func(opts *pahomqtt.ClientOptions) pahomqtt.Client {
		fc.mu.Lock()
		fc.opts = opts
		fc.mu.Unlock()
		return fc
	})
}

// newTestConnection returns an unconnected TLS connection backed by a fake client.
func newTestConnection(t *testing.T, opts ...Option) (*Connection, *fakeClient) {
	t.Helper()
	fc := newFakeClient()
	conn, err := NewTLSConnection(testEndpoint, "gateway-01", TLSCredentials{Certificate: testCertificate()},
		append([]Option{factoryFor(fc)}, opts...)...)
	if err != nil {
		t.Fatalf("NewTLSConnection() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Disconnect() })
	return conn, fc
}

// connectedTestConnection returns a connected TLS connection backed by a fake client.
func connectedTestConnection(t *testing.T, opts ...Option) (*Connection, *fakeClient) {
	t.Helper()
	conn, fc := newTestConnection(t, opts...)
	if err := conn.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return conn, fc
}

// loseConnection simulates paho reporting a dropped session.
func loseConnection(fc *fakeClient) {
	fc.mu.Lock()
	fc.reconnecting = true
	fc.mu.Unlock()
	fc.opts.OnConnectionLost(fc, errConnectionReset)
}

type testError string

func (e testError) Error() string { return string(e) }

const errConnectionReset = testError("connection reset by peer")

// restoreConnection simulates paho completing a reconnect.
func restoreConnection(fc *fakeClient) {
	fc.mu.Lock()
	fc.reconnecting = false
	fc.mu.Unlock()
	fc.opts.OnConnect(fc)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
