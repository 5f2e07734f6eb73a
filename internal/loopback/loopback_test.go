package loopback

import (
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/mqtt"
)

const testEndpoint = "a1b2c3-ats.iot.eu-west-2.amazonaws.com"

// collector gathers delivered messages for assertions.
type collector struct {
	mu   sync.Mutex
	msgs []mqtt.Message
	ch   chan struct{}
}

func newCollector() *collector {
	return &collector{ch: make(chan struct{}, 1024)}
}

func (c *collector) handle(msg mqtt.Message) {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
	c.ch <- struct{}{}
}

// wait blocks until n messages have arrived.
func (c *collector) wait(t *testing.T, n int) []mqtt.Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-c.ch:
		case <-deadline:
			t.Fatalf("received %d messages, want %d", i, n)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]mqtt.Message(nil), c.msgs...)
}

func connected(t *testing.T, b *Broker, clientID string) *Connection {
	t.Helper()
	conn, err := b.NewConnection(testEndpoint, clientID, mqtt.TypeMQTTOverTLS)
	require.NoError(t, err)
	require.NoError(t, conn.Connect())
	t.Cleanup(func() { _ = conn.Disconnect() })
	return conn
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestConnection_Lifecycle(t *testing.T) {
	b := NewBroker()
	conn, err := b.NewConnection(testEndpoint, "gateway-01", mqtt.TypeMQTTOverTLS)
	require.NoError(t, err)

	if conn.Status() != mqtt.StatusDisconnected {
		t.Errorf("Status() = %v, want DISCONNECTED", conn.Status())
	}
	if err := conn.Publish("a/b", nil); !errors.Is(err, mqtt.ErrNotConnected) {
		t.Errorf("Publish() before Connect error = %v, want ErrNotConnected", err)
	}

	require.NoError(t, conn.Connect())
	require.NoError(t, conn.Connect(), "second Connect should be a no-op")
	if conn.Status() != mqtt.StatusConnected {
		t.Errorf("Status() = %v, want CONNECTED", conn.Status())
	}
	if got := b.Sessions(); !reflect.DeepEqual(got, []string{"gateway-01"}) {
		t.Errorf("Sessions() = %v, want [gateway-01]", got)
	}

	require.NoError(t, conn.Disconnect())
	require.NoError(t, conn.Disconnect(), "Disconnect should be idempotent")

	if err := conn.Connect(); !errors.Is(err, mqtt.ErrClosed) {
		t.Errorf("Connect() after Disconnect error = %v, want ErrClosed", err)
	}
	if len(b.Sessions()) != 0 {
		t.Errorf("Sessions() = %v, want none", b.Sessions())
	}
}

func TestBroker_NewConnectionValidation(t *testing.T) {
	b := NewBroker()
	if _, err := b.NewConnection("", "id", mqtt.TypeMQTTOverTLS); !errors.Is(err, mqtt.ErrInvalidCredentials) {
		t.Errorf("NewConnection(no endpoint) error = %v, want ErrInvalidCredentials", err)
	}
	if _, err := b.NewConnection(testEndpoint, "", mqtt.TypeMQTTOverTLS); !errors.Is(err, mqtt.ErrInvalidCredentials) {
		t.Errorf("NewConnection(no client id) error = %v, want ErrInvalidCredentials", err)
	}
}

func TestBroker_Connector(t *testing.T) {
	b := NewBroker()
	connector := b.Connector()

	if _, err := connector.NewWebSocketConnection(testEndpoint, "c", mqtt.SigV4Credentials{}); !errors.Is(err, mqtt.ErrInvalidCredentials) {
		t.Errorf("NewWebSocketConnection(no keys) error = %v, want ErrInvalidCredentials", err)
	}

	conn, err := connector.NewWebSocketConnection(testEndpoint, "c", mqtt.SigV4Credentials{AccessKeyID: "a", SecretAccessKey: "s"})
	require.NoError(t, err)
	if conn.Type() != mqtt.TypeMQTTOverWebSocket {
		t.Errorf("Type() = %v, want MQTT_OVER_WEBSOCKET", conn.Type())
	}
}

// =============================================================================
// Routing
// =============================================================================

func TestBroker_WildcardRouting(t *testing.T) {
	b := NewBroker()
	sub := connected(t, b, "subscriber")
	pub := connected(t, b, "publisher")

	got := newCollector()
	require.NoError(t, sub.Subscribe(mqtt.TopicSubscription{Topic: "sensors/+/temp", QoS: mqtt.QoS1, Handler: got.handle}))

	require.NoError(t, pub.PublishQoS("sensors/kitchen/temp", mqtt.QoS1, []byte("21")))
	require.NoError(t, pub.Publish("sensors/kitchen/humidity", []byte("40")))
	require.NoError(t, pub.PublishQoS("sensors/hall/temp", mqtt.QoS0, []byte("19")))

	msgs := got.wait(t, 2)
	if len(msgs) != 2 {
		t.Fatalf("delivered %d messages, want 2", len(msgs))
	}
	if msgs[0].Topic != "sensors/kitchen/temp" || msgs[0].QoS != mqtt.QoS1 {
		t.Errorf("first = %s %v, want sensors/kitchen/temp QoS1", msgs[0].Topic, msgs[0].QoS)
	}
	if msgs[1].Topic != "sensors/hall/temp" || msgs[1].QoS != mqtt.QoS0 {
		t.Errorf("second = %s %v, want sensors/hall/temp QoS0", msgs[1].Topic, msgs[1].QoS)
	}
}

func TestBroker_DeliveryOrder(t *testing.T) {
	b := NewBroker()
	conn := connected(t, b, "gateway-01")

	got := newCollector()
	require.NoError(t, conn.Subscribe(mqtt.TopicSubscription{Topic: "seq/#", QoS: mqtt.QoS0, Handler: got.handle}))

	const n = 100
	for i := 0; i < n; i++ {
		require.NoError(t, conn.Publish("seq/n", []byte{byte(i)}))
	}

	msgs := got.wait(t, n)
	for i, msg := range msgs {
		if msg.Payload[0] != byte(i) {
			t.Fatalf("message %d payload = %d, want %d", i, msg.Payload[0], i)
		}
	}
}

func TestConnection_DeliveredQoSIsMinimum(t *testing.T) {
	b := NewBroker()
	conn := connected(t, b, "gateway-01")

	got := newCollector()
	require.NoError(t, conn.Subscribe(mqtt.TopicSubscription{Topic: "a/b", QoS: mqtt.QoS0, Handler: got.handle}))
	require.NoError(t, conn.PublishQoS("a/b", mqtt.QoS1, nil))

	if msgs := got.wait(t, 1); msgs[0].QoS != mqtt.QoS0 {
		t.Errorf("delivered QoS = %v, want QoS0", msgs[0].QoS)
	}
}

func TestConnection_HandlerPanicRecovered(t *testing.T) {
	b := NewBroker()
	conn := connected(t, b, "gateway-01")

	got := newCollector()
	require.NoError(t, conn.Subscribe(mqtt.TopicSubscription{Topic: "boom", QoS: mqtt.QoS0, Handler: func(mqtt.Message) { panic("handler bug") }}))
	require.NoError(t, conn.Subscribe(mqtt.TopicSubscription{Topic: "after", QoS: mqtt.QoS0, Handler: got.handle}))

	require.NoError(t, conn.Publish("boom", nil))
	require.NoError(t, conn.Publish("after", nil))

	got.wait(t, 1)
}

func TestConnection_Unsubscribe(t *testing.T) {
	b := NewBroker()
	conn := connected(t, b, "gateway-01")

	require.NoError(t, conn.Subscribe(mqtt.TopicSubscription{Topic: "a/b", QoS: mqtt.QoS1, Handler: func(mqtt.Message) {}}))
	require.NoError(t, conn.Unsubscribe("a/b"))

	if routed := b.Publish(mqtt.Message{Topic: "a/b"}); routed != 0 {
		t.Errorf("Publish() routed to %d sessions, want 0", routed)
	}
}

// =============================================================================
// Drop, will and offline queue
// =============================================================================

func TestConnection_DropPublishesWill(t *testing.T) {
	b := NewBroker()
	watcher := connected(t, b, "watcher")
	conn := connected(t, b, "gateway-01")

	got := newCollector()
	require.NoError(t, watcher.Subscribe(mqtt.TopicSubscription{Topic: "status/#", QoS: mqtt.QoS1, Handler: got.handle}))
	require.NoError(t, conn.SetWill(&mqtt.Will{Topic: "status/gateway-01", QoS: mqtt.QoS1, Payload: []byte("offline")}))

	conn.Drop()

	msgs := got.wait(t, 1)
	if string(msgs[0].Payload) != "offline" {
		t.Errorf("will payload = %q, want %q", msgs[0].Payload, "offline")
	}
	if conn.Status() != mqtt.StatusReconnecting {
		t.Errorf("Status() after Drop = %v, want RECONNECTING", conn.Status())
	}
}

func TestConnection_DisconnectDoesNotPublishWill(t *testing.T) {
	b := NewBroker()
	watcher := connected(t, b, "watcher")
	conn := connected(t, b, "gateway-01")

	var mu sync.Mutex
	var received int
	require.NoError(t, watcher.Subscribe(mqtt.TopicSubscription{Topic: "status/#", QoS: mqtt.QoS1, Handler: func(mqtt.Message) {
		mu.Lock()
		received++
		mu.Unlock()
	}}))
	require.NoError(t, conn.SetWill(&mqtt.Will{Topic: "status/gateway-01", Payload: []byte("offline")}))
	require.NoError(t, conn.Disconnect())

	// A marker published afterwards proves the delivery goroutine has
	// drained everything queued before it.
	marker := newCollector()
	require.NoError(t, watcher.Subscribe(mqtt.TopicSubscription{Topic: "marker", QoS: mqtt.QoS0, Handler: marker.handle}))
	require.NoError(t, watcher.Publish("marker", nil))
	marker.wait(t, 1)

	mu.Lock()
	defer mu.Unlock()
	if received != 0 {
		t.Errorf("watcher received %d will messages, want 0", received)
	}
}

func TestConnection_DropWithoutRetries(t *testing.T) {
	b := NewBroker()
	conn := connected(t, b, "gateway-01")
	conn.UpdateTunables(func(tn *mqtt.Tunables) { tn.MaxConnectionRetries = 0 })

	conn.Drop()

	if conn.Status() != mqtt.StatusDisconnected {
		t.Errorf("Status() = %v, want DISCONNECTED", conn.Status())
	}
	if err := conn.Resume(); !errors.Is(err, mqtt.ErrNotConnected) {
		t.Errorf("Resume() error = %v, want ErrNotConnected", err)
	}
	require.NoError(t, conn.Connect(), "a dropped session can connect again")
}

func TestConnection_OfflineQueue(t *testing.T) {
	b := NewBroker()
	watcher := connected(t, b, "watcher")
	conn := connected(t, b, "gateway-01")
	conn.UpdateTunables(func(tn *mqtt.Tunables) { tn.MaxOfflineQueueSize = 2 })

	got := newCollector()
	require.NoError(t, watcher.Subscribe(mqtt.TopicSubscription{Topic: "queued/#", QoS: mqtt.QoS1, Handler: got.handle}))

	conn.Drop()

	err := conn.PublishTimeout("queued/1", []byte("1"), 10*time.Millisecond)
	if !errors.Is(err, mqtt.ErrTimeout) {
		t.Errorf("PublishTimeout() while reconnecting error = %v, want ErrTimeout", err)
	}

	done := make(chan error, 1)
	go func() { done <- conn.PublishTimeout("queued/2", []byte("2"), 2*time.Second) }()
	require.Eventually(t, func() bool { return conn.OfflineQueued() == 2 }, time.Second, 5*time.Millisecond)

	if err := conn.Publish("queued/3", nil); !errors.Is(err, mqtt.ErrOfflineQueueFull) {
		t.Errorf("Publish() beyond queue error = %v, want ErrOfflineQueueFull", err)
	}

	require.NoError(t, conn.Resume())
	require.NoError(t, <-done)

	msgs := got.wait(t, 2)
	if string(msgs[0].Payload) != "1" || string(msgs[1].Payload) != "2" {
		t.Errorf("flushed payloads = %q, %q, want 1, 2", msgs[0].Payload, msgs[1].Payload)
	}
	if conn.OfflineQueued() != 0 {
		t.Errorf("OfflineQueued() = %d, want 0", conn.OfflineQueued())
	}
}

func TestConnection_DisconnectFailsQueued(t *testing.T) {
	b := NewBroker()
	conn, err := b.NewConnection(testEndpoint, "gateway-01", mqtt.TypeMQTTOverTLS)
	require.NoError(t, err)
	require.NoError(t, conn.Connect())
	conn.Drop()

	done := make(chan error, 1)
	go func() { done <- conn.PublishTimeout("a/b", nil, 2*time.Second) }()
	require.Eventually(t, func() bool { return conn.OfflineQueued() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Disconnect())
	if err := <-done; !errors.Is(err, mqtt.ErrClosed) {
		t.Errorf("queued publish error = %v, want ErrClosed", err)
	}
}

func TestBroker_ClientIDTakeover(t *testing.T) {
	b := NewBroker()
	first := connected(t, b, "gateway-01")
	second := connected(t, b, "gateway-01")

	if first.Status() != mqtt.StatusReconnecting {
		t.Errorf("first Status() = %v, want RECONNECTING", first.Status())
	}
	if second.Status() != mqtt.StatusConnected {
		t.Errorf("second Status() = %v, want CONNECTED", second.Status())
	}
}

// =============================================================================
// Async publish
// =============================================================================

type asyncRecord struct {
	topic   string
	qos     mqtt.QoS
	payload []byte

	mu                        sync.Mutex
	success, failure, timeout int
	done                      chan struct{}
}

func newAsyncRecord(topic string) *asyncRecord {
	return &asyncRecord{topic: topic, qos: mqtt.QoS1, done: make(chan struct{}, 3)}
}

func (a *asyncRecord) Topic() string   { return a.topic }
func (a *asyncRecord) QoS() mqtt.QoS   { return a.qos }
func (a *asyncRecord) Payload() []byte { return a.payload }

func (a *asyncRecord) OnSuccess()      { a.bump(&a.success) }
func (a *asyncRecord) OnFailure(error) { a.bump(&a.failure) }
func (a *asyncRecord) OnTimeout()      { a.bump(&a.timeout) }

func (a *asyncRecord) bump(n *int) {
	a.mu.Lock()
	*n++
	a.mu.Unlock()
	a.done <- struct{}{}
}

func (a *asyncRecord) counts() (int, int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.success, a.failure, a.timeout
}

func TestConnection_PublishAsync(t *testing.T) {
	tests := []struct {
		name string
		drop bool
		want [3]int // success, failure, timeout
	}{
		{"connected succeeds", false, [3]int{1, 0, 0}},
		{"reconnecting times out", true, [3]int{0, 0, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBroker()
			conn := connected(t, b, "gateway-01")
			conn.UpdateTunables(func(tn *mqtt.Tunables) { tn.ServerAckTimeout = 20 * time.Millisecond })
			if tt.drop {
				conn.Drop()
			}

			msg := newAsyncRecord("a/b")
			require.NoError(t, conn.PublishAsync(msg))
			conn.Executor().Close()

			s, f, to := msg.counts()
			if got := [3]int{s, f, to}; got != tt.want {
				t.Errorf("callbacks = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConnection_PublishAsyncFailsOnDisconnect(t *testing.T) {
	b := NewBroker()
	conn, err := b.NewConnection(testEndpoint, "gateway-01", mqtt.TypeMQTTOverTLS)
	require.NoError(t, err)
	require.NoError(t, conn.Connect())
	conn.Drop()

	msg := newAsyncRecord("a/b")
	require.NoError(t, conn.PublishAsync(msg))
	require.NoError(t, conn.Disconnect())

	if s, f, to := msg.counts(); s != 0 || f != 1 || to != 0 {
		t.Errorf("callbacks = %d/%d/%d, want 0/1/0", s, f, to)
	}
}

func TestConnection_PublishAsyncInvalid(t *testing.T) {
	b := NewBroker()
	conn := connected(t, b, "gateway-01")

	msg := newAsyncRecord("a/#")
	if err := conn.PublishAsync(msg); !errors.Is(err, mqtt.ErrInvalidTopic) {
		t.Errorf("PublishAsync(wildcard) error = %v, want ErrInvalidTopic", err)
	}
	if err := conn.PublishAsync(nil); !errors.Is(err, mqtt.ErrPublishFailed) {
		t.Errorf("PublishAsync(nil) error = %v, want ErrPublishFailed", err)
	}
}

// =============================================================================
// Devices
// =============================================================================

func TestConnection_AttachDevice(t *testing.T) {
	b := NewBroker()
	conn := connected(t, b, "gateway-01")

	deltas := make(chan string, 1)
	require.NoError(t, conn.AttachDevice(&mqtt.Device{
		ThingName: "boiler-01",
		OnDelta:   func(thing string, delta []byte) { deltas <- thing + ":" + string(delta) },
	}))

	b.Publish(mqtt.Message{Topic: mqtt.Topics{}.ShadowDelta("boiler-01"), Payload: []byte(`{"on":true}`)})

	select {
	case got := <-deltas:
		if got != `boiler-01:{"on":true}` {
			t.Errorf("delta = %q, want boiler-01 delta", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("delta not delivered")
	}

	require.NoError(t, conn.DetachDevice("boiler-01"))
	if err := conn.DetachDevice("boiler-01"); !errors.Is(err, mqtt.ErrUnsubscribeFailed) {
		t.Errorf("DetachDevice() again error = %v, want ErrUnsubscribeFailed", err)
	}
}
