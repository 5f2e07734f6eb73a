package loopback

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/amir-yaghoubi/mqttpattern"

	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/mqtt"
)

// Connection is a session on a Broker. It implements iotclient.Connection.
//
// While reconnecting (after Drop) publishes are held in an offline queue
// bounded by MaxOfflineQueueSize and flushed in order by Resume.
type Connection struct {
	broker   *Broker
	endpoint string
	clientID string
	connType mqtt.ConnectionType
	logger   mqtt.Logger

	mu       sync.RWMutex
	status   mqtt.ConnectionStatus
	closed   bool
	started  bool
	tunables mqtt.Tunables
	will     *mqtt.Will
	executor *mqtt.Executor
	pending  []*flight

	subMu         sync.RWMutex
	subscriptions map[string]mqtt.TopicSubscription
	devices       map[string]*mqtt.Device

	inbox *inbox
	stop  chan struct{}
}

func newConnection(b *Broker, endpoint, clientID string, connType mqtt.ConnectionType) *Connection {
	tunables := mqtt.DefaultTunables()
	return &Connection{
		broker:        b,
		endpoint:      endpoint,
		clientID:      clientID,
		connType:      connType,
		logger:        b.logger,
		status:        mqtt.StatusDisconnected,
		tunables:      tunables,
		executor:      mqtt.NewExecutor(tunables.NumOfClientThreads, b.logger),
		subscriptions: make(map[string]mqtt.TopicSubscription),
		devices:       make(map[string]*mqtt.Device),
		inbox:         newInbox(),
		stop:          make(chan struct{}),
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

// Connect attaches the session to the broker. Calling it on a live session
// is a no-op.
func (c *Connection) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return mqtt.ErrClosed
	}
	if c.status != mqtt.StatusDisconnected {
		c.mu.Unlock()
		return nil
	}

	t := c.tunables.Normalized()
	if c.executor.Size() != t.NumOfClientThreads {
		old := c.executor
		c.executor = mqtt.NewExecutor(t.NumOfClientThreads, c.logger)
		go old.Close()
	}
	c.status = mqtt.StatusConnecting
	if !c.started {
		c.started = true
		go c.deliverLoop()
	}
	c.mu.Unlock()

	c.broker.attach(c)

	c.mu.Lock()
	if c.status == mqtt.StatusConnecting {
		c.status = mqtt.StatusConnected
	}
	c.mu.Unlock()

	c.logger.Info("connected", "broker", "loopback", "client_id", c.clientID)
	return nil
}

// Disconnect ends the session gracefully: the will is not published and
// queued publishes fail with ErrClosed. The Connection cannot be reused.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.status = mqtt.StatusDisconnected
	pending := c.pending
	c.pending = nil
	executor := c.executor
	c.mu.Unlock()

	c.broker.detach(c, nil)
	for _, f := range pending {
		f.complete(mqtt.ErrClosed)
	}
	close(c.stop)
	executor.Close()

	c.logger.Info("disconnected", "broker", "loopback", "client_id", c.clientID)
	return nil
}

// Drop ends the session ungracefully, as a network failure would. The
// broker publishes the will. The session moves to RECONNECTING, or to
// DISCONNECTED when reconnects are disabled.
func (c *Connection) Drop() {
	c.mu.Lock()
	if c.closed || c.status != mqtt.StatusConnected {
		c.mu.Unlock()
		return
	}
	if c.tunables.Normalized().MaxConnectionRetries > 0 {
		c.status = mqtt.StatusReconnecting
	} else {
		c.status = mqtt.StatusDisconnected
	}
	status := c.status
	var will *mqtt.Will
	if c.will != nil {
		copied := *c.will
		will = &copied
	}
	c.mu.Unlock()

	c.broker.detach(c, will)
	c.logger.Warn("connection lost", "broker", "loopback", "client_id", c.clientID, "status", status.String())
}

// Resume completes a reconnect started by Drop. Subscriptions carry over
// and the offline queue is flushed in order.
func (c *Connection) Resume() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return mqtt.ErrClosed
	}
	if c.status != mqtt.StatusReconnecting {
		c.mu.Unlock()
		return fmt.Errorf("%w: session is %s", mqtt.ErrNotConnected, c.status)
	}
	c.mu.Unlock()

	c.broker.attach(c)

	c.mu.Lock()
	if c.closed || c.status != mqtt.StatusReconnecting {
		c.mu.Unlock()
		return nil
	}
	c.status = mqtt.StatusConnected
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, f := range pending {
		c.broker.Publish(f.msg)
		f.complete(nil)
	}

	c.logger.Info("reconnected", "broker", "loopback", "client_id", c.clientID, "flushed", len(pending))
	return nil
}

// =============================================================================
// Publish
// =============================================================================

// Publish sends payload to topic at QoS 0 and waits up to the server ack timeout.
func (c *Connection) Publish(topic string, payload []byte) error {
	return c.publish(topic, mqtt.QoS0, payload, c.ackTimeout())
}

// PublishQoS sends payload to topic at qos and waits up to the server ack timeout.
func (c *Connection) PublishQoS(topic string, qos mqtt.QoS, payload []byte) error {
	return c.publish(topic, qos, payload, c.ackTimeout())
}

// PublishTimeout sends payload to topic at QoS 0 and waits up to timeout.
func (c *Connection) PublishTimeout(topic string, payload []byte, timeout time.Duration) error {
	return c.publish(topic, mqtt.QoS0, payload, timeout)
}

// PublishQoSTimeout sends payload to topic at qos and waits up to timeout.
func (c *Connection) PublishQoSTimeout(topic string, qos mqtt.QoS, payload []byte, timeout time.Duration) error {
	return c.publish(topic, qos, payload, timeout)
}

// PublishAsync sends msg without blocking. Exactly one of its callbacks
// runs on the Executor. Argument and state errors are returned directly and
// no callback fires.
func (c *Connection) PublishAsync(msg mqtt.AsyncMessage) error {
	if msg == nil {
		return fmt.Errorf("%w: message cannot be nil", mqtt.ErrPublishFailed)
	}

	f, err := c.submit(msg.Topic(), msg.QoS(), msg.Payload())
	if err != nil {
		return err
	}

	timeout := c.ackTimeout()
	return c.Executor().Go(func() {
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case <-f.done:
			if f.err != nil {
				msg.OnFailure(fmt.Errorf("%w: %w", mqtt.ErrPublishFailed, f.err))
				return
			}
			msg.OnSuccess()
		case <-timer.C:
			msg.OnTimeout()
		}
	})
}

func (c *Connection) publish(topic string, qos mqtt.QoS, payload []byte, timeout time.Duration) error {
	f, err := c.submit(topic, qos, payload)
	if err != nil {
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-f.done:
		if f.err != nil {
			return fmt.Errorf("%w: %w", mqtt.ErrPublishFailed, f.err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: %w after %v", mqtt.ErrPublishFailed, mqtt.ErrTimeout, timeout)
	}
}

// submit validates a publish and either routes it now or queues it while
// reconnecting.
func (c *Connection) submit(topic string, qos mqtt.QoS, payload []byte) (*flight, error) {
	if err := mqtt.ValidatePublishTopic(topic); err != nil {
		return nil, err
	}
	if !qos.Valid() {
		return nil, mqtt.ErrInvalidQoS
	}
	if err := mqtt.ValidatePayload(payload); err != nil {
		return nil, err
	}

	f := newFlight(mqtt.Message{
		Topic:   topic,
		QoS:     qos,
		Payload: append([]byte(nil), payload...),
	})

	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return nil, mqtt.ErrClosed
	case c.status == mqtt.StatusConnected:
		c.mu.Unlock()
		c.broker.Publish(f.msg)
		f.complete(nil)
		return f, nil
	case c.status == mqtt.StatusReconnecting:
		defer c.mu.Unlock()
		limit := c.tunables.Normalized().MaxOfflineQueueSize
		if len(c.pending) >= limit {
			return nil, fmt.Errorf("%w: %d publishes pending", mqtt.ErrOfflineQueueFull, len(c.pending))
		}
		c.pending = append(c.pending, f)
		return f, nil
	default:
		c.mu.Unlock()
		return nil, mqtt.ErrNotConnected
	}
}

func (c *Connection) ackTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tunables.Normalized().ServerAckTimeout
}

// OfflineQueued returns the number of publishes held for the next Resume.
func (c *Connection) OfflineQueued() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pending)
}

// flight is one publish awaiting completion.
type flight struct {
	msg  mqtt.Message
	done chan struct{}
	err  error
}

func newFlight(msg mqtt.Message) *flight {
	return &flight{msg: msg, done: make(chan struct{})}
}

func (f *flight) complete(err error) {
	f.err = err
	close(f.done)
}

// =============================================================================
// Subscriptions
// =============================================================================

// Subscribe registers a handler for messages matching sub.Topic. Replacing
// an existing filter swaps its handler.
func (c *Connection) Subscribe(sub mqtt.TopicSubscription) error {
	if err := mqtt.ValidateTopicFilter(sub.Topic); err != nil {
		return err
	}
	if !sub.QoS.Valid() {
		return mqtt.ErrInvalidQoS
	}
	if sub.Handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", mqtt.ErrSubscribeFailed)
	}
	if err := c.checkReady(); err != nil {
		return err
	}

	c.subMu.Lock()
	c.subscriptions[sub.Topic] = sub
	c.subMu.Unlock()
	return nil
}

// Unsubscribe removes the subscription for topic.
func (c *Connection) Unsubscribe(topic string) error {
	if err := mqtt.ValidateTopicFilter(topic); err != nil {
		return err
	}
	if err := c.checkReady(); err != nil {
		return err
	}

	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()
	return nil
}

// Subscriptions returns the topic filters and their QoS.
func (c *Connection) Subscriptions() map[string]mqtt.QoS {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	out := make(map[string]mqtt.QoS, len(c.subscriptions))
	for topic, sub := range c.subscriptions {
		out[topic] = sub.QoS
	}
	return out
}

func (c *Connection) checkReady() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch {
	case c.closed:
		return mqtt.ErrClosed
	case c.status == mqtt.StatusConnected || c.status == mqtt.StatusReconnecting:
		return nil
	default:
		return mqtt.ErrNotConnected
	}
}

func (c *Connection) matches(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return matchesAny(c.subscriptions, topic)
}

func (c *Connection) enqueue(msg mqtt.Message) {
	c.inbox.push(msg)
}

// deliverLoop hands queued messages to handlers in arrival order.
func (c *Connection) deliverLoop() {
	for {
		select {
		case <-c.stop:
			return
		case <-c.inbox.signal:
			for _, msg := range c.inbox.take() {
				c.dispatch(msg)
			}
		}
	}
}

// dispatch calls every handler whose filter matches msg. Handlers are
// called in filter order so overlapping subscriptions see a stable order.
func (c *Connection) dispatch(msg mqtt.Message) {
	c.subMu.RLock()
	filters := make([]string, 0, len(c.subscriptions))
	for filter := range c.subscriptions {
		if mqttpattern.Matches(filter, msg.Topic) {
			filters = append(filters, filter)
		}
	}
	sort.Strings(filters)
	subs := make([]mqtt.TopicSubscription, 0, len(filters))
	for _, filter := range filters {
		subs = append(subs, c.subscriptions[filter])
	}
	c.subMu.RUnlock()

	for _, sub := range subs {
		delivered := msg
		if sub.QoS < delivered.QoS {
			delivered.QoS = sub.QoS
		}
		c.handle(sub, delivered)
	}
}

func (c *Connection) handle(sub mqtt.TopicSubscription, msg mqtt.Message) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("loopback handler panic recovered", "topic", msg.Topic, "panic", r)
		}
	}()
	sub.Handler(msg)
}

// inbox is an unbounded FIFO. Handlers may publish to their own session
// without blocking the delivery goroutine.
type inbox struct {
	mu     sync.Mutex
	queue  []mqtt.Message
	signal chan struct{}
}

func newInbox() *inbox {
	return &inbox{signal: make(chan struct{}, 1)}
}

func (q *inbox) push(msg mqtt.Message) {
	q.mu.Lock()
	q.queue = append(q.queue, msg)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *inbox) take() []mqtt.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	msgs := q.queue
	q.queue = nil
	return msgs
}

// =============================================================================
// Will, devices and settings
// =============================================================================

// SetWill sets the will the broker publishes on Drop. A nil will clears it.
func (c *Connection) SetWill(will *mqtt.Will) error {
	if will != nil {
		if err := mqtt.ValidatePublishTopic(will.Topic); err != nil {
			return err
		}
		if !will.QoS.Valid() {
			return mqtt.ErrInvalidQoS
		}
		copied := *will
		copied.Payload = append([]byte(nil), will.Payload...)
		will = &copied
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return mqtt.ErrClosed
	}
	c.will = will
	return nil
}

// Will returns a copy of the will, or nil if none is set.
func (c *Connection) Will() *mqtt.Will {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.will == nil {
		return nil
	}
	copied := *c.will
	copied.Payload = append([]byte(nil), c.will.Payload...)
	return &copied
}

// AttachDevice subscribes to the shadow delta topic of d at QoS 1.
func (c *Connection) AttachDevice(d *mqtt.Device) error {
	if d == nil || d.OnDelta == nil {
		return fmt.Errorf("%w: device and delta callback are required", mqtt.ErrSubscribeFailed)
	}
	if err := mqtt.ValidateThingName(d.ThingName); err != nil {
		return err
	}

	name, onDelta := d.ThingName, d.OnDelta
	err := c.Subscribe(mqtt.TopicSubscription{
		Topic: mqtt.Topics{}.ShadowDelta(name),
		QoS:   mqtt.QoS1,
		Handler: func(msg mqtt.Message) {
			onDelta(name, msg.Payload)
		},
	})
	if err != nil {
		return err
	}

	c.subMu.Lock()
	c.devices[name] = d
	c.subMu.Unlock()
	return nil
}

// DetachDevice stops following the shadow of the named thing.
func (c *Connection) DetachDevice(thingName string) error {
	c.subMu.RLock()
	_, ok := c.devices[thingName]
	c.subMu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: device %q is not attached", mqtt.ErrUnsubscribeFailed, thingName)
	}

	if err := c.Unsubscribe(mqtt.Topics{}.ShadowDelta(thingName)); err != nil {
		return err
	}

	c.subMu.Lock()
	delete(c.devices, thingName)
	c.subMu.Unlock()
	return nil
}

// Devices returns the names of attached things, sorted.
func (c *Connection) Devices() []string {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	names := make([]string, 0, len(c.devices))
	for name := range c.devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Status returns the current session state.
func (c *Connection) Status() mqtt.ConnectionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Type returns the transport the session was built for.
func (c *Connection) Type() mqtt.ConnectionType { return c.connType }

// Endpoint returns the endpoint the session was built for.
func (c *Connection) Endpoint() string { return c.endpoint }

// ClientID returns the MQTT client identifier.
func (c *Connection) ClientID() string { return c.clientID }

// Executor returns the executor completion callbacks run on.
func (c *Connection) Executor() *mqtt.Executor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.executor
}

// Tunables returns the session settings.
func (c *Connection) Tunables() mqtt.Tunables {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tunables
}

// UpdateTunables changes the settings. Executor size applies at the next
// Connect; queue and retry limits apply immediately.
func (c *Connection) UpdateTunables(update func(*mqtt.Tunables)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	update(&c.tunables)
}
