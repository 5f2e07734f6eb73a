package mqtt

import (
	"fmt"
	"strings"
)

// Device is a thing whose classic shadow the session follows.
// OnDelta receives the delta document whenever desired and reported state diverge.
type Device struct {
	ThingName string
	OnDelta   func(thingName string, delta []byte)
}

// AttachDevice subscribes to the shadow delta topic of d at QoS 1.
// Attaching a thing that is already attached replaces its callback.
func (c *Connection) AttachDevice(d *Device) error {
	if d == nil || d.OnDelta == nil {
		return fmt.Errorf("%w: device and delta callback are required", ErrSubscribeFailed)
	}
	if err := ValidateThingName(d.ThingName); err != nil {
		return err
	}

	name := d.ThingName
	onDelta := d.OnDelta
	err := c.Subscribe(TopicSubscription{
		Topic: Topics{}.ShadowDelta(name),
		QoS:   QoS1,
		Handler: func(msg Message) {
			onDelta(name, msg.Payload)
		},
	})
	if err != nil {
		return err
	}

	c.subMu.Lock()
	c.devices[name] = d
	c.subMu.Unlock()

	c.logger.Debug("device attached", "thing", name)
	return nil
}

// DetachDevice stops following the shadow of the named thing.
func (c *Connection) DetachDevice(thingName string) error {
	c.subMu.RLock()
	_, ok := c.devices[thingName]
	c.subMu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: device %q is not attached", ErrUnsubscribeFailed, thingName)
	}

	if err := c.Unsubscribe(Topics{}.ShadowDelta(thingName)); err != nil {
		return err
	}

	c.subMu.Lock()
	delete(c.devices, thingName)
	c.subMu.Unlock()

	c.logger.Debug("device detached", "thing", thingName)
	return nil
}

// ValidateThingName enforces the AWS IoT thing name alphabet.
func ValidateThingName(name string) error {
	if name == "" || len(name) > 128 {
		return fmt.Errorf("%w: thing name must be 1-128 characters", ErrInvalidTopic)
	}
	if strings.IndexFunc(name, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' ||
			r == ':' || r == '_' || r == '-')
	}) >= 0 {
		return fmt.Errorf("%w: invalid thing name %q", ErrInvalidTopic, name)
	}
	return nil
}
