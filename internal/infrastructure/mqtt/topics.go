package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for AWS IoT reserved topics.
const (
	// TopicPrefixThings is the base for per-thing reserved topics (shadows, jobs).
	TopicPrefixThings = "$aws/things"

	// TopicPrefixEvents is the base for registry and lifecycle events.
	TopicPrefixEvents = "$aws/events"

	// maxTopicLength is the AWS IoT limit on topic names, in bytes.
	maxTopicLength = 256
)

// Topics provides builders for AWS IoT reserved topics.
// Using these helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.Topics{}
//	delta := topics.ShadowDelta("boiler-01")
//	// Returns: "$aws/things/boiler-01/shadow/update/delta"
type Topics struct{}

// =============================================================================
// Classic Shadow Topics
// =============================================================================

func shadowPrefix(thing string) string {
	return fmt.Sprintf("%s/%s/shadow", TopicPrefixThings, thing)
}

// ShadowUpdate returns the topic a device publishes reported state to.
//
// Example: $aws/things/boiler-01/shadow/update
func (Topics) ShadowUpdate(thing string) string {
	return shadowPrefix(thing) + "/update"
}

// ShadowUpdateAccepted returns the topic the service confirms updates on.
func (Topics) ShadowUpdateAccepted(thing string) string {
	return shadowPrefix(thing) + "/update/accepted"
}

// ShadowUpdateRejected returns the topic the service rejects updates on.
func (Topics) ShadowUpdateRejected(thing string) string {
	return shadowPrefix(thing) + "/update/rejected"
}

// ShadowDelta returns the topic carrying differences between desired and
// reported state.
//
// Example: $aws/things/boiler-01/shadow/update/delta
func (Topics) ShadowDelta(thing string) string {
	return shadowPrefix(thing) + "/update/delta"
}

// ShadowDocuments returns the topic carrying full before/after documents.
func (Topics) ShadowDocuments(thing string) string {
	return shadowPrefix(thing) + "/update/documents"
}

// ShadowGet returns the topic a device publishes to request its shadow.
func (Topics) ShadowGet(thing string) string {
	return shadowPrefix(thing) + "/get"
}

// ShadowGetAccepted returns the topic the shadow document is returned on.
func (Topics) ShadowGetAccepted(thing string) string {
	return shadowPrefix(thing) + "/get/accepted"
}

// ShadowDelete returns the topic a device publishes to delete its shadow.
func (Topics) ShadowDelete(thing string) string {
	return shadowPrefix(thing) + "/delete"
}

// =============================================================================
// Named Shadow Topics
// =============================================================================

// NamedShadowUpdate returns the update topic of a named shadow.
//
// Example: $aws/things/boiler-01/shadow/name/firmware/update
func (Topics) NamedShadowUpdate(thing, shadow string) string {
	return fmt.Sprintf("%s/name/%s/update", shadowPrefix(thing), shadow)
}

// NamedShadowDelta returns the delta topic of a named shadow.
func (Topics) NamedShadowDelta(thing, shadow string) string {
	return fmt.Sprintf("%s/name/%s/update/delta", shadowPrefix(thing), shadow)
}

// =============================================================================
// Jobs Topics
// =============================================================================

// JobsNotifyNext returns the topic announcing the next pending job.
//
// Example: $aws/things/boiler-01/jobs/notify-next
func (Topics) JobsNotifyNext(thing string) string {
	return fmt.Sprintf("%s/%s/jobs/notify-next", TopicPrefixThings, thing)
}

// JobUpdate returns the topic a device reports job execution progress on.
func (Topics) JobUpdate(thing, jobID string) string {
	return fmt.Sprintf("%s/%s/jobs/%s/update", TopicPrefixThings, thing, jobID)
}

// =============================================================================
// Lifecycle Events
// =============================================================================

// PresenceConnected returns the lifecycle topic published when clientID connects.
//
// Example: $aws/events/presence/connected/gateway-01
func (Topics) PresenceConnected(clientID string) string {
	return fmt.Sprintf("%s/presence/connected/%s", TopicPrefixEvents, clientID)
}

// PresenceDisconnected returns the lifecycle topic published when clientID disconnects.
func (Topics) PresenceDisconnected(clientID string) string {
	return fmt.Sprintf("%s/presence/disconnected/%s", TopicPrefixEvents, clientID)
}

// AllPresence returns a pattern matching every lifecycle presence event.
//
// Pattern: $aws/events/presence/+/+
func (Topics) AllPresence() string {
	return TopicPrefixEvents + "/presence/+/+"
}

// =============================================================================
// Validation
// =============================================================================

// ValidatePublishTopic checks that topic is a concrete topic name.
// Wildcards are not allowed in published topics.
func ValidatePublishTopic(topic string) error {
	if err := validateTopicLength(topic); err != nil {
		return err
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcards not allowed in publish topic %q", ErrInvalidTopic, topic)
	}
	return nil
}

// ValidateTopicFilter checks that filter is a well-formed subscription filter.
// "+" must occupy a whole level and "#" must be the whole last level.
func ValidateTopicFilter(filter string) error {
	if err := validateTopicLength(filter); err != nil {
		return err
	}

	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.Contains(level, "#") && (level != "#" || i != len(levels)-1) {
			return fmt.Errorf("%w: '#' must be the last level in %q", ErrInvalidTopic, filter)
		}
		if strings.Contains(level, "+") && level != "+" {
			return fmt.Errorf("%w: '+' must occupy a whole level in %q", ErrInvalidTopic, filter)
		}
	}
	return nil
}

func validateTopicLength(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: topic cannot be empty", ErrInvalidTopic)
	}
	if len(topic) > maxTopicLength {
		return fmt.Errorf("%w: topic exceeds %d bytes", ErrInvalidTopic, maxTopicLength)
	}
	return nil
}
