package mqtt

import (
	"fmt"
	"strings"
)

// Topic layout for the Audioflow bridge.
//
// Bridge topics use the flat Gray Logic scheme
// graylogic/{category}/{protocol}/{device_id}, so the bridge sits alongside
// the other protocol bridges on the same bus.
const (
	// TopicPrefix is the root of every Gray Logic topic.
	TopicPrefix = "graylogic"

	// Protocol is the protocol segment used by this bridge.
	Protocol = "audioflow"
)

// Topics provides builders for the bridge's MQTT topics.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.State("AF0123456789")
//	// Returns: "graylogic/state/audioflow/AF0123456789"
type Topics struct{}

// =============================================================================
// Device Topics
// =============================================================================

// Command returns the topic on which commands for a device arrive.
//
// Example: graylogic/command/audioflow/AF0123456789
func (Topics) Command(deviceID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, Protocol, deviceID)
}

// Ack returns the topic for command acknowledgements.
//
// Example: graylogic/ack/audioflow/AF0123456789
func (Topics) Ack(deviceID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, Protocol, deviceID)
}

// State returns the retained zone-mirror topic for a device.
//
// Example: graylogic/state/audioflow/AF0123456789
func (Topics) State(deviceID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, Protocol, deviceID)
}

// Event returns the topic for a device event of the given kind.
//
// Example: graylogic/event/audioflow/AF0123456789/zone_turned_on
func (Topics) Event(deviceID, kind string) string {
	return fmt.Sprintf("%s/event/%s/%s/%s", TopicPrefix, Protocol, deviceID, kind)
}

// =============================================================================
// Bridge Topics
// =============================================================================

// Health returns the bridge health topic. It also carries the LWT.
//
// Example: graylogic/health/audioflow
func (Topics) Health() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, Protocol)
}

// Discovery returns the topic on which pairing candidates are announced.
//
// Example: graylogic/discovery/audioflow
func (Topics) Discovery() string {
	return fmt.Sprintf("%s/discovery/%s", TopicPrefix, Protocol)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllCommands matches commands for every device of this bridge.
//
// Pattern: graylogic/command/audioflow/+
func (Topics) AllCommands() string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, Protocol)
}

// AllEvents matches every event of every device.
//
// Pattern: graylogic/event/audioflow/#
func (Topics) AllEvents() string {
	return fmt.Sprintf("%s/event/%s/#", TopicPrefix, Protocol)
}

// AllStates matches every device state topic.
//
// Pattern: graylogic/state/audioflow/+
func (Topics) AllStates() string {
	return fmt.Sprintf("%s/state/%s/+", TopicPrefix, Protocol)
}

// DeviceIDFromTopic extracts the device segment from a device topic such as
// graylogic/command/audioflow/AF01 or graylogic/event/audioflow/AF01/kind.
func DeviceIDFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 4 || parts[0] != TopicPrefix || parts[2] != Protocol {
		return "", false
	}
	if parts[3] == "" || parts[3] == "+" || parts[3] == "#" {
		return "", false
	}
	return parts[3], true
}
