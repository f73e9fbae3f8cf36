package mqtt

import "fmt"

// Topic prefixes for the JBL bridge MQTT surface.
//
// The bridge exposes one receiver under a flat scheme:
//
//	jblbridge/avr/{category}
const (
	// TopicPrefix is the base for all bridge topics.
	TopicPrefix = "jblbridge"

	// TopicPrefixAVR is the base for receiver-facing topics.
	TopicPrefixAVR = "jblbridge/avr"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "jblbridge/system"
)

// Topics provides builders for bridge MQTT topics.
// Using these helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.AVRState()
//	// Returns: "jblbridge/avr/state"
type Topics struct{}

// AVRState returns the retained receiver state topic.
//
// Example: jblbridge/avr/state
func (Topics) AVRState() string {
	return fmt.Sprintf("%s/state", TopicPrefixAVR)
}

// AVRCommand returns the inbound command topic.
//
// Example: jblbridge/avr/command
func (Topics) AVRCommand() string {
	return fmt.Sprintf("%s/command", TopicPrefixAVR)
}

// AVRAck returns the command acknowledgement topic.
//
// Example: jblbridge/avr/ack
func (Topics) AVRAck() string {
	return fmt.Sprintf("%s/ack", TopicPrefixAVR)
}

// AVRHealth returns the receiver health topic.
//
// Example: jblbridge/avr/health
func (Topics) AVRHealth() string {
	return fmt.Sprintf("%s/health", TopicPrefixAVR)
}

// AVREvent returns the per-field change event topic.
//
// Example: jblbridge/avr/event/volume
func (Topics) AVREvent(field string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefixAVR, field)
}

// SystemStatus returns the bridge process status topic (LWT target).
//
// Example: jblbridge/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllEvents returns a pattern matching all change event topics.
//
// Pattern: jblbridge/avr/event/+
func (Topics) AllEvents() string {
	return fmt.Sprintf("%s/event/+", TopicPrefixAVR)
}

// AllTopics returns a pattern matching all bridge topics.
// Use with caution, this receives ALL traffic.
//
// Pattern: jblbridge/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
