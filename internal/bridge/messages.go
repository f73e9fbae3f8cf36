package bridge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Ack status values.
const (
	// StatusOK marks a command the receiver acknowledged.
	StatusOK = "ok"

	// StatusSuperseded marks a command replaced by a newer intent on the
	// same control axis before it completed.
	StatusSuperseded = "superseded"

	// StatusTimeout marks a command that received no acknowledgment after
	// exhausting retries.
	StatusTimeout = "timeout"

	// StatusRejected marks a command the receiver answered with a protocol
	// error code.
	StatusRejected = "rejected"

	// StatusLimited marks a command refused because the receiver is in
	// low-power standby.
	StatusLimited = "limited"

	// StatusOffline marks a command refused because the control channel is
	// down.
	StatusOffline = "offline"

	// StatusInvalid marks a command message that could not be parsed.
	StatusInvalid = "invalid"

	// StatusFailed marks any other command failure.
	StatusFailed = "failed"
)

// CommandMessage is the inbound command payload on jblbridge/avr/command.
//
// Example:
//
//	{"id": "a1b2...", "action": "volume", "value": 35}
//	{"action": "power", "value": true}
//	{"action": "ir", "value": "volume_up"}
type CommandMessage struct {
	// ID correlates the command with its acknowledgment. Generated by the
	// bridge when absent.
	ID string `json:"id,omitempty"`

	// Action names the control to operate, e.g. "volume", "mute", "input".
	Action string `json:"action"`

	// Value carries the action argument. Type depends on the action:
	// bool for toggles, number for levels, string for input/surround/ir.
	Value json.RawMessage `json:"value,omitempty"`
}

// AckMessage is the command acknowledgment payload on jblbridge/avr/ack.
type AckMessage struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventMessage is the per-field change payload on jblbridge/avr/event/<field>.
type EventMessage struct {
	Field     string    `json:"field"`
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthMessage is the periodic health payload on jblbridge/avr/health.
type HealthMessage struct {
	Status         string    `json:"status"`
	ConnState      string    `json:"conn_state"`
	LimitedControl bool      `json:"limited_control"`
	FramesReceived uint64    `json:"frames_received"`
	FramesInvalid  uint64    `json:"frames_invalid"`
	Reconnects     uint64    `json:"reconnects"`
	CommandsIssued uint64    `json:"commands_issued"`
	CommandsFailed uint64    `json:"commands_failed"`
	Timestamp      time.Time `json:"timestamp"`
}

// ensureID fills in a correlation ID when the sender omitted one, so every
// acknowledgment can be matched to a command.
func (m *CommandMessage) ensureID() {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
}

// boolValue decodes a boolean action argument.
func (m *CommandMessage) boolValue() (bool, error) {
	var v bool
	if err := json.Unmarshal(m.Value, &v); err != nil {
		return false, fmt.Errorf("action %q expects a boolean value: %w", m.Action, err)
	}
	return v, nil
}

// intValue decodes a numeric action argument.
func (m *CommandMessage) intValue() (int, error) {
	var v int
	if err := json.Unmarshal(m.Value, &v); err != nil {
		return 0, fmt.Errorf("action %q expects an integer value: %w", m.Action, err)
	}
	return v, nil
}

// stringValue decodes a string action argument.
func (m *CommandMessage) stringValue() (string, error) {
	var v string
	if err := json.Unmarshal(m.Value, &v); err != nil {
		return "", fmt.Errorf("action %q expects a string value: %w", m.Action, err)
	}
	return v, nil
}
