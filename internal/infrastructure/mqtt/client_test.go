package mqtt

import (
	"errors"
	"strings"
	"testing"
)

// Validation paths run before any broker contact, so they are testable
// against a zero-value client.

func TestPublishValidation(t *testing.T) {
	c := &Client{}

	if err := c.Publish("", []byte("x"), 1, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Publish("jblbridge/avr/state", []byte("x"), 3, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("qos 3 error = %v, want ErrInvalidQoS", err)
	}
	oversize := make([]byte, maxPayloadSize+1)
	if err := c.Publish("jblbridge/avr/state", oversize, 1, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("oversize payload error = %v, want ErrPublishFailed", err)
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := &Client{subs: make(map[string]subscription)}

	if err := c.Subscribe("", 1, func(string, []byte) error { return nil }); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Subscribe("jblbridge/avr/command", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v, want ErrSubscribeFailed", err)
	}
	if err := c.Subscribe("jblbridge/avr/command", 5, func(string, []byte) error { return nil }); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("qos 5 error = %v, want ErrInvalidQoS", err)
	}
}

func TestUnsubscribeValidation(t *testing.T) {
	c := &Client{subs: make(map[string]subscription)}

	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v, want ErrInvalidTopic", err)
	}
}

func TestTopics(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"state", topics.AVRState(), "jblbridge/avr/state"},
		{"command", topics.AVRCommand(), "jblbridge/avr/command"},
		{"ack", topics.AVRAck(), "jblbridge/avr/ack"},
		{"health", topics.AVRHealth(), "jblbridge/avr/health"},
		{"event", topics.AVREvent("volume"), "jblbridge/avr/event/volume"},
		{"system status", topics.SystemStatus(), "jblbridge/system/status"},
		{"all events", topics.AllEvents(), "jblbridge/avr/event/+"},
		{"all topics", topics.AllTopics(), "jblbridge/#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestStatusPayloads(t *testing.T) {
	online := buildOnlinePayload("jblbridge")
	if !strings.Contains(online, `"status":"online"`) || !strings.Contains(online, `"client_id":"jblbridge"`) {
		t.Errorf("online payload = %s", online)
	}

	offline := buildOfflinePayload("jblbridge")
	if !strings.Contains(offline, `"status":"offline"`) || !strings.Contains(offline, "graceful_shutdown") {
		t.Errorf("offline payload = %s", offline)
	}
}

func TestSubscriptionTracking(t *testing.T) {
	c := &Client{subs: make(map[string]subscription)}

	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", c.SubscriptionCount())
	}

	c.subs["jblbridge/avr/command"] = subscription{topic: "jblbridge/avr/command", qos: 1}

	if !c.HasSubscription("jblbridge/avr/command") {
		t.Error("HasSubscription() = false for tracked topic")
	}
	if c.HasSubscription("jblbridge/avr/state") {
		t.Error("HasSubscription() = true for untracked topic")
	}
	if c.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount() = %d, want 1", c.SubscriptionCount())
	}
}
