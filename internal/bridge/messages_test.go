package bridge

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-lifx/internal/protocol"
)

func TestCommandMessageRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	msg := CommandMessage{
		ID:         "cmd-123",
		Timestamp:  now,
		DeviceID:   "d0:73:d5:01:02:03",
		Command:    "set_color",
		Parameters: map[string]any{"hue": 120.0, "brightness": 80.0},
		Source:     "api",
		UserID:     "user-1",
	}

	data, err := json.Marshal(&msg)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	if !strings.Contains(string(data), `"timestamp":"2026-03-14T15:09:26Z"`) {
		t.Errorf("timestamp not RFC3339: %s", data)
	}

	var decoded CommandMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if !decoded.Timestamp.Equal(now) {
		t.Errorf("Timestamp = %v, want %v", decoded.Timestamp, now)
	}
	if decoded.Command != "set_color" {
		t.Errorf("Command = %q, want set_color", decoded.Command)
	}
	if decoded.Parameters["hue"] != 120.0 {
		t.Errorf("Parameters[hue] = %v, want 120", decoded.Parameters["hue"])
	}
	if decoded.Source != "api" || decoded.UserID != "user-1" {
		t.Errorf("Source/UserID = %q/%q, want api/user-1", decoded.Source, decoded.UserID)
	}
}

func TestCommandMessageBadTimestamp(t *testing.T) {
	var msg CommandMessage
	err := json.Unmarshal([]byte(`{"id":"x","timestamp":"not-a-time"}`), &msg)
	if err == nil {
		t.Error("Unmarshal() expected error for malformed timestamp")
	}
}

func TestNewAckErrorStatusMapping(t *testing.T) {
	cmd := CommandMessage{ID: "cmd-1", DeviceID: "d0:73:d5:01:02:03"}

	timeout := NewAckError(cmd, "10.0.0.2:56700", ErrCodeDeviceUnreachable, "no response after 8 attempts", 8)
	if timeout.Status != AckTimeout {
		t.Errorf("Status = %q, want %q", timeout.Status, AckTimeout)
	}
	if timeout.Error == nil || timeout.Error.Retries != 8 {
		t.Errorf("Error = %+v, want 8 retries", timeout.Error)
	}

	failed := NewAckError(cmd, "10.0.0.2:56700", ErrCodeInvalidParameters, "brightness is required", 0)
	if failed.Status != AckFailed {
		t.Errorf("Status = %q, want %q", failed.Status, AckFailed)
	}
	if failed.Protocol != Protocol {
		t.Errorf("Protocol = %q, want %q", failed.Protocol, Protocol)
	}
	if failed.CommandID != "cmd-1" {
		t.Errorf("CommandID = %q, want cmd-1", failed.CommandID)
	}
}

func TestTopics(t *testing.T) {
	serial := "d0:73:d5:01:02:03"
	tests := []struct {
		got  string
		want string
	}{
		{CommandTopic(serial), "graylogic/command/lifx/d0:73:d5:01:02:03"},
		{AckTopic(serial), "graylogic/ack/lifx/d0:73:d5:01:02:03"},
		{StateTopic(serial), "graylogic/state/lifx/d0:73:d5:01:02:03"},
		{AvailabilityTopic(serial), "graylogic/availability/lifx/d0:73:d5:01:02:03"},
		{DiscoveryTopic(serial), "graylogic/discovery/lifx/d0:73:d5:01:02:03"},
		{HealthTopic(), "graylogic/health/lifx"},
		{CommandSubscribeTopic(), "graylogic/command/lifx/#"},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestNewLWTMessage(t *testing.T) {
	msg := NewLWTMessage("lifx")
	if msg.Status != HealthOffline {
		t.Errorf("Status = %q, want %q", msg.Status, HealthOffline)
	}
	if msg.Bridge != "lifx" {
		t.Errorf("Bridge = %q, want lifx", msg.Bridge)
	}
	if msg.Reason != "unexpected_disconnect" {
		t.Errorf("Reason = %q, want unexpected_disconnect", msg.Reason)
	}
}

func TestCapabilityNames(t *testing.T) {
	names := capabilityNames(protocol.Features{Color: true, Multizone: true, ExtendedMultizone: true})
	want := []string{"color", "multizone", "extended_multizone"}
	if len(names) != len(want) {
		t.Fatalf("capabilities = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("capabilities[%d] = %q, want %q", i, names[i], want[i])
		}
	}

	if n := capabilityNames(protocol.Features{}); len(n) != 0 {
		t.Errorf("featureless device reported %v", n)
	}
}
