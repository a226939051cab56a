package bridge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-lifx/internal/protocol"
)

// MQTT message types for communication between Gray Logic Core and the
// LIFX bridge. The schemas follow the bridge interface specification
// (docs/architecture/bridge-interface.md); LIFX serials take the place
// of protocol addresses in topic paths. Colons are legal in topic
// segments, so the colon-separated serial form needs no encoding.

// CommandMessage is sent from Core to the bridge to execute a device
// command.
// Topic: graylogic/command/lifx/{serial}
type CommandMessage struct {
	// ID uniquely identifies this command for correlation with
	// acknowledgments.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the target device serial (d0:73:d5:01:02:03).
	DeviceID string `json:"device_id"`

	// Command is the command name (e.g., "set_power", "set_color").
	Command string `json:"command"`

	// Parameters contains command-specific values.
	// Examples:
	//   {"level": "on", "duration_ms": 500} for set_power
	//   {"hue": 120, "saturation": 100, "brightness": 80} for set_color
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated.
	// Values: "api", "automation", "voice", "scene"
	Source string `json:"source"`

	// UserID is the user who triggered the command (if applicable).
	UserID string `json:"user_id,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was admitted and the first
	// datagram has been sent to the device.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates the device did not respond within the full
	// retry budget.
	AckTimeout AckStatus = "timeout"
)

// AckMessage is sent from the bridge to Core to acknowledge a command.
// A command that is admitted receives an "accepted" ack immediately; if
// the device never answers, a second ack with status "timeout" follows
// once the retry budget is spent.
// Topic: graylogic/ack/lifx/{serial}
type AckMessage struct {
	// CommandID is the ID from the original command.
	CommandID string `json:"command_id"`

	// Timestamp is when the acknowledgment was sent (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the target device serial.
	DeviceID string `json:"device_id"`

	// Status indicates the acknowledgment status.
	Status AckStatus `json:"status"`

	// Protocol is the protocol identifier ("lifx").
	Protocol string `json:"protocol"`

	// Address is the device's current IP address ("10.0.0.17:56700").
	Address string `json:"address"`

	// Error contains details if status is "failed" or "timeout".
	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	// Code is the error code (e.g., "DEVICE_UNREACHABLE").
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Retries is the number of send attempts made.
	Retries int `json:"retries,omitempty"`
}

// Error codes for command failures.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeUnknownDevice     = "UNKNOWN_DEVICE"
	ErrCodeNotSupported      = "NOT_SUPPORTED"
	ErrCodeBridgeBusy        = "BRIDGE_BUSY"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage is sent from the bridge to Core when device state changes.
// Topic: graylogic/state/lifx/{serial}
// QoS: 1, Retained: Yes
type StateMessage struct {
	// DeviceID is the device serial.
	DeviceID string `json:"device_id"`

	// Timestamp is when the state was observed (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// State contains the current device state:
	//   {"on": true, "label": "Shelf",
	//    "color": {"hue": 120, "saturation": 100, "brightness": 80,
	//              "kelvin": 3500},
	//    "zones": [...]}           // multizone devices only
	State map[string]any `json:"state"`

	// Protocol is the protocol identifier ("lifx").
	Protocol string `json:"protocol"`

	// Address is the device's current IP address.
	Address string `json:"address"`
}

// AvailabilityMessage is sent from the bridge to Core when a device's
// reachability confidence changes.
// Topic: graylogic/availability/lifx/{serial}
// QoS: 1, Retained: Yes
type AvailabilityMessage struct {
	// DeviceID is the device serial.
	DeviceID string `json:"device_id"`

	// Timestamp is when the transition was observed (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Availability is "unknown", "available" or "unavailable".
	Availability string `json:"availability"`

	// Since is when the current availability state was entered.
	Since time.Time `json:"since"`

	// Protocol is the protocol identifier ("lifx").
	Protocol string `json:"protocol"`

	// Address is the device's current IP address.
	Address string `json:"address,omitempty"`
}

// DiscoveryMessage is the identity card published when a device is first
// seen, when its address or label changes, and again on bridge restart.
// Topic: graylogic/discovery/lifx/{serial}
// QoS: 1, Retained: Yes
type DiscoveryMessage struct {
	// Timestamp is when the identity was assembled (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Protocol is the protocol identifier ("lifx").
	Protocol string `json:"protocol"`

	// Serial is the 6-byte hardware identifier in colon-separated hex.
	Serial string `json:"serial"`

	// Address is the device's current IP address.
	Address string `json:"address"`

	// Label is the user-assigned device name.
	Label string `json:"label,omitempty"`

	// Group and Location are the device's organisational labels.
	Group    string `json:"group,omitempty"`
	Location string `json:"location,omitempty"`

	// Vendor and ProductID identify the hardware model.
	Vendor    uint32 `json:"vendor"`
	ProductID uint32 `json:"product_id"`

	// Product is the marketing name ("LIFX A19").
	Product string `json:"product"`

	// Firmware is the host firmware version ("3.70").
	Firmware string `json:"firmware,omitempty"`

	// Capabilities lists the device features (e.g., ["color", "multizone"]).
	Capabilities []string `json:"capabilities"`

	// New is true the first time this serial is ever seen.
	New bool `json:"new"`

	// AddressChanged is true when a known device answered from a
	// different address.
	AddressChanged bool `json:"address_changed"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is operating with issues.
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline indicates the bridge is not connected (from LWT).
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is sent from the bridge to Core to report operational
// status.
// Topic: graylogic/health/lifx
// QoS: 1, Retained: Yes
// Interval: Every 30 seconds
type HealthMessage struct {
	// Bridge is the bridge identifier (e.g., "lifx").
	Bridge string `json:"bridge"`

	// InstanceID changes on every bridge restart, letting Core detect
	// process restarts behind an otherwise identical health stream.
	InstanceID string `json:"instance_id,omitempty"`

	// Timestamp is when the health status was generated (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Status indicates the current operational status.
	Status HealthStatus `json:"status"`

	// Version is the bridge software version.
	Version string `json:"version,omitempty"`

	// UptimeSeconds is how long the bridge has been running.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// Devices breaks the managed fleet down by availability.
	Devices *DeviceCounts `json:"devices,omitempty"`

	// Statistics contains operational metrics.
	Statistics *BridgeStatistics `json:"statistics,omitempty"`

	// Reason explains the status (especially for offline/degraded).
	Reason string `json:"reason,omitempty"`
}

// DeviceCounts breaks the fleet down by availability.
type DeviceCounts struct {
	Total       int `json:"total"`
	Available   int `json:"available"`
	Unavailable int `json:"unavailable"`
	Unknown     int `json:"unknown"`
}

// BridgeStatistics contains operational metrics for health messages.
type BridgeStatistics struct {
	// CommandsReceived is the total number of MQTT commands received.
	CommandsReceived uint64 `json:"commands_received"`

	// CommandsFailed counts commands that ended in a failed or timeout ack.
	CommandsFailed uint64 `json:"commands_failed"`

	// PublishErrors counts MQTT publishes that failed.
	PublishErrors uint64 `json:"publish_errors"`

	// DatagramsSent is the total number of UDP datagrams sent.
	DatagramsSent uint64 `json:"datagrams_sent"`

	// Resends counts datagrams sent beyond each request's first attempt.
	Resends uint64 `json:"resends"`

	// ResponsesMatched counts responses correlated to a waiting request.
	ResponsesMatched uint64 `json:"responses_matched"`

	// RequestsExhausted counts requests that spent their full retry budget.
	RequestsExhausted uint64 `json:"requests_exhausted"`

	// DiscoveryCycles counts completed discovery broadcasts.
	DiscoveryCycles uint64 `json:"discovery_cycles"`
}

// JSON marshalling helpers

// MarshalJSON marshals a CommandMessage to JSON.
func (m *CommandMessage) MarshalJSON() ([]byte, error) {
	type Alias CommandMessage
	return json.Marshal(&struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias:     (*Alias)(m),
		Timestamp: m.Timestamp.UTC().Format(time.RFC3339),
	})
}

// UnmarshalJSON unmarshals a CommandMessage from JSON.
func (m *CommandMessage) UnmarshalJSON(data []byte) error {
	type Alias CommandMessage
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("unmarshal command message: %w", err)
	}
	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		m.Timestamp = t
	}
	return nil
}

// NewAckMessage creates an acknowledgment message for a command.
func NewAckMessage(cmd CommandMessage, status AckStatus, address string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    status,
		Protocol:  Protocol,
		Address:   address,
	}
}

// NewAckError creates an acknowledgment with error details. An exhausted
// retry budget is a timeout; every other code is a plain failure.
func NewAckError(cmd CommandMessage, address, code, message string, retries int) AckMessage {
	status := AckFailed
	if code == ErrCodeDeviceUnreachable {
		status = AckTimeout
	}
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    status,
		Protocol:  Protocol,
		Address:   address,
		Error: &AckError{
			Code:    code,
			Message: message,
			Retries: retries,
		},
	}
}

// NewStateMessage creates a state message for a device.
func NewStateMessage(serial, address string, state map[string]any) StateMessage {
	return StateMessage{
		DeviceID:  serial,
		Timestamp: time.Now().UTC(),
		State:     state,
		Protocol:  Protocol,
		Address:   address,
	}
}

// NewAvailabilityMessage creates an availability transition message.
func NewAvailabilityMessage(serial, address, availability string, since time.Time) AvailabilityMessage {
	return AvailabilityMessage{
		DeviceID:     serial,
		Timestamp:    time.Now().UTC(),
		Availability: availability,
		Since:        since,
		Protocol:     Protocol,
		Address:      address,
	}
}

// NewLWTMessage creates a Last Will and Testament message for MQTT.
// This message is published by the broker if the bridge disconnects
// unexpectedly.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// capabilityNames translates a feature set to the wire vocabulary used
// in discovery messages.
func capabilityNames(f protocol.Features) []string {
	names := make([]string, 0, 4)
	if f.Color {
		names = append(names, "color")
	}
	if f.Infrared {
		names = append(names, "infrared")
	}
	if f.Multizone {
		names = append(names, "multizone")
	}
	if f.ExtendedMultizone {
		names = append(names, "extended_multizone")
	}
	if f.Matrix {
		names = append(names, "matrix")
	}
	if f.Hev {
		names = append(names, "hev")
	}
	if f.Relay {
		names = append(names, "relay")
	}
	return names
}

// Topic helpers

const (
	// TopicPrefix is the base topic for all Gray Logic messages.
	TopicPrefix = "graylogic"

	// Protocol is the protocol identifier used in topics and payloads.
	Protocol = "lifx"
)

// CommandTopic returns the MQTT topic for commands to a specific device.
// Example: graylogic/command/lifx/d0:73:d5:01:02:03
func CommandTopic(serial string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, Protocol, serial)
}

// AckTopic returns the MQTT topic for command acknowledgments.
// Example: graylogic/ack/lifx/d0:73:d5:01:02:03
func AckTopic(serial string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, Protocol, serial)
}

// StateTopic returns the MQTT topic for state updates.
// Example: graylogic/state/lifx/d0:73:d5:01:02:03
func StateTopic(serial string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, Protocol, serial)
}

// AvailabilityTopic returns the MQTT topic for availability transitions.
// Example: graylogic/availability/lifx/d0:73:d5:01:02:03
func AvailabilityTopic(serial string) string {
	return fmt.Sprintf("%s/availability/%s/%s", TopicPrefix, Protocol, serial)
}

// DiscoveryTopic returns the MQTT topic for device identity cards.
// Example: graylogic/discovery/lifx/d0:73:d5:01:02:03
func DiscoveryTopic(serial string) string {
	return fmt.Sprintf("%s/discovery/%s/%s", TopicPrefix, Protocol, serial)
}

// HealthTopic returns the MQTT topic for bridge health status.
// Example: graylogic/health/lifx
func HealthTopic() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, Protocol)
}

// CommandSubscribeTopic returns the MQTT subscription pattern for all
// commands.
// Example: graylogic/command/lifx/#
func CommandSubscribeTopic() string {
	return fmt.Sprintf("%s/command/%s/#", TopicPrefix, Protocol)
}
