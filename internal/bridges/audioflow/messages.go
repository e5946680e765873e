package audioflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MQTT message types exchanged between Gray Logic Core and the Audioflow bridge.

// Protocol is the protocol identifier carried in acks and state messages.
const Protocol = "audioflow"

// Command names accepted on graylogic/command/audioflow/{device_id}.
const (
	CommandZoneOn       = "zone_on"
	CommandZoneOff      = "zone_off"
	CommandAllOff       = "all_off"
	CommandSetZones     = "set_zones"
	CommandSetZoneName  = "set_zone_name"
	CommandSetExclusive = "set_exclusive"
	CommandReboot       = "reboot"
	CommandRefresh      = "refresh"
)

// CommandMessage is sent from Core to the bridge to drive a switch.
// Topic: graylogic/command/audioflow/{device_id}
type CommandMessage struct {
	// ID uniquely identifies this command for correlation with acknowledgments.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the switch identifier. The topic's device ID wins when
	// both are present.
	DeviceID string `json:"device_id"`

	// Command is one of the Command* names.
	Command string `json:"command"`

	// Parameters contains command-specific values.
	// Examples:
	//   {"zone": 2} for zone_on
	//   {"zone": 1, "name": "Kitchen", "enabled": true} for set_zone_name
	//   {"states": "1010"} for set_zones
	//   {"mode": "enable"} for set_exclusive
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated.
	// Values: "api", "automation", "voice", "scene"
	Source string `json:"source"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the switch accepted the request.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates the switch did not answer in time.
	AckTimeout AckStatus = "timeout"
)

// AckMessage is sent from the bridge to Core to acknowledge a command.
// Topic: graylogic/ack/audioflow/{device_id}
type AckMessage struct {
	// CommandID is the ID from the original command.
	CommandID string `json:"command_id"`

	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`

	// Error contains details if status is "failed" or "timeout".
	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
)

// StateMessage carries the mirror snapshot of one switch.
// Topic: graylogic/state/audioflow/{device_id}
// QoS: 1, Retained: Yes
type StateMessage struct {
	DeviceID  string     `json:"device_id"`
	Timestamp time.Time  `json:"timestamp"`
	Protocol  string     `json:"protocol"`
	Address   string     `json:"address"`
	Switch    SwitchMeta `json:"switch"`

	// Zones lists every zone, hidden ones included, in index order.
	Zones []Zone `json:"zones"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is running but some switch is
	// unreachable or the broker connection is down.
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline indicates the bridge is not connected (from LWT).
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports bridge status.
// Topic: graylogic/health/audioflow
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge        string       `json:"bridge"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`

	// DevicesManaged is the number of switches the bridge polls.
	DevicesManaged int `json:"devices_managed"`

	// DevicesFailing counts switches whose last pass failed.
	DevicesFailing int `json:"devices_failing"`

	Statistics *BridgeStatistics `json:"statistics,omitempty"`

	// Reason explains the status (especially for offline/degraded).
	Reason string `json:"reason,omitempty"`
}

// BridgeStatistics sums the poller counters of every device.
type BridgeStatistics struct {
	Passes       uint64 `json:"passes"`
	Failures     uint64 `json:"failures"`
	SkippedTicks uint64 `json:"skipped_ticks"`
	Commands     uint64 `json:"commands"`
	Events       uint64 `json:"events"`
}

// DiscoveryMessage announces the switches found by a pairing session.
// Topic: graylogic/discovery/audioflow
type DiscoveryMessage struct {
	Timestamp  time.Time   `json:"timestamp"`
	Bridge     string      `json:"bridge"`
	Candidates []Candidate `json:"candidates"`
}

// UnmarshalJSON unmarshals a CommandMessage, accepting an RFC 3339 timestamp.
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

// NewAckMessage creates a successful acknowledgment for a command.
func NewAckMessage(cmd CommandMessage) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    AckAccepted,
		Protocol:  Protocol,
	}
}

// NewAckError creates an acknowledgment with error details.
func NewAckError(cmd CommandMessage, code, message string) AckMessage {
	status := AckFailed
	if code == ErrCodeTimeout {
		status = AckTimeout
	}
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    status,
		Protocol:  Protocol,
		Error: &AckError{
			Code:    code,
			Message: message,
		},
	}
}

// NewStateMessage snapshots a device for publication.
func NewStateMessage(deviceID, address string, mirror *Mirror) StateMessage {
	return StateMessage{
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC(),
		Protocol:  Protocol,
		Address:   address,
		Switch:    mirror.Meta(),
		Zones:     mirror.Zones(),
	}
}

// NewDiscoveryMessage wraps pairing candidates.
func NewDiscoveryMessage(bridgeID string, found []Descriptor) DiscoveryMessage {
	candidates := make([]Candidate, 0, len(found))
	for _, d := range found {
		candidates = append(candidates, d.Candidate())
	}
	return DiscoveryMessage{
		Timestamp:  time.Now().UTC(),
		Bridge:     bridgeID,
		Candidates: candidates,
	}
}

// NewLWTMessage creates the Last Will and Testament health message.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// NewCommandID returns a fresh command identifier.
func NewCommandID() string {
	return uuid.NewString()
}

// ErrorCode maps a dispatcher or transport error to an ack error code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case IsValidationError(err):
		return ErrCodeInvalidParameters
	case errors.Is(err, ErrTransportTimeout):
		return ErrCodeTimeout
	case errors.Is(err, ErrDeviceNotFound):
		return ErrCodeNotConfigured
	default:
		return ErrCodeDeviceUnreachable
	}
}
