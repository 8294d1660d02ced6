// Package mqtt publishes relay changes and daemon lifecycle events, with an
// abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/relay-controller/internal/control"
)

// Topic is the MQTT topic for relay change events.
const Topic = "home/relays/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "home/relays/system"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a relay change event to the broker.
	// It must not block the control loop; errors are reported, never fatal.
	Publish(event RelayEvent) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// RelayEvent is one channel changing state.
type RelayEvent struct {
	Timestamp time.Time
	Channel   int
	Name      string
	Energized bool
	Source    control.Source
}

// NewRelayEvent stamps a control change for publishing.
func NewRelayEvent(c control.Change, name string, at time.Time) RelayEvent {
	return RelayEvent{
		Timestamp: at,
		Channel:   c.Channel,
		Name:      name,
		Energized: c.Energized,
		Source:    c.Source,
	}
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT", "OFFLINE"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Relay RelayPayload `json:"relay"`
}

// RelayPayload contains the relay event details.
type RelayPayload struct {
	Timestamp string `json:"timestamp"`
	Channel   int    `json:"channel"`
	Name      string `json:"name,omitempty"`
	State     string `json:"state"`
	Source    string `json:"source"`
}

// FormatPayload creates the JSON payload for a relay event.
func FormatPayload(event RelayEvent) ([]byte, error) {
	state := "OFF"
	if event.Energized {
		state = "ON"
	}
	payload := Payload{
		Relay: RelayPayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Channel:   event.Channel,
			Name:      event.Name,
			State:     state,
			Source:    string(event.Source),
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
