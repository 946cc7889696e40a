// Package mqtt publishes read-only amplifier telemetry over MQTT.
package mqtt

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/sweeney/yamp/internal/logic"
)

// Topic suffixes below the configured prefix.
const (
	TopicState        = "state"        // mode transitions
	TopicSystem       = "system"       // lifecycle events
	TopicAvailability = "availability" // retained online/offline, set by the broker on loss
)

// System event names.
const (
	EventStartup  = "STARTUP"
	EventShutdown = "SHUTDOWN"
	EventFirmware = "FIRMWARE"
	EventOffline  = "OFFLINE"
)

// Topic joins prefix and suffix.
func Topic(prefix, suffix string) string {
	return strings.TrimSuffix(prefix, "/") + "/" + suffix
}

// Publisher publishes telemetry.
type Publisher interface {
	// PublishTransition sends a mode transition.
	// Returns error if publishing fails (must not stop the control loop).
	PublishTransition(tr logic.Transition) error

	// PublishSystem sends a lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent is a lifecycle event (startup, shutdown, firmware mode).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string
	Reason     string // e.g. "SIGTERM" on shutdown, "BOOT_GESTURE" on firmware entry
	RawPayload []byte // pre-formatted JSON; if set, FormatSystemPayload returns it directly
	Retained   bool
}

// Payload is the transition message.
type Payload struct {
	Amplifier AmplifierPayload `json:"amplifier"`
}

// AmplifierPayload contains the transition details.
type AmplifierPayload struct {
	Timestamp  string `json:"timestamp"`
	From       string `json:"from"`
	Mode       string `json:"mode"`
	Connection string `json:"connection"`
	Relay      string `json:"relay"`
}

// FormatPayload creates the JSON payload for a transition.
func FormatPayload(tr logic.Transition) ([]byte, error) {
	from := string(tr.From)
	if from == "" {
		from = "NONE"
	}
	return json.Marshal(Payload{
		Amplifier: AmplifierPayload{
			Timestamp:  tr.At.UTC().Format(time.RFC3339),
			From:       from,
			Mode:       string(tr.To),
			Connection: string(tr.Connection),
			Relay:      tr.Relay.String(),
		},
	})
}

// SystemPayload is the message for simple system events that carry no snapshot.
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
	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	})
}

// Discard is the Publisher used when no broker is configured.
type Discard struct{}

// PublishTransition does nothing.
func (Discard) PublishTransition(logic.Transition) error { return nil }

// PublishSystem does nothing.
func (Discard) PublishSystem(SystemEvent) error { return nil }

// Close does nothing.
func (Discard) Close() error { return nil }

// IsConnected always reports false.
func (Discard) IsConnected() bool { return false }
