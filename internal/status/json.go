package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/yamp/internal/firmware"
	"github.com/sweeney/yamp/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event          string          `json:"event,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	Device         string          `json:"device"`
	Mode           string          `json:"mode"`
	Connection     string          `json:"connection"`
	Relay          string          `json:"relay"`
	Flags          FlagsJSON       `json:"flags"`
	RemainingMs    int64           `json:"standby_remaining_ms"`
	LEDs           LEDsJSON        `json:"leds"`
	LastTransition *TransitionJSON `json:"last_transition,omitempty"`
	UptimeSeconds  int64           `json:"uptime_seconds"`
	StartTime      string          `json:"start_time"`
	Timestamp      string          `json:"timestamp"`
	MQTT           MQTTStatus      `json:"mqtt"`
	Counts         CountsJSON      `json:"mode_counts"`
	LinkDropped    uint64          `json:"link_events_dropped"`
	Firmware       *firmware.State `json:"firmware,omitempty"`
	Config         ConfigJSON      `json:"config"`
}

// FlagsJSON is the JSON representation of the mode flags.
type FlagsJSON struct {
	PowerOn        bool `json:"power_on"`
	InputWireless  bool `json:"input_wireless"`
	FirmwareActive bool `json:"firmware_active"`
}

// LEDsJSON reports the pattern of each LED channel.
type LEDsJSON struct {
	Link     string `json:"link"`
	Activity string `json:"activity"`
	Power    string `json:"power"`
}

// TransitionJSON is the JSON representation of a mode change.
type TransitionJSON struct {
	At   string `json:"at"`
	From string `json:"from"`
	To   string `json:"to"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of the transition counters.
type CountsJSON struct {
	On              int `json:"on"`
	EnteringStandby int `json:"entering_standby"`
	Standby         int `json:"standby"`
	Off             int `json:"off"`
	Bypass          int `json:"bypass"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs           int64  `json:"poll_ms"`
	StandbyTimeoutMs int64  `json:"standby_timeout_ms"`
	ApproachWindowMs int64  `json:"approach_window_ms"`
	Adapter          string `json:"adapter"`
	Broker           string `json:"broker"`
	HTTPAddr         string `json:"http_addr"`
}

func orUnknown(s string) string {
	if s == "" {
		return "UNKNOWN"
	}
	return s
}

func buildInner(snap Snapshot) StatusInner {
	remaining := snap.Remaining
	if remaining < 0 {
		remaining = 0
	}
	inner := StatusInner{
		Device:     snap.Config.DeviceName,
		Mode:       orUnknown(string(snap.Mode)),
		Connection: orUnknown(string(snap.Connection)),
		Relay:      snap.Relay.String(),
		Flags: FlagsJSON{
			PowerOn:        snap.Flags.PowerOn,
			InputWireless:  snap.Flags.InputWireless,
			FirmwareActive: snap.Flags.FirmwareActive,
		},
		RemainingMs: remaining.Milliseconds(),
		LEDs: LEDsJSON{
			Link:     patternName(snap.Patterns.Link),
			Activity: patternName(snap.Patterns.Activity),
			Power:    patternName(snap.Patterns.Power),
		},
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			On:              snap.Counts.On,
			EnteringStandby: snap.Counts.EnteringStandby,
			Standby:         snap.Counts.Standby,
			Off:             snap.Counts.Off,
			Bypass:          snap.Counts.Bypass,
		},
		LinkDropped: snap.LinkDropped,
		Firmware:    snap.Firmware,
		Config: ConfigJSON{
			PollMs:           snap.Config.PollMs,
			StandbyTimeoutMs: snap.Config.StandbyTimeoutMs,
			ApproachWindowMs: snap.Config.ApproachWindowMs,
			Adapter:          snap.Config.Adapter,
			Broker:           snap.Config.Broker,
			HTTPAddr:         snap.Config.HTTPAddr,
		},
	}
	if tr := snap.LastTransition; tr != nil {
		inner.LastTransition = &TransitionJSON{
			At:   tr.At.UTC().Format(time.RFC3339),
			From: orUnknown(string(tr.From)),
			To:   string(tr.To),
		}
	}
	return inner
}

// patternName renders an unset pattern (before the first tick) as UNKNOWN.
func patternName(p logic.LedPattern) string {
	if p.Kind == "" {
		return "UNKNOWN"
	}
	return p.String()
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
