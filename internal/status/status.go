// Package status provides a thread-safe status tracker for the yamp daemon.
// It is written by the control loop and read by HTTP handlers and MQTT telemetry.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/yamp/internal/firmware"
	"github.com/sweeney/yamp/internal/logic"
)

// Config contains daemon configuration for display.
type Config struct {
	DeviceName       string
	PollMs           int64
	StandbyTimeoutMs int64
	ApproachWindowMs int64
	Adapter          string
	Broker           string
	HTTPAddr         string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Mode       logic.PowerMode
	Connection logic.ConnectionState
	Flags      logic.Flags
	Relay      logic.RelayState
	Remaining  time.Duration
	Patterns   logic.Patterns
	Counts     logic.Counts
	// LastTransition is the most recent mode change, nil before the first tick.
	LastTransition *logic.Transition
	// Firmware is set while firmware mode runs.
	Firmware      *firmware.State
	LinkDropped   uint64
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
	// Seq increases on every change; readers use it to skip unchanged snapshots.
	Seq uint64
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime:  startTime,
			Connection: logic.Disconnected,
			Config:     cfg,
		},
	}
}

// Update records the result of one control tick.
// Called from runLoop on every tick; Seq only moves when something visible changed.
func (t *Tracker) Update(out logic.Output, counts logic.Counts) {
	t.mu.Lock()
	defer t.mu.Unlock()

	changed := t.snap.Mode != out.Mode ||
		t.snap.Connection != out.Snapshot.Connection ||
		t.snap.Flags != out.Snapshot.Flags ||
		t.snap.Relay != out.Relay ||
		t.snap.Patterns != out.Patterns ||
		t.snap.Remaining.Truncate(time.Second) != out.Remaining.Truncate(time.Second)

	t.snap.Mode = out.Mode
	t.snap.Connection = out.Snapshot.Connection
	t.snap.Flags = out.Snapshot.Flags
	t.snap.Relay = out.Relay
	t.snap.Patterns = out.Patterns
	t.snap.Remaining = out.Remaining
	t.snap.Counts = counts
	if out.Transition != nil {
		tr := *out.Transition
		t.snap.LastTransition = &tr
		changed = true
	}
	if changed {
		t.snap.Seq++
	}
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	if t.snap.MQTTConnected != connected {
		t.snap.MQTTConnected = connected
		t.snap.Seq++
	}
	t.mu.Unlock()
}

// SetLinkDropped records how many link events were lost to a full queue.
func (t *Tracker) SetLinkDropped(n uint64) {
	t.mu.Lock()
	if t.snap.LinkDropped != n {
		t.snap.LinkDropped = n
		t.snap.Seq++
	}
	t.mu.Unlock()
}

// SetFirmware sets the firmware mode state. nil clears it.
func (t *Tracker) SetFirmware(st *firmware.State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case st == nil && t.snap.Firmware == nil:
		return
	case st != nil && t.snap.Firmware != nil && *st == *t.snap.Firmware:
		return
	case st == nil:
		t.snap.Firmware = nil
	default:
		cp := *st
		t.snap.Firmware = &cp
	}
	t.snap.Flags.FirmwareActive = t.snap.Firmware != nil
	t.snap.Seq++
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
