// Package button turns polled control levels into gestures.
// Like package logic it has no hardware dependencies; time is always injected.
package button

import (
	"time"

	"github.com/sweeney/yamp/internal/logic"
)

// Default gesture timings.
const (
	DefaultDebounce    = 40 * time.Millisecond
	DefaultLongPress   = 1500 * time.Millisecond
	DefaultDoubleClick = 400 * time.Millisecond
)

// Config holds the gesture timings of one control.
type Config struct {
	// Debounce is how long a new level must be stable before it is accepted.
	Debounce time.Duration
	// LongPress is the hold time after which LONG_PRESS fires (once per press).
	LongPress time.Duration
	// DoubleClick is the window in which a second click makes a DOUBLE_CLICK.
	// Zero disables double-click detection and makes single clicks immediate.
	DoubleClick time.Duration
}

// DefaultConfig returns the default gesture timings.
func DefaultConfig() Config {
	return Config{
		Debounce:    DefaultDebounce,
		LongPress:   DefaultLongPress,
		DoubleClick: DefaultDoubleClick,
	}
}

// Detector debounces the level of one control and classifies gestures.
type Detector struct {
	control logic.Control
	cfg     Config

	stable       bool
	pending      bool
	hasPending   bool
	pendingSince time.Time
	baselined    bool
	assumed      bool
	hasAssumed   bool

	pressedAt   time.Time
	longFired   bool
	clicks      int
	lastRelease time.Time
}

// NewDetector creates a detector for the given control.
func NewDetector(control logic.Control, cfg Config) *Detector {
	return &Detector{control: control, cfg: cfg}
}

// Process takes one level sample (true = pressed / on) and returns the gestures
// it completes. Nothing is returned until the initial level has been stable for
// the debounce period; that level is the baseline, not a gesture.
func (d *Detector) Process(pressed bool, now time.Time) []logic.GestureEvent {
	if !d.baselined {
		if !d.establishBaseline(pressed, now) || !d.hasAssumed || d.assumed == d.stable {
			return nil
		}
		// The caller acted on a level that did not settle; report the edge.
		if d.stable {
			return []logic.GestureEvent{d.gesture(logic.Pushed, now)}
		}
		return []logic.GestureEvent{d.gesture(logic.Released, now)}
	}

	var out []logic.GestureEvent
	if changed := d.debounce(pressed, now); changed {
		if d.stable {
			d.pressedAt = now
			d.longFired = false
			out = append(out, d.gesture(logic.Pushed, now))
		} else {
			out = append(out, d.gesture(logic.Released, now))
			out = append(out, d.release(now)...)
		}
	}

	if d.stable && !d.longFired && d.cfg.LongPress > 0 && now.Sub(d.pressedAt) >= d.cfg.LongPress {
		d.longFired = true
		d.clicks = 0
		out = append(out, d.gesture(logic.LongPress, now))
	}

	if !d.stable && d.clicks == 1 && now.Sub(d.lastRelease) >= d.cfg.DoubleClick {
		d.clicks = 0
		out = append(out, d.gesture(logic.SingleClick, now))
	}

	return out
}

// Assume records the level the caller acted on before the baseline settled,
// typically a single raw read at boot. When the baseline differs, Process
// reports the difference as PUSHED or RELEASED.
func (d *Detector) Assume(level bool) {
	d.assumed = level
	d.hasAssumed = true
}

// establishBaseline reports whether the baseline was accepted on this sample.
func (d *Detector) establishBaseline(level bool, now time.Time) bool {
	if !d.hasPending || d.pending != level {
		d.pending = level
		d.hasPending = true
		d.pendingSince = now
		return false
	}
	if now.Sub(d.pendingSince) >= d.cfg.Debounce {
		d.stable = level
		d.baselined = true
		d.hasPending = false
		// A press held since boot is consumed: no LONG_PRESS, no click on release.
		d.pressedAt = now
		d.longFired = level
		return true
	}
	return false
}

// debounce reports whether the stable level changed on this sample.
func (d *Detector) debounce(level bool, now time.Time) bool {
	if level == d.stable {
		d.hasPending = false
		return false
	}
	if !d.hasPending || d.pending != level {
		d.pending = level
		d.hasPending = true
		d.pendingSince = now
		if d.cfg.Debounce > 0 {
			return false
		}
	}
	if now.Sub(d.pendingSince) >= d.cfg.Debounce {
		d.stable = level
		d.hasPending = false
		return true
	}
	return false
}

// release counts a click unless the press already fired LONG_PRESS.
func (d *Detector) release(now time.Time) []logic.GestureEvent {
	if d.longFired {
		return nil
	}
	if d.cfg.DoubleClick <= 0 {
		return []logic.GestureEvent{d.gesture(logic.SingleClick, now)}
	}
	d.clicks++
	if d.clicks >= 2 {
		d.clicks = 0
		return []logic.GestureEvent{d.gesture(logic.DoubleClick, now)}
	}
	d.lastRelease = now
	return nil
}

func (d *Detector) gesture(g logic.Gesture, now time.Time) logic.GestureEvent {
	return logic.GestureEvent{Control: d.control, Gesture: g, At: now}
}

// IsBaselined returns whether the initial level has been established.
func (d *Detector) IsBaselined() bool {
	return d.baselined
}

// Level returns the current debounced level.
func (d *Detector) Level() bool {
	return d.stable
}
