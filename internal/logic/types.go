// Package logic contains the pure control logic of the amplifier standby controller.
// This package has NO external dependencies (no GPIO, D-Bus, network, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"fmt"
	"time"
)

// PowerMode is the derived power state of the amplifier. It is recomputed every tick.
type PowerMode string

const (
	ModeOff             PowerMode = "OFF"
	ModeStandby         PowerMode = "STANDBY"
	ModeEnteringStandby PowerMode = "ENTERING_STANDBY"
	ModeOn              PowerMode = "ON"
	// ModeBypass is the pass-through branch taken when the input selector is not
	// routed to the wireless path. The relay is closed and the link is paused.
	ModeBypass PowerMode = "BYPASS"
)

// ConnectionState mirrors the audio link.
type ConnectionState string

const (
	Disconnected ConnectionState = "DISCONNECTED"
	Connected    ConnectionState = "CONNECTED"
)

// Liveness classifies the remaining time before the standby deadline.
type Liveness string

const (
	Expired     Liveness = "EXPIRED"
	Approaching Liveness = "APPROACHING"
	Alive       Liveness = "ALIVE"
)

// Control identifies a physical control.
type Control string

const (
	ControlMode  Control = "MODE"
	ControlPower Control = "POWER"
	ControlInput Control = "INPUT"
)

// Gesture is an ephemeral event raised by a gesture detector.
type Gesture string

const (
	Pushed      Gesture = "PUSHED"
	Released    Gesture = "RELEASED"
	SingleClick Gesture = "SINGLE_CLICK"
	DoubleClick Gesture = "DOUBLE_CLICK"
	LongPress   Gesture = "LONG_PRESS"
)

// PatternKind is the shape of an LED pattern.
type PatternKind string

const (
	PatternOn    PatternKind = "ON"
	PatternOff   PatternKind = "OFF"
	PatternBlink PatternKind = "BLINK"
)

// LedPattern is a comparable value describing what one LED channel shows.
// On and Off are only meaningful for PatternBlink.
type LedPattern struct {
	Kind PatternKind
	On   time.Duration
	Off  time.Duration
}

// Solid returns the continuous-on pattern.
func Solid() LedPattern { return LedPattern{Kind: PatternOn} }

// Dark returns the continuous-off pattern.
func Dark() LedPattern { return LedPattern{Kind: PatternOff} }

// Blink returns a blink pattern with the given on and off durations.
func Blink(on, off time.Duration) LedPattern {
	return LedPattern{Kind: PatternBlink, On: on, Off: off}
}

func (p LedPattern) String() string {
	if p.Kind == PatternBlink {
		return fmt.Sprintf("BLINK(%dms/%dms)", p.On.Milliseconds(), p.Off.Milliseconds())
	}
	return string(p.Kind)
}

// Patterns holds one pattern per LED channel.
type Patterns struct {
	Link     LedPattern // link status
	Activity LedPattern // activity / standby
	Power    LedPattern
}

// Flags are the process-wide mode flags. Only the router and the firmware
// controller change them.
type Flags struct {
	PowerOn        bool
	InputWireless  bool
	FirmwareActive bool
}

// Snapshot is the immutable input tuple evaluated by Decide.
type Snapshot struct {
	Flags      Flags
	Connection ConnectionState
	Liveness   Liveness
}

// RelayState is the commanded position of the load relay.
type RelayState bool

const (
	RelayOpen   RelayState = false
	RelayClosed RelayState = true
)

func (r RelayState) String() string {
	if r == RelayClosed {
		return "CLOSED"
	}
	return "OPEN"
}

// Transition records a change of PowerMode.
type Transition struct {
	At         time.Time
	From       PowerMode
	To         PowerMode
	Connection ConnectionState
	Relay      RelayState
}

// Counts tracks the number of transitions into each mode since startup.
type Counts struct {
	On              int
	EnteringStandby int
	Standby         int
	Off             int
	Bypass          int
}

func (c *Counts) add(m PowerMode) {
	switch m {
	case ModeOn:
		c.On++
	case ModeEnteringStandby:
		c.EnteringStandby++
	case ModeStandby:
		c.Standby++
	case ModeOff:
		c.Off++
	case ModeBypass:
		c.Bypass++
	}
}
