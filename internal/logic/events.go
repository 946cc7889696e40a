package logic

import (
	"fmt"
	"time"
)

// Event is an input applied to the Controller between ticks.
type Event interface {
	eventMarker()
}

// GestureEvent is raised by a gesture detector for one control.
type GestureEvent struct {
	Control Control
	Gesture Gesture
	At      time.Time
}

func (GestureEvent) eventMarker() {}

// LinkConnected is raised when an audio peer connects.
type LinkConnected struct {
	At time.Time
}

func (LinkConnected) eventMarker() {}

// LinkDisconnected is raised when the audio peer disconnects.
type LinkDisconnected struct {
	At time.Time
}

func (LinkDisconnected) eventMarker() {}

// LinkData is raised while audio data is being received. It is the keep-alive.
type LinkData struct {
	At time.Time
}

func (LinkData) eventMarker() {}

// Command is a side effect requested by the Controller. The daemon loop executes it.
type Command interface {
	commandMarker()
	String() string
}

// CmdRelay sets the load relay.
type CmdRelay struct {
	Closed bool
}

func (CmdRelay) commandMarker() {}
func (c CmdRelay) String() string {
	return fmt.Sprintf("CmdRelay(closed=%t)", c.Closed)
}

// CmdLinkStart (re)starts the audio link.
type CmdLinkStart struct{}

func (CmdLinkStart) commandMarker() {}
func (CmdLinkStart) String() string { return "CmdLinkStart()" }

// CmdLinkPause pauses the audio link without tearing it down.
type CmdLinkPause struct{}

func (CmdLinkPause) commandMarker() {}
func (CmdLinkPause) String() string { return "CmdLinkPause()" }

// CmdLinkDisconnect drops the current peer. The link stays up.
type CmdLinkDisconnect struct{}

func (CmdLinkDisconnect) commandMarker() {}
func (CmdLinkDisconnect) String() string { return "CmdLinkDisconnect()" }

// CmdLinkEnd tears the audio link down. It will not reconnect until started again.
type CmdLinkEnd struct {
	Immediate bool
}

func (CmdLinkEnd) commandMarker() {}
func (c CmdLinkEnd) String() string {
	return fmt.Sprintf("CmdLinkEnd(immediate=%t)", c.Immediate)
}

// CmdEnterFirmware switches to firmware mode at runtime.
type CmdEnterFirmware struct{}

func (CmdEnterFirmware) commandMarker() {}
func (CmdEnterFirmware) String() string { return "CmdEnterFirmware()" }

// CmdExitFirmware leaves firmware mode and resumes normal operation.
type CmdExitFirmware struct{}

func (CmdExitFirmware) commandMarker() {}
func (CmdExitFirmware) String() string { return "CmdExitFirmware()" }
