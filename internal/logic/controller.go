package logic

import "time"

// Options configures a Controller.
type Options struct {
	StandbyTimeout time.Duration
	// ApproachWindow is the length of the ENTERING_STANDBY window before the
	// deadline. Zero means the whole standby timeout.
	ApproachWindow time.Duration
	Blink          BlinkRates
	// LongPressTogglesFirmware makes a long press of the mode control enter and
	// leave firmware mode at runtime instead of dropping the current peer.
	LongPressTogglesFirmware bool
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		StandbyTimeout: DefaultStandbyTimeout,
		Blink:          DefaultBlinkRates(),
	}
}

// linkState is what the controller last asked of the audio link.
type linkState int

const (
	linkUnknown linkState = iota
	linkUp
	linkPaused
	linkDown
)

// Output is everything the daemon loop needs to actuate after a tick.
type Output struct {
	Snapshot Snapshot
	Mode     PowerMode
	Relay    RelayState
	// WriteRelay is false while firmware mode is active; the relay must not be touched.
	WriteRelay bool
	Patterns   Patterns
	Commands   []Command
	Remaining  time.Duration
	// Transition is set when Mode differs from the previous tick.
	Transition *Transition
}

// Controller owns the mode flags, connection state and standby deadline, and
// turns events and ticks into commands. It performs no I/O and is not safe for
// concurrent use; events from other goroutines must reach it through a queue.
type Controller struct {
	opts       Options
	flags      Flags
	connection ConnectionState
	deadline   Deadline
	link       linkState
	mode       PowerMode
	patterns   Patterns
	counts     Counts
	pending    []Command
}

// NewController creates a controller with the given initial flags. The standby
// deadline starts at now+StandbyTimeout.
func NewController(opts Options, initial Flags, now time.Time) *Controller {
	if opts.StandbyTimeout <= 0 {
		opts.StandbyTimeout = DefaultStandbyTimeout
	}
	if opts.Blink.Fast <= 0 {
		opts.Blink.Fast = DefaultFastBlink
	}
	if opts.Blink.Medium <= 0 {
		opts.Blink.Medium = DefaultMediumBlink
	}
	return &Controller{
		opts:       opts,
		flags:      initial,
		connection: Disconnected,
		deadline:   NewDeadline(opts.StandbyTimeout, opts.ApproachWindow, now),
	}
}

// Apply folds one event into the controller state. Commands that the event
// requires are queued and returned by the next Tick.
func (c *Controller) Apply(ev Event) {
	switch e := ev.(type) {
	case GestureEvent:
		c.route(e)
	case LinkConnected:
		c.connection = Connected
	case LinkDisconnected:
		c.connection = Disconnected
	case LinkData:
		c.deadline.KeepAlive(e.At)
	}
}

// ObserveConnection overwrites the connection state with a direct reading
// from the link. It repairs the state when a connect or disconnect event was lost.
func (c *Controller) ObserveConnection(state ConnectionState) {
	if state == Connected {
		c.connection = Connected
		return
	}
	c.connection = Disconnected
}

// EnterFirmware marks firmware mode active. Used for the boot-time entry,
// which happens before the first tick.
func (c *Controller) EnterFirmware() {
	c.flags.FirmwareActive = true
}

// Tick evaluates the state machine once. Order: snapshot inputs, decide,
// relay, link commands, LED patterns.
func (c *Controller) Tick(now time.Time) Output {
	snap := Snapshot{
		Flags:      c.flags,
		Connection: c.connection,
		Liveness:   c.deadline.Classify(now),
	}
	cmds := c.pending
	c.pending = nil

	if c.flags.FirmwareActive {
		c.patterns = c.opts.Blink.Patterns(c.mode, c.connection, true)
		return Output{
			Snapshot:  snap,
			Mode:      c.mode,
			Relay:     RelayOpen,
			Patterns:  c.patterns,
			Commands:  cmds,
			Remaining: c.deadline.Remaining(now),
		}
	}

	d := Decide(snap)

	switch {
	case d.Mode == ModeOff:
		if c.link != linkDown {
			cmds = append(cmds, CmdLinkEnd{})
			c.link = linkDown
		}
	case d.Mode == ModeBypass:
		if c.link == linkUp || c.link == linkUnknown {
			cmds = append(cmds, CmdLinkPause{})
			c.link = linkPaused
		}
	case isWireless(d.Mode):
		if c.link != linkUp {
			cmds = append(cmds, CmdLinkStart{})
			c.link = linkUp
		}
	}

	var tr *Transition
	if d.Mode != c.mode {
		tr = &Transition{At: now, From: c.mode, To: d.Mode, Connection: c.connection, Relay: d.Relay}
		c.counts.add(d.Mode)
	}
	c.mode = d.Mode
	c.patterns = c.opts.Blink.Patterns(d.Mode, c.connection, false)

	return Output{
		Snapshot:   snap,
		Mode:       d.Mode,
		Relay:      d.Relay,
		WriteRelay: true,
		Patterns:   c.patterns,
		Commands:   cmds,
		Remaining:  c.deadline.Remaining(now),
		Transition: tr,
	}
}

// Mode returns the mode computed by the last tick. It is empty before the first tick.
func (c *Controller) Mode() PowerMode { return c.mode }

// Flags returns the current mode flags.
func (c *Controller) Flags() Flags { return c.flags }

// Connection returns the current connection state.
func (c *Controller) Connection() ConnectionState { return c.connection }

// Deadline returns a copy of the standby deadline.
func (c *Controller) Deadline() Deadline { return c.deadline }

// CountsSnapshot returns a copy of the transition counters.
func (c *Controller) CountsSnapshot() Counts { return c.counts }
