package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/sweeney/yamp/internal/button"
	"github.com/sweeney/yamp/internal/firmware"
	"github.com/sweeney/yamp/internal/gpio"
	"github.com/sweeney/yamp/internal/led"
	"github.com/sweeney/yamp/internal/link"
	"github.com/sweeney/yamp/internal/logic"
	"github.com/sweeney/yamp/internal/mqtt"
	"github.com/sweeney/yamp/internal/status"
)

// Reasons reported with the FIRMWARE system event.
const (
	reasonBootGesture = "BOOT_GESTURE"
	reasonLongPress   = "LONG_PRESS"
	reasonExit        = "EXIT"
)

// firmwareMode is the part of firmware.Controller the loop drives.
type firmwareMode interface {
	Enter(ctx context.Context) error
	Tick()
	Exit() error
	Active() bool
	State() firmware.State
}

// daemon owns everything the control loop touches. Only runLoop's goroutine
// uses it after boot.
type daemon struct {
	reader     gpio.Reader
	detectors  []*button.Detector // mode, power, input
	queue      *link.Queue
	monitor    *link.Monitor
	relay      gpio.Output
	leds       *led.Applier
	firmware   firmwareMode
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	logger     hclog.Logger
	now        func() time.Time

	// handleInterval paces firmware.Tick while firmware mode runs.
	handleInterval time.Duration

	ctrl       *logic.Controller
	relayState logic.RelayState
	relaySet   bool // false until the first successful relay write, and after a failed one
	lastHandle time.Time
}

func newDetectors(cfg button.Config) []*button.Detector {
	return []*button.Detector{
		button.NewDetector(logic.ControlMode, cfg),
		button.NewDetector(logic.ControlPower, cfg),
		button.NewDetector(logic.ControlInput, cfg),
	}
}

// boot samples the controls once, creates the controller and, when the mode
// control is held, enters firmware mode before the first tick.
func (d *daemon) boot(ctx context.Context, opts logic.Options) error {
	now := d.now()
	lv, err := d.reader.Read()
	if err != nil {
		return fmt.Errorf("read controls: %w", err)
	}
	d.ctrl = logic.NewController(opts, logic.Flags{PowerOn: lv.Power, InputWireless: lv.Input}, now)
	d.logger.Info("boot", "power", lv.Power, "input_wireless", lv.Input, "mode_held", lv.Mode)
	// A switch that settles elsewhere than this read is corrected by the
	// detector's first edge.
	for i, level := range []bool{lv.Mode, lv.Power, lv.Input} {
		d.detectors[i].Assume(level)
	}

	if lv.Mode {
		d.logger.Info("mode control held at boot, entering firmware mode")
		d.ctrl.EnterFirmware()
		d.enterFirmware(ctx, reasonBootGesture)
	}
	return nil
}

// runLoop runs until a signal arrives or ctx is cancelled. The tick and signal
// channels are injected so tests can drive it.
func (d *daemon) runLoop(ctx context.Context, tick <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case <-ctx.Done():
			d.shutdown("CONTEXT")
			return nil

		case s := <-sig:
			d.logger.Info("received signal, shutting down", "signal", s)
			d.shutdown(signalName(s))
			return nil

		case <-tick:
			d.tick(ctx)
		}
	}
}

// tick runs one pass in the fixed order: drain link events, sample controls,
// reconcile the connection, evaluate, write the relay, run commands, apply
// LEDs, publish telemetry.
func (d *daemon) tick(ctx context.Context) {
	now := d.now()

	for _, ev := range d.queue.Drain() {
		d.ctrl.Apply(ev)
	}
	d.sampleControls(now)

	if d.monitor != nil {
		state, _ := d.monitor.Reconcile()
		d.ctrl.ObserveConnection(state)
	}

	out := d.ctrl.Tick(now)

	if out.WriteRelay {
		d.writeRelay(out.Relay)
	}
	for _, cmd := range out.Commands {
		d.execute(ctx, cmd)
	}

	if d.leds != nil {
		d.leds.Apply(out.Patterns)
	}

	if d.firmware.Active() && now.Sub(d.lastHandle) >= d.handleInterval {
		d.lastHandle = now
		d.firmware.Tick()
	}

	d.report(out)
}

func (d *daemon) sampleControls(now time.Time) {
	lv, err := d.reader.Read()
	if err != nil {
		// The relay is still recomputed from the last known flags.
		d.logger.Warn("gpio read error", "error", err)
		return
	}
	levels := []bool{lv.Mode, lv.Power, lv.Input}
	for i, det := range d.detectors {
		for _, g := range det.Process(levels[i], now) {
			d.logger.Debug("gesture", "control", g.Control, "gesture", g.Gesture)
			d.ctrl.Apply(g)
		}
	}
}

// writeRelay drives the relay when the commanded state changed or the last write failed.
func (d *daemon) writeRelay(state logic.RelayState) {
	if d.relaySet && d.relayState == state {
		return
	}
	if err := d.relay.Set(bool(state)); err != nil {
		d.logger.Error("relay write failed", "state", state, "error", err)
		d.relaySet = false
		return
	}
	d.relayState = state
	d.relaySet = true
}

func (d *daemon) execute(ctx context.Context, cmd logic.Command) {
	switch c := cmd.(type) {
	case logic.CmdRelay:
		// The firmware entry path needs the relay open even though the tick
		// no longer writes it.
		d.writeRelay(logic.RelayState(c.Closed))

	case logic.CmdEnterFirmware:
		d.enterFirmware(ctx, reasonLongPress)

	case logic.CmdExitFirmware:
		if err := d.firmware.Exit(); err != nil {
			d.logger.Error("firmware exit", "error", err)
		}
		d.tracker.SetFirmware(nil)
		d.publishSystem(mqtt.EventFirmware, reasonExit)

	default:
		if d.monitor == nil {
			return
		}
		handled, err := d.monitor.Execute(cmd)
		if !handled {
			d.logger.Warn("unknown command", "command", cmd)
			return
		}
		if err != nil {
			// Link commands are not retried; the next state change issues a new one.
			d.logger.Warn("link command failed", "command", cmd, "error", err)
		}
	}
}

// enterFirmware brings up the firmware transport. Association failure restarts
// the device from inside Enter; any other failure leaves the amplifier idle in
// firmware mode with the error visible on the status page.
func (d *daemon) enterFirmware(ctx context.Context, reason string) {
	d.publishSystem(mqtt.EventFirmware, reason)
	if err := d.firmware.Enter(ctx); err != nil {
		if errors.Is(err, firmware.ErrAssociation) {
			d.logger.Error("firmware mode: wifi unavailable", "error", err)
		} else {
			d.logger.Error("firmware mode failed", "error", err)
		}
	}
	st := d.firmware.State()
	d.tracker.SetFirmware(&st)
	d.lastHandle = time.Time{}
}

func (d *daemon) report(out logic.Output) {
	if tr := out.Transition; tr != nil {
		d.logger.Info("mode", "from", tr.From, "to", tr.To, "connection", tr.Connection, "relay", tr.Relay)
		if err := d.publisher.PublishTransition(*tr); err != nil {
			d.logger.Warn("publish transition", "error", err)
		}
	}

	d.tracker.Update(out, d.ctrl.CountsSnapshot())
	d.tracker.SetLinkDropped(d.queue.Dropped())
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
	if d.firmware.Active() {
		st := d.firmware.State()
		d.tracker.SetFirmware(&st)
	}
}

// publishSystem sends a lifecycle event carrying a full status snapshot.
func (d *daemon) publishSystem(event, reason string) {
	snap := d.tracker.Snapshot()
	ev := mqtt.SystemEvent{
		Timestamp:  d.now(),
		Event:      event,
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	}
	if err := d.publisher.PublishSystem(ev); err != nil {
		d.logger.Warn("publish system event", "event", event, "error", err)
	}
}

// shutdown leaves the amplifier in standby and reports why.
func (d *daemon) shutdown(reason string) {
	if d.ctrl.Flags().FirmwareActive {
		if err := d.firmware.Exit(); err != nil {
			d.logger.Warn("firmware exit", "error", err)
		}
	} else {
		d.writeRelay(logic.RelayOpen)
		if d.monitor != nil {
			if err := d.monitor.End(false); err != nil {
				d.logger.Warn("end audio link", "error", err)
			}
		}
	}
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
	d.publishSystem(mqtt.EventShutdown, reason)
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}
