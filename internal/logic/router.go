package logic

// route turns a gesture into flag changes and commands. It never blocks.
func (c *Controller) route(e GestureEvent) {
	if c.flags.FirmwareActive {
		if c.opts.LongPressTogglesFirmware && e.Control == ControlMode && e.Gesture == LongPress {
			c.flags.FirmwareActive = false
			c.pending = append(c.pending, CmdExitFirmware{})
		}
		return
	}

	switch e.Control {
	case ControlPower:
		switch e.Gesture {
		case Pushed:
			c.powerOn()
		case Released:
			c.powerOff()
		}

	case ControlMode:
		switch e.Gesture {
		case SingleClick:
			if c.flags.PowerOn && IsStandby(c.mode) {
				c.deadline.KeepAlive(e.At)
			}
		case LongPress:
			if c.opts.LongPressTogglesFirmware {
				c.enterFirmware()
				return
			}
			c.pending = append(c.pending, CmdLinkDisconnect{})
		}

	case ControlInput:
		if e.Gesture == Pushed || e.Gesture == Released {
			c.flags.InputWireless = !c.flags.InputWireless
		}
	}
}

func (c *Controller) powerOn() {
	c.flags.PowerOn = true
	c.pending = append(c.pending, CmdLinkStart{})
	c.link = linkUp
}

func (c *Controller) powerOff() {
	c.flags.PowerOn = false
	c.pending = append(c.pending, CmdRelay{Closed: false})
	if c.link != linkDown {
		c.pending = append(c.pending, CmdLinkEnd{})
		c.link = linkDown
	}
}

// enterFirmware leaves the amplifier safe (relay open, link ended) before the
// normal path stops running.
func (c *Controller) enterFirmware() {
	c.pending = append(c.pending, CmdRelay{Closed: false})
	if c.link != linkDown {
		c.pending = append(c.pending, CmdLinkEnd{Immediate: true})
		c.link = linkDown
	}
	c.pending = append(c.pending, CmdEnterFirmware{})
	c.flags.FirmwareActive = true
}
