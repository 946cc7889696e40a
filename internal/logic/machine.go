package logic

// Decision is the outcome of one evaluation of the power state machine.
type Decision struct {
	Mode  PowerMode
	Relay RelayState
}

// Decide maps a snapshot to a mode and relay position. It is total: every
// combination of inputs has a defined outcome, and anything it does not
// recognise (unknown connection or liveness values) ends in STANDBY with the
// relay open.
//
// Evaluation order:
//  1. power off              -> OFF, relay open
//  2. input not wireless     -> BYPASS, relay closed (pass-through)
//  3. connected and alive    -> ON, relay closed
//     connected, approaching -> ENTERING_STANDBY, relay closed
//     anything else          -> STANDBY, relay open
func Decide(s Snapshot) Decision {
	if !s.Flags.PowerOn {
		return Decision{Mode: ModeOff, Relay: RelayOpen}
	}
	if !s.Flags.InputWireless {
		return Decision{Mode: ModeBypass, Relay: RelayClosed}
	}
	if s.Connection == Connected {
		switch s.Liveness {
		case Alive:
			return Decision{Mode: ModeOn, Relay: RelayClosed}
		case Approaching:
			return Decision{Mode: ModeEnteringStandby, Relay: RelayClosed}
		}
	}
	return Decision{Mode: ModeStandby, Relay: RelayOpen}
}

// IsStandby reports whether m is one of the standby modes a manual wake applies to.
func IsStandby(m PowerMode) bool {
	return m == ModeStandby || m == ModeEnteringStandby
}

// isWireless reports whether m belongs to the wireless branch of Decide.
func isWireless(m PowerMode) bool {
	return m == ModeOn || m == ModeEnteringStandby || m == ModeStandby
}
