package logic

import "time"

// Default blink timings.
const (
	DefaultFastBlink   = 100 * time.Millisecond
	DefaultMediumBlink = 500 * time.Millisecond
)

// BlinkRates holds the half-periods of the two blink speeds used by the status LEDs.
type BlinkRates struct {
	Fast   time.Duration
	Medium time.Duration
}

// DefaultBlinkRates returns the default fast and medium blink timings.
func DefaultBlinkRates() BlinkRates {
	return BlinkRates{Fast: DefaultFastBlink, Medium: DefaultMediumBlink}
}

func (r BlinkRates) fast() LedPattern   { return Blink(r.Fast, r.Fast) }
func (r BlinkRates) medium() LedPattern { return Blink(r.Medium, r.Medium) }

// Patterns maps machine state to one pattern per LED channel.
//
//	condition          link          activity  power
//	firmware active    fast          fast      fast
//	OFF                off           off       off
//	BYPASS             off           off       on
//	ON                 on            on        on
//	ENTERING_STANDBY   on            medium    medium
//	STANDBY            medium / on   off       medium
//
// In STANDBY the link LED blinks while no peer is connected and is solid when a
// peer is connected but not streaming.
func (r BlinkRates) Patterns(mode PowerMode, conn ConnectionState, firmware bool) Patterns {
	if firmware {
		return Patterns{Link: r.fast(), Activity: r.fast(), Power: r.fast()}
	}
	switch mode {
	case ModeBypass:
		return Patterns{Link: Dark(), Activity: Dark(), Power: Solid()}
	case ModeOn:
		return Patterns{Link: Solid(), Activity: Solid(), Power: Solid()}
	case ModeEnteringStandby:
		return Patterns{Link: Solid(), Activity: r.medium(), Power: r.medium()}
	case ModeStandby:
		link := r.medium()
		if conn == Connected {
			link = Solid()
		}
		return Patterns{Link: link, Activity: Dark(), Power: r.medium()}
	default:
		return Patterns{Link: Dark(), Activity: Dark(), Power: Dark()}
	}
}
