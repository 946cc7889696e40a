// Package gpio provides control inputs and actuator outputs with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Levels is one sample of the control inputs in logical form (true = pressed / on).
type Levels struct {
	Mode  bool // mode push button
	Power bool // power switch; true = on
	Input bool // input selector; true = routed to the wireless receiver
}

// Reader reads the control inputs.
type Reader interface {
	// Read returns the logical levels of all controls.
	// Controls that are not fitted report a fixed level (see RealReader).
	Read() (Levels, error)

	// Close releases GPIO resources.
	Close() error
}

// Output drives a single binary actuator line (relay or LED).
type Output interface {
	// Set drives the line to its logical on (true) or off (false) level.
	Set(on bool) error

	// Close releases the line, leaving it logically off.
	Close() error
}

// NotFitted marks a pin that is not wired.
const NotFitted = -1

// Pin definitions (BCM numbering)
const (
	DefaultPinRelay       = 23
	DefaultPinLedLink     = 19
	DefaultPinLedActivity = 18
	DefaultPinLedPower    = 13
	DefaultPinMode        = 17
	DefaultPinPower       = 27
	DefaultPinInput       = 22
)

// InputPins selects the lines of the three controls.
type InputPins struct {
	Mode  int
	Power int
	Input int
}

// Discard is an Output for lines that are not fitted.
type Discard struct{}

// Set does nothing.
func (Discard) Set(bool) error { return nil }

// Close does nothing.
func (Discard) Close() error { return nil }
