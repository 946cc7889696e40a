//go:build linux

package gpio

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// RealReader reads the controls from actual hardware using the Linux GPIO character device.
// The controls switch to ground, so lines are requested active-low with pull-ups.
type RealReader struct {
	chip  *gpiocdev.Chip
	mode  *gpiocdev.Line
	power *gpiocdev.Line
	input *gpiocdev.Line
}

// NewRealReader requests the input lines on the named chip. A pin of NotFitted
// leaves that control unwired: mode then reads as released, power and input
// read as on. A non-zero debounce enables kernel debouncing on the lines.
func NewRealReader(chipName string, pins InputPins, debounce time.Duration) (*RealReader, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	opts := []gpiocdev.LineReqOption{gpiocdev.AsInput, gpiocdev.AsActiveLow, gpiocdev.WithPullUp}
	if debounce > 0 {
		opts = append(opts, gpiocdev.WithDebounce(debounce))
	}

	r := &RealReader{chip: chip}
	request := func(name string, pin int) (*gpiocdev.Line, error) {
		if pin == NotFitted {
			return nil, nil
		}
		l, err := chip.RequestLine(pin, opts...)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("request %s pin %d: %w", name, pin, err)
		}
		return l, nil
	}

	if r.mode, err = request("mode", pins.Mode); err != nil {
		return nil, err
	}
	if r.power, err = request("power", pins.Power); err != nil {
		return nil, err
	}
	if r.input, err = request("input", pins.Input); err != nil {
		return nil, err
	}
	return r, nil
}

// Read returns the logical levels of the controls.
func (r *RealReader) Read() (Levels, error) {
	mode, err := readLine(r.mode, false)
	if err != nil {
		return Levels{}, fmt.Errorf("read mode pin: %w", err)
	}
	power, err := readLine(r.power, true)
	if err != nil {
		return Levels{}, fmt.Errorf("read power pin: %w", err)
	}
	input, err := readLine(r.input, true)
	if err != nil {
		return Levels{}, fmt.Errorf("read input pin: %w", err)
	}
	return Levels{Mode: mode, Power: power, Input: input}, nil
}

func readLine(l *gpiocdev.Line, unfitted bool) (bool, error) {
	if l == nil {
		return unfitted, nil
	}
	v, err := l.Value()
	if err != nil {
		return false, err
	}
	return v == 1, nil
}

// Close releases GPIO resources.
func (r *RealReader) Close() error {
	var errs []error
	for _, l := range []*gpiocdev.Line{r.mode, r.power, r.input} {
		if l == nil {
			continue
		}
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close line: %w", err))
		}
	}
	r.mode, r.power, r.input = nil, nil, nil
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		r.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// RealOutput drives one output line.
type RealOutput struct {
	name string
	line *gpiocdev.Line
}

// NewRealOutput requests pin as an output, initially logically off.
// activeLow inverts the physical level (e.g. relay modules that close on LOW).
func NewRealOutput(chipName, name string, pin int, activeLow bool) (*RealOutput, error) {
	opts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(0), gpiocdev.WithConsumer("yamp-" + name)}
	if activeLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	line, err := gpiocdev.RequestLine(chipName, pin, opts...)
	if err != nil {
		return nil, fmt.Errorf("request %s pin %d: %w", name, pin, err)
	}
	return &RealOutput{name: name, line: line}, nil
}

// Set drives the line to its logical level.
func (o *RealOutput) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := o.line.SetValue(v); err != nil {
		return fmt.Errorf("set %s: %w", o.name, err)
	}
	return nil
}

// Close drives the line off and releases it.
func (o *RealOutput) Close() error {
	if o.line == nil {
		return nil
	}
	var errs []error
	if err := o.line.SetValue(0); err != nil {
		errs = append(errs, fmt.Errorf("reset %s: %w", o.name, err))
	}
	if err := o.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s: %w", o.name, err))
	}
	o.line = nil

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
