// Package led renders status patterns onto LED lines.
package led

import (
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/sweeney/yamp/internal/gpio"
	"github.com/sweeney/yamp/internal/logic"
)

// Renderer shows one pattern on one LED. Implementations schedule their own
// blink refresh and must not block the caller.
type Renderer interface {
	On()
	Off()
	Blink(on, off time.Duration)
}

// Line is a Renderer driving a gpio.Output. Blinks run on a timer goroutine.
type Line struct {
	name   string
	out    gpio.Output
	logger hclog.Logger

	mu    sync.Mutex
	gen   uint64 // bumped on every new pattern; stale timers see a mismatch and stop
	timer *time.Timer
	lit   bool
}

// NewLine creates a renderer for out. The LED starts dark.
func NewLine(name string, out gpio.Output, logger hclog.Logger) *Line {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Line{name: name, out: out, logger: logger}
}

// On lights the LED continuously.
func (l *Line) On() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked()
	l.writeLocked(true)
}

// Off turns the LED off.
func (l *Line) Off() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked()
	l.writeLocked(false)
}

// Blink starts a blink cycle beginning with the on phase.
func (l *Line) Blink(on, off time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked()
	if on <= 0 || off <= 0 {
		l.writeLocked(on > 0)
		return
	}
	l.writeLocked(true)
	l.scheduleLocked(l.gen, on, off, on)
}

// Stop cancels any running blink and turns the LED off.
func (l *Line) Stop() {
	l.Off()
}

func (l *Line) scheduleLocked(gen uint64, on, off, after time.Duration) {
	l.timer = time.AfterFunc(after, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.gen != gen {
			return
		}
		next := on
		if l.lit {
			next = off
		}
		l.writeLocked(!l.lit)
		l.scheduleLocked(gen, on, off, next)
	})
}

func (l *Line) stopLocked() {
	l.gen++
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

func (l *Line) writeLocked(on bool) {
	l.lit = on
	if err := l.out.Set(on); err != nil {
		l.logger.Warn("led write failed", "led", l.name, "error", err)
	}
}

// Applier issues patterns to renderers, one per channel. A renderer is only
// called when its channel's pattern changes, so re-issuing the same pattern
// never restarts a running blink.
type Applier struct {
	link, activity, power Renderer

	applied bool
	last    logic.Patterns
}

// NewApplier creates an Applier. A nil renderer leaves that channel unfitted.
func NewApplier(link, activity, power Renderer) *Applier {
	return &Applier{link: link, activity: activity, power: power}
}

// Apply issues every channel whose pattern differs from the last applied one.
// It returns the number of renderer calls made.
func (a *Applier) Apply(p logic.Patterns) int {
	calls := 0
	if a.issue(a.link, a.last.Link, p.Link) {
		calls++
	}
	if a.issue(a.activity, a.last.Activity, p.Activity) {
		calls++
	}
	if a.issue(a.power, a.last.Power, p.Power) {
		calls++
	}
	a.last = p
	a.applied = true
	return calls
}

// Last returns the patterns most recently applied.
func (a *Applier) Last() logic.Patterns {
	return a.last
}

func (a *Applier) issue(r Renderer, prev, next logic.LedPattern) bool {
	if r == nil {
		return false
	}
	if a.applied && prev == next {
		return false
	}
	Render(r, next)
	return true
}

// Render issues a single pattern to a renderer.
func Render(r Renderer, p logic.LedPattern) {
	switch p.Kind {
	case logic.PatternOn:
		r.On()
	case logic.PatternBlink:
		r.Blink(p.On, p.Off)
	default:
		r.Off()
	}
}
