package button

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/yamp/internal/logic"
)

const poll = 20 * time.Millisecond

var start = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// sampler feeds a detector one sample per poll period and collects gestures.
type sampler struct {
	d   *Detector
	now time.Time
	got []logic.GestureEvent
}

func newSampler(t *testing.T, cfg Config, initial bool) *sampler {
	t.Helper()
	s := &sampler{d: NewDetector(logic.ControlMode, cfg), now: start}
	s.hold(initial, 5)
	require.True(t, s.d.IsBaselined(), "detector should baseline within 5 samples")
	require.Empty(t, s.got, "no gestures during baseline")
	return s
}

func (s *sampler) hold(level bool, n int) {
	for i := 0; i < n; i++ {
		s.got = append(s.got, s.d.Process(level, s.now)...)
		s.now = s.now.Add(poll)
	}
}

func (s *sampler) gestures() []logic.Gesture {
	out := make([]logic.Gesture, len(s.got))
	for i, e := range s.got {
		out[i] = e.Gesture
	}
	return out
}

func TestBaselineEmitsNothing(t *testing.T) {
	s := newSampler(t, DefaultConfig(), true)
	assert.True(t, s.d.Level())

	s.hold(true, 10)
	assert.Empty(t, s.got)
}

func TestBaselineRestartsOnChange(t *testing.T) {
	d := NewDetector(logic.ControlPower, Config{Debounce: 40 * time.Millisecond})

	d.Process(true, start)
	d.Process(false, start.Add(20*time.Millisecond))
	d.Process(false, start.Add(40*time.Millisecond))
	assert.False(t, d.IsBaselined(), "timer restarts on level change")

	d.Process(false, start.Add(60*time.Millisecond))
	assert.True(t, d.IsBaselined())
	assert.False(t, d.Level())
}

func TestPushAndRelease(t *testing.T) {
	s := newSampler(t, Config{Debounce: 40 * time.Millisecond, LongPress: 0, DoubleClick: 0}, false)

	s.hold(true, 4)
	s.hold(false, 4)

	assert.Equal(t, []logic.Gesture{logic.Pushed, logic.Released, logic.SingleClick}, s.gestures())
	for _, e := range s.got {
		assert.Equal(t, logic.ControlMode, e.Control)
	}
}

func TestBounceIsRejected(t *testing.T) {
	s := newSampler(t, DefaultConfig(), false)

	// 20 ms glitches never satisfy a 40 ms debounce
	for i := 0; i < 10; i++ {
		s.hold(true, 1)
		s.hold(false, 1)
	}
	assert.Empty(t, s.got)
	assert.False(t, s.d.Level())
}

func TestSingleClickWaitsForDoubleClickWindow(t *testing.T) {
	s := newSampler(t, DefaultConfig(), false)

	s.hold(true, 5)
	s.hold(false, 5)
	assert.Equal(t, []logic.Gesture{logic.Pushed, logic.Released}, s.gestures())

	s.hold(false, int(DefaultDoubleClick/poll)+1)
	assert.Equal(t, []logic.Gesture{logic.Pushed, logic.Released, logic.SingleClick}, s.gestures())
}

func TestDoubleClick(t *testing.T) {
	s := newSampler(t, DefaultConfig(), false)

	s.hold(true, 4)
	s.hold(false, 4)
	s.hold(true, 4)
	s.hold(false, 30)

	assert.Equal(t, []logic.Gesture{
		logic.Pushed, logic.Released,
		logic.Pushed, logic.Released, logic.DoubleClick,
	}, s.gestures())
}

func TestLongPressFiresOnceAndSuppressesClick(t *testing.T) {
	s := newSampler(t, DefaultConfig(), false)

	s.hold(true, int(DefaultLongPress/poll)+20)
	s.hold(false, 40)

	assert.Equal(t, []logic.Gesture{logic.Pushed, logic.LongPress, logic.Released}, s.gestures())
}

func TestLongPressTiming(t *testing.T) {
	s := newSampler(t, Config{Debounce: 40 * time.Millisecond, LongPress: time.Second}, false)

	s.hold(true, 3) // pushed accepted on the third sample
	require.Equal(t, []logic.Gesture{logic.Pushed}, s.gestures())
	pushedAt := s.got[0].At

	s.hold(true, 60)
	require.Len(t, s.got, 2)
	assert.Equal(t, logic.LongPress, s.got[1].Gesture)
	assert.Equal(t, time.Second, s.got[1].At.Sub(pushedAt))
}

func TestZeroDebounceAcceptsImmediately(t *testing.T) {
	s := newSampler(t, Config{}, false)

	s.hold(true, 1)
	assert.Equal(t, []logic.Gesture{logic.Pushed}, s.gestures())
}

func TestPressHeldAtBaselineIsNotAGesture(t *testing.T) {
	s := newSampler(t, DefaultConfig(), true)

	s.hold(true, int(DefaultLongPress/poll)+20)
	assert.Empty(t, s.got, "no LONG_PRESS for a press held since boot")

	s.hold(false, 40)
	assert.Equal(t, []logic.Gesture{logic.Released}, s.gestures())
}

func TestAssumedLevelCorrectedAtBaseline(t *testing.T) {
	d := NewDetector(logic.ControlPower, DefaultConfig())
	d.Assume(false)

	var got []logic.GestureEvent
	now := start
	for i := 0; i < 5; i++ {
		got = append(got, d.Process(true, now)...)
		now = now.Add(poll)
	}
	require.Len(t, got, 1)
	assert.Equal(t, logic.ControlPower, got[0].Control)
	assert.Equal(t, logic.Pushed, got[0].Gesture)
	assert.Equal(t, start.Add(2*poll), got[0].At)

	// The settled level is held since boot: no LONG_PRESS follows.
	for i := 0; i < 100; i++ {
		assert.Empty(t, d.Process(true, now))
		now = now.Add(poll)
	}
}

func TestAssumedLevelReleased(t *testing.T) {
	d := NewDetector(logic.ControlInput, DefaultConfig())
	d.Assume(true)

	var got []logic.Gesture
	for i := 0; i < 5; i++ {
		for _, e := range d.Process(false, start.Add(time.Duration(i)*poll)) {
			got = append(got, e.Gesture)
		}
	}
	assert.Equal(t, []logic.Gesture{logic.Released}, got)
}

func TestAssumedLevelMatchingBaselineEmitsNothing(t *testing.T) {
	d := NewDetector(logic.ControlPower, DefaultConfig())
	d.Assume(true)

	for i := 0; i < 5; i++ {
		assert.Empty(t, d.Process(true, start.Add(time.Duration(i)*poll)))
	}
	assert.True(t, d.IsBaselined())
}
