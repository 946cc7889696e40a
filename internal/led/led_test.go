package led

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/yamp/internal/gpio"
	"github.com/sweeney/yamp/internal/logic"
)

func TestApplierReissueMakesNoExtraCalls(t *testing.T) {
	link, act, pwr := NewRecorder(), NewRecorder(), NewRecorder()
	a := NewApplier(link, act, pwr)

	medium := logic.Blink(500*time.Millisecond, 500*time.Millisecond)
	p := logic.Patterns{Link: medium, Activity: logic.Dark(), Power: medium}

	assert.Equal(t, 3, a.Apply(p), "first apply issues every channel")
	for i := 0; i < 10; i++ {
		assert.Equal(t, 0, a.Apply(p))
	}

	assert.Equal(t, []string{"blink(500ms/500ms)"}, link.Calls())
	assert.Equal(t, []string{"off"}, act.Calls())
	assert.Equal(t, []string{"blink(500ms/500ms)"}, pwr.Calls())
	assert.Equal(t, p, a.Last())
}

func TestApplierOnlyIssuesChangedChannels(t *testing.T) {
	link, act, pwr := NewRecorder(), NewRecorder(), NewRecorder()
	a := NewApplier(link, act, pwr)
	medium := logic.Blink(500*time.Millisecond, 500*time.Millisecond)

	a.Apply(logic.Patterns{Link: logic.Solid(), Activity: medium, Power: medium})
	calls := a.Apply(logic.Patterns{Link: logic.Solid(), Activity: logic.Solid(), Power: logic.Solid()})

	assert.Equal(t, 2, calls)
	assert.Equal(t, []string{"on"}, link.Calls())
	assert.Equal(t, []string{"blink(500ms/500ms)", "on"}, act.Calls())
	assert.Equal(t, []string{"blink(500ms/500ms)", "on"}, pwr.Calls())
}

func TestApplierSkipsUnfittedChannels(t *testing.T) {
	link := NewRecorder()
	a := NewApplier(link, nil, nil)

	assert.Equal(t, 1, a.Apply(logic.Patterns{Link: logic.Solid(), Activity: logic.Solid(), Power: logic.Solid()}))
}

func TestRender(t *testing.T) {
	r := NewRecorder()
	Render(r, logic.Solid())
	Render(r, logic.Dark())
	Render(r, logic.Blink(100*time.Millisecond, 200*time.Millisecond))
	Render(r, logic.LedPattern{})

	assert.Equal(t, []string{"on", "off", "blink(100ms/200ms)", "off"}, r.Calls())
}

func TestLineSolidAndOff(t *testing.T) {
	out := gpio.NewFakeOutput()
	l := NewLine("power", out, nil)

	l.On()
	l.Off()
	assert.Equal(t, []bool{true, false}, out.Writes())
}

func TestLineBlinkToggles(t *testing.T) {
	out := gpio.NewFakeOutput()
	l := NewLine("link", out, nil)

	l.Blink(5*time.Millisecond, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(out.Writes()) >= 4 }, time.Second, time.Millisecond)
	l.Stop()

	w := out.Writes()
	assert.True(t, w[0], "blink starts in the on phase")
	assert.False(t, w[1])
	assert.True(t, w[2])

	// no writes after Stop
	n := len(out.Writes())
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, out.Writes(), n)
	last, _ := out.Last()
	assert.False(t, last)
}

func TestLineNewPatternCancelsBlink(t *testing.T) {
	out := gpio.NewFakeOutput()
	l := NewLine("activity", out, nil)

	l.Blink(5*time.Millisecond, 5*time.Millisecond)
	l.On()
	n := len(out.Writes())
	time.Sleep(30 * time.Millisecond)

	assert.Len(t, out.Writes(), n)
	last, _ := out.Last()
	assert.True(t, last)
}
