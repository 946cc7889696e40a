package led

import (
	"fmt"
	"sync"
	"time"
)

// Recorder is a Renderer test double that records every call.
type Recorder struct {
	mu    sync.Mutex
	calls []string
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// On records an "on" call.
func (r *Recorder) On() { r.record("on") }

// Off records an "off" call.
func (r *Recorder) Off() { r.record("off") }

// Blink records a "blink(on/off)" call.
func (r *Recorder) Blink(on, off time.Duration) {
	r.record(fmt.Sprintf("blink(%dms/%dms)", on.Milliseconds(), off.Milliseconds()))
}

func (r *Recorder) record(call string) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// Last returns the most recent call, or "" if none.
func (r *Recorder) Last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return ""
	}
	return r.calls[len(r.calls)-1]
}
