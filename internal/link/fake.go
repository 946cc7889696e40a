package link

import (
	"fmt"
	"sync"

	"github.com/sweeney/yamp/internal/logic"
)

// Fake is a Provider for tests. Connect, Drop and Data simulate the peer.
type Fake struct {
	mu        sync.Mutex
	handlers  Handlers
	connected bool
	calls     []string

	// Err, when set, is returned by every control call.
	Err error
}

// NewFake creates a disconnected fake provider.
func NewFake() *Fake {
	return &Fake{}
}

// SetHandlers records the callbacks.
func (f *Fake) SetHandlers(h Handlers) {
	f.mu.Lock()
	f.handlers = h
	f.mu.Unlock()
}

// Start records the call.
func (f *Fake) Start(name string, autoReconnect bool) error {
	return f.record(fmt.Sprintf("start(%s,%t)", name, autoReconnect))
}

// Pause records the call.
func (f *Fake) Pause() error { return f.record("pause") }

// Disconnect records the call. The peer is not dropped until Drop is called.
func (f *Fake) Disconnect() error { return f.record("disconnect") }

// End records the call.
func (f *Fake) End(immediate bool) error {
	return f.record(fmt.Sprintf("end(%t)", immediate))
}

// ConnectionState returns the simulated state.
func (f *Fake) ConnectionState() logic.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected {
		return logic.Connected
	}
	return logic.Disconnected
}

// Connect simulates a peer connecting.
func (f *Fake) Connect() {
	f.mu.Lock()
	f.connected = true
	h := f.handlers.OnConnected
	f.mu.Unlock()
	if h != nil {
		h()
	}
}

// Drop simulates the peer disconnecting.
func (f *Fake) Drop() {
	f.mu.Lock()
	f.connected = false
	h := f.handlers.OnDisconnected
	f.mu.Unlock()
	if h != nil {
		h()
	}
}

// Data simulates one chunk of received audio.
func (f *Fake) Data() {
	f.mu.Lock()
	h := f.handlers.OnData
	f.mu.Unlock()
	if h != nil {
		h()
	}
}

// SetConnected changes the state without invoking any callback, as if the
// event had been lost.
func (f *Fake) SetConnected(connected bool) {
	f.mu.Lock()
	f.connected = connected
	f.mu.Unlock()
}

// Calls returns the control calls made so far.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Reset clears the recorded calls.
func (f *Fake) Reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

func (f *Fake) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.Err
}
