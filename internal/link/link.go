// Package link observes and controls the wireless audio link.
package link

import (
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/sweeney/yamp/internal/logic"
)

// Handlers are the callbacks a Provider invokes. They run on the provider's
// own goroutine and must return quickly.
type Handlers struct {
	OnConnected    func()
	OnDisconnected func()
	OnData         func()
}

// Provider is the audio sink stack.
type Provider interface {
	// Start makes the sink visible under name. With autoReconnect the last
	// peer is reconnected.
	Start(name string, autoReconnect bool) error
	// Pause stops the audio stream but keeps the peer connected.
	Pause() error
	// Disconnect drops the current peer. The sink stays visible.
	Disconnect() error
	// End tears the sink down. Immediate also powers the radio off.
	End(immediate bool) error
	ConnectionState() logic.ConnectionState
	SetHandlers(h Handlers)
}

// Monitor wraps a Provider. Provider callbacks only flip an atomic mirror and
// push onto the Queue, so nothing here is shared with the control loop under a lock.
type Monitor struct {
	provider      Provider
	queue         *Queue
	name          string
	autoReconnect bool
	now           func() time.Time
	logger        hclog.Logger

	connected atomic.Bool
}

// NewMonitor registers the monitor's handlers with p.
func NewMonitor(p Provider, q *Queue, name string, autoReconnect bool, now func() time.Time, logger hclog.Logger) *Monitor {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if now == nil {
		now = time.Now
	}
	m := &Monitor{
		provider:      p,
		queue:         q,
		name:          name,
		autoReconnect: autoReconnect,
		now:           now,
		logger:        logger,
	}
	p.SetHandlers(Handlers{
		OnConnected:    m.onConnected,
		OnDisconnected: m.onDisconnected,
		OnData:         m.onData,
	})
	return m
}

func (m *Monitor) onConnected() {
	m.connected.Store(true)
	m.queue.Push(logic.LinkConnected{At: m.now()})
}

func (m *Monitor) onDisconnected() {
	m.connected.Store(false)
	m.queue.Push(logic.LinkDisconnected{At: m.now()})
}

func (m *Monitor) onData() {
	m.queue.Push(logic.LinkData{At: m.now()})
}

// ConnectionState returns the mirrored connection state.
func (m *Monitor) ConnectionState() logic.ConnectionState {
	if m.connected.Load() {
		return logic.Connected
	}
	return logic.Disconnected
}

// Reconcile reads the provider's own connection state into the mirror. It
// reports whether the mirror was stale, which means an event was lost.
func (m *Monitor) Reconcile() (logic.ConnectionState, bool) {
	state := m.provider.ConnectionState()
	was := m.connected.Swap(state == logic.Connected)
	stale := was != (state == logic.Connected)
	if stale {
		m.logger.Debug("connection state repaired", "state", state)
	}
	return state, stale
}

// Start starts the sink under the configured name.
func (m *Monitor) Start() error {
	return m.provider.Start(m.name, m.autoReconnect)
}

// Pause pauses the audio stream.
func (m *Monitor) Pause() error {
	return m.provider.Pause()
}

// Disconnect drops the current peer.
func (m *Monitor) Disconnect() error {
	return m.provider.Disconnect()
}

// End tears the sink down.
func (m *Monitor) End(immediate bool) error {
	return m.provider.End(immediate)
}

// Execute runs a link command. It reports false for commands that are not
// link commands.
func (m *Monitor) Execute(cmd logic.Command) (bool, error) {
	switch c := cmd.(type) {
	case logic.CmdLinkStart:
		return true, m.Start()
	case logic.CmdLinkPause:
		return true, m.Pause()
	case logic.CmdLinkDisconnect:
		return true, m.Disconnect()
	case logic.CmdLinkEnd:
		return true, m.End(c.Immediate)
	}
	return false, nil
}
