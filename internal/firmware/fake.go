package firmware

import (
	"context"
	"net"
	"sync"
)

// FakeStation is a Station for tests. AssociateErrs is consumed one entry per
// attempt; attempts beyond it succeed.
type FakeStation struct {
	mu            sync.Mutex
	AssociateErrs []error
	IP            net.IP
	AddrErr       error
	DisconnectErr error
	Attempts      int
	Disconnects   int
}

func (s *FakeStation) Associate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Attempts++
	if len(s.AssociateErrs) == 0 {
		return nil
	}
	err := s.AssociateErrs[0]
	s.AssociateErrs = s.AssociateErrs[1:]
	return err
}

func (s *FakeStation) Address() (net.IP, error) {
	if s.AddrErr != nil {
		return nil, s.AddrErr
	}
	return s.IP, nil
}

func (s *FakeStation) Disconnect() error {
	s.mu.Lock()
	s.Disconnects++
	s.mu.Unlock()
	return s.DisconnectErr
}

// FakeAnnouncer is an Announcer for tests.
type FakeAnnouncer struct {
	Err      error
	Hostname string
	IP       net.IP
	Closed   bool
}

func (a *FakeAnnouncer) Announce(hostname string, ip net.IP) error {
	a.Hostname, a.IP = hostname, ip
	return a.Err
}

func (a *FakeAnnouncer) Close() error {
	a.Closed = true
	return nil
}

// FakeTransport is a Transport for tests. Queued callbacks run on the next Handle.
type FakeTransport struct {
	BeginErr error
	Hostname string
	Handles  int
	Closed   bool

	cb      Callbacks
	pending []func(Callbacks)
}

func (t *FakeTransport) Begin(hostname string, cb Callbacks) error {
	if t.BeginErr != nil {
		return t.BeginErr
	}
	t.Hostname = hostname
	t.cb = cb
	return nil
}

func (t *FakeTransport) Handle() {
	t.Handles++
	pending := t.pending
	t.pending = nil
	for _, fn := range pending {
		fn(t.cb)
	}
}

func (t *FakeTransport) Close() error {
	t.Closed = true
	return nil
}

// Queue schedules fn to run with the callbacks on the next Handle.
func (t *FakeTransport) Queue(fn func(Callbacks)) {
	t.pending = append(t.pending, fn)
}

// FakeRestarter records restart requests.
type FakeRestarter struct {
	mu      sync.Mutex
	Err     error
	reasons []string
}

func (r *FakeRestarter) Restart(reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
	return r.Err
}

// Reasons returns the recorded restart reasons.
func (r *FakeRestarter) Reasons() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.reasons...)
}
