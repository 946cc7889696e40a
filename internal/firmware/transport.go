package firmware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

// DefaultUpdateAddr is the update listener address. 3232 is the port
// network-update tools already expect.
const DefaultUpdateAddr = ":3232"

// ChecksumHeader optionally carries the hex SHA-256 of the uploaded image.
const ChecksumHeader = "X-Update-SHA256"

const progressStep = 64 << 10

var (
	errIncomplete = errors.New("upload incomplete")
	errChecksum   = errors.New("checksum mismatch")
)

// HTTPConfig configures the HTTP update transport.
type HTTPConfig struct {
	Addr       string
	TargetPath string      // file replaced by a successful upload
	MaxSize    int64       // 0 means unlimited
	FileMode   os.FileMode // mode of the installed image
}

type eventKind int

const (
	evStart eventKind = iota
	evProgress
	evError
	evEnd
)

type event struct {
	kind    eventKind
	session Session
	written int64
	err     error
}

// HTTPTransport accepts an image via POST /update. Uploads are received on
// the server's goroutines; their events are queued and delivered by Handle.
// Each Begin starts a fresh listening period that Close ends.
type HTTPTransport struct {
	cfg    HTTPConfig
	logger hclog.Logger
	newID  func() string

	mu       sync.Mutex
	cur      *listening
	hostname string
	cb       Callbacks
	busy     atomic.Bool
}

// listening is the state of one Begin..Close period.
type listening struct {
	server *http.Server
	ln     net.Listener
	events chan event
	closed chan struct{}
}

// NewHTTPTransport creates a transport. Nothing listens until Begin.
func NewHTTPTransport(cfg HTTPConfig, logger hclog.Logger) *HTTPTransport {
	if cfg.Addr == "" {
		cfg.Addr = DefaultUpdateAddr
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0o755
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &HTTPTransport{
		cfg:    cfg,
		logger: logger,
		newID:  uuid.NewString,
	}
}

// Begin starts listening. A transport may be begun again after Close.
func (t *HTTPTransport) Begin(hostname string, cb Callbacks) error {
	if t.cfg.TargetPath == "" {
		return errors.New("update target path not set")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cur != nil {
		return errors.New("update transport already listening")
	}
	ln, err := net.Listen("tcp", t.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", t.cfg.Addr, err)
	}
	l := &listening{
		ln:     ln,
		events: make(chan event, 32),
		closed: make(chan struct{}),
	}
	l.server = &http.Server{
		Handler:           t.handler(l),
		ReadHeaderTimeout: 10 * time.Second,
	}
	t.cur = l
	t.hostname = hostname
	t.cb = cb
	go func() {
		if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("update server stopped", "error", err)
		}
	}()
	t.logger.Info("update transport listening", "addr", ln.Addr().String(), "target", t.cfg.TargetPath)
	return nil
}

// Addr returns the listening address, or "" when not listening.
func (t *HTTPTransport) Addr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cur == nil {
		return ""
	}
	return t.cur.ln.Addr().String()
}

func (t *HTTPTransport) handler(l *listening) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", t.handleInfo)
	mux.HandleFunc("/update", func(w http.ResponseWriter, r *http.Request) {
		t.handleUpdate(l, w, r)
	})
	return mux
}

// Handle delivers queued upload events to the callbacks. It never blocks.
func (t *HTTPTransport) Handle() {
	t.mu.Lock()
	l, cb := t.cur, t.cb
	t.mu.Unlock()
	if l == nil {
		return
	}
	for {
		select {
		case ev := <-l.events:
			dispatch(cb, ev)
		default:
			return
		}
	}
}

func dispatch(cb Callbacks, ev event) {
	switch ev.kind {
	case evStart:
		if cb.OnStart != nil {
			cb.OnStart(ev.session)
		}
	case evProgress:
		if cb.OnProgress != nil {
			cb.OnProgress(ev.session, ev.written)
		}
	case evError:
		if cb.OnError != nil {
			cb.OnError(ev.session, ev.err)
		}
	case evEnd:
		if cb.OnEnd != nil {
			cb.OnEnd(ev.session)
		}
	}
}

// Close stops the server. Events not yet handled are discarded.
func (t *HTTPTransport) Close() error {
	t.mu.Lock()
	l := t.cur
	t.cur = nil
	t.mu.Unlock()
	if l == nil {
		return nil
	}
	close(l.closed)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return l.server.Shutdown(ctx)
}

func (t *HTTPTransport) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	t.mu.Lock()
	hostname := t.hostname
	t.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"hostname": hostname,
		"busy":     t.busy.Load(),
	})
}

func (t *HTTPTransport) handleUpdate(l *listening, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !t.busy.CompareAndSwap(false, true) {
		http.Error(w, "update already in progress", http.StatusConflict)
		return
	}
	defer t.busy.Store(false)

	s := Session{ID: t.newID()}
	if r.ContentLength > 0 {
		s.Total = r.ContentLength
	}
	if t.cfg.MaxSize > 0 && s.Total > t.cfg.MaxSize {
		http.Error(w, "image too large", http.StatusRequestEntityTooLarge)
		return
	}

	body := r.Body
	if t.cfg.MaxSize > 0 {
		body = http.MaxBytesReader(w, r.Body, t.cfg.MaxSize)
	}

	l.emit(event{kind: evStart, session: s})
	n, err := t.install(l, body, s, r.Header.Get(ChecksumHeader))
	if err != nil {
		l.emit(event{kind: evError, session: s, written: n, err: err})
		code := http.StatusInternalServerError
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			code = http.StatusRequestEntityTooLarge
		case errors.Is(err, errIncomplete), errors.Is(err, errChecksum):
			code = http.StatusBadRequest
		}
		http.Error(w, err.Error(), code)
		return
	}
	l.emit(event{kind: evEnd, session: s, written: n})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"session": s.ID,
		"bytes":   n,
	})
}

// install streams body into a staging file next to the target, verifies it
// and renames it over the target.
func (t *HTTPTransport) install(l *listening, body io.Reader, s Session, checksum string) (int64, error) {
	target := t.cfg.TargetPath
	f, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".staging-*")
	if err != nil {
		return 0, fmt.Errorf("create staging file: %w", err)
	}
	staged := f.Name()
	ok := false
	defer func() {
		if !ok {
			f.Close()
			os.Remove(staged)
		}
	}()

	h := sha256.New()
	pw := &progressWriter{events: l.events, session: s}
	n, err := io.Copy(io.MultiWriter(f, h, pw), body)
	if err != nil {
		return n, fmt.Errorf("receive image: %w", err)
	}
	if s.Total > 0 && n != s.Total {
		return n, fmt.Errorf("%w: got %d of %d bytes", errIncomplete, n, s.Total)
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: empty image", errIncomplete)
	}
	if checksum != "" {
		if got := hex.EncodeToString(h.Sum(nil)); !strings.EqualFold(got, checksum) {
			return n, fmt.Errorf("%w: got %s", errChecksum, got)
		}
	}

	if err := f.Sync(); err != nil {
		return n, fmt.Errorf("sync staging file: %w", err)
	}
	if err := f.Chmod(t.cfg.FileMode); err != nil {
		return n, fmt.Errorf("chmod staging file: %w", err)
	}
	if err := f.Close(); err != nil {
		return n, fmt.Errorf("close staging file: %w", err)
	}
	if err := os.Rename(staged, target); err != nil {
		os.Remove(staged)
		ok = true
		return n, fmt.Errorf("install image: %w", err)
	}
	ok = true
	l.emit(event{kind: evProgress, session: s, written: n})
	return n, nil
}

// emit queues start, end and error events. They wait for room unless the
// listening period has ended.
func (l *listening) emit(ev event) {
	select {
	case l.events <- ev:
	case <-l.closed:
	}
}

type progressWriter struct {
	events  chan<- event
	session Session
	written int64
	last    int64
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	if p.written-p.last >= progressStep {
		p.last = p.written
		// progress is lossy: drop it rather than stall the upload
		select {
		case p.events <- event{kind: evProgress, session: p.session, written: p.written}:
		default:
		}
	}
	return len(b), nil
}
