// Package firmware implements the remote update mode. While it is active the
// amplifier is left alone: the station joins Wi-Fi, the device announces
// itself over mDNS and an update transport waits for a new image.
package firmware

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Defaults.
const (
	DefaultRetries         = 3
	DefaultRetryDelay      = 2 * time.Second
	DefaultRestartDelay    = 5 * time.Second
	DefaultEndRestartDelay = 3 * time.Second
	DefaultHandleInterval  = 100 * time.Millisecond
)

// ErrAssociation is returned by Enter when the Wi-Fi station could not join.
var ErrAssociation = errors.New("wifi association failed")

// Station is the Wi-Fi client interface.
type Station interface {
	Associate(ctx context.Context) error
	Address() (net.IP, error)
	Disconnect() error
}

// Announcer publishes the device's discovery name.
type Announcer interface {
	Announce(hostname string, ip net.IP) error
	Close() error
}

// Transport receives update images. Callbacks are only invoked from Handle,
// on the caller's goroutine.
type Transport interface {
	Begin(hostname string, cb Callbacks) error
	Handle()
	Close() error
}

// Restarter restarts the device.
type Restarter interface {
	Restart(reason string) error
}

// Session identifies one update upload.
type Session struct {
	ID    string
	Total int64 // bytes expected, 0 if unknown
}

// Callbacks report update progress.
type Callbacks struct {
	OnStart    func(s Session)
	OnProgress func(s Session, written int64)
	OnError    func(s Session, err error)
	OnEnd      func(s Session)
}

// Config configures a Controller.
type Config struct {
	Hostname        string
	Retries         int
	RetryDelay      time.Duration
	RestartDelay    time.Duration // wait before restarting after association failure
	EndRestartDelay time.Duration // wait before restarting after a successful update
}

// Phase is where the controller is in its lifecycle.
type Phase string

const (
	PhaseIdle     Phase = "IDLE"
	PhaseJoining  Phase = "JOINING"
	PhaseReady    Phase = "READY"
	PhaseUpdating Phase = "UPDATING"
	PhaseRestart  Phase = "RESTART_PENDING"
	PhaseFailed   Phase = "FAILED"
)

// State is a point-in-time view of firmware mode.
type State struct {
	Phase     Phase  `json:"phase"`
	Address   string `json:"address,omitempty"`
	Session   string `json:"session,omitempty"`
	Written   int64  `json:"written"`
	Total     int64  `json:"total"`
	LastError string `json:"last_error,omitempty"`
}

// Controller runs firmware mode.
type Controller struct {
	cfg       Config
	station   Station
	announcer Announcer
	transport Transport
	restarter Restarter
	logger    hclog.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error

	active    bool
	restartAt time.Time

	mu    sync.RWMutex
	state State
}

// NewController creates a firmware mode controller. A nil announcer disables mDNS.
func NewController(cfg Config, st Station, an Announcer, tr Transport, rs Restarter, logger hclog.Logger) *Controller {
	if cfg.Retries <= 0 {
		cfg.Retries = DefaultRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}
	if cfg.EndRestartDelay <= 0 {
		cfg.EndRestartDelay = DefaultEndRestartDelay
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Controller{
		cfg:       cfg,
		station:   st,
		announcer: an,
		transport: tr,
		restarter: rs,
		logger:    logger,
		now:       time.Now,
		sleep:     sleepCtx,
		state:     State{Phase: PhaseIdle},
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Enter joins Wi-Fi, announces the hostname and starts the update transport.
// If the station cannot join after the configured retries the device is
// restarted after RestartDelay and ErrAssociation is returned.
func (c *Controller) Enter(ctx context.Context) error {
	c.setPhase(PhaseJoining)

	var err error
	for attempt := 1; attempt <= c.cfg.Retries; attempt++ {
		if err = c.station.Associate(ctx); err == nil {
			break
		}
		c.logger.Warn("wifi association failed", "attempt", attempt, "of", c.cfg.Retries, "error", err)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt < c.cfg.Retries {
			if serr := c.sleep(ctx, c.cfg.RetryDelay); serr != nil {
				return serr
			}
		}
	}
	if err != nil {
		c.fail(err)
		c.logger.Error("giving up on wifi, restarting", "delay", c.cfg.RestartDelay)
		if serr := c.sleep(ctx, c.cfg.RestartDelay); serr != nil {
			return serr
		}
		if rerr := c.restarter.Restart("wifi association failed"); rerr != nil {
			return fmt.Errorf("%w: restart: %v", ErrAssociation, rerr)
		}
		return fmt.Errorf("%w: %v", ErrAssociation, err)
	}

	ip, err := c.station.Address()
	if err != nil {
		c.fail(err)
		return fmt.Errorf("read station address: %w", err)
	}
	c.mu.Lock()
	c.state.Address = ip.String()
	c.mu.Unlock()

	if c.announcer != nil {
		if err := c.announcer.Announce(c.cfg.Hostname, ip); err != nil {
			// not fatal: the transport is still reachable by address
			c.logger.Error("mdns announce failed", "hostname", c.cfg.Hostname, "error", err)
		}
	}

	if err := c.transport.Begin(c.cfg.Hostname, Callbacks{
		OnStart:    c.onStart,
		OnProgress: c.onProgress,
		OnError:    c.onError,
		OnEnd:      c.onEnd,
	}); err != nil {
		c.fail(err)
		return fmt.Errorf("begin update transport: %w", err)
	}

	c.active = true
	c.setPhase(PhaseReady)
	c.logger.Info("firmware mode ready", "hostname", c.cfg.Hostname, "address", ip.String())
	return nil
}

// Tick services the update transport. It is called on every handle interval.
func (c *Controller) Tick() {
	if !c.active {
		return
	}
	c.transport.Handle()
	if !c.restartAt.IsZero() && !c.now().Before(c.restartAt) {
		c.restartAt = time.Time{}
		c.logger.Info("restarting after update")
		if err := c.restarter.Restart("firmware updated"); err != nil {
			c.logger.Error("restart failed", "error", err)
		}
	}
}

// Exit stops the transport, withdraws the mDNS name and leaves Wi-Fi.
func (c *Controller) Exit() error {
	if !c.active {
		return nil
	}
	c.active = false
	c.restartAt = time.Time{}

	var errs []error
	if err := c.transport.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close transport: %w", err))
	}
	if c.announcer != nil {
		if err := c.announcer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close mdns: %w", err))
		}
	}
	if err := c.station.Disconnect(); err != nil {
		errs = append(errs, fmt.Errorf("disconnect wifi: %w", err))
	}
	c.setPhase(PhaseIdle)
	c.logger.Info("firmware mode exited")
	return errors.Join(errs...)
}

// Active reports whether Enter succeeded and Exit has not been called.
func (c *Controller) Active() bool { return c.active }

// State returns a copy of the current firmware mode state. Safe for concurrent use.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) onStart(s Session) {
	c.logger.Info("update started", "session", s.ID, "size", s.Total)
	c.mu.Lock()
	c.state.Phase = PhaseUpdating
	c.state.Session = s.ID
	c.state.Written = 0
	c.state.Total = s.Total
	c.state.LastError = ""
	c.mu.Unlock()
}

func (c *Controller) onProgress(s Session, written int64) {
	if s.Total > 0 {
		c.logger.Debug("update progress", "session", s.ID, "percent", written*100/s.Total)
	}
	c.mu.Lock()
	c.state.Written = written
	c.mu.Unlock()
}

func (c *Controller) onError(s Session, err error) {
	c.logger.Error("update failed", "session", s.ID, "error", err)
	c.mu.Lock()
	c.state.Phase = PhaseReady
	c.state.LastError = err.Error()
	c.mu.Unlock()
}

func (c *Controller) onEnd(s Session) {
	c.logger.Info("update complete, restarting", "session", s.ID, "delay", c.cfg.EndRestartDelay)
	c.restartAt = c.now().Add(c.cfg.EndRestartDelay)
	c.setPhase(PhaseRestart)
}

func (c *Controller) fail(err error) {
	c.mu.Lock()
	c.state.Phase = PhaseFailed
	c.state.LastError = err.Error()
	c.mu.Unlock()
}

func (c *Controller) setPhase(p Phase) {
	c.mu.Lock()
	c.state.Phase = p
	c.mu.Unlock()
}
