package link

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/hashicorp/go-hclog"

	"github.com/sweeney/yamp/internal/logic"
)

const (
	bluezService       = "org.bluez"
	adapterIface       = "org.bluez.Adapter1"
	deviceIface        = "org.bluez.Device1"
	transportIface     = "org.bluez.MediaTransport1"
	controlIface       = "org.bluez.MediaControl1"
	propertiesIface    = "org.freedesktop.DBus.Properties"
	objectManagerIface = "org.freedesktop.DBus.ObjectManager"

	propertiesChanged = propertiesIface + ".PropertiesChanged"
	transportActive   = "active"
)

// DefaultDataInterval is how often data events are raised while a transport streams.
const DefaultDataInterval = 500 * time.Millisecond

const (
	callTimeout = 5 * time.Second
	workQueue   = 8
)

type managedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// BlueZConfig configures the BlueZ provider.
type BlueZConfig struct {
	Adapter      string // e.g. "hci0"
	DataInterval time.Duration
}

// BlueZ is a Provider backed by the BlueZ daemon on the D-Bus system bus.
// BlueZ does not report individual audio packets; data events are raised at
// DataInterval for as long as a media transport is active.
//
// Start and End return at once. Their bus calls run in order on a worker
// goroutine and failures are logged there.
type BlueZ struct {
	conn        *dbus.Conn
	cfg         BlueZConfig
	adapterPath dbus.ObjectPath
	logger      hclog.Logger

	call    func(ctx context.Context, path dbus.ObjectPath, method string, args ...any) error
	objects func(ctx context.Context) (managedObjects, error)
	jobs    chan job

	mu       sync.Mutex
	handlers Handlers
	device   dbus.ObjectPath // connected peer, "" if none
	lastPeer dbus.ObjectPath
	stopPump chan struct{}

	connected atomic.Bool
	signals   chan *dbus.Signal
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewBlueZ connects to the system bus, reads the current device state and
// starts watching for property changes under the adapter.
func NewBlueZ(cfg BlueZConfig, logger hclog.Logger) (*BlueZ, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	b := newBlueZ(conn, cfg, logger)

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(propertiesIface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchPathNamespace(b.adapterPath),
	); err != nil {
		b.shutdown()
		conn.Close()
		return nil, fmt.Errorf("watch bluez properties: %w", err)
	}
	conn.Signal(b.signals)

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	err = b.scan(ctx)
	cancel()
	if err != nil {
		b.shutdown()
		conn.RemoveSignal(b.signals)
		conn.Close()
		return nil, err
	}

	b.wg.Add(1)
	go b.watch()
	return b, nil
}

type job struct {
	name string
	run  func(ctx context.Context) error
}

func newBlueZ(conn *dbus.Conn, cfg BlueZConfig, logger hclog.Logger) *BlueZ {
	if cfg.Adapter == "" {
		cfg.Adapter = "hci0"
	}
	if cfg.DataInterval <= 0 {
		cfg.DataInterval = DefaultDataInterval
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	b := &BlueZ{
		conn:        conn,
		cfg:         cfg,
		adapterPath: dbus.ObjectPath("/org/bluez/" + cfg.Adapter),
		logger:      logger,
		jobs:        make(chan job, workQueue),
		signals:     make(chan *dbus.Signal, 32),
		done:        make(chan struct{}),
	}
	b.call = b.busCall
	b.objects = b.busObjects
	b.wg.Add(1)
	go b.work()
	return b
}

// SetHandlers registers the callbacks.
func (b *BlueZ) SetHandlers(h Handlers) {
	b.mu.Lock()
	b.handlers = h
	b.mu.Unlock()
}

// ConnectionState reports whether a peer is connected.
func (b *BlueZ) ConnectionState() logic.ConnectionState {
	if b.connected.Load() {
		return logic.Connected
	}
	return logic.Disconnected
}

// Start names the adapter, powers it and makes it discoverable and pairable.
func (b *BlueZ) Start(name string, autoReconnect bool) error {
	b.enqueue("start", func(ctx context.Context) error {
		return b.start(ctx, name, autoReconnect)
	})
	return nil
}

func (b *BlueZ) start(ctx context.Context, name string, autoReconnect bool) error {
	props := []struct {
		name  string
		value any
	}{
		{"Alias", name},
		{"Powered", true},
		{"DiscoverableTimeout", uint32(0)},
		{"Discoverable", true},
		{"Pairable", true},
	}
	for _, p := range props {
		if err := b.setAdapter(ctx, p.name, p.value); err != nil {
			return err
		}
	}

	// End stopped the data pump; a transport that kept streaming restarts it.
	if err := b.scan(ctx); err != nil {
		return err
	}

	if !autoReconnect {
		return nil
	}
	b.mu.Lock()
	peer := b.lastPeer
	b.mu.Unlock()
	if peer != "" && !b.connected.Load() {
		b.async(peer, deviceIface+".Connect")
	}
	return nil
}

// Pause asks the connected peer to pause playback.
func (b *BlueZ) Pause() error {
	b.mu.Lock()
	dev := b.device
	b.mu.Unlock()
	if dev == "" {
		return nil
	}
	b.async(dev, controlIface+".Pause")
	return nil
}

// Disconnect drops the connected peer.
func (b *BlueZ) Disconnect() error {
	b.mu.Lock()
	dev := b.device
	b.mu.Unlock()
	if dev == "" {
		return nil
	}
	b.async(dev, deviceIface+".Disconnect")
	return nil
}

// End hides the adapter and drops the peer. Immediate also powers the adapter off.
// Data events stop before End returns.
func (b *BlueZ) End(immediate bool) error {
	b.mu.Lock()
	dev := b.device
	b.stopPumpLocked()
	b.mu.Unlock()

	b.enqueue("end", func(ctx context.Context) error {
		return b.end(ctx, dev, immediate)
	})
	return nil
}

func (b *BlueZ) end(ctx context.Context, dev dbus.ObjectPath, immediate bool) error {
	var errs []error
	if err := b.setAdapter(ctx, "Discoverable", false); err != nil {
		errs = append(errs, err)
	}
	if err := b.setAdapter(ctx, "Pairable", false); err != nil {
		errs = append(errs, err)
	}
	if dev != "" {
		if err := b.call(ctx, dev, deviceIface+".Disconnect"); err != nil {
			errs = append(errs, fmt.Errorf("disconnect %s: %w", dev, err))
		}
	}
	if immediate {
		if err := b.setAdapter(ctx, "Powered", false); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close stops watching and closes the bus connection.
func (b *BlueZ) Close() error {
	b.shutdown()
	if b.conn == nil {
		return nil
	}
	b.conn.RemoveSignal(b.signals)
	if err := b.conn.Close(); err != nil {
		return fmt.Errorf("close system bus: %w", err)
	}
	return nil
}

func (b *BlueZ) shutdown() {
	b.closeOnce.Do(func() {
		close(b.done)
		b.mu.Lock()
		b.stopPumpLocked()
		b.mu.Unlock()
	})
	b.wg.Wait()
}

// enqueue hands a job to the worker. A full queue drops the job.
func (b *BlueZ) enqueue(name string, run func(ctx context.Context) error) {
	select {
	case b.jobs <- job{name: name, run: run}:
	default:
		b.logger.Warn("bluez work queue full, dropping", "job", name)
	}
}

func (b *BlueZ) work() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case j := <-b.jobs:
			ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
			if err := j.run(ctx); err != nil {
				b.logger.Warn("bluez "+j.name+" failed", "error", err)
			}
			cancel()
		}
	}
}

func (b *BlueZ) watch() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case sig, ok := <-b.signals:
			if !ok {
				return
			}
			b.handleSignal(sig)
		}
	}
}

func (b *BlueZ) handleSignal(sig *dbus.Signal) {
	if sig == nil || sig.Name != propertiesChanged || len(sig.Body) < 2 {
		return
	}
	iface, ok := sig.Body[0].(string)
	if !ok {
		return
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}

	switch iface {
	case deviceIface:
		if v, ok := changed["Connected"]; ok {
			if on, ok := v.Value().(bool); ok {
				b.setConnected(sig.Path, on)
			}
		}
	case transportIface:
		if v, ok := changed["State"]; ok {
			if state, ok := v.Value().(string); ok {
				b.setTransport(sig.Path, state)
			}
		}
	}
}

func (b *BlueZ) setConnected(path dbus.ObjectPath, on bool) {
	b.mu.Lock()
	if on {
		b.device = path
		b.lastPeer = path
		already := b.connected.Swap(true)
		h := b.handlers.OnConnected
		b.mu.Unlock()
		b.logger.Info("peer connected", "device", path)
		if !already && h != nil {
			h()
		}
		return
	}

	if path != b.device {
		b.mu.Unlock()
		return
	}
	b.device = ""
	b.stopPumpLocked()
	was := b.connected.Swap(false)
	h := b.handlers.OnDisconnected
	b.mu.Unlock()
	b.logger.Info("peer disconnected", "device", path)
	if was && h != nil {
		h()
	}
}

func (b *BlueZ) setTransport(path dbus.ObjectPath, state string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.device != "" && !strings.HasPrefix(string(path), string(b.device)+"/") {
		return
	}
	active := state == transportActive
	switch {
	case active && b.stopPump == nil:
		b.logger.Debug("transport streaming", "transport", path)
		b.startPumpLocked()
	case !active && b.stopPump != nil:
		b.logger.Debug("transport stopped", "transport", path, "state", state)
		b.stopPumpLocked()
	}
}

func (b *BlueZ) startPumpLocked() {
	stop := make(chan struct{})
	b.stopPump = stop
	b.wg.Add(1)
	go b.pump(stop)
}

func (b *BlueZ) stopPumpLocked() {
	if b.stopPump != nil {
		close(b.stopPump)
		b.stopPump = nil
	}
}

func (b *BlueZ) pump(stop <-chan struct{}) {
	defer b.wg.Done()
	b.emitData()
	t := time.NewTicker(b.cfg.DataInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-b.done:
			return
		case <-t.C:
			b.emitData()
		}
	}
}

func (b *BlueZ) emitData() {
	b.mu.Lock()
	h := b.handlers.OnData
	b.mu.Unlock()
	if h != nil {
		h()
	}
}

// scan reads the current adapter, device and transport state.
func (b *BlueZ) scan(ctx context.Context) error {
	objs, err := b.objects(ctx)
	if err != nil {
		return fmt.Errorf("list bluez objects: %w", err)
	}
	return b.applyObjects(objs)
}

func (b *BlueZ) applyObjects(objs managedObjects) error {
	if _, ok := objs[b.adapterPath][adapterIface]; !ok {
		return fmt.Errorf("bluetooth adapter %s not found", b.cfg.Adapter)
	}

	prefix := string(b.adapterPath) + "/"
	for path, ifaces := range objs {
		if !strings.HasPrefix(string(path), prefix) {
			continue
		}
		if dev, ok := ifaces[deviceIface]; ok {
			if on, _ := dev["Connected"].Value().(bool); on {
				b.mu.Lock()
				b.device = path
				b.lastPeer = path
				b.mu.Unlock()
				b.connected.Store(true)
			}
		}
	}
	for path, ifaces := range objs {
		if tr, ok := ifaces[transportIface]; ok && strings.HasPrefix(string(path), prefix) {
			if state, _ := tr["State"].Value().(string); state != "" {
				b.setTransport(path, state)
			}
		}
	}
	return nil
}

// async issues a method call without holding up the caller. Failures are logged.
func (b *BlueZ) async(path dbus.ObjectPath, method string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		if err := b.call(ctx, path, method); err != nil {
			b.logger.Warn("bluez call failed", "method", method, "device", path, "error", err)
		}
	}()
}

func (b *BlueZ) setAdapter(ctx context.Context, name string, value any) error {
	if err := b.call(ctx, b.adapterPath, propertiesIface+".Set", adapterIface, name, dbus.MakeVariant(value)); err != nil {
		return fmt.Errorf("set %s.%s: %w", adapterIface, name, err)
	}
	return nil
}

func (b *BlueZ) busCall(ctx context.Context, path dbus.ObjectPath, method string, args ...any) error {
	return b.conn.Object(bluezService, path).CallWithContext(ctx, method, 0, args...).Err
}

func (b *BlueZ) busObjects(ctx context.Context) (managedObjects, error) {
	var objs managedObjects
	err := b.conn.Object(bluezService, "/").CallWithContext(ctx, objectManagerIface+".GetManagedObjects", 0).Store(&objs)
	return objs, err
}
