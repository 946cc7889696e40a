package link

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/yamp/internal/logic"
)

const (
	phone     = dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")
	transport = dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF/sep1/fd0")
)

type counters struct {
	connected, disconnected, data atomic.Int32
}

func newTestBlueZ(t *testing.T) (*BlueZ, *counters) {
	t.Helper()
	b := newBlueZ(nil, BlueZConfig{DataInterval: 5 * time.Millisecond}, nil)
	c := &counters{}
	b.SetHandlers(Handlers{
		OnConnected:    func() { c.connected.Add(1) },
		OnDisconnected: func() { c.disconnected.Add(1) },
		OnData:         func() { c.data.Add(1) },
	})
	t.Cleanup(b.shutdown)
	return b, c
}

func changed(path dbus.ObjectPath, iface string, props map[string]dbus.Variant) *dbus.Signal {
	return &dbus.Signal{
		Path: path,
		Name: propertiesChanged,
		Body: []any{iface, props, []string{}},
	}
}

func connectedSignal(on bool) *dbus.Signal {
	return changed(phone, deviceIface, map[string]dbus.Variant{"Connected": dbus.MakeVariant(on)})
}

func transportSignal(state string) *dbus.Signal {
	return changed(transport, transportIface, map[string]dbus.Variant{"State": dbus.MakeVariant(state)})
}

// busRecorder stands in for the system bus. Calls wait on gate when it is set.
type busRecorder struct {
	gate chan struct{}
	objs managedObjects

	mu    sync.Mutex
	calls []string
}

func (r *busRecorder) call(ctx context.Context, path dbus.ObjectPath, method string, args ...any) error {
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	name := method + " " + string(path)
	if method == propertiesIface+".Set" {
		name = "Set " + args[1].(string)
	}
	r.mu.Lock()
	r.calls = append(r.calls, name)
	r.mu.Unlock()
	return nil
}

func (r *busRecorder) objects(context.Context) (managedObjects, error) {
	return r.objs, nil
}

func (r *busRecorder) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestBlueZDefaults(t *testing.T) {
	b := newBlueZ(nil, BlueZConfig{}, nil)
	t.Cleanup(b.shutdown)
	assert.Equal(t, dbus.ObjectPath("/org/bluez/hci0"), b.adapterPath)
	assert.Equal(t, DefaultDataInterval, b.cfg.DataInterval)
}

func TestBlueZConnectDisconnect(t *testing.T) {
	b, c := newTestBlueZ(t)

	b.handleSignal(connectedSignal(true))
	b.handleSignal(connectedSignal(true))
	assert.Equal(t, logic.Connected, b.ConnectionState())
	assert.Equal(t, int32(1), c.connected.Load(), "repeated connected signal fires once")

	b.handleSignal(connectedSignal(false))
	assert.Equal(t, logic.Disconnected, b.ConnectionState())
	assert.Equal(t, int32(1), c.disconnected.Load())
	assert.Equal(t, phone, b.lastPeer, "last peer is remembered for reconnect")
}

func TestBlueZIgnoresOtherDeviceDisconnect(t *testing.T) {
	b, c := newTestBlueZ(t)
	b.handleSignal(connectedSignal(true))

	other := changed("/org/bluez/hci0/dev_11_22_33_44_55_66", deviceIface,
		map[string]dbus.Variant{"Connected": dbus.MakeVariant(false)})
	b.handleSignal(other)

	assert.Equal(t, logic.Connected, b.ConnectionState())
	assert.Zero(t, c.disconnected.Load())
}

func TestBlueZIgnoresUnrelatedSignals(t *testing.T) {
	b, c := newTestBlueZ(t)

	b.handleSignal(nil)
	b.handleSignal(&dbus.Signal{Name: "org.bluez.Other", Body: []any{deviceIface}})
	b.handleSignal(changed(phone, deviceIface, map[string]dbus.Variant{"RSSI": dbus.MakeVariant(int16(-40))}))
	b.handleSignal(changed(phone, deviceIface, map[string]dbus.Variant{"Connected": dbus.MakeVariant("yes")}))

	assert.Equal(t, logic.Disconnected, b.ConnectionState())
	assert.Zero(t, c.connected.Load())
}

func TestBlueZActiveTransportRaisesData(t *testing.T) {
	b, c := newTestBlueZ(t)
	b.handleSignal(connectedSignal(true))

	b.handleSignal(transportSignal("active"))
	require.Eventually(t, func() bool { return c.data.Load() >= 3 }, time.Second, time.Millisecond)

	b.handleSignal(transportSignal("idle"))
	time.Sleep(10 * time.Millisecond) // let an in-flight tick land
	n := c.data.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, c.data.Load(), "no data after transport goes idle")
}

func TestBlueZDisconnectStopsData(t *testing.T) {
	b, c := newTestBlueZ(t)
	b.handleSignal(connectedSignal(true))
	b.handleSignal(transportSignal("active"))
	require.Eventually(t, func() bool { return c.data.Load() >= 1 }, time.Second, time.Millisecond)

	b.handleSignal(connectedSignal(false))
	time.Sleep(10 * time.Millisecond)
	n := c.data.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, c.data.Load())
}

func TestBlueZApplyObjects(t *testing.T) {
	b, c := newTestBlueZ(t)

	objs := map[dbus.ObjectPath]map[string]map[string]dbus.Variant{
		"/org/bluez/hci0": {adapterIface: {"Alias": dbus.MakeVariant("Yamp")}},
		phone:             {deviceIface: {"Connected": dbus.MakeVariant(true)}},
		"/org/bluez/hci1/dev_11_22_33_44_55_66": {
			deviceIface: {"Connected": dbus.MakeVariant(true)},
		},
		transport: {transportIface: {"State": dbus.MakeVariant("active")}},
	}
	require.NoError(t, b.applyObjects(objs))

	assert.Equal(t, logic.Connected, b.ConnectionState())
	assert.Equal(t, phone, b.device)
	assert.Zero(t, c.connected.Load(), "initial state raises no connect event")
	require.Eventually(t, func() bool { return c.data.Load() >= 1 }, time.Second, time.Millisecond)
}

func TestBlueZApplyObjectsMissingAdapter(t *testing.T) {
	b, _ := newTestBlueZ(t)
	err := b.applyObjects(map[dbus.ObjectPath]map[string]map[string]dbus.Variant{})
	assert.ErrorContains(t, err, "hci0")
}

func TestBlueZWorksWithMonitor(t *testing.T) {
	b := newBlueZ(nil, BlueZConfig{DataInterval: time.Hour}, nil)
	t.Cleanup(b.shutdown)
	q := NewQueue(8, nil)
	m := NewMonitor(b, q, "Yamp", false, fixedNow, nil)

	b.handleSignal(connectedSignal(true))
	b.handleSignal(transportSignal("active"))
	require.Eventually(t, func() bool { return q.Len() >= 2 }, time.Second, time.Millisecond)

	assert.Equal(t, logic.Connected, m.ConnectionState())
	assert.Equal(t, []logic.Event{logic.LinkConnected{At: epoch}, logic.LinkData{At: epoch}}, q.Drain())
}

func TestBlueZEndReturnsBeforeTheBus(t *testing.T) {
	b, _ := newTestBlueZ(t)
	bus := &busRecorder{gate: make(chan struct{})}
	b.call = bus.call
	b.handleSignal(connectedSignal(true))

	returned := make(chan error, 1)
	go func() { returned <- b.End(true) }()
	select {
	case err := <-returned:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("End waited for the bus")
	}
	assert.Empty(t, bus.recorded())

	close(bus.gate)
	want := []string{
		"Set Discoverable",
		"Set Pairable",
		deviceIface + ".Disconnect " + string(phone),
		"Set Powered",
	}
	require.Eventually(t, func() bool { return len(bus.recorded()) == len(want) }, time.Second, time.Millisecond)
	assert.Equal(t, want, bus.recorded())
}

func TestBlueZStartAndEndRunInOrder(t *testing.T) {
	b, _ := newTestBlueZ(t)
	bus := &busRecorder{objs: managedObjects{"/org/bluez/hci0": {adapterIface: {}}}}
	b.call, b.objects = bus.call, bus.objects

	require.NoError(t, b.End(false))
	require.NoError(t, b.Start("Yamp", false))

	want := []string{
		"Set Discoverable", "Set Pairable",
		"Set Alias", "Set Powered", "Set DiscoverableTimeout", "Set Discoverable", "Set Pairable",
	}
	require.Eventually(t, func() bool { return len(bus.recorded()) == len(want) }, time.Second, time.Millisecond)
	assert.Equal(t, want, bus.recorded())
}

func TestBlueZStartResumesDataFromStreamingTransport(t *testing.T) {
	b, c := newTestBlueZ(t)
	bus := &busRecorder{objs: managedObjects{
		"/org/bluez/hci0": {adapterIface: {}},
		phone:             {deviceIface: {"Connected": dbus.MakeVariant(true)}},
		transport:         {transportIface: {"State": dbus.MakeVariant("active")}},
	}}
	b.call, b.objects = bus.call, bus.objects
	b.handleSignal(connectedSignal(true))
	b.handleSignal(transportSignal("active"))
	require.Eventually(t, func() bool { return c.data.Load() >= 1 }, time.Second, time.Millisecond)

	// The peer stays connected and keeps streaming across End.
	require.NoError(t, b.End(false))
	time.Sleep(10 * time.Millisecond)
	n := c.data.Load()
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, n, c.data.Load(), "End stops data")

	require.NoError(t, b.Start("Yamp", false))
	require.Eventually(t, func() bool { return c.data.Load() > n }, time.Second, time.Millisecond)
	assert.Equal(t, logic.Connected, b.ConnectionState())
}
