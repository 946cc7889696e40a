package web

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/yamp/internal/firmware"
	"github.com/sweeney/yamp/internal/logic"
	"github.com/sweeney/yamp/internal/status"
)

func newTracker() *status.Tracker {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return status.NewTracker(start, status.Config{
		DeviceName:       "Yamp",
		PollMs:           20,
		StandbyTimeoutMs: 10000,
		Adapter:          "hci0",
		Broker:           "tcp://192.168.1.200:1883",
		HTTPAddr:         ":80",
	})
}

func newTestServer(t *testing.T) (*httptest.Server, *Server, *status.Tracker) {
	t.Helper()
	tr := newTracker()
	srv := New(":0", tr, hclog.NewNullLogger())
	srv.pushInterval = 10 * time.Millisecond
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.closeOnce.Do(func() { close(srv.done) })
		ts.Close()
		srv.wg.Wait()
	})
	return ts, srv, tr
}

func onOutput() logic.Output {
	return logic.Output{
		Snapshot: logic.Snapshot{
			Flags:      logic.Flags{PowerOn: true, InputWireless: true},
			Connection: logic.Connected,
		},
		Mode:      logic.ModeOn,
		Relay:     logic.RelayClosed,
		Patterns:  logic.Patterns{Link: logic.Solid(), Activity: logic.Solid(), Power: logic.Solid()},
		Remaining: 9 * time.Second,
	}
}

func getJSON(t *testing.T, url string) status.StatusJSON {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var sj status.StatusJSON
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sj))
	return sj
}

func TestJSONEndpoint(t *testing.T) {
	ts, _, tr := newTestServer(t)
	tr.Update(onOutput(), logic.Counts{On: 5, Standby: 2})
	tr.SetMQTTConnected(true)

	sj := getJSON(t, ts.URL+"/index.json")
	assert.Equal(t, "ON", sj.Status.Mode)
	assert.Equal(t, "CLOSED", sj.Status.Relay)
	assert.Equal(t, "CONNECTED", sj.Status.Connection)
	assert.True(t, sj.Status.MQTT.Connected)
	assert.Equal(t, "tcp://192.168.1.200:1883", sj.Status.MQTT.Broker)
	assert.Equal(t, 5, sj.Status.Counts.On)
	assert.Equal(t, 2, sj.Status.Counts.Standby)
	assert.Equal(t, int64(20), sj.Status.Config.PollMs)
	assert.Equal(t, "hci0", sj.Status.Config.Adapter)
}

func TestJSONUnknownBeforeFirstTick(t *testing.T) {
	ts, _, _ := newTestServer(t)

	sj := getJSON(t, ts.URL+"/index.json")
	assert.Equal(t, "UNKNOWN", sj.Status.Mode)
	assert.Equal(t, "DISCONNECTED", sj.Status.Connection)
}

func TestJSONFirmwareState(t *testing.T) {
	ts, _, tr := newTestServer(t)
	tr.SetFirmware(&firmware.State{Phase: firmware.PhaseReady, Address: "192.168.4.10"})

	sj := getJSON(t, ts.URL+"/index.json")
	require.NotNil(t, sj.Status.Firmware)
	assert.Equal(t, "192.168.4.10", sj.Status.Firmware.Address)
	assert.True(t, sj.Status.Flags.FirmwareActive)
}

func TestHTMLEndpoint(t *testing.T) {
	ts, _, tr := newTestServer(t)
	tr.Update(onOutput(), logic.Counts{})
	tr.SetFirmware(&firmware.State{Phase: firmware.PhaseUpdating, Written: 10, Total: 20, LastError: "boom"})

	for _, path := range []string{"/", "/index.html"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html"), path)
		assert.Contains(t, string(body), "<title>Yamp</title>")
		assert.Contains(t, string(body), `id="mode">ON<`)
		assert.Contains(t, string(body), `class="on">CLOSED<`)
		assert.Contains(t, string(body), "UPDATING")
		assert.Contains(t, string(body), "10 / 20")
	}
}

func TestHTMLBeforeFirstTick(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Contains(t, string(body), `id="mode">UNKNOWN<`)
	assert.Contains(t, string(body), `id="led-link">UNKNOWN<`)
	assert.NotContains(t, string(body), "Firmware Mode")
}

func TestNotFoundForUnknownPath(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/nonexistent")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStateChangesReflectedInResponse(t *testing.T) {
	ts, _, tr := newTestServer(t)
	assert.Equal(t, "UNKNOWN", getJSON(t, ts.URL+"/index.json").Status.Mode)

	out := onOutput()
	out.Mode = logic.ModeStandby
	out.Relay = logic.RelayOpen
	tr.Update(out, logic.Counts{Standby: 1})

	sj := getJSON(t, ts.URL+"/index.json")
	assert.Equal(t, "STANDBY", sj.Status.Mode)
	assert.Equal(t, "OPEN", sj.Status.Relay)
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readStatus(t *testing.T, conn *websocket.Conn) status.StatusInner {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var sj status.StatusJSON
	require.NoError(t, json.Unmarshal(data, &sj))
	return sj.Status
}

func TestWebsocketSendsInitialSnapshot(t *testing.T) {
	ts, _, tr := newTestServer(t)
	tr.Update(onOutput(), logic.Counts{})

	conn := dialWS(t, ts)
	s := readStatus(t, conn)
	assert.Equal(t, "ON", s.Mode)
	assert.Empty(t, s.Event)
}

func TestWebsocketPushesChanges(t *testing.T) {
	ts, _, tr := newTestServer(t)
	tr.Update(onOutput(), logic.Counts{})

	conn := dialWS(t, ts)
	assert.Equal(t, "ON", readStatus(t, conn).Mode)

	out := onOutput()
	out.Mode = logic.ModeEnteringStandby
	out.Transition = &logic.Transition{From: logic.ModeOn, To: logic.ModeEnteringStandby}
	tr.Update(out, logic.Counts{EnteringStandby: 1})

	s := readStatus(t, conn)
	assert.Equal(t, "ENTERING_STANDBY", s.Mode)
	require.NotNil(t, s.LastTransition)
	assert.Equal(t, "ON", s.LastTransition.From)
}

func TestShutdownClosesWebsocket(t *testing.T) {
	tr := newTracker()
	srv := New("127.0.0.1:0", tr, nil)
	srv.pushInterval = 10 * time.Millisecond

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws", nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()
	readStatus(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.ErrorIs(t, <-served, http.ErrServerClosed)

	// Drain until the close frame arrives.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err = conn.ReadMessage()
		if err != nil {
			break
		}
	}
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}
