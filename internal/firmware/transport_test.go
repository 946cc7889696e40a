package firmware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	starts   []Session
	progress []int64
	errs     []error
	ends     []Session
}

func (r *recorded) callbacks() Callbacks {
	return Callbacks{
		OnStart:    func(s Session) { r.starts = append(r.starts, s) },
		OnProgress: func(_ Session, n int64) { r.progress = append(r.progress, n) },
		OnError:    func(_ Session, err error) { r.errs = append(r.errs, err) },
		OnEnd:      func(s Session) { r.ends = append(r.ends, s) },
	}
}

func startTransport(t *testing.T, cfg HTTPConfig) (*HTTPTransport, *recorded, string) {
	t.Helper()
	dir := t.TempDir()
	if cfg.TargetPath == "" {
		cfg.TargetPath = filepath.Join(dir, "yamp")
	}
	cfg.Addr = "127.0.0.1:0"
	tr := NewHTTPTransport(cfg, nil)
	tr.newID = func() string { return "session-1" }
	rec := &recorded{}
	require.NoError(t, tr.Begin("yamp", rec.callbacks()))
	t.Cleanup(func() { tr.Close() })
	return tr, rec, "http://" + tr.Addr()
}

func post(t *testing.T, url string, body []byte, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+"/update", bytes.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestUploadInstallsImage(t *testing.T) {
	tr, rec, url := startTransport(t, HTTPConfig{})
	image := bytes.Repeat([]byte("firmware"), 20000) // 160 kB, crosses the progress step

	resp := post(t, url, image, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "session-1", body["session"])
	assert.EqualValues(t, len(image), body["bytes"])

	got, err := os.ReadFile(tr.cfg.TargetPath)
	require.NoError(t, err)
	assert.Equal(t, image, got)
	info, err := os.Stat(tr.cfg.TargetPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	assert.Empty(t, rec.starts, "callbacks wait for Handle")
	tr.Handle()

	require.Len(t, rec.starts, 1)
	assert.Equal(t, Session{ID: "session-1", Total: int64(len(image))}, rec.starts[0])
	require.NotEmpty(t, rec.progress)
	assert.Equal(t, int64(len(image)), rec.progress[len(rec.progress)-1])
	assert.Empty(t, rec.errs)
	require.Len(t, rec.ends, 1)

	staged, _ := filepath.Glob(tr.cfg.TargetPath + ".staging-*")
	assert.Empty(t, staged)
}

func TestUploadChecksum(t *testing.T) {
	tr, rec, url := startTransport(t, HTTPConfig{})
	image := []byte("new image")
	sum := sha256.Sum256(image)

	resp := post(t, url, image, http.Header{ChecksumHeader: {strings.ToUpper(hex.EncodeToString(sum[:]))}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, os.WriteFile(tr.cfg.TargetPath, []byte("old image"), 0o755))
	resp = post(t, url, image, http.Header{ChecksumHeader: {"00"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	got, err := os.ReadFile(tr.cfg.TargetPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("old image"), got, "failed upload leaves the target alone")

	tr.Handle()
	require.Len(t, rec.errs, 1)
	assert.True(t, errors.Is(rec.errs[0], errChecksum))
	assert.Len(t, rec.ends, 1)
}

func TestUploadTooLarge(t *testing.T) {
	tr, rec, url := startTransport(t, HTTPConfig{MaxSize: 4})

	resp := post(t, url, []byte("too large"), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	tr.Handle()
	assert.Empty(t, rec.starts)
	_, err := os.Stat(tr.cfg.TargetPath)
	assert.True(t, os.IsNotExist(err))
}

func TestUploadEmpty(t *testing.T) {
	tr, rec, url := startTransport(t, HTTPConfig{})

	resp := post(t, url, nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	tr.Handle()
	require.Len(t, rec.errs, 1)
	assert.True(t, errors.Is(rec.errs[0], errIncomplete))
}

func TestUpdateRequiresPost(t *testing.T) {
	_, _, url := startTransport(t, HTTPConfig{})

	resp, err := http.Get(url + "/update")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, http.MethodPost, resp.Header.Get("Allow"))
}

func TestInfoEndpoint(t *testing.T) {
	_, _, url := startTransport(t, HTTPConfig{})

	resp, err := http.Get(url + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "yamp", body["hostname"])
	assert.Equal(t, false, body["busy"])

	resp2, err := http.Get(url + "/nope")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestBeginRequiresTarget(t *testing.T) {
	tr := NewHTTPTransport(HTTPConfig{Addr: "127.0.0.1:0"}, nil)
	assert.Error(t, tr.Begin("yamp", Callbacks{}))
}

func TestCloseIsIdempotent(t *testing.T) {
	tr, _, _ := startTransport(t, HTTPConfig{})
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
}

func TestBeginCloseRepeatedly(t *testing.T) {
	// Claim a free port, then reuse the fixed address for every period.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	target := filepath.Join(t.TempDir(), "yamp")
	tr := NewHTTPTransport(HTTPConfig{Addr: addr, TargetPath: target}, nil)
	t.Cleanup(func() { tr.Close() })
	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}

	for cycle := 1; cycle <= 3; cycle++ {
		rec := &recorded{}
		require.NoError(t, tr.Begin("yamp", rec.callbacks()), "cycle %d", cycle)
		assert.Equal(t, addr, tr.Addr())

		image := []byte(fmt.Sprintf("image %d", cycle))
		resp, err := client.Post("http://"+addr+"/update", "application/octet-stream", bytes.NewReader(image))
		require.NoError(t, err, "cycle %d", cycle)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, "cycle %d", cycle)
		tr.Handle()
		assert.Len(t, rec.starts, 1, "cycle %d", cycle)
		assert.Len(t, rec.ends, 1, "cycle %d", cycle)

		require.NoError(t, tr.Close())
		assert.Equal(t, "", tr.Addr())
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		if err == nil {
			conn.Close()
		}
		assert.Error(t, err, "cycle %d: still listening after Close", cycle)
	}
}

func TestBeginTwiceFails(t *testing.T) {
	tr, _, _ := startTransport(t, HTTPConfig{})
	assert.Error(t, tr.Begin("yamp", Callbacks{}))
}

func TestConcurrentUploadRejected(t *testing.T) {
	tr, _, url := startTransport(t, HTTPConfig{})
	tr.busy.Store(true)

	resp := post(t, url, []byte("x"), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestDefaults(t *testing.T) {
	tr := NewHTTPTransport(HTTPConfig{}, nil)
	assert.Equal(t, DefaultUpdateAddr, tr.cfg.Addr)
	assert.Equal(t, "", tr.Addr())
	assert.NoError(t, tr.Close(), "close before begin")
}
