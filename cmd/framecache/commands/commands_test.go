package commands

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/hupe1980/framecache"
	"github.com/hupe1980/framecache/blobstore/s3"
	"github.com/hupe1980/framecache/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "framecache.yaml")
	body := `logging:
  level: error
storage:
  backend: local
  path: ` + filepath.Join(dir, "store") + `
preload:
  leading_margin: 0
  trailing_margin: 0
pool:
  workers: 2
` + extra
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "framecache dev")
}

func TestGet_WritesPayload(t *testing.T) {
	cfg := writeConfig(t, "")
	target := filepath.Join(t.TempDir(), "frame.jpg")

	out, err := run(t, "--config", cfg, "get", "intro.mp4", "42", "-o", target)
	require.NoError(t, err)
	assert.Contains(t, out, "intro.mp4/42 thumbnail")

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Greater(t, len(data), 2)
	assert.Equal(t, []byte{0xFF, 0xD8}, data[:2])
}

func TestGet_InvalidIndex(t *testing.T) {
	cfg := writeConfig(t, "")
	_, err := run(t, "--config", cfg, "get", "intro.mp4", "-1")
	assert.ErrorContains(t, err, "invalid frame index")
}

func TestPreloadStatsClear(t *testing.T) {
	cfg := writeConfig(t, "")

	out, err := run(t, "--config", cfg, "preload", "clip", "0", "4")
	require.NoError(t, err)
	assert.Contains(t, out, "5 generated")

	// A fresh process sees the persisted entries.
	out, err = run(t, "--config", cfg, "stats")
	require.NoError(t, err)
	var st framecache.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, 5, st.Persistent.Size)
	assert.Equal(t, 0, st.Memory.Size)

	out, err = run(t, "--config", cfg, "warm")
	require.NoError(t, err)
	assert.Contains(t, out, "warmed 5 entries")

	out, err = run(t, "--config", cfg, "clear", "--source", "clip")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 5 entries of clip")

	out, err = run(t, "--config", cfg, "stats")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, 0, st.Persistent.Size)
}

func TestClear_All(t *testing.T) {
	cfg := writeConfig(t, "")

	_, err := run(t, "--config", cfg, "get", "a", "1")
	require.NoError(t, err)

	out, err := run(t, "--config", cfg, "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "cache cleared")
}

func TestInvalidConfig(t *testing.T) {
	cfg := writeConfig(t, "thumbnail:\n  quality: 0\n")
	_, err := run(t, "--config", cfg, "stats")
	assert.ErrorContains(t, err, "validation")
}

func TestRemoteBackend_ExpressNeedsDirectoryBucket(t *testing.T) {
	_, err := remoteBackend(context.Background(), config.StorageConfig{
		Backend: "s3",
		Bucket:  "frames",
		Express: true,
	})
	assert.ErrorIs(t, err, s3.ErrNotDirectoryBucket)
}

func TestReadCacheFromConfig(t *testing.T) {
	cfg := writeConfig(t, "")
	cfgWithCache := writeConfig(t, "")
	body, err := os.ReadFile(cfgWithCache)
	require.NoError(t, err)
	body = bytes.Replace(body, []byte("  backend: local\n"), []byte("  backend: local\n  read_cache_bytes: 1048576\n"), 1)
	require.NoError(t, os.WriteFile(cfgWithCache, body, 0o600))

	out, err := run(t, "--config", cfg, "stats")
	require.NoError(t, err)
	assert.NotContains(t, out, "readCache")

	out, err = run(t, "--config", cfgWithCache, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "readCache")
}

func TestHandler(t *testing.T) {
	cfg := writeConfig(t, "metrics:\n  enabled: true\n")
	s, err := openSession(context.Background(), &globals{cfgFile: cfg})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	srv := httptest.NewServer(newHandler(s))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/thumbnails/intro.mp4/3")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	assert.Equal(t, []byte{0xFF, 0xD8}, body[:2])

	resp, err = http.Get(srv.URL + "/thumbnails/intro.mp4/abc")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "framecache_cache_lookups_total")
}

func TestHandler_RoutingAndRequestLog(t *testing.T) {
	cfg := writeConfig(t, "")
	s, err := openSession(context.Background(), &globals{cfgFile: cfg})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	var logs syncBuffer
	s.logger = framecache.NewLogger(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	srv := httptest.NewServer(newHandler(s))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/thumbnails/intro.mp4/3", "text/plain", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/thumbnails/intro.mp4")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	var st framecache.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	_ = resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	out := logs.String()
	assert.Contains(t, out, "path=/stats")
	assert.Contains(t, out, "status=200")
	assert.Contains(t, out, "request_id=")
}

// syncBuffer is a bytes.Buffer safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestHandler_NoMetricsWhenDisabled(t *testing.T) {
	cfg := writeConfig(t, "")
	s, err := openSession(context.Background(), &globals{cfgFile: cfg})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	srv := httptest.NewServer(newHandler(s))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
