package server

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestRootsAreSearchedInOrder(t *testing.T) {
	tmp, app := t.TempDir(), t.TempDir()
	write(t, filepath.Join(tmp, "css", "main.css"), "compiled")
	write(t, filepath.Join(app, "css", "main.css"), "source")
	write(t, filepath.Join(app, "scripts", "app.js"), "js")
	write(t, filepath.Join(app, "index.html"), "<html><body>hi</body></html>")

	h := New(Options{Roots: []string{tmp, app}, Logger: quiet()}).Handler()

	assert.Equal(t, "compiled", get(t, h, "/css/main.css").Body.String())
	assert.Equal(t, "js", get(t, h, "/scripts/app.js").Body.String())
	assert.Contains(t, get(t, h, "/").Body.String(), "hi")
	assert.Equal(t, http.StatusNotFound, get(t, h, "/missing.js").Code)
}

func TestTraversalStaysInsideRoots(t *testing.T) {
	parent := t.TempDir()
	app := filepath.Join(parent, "app")
	write(t, filepath.Join(app, "index.html"), "<html><body>hi</body></html>")
	write(t, filepath.Join(parent, "secret.txt"), "s3cr3t-content")

	h := New(Options{Roots: []string{app}, Logger: quiet()}).Handler()
	rec := get(t, h, "/../secret.txt")
	assert.NotEqual(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "s3cr3t-content")

	// The mux redirects unclean paths; the file handler confines them itself.
	direct := get(t, &rootsHandler{roots: []string{app}}, "/../secret.txt")
	assert.Equal(t, http.StatusNotFound, direct.Code)
	assert.NotContains(t, direct.Body.String(), "s3cr3t-content")
}

func TestLiveReloadInjection(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "index.html"), "<html><body><p>x</p></body></html>")
	write(t, filepath.Join(root, "app.js"), "console.log('</body>')")

	h := New(Options{Roots: []string{root}, LiveReload: true, Logger: quiet()}).Handler()

	page := get(t, h, "/index.html").Body.String()
	assert.Contains(t, page, scriptTag+"</body>")

	js := get(t, h, "/app.js").Body.String()
	assert.NotContains(t, js, scriptTag)

	client := get(t, h, "/livereload.js")
	assert.Equal(t, http.StatusOK, client.Code)
	assert.Contains(t, client.Body.String(), "EventSource('/livereload')")
}

func TestNoInjectionWithoutLiveReload(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "index.html"), "<html><body></body></html>")
	h := New(Options{Roots: []string{root}, Logger: quiet()}).Handler()

	assert.NotContains(t, get(t, h, "/").Body.String(), scriptTag)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/livereload.js").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("assetbuilder_up 1"))
	})
	h := New(Options{Roots: []string{t.TempDir()}, Metrics: metricsHandler, Logger: quiet()}).Handler()
	assert.Equal(t, "assetbuilder_up 1", get(t, h, "/metrics").Body.String())
}

func readUntil(t *testing.T, r *bufio.Reader, needle string) bool {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		line, err := r.ReadString('\n')
		if err != nil {
			return false
		}
		if strings.Contains(line, needle) {
			return true
		}
	}
	return false
}

func TestServerBroadcastsReload(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := New(Options{Roots: []string{t.TempDir()}, LiveReload: true, Logger: quiet()})
	require.NoError(t, srv.StartWithListener(ln))
	require.Error(t, srv.StartWithListener(ln), "second start is rejected")

	ctx, cancel := context.WithTimeout(t.Context(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+srv.Addr()+"/livereload", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	require.True(t, readUntil(t, reader, "connected"))

	require.Eventually(t, func() bool { return srv.hub.Clients() == 1 }, time.Second, 10*time.Millisecond)
	srv.Reload("v2")
	assert.True(t, readUntil(t, reader, `"hash":"v2"`))

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	require.NoError(t, srv.Shutdown(shutdownCtx))
}

func TestHubReplaysLastHashAndIgnoresRepeats(t *testing.T) {
	hub := NewLiveReloadHub(nil, quiet())
	defer hub.Shutdown()
	hub.Broadcast("abc123")
	hub.Broadcast("abc123")

	ts := httptest.NewServer(hub)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.True(t, readUntil(t, bufio.NewReader(resp.Body), "abc123"))
}

func TestHubRejectsAfterShutdown(t *testing.T) {
	hub := NewLiveReloadHub(nil, quiet())
	hub.Shutdown()
	hub.Broadcast("late")

	rec := httptest.NewRecorder()
	hub.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/livereload", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequestLogRecoversPanics(t *testing.T) {
	h := withRequestLog(quiet(), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	assert.Equal(t, http.StatusInternalServerError, get(t, h, "/x").Code)
}
