package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xpanvictor/cortado/internal/live/instructions"
)

func newRelay(t *testing.T, source instructions.Source, upstreamURL string) (*httptest.Server, Dependencies) {
	t.Helper()
	client, err := NewUpstreamClient(context.Background(), false)
	require.NoError(t, err)
	dep := NewServerDependencies(source, upstreamURL, client, []string{"http://localhost:3000"}, prometheus.NewRegistry(), nil)
	srv := httptest.NewServer(NewHandler(dep))
	t.Cleanup(srv.Close)
	return srv, dep
}

func writePage(t *testing.T, dir, page, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, page+".yaml"), []byte(body), 0o644))
}

func TestHealthz(t *testing.T) {
	srv, _ := newRelay(t, instructions.NewFileStore(t.TempDir()), "")

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestSystemInstructions(t *testing.T) {
	dir := t.TempDir()
	writePage(t, dir, "sales", "system_description: sales\n")
	srv, dep := newRelay(t, instructions.NewFileStore(dir), "")

	resp, err := http.Get(srv.URL + "/api/system-instructions/sales")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "system_description: sales\n", string(body))

	resp, err = http.Get(srv.URL + "/api/system-instructions/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/system-instructions/bad.page")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Equal(t, 1.0, testutil.ToFloat64(dep.Metrics.Requests.WithLabelValues("/api/system-instructions/:page", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(dep.Metrics.Requests.WithLabelValues("/api/system-instructions/:page", "404")))
}

func TestSystemInstructionsCached(t *testing.T) {
	dir := t.TempDir()
	writePage(t, dir, "sales", "v1\n")
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := instructions.NewCachedStore(instructions.NewFileStore(dir), client, time.Minute, nil)
	srv, _ := newRelay(t, store, "")

	get := func() string {
		resp, err := http.Get(srv.URL + "/api/system-instructions/sales")
		require.NoError(t, err)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return string(body)
	}

	assert.Equal(t, "v1\n", get())
	writePage(t, dir, "sales", "v2\n")
	assert.Equal(t, "v1\n", get(), "served from cache until invalidated")

	require.NoError(t, store.Invalidate("sales"))
	assert.Equal(t, "v2\n", get())
}

func TestDataAgentStreamRelaysChunks(t *testing.T) {
	gotBody := make(chan string, 1)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody <- string(b)
		w.Header().Set("Content-Type", "application/x-ndjson")
		flusher := w.(http.Flusher)
		_, _ = io.WriteString(w, `{"systemMessage":{"text":{"parts":["a"]}}}`+"\n")
		flusher.Flush()
		_, _ = io.WriteString(w, `{"systemMessage":{"text":{"parts":["b"]}}}`+"\n")
	}))
	defer upstream.Close()

	srv, dep := newRelay(t, instructions.NewFileStore(t.TempDir()), upstream.URL)

	resp, err := http.Post(srv.URL+"/api/data-agent/stream", "application/json", strings.NewReader(`{"messages":[]}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))
	assert.Equal(t, 2, strings.Count(string(body), "\n"))
	assert.Equal(t, `{"messages":[]}`, <-gotBody)
	assert.Equal(t, float64(len(body)), testutil.ToFloat64(dep.Metrics.Bytes))
}

func TestDataAgentStreamUpstreamStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"error":{"message":"denied"}}`)
	}))
	defer upstream.Close()

	srv, _ := newRelay(t, instructions.NewFileStore(t.TempDir()), upstream.URL)
	resp, err := http.Post(srv.URL+"/api/data-agent/stream", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, string(body), "denied")
}

func TestDataAgentStreamUnavailable(t *testing.T) {
	srv, _ := newRelay(t, instructions.NewFileStore(t.TempDir()), "")
	resp, err := http.Post(srv.URL+"/api/data-agent/stream", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	srv, _ = newRelay(t, instructions.NewFileStore(t.TempDir()), "http://127.0.0.1:1/stream")
	resp, err = http.Post(srv.URL+"/api/data-agent/stream", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newRelay(t, instructions.NewFileStore(t.TempDir()), "")

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/data-agent/stream", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newRelay(t, instructions.NewFileStore(t.TempDir()), "")

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "cortado_relay_requests_total")
}
