package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryguy/swkit/internal/core"
	"github.com/cryguy/swkit/internal/metrics"
	"github.com/cryguy/swkit/internal/transport"
	"github.com/cryguy/swkit/pkg/config"
)

type harness struct {
	srv      *Server
	ts       *httptest.Server
	upstream *httptest.Server
	hits     atomic.Int64
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	h := &harness{}
	h.upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.hits.Add(1)
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "upstream "+r.URL.Path)
	}))
	t.Cleanup(h.upstream.Close)

	cfg := config.Default()
	cfg.Network.Upstream = h.upstream.URL
	cfg.Network.AllowPrivate = true
	cfg.Policies = []config.PolicyConfig{{Pattern: "/static/", Strategy: "CacheFirst"}}
	if mutate != nil {
		mutate(cfg)
	}

	srv, err := New(cfg, metrics.New())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	h.srv = srv
	h.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(h.ts.Close)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.srv.Start(ctx))
	require.Eventually(t, func() bool { return h.srv.container.Controller() != nil }, 5*time.Second, 10*time.Millisecond)
}

func (h *harness) get(t *testing.T, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(h.ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServesScript(t *testing.T) {
	h := newHarness(t, nil)
	resp, err := http.Get(h.ts.URL + "/sw.js")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "/", resp.Header.Get("Service-Worker-Allowed"))
}

func TestUnmatchedPathsReachContainer(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	for _, path := range []string{"/", "/page", "/deep/nested/asset.js"} {
		status, body := h.get(t, path)
		assert.Equal(t, http.StatusOK, status, path)
		assert.Equal(t, "upstream "+path, body, path)
	}
}

func TestStart_DeliversStartupPolicies(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	require.Eventually(t, func() bool {
		_, ok := h.srv.container.ControllerWorker().Engine().Policies().Get("/static/")
		return ok
	}, 5*time.Second, 10*time.Millisecond)
	r, ok := h.srv.Manager().GetRegistration("/sw.js", "/")
	require.True(t, ok)
	assert.Equal(t, "Registered", r.State.String())
}

func TestCacheFirstThroughController(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	require.Eventually(t, func() bool {
		_, ok := h.srv.container.ControllerWorker().Engine().Policies().Get("/static/")
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	status, body := h.get(t, "/static/app.css")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "upstream /static/app.css", body)
	before := h.hits.Load()

	status, body = h.get(t, "/static/app.css")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "upstream /static/app.css", body)
	assert.Equal(t, before, h.hits.Load())
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	h.get(t, "/page")

	status, body := h.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, strings.Contains(body, "swkit_fetch_total"))
}

func TestControlEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/_sw/control"
	port, err := transport.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer port.Close()

	events := make(chan core.Event, 16)
	go func() {
		_ = port.Listen(ctx, func(msg core.Message) {
			if msg.Type != core.MessageEvent {
				return
			}
			var ev core.Event
			if json.Unmarshal(msg.Payload, &ev) == nil {
				events <- ev
			}
		})
	}()

	require.NoError(t, port.PostMessage(ctx, core.Message{
		Type:     core.MessageSetCachePolicies,
		Policies: core.PolicyMap{{Pattern: "/api/", Strategy: "NetworkOnly"}},
	}))
	require.Eventually(t, func() bool {
		name, ok := h.srv.container.ControllerWorker().Engine().Policies().Get("/api/")
		return ok && name == "NetworkOnly"
	}, 5*time.Second, 10*time.Millisecond)
	p, ok := h.srv.Policies().Get("/api/")
	require.True(t, ok)
	assert.Equal(t, core.NetworkOnly, p.Strategy)

	require.NoError(t, port.PostMessage(ctx, core.Message{Type: core.MessageSetOfflineFallbackPath, Path: "/down.html"}))
	require.Eventually(t, func() bool {
		return h.srv.container.ControllerWorker().Engine().OfflineFallbackPath() == "/down.html"
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, port.PostMessage(ctx, core.Message{Type: core.MessageUpdate}))
	select {
	case ev := <-events:
		assert.Equal(t, "updated", ev.Type)
	case <-ctx.Done():
		t.Fatal("no updated event relayed")
	}
}
