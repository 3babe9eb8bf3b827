package engine

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryguy/swkit/internal/cachestore"
	"github.com/cryguy/swkit/internal/core"
)

const origin = "https://app.example"

type fixture struct {
	engine *Engine
	net    *fakeNetwork
	store  *cachestore.Memory
	host   *fakeHost
}

func newFixture(t *testing.T, cfg core.EngineConfig) *fixture {
	t.Helper()
	f := &fixture{net: newFakeNetwork(), store: cachestore.NewMemory(), host: &fakeHost{}}
	f.engine = New(cfg, f.store, f.net, WithHost(f.host))
	return f
}

func (f *fixture) policies(entries ...string) {
	var m core.PolicyMap
	for i := 0; i+1 < len(entries); i += 2 {
		m = append(m, core.PolicyEntry{Pattern: entries[i], Strategy: entries[i+1]})
	}
	f.engine.HandleMessage(context.Background(), core.Message{Type: core.MessageSetCachePolicies, Policies: m})
}

func (f *fixture) get(t *testing.T, url string) (*core.Response, error) {
	t.Helper()
	return f.engine.HandleFetch(context.Background(), core.NewRequest(url, core.ModeNoCORS))
}

func (f *fixture) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.engine.Wait(ctx))
}

func TestResolve_FirstMatchWinsInBothOrders(t *testing.T) {
	url := origin + "/api/style.css"

	f := newFixture(t, core.EngineConfig{})
	f.policies(".css", "CacheFirst", "api/", "NetworkOnly")
	assert.Equal(t, core.CacheFirst, f.engine.Resolve(url))

	f.policies("api/", "NetworkOnly", ".css", "CacheFirst")
	assert.Equal(t, core.NetworkOnly, f.engine.Resolve(url))
}

func TestResolve_Defaults(t *testing.T) {
	f := newFixture(t, core.EngineConfig{})
	assert.Equal(t, core.NetworkFirst, f.engine.Resolve(origin+"/a.js"), "empty map")

	f.policies(".js", "Bogus", "a.", "CacheOnly")
	assert.Equal(t, core.NetworkFirst, f.engine.Resolve(origin+"/a.js"), "unknown name on the first match")
}

func TestHandleMessage_ReplacesWholesale(t *testing.T) {
	f := newFixture(t, core.EngineConfig{})
	f.policies(".css", "CacheFirst")
	f.policies(".png", "CacheOnly")
	assert.Equal(t, core.PolicyMap{{Pattern: ".png", Strategy: "CacheOnly"}}, f.engine.Policies())

	f.engine.HandleMessage(context.Background(), core.Message{Type: core.MessageSetCachePolicies})
	assert.Empty(t, f.engine.Policies())
}

func TestHandleMessage_FallbackPathAndSkipWaiting(t *testing.T) {
	f := newFixture(t, core.EngineConfig{})
	assert.Equal(t, "/offline", f.engine.OfflineFallbackPath())

	ctx := context.Background()
	f.engine.HandleMessage(ctx, core.Message{Type: core.MessageSetOfflineFallbackPath, Path: "/down.html"})
	assert.Equal(t, "/down.html", f.engine.OfflineFallbackPath())
	f.engine.HandleMessage(ctx, core.Message{Type: core.MessageSetOfflineFallbackPath})
	assert.Equal(t, "/offline", f.engine.OfflineFallbackPath())

	f.engine.HandleMessage(ctx, core.Message{Type: core.MessageSkipWaiting})
	f.engine.HandleMessage(ctx, core.Message{Type: "SOMETHING_ELSE"})
	assert.Equal(t, 1, f.host.skipWaiting)
}

func TestCacheFirst_SecondRequestServedFromCache(t *testing.T) {
	f := newFixture(t, core.EngineConfig{})
	f.policies(".png", "CacheFirst")
	url := origin + "/logo.png"
	f.net.set(url, "png-bytes")

	first, err := f.get(t, url)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(first.Body))

	f.net.set(url, "changed")
	second, err := f.get(t, url)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(second.Body))
	assert.Equal(t, 1, f.net.count(url))
}

func TestCacheFirst_DoesNotCacheFailures(t *testing.T) {
	f := newFixture(t, core.EngineConfig{})
	f.policies(".png", "CacheFirst")
	url := origin + "/missing.png"

	resp, err := f.get(t, url)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Status)

	_, err = f.get(t, url)
	require.NoError(t, err)
	assert.Equal(t, 2, f.net.count(url))

	entry, err := f.store.Match(context.Background(), core.DefaultCacheName, url)
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestCacheFirst_NetworkErrorWithEmptyCache(t *testing.T) {
	f := newFixture(t, core.EngineConfig{})
	f.policies(".png", "CacheFirst")
	f.net.setOffline(true)
	_, err := f.get(t, origin+"/a.png")
	assert.ErrorIs(t, err, errOffline)
}

func TestNetworkFirst_FallsBackToCache(t *testing.T) {
	f := newFixture(t, core.EngineConfig{})
	url := origin + "/api/users"
	f.net.set(url, "v1")

	resp, err := f.get(t, url)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(resp.Body))

	f.net.setOffline(true)
	resp, err = f.get(t, url)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(resp.Body))
}

func TestNetworkFirst_OfflineAndUncachedFails(t *testing.T) {
	f := newFixture(t, core.EngineConfig{})
	f.net.setOffline(true)
	_, err := f.get(t, origin+"/api/users")
	assert.ErrorIs(t, err, core.ErrNoResponse)
}

func TestNetworkFirst_ErrorStatusPrefersCache(t *testing.T) {
	f := newFixture(t, core.EngineConfig{})
	url := origin + "/api/feed"
	f.net.set(url, "good")
	_, err := f.get(t, url)
	require.NoError(t, err)

	f.net.setStatus(url, http.StatusInternalServerError)
	resp, err := f.get(t, url)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "good", string(resp.Body))

	other := origin + "/api/other"
	f.net.setStatus(other, http.StatusInternalServerError)
	_, err = f.get(t, other)
	assert.ErrorIs(t, err, core.ErrNoResponse, "nothing cached")
}

func TestNetworkFirst_ErrorStatusWithEmptyCache(t *testing.T) {
	f := newFixture(t, core.EngineConfig{})
	url := origin + "/api/down"
	f.net.setStatus(url, http.StatusServiceUnavailable)

	resp, err := f.get(t, url)
	assert.Nil(t, resp)
	require.ErrorIs(t, err, core.ErrNoResponse)
	assert.Contains(t, err.Error(), "503")
}

func TestStaleWhileRevalidate_ServesStaleThenFresh(t *testing.T) {
	f := newFixture(t, core.EngineConfig{})
	f.policies(".css", "StaleWhileRevalidate")
	url := origin + "/site.css"
	f.net.set(url, "old")

	resp, err := f.get(t, url)
	require.NoError(t, err)
	assert.Equal(t, "old", string(resp.Body), "no cache entry: network result awaited")

	f.net.set(url, "new")
	resp, err = f.get(t, url)
	require.NoError(t, err)
	assert.Equal(t, "old", string(resp.Body), "immediate response is the cached copy")

	f.wait(t)
	resp, err = f.get(t, url)
	require.NoError(t, err)
	assert.Equal(t, "new", string(resp.Body))
	f.wait(t)
}

func TestStaleWhileRevalidate_BackgroundFailureKeepsCache(t *testing.T) {
	f := newFixture(t, core.EngineConfig{})
	f.policies(".css", "StaleWhileRevalidate")
	url := origin + "/site.css"
	f.net.set(url, "old")
	_, err := f.get(t, url)
	require.NoError(t, err)

	f.net.setOffline(true)
	resp, err := f.get(t, url)
	require.NoError(t, err)
	assert.Equal(t, "old", string(resp.Body))
	f.wait(t)

	resp, err = f.get(t, url)
	require.NoError(t, err)
	assert.Equal(t, "old", string(resp.Body))
	f.wait(t)
}

func TestStaleWhileRevalidate_OutlivesRequestContext(t *testing.T) {
	f := newFixture(t, core.EngineConfig{})
	f.policies(".css", "StaleWhileRevalidate")
	url := origin + "/site.css"
	f.net.set(url, "old")
	_, err := f.get(t, url)
	require.NoError(t, err)
	f.net.set(url, "new")

	ctx, cancel := context.WithCancel(context.Background())
	_, err = f.engine.HandleFetch(ctx, core.NewRequest(url, core.ModeNoCORS))
	require.NoError(t, err)
	cancel()
	f.wait(t)

	resp, err := f.get(t, url)
	require.NoError(t, err)
	assert.Equal(t, "new", string(resp.Body))
	f.wait(t)
}

func TestNetworkOnly_NeverTouchesCache(t *testing.T) {
	f := newFixture(t, core.EngineConfig{})
	f.policies("/live", "NetworkOnly")
	url := origin + "/live/ticker"
	f.net.set(url, "tick")

	_, err := f.get(t, url)
	require.NoError(t, err)
	_, err = f.get(t, url)
	require.NoError(t, err)
	assert.Equal(t, 2, f.net.count(url))

	names, _ := f.store.CacheNames(context.Background())
	assert.Empty(t, names)
}

func TestCacheOnly_NeverFetches(t *testing.T) {
	f := newFixture(t, core.EngineConfig{})
	f.policies(".woff", "CacheOnly")
	url := origin + "/font.woff"
	f.net.set(url, "font")

	_, err := f.get(t, url)
	assert.ErrorIs(t, err, core.ErrNoResponse)
	assert.Zero(t, f.net.count(url))

	require.NoError(t, f.store.Put(context.Background(), core.DefaultCacheName, url, &core.CacheEntry{Status: 200, Body: []byte("cached-font")}))
	resp, err := f.get(t, url)
	require.NoError(t, err)
	assert.Equal(t, "cached-font", string(resp.Body))
	assert.Zero(t, f.net.count(url))
}

func TestNavigation_BypassesPolicies(t *testing.T) {
	f := newFixture(t, core.EngineConfig{})
	page := origin + "/dashboard"
	f.policies("/dashboard", "CacheOnly")
	require.NoError(t, f.store.Put(context.Background(), core.DefaultCacheName, origin+"/offline",
		&core.CacheEntry{Status: 200, Body: []byte("you are offline")}))

	f.net.set(page, "live dashboard")
	resp, err := f.engine.HandleFetch(context.Background(), core.NewRequest(page, core.ModeNavigate))
	require.NoError(t, err)
	assert.Equal(t, "live dashboard", string(resp.Body))

	f.net.setOffline(true)
	resp, err = f.engine.HandleFetch(context.Background(), core.NewRequest(page, core.ModeNavigate))
	require.NoError(t, err)
	assert.Equal(t, "you are offline", string(resp.Body))
}

func TestNavigation_OfflineWithoutFallback(t *testing.T) {
	f := newFixture(t, core.EngineConfig{})
	f.net.setOffline(true)
	resp, err := f.engine.HandleFetch(context.Background(), core.NewRequest(origin+"/", core.ModeNavigate))
	require.NoError(t, err)
	assert.Equal(t, core.ResponseError, resp.Type)
	assert.False(t, resp.OK())
}

func TestNavigation_UsesConfiguredFallbackPath(t *testing.T) {
	f := newFixture(t, core.EngineConfig{})
	f.engine.HandleMessage(context.Background(), core.Message{Type: core.MessageSetOfflineFallbackPath, Path: "/down.html"})
	require.NoError(t, f.store.Put(context.Background(), core.DefaultCacheName, origin+"/down.html",
		&core.CacheEntry{Status: 200, Body: []byte("down")}))
	f.net.setOffline(true)

	resp, err := f.engine.HandleFetch(context.Background(), core.NewRequest(origin+"/app/page", core.ModeNavigate))
	require.NoError(t, err)
	assert.Equal(t, "down", string(resp.Body))
}

func TestVary(t *testing.T) {
	f := newFixture(t, core.EngineConfig{})
	f.policies(".json", "CacheFirst")
	url := origin + "/i18n.json"
	f.net.set(url, "english")
	f.net.headers[url] = http.Header{"Vary": {"Accept-Language"}}

	en := core.NewRequest(url, core.ModeCORS)
	en.Headers.Set("Accept-Language", "en")
	_, err := f.engine.HandleFetch(context.Background(), en)
	require.NoError(t, err)

	_, err = f.engine.HandleFetch(context.Background(), en)
	require.NoError(t, err)
	assert.Equal(t, 1, f.net.count(url))

	fr := core.NewRequest(url, core.ModeCORS)
	fr.Headers.Set("Accept-Language", "fr")
	_, err = f.engine.HandleFetch(context.Background(), fr)
	require.NoError(t, err)
	assert.Equal(t, 2, f.net.count(url))
}

func TestVaryStarIsNeverStored(t *testing.T) {
	f := newFixture(t, core.EngineConfig{})
	f.policies(".json", "CacheFirst")
	url := origin + "/x.json"
	f.net.set(url, "x")
	f.net.headers[url] = http.Header{"Vary": {"*"}}

	_, _ = f.get(t, url)
	_, _ = f.get(t, url)
	assert.Equal(t, 2, f.net.count(url))
}

func TestPostIsNotCached(t *testing.T) {
	f := newFixture(t, core.EngineConfig{})
	f.policies("/api", "CacheFirst")
	url := origin + "/api/submit"
	f.net.set(url, "ok")

	req := core.NewRequest(url, core.ModeCORS)
	req.Method = http.MethodPost
	_, err := f.engine.HandleFetch(context.Background(), req)
	require.NoError(t, err)
	_, err = f.engine.HandleFetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, f.net.count(url))
}

func TestPolicyRepushIsIdempotent(t *testing.T) {
	f := newFixture(t, core.EngineConfig{})
	f.policies(".css", "CacheFirst", "api/", "NetworkOnly")
	before := f.engine.Resolve(origin + "/api/a.css")
	f.policies(".css", "CacheFirst", "api/", "NetworkOnly")
	assert.Equal(t, before, f.engine.Resolve(origin+"/api/a.css"))
}
