// Package engine is the Fetch Engine that runs inside a service worker. It
// holds the policy map pushed by the host, resolves every intercepted
// request to a caching strategy and executes that strategy against Cache
// Storage and the network.
package engine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/cryguy/swkit/internal/core"
	"github.com/cryguy/swkit/internal/eventloop"
	"github.com/cryguy/swkit/internal/logger"
	"github.com/cryguy/swkit/internal/metrics"
)

// Host is the part of the worker's global scope the engine calls back
// into: skipWaiting, clients.claim and clients.matchAll.
type Host interface {
	SkipWaiting()
	Claim(ctx context.Context) error
	Clients() []core.Port
}

type nopHost struct{}

func (nopHost) SkipWaiting()                {}
func (nopHost) Claim(context.Context) error { return nil }
func (nopHost) Clients() []core.Port        { return nil }

// Option configures an Engine.
type Option func(*Engine)

// WithHost sets the worker scope callbacks.
func WithHost(h Host) Option {
	return func(e *Engine) { e.host = h }
}

// WithLoop sets the event loop that tracks background work.
func WithLoop(el *eventloop.EventLoop) Option {
	return func(e *Engine) { e.loop = el }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine answers intercepted requests for one worker instance.
type Engine struct {
	cfg     core.EngineConfig
	store   core.CacheStore
	fetcher core.Fetcher
	host    Host
	loop    *eventloop.EventLoop
	metrics *metrics.Metrics

	mu           sync.RWMutex
	policies     core.PolicyMap
	fallbackPath string

	revalidations singleflight.Group
}

// New creates an Engine with an empty policy map.
func New(cfg core.EngineConfig, store core.CacheStore, fetcher core.Fetcher, opts ...Option) *Engine {
	cfg = cfg.WithDefaults()
	e := &Engine{
		cfg:          cfg,
		store:        store,
		fetcher:      fetcher,
		host:         nopHost{},
		policies:     core.PolicyMap{},
		fallbackPath: cfg.OfflineFallbackPath,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.loop == nil {
		e.loop = eventloop.New()
	}
	return e
}

// CacheName returns the cache generation this engine reads and writes.
func (e *Engine) CacheName() string { return e.cfg.CacheName }

// Policies returns a copy of the current policy map.
func (e *Engine) Policies() core.PolicyMap {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policies.Clone()
}

// OfflineFallbackPath returns the page served to offline navigations.
func (e *Engine) OfflineFallbackPath() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fallbackPath
}

// HandleMessage applies a control message from the host. Unknown types are
// ignored.
func (e *Engine) HandleMessage(_ context.Context, msg core.Message) {
	switch msg.Type {
	case core.MessageSetCachePolicies:
		policies := msg.Policies.Clone()
		if policies == nil {
			policies = core.PolicyMap{}
		}
		e.mu.Lock()
		e.policies = policies
		e.mu.Unlock()
		logger.Info("Received cache policies", logger.KeyCount, len(policies))
	case core.MessageSetOfflineFallbackPath:
		path := msg.Path
		if path == "" {
			path = core.DefaultOfflineFallbackPath
		}
		e.mu.Lock()
		e.fallbackPath = path
		e.mu.Unlock()
		logger.Debug("Offline fallback path set", "path", path)
	case core.MessageSkipWaiting:
		e.host.SkipWaiting()
	default:
		logger.Debug("Ignoring message", logger.KeyEvent, msg.Type)
	}
}

// Resolve returns the strategy for url: the first policy pattern contained
// in url wins, and an unmatched url or an unknown strategy name falls back
// to NetworkFirst.
func (e *Engine) Resolve(url string) core.Strategy {
	e.mu.RLock()
	entry, ok := e.policies.Match(url)
	e.mu.RUnlock()
	if !ok {
		return core.DefaultStrategy
	}
	s, ok := core.ParseStrategy(entry.Strategy)
	if !ok {
		return core.DefaultStrategy
	}
	return s
}

// HandleFetch answers one intercepted request. Navigations bypass policy
// matching. A nil error with an error-type response is the generic network
// error; core.ErrNoResponse means the strategy had nothing to answer with.
func (e *Engine) HandleFetch(ctx context.Context, req *core.Request) (*core.Response, error) {
	start := time.Now()
	if req.IsNavigation() {
		resp, outcome := e.navigate(ctx, req)
		e.metrics.ObserveFetch("navigate", outcome, time.Since(start))
		logger.Debug("Navigation", logger.KeyURL, req.URL, "outcome", outcome)
		return resp, nil
	}

	strategy := e.Resolve(req.URL)
	resp, outcome, err := e.execute(ctx, strategy, req)
	e.metrics.ObserveFetch(strategy.String(), outcome, time.Since(start))
	logger.Debug("Fetch",
		logger.KeyURL, req.URL,
		logger.KeyStrategy, strategy.String(),
		"outcome", outcome)
	return resp, err
}

// Wait blocks until background revalidations have finished.
func (e *Engine) Wait(ctx context.Context) error {
	return e.loop.Drain(ctx)
}
