package engine

import (
	"context"
	"fmt"

	"github.com/cryguy/swkit/internal/core"
	"github.com/cryguy/swkit/internal/logger"
	"github.com/cryguy/swkit/internal/metrics"
)

func (e *Engine) execute(ctx context.Context, s core.Strategy, req *core.Request) (*core.Response, string, error) {
	switch s {
	case core.CacheFirst:
		return e.cacheFirst(ctx, req)
	case core.StaleWhileRevalidate:
		return e.staleWhileRevalidate(ctx, req)
	case core.NetworkOnly:
		return e.networkOnly(ctx, req)
	case core.CacheOnly:
		return e.cacheOnly(ctx, req)
	default:
		return e.networkFirst(ctx, req)
	}
}

func (e *Engine) cacheFirst(ctx context.Context, req *core.Request) (*core.Response, string, error) {
	if cached, ok := e.match(ctx, req); ok {
		return cached, metrics.OutcomeCache, nil
	}
	resp, err := e.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, metrics.OutcomeError, err
	}
	e.put(ctx, req, resp)
	return resp, metrics.OutcomeNetwork, nil
}

// networkFirst prefers a successful network response. A network error or
// an error status falls back to the cache; with nothing cached there is
// nothing to answer.
func (e *Engine) networkFirst(ctx context.Context, req *core.Request) (*core.Response, string, error) {
	resp, err := e.fetcher.Fetch(ctx, req)
	if err == nil && resp.OK() {
		e.put(ctx, req, resp)
		return resp, metrics.OutcomeNetwork, nil
	}

	if cached, ok := e.match(ctx, req); ok {
		return cached, metrics.OutcomeCache, nil
	}
	if err == nil {
		err = fmt.Errorf("status %d", responseStatus(resp))
	}
	return nil, metrics.OutcomeMiss, fmt.Errorf("%w: %v", core.ErrNoResponse, err)
}

func responseStatus(r *core.Response) int {
	if r == nil {
		return 0
	}
	return r.Status
}

func (e *Engine) staleWhileRevalidate(ctx context.Context, req *core.Request) (*core.Response, string, error) {
	if cached, ok := e.match(ctx, req); ok {
		bg := context.WithoutCancel(ctx)
		e.loop.Go(func() {
			if _, err := e.revalidate(bg, req); err != nil {
				logger.Debug("Background revalidation failed", logger.KeyURL, req.URL, logger.KeyError, err)
			}
		})
		return cached, metrics.OutcomeCache, nil
	}

	resp, err := e.revalidate(ctx, req)
	if err != nil {
		return nil, metrics.OutcomeError, err
	}
	return resp, metrics.OutcomeNetwork, nil
}

// revalidate fetches req and refreshes the cache. Concurrent calls for the
// same request share one network fetch; each caller gets its own copy.
func (e *Engine) revalidate(ctx context.Context, req *core.Request) (*core.Response, error) {
	v, err, _ := e.revalidations.Do(req.Method+" "+req.CacheKey(), func() (any, error) {
		resp, err := e.fetcher.Fetch(ctx, req)
		if err != nil {
			e.metrics.Revalidation("failed")
			return nil, err
		}
		e.put(ctx, req, resp)
		e.metrics.Revalidation("ok")
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*core.Response).Clone(), nil
}

func (e *Engine) networkOnly(ctx context.Context, req *core.Request) (*core.Response, string, error) {
	resp, err := e.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, metrics.OutcomeError, err
	}
	return resp, metrics.OutcomeNetwork, nil
}

func (e *Engine) cacheOnly(ctx context.Context, req *core.Request) (*core.Response, string, error) {
	if cached, ok := e.match(ctx, req); ok {
		return cached, metrics.OutcomeCache, nil
	}
	return nil, metrics.OutcomeMiss, core.ErrNoResponse
}

// navigate goes to the network and, when that fails, serves the cached
// offline fallback page or the generic error response.
func (e *Engine) navigate(ctx context.Context, req *core.Request) (*core.Response, string) {
	resp, err := e.fetcher.Fetch(ctx, req)
	if err == nil {
		return resp, metrics.OutcomeNetwork
	}
	logger.Debug("Navigation failed, trying offline fallback", logger.KeyURL, req.URL, logger.KeyError, err)

	key := core.NewRequest(req.ResolveReference(e.OfflineFallbackPath()), core.ModeNavigate).CacheKey()
	entry, merr := e.store.Match(ctx, e.cfg.CacheName, key)
	if merr != nil {
		logger.Warn("Cache lookup failed", logger.KeyURL, key, logger.KeyError, merr)
	}
	if entry != nil {
		return entryResponse(entry, key), metrics.OutcomeFallback
	}
	return core.ErrorResponse(), metrics.OutcomeError
}
