package engine

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/cryguy/swkit/internal/core"
	"github.com/cryguy/swkit/internal/logger"
)

// match looks req up in the current cache generation, honouring Vary.
func (e *Engine) match(ctx context.Context, req *core.Request) (*core.Response, bool) {
	key := req.CacheKey()
	entry, err := e.store.Match(ctx, e.cfg.CacheName, key)
	if err != nil {
		logger.Warn("Cache lookup failed", logger.KeyURL, key, logger.KeyCache, e.cfg.CacheName, logger.KeyError, err)
		return nil, false
	}
	if entry == nil || !varyMatches(entry, req.Headers) {
		return nil, false
	}
	return entryResponse(entry, key), true
}

// put stores a copy of resp for req. Only successful GET responses are
// written; failures are logged and never reach the caller.
func (e *Engine) put(ctx context.Context, req *core.Request, resp *core.Response) {
	if !resp.OK() || (req.Method != "" && req.Method != http.MethodGet) {
		e.metrics.CacheWrite("skipped")
		return
	}
	vary, ok := varyValues(resp.Headers, req.Headers)
	if !ok {
		e.metrics.CacheWrite("skipped")
		return
	}

	c := resp.Clone()
	entry := &core.CacheEntry{
		Status:     c.Status,
		StatusText: c.StatusText,
		Headers:    c.Headers,
		Body:       c.Body,
		Vary:       vary,
		StoredAt:   time.Now().UTC(),
	}
	key := req.CacheKey()
	if err := e.store.Put(ctx, e.cfg.CacheName, key, entry); err != nil {
		e.metrics.CacheWrite("failed")
		logger.Warn("Cache write failed", logger.KeyURL, key, logger.KeyCache, e.cfg.CacheName, logger.KeyError, err)
		return
	}
	e.metrics.CacheWrite("stored")
}

func entryResponse(entry *core.CacheEntry, url string) *core.Response {
	headers := entry.Headers
	if headers == nil {
		headers = make(http.Header)
	}
	return &core.Response{
		Status:     entry.Status,
		StatusText: entry.StatusText,
		Headers:    headers,
		Body:       entry.Body,
		URL:        url,
		Type:       core.ResponseBasic,
	}
}

// varyValues captures the request header values named by the response's
// Vary header. ok is false for "Vary: *", which can never match.
func varyValues(respHeaders, reqHeaders http.Header) (map[string]string, bool) {
	var out map[string]string
	for _, line := range respHeaders.Values("Vary") {
		for _, name := range strings.Split(line, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if name == "*" {
				return nil, false
			}
			if out == nil {
				out = make(map[string]string)
			}
			out[http.CanonicalHeaderKey(name)] = reqHeaders.Get(name)
		}
	}
	return out, true
}

func varyMatches(entry *core.CacheEntry, reqHeaders http.Header) bool {
	for name, want := range entry.Vary {
		if reqHeaders.Get(name) != want {
			return false
		}
	}
	return true
}
