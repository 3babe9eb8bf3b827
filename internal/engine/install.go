package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/cryguy/swkit/internal/core"
	"github.com/cryguy/swkit/internal/logger"
)

// Install runs the install phase. With a precache manifest every asset,
// the offline fallback page and the sub-resources that page references
// are stored, and any failure fails the install. Without a manifest
// nothing is cached up front and the worker asks to skip waiting.
func (e *Engine) Install(ctx context.Context) error {
	if len(e.cfg.Precache) == 0 {
		e.host.SkipWaiting()
		return nil
	}

	assets := make([]string, 0, len(e.cfg.Precache)+1)
	seen := make(map[string]bool)
	add := func(raw string) {
		abs := e.absolute(raw)
		if !seen[abs] {
			seen[abs] = true
			assets = append(assets, abs)
		}
	}
	for _, p := range e.cfg.Precache {
		add(p)
	}
	fallback := e.absolute(e.OfflineFallbackPath())
	add(fallback)

	pages, err := e.precache(ctx, assets, fallback)
	if err != nil {
		return err
	}

	var extra []string
	for _, page := range pages {
		for _, ref := range subresources(page.Body, page.URL) {
			if !seen[ref] {
				seen[ref] = true
				extra = append(extra, ref)
			}
		}
	}
	if len(extra) > 0 {
		if _, err := e.precache(ctx, extra, ""); err != nil {
			return err
		}
	}

	logger.Info("Precached assets", logger.KeyCache, e.cfg.CacheName, logger.KeyCount, len(assets)+len(extra))
	return nil
}

// precache fetches and stores urls with bounded concurrency. The response
// for page, if listed, is returned so its sub-resources can be discovered.
func (e *Engine) precache(ctx context.Context, urls []string, page string) ([]*core.Response, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.PrecacheConcurrency)

	var mu sync.Mutex
	var pages []*core.Response
	for _, u := range urls {
		g.Go(func() error {
			req := core.NewRequest(u, core.ModeNoCORS)
			if u == page {
				req.Headers.Set("Accept", "text/html")
			}
			resp, err := e.fetcher.Fetch(gctx, req)
			if err != nil {
				return fmt.Errorf("precaching %s: %w", u, err)
			}
			if !resp.OK() {
				return fmt.Errorf("precaching %s: status %d", u, resp.Status)
			}
			e.put(gctx, req, resp)
			if u == page {
				mu.Lock()
				pages = append(pages, resp)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	e.metrics.Precached(len(urls))
	return pages, nil
}

func (e *Engine) absolute(ref string) string {
	if e.cfg.BaseURL == "" {
		return ref
	}
	return core.NewRequest(e.cfg.BaseURL, core.ModeNoCORS).ResolveReference(ref)
}

// subresources lists same-origin URLs referenced by link href, script src
// and img src in an HTML document.
func subresources(doc []byte, pageURL string) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	var out []string
	z := html.NewTokenizer(bytes.NewReader(doc))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return out
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		tok := z.Token()
		var attr string
		switch tok.Data {
		case "link":
			attr = "href"
		case "script", "img":
			attr = "src"
		default:
			continue
		}
		for _, a := range tok.Attr {
			if a.Key != attr || strings.TrimSpace(a.Val) == "" {
				continue
			}
			ref, err := base.Parse(strings.TrimSpace(a.Val))
			if err != nil || ref.Host != base.Host || (ref.Scheme != "http" && ref.Scheme != "https") {
				continue
			}
			ref.Fragment = ""
			out = append(out, ref.String())
		}
	}
}

// Activate deletes every cache generation other than the current one and
// then claims all open clients. Clients are claimed even when a deletion
// fails; the deletion errors are returned joined with any claim error.
func (e *Engine) Activate(ctx context.Context) error {
	names, err := e.store.CacheNames(ctx)
	if err != nil {
		return fmt.Errorf("listing caches: %w", err)
	}
	var errs []error
	deleted := 0
	for _, name := range names {
		if name == e.cfg.CacheName {
			continue
		}
		if _, err := e.store.DeleteCache(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("deleting cache %s: %w", name, err))
			continue
		}
		deleted++
		logger.Info("Deleted stale cache", logger.KeyCache, name)
	}
	e.metrics.CachesDeleted(deleted)
	if err := e.host.Claim(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// NotifyUpdateAvailable tells every window client that a new worker is
// waiting. It returns how many clients were reached.
func (e *Engine) NotifyUpdateAvailable(ctx context.Context) int {
	sent := 0
	for _, client := range e.host.Clients() {
		if err := client.PostMessage(ctx, core.Message{Type: core.MessageUpdateAvailable}); err != nil {
			logger.Warn("Failed to notify client", logger.KeyError, err)
			continue
		}
		sent++
	}
	return sent
}
