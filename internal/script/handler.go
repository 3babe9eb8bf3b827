package script

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/cryguy/swkit/internal/core"
	"github.com/cryguy/swkit/internal/logger"
)

// Server serves one rendered script and resolves it for an in-process
// container. Other script URLs are loaded through Fallback when set.
type Server struct {
	// Path is the URL path the script is served at, e.g. "/sw.js".
	Path string
	// Scope is sent as Service-Worker-Allowed so the script may control
	// paths above its own directory.
	Scope string
	// Fallback loads scripts other than Path. Nil means ErrNotFound.
	Fallback core.Fetcher

	mu   sync.RWMutex
	code string
	etag string
}

// NewServer renders p and returns a Server for path.
func NewServer(path, scope string, p Params, minify bool) (*Server, error) {
	s := &Server{Path: path, Scope: scope}
	if err := s.Reload(p, minify); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-renders the script. A page that calls update afterwards
// observes a changed source and installs a new worker.
func (s *Server) Reload(p Params, minify bool) error {
	code, err := Render(p, minify)
	if err != nil {
		return err
	}
	sum := sha256.Sum256([]byte(code))
	s.mu.Lock()
	s.code = code
	s.etag = `"` + hex.EncodeToString(sum[:8]) + `"`
	s.mu.Unlock()
	logger.Debug("Service worker script rendered", logger.KeyScriptURL, s.Path, logger.KeyCache, p.CacheName)
	return nil
}

// Source returns the current script.
func (s *Server) Source() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.code
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.mu.RLock()
	code, etag := s.code, s.etag
	s.mu.RUnlock()

	h := w.Header()
	h.Set("Content-Type", "application/javascript; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("ETag", etag)
	if s.Scope != "" {
		h.Set("Service-Worker-Allowed", s.Scope)
	}
	if match := r.Header.Get("If-None-Match"); match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	h.Set("Content-Length", strconv.Itoa(len(code)))
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write([]byte(code))
}

// LoadScript implements core.ScriptLoader. The URL's path decides whether
// it names the served script.
func (s *Server) LoadScript(ctx context.Context, scriptURL string) (string, error) {
	if u, err := url.Parse(scriptURL); err == nil && u.Path == s.Path {
		return s.Source(), nil
	}
	if s.Fallback == nil {
		return "", fmt.Errorf("script %s: %w", scriptURL, core.ErrNotFound)
	}
	resp, err := s.Fallback.Fetch(ctx, core.NewRequest(scriptURL, core.ModeSameOrigin))
	if err != nil {
		return "", fmt.Errorf("loading script %s: %w", scriptURL, err)
	}
	if !resp.OK() {
		return "", fmt.Errorf("loading script %s: status %d", scriptURL, resp.Status)
	}
	return string(resp.Body), nil
}
