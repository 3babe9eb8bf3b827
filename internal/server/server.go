// Package server assembles a page, its service worker container and the
// lifecycle manager behind one HTTP handler.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/cryguy/swkit/internal/cachestore"
	"github.com/cryguy/swkit/internal/container"
	"github.com/cryguy/swkit/internal/lifecycle"
	"github.com/cryguy/swkit/internal/logger"
	"github.com/cryguy/swkit/internal/metrics"
	"github.com/cryguy/swkit/internal/network"
	"github.com/cryguy/swkit/internal/policy"
	"github.com/cryguy/swkit/internal/script"
	"github.com/cryguy/swkit/pkg/config"
)

// Server owns every component `swkit serve` runs.
type Server struct {
	cfg       *config.Config
	metrics   *metrics.Metrics
	store     cachestore.Store
	client    *network.Client
	script    *script.Server
	container *container.Container
	policies  *policy.Store
	manager   *lifecycle.Manager
	handler   http.Handler
}

// New builds the component graph from cfg. Nothing is registered until
// Start.
func New(cfg *config.Config, m *metrics.Metrics) (*Server, error) {
	store, err := cachestore.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening cache store: %w", err)
	}
	client, err := network.New(cfg.NetworkConfig())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("creating network client: %w", err)
	}
	sw, err := script.NewServer(cfg.Server.ScriptPath, cfg.Worker.Scope, script.ParamsFrom(cfg.EngineConfig()), cfg.Worker.Minify)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	sw.Fallback = client

	policies := policy.NewStore()
	if err := cfg.ApplyPolicies(policies); err != nil {
		_ = store.Close()
		return nil, err
	}

	c := container.New(container.Options{
		Loader:   sw,
		Store:    store,
		Fetcher:  client,
		Engine:   cfg.EngineConfig(),
		Metrics:  m,
		PagePath: cfg.Worker.PagePath,
	})
	s := &Server{
		cfg:       cfg,
		metrics:   m,
		store:     store,
		client:    client,
		script:    sw,
		container: c,
		policies:  policies,
		manager:   lifecycle.NewManager(c, lifecycle.WithMetrics(m), lifecycle.WithPolicies(policies)),
	}
	s.handler = s.routes()
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Handle(s.cfg.Server.ScriptPath, s.script)
	if s.cfg.Server.ControlPath != "" {
		r.HandleFunc(s.cfg.Server.ControlPath, s.handleControl)
	}
	if s.cfg.Server.MetricsPath != "" && s.metrics != nil {
		r.Handle(s.cfg.Server.MetricsPath, s.metrics.Handler())
	}
	// Everything else is a client request the controlling worker may answer.
	r.Mount("/", s.container)
	return h2c.NewHandler(r, &http2.Server{})
}

// Handler serves the script, the control endpoint, metrics and every
// other request through the container.
func (s *Server) Handler() http.Handler { return s.handler }

// Manager is the lifecycle manager driving the container.
func (s *Server) Manager() *lifecycle.Manager { return s.manager }

// Policies is the host-side policy store.
func (s *Server) Policies() *policy.Store { return s.policies }

// Start registers the configured worker and sends it the offline fallback
// path and the startup policies. Both messages wait for activation when
// the worker is not yet controlling.
func (s *Server) Start(ctx context.Context) error {
	w := s.cfg.Worker
	if !s.manager.Register(ctx, w.ScriptURL, w.Scope) {
		r, _ := s.manager.GetRegistration(w.ScriptURL, w.Scope)
		return fmt.Errorf("registering %s: %s", w.ScriptURL, r.Error)
	}
	s.manager.SetOfflineFallbackPath(ctx, w.OfflineFallbackPath)
	s.manager.PushCachePolicies(ctx)
	return nil
}

// ListenAndServe serves on the configured address until ctx is done, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	logger.Info("Serving", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Graceful shutdown incomplete", logger.KeyError, err)
	}
	return nil
}

// Close stops the manager and the container and closes the cache store.
func (s *Server) Close() error {
	_ = s.manager.Close()
	_ = s.container.Close()
	return s.store.Close()
}
