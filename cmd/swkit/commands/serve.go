package commands

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cryguy/swkit/internal/logger"
	"github.com/cryguy/swkit/internal/metrics"
	"github.com/cryguy/swkit/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a page through its service worker",
	Long: `Register the configured service worker and serve every request
through it. The browser-side script, a WebSocket control endpoint and
Prometheus metrics are served alongside.

Examples:
  # Serve with the default config
  swkit serve

  # Proxy an upstream origin
  SWKIT_NETWORK_UPSTREAM=http://localhost:3000 swkit serve --addr :8080`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if err := initLogger(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(cfg, metrics.New())
	if err != nil {
		return err
	}
	defer func() {
		if err := srv.Close(); err != nil {
			logger.Warn("Close failed", logger.KeyError, err)
		}
	}()

	if err := srv.Start(ctx); err != nil {
		return err
	}
	logger.Info("Service worker registered",
		logger.KeyScriptURL, cfg.Worker.ScriptURL,
		logger.KeyScope, cfg.Worker.Scope,
		logger.KeyCache, cfg.Worker.CacheName,
		"policies", len(cfg.Policies))

	if err := srv.ListenAndServe(ctx); err != nil {
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}
