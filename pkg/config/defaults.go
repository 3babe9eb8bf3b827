package config

import (
	"strings"
	"time"

	"github.com/cryguy/swkit/internal/core"
)

// Default returns a complete configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero values. Explicit settings are kept.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyWorkerDefaults(&cfg.Worker, cfg.Server.ScriptPath)
	applyNetworkDefaults(&cfg.Network)
	applyStoreDefaults(&cfg.Store)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ScriptPath == "" {
		cfg.ScriptPath = "/sw.js"
	}
	if cfg.ControlPath == "" {
		cfg.ControlPath = "/_sw/control"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
}

func applyWorkerDefaults(cfg *WorkerConfig, scriptPath string) {
	if cfg.ScriptURL == "" {
		cfg.ScriptURL = scriptPath
	}
	if cfg.Scope == "" {
		cfg.Scope = "/"
	}
	if cfg.PagePath == "" {
		cfg.PagePath = "/"
	}
	if cfg.CacheName == "" {
		cfg.CacheName = core.DefaultCacheName
	}
	if cfg.OfflineFallbackPath == "" {
		cfg.OfflineFallbackPath = core.DefaultOfflineFallbackPath
	}
	if cfg.PrecacheConcurrency <= 0 {
		cfg.PrecacheConcurrency = core.DefaultPrecacheConcurrency
	}
}

func applyNetworkDefaults(cfg *NetworkConfig) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxResponseBytes == 0 {
		cfg.MaxResponseBytes = 10 << 20
	}
}

func applyStoreDefaults(cfg *StoreConfig) {
	if cfg.Driver == "" {
		cfg.Driver = "memory"
	}
}
