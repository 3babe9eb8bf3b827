// Package config loads swkit's static configuration.
//
// Sources, highest precedence first:
//  1. CLI flags
//  2. Environment variables (SWKIT_*)
//  3. Configuration file (YAML)
//  4. Default values
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the swkit configuration.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Worker   WorkerConfig   `mapstructure:"worker" yaml:"worker"`
	Network  NetworkConfig  `mapstructure:"network" yaml:"network"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	Policies []PolicyConfig `mapstructure:"policies" validate:"dive" yaml:"policies"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is DEBUG, INFO, WARN or ERROR (case-insensitive).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`
	// Format is text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
	// Output is stdout, stderr or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// ServerConfig configures the HTTP front end of `swkit serve`.
type ServerConfig struct {
	Addr string `mapstructure:"addr" validate:"required" yaml:"addr"`
	// ScriptPath is where the browser-side service worker is served.
	ScriptPath string `mapstructure:"script_path" validate:"required,startswith=/" yaml:"script_path"`
	// ControlPath is the WebSocket endpoint for host commands and
	// worker notifications. Empty disables it.
	ControlPath string `mapstructure:"control_path" validate:"omitempty,startswith=/" yaml:"control_path"`
	// MetricsPath exposes Prometheus metrics. Empty disables it.
	MetricsPath     string        `mapstructure:"metrics_path" validate:"omitempty,startswith=/" yaml:"metrics_path"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// WorkerConfig describes the registered worker and its engine.
type WorkerConfig struct {
	ScriptURL string `mapstructure:"script_url" validate:"required" yaml:"script_url"`
	Scope     string `mapstructure:"scope" yaml:"scope"`
	// PagePath is the page the in-process container belongs to.
	PagePath            string   `mapstructure:"page_path" validate:"required,startswith=/" yaml:"page_path"`
	CacheName           string   `mapstructure:"cache_name" validate:"required" yaml:"cache_name"`
	OfflineFallbackPath string   `mapstructure:"offline_fallback_path" validate:"required,startswith=/" yaml:"offline_fallback_path"`
	Precache            []string `mapstructure:"precache" yaml:"precache,omitempty"`
	PrecacheConcurrency int      `mapstructure:"precache_concurrency" validate:"gte=1" yaml:"precache_concurrency"`
	// Origin is the base URL relative precache paths resolve against.
	// Required once anything is precached.
	Origin string `mapstructure:"origin" validate:"required_with=Precache,omitempty,url" yaml:"origin,omitempty"`
	// Minify passes the served script through esbuild.
	Minify bool `mapstructure:"minify" yaml:"minify"`
}

// NetworkConfig configures the worker's outbound client.
type NetworkConfig struct {
	Upstream         string        `mapstructure:"upstream" validate:"omitempty,url" yaml:"upstream,omitempty"`
	Timeout          time.Duration `mapstructure:"timeout" validate:"gt=0" yaml:"timeout"`
	MaxResponseBytes int64         `mapstructure:"max_response_bytes" validate:"gt=0" yaml:"max_response_bytes"`
	AllowPrivate     bool          `mapstructure:"allow_private" yaml:"allow_private"`
}

// StoreConfig selects the Cache Storage backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=memory sqlite" yaml:"driver"`
	Path   string `mapstructure:"path" validate:"required_if=Driver sqlite" yaml:"path,omitempty"`
}

// PolicyConfig declares one cache policy at startup. Declaration order is
// match precedence.
type PolicyConfig struct {
	Pattern       string `mapstructure:"pattern" validate:"required" yaml:"pattern"`
	Strategy      string `mapstructure:"strategy" validate:"required,strategy" yaml:"strategy"`
	CacheKey      string `mapstructure:"cache_key" yaml:"cache_key,omitempty"`
	MaxAgeSeconds *int   `mapstructure:"max_age_seconds" validate:"omitempty,gte=0" yaml:"max_age_seconds,omitempty"`
}

// Load reads configuration from configPath, or from the default location
// when empty. A missing file yields the defaults with environment
// overrides applied.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Save writes cfg as YAML, creating parent directories.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// DefaultPath is $XDG_CONFIG_HOME/swkit/config.yaml, falling back to
// ~/.config.
func DefaultPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

func configDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "swkit")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "swkit")
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("SWKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(configDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// bindDefaults registers every scalar key so AutomaticEnv can override it
// even when the file does not mention it.
func bindDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.script_path", d.Server.ScriptPath)
	v.SetDefault("server.control_path", d.Server.ControlPath)
	v.SetDefault("server.metrics_path", d.Server.MetricsPath)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("worker.script_url", d.Worker.ScriptURL)
	v.SetDefault("worker.scope", d.Worker.Scope)
	v.SetDefault("worker.page_path", d.Worker.PagePath)
	v.SetDefault("worker.cache_name", d.Worker.CacheName)
	v.SetDefault("worker.offline_fallback_path", d.Worker.OfflineFallbackPath)
	v.SetDefault("worker.precache_concurrency", d.Worker.PrecacheConcurrency)
	v.SetDefault("worker.origin", d.Worker.Origin)
	v.SetDefault("worker.minify", d.Worker.Minify)
	v.SetDefault("network.upstream", d.Network.Upstream)
	v.SetDefault("network.timeout", d.Network.Timeout)
	v.SetDefault("network.max_response_bytes", d.Network.MaxResponseBytes)
	v.SetDefault("network.allow_private", d.Network.AllowPrivate)
	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.path", d.Store.Path)
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}
