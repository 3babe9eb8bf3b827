package config

import (
	"fmt"

	"github.com/cryguy/swkit/internal/core"
	"github.com/cryguy/swkit/internal/network"
	"github.com/cryguy/swkit/internal/policy"
)

// EngineConfig returns the Fetch Engine settings.
func (c *Config) EngineConfig() core.EngineConfig {
	return core.EngineConfig{
		CacheName:           c.Worker.CacheName,
		OfflineFallbackPath: c.Worker.OfflineFallbackPath,
		Precache:            append([]string(nil), c.Worker.Precache...),
		PrecacheConcurrency: c.Worker.PrecacheConcurrency,
		BaseURL:             c.Worker.Origin,
	}
}

// NetworkConfig returns the outbound client settings.
func (c *Config) NetworkConfig() network.Config {
	return network.Config{
		Upstream:         c.Network.Upstream,
		Timeout:          c.Network.Timeout,
		MaxResponseBytes: c.Network.MaxResponseBytes,
		AllowPrivate:     c.Network.AllowPrivate,
	}
}

// ApplyPolicies declares the configured policies on p in order.
func (c *Config) ApplyPolicies(p policy.Provider) error {
	for _, pc := range c.Policies {
		s, ok := core.ParseStrategy(pc.Strategy)
		if !ok {
			return fmt.Errorf("policy %q: unknown strategy %q", pc.Pattern, pc.Strategy)
		}
		p.Set(pc.Pattern, core.CachePolicy{
			Strategy:      s,
			CacheKey:      pc.CacheKey,
			MaxAgeSeconds: pc.MaxAgeSeconds,
		})
	}
	return nil
}
