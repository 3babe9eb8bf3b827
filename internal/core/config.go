package core

// Defaults for EngineConfig.
const (
	DefaultCacheName           = "swkit-cache-v1"
	DefaultOfflineFallbackPath = "/offline"
	DefaultPrecacheConcurrency = 4
)

// EngineConfig holds runtime configuration for the fetch engine.
type EngineConfig struct {
	CacheName           string   // current cache generation tag
	OfflineFallbackPath string   // page served to navigations when offline
	Precache            []string // critical assets cached on install
	PrecacheConcurrency int      // max parallel fetches during install
	// BaseURL is the origin relative precache paths resolve against.
	BaseURL string
}

// WithDefaults fills unset fields.
func (c EngineConfig) WithDefaults() EngineConfig {
	if c.CacheName == "" {
		c.CacheName = DefaultCacheName
	}
	if c.OfflineFallbackPath == "" {
		c.OfflineFallbackPath = DefaultOfflineFallbackPath
	}
	if c.PrecacheConcurrency <= 0 {
		c.PrecacheConcurrency = DefaultPrecacheConcurrency
	}
	return c
}
