package cache

import (
	"time"

	"github.com/kubeflow/upgrade-manager/internal/envconf"
)

// CacheConfig holds configuration for the property cache.
type CacheConfig struct {
	// Enabled controls whether caching is active. When false, property
	// reads always go to the database.
	Enabled bool

	// PropertyTTL bounds how long a cached property value is trusted.
	PropertyTTL time.Duration

	// MaxSize is the maximum number of cached properties.
	MaxSize int
}

// DefaultCacheConfig returns a CacheConfig with sensible defaults.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		Enabled:     true,
		PropertyTTL: 5 * time.Minute,
		MaxSize:     1000,
	}
}

// CacheConfigFromEnv reads UPGRADE_CACHE_ENABLED, UPGRADE_CACHE_PROPERTY_TTL
// (seconds or a duration) and UPGRADE_CACHE_MAX_SIZE.
func CacheConfigFromEnv() *CacheConfig {
	cfg := DefaultCacheConfig()
	cfg.Enabled = envconf.Bool("UPGRADE_CACHE_ENABLED", cfg.Enabled)
	cfg.PropertyTTL = envconf.Duration("UPGRADE_CACHE_PROPERTY_TTL", time.Second, cfg.PropertyTTL)
	cfg.MaxSize = envconf.Int("UPGRADE_CACHE_MAX_SIZE", cfg.MaxSize, 1)
	return cfg
}
