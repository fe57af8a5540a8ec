package cache

import (
	"testing"
	"time"
)

func TestCacheConfigFromEnv(t *testing.T) {
	t.Setenv("UPGRADE_CACHE_ENABLED", "0")
	t.Setenv("UPGRADE_CACHE_PROPERTY_TTL", "30")
	t.Setenv("UPGRADE_CACHE_MAX_SIZE", "bogus")

	cfg := CacheConfigFromEnv()
	if cfg.Enabled {
		t.Error("expected caching to be disabled")
	}
	if cfg.PropertyTTL != 30*time.Second {
		t.Errorf("expected PropertyTTL 30s, got %v", cfg.PropertyTTL)
	}
	if cfg.MaxSize != 1000 {
		t.Errorf("expected default MaxSize 1000, got %d", cfg.MaxSize)
	}
}
