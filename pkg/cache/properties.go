package cache

import (
	"context"
)

// PropertyStore is the uncached property backend.
type PropertyStore interface {
	GetProperty(ctx context.Context, key string) (string, bool, error)
	SetProperty(ctx context.Context, key, value string) error
	PropertyExists(ctx context.Context, key string) (bool, error)
	RemoveProperty(ctx context.Context, key string) error
}

type cachedValue struct {
	value   string
	present bool
}

// CachedProperties is a read-through cache in front of a PropertyStore.
// Absent keys are cached too. Writes through CachedProperties keep the
// cache coherent; writes made elsewhere must go through Invalidator.
type CachedProperties struct {
	store PropertyStore
	cache *LRUCache[cachedValue]
}

var (
	_ PropertyStore = (*CachedProperties)(nil)
	_ Invalidator   = (*CachedProperties)(nil)
)

// NewCachedProperties wraps store. When cfg is nil or disabled, store is
// returned unwrapped together with a NoopInvalidator.
func NewCachedProperties(store PropertyStore, cfg *CacheConfig) (PropertyStore, Invalidator) {
	if cfg == nil || !cfg.Enabled {
		return store, NoopInvalidator{}
	}
	c := &CachedProperties{
		store: store,
		cache: NewLRUCache[cachedValue](cfg.MaxSize, cfg.PropertyTTL),
	}
	return c, c
}

// GetProperty implements PropertyStore.
func (c *CachedProperties) GetProperty(ctx context.Context, key string) (string, bool, error) {
	if v, ok := c.cache.Get(key); ok {
		return v.value, v.present, nil
	}
	value, present, err := c.store.GetProperty(ctx, key)
	if err != nil {
		return "", false, err
	}
	c.cache.Set(key, cachedValue{value: value, present: present})
	return value, present, nil
}

// SetProperty implements PropertyStore.
func (c *CachedProperties) SetProperty(ctx context.Context, key, value string) error {
	c.cache.Invalidate(key)
	return c.store.SetProperty(ctx, key, value)
}

// PropertyExists implements PropertyStore.
func (c *CachedProperties) PropertyExists(ctx context.Context, key string) (bool, error) {
	_, present, err := c.GetProperty(ctx, key)
	return present, err
}

// RemoveProperty implements PropertyStore.
func (c *CachedProperties) RemoveProperty(ctx context.Context, key string) error {
	c.cache.Invalidate(key)
	return c.store.RemoveProperty(ctx, key)
}

// InvalidateProperty implements Invalidator.
func (c *CachedProperties) InvalidateProperty(key string) { c.cache.Invalidate(key) }

// InvalidatePrefix implements Invalidator.
func (c *CachedProperties) InvalidatePrefix(prefix string) { c.cache.InvalidatePrefix(prefix) }

// InvalidateAll implements Invalidator.
func (c *CachedProperties) InvalidateAll() { c.cache.InvalidateAll() }
