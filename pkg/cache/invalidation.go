package cache

// Invalidator is handed to code that writes properties behind the cache's
// back, such as upgrade tasks issuing raw SQL.
type Invalidator interface {
	InvalidateProperty(key string)
	InvalidatePrefix(prefix string)
	InvalidateAll()
}

// NoopInvalidator is used when caching is disabled.
type NoopInvalidator struct{}

func (NoopInvalidator) InvalidateProperty(string) {}
func (NoopInvalidator) InvalidatePrefix(string)   {}
func (NoopInvalidator) InvalidateAll()            {}
