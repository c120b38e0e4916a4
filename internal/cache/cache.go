// Package cache provides process-local response and query caching for VSTEPRO.
package cache

import (
	"context"
	"time"
)

// DefaultTTL applies when a caller passes a non-positive TTL.
const DefaultTTL = time.Hour

// LoadFunc produces a value on a cache miss.
type LoadFunc func(ctx context.Context) (any, error)

// Cache is the interface shared by the cache backends.
type Cache interface {
	// Get returns the value for key if present and not expired. An expired
	// entry is removed as a side effect. A stored nil value is a hit.
	Get(ctx context.Context, key string) (any, bool)
	// Set stores val under key, replacing any existing entry.
	Set(ctx context.Context, key string, val any, ttl time.Duration)
	// Delete removes key. Missing keys are ignored.
	Delete(ctx context.Context, key string)
	// DeletePattern removes every key containing pattern, where '*' matches
	// any substring. It returns the number of removed keys.
	DeletePattern(ctx context.Context, pattern string) int
	// Exists reports whether key is present and not expired.
	Exists(ctx context.Context, key string) bool
	// GetOrSet returns the cached value for key, or runs fn and caches its
	// result. Errors from fn are returned unchanged and never cached.
	GetOrSet(ctx context.Context, key string, fn LoadFunc, ttl time.Duration) (any, error)
	// Purge removes all values.
	Purge(ctx context.Context)
	// Stats returns a snapshot of the stored keys.
	Stats() Stats
}

// Stats is a diagnostic snapshot of a cache.
type Stats struct {
	Size int      `json:"size"`
	Keys []string `json:"keys"`
}

// Load is a typed wrapper around GetOrSet. A cached value of the wrong type
// is replaced by a fresh load.
func Load[T any](ctx context.Context, c Cache, key string, ttl time.Duration, fn func(context.Context) (T, error)) (T, error) {
	v, err := c.GetOrSet(ctx, key, func(ctx context.Context) (any, error) {
		return fn(ctx)
	}, ttl)
	if err != nil {
		var zero T
		return zero, err
	}
	if t, ok := v.(T); ok {
		return t, nil
	}

	t, err := fn(ctx)
	if err != nil {
		return t, err
	}
	c.Set(ctx, key, t, ttl)
	return t, nil
}
