package cache

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/maypok86/otter/v2"
)

// entry wraps a cached value with its expiration time.
type entry struct {
	value     any
	expiresAt time.Time
}

// Memory is a bounded in-memory W-TinyLFU cache backed by otter.
// Unlike Store it evicts by frequency once maxSize is reached, and GetOrSet
// always coalesces concurrent loads of the same key.
type Memory struct {
	cache  *otter.Cache[string, entry]
	maxTTL time.Duration
}

// NewMemory creates an in-memory cache with the given max entry count.
// maxTTL caps every per-entry TTL and is also the default for ttl <= 0.
func NewMemory(maxSize int, maxTTL time.Duration) (*Memory, error) {
	if maxTTL <= 0 {
		maxTTL = DefaultTTL
	}
	c, err := otter.New[string, entry](&otter.Options[string, entry]{
		MaximumSize:      maxSize,
		ExpiryCalculator: otter.ExpiryWriting[string, entry](maxTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &Memory{cache: c, maxTTL: maxTTL}, nil
}

func (m *Memory) ttl(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > m.maxTTL {
		return m.maxTTL
	}
	return ttl
}

// Get retrieves a value from the cache if present and not expired.
func (m *Memory) Get(_ context.Context, key string) (any, bool) {
	e, ok := m.cache.GetIfPresent(key)
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		m.cache.Invalidate(key)
		return nil, false
	}
	return e.value, true
}

// Set stores a value with per-entry TTL.
func (m *Memory) Set(_ context.Context, key string, val any, ttl time.Duration) {
	m.cache.Set(key, entry{
		value:     val,
		expiresAt: time.Now().Add(m.ttl(ttl)),
	})
}

// Delete removes a value from the cache.
func (m *Memory) Delete(_ context.Context, key string) {
	m.cache.Invalidate(key)
}

// DeletePattern removes every key containing pattern.
func (m *Memory) DeletePattern(_ context.Context, pattern string) int {
	p := CompilePattern(pattern)
	var matched []string
	for k := range m.cache.All() {
		if p.Match(k) {
			matched = append(matched, k)
		}
	}
	for _, k := range matched {
		m.cache.Invalidate(k)
	}
	return len(matched)
}

// Exists reports whether key is present and not expired.
func (m *Memory) Exists(ctx context.Context, key string) bool {
	_, ok := m.Get(ctx, key)
	return ok
}

// GetOrSet returns the cached value or loads it through otter, which runs
// at most one load per key at a time. The load ignores the triggering
// caller's cancellation since other callers may be waiting on it.
func (m *Memory) GetOrSet(ctx context.Context, key string, fn LoadFunc, ttl time.Duration) (any, error) {
	if v, ok := m.Get(ctx, key); ok {
		return v, nil
	}
	e, err := m.cache.Get(ctx, key, otter.LoaderFunc[string, entry](func(ctx context.Context, _ string) (entry, error) {
		v, err := fn(context.WithoutCancel(ctx))
		if err != nil {
			return entry{}, err
		}
		return entry{value: v, expiresAt: time.Now().Add(m.ttl(ttl))}, nil
	}))
	if err != nil {
		return nil, err
	}
	return e.value, nil
}

// Purge removes all values from the cache.
func (m *Memory) Purge(_ context.Context) {
	m.cache.InvalidateAll()
}

// Stats returns a sorted snapshot of the keys otter currently holds.
func (m *Memory) Stats() Stats {
	var keys []string
	for k := range m.cache.All() {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return Stats{Size: len(keys), Keys: keys}
}

// Len returns otter's estimate of the entry count.
func (m *Memory) Len() int {
	return m.cache.EstimatedSize()
}

// Sweep invalidates entries whose per-entry TTL has passed.
func (m *Memory) Sweep() int {
	now := time.Now()
	var expired []string
	for k, e := range m.cache.All() {
		if now.After(e.expiresAt) {
			expired = append(expired, k)
		}
	}
	for _, k := range expired {
		m.cache.Invalidate(k)
	}
	return len(expired)
}
