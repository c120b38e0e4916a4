package cache

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/singleflight"
)

// StoreOptions configures a Store.
type StoreOptions struct {
	// DefaultTTL applies to Set and GetOrSet calls with ttl <= 0.
	// Zero means DefaultTTL (one hour).
	DefaultTTL time.Duration
	// Clock supplies the current time. Nil means the wall clock.
	Clock clock.Clock
	// Coalesce makes concurrent GetOrSet misses on one key share a single
	// call to the load function. Without it every concurrent miss loads.
	Coalesce bool
}

// storeEntry wraps a cached value with its expiration time.
type storeEntry struct {
	value     any
	expiresAt time.Time
}

// Store is an in-memory key/value cache with per-entry expiry.
// Expired entries are dropped when read and by Sweep; nothing runs in the
// background until a sweeper is attached (see worker.CacheSweeper).
type Store struct {
	mu         sync.RWMutex
	entries    map[string]storeEntry
	clock      clock.Clock
	defaultTTL time.Duration
	coalesce   bool
	flight     singleflight.Group
}

// NewStore creates an empty Store.
func NewStore(opts StoreOptions) *Store {
	s := &Store{
		entries:    make(map[string]storeEntry),
		clock:      opts.Clock,
		defaultTTL: opts.DefaultTTL,
		coalesce:   opts.Coalesce,
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.defaultTTL <= 0 {
		s.defaultTTL = DefaultTTL
	}
	return s
}

// Get returns the value for key if present and not expired.
func (s *Store) Get(_ context.Context, key string) (any, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if s.clock.Now().After(e.expiresAt) {
		s.evictExpired(key)
		return nil, false
	}
	return e.value, true
}

// evictExpired removes key if it is still expired under the write lock.
// A concurrent Set may have replaced the entry between the read and here.
func (s *Store) evictExpired(key string) {
	s.mu.Lock()
	if e, ok := s.entries[key]; ok && s.clock.Now().After(e.expiresAt) {
		delete(s.entries, key)
	}
	s.mu.Unlock()
}

// Set stores val under key. A non-positive ttl uses the store default.
func (s *Store) Set(_ context.Context, key string, val any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	e := storeEntry{value: val, expiresAt: s.clock.Now().Add(ttl)}
	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
}

// Delete removes key.
func (s *Store) Delete(_ context.Context, key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// DeletePattern removes every key containing pattern and returns the count.
func (s *Store) DeletePattern(_ context.Context, pattern string) int {
	p := CompilePattern(pattern)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.entries {
		if p.Match(k) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

// Exists reports whether key is present and not expired.
func (s *Store) Exists(ctx context.Context, key string) bool {
	_, ok := s.Get(ctx, key)
	return ok
}

// GetOrSet returns the cached value for key, loading it with fn on a miss.
// With coalescing enabled, the shared load runs detached from the first
// caller's cancellation so joined callers are unaffected when it goes away.
func (s *Store) GetOrSet(ctx context.Context, key string, fn LoadFunc, ttl time.Duration) (any, error) {
	if v, ok := s.Get(ctx, key); ok {
		return v, nil
	}
	if !s.coalesce {
		return s.load(ctx, key, fn, ttl)
	}
	v, err, _ := s.flight.Do(key, func() (any, error) {
		// A flight that finished just before this one may have filled the key.
		if v, ok := s.Get(ctx, key); ok {
			return v, nil
		}
		return s.load(context.WithoutCancel(ctx), key, fn, ttl)
	})
	return v, err
}

func (s *Store) load(ctx context.Context, key string, fn LoadFunc, ttl time.Duration) (any, error) {
	v, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	s.Set(ctx, key, v, ttl)
	return v, nil
}

// Purge removes all entries.
func (s *Store) Purge(_ context.Context) {
	s.mu.Lock()
	clear(s.entries)
	s.mu.Unlock()
}

// Stats returns the entry count and a sorted snapshot of keys. Expired
// entries that have not been read or swept yet are included.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	slices.Sort(keys)
	return Stats{Size: len(keys), Keys: keys}
}

// Len returns the number of stored entries, expired or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Sweep removes every expired entry and returns how many were removed.
func (s *Store) Sweep() int {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}
