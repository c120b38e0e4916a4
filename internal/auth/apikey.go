// Package auth implements API key authentication for VSTEPRO.
// Keys are validated against the store and cached in a W-TinyLFU cache.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	vstepro "github.com/eugener/vstepro/internal"
	"github.com/eugener/vstepro/internal/storage"
	"github.com/maypok86/otter/v2"
)

const (
	cacheTTL    = 30 * time.Second // upper bound on how long a revoked key keeps working
	cacheMaxLen = 10_000
)

// APIKeyAuth authenticates requests using API keys with the "vsp_" prefix.
// It caches resolved API keys in an otter W-TinyLFU cache for fast lookups.
type APIKeyAuth struct {
	store       storage.APIKeyStore
	cache       *otter.Cache[string, *vstepro.APIKey]
	keyIDToHash sync.Map // keyID -> hash for cache invalidation by key ID
	now         func() time.Time
}

// NewAPIKeyAuth returns a new APIKeyAuth backed by store.
func NewAPIKeyAuth(store storage.APIKeyStore) (*APIKeyAuth, error) {
	c, err := otter.New(&otter.Options[string, *vstepro.APIKey]{
		MaximumSize:      cacheMaxLen,
		ExpiryCalculator: otter.ExpiryWriting[string, *vstepro.APIKey](cacheTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create auth cache: %w", err)
	}
	return &APIKeyAuth{store: store, cache: c, now: time.Now}, nil
}

// Authenticate extracts a Bearer token from the Authorization header,
// validates it against the store, and returns the caller's Identity.
// Only keys with the "vsp_" prefix are handled; all others return ErrUnauthorized.
func (a *APIKeyAuth) Authenticate(ctx context.Context, r *http.Request) (*vstepro.Identity, error) {
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return nil, vstepro.ErrUnauthorized
	}
	if !strings.HasPrefix(raw, vstepro.APIKeyPrefix) {
		return nil, vstepro.ErrUnauthorized
	}

	hash := vstepro.HashKey(raw)

	if key, ok := a.cache.GetIfPresent(hash); ok {
		if err := a.checkUsable(key); err != nil {
			if errors.Is(err, vstepro.ErrKeyExpired) {
				a.cache.Invalidate(hash)
			}
			return nil, err
		}
		return buildIdentity(key), nil
	}

	key, err := a.store.GetKeyByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, vstepro.ErrNotFound) {
			return nil, vstepro.ErrUnauthorized
		}
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(key.KeyHash), []byte(hash)) != 1 {
		return nil, vstepro.ErrUnauthorized
	}

	// Blocked keys are cached too so repeated attempts stay off the database.
	a.cache.Set(hash, key)
	a.keyIDToHash.Store(key.ID, hash)

	if err := a.checkUsable(key); err != nil {
		if errors.Is(err, vstepro.ErrKeyExpired) {
			a.cache.Invalidate(hash)
		}
		return nil, err
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		a.store.TouchKeyUsed(ctx, key.ID) //nolint:errcheck
	}()

	return buildIdentity(key), nil
}

func (a *APIKeyAuth) checkUsable(key *vstepro.APIKey) error {
	if key.Blocked {
		return vstepro.ErrKeyBlocked
	}
	if key.ExpiresAt != nil && key.ExpiresAt.Before(a.now()) {
		return vstepro.ErrKeyExpired
	}
	return nil
}

// InvalidateByKeyID removes a cached API key by its key ID.
// Used when admin operations (block, update, delete) modify a key.
func (a *APIKeyAuth) InvalidateByKeyID(keyID string) {
	if hash, ok := a.keyIDToHash.LoadAndDelete(keyID); ok {
		a.cache.Invalidate(hash.(string))
	}
}

// buildIdentity constructs an Identity from a validated API key.
func buildIdentity(key *vstepro.APIKey) *vstepro.Identity {
	role := key.Role
	if _, ok := vstepro.RolePermissions[role]; !ok {
		role = vstepro.DefaultRole
	}
	return &vstepro.Identity{
		Subject:    key.KeyPrefix,
		KeyID:      key.ID,
		UserID:     key.UserID,
		Role:       role,
		Perms:      vstepro.RolePermissions[role],
		AuthMethod: "apikey",
	}
}
