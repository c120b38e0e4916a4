package app

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"

	vstepro "github.com/eugener/vstepro/internal"
	"github.com/eugener/vstepro/internal/storage"
)

// KeyRevoker drops any cached state for a key that was removed.
type KeyRevoker interface {
	InvalidateByKeyID(keyID string)
}

// KeyManager handles API key lifecycle (create, delete).
type KeyManager struct {
	store   storage.APIKeyStore
	revoker KeyRevoker // nil = nothing to invalidate
}

// NewKeyManager returns a KeyManager backed by store. revoker may be nil.
func NewKeyManager(store storage.APIKeyStore, revoker KeyRevoker) *KeyManager {
	return &KeyManager{store: store, revoker: revoker}
}

// CreateKeyOpts holds all fields for API key creation.
type CreateKeyOpts struct {
	UserID    string
	Name      string
	Role      string
	ExpiresAt *time.Time
}

// CreateKey generates a new API key with the given options, stores its hash,
// and returns the plaintext (shown once) along with the persisted APIKey record.
func (km *KeyManager) CreateKey(ctx context.Context, opts CreateKeyOpts) (string, *vstepro.APIKey, error) {
	if opts.UserID == "" {
		return "", nil, fmt.Errorf("user_id is required: %w", vstepro.ErrBadRequest)
	}
	role := opts.Role
	if role == "" {
		role = vstepro.DefaultRole
	}
	if _, ok := vstepro.RolePermissions[role]; !ok {
		return "", nil, fmt.Errorf("unknown role %q: %w", role, vstepro.ErrBadRequest)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, err
	}
	plaintext := vstepro.APIKeyPrefix + base64.RawURLEncoding.EncodeToString(raw)

	key := &vstepro.APIKey{
		ID:        uuid.Must(uuid.NewV7()).String(),
		KeyHash:   vstepro.HashKey(plaintext),
		KeyPrefix: plaintext[:12],
		Name:      opts.Name,
		UserID:    opts.UserID,
		Role:      role,
		ExpiresAt: opts.ExpiresAt,
		CreatedAt: time.Now().UTC(),
	}
	if err := km.store.CreateKey(ctx, key); err != nil {
		return "", nil, err
	}
	return plaintext, key, nil
}

// ListKeys returns a page of keys.
func (km *KeyManager) ListKeys(ctx context.Context, offset, limit int) ([]*vstepro.APIKey, error) {
	keys, err := km.store.ListKeys(ctx, offset, limit)
	if keys == nil {
		keys = []*vstepro.APIKey{}
	}
	return keys, err
}

// DeleteKey removes the API key with the given ID and drops it from the
// authentication cache.
func (km *KeyManager) DeleteKey(ctx context.Context, id string) error {
	if err := km.store.DeleteKey(ctx, id); err != nil {
		return err
	}
	if km.revoker != nil {
		km.revoker.InvalidateByKeyID(id)
	}
	return nil
}
