// Package config provides configuration loading and database bootstrapping.
package config

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	vstepro "github.com/eugener/vstepro/internal"
	"github.com/eugener/vstepro/internal/storage"
)

// Bootstrap seeds the database from the config file. Existing rows are left
// untouched, so running it on every start is safe.
func Bootstrap(ctx context.Context, cfg *Config, store storage.Store) error {
	for _, e := range cfg.Seed.ExamSets {
		if e.ID == "" {
			return fmt.Errorf("seed exam set %q: id is required", e.Title)
		}
		existing, err := store.GetExamSet(ctx, e.ID)
		if err == nil && existing != nil {
			continue
		}
		if err != nil && !errors.Is(err, vstepro.ErrNotFound) {
			return err
		}

		now := time.Now().UTC()
		es := &vstepro.ExamSet{
			ID:          e.ID,
			Title:       e.Title,
			Level:       e.Level,
			Skill:       e.Skill,
			Description: e.Description,
			DurationMin: e.DurationMin,
			Published:   e.IsPublished(),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := store.CreateExamSet(ctx, es); err != nil {
			return fmt.Errorf("seed exam set %s: %w", e.ID, err)
		}
		for i, q := range e.Questions {
			question := &vstepro.Question{
				ID:        uuid.Must(uuid.NewV7()).String(),
				ExamSetID: es.ID,
				Position:  i + 1,
				Prompt:    q.Prompt,
				Options:   q.Options,
				Answer:    q.Answer,
				Points:    max(1, q.Points),
			}
			if err := store.CreateQuestion(ctx, question); err != nil {
				return fmt.Errorf("seed question %d of %s: %w", i+1, e.ID, err)
			}
		}
		slog.Info("bootstrapped exam set", "id", es.ID, "questions", len(e.Questions))
	}

	for _, k := range cfg.Keys {
		if k.Key == "" {
			continue
		}
		hash := vstepro.HashKey(k.Key)

		existing, err := store.GetKeyByHash(ctx, hash)
		if err == nil && existing != nil {
			continue
		}
		if err != nil && !errors.Is(err, vstepro.ErrNotFound) {
			return fmt.Errorf("seed key %s: %w", k.Name, err)
		}

		prefix := k.Key
		if len(prefix) > 12 {
			prefix = prefix[:12]
		}
		role := k.Role
		if role == "" {
			role = vstepro.DefaultRole
		}
		userID := k.UserID
		if userID == "" {
			userID = k.Name
		}

		key := &vstepro.APIKey{
			ID:        uuid.Must(uuid.NewV7()).String(),
			KeyHash:   hash,
			KeyPrefix: prefix,
			Name:      k.Name,
			UserID:    userID,
			Role:      role,
			CreatedAt: time.Now().UTC(),
		}
		if err := store.CreateKey(ctx, key); err != nil {
			return err
		}
		slog.Info("bootstrapped api key", "name", k.Name, "prefix", prefix, "role", role)
	}

	return nil
}

// EnsureAdminKey creates an admin key when the store holds no keys at all.
// It returns the plaintext of the new key, or "" when keys already exist.
func EnsureAdminKey(ctx context.Context, store storage.APIKeyStore) (string, error) {
	keys, err := store.ListKeys(ctx, 0, 1)
	if err != nil {
		return "", err
	}
	if len(keys) > 0 {
		return "", nil
	}

	raw := GenerateAdminKey()
	key := &vstepro.APIKey{
		ID:        uuid.Must(uuid.NewV7()).String(),
		KeyHash:   vstepro.HashKey(raw),
		KeyPrefix: raw[:12],
		Name:      "bootstrap-admin",
		UserID:    "admin",
		Role:      "admin",
		CreatedAt: time.Now().UTC(),
	}
	if err := store.CreateKey(ctx, key); err != nil {
		return "", err
	}
	return raw, nil
}

// GenerateAdminKey creates a random admin key and returns the plaintext.
func GenerateAdminKey() string {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		panic("crypto/rand: " + err.Error())
	}
	return vstepro.APIKeyPrefix + base64.RawURLEncoding.EncodeToString(raw)
}
