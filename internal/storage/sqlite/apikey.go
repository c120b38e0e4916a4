package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	vstepro "github.com/eugener/vstepro/internal"
)

const keyColumns = `id, key_hash, key_prefix, name, user_id, role, expires_at, blocked, last_used_at, created_at`

// CreateKey inserts a new API key.
func (s *Store) CreateKey(ctx context.Context, key *vstepro.APIKey) error {
	role := key.Role
	if role == "" {
		role = vstepro.DefaultRole
	}
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO api_keys (`+keyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key.ID, key.KeyHash, key.KeyPrefix, nullStr(key.Name), key.UserID, role,
		timeToStr(key.ExpiresAt), boolToInt(key.Blocked), timeToStr(key.LastUsedAt),
		key.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// GetKey retrieves an API key by its ID.
func (s *Store) GetKey(ctx context.Context, id string) (*vstepro.APIKey, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE id = ?`, id,
	)
	return scanKey(row)
}

// GetKeyByHash retrieves an API key by its SHA-256 hash.
func (s *Store) GetKeyByHash(ctx context.Context, hash string) (*vstepro.APIKey, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE key_hash = ?`, hash,
	)
	return scanKey(row)
}

// ListKeys returns API keys, newest first.
func (s *Store) ListKeys(ctx context.Context, offset, limit int) ([]*vstepro.APIKey, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*vstepro.APIKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// UpdateKey updates the mutable fields of an API key.
func (s *Store) UpdateKey(ctx context.Context, key *vstepro.APIKey) error {
	role := key.Role
	if role == "" {
		role = vstepro.DefaultRole
	}
	result, err := s.write.ExecContext(ctx,
		`UPDATE api_keys SET name=?, role=?, expires_at=?, blocked=? WHERE id=?`,
		nullStr(key.Name), role, timeToStr(key.ExpiresAt), boolToInt(key.Blocked), key.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "api key")
}

// DeleteKey removes an API key.
func (s *Store) DeleteKey(ctx context.Context, id string) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM api_keys WHERE id=?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "api key")
}

// TouchKeyUsed updates the last_used_at timestamp.
func (s *Store) TouchKeyUsed(ctx context.Context, id string) error {
	_, err := s.write.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at=? WHERE id=?`,
		time.Now().UTC().Format(time.RFC3339), id,
	)
	return err
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// notFoundErr translates sql.ErrNoRows to vstepro.ErrNotFound.
func notFoundErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return vstepro.ErrNotFound
	}
	return err
}

func scanKey(s scanner) (*vstepro.APIKey, error) {
	var k vstepro.APIKey
	var name sql.NullString
	var expiresAt, lastUsedAt, createdAt sql.NullString
	var blocked int

	err := s.Scan(
		&k.ID, &k.KeyHash, &k.KeyPrefix, &name, &k.UserID, &k.Role,
		&expiresAt, &blocked, &lastUsedAt, &createdAt,
	)
	if err != nil {
		return nil, notFoundErr(err)
	}

	k.Name = name.String
	k.Blocked = blocked != 0
	if k.Role == "" {
		k.Role = vstepro.DefaultRole
	}
	k.ExpiresAt = parseTime(expiresAt)
	k.LastUsedAt = parseTime(lastUsedAt)
	if t := parseTime(createdAt); t != nil {
		k.CreatedAt = *t
	}
	return &k, nil
}

// helpers

func marshalJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalJSON[T any](ns sql.NullString) ([]T, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var out []T
	if err := json.Unmarshal([]byte(ns.String), &out); err != nil {
		return nil, fmt.Errorf("unmarshal json column: %w", err)
	}
	return out, nil
}

func timeToStr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func parseTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func checkRowsAffected(result sql.Result, entity string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", entity, vstepro.ErrNotFound)
	}
	return nil
}
