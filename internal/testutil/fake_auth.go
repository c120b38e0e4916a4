// Package testutil provides configurable test fakes for VSTEPRO interfaces.
package testutil

import (
	"context"
	"net/http"
	"strings"

	vstepro "github.com/eugener/vstepro/internal"
)

// FakeAuth always authenticates successfully with admin permissions.
type FakeAuth struct{}

// Authenticate returns a test identity with admin permissions.
func (FakeAuth) Authenticate(_ context.Context, _ *http.Request) (*vstepro.Identity, error) {
	return Identity("admin", "admin"), nil
}

// RejectAuth always rejects authentication.
type RejectAuth struct{}

// Authenticate always returns ErrUnauthorized.
func (RejectAuth) Authenticate(context.Context, *http.Request) (*vstepro.Identity, error) {
	return nil, vstepro.ErrUnauthorized
}

// TokenAuth maps "Bearer <role>:<user>" to an identity with that role and
// user ID. Anything else is rejected.
type TokenAuth struct{}

// Authenticate parses the role and user from the bearer token.
func (TokenAuth) Authenticate(_ context.Context, r *http.Request) (*vstepro.Identity, error) {
	tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return nil, vstepro.ErrUnauthorized
	}
	role, user, ok := strings.Cut(tok, ":")
	if _, known := vstepro.RolePermissions[role]; !ok || !known || user == "" {
		return nil, vstepro.ErrUnauthorized
	}
	return Identity(role, user), nil
}

// Identity builds an identity with the permissions of role.
func Identity(role, userID string) *vstepro.Identity {
	return &vstepro.Identity{
		Subject:    "test",
		KeyID:      "key-" + userID,
		UserID:     userID,
		Role:       role,
		Perms:      vstepro.RolePermissions[role],
		AuthMethod: "apikey",
	}
}
