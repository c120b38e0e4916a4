package vstepro

import "errors"

// Sentinel errors for the VSTEPRO domain.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrBadRequest   = errors.New("bad request")
	ErrKeyExpired   = errors.New("api key expired")
	ErrKeyBlocked   = errors.New("api key blocked")
)
