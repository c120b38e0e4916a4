package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	vstepro "github.com/eugener/vstepro/internal"
	"github.com/eugener/vstepro/internal/app"
	"github.com/eugener/vstepro/internal/cache"
)

// --- Pagination helpers ---

type pagination struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

type listResponse struct {
	Data       any        `json:"data"`
	Pagination pagination `json:"pagination"`
}

func parsePagination(r *http.Request) (offset, limit int) {
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return
}

// parseExpiresAt parses an optional RFC3339 expires_at string pointer.
// Writes 400 and returns false on invalid format.
func parseExpiresAt(w http.ResponseWriter, raw *string) (*time.Time, bool) {
	if raw == nil {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, *raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid expires_at format"))
		return nil, false
	}
	return &t, true
}

// --- Cache ---

type cachePurgeResponse struct {
	Removed int    `json:"removed"`
	Pattern string `json:"pattern,omitempty"`
}

func (s *server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache == nil {
		writeJSON(w, http.StatusOK, cache.Stats{Keys: []string{}})
		return
	}
	st := s.deps.Cache.Stats()
	if st.Keys == nil {
		st.Keys = []string{}
	}
	writeJSON(w, http.StatusOK, st)
}

// handleCachePurge drops every entry, or only those matching ?pattern=.
func (s *server) handleCachePurge(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache == nil {
		writeJSON(w, http.StatusOK, cachePurgeResponse{})
		return
	}
	pattern := r.URL.Query().Get("pattern")
	var removed int
	if pattern == "" {
		removed = s.deps.Cache.Stats().Size
		s.deps.Cache.Purge(r.Context())
	} else {
		removed = s.deps.Cache.DeletePattern(r.Context(), pattern)
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.CacheInvalidated.Add(float64(removed))
	}
	writeJSON(w, http.StatusOK, cachePurgeResponse{Removed: removed, Pattern: pattern})
}

// --- Keys ---

// keyCreateRequest is the payload for creating a new API key.
type keyCreateRequest struct {
	UserID    string  `json:"user_id"`
	Name      string  `json:"name,omitempty"`
	Role      string  `json:"role,omitempty"`
	ExpiresAt *string `json:"expires_at,omitempty"` // RFC3339
}

// keyCreateResponse includes the plaintext key (shown only once).
type keyCreateResponse struct {
	*vstepro.APIKey
	PlaintextKey string `json:"key"`
}

func (s *server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	offset, limit := parsePagination(r)
	keys, err := s.deps.Keys.ListKeys(r.Context(), offset, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{
		Data:       keys,
		Pagination: pagination{Offset: offset, Limit: limit},
	})
}

func (s *server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req keyCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	expiresAt, ok := parseExpiresAt(w, req.ExpiresAt)
	if !ok {
		return
	}
	plaintext, key, err := s.deps.Keys.CreateKey(r.Context(), app.CreateKeyOpts{
		UserID:    req.UserID,
		Name:      req.Name,
		Role:      req.Role,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/admin/v1/keys/"+key.ID)
	writeJSON(w, http.StatusCreated, keyCreateResponse{APIKey: key, PlaintextKey: plaintext})
}

func (s *server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Keys.DeleteKey(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
