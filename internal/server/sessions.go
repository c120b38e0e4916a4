package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	vstepro "github.com/eugener/vstepro/internal"
)

type startSessionRequest struct {
	ExamSetID string `json:"exam_set_id"`
}

type submitSessionRequest struct {
	Answers map[string]string `json:"answers"` // question ID -> response
}

func (s *server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ExamSetID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("exam_set_id is required"))
		return
	}
	ps, err := s.deps.Practice.StartSession(r.Context(), vstepro.IdentityFromContext(r.Context()), req.ExamSetID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/sessions/"+ps.ID)
	writeJSON(w, http.StatusCreated, ps)
}

func (s *server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	ps, err := s.deps.Practice.GetSession(r.Context(), vstepro.IdentityFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (s *server) handleSubmitSession(w http.ResponseWriter, r *http.Request) {
	var req submitSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ps, err := s.deps.Practice.SubmitSession(r.Context(), vstepro.IdentityFromContext(r.Context()),
		chi.URLParam(r, "id"), req.Answers)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

// --- Stats ---

func (s *server) handleUserStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Stats.UserStats(r.Context(), vstepro.IdentityFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.deps.Stats.Leaderboard(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{
		Data:       entries,
		Pagination: pagination{Limit: len(entries)},
	})
}
