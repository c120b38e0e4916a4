package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	vstepro "github.com/eugener/vstepro/internal"
	"github.com/eugener/vstepro/internal/app"
)

// canManage reports whether the caller may see unpublished content.
func canManage(r *http.Request) bool {
	id := vstepro.IdentityFromContext(r.Context())
	return id != nil && id.Can(vstepro.PermManageContent)
}

func (s *server) handleListExamSets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := vstepro.ExamSetFilter{
		Level:         q.Get("level"),
		Skill:         q.Get("skill"),
		PublishedOnly: !canManage(r) || q.Get("published") == "true",
	}
	sets, err := s.deps.Catalog.ListExamSets(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{
		Data:       sets,
		Pagination: pagination{Limit: len(sets)},
	})
}

func (s *server) handleGetExamSet(w http.ResponseWriter, r *http.Request) {
	es, err := s.deps.Catalog.GetExamSet(r.Context(), chi.URLParam(r, "id"), canManage(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, es)
}

func (s *server) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	qs, err := s.deps.Catalog.ListQuestions(r.Context(), chi.URLParam(r, "id"), canManage(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{
		Data:       qs,
		Pagination: pagination{Limit: len(qs)},
	})
}

func (s *server) handleGetQuestion(w http.ResponseWriter, r *http.Request) {
	q, err := s.deps.Catalog.GetQuestion(r.Context(), chi.URLParam(r, "id"), canManage(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *server) handleCreateExamSet(w http.ResponseWriter, r *http.Request) {
	var in app.ExamSetInput
	if !decodeJSON(w, r, &in) {
		return
	}
	es, err := s.deps.Catalog.CreateExamSet(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/exam-sets/"+es.ID)
	writeJSON(w, http.StatusCreated, es)
}

func (s *server) handleUpdateExamSet(w http.ResponseWriter, r *http.Request) {
	var in app.ExamSetInput
	if !decodeJSON(w, r, &in) {
		return
	}
	es, err := s.deps.Catalog.UpdateExamSet(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, es)
}

func (s *server) handleDeleteExamSet(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Catalog.DeleteExamSet(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleAddQuestion(w http.ResponseWriter, r *http.Request) {
	var in app.QuestionInput
	if !decodeJSON(w, r, &in) {
		return
	}
	q, err := s.deps.Catalog.AddQuestion(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/questions/"+q.ID)
	writeJSON(w, http.StatusCreated, q)
}
