package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	vstepro "github.com/eugener/vstepro/internal"
	"github.com/eugener/vstepro/internal/cache"
	"github.com/eugener/vstepro/internal/storage"
	"github.com/eugener/vstepro/internal/telemetry"
)

// Practice runs practice sessions: start, view and submit for grading.
type Practice struct {
	store   storage.SessionStore
	catalog *Catalog
	cache   cache.Cache
	inv     invalidator
	metrics *telemetry.Metrics
	now     func() time.Time
}

// NewPractice returns a Practice service. m may be nil.
func NewPractice(store storage.SessionStore, catalog *Catalog, c cache.Cache, m *telemetry.Metrics) *Practice {
	return &Practice{
		store:   store,
		catalog: catalog,
		cache:   c,
		inv:     invalidator{cache: c, metrics: m},
		metrics: m,
		now:     time.Now,
	}
}

// StartSession opens a new session for the caller on a published exam set.
func (p *Practice) StartSession(ctx context.Context, caller *vstepro.Identity, examSetID string) (*vstepro.PracticeSession, error) {
	if examSetID == "" {
		return nil, fmt.Errorf("exam_set_id is required: %w", vstepro.ErrBadRequest)
	}
	qs, err := p.catalog.ListQuestions(ctx, examSetID, caller.Can(vstepro.PermManageContent))
	if err != nil {
		return nil, err
	}
	if len(qs) == 0 {
		return nil, fmt.Errorf("exam set %s has no questions: %w", examSetID, vstepro.ErrBadRequest)
	}

	ps := &vstepro.PracticeSession{
		ID:        uuid.Must(uuid.NewV7()).String(),
		UserID:    caller.UserID,
		ExamSetID: examSetID,
		Status:    vstepro.SessionInProgress,
		MaxScore:  maxScore(qs),
		StartedAt: p.now().UTC(),
	}
	if err := p.store.CreateSession(ctx, ps); err != nil {
		return nil, err
	}
	p.inv.invalidate(ctx,
		cache.UserStats.Key(caller.UserID),
		cache.ResponsePattern("/v1/users/"+caller.UserID+"/stats"),
	)
	return ps, nil
}

// GetSession returns a session owned by the caller. Callers allowed to view
// all statistics may read any session. Sessions of other users are reported
// as not found.
func (p *Practice) GetSession(ctx context.Context, caller *vstepro.Identity, id string) (*vstepro.PracticeSession, error) {
	ps, err := cache.Load(ctx, p.cache, cache.Session.Key(id), cache.Session.TTL,
		func(ctx context.Context) (*vstepro.PracticeSession, error) {
			return p.store.GetSession(ctx, id)
		})
	if err != nil {
		return nil, err
	}
	if !canSee(caller, ps.UserID) {
		return nil, fmt.Errorf("session %s: %w", id, vstepro.ErrNotFound)
	}
	return ps, nil
}

// SubmitSession grades responses (question ID -> response) against the
// answer key and closes the session. Comparison ignores case and surrounding
// whitespace. Unanswered questions score zero. A second submit is ErrConflict.
func (p *Practice) SubmitSession(ctx context.Context, caller *vstepro.Identity, id string, responses map[string]string) (*vstepro.PracticeSession, error) {
	ps, err := p.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if ps.UserID != caller.UserID {
		return nil, fmt.Errorf("session %s: %w", id, vstepro.ErrNotFound)
	}
	if ps.Status != vstepro.SessionInProgress {
		return nil, fmt.Errorf("session %s already submitted: %w", id, vstepro.ErrConflict)
	}

	qs, err := p.catalog.questions(ctx, ps.ExamSetID)
	if err != nil {
		return nil, err
	}
	for qid := range responses {
		if !containsQuestion(qs, qid) {
			return nil, fmt.Errorf("question %s is not part of this exam set: %w", qid, vstepro.ErrBadRequest)
		}
	}

	ps.Answers, ps.Score = grade(qs, responses)
	ps.MaxScore = maxScore(qs)
	submitted := p.now().UTC()
	ps.SubmittedAt = &submitted

	if err := p.store.SubmitSession(ctx, ps); err != nil {
		return nil, err
	}
	ps.Status = vstepro.SessionSubmitted

	if p.metrics != nil {
		p.metrics.SessionsSubmitted.Inc()
	}
	p.inv.invalidate(ctx,
		cache.Session.Key(id),
		cache.UserStats.Key(ps.UserID),
		cache.Leaderboard.Pattern(),
		cache.ResponsePattern("/v1/sessions/"+id),
		cache.ResponsePattern("/v1/users/"+ps.UserID+"/stats"),
		cache.ResponsePattern("/v1/leaderboard"),
	)
	return ps, nil
}

func grade(qs []*vstepro.Question, responses map[string]string) ([]vstepro.Answer, int) {
	answers := make([]vstepro.Answer, 0, len(qs))
	score := 0
	for _, q := range qs {
		resp := responses[q.ID]
		a := vstepro.Answer{QuestionID: q.ID, Response: resp}
		if resp != "" && strings.EqualFold(strings.TrimSpace(resp), strings.TrimSpace(q.Answer)) {
			a.Correct = true
			a.Points = q.Points
			score += q.Points
		}
		answers = append(answers, a)
	}
	return answers, score
}

func maxScore(qs []*vstepro.Question) int {
	total := 0
	for _, q := range qs {
		total += q.Points
	}
	return total
}

func containsQuestion(qs []*vstepro.Question, id string) bool {
	for _, q := range qs {
		if q.ID == id {
			return true
		}
	}
	return false
}

func canSee(caller *vstepro.Identity, ownerID string) bool {
	return caller.UserID == ownerID || caller.Can(vstepro.PermViewAllStats)
}
