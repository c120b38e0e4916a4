package testutil

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"

	vstepro "github.com/eugener/vstepro/internal"
	"github.com/eugener/vstepro/internal/storage"
)

var _ storage.Store = (*FakeStore)(nil)

// FakeStore is an in-memory implementation of storage.Store for testing.
// Read counters let tests assert how often the cache fell through.
type FakeStore struct {
	mu        sync.RWMutex
	keys      map[string]*vstepro.APIKey
	examSets  map[string]*vstepro.ExamSet
	questions map[string]*vstepro.Question
	sessions  map[string]*vstepro.PracticeSession

	ExamSetReads  atomic.Int64
	QuestionReads atomic.Int64
	SessionReads  atomic.Int64
	StatsReads    atomic.Int64
}

// NewFakeStore returns a FakeStore with empty collections.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		keys:      make(map[string]*vstepro.APIKey),
		examSets:  make(map[string]*vstepro.ExamSet),
		questions: make(map[string]*vstepro.Question),
		sessions:  make(map[string]*vstepro.PracticeSession),
	}
}

// --- APIKeyStore ---

// CreateKey stores a key.
func (s *FakeStore) CreateKey(_ context.Context, key *vstepro.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key.ID]; ok {
		return vstepro.ErrConflict
	}
	cp := *key
	s.keys[key.ID] = &cp
	return nil
}

// GetKey looks up a key by ID.
func (s *FakeStore) GetKey(_ context.Context, id string) (*vstepro.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[id]
	if !ok {
		return nil, vstepro.ErrNotFound
	}
	cp := *k
	return &cp, nil
}

// GetKeyByHash looks up a key by hash.
func (s *FakeStore) GetKeyByHash(_ context.Context, hash string) (*vstepro.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.keys {
		if k.KeyHash == hash {
			cp := *k
			return &cp, nil
		}
	}
	return nil, vstepro.ErrNotFound
}

// ListKeys returns keys ordered by ID.
func (s *FakeStore) ListKeys(_ context.Context, offset, limit int) ([]*vstepro.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*vstepro.APIKey, 0, len(s.keys))
	for _, k := range s.keys {
		cp := *k
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *vstepro.APIKey) int { return cmp.Compare(a.ID, b.ID) })
	return page(out, offset, limit), nil
}

// UpdateKey replaces a stored key.
func (s *FakeStore) UpdateKey(_ context.Context, key *vstepro.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key.ID]; !ok {
		return vstepro.ErrNotFound
	}
	cp := *key
	s.keys[key.ID] = &cp
	return nil
}

// DeleteKey removes a key.
func (s *FakeStore) DeleteKey(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[id]; !ok {
		return vstepro.ErrNotFound
	}
	delete(s.keys, id)
	return nil
}

// TouchKeyUsed is a no-op.
func (s *FakeStore) TouchKeyUsed(context.Context, string) error { return nil }

// --- ExamStore ---

// CreateExamSet stores an exam set.
func (s *FakeStore) CreateExamSet(_ context.Context, es *vstepro.ExamSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.examSets[es.ID]; ok {
		return vstepro.ErrConflict
	}
	cp := *es
	s.examSets[es.ID] = &cp
	return nil
}

// GetExamSet looks up an exam set.
func (s *FakeStore) GetExamSet(_ context.Context, id string) (*vstepro.ExamSet, error) {
	s.ExamSetReads.Add(1)
	s.mu.RLock()
	defer s.mu.RUnlock()
	es, ok := s.examSets[id]
	if !ok {
		return nil, vstepro.ErrNotFound
	}
	cp := *es
	return &cp, nil
}

// ListExamSets filters exam sets in ID order.
func (s *FakeStore) ListExamSets(_ context.Context, f vstepro.ExamSetFilter) ([]*vstepro.ExamSet, error) {
	s.ExamSetReads.Add(1)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*vstepro.ExamSet
	for _, es := range s.examSets {
		if f.Level != "" && es.Level != f.Level {
			continue
		}
		if f.Skill != "" && es.Skill != f.Skill {
			continue
		}
		if f.PublishedOnly && !es.Published {
			continue
		}
		cp := *es
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *vstepro.ExamSet) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// UpdateExamSet replaces an exam set.
func (s *FakeStore) UpdateExamSet(_ context.Context, es *vstepro.ExamSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.examSets[es.ID]; !ok {
		return vstepro.ErrNotFound
	}
	cp := *es
	s.examSets[es.ID] = &cp
	return nil
}

// DeleteExamSet removes an exam set with its questions and sessions.
func (s *FakeStore) DeleteExamSet(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.examSets[id]; !ok {
		return vstepro.ErrNotFound
	}
	delete(s.examSets, id)
	for qid, q := range s.questions {
		if q.ExamSetID == id {
			delete(s.questions, qid)
		}
	}
	for sid, ps := range s.sessions {
		if ps.ExamSetID == id {
			delete(s.sessions, sid)
		}
	}
	return nil
}

// CreateQuestion stores a question. The exam set must exist.
func (s *FakeStore) CreateQuestion(_ context.Context, q *vstepro.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.examSets[q.ExamSetID]; !ok {
		return fmt.Errorf("exam set %s: %w", q.ExamSetID, vstepro.ErrNotFound)
	}
	cp := *q
	s.questions[q.ID] = &cp
	return nil
}

// GetQuestion looks up a question.
func (s *FakeStore) GetQuestion(_ context.Context, id string) (*vstepro.Question, error) {
	s.QuestionReads.Add(1)
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.questions[id]
	if !ok {
		return nil, vstepro.ErrNotFound
	}
	cp := *q
	return &cp, nil
}

// ListQuestions returns the questions of an exam set in position order.
func (s *FakeStore) ListQuestions(_ context.Context, examSetID string) ([]*vstepro.Question, error) {
	s.QuestionReads.Add(1)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*vstepro.Question
	for _, q := range s.questions {
		if q.ExamSetID == examSetID {
			cp := *q
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *vstepro.Question) int {
		return cmp.Or(cmp.Compare(a.Position, b.Position), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

// --- SessionStore ---

// CreateSession stores a session.
func (s *FakeStore) CreateSession(_ context.Context, ps *vstepro.PracticeSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ps
	s.sessions[ps.ID] = &cp
	return nil
}

// GetSession looks up a session.
func (s *FakeStore) GetSession(_ context.Context, id string) (*vstepro.PracticeSession, error) {
	s.SessionReads.Add(1)
	s.mu.RLock()
	defer s.mu.RUnlock()
	ps, ok := s.sessions[id]
	if !ok {
		return nil, vstepro.ErrNotFound
	}
	cp := *ps
	return &cp, nil
}

// SubmitSession marks an in-progress session submitted.
func (s *FakeStore) SubmitSession(_ context.Context, ps *vstepro.PracticeSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.sessions[ps.ID]
	if !ok {
		return vstepro.ErrNotFound
	}
	if cur.Status != vstepro.SessionInProgress {
		return vstepro.ErrConflict
	}
	cp := *ps
	cp.Status = vstepro.SessionSubmitted
	s.sessions[ps.ID] = &cp
	return nil
}

// --- StatsStore ---

// UserStats aggregates a user's sessions.
func (s *FakeStore) UserStats(_ context.Context, userID string) (*vstepro.UserStats, error) {
	s.StatsReads.Add(1)
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := &vstepro.UserStats{UserID: userID}
	var total float64
	for _, ps := range s.sessions {
		if ps.UserID != userID {
			continue
		}
		st.SessionsStarted++
		last := ps.StartedAt
		if ps.SubmittedAt != nil {
			last = *ps.SubmittedAt
		}
		if st.LastActivityAt == nil || last.After(*st.LastActivityAt) {
			st.LastActivityAt = &last
		}
		if ps.Status != vstepro.SessionSubmitted {
			continue
		}
		st.SessionsCompleted++
		if ps.MaxScore > 0 {
			pct := float64(ps.Score) * 100 / float64(ps.MaxScore)
			total += pct
			st.BestScore = max(st.BestScore, pct)
		}
	}
	if st.SessionsCompleted > 0 {
		st.AverageScore = math.Round(total/float64(st.SessionsCompleted)*100) / 100
	}
	st.BestScore = math.Round(st.BestScore*100) / 100
	return st, nil
}

// Leaderboard ranks users by best percentage score.
func (s *FakeStore) Leaderboard(_ context.Context, limit int) ([]vstepro.LeaderboardEntry, error) {
	s.StatsReads.Add(1)
	s.mu.RLock()
	defer s.mu.RUnlock()
	byUser := make(map[string]*vstepro.LeaderboardEntry)
	for _, ps := range s.sessions {
		if ps.Status != vstepro.SessionSubmitted || ps.MaxScore <= 0 {
			continue
		}
		e, ok := byUser[ps.UserID]
		if !ok {
			e = &vstepro.LeaderboardEntry{UserID: ps.UserID}
			byUser[ps.UserID] = e
		}
		e.Sessions++
		e.BestScore = max(e.BestScore, float64(ps.Score)*100/float64(ps.MaxScore))
	}
	out := make([]vstepro.LeaderboardEntry, 0, len(byUser))
	for _, e := range byUser {
		out = append(out, *e)
	}
	slices.SortFunc(out, func(a, b vstepro.LeaderboardEntry) int {
		return cmp.Or(cmp.Compare(b.BestScore, a.BestScore), cmp.Compare(a.UserID, b.UserID))
	})
	out = page(out, 0, limit)
	for i := range out {
		out[i].Rank = i + 1
		out[i].BestScore = math.Round(out[i].BestScore*100) / 100
	}
	return out, nil
}

// Close is a no-op.
func (s *FakeStore) Close() error { return nil }

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return items[:0]
	}
	items = items[offset:]
	if limit >= 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
