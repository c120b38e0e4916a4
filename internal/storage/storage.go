// Package storage defines persistence interfaces for VSTEPRO.
package storage

import (
	"context"

	vstepro "github.com/eugener/vstepro/internal"
)

// APIKeyStore manages API key persistence.
type APIKeyStore interface {
	CreateKey(ctx context.Context, key *vstepro.APIKey) error
	GetKey(ctx context.Context, id string) (*vstepro.APIKey, error)
	GetKeyByHash(ctx context.Context, hash string) (*vstepro.APIKey, error)
	ListKeys(ctx context.Context, offset, limit int) ([]*vstepro.APIKey, error)
	UpdateKey(ctx context.Context, key *vstepro.APIKey) error
	DeleteKey(ctx context.Context, id string) error
	TouchKeyUsed(ctx context.Context, id string) error
}

// ExamStore manages exam sets and their questions.
type ExamStore interface {
	CreateExamSet(ctx context.Context, es *vstepro.ExamSet) error
	GetExamSet(ctx context.Context, id string) (*vstepro.ExamSet, error)
	ListExamSets(ctx context.Context, f vstepro.ExamSetFilter) ([]*vstepro.ExamSet, error)
	UpdateExamSet(ctx context.Context, es *vstepro.ExamSet) error
	DeleteExamSet(ctx context.Context, id string) error
	CreateQuestion(ctx context.Context, q *vstepro.Question) error
	GetQuestion(ctx context.Context, id string) (*vstepro.Question, error)
	ListQuestions(ctx context.Context, examSetID string) ([]*vstepro.Question, error)
}

// SessionStore manages practice session persistence.
type SessionStore interface {
	CreateSession(ctx context.Context, s *vstepro.PracticeSession) error
	GetSession(ctx context.Context, id string) (*vstepro.PracticeSession, error)
	// SubmitSession stores the graded answers and flips the session to
	// submitted. It returns ErrConflict if the session was already submitted.
	SubmitSession(ctx context.Context, s *vstepro.PracticeSession) error
}

// StatsStore computes aggregates over submitted sessions.
type StatsStore interface {
	UserStats(ctx context.Context, userID string) (*vstepro.UserStats, error)
	Leaderboard(ctx context.Context, limit int) ([]vstepro.LeaderboardEntry, error)
}

// Store combines all storage interfaces.
type Store interface {
	APIKeyStore
	ExamStore
	SessionStore
	StatsStore
	Close() error
}
