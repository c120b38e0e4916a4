// Package vstepro defines domain types and interfaces for the VSTEPRO
// practice and exam service.
// This package has no project imports -- it is the dependency root.
package vstepro

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"
)

// --- Exam content ---

// CEFR levels covered by the VSTEP exam.
const (
	LevelB1 = "B1"
	LevelB2 = "B2"
	LevelC1 = "C1"
)

// Exam skills.
const (
	SkillListening = "listening"
	SkillReading   = "reading"
	SkillWriting   = "writing"
	SkillSpeaking  = "speaking"
)

// ExamSet is a published collection of questions for one skill and level.
type ExamSet struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Level       string    `json:"level"`
	Skill       string    `json:"skill"`
	Description string    `json:"description,omitempty"`
	DurationMin int       `json:"duration_min"`
	Published   bool      `json:"published"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ExamSetFilter narrows ListExamSets. Empty fields match everything.
type ExamSetFilter struct {
	Level         string
	Skill         string
	PublishedOnly bool
}

// Question is a single item within an exam set.
type Question struct {
	ID        string   `json:"id"`
	ExamSetID string   `json:"exam_set_id"`
	Position  int      `json:"position"`
	Prompt    string   `json:"prompt"`
	Options   []string `json:"options,omitempty"`
	Answer    string   `json:"-"` // answer key, never exposed
	Points    int      `json:"points"`
}

// --- Practice sessions ---

// Session status values.
const (
	SessionInProgress = "in_progress"
	SessionSubmitted  = "submitted"
)

// PracticeSession is one attempt by a user at an exam set.
type PracticeSession struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	ExamSetID   string     `json:"exam_set_id"`
	Status      string     `json:"status"`
	Score       int        `json:"score"`
	MaxScore    int        `json:"max_score"`
	Answers     []Answer   `json:"answers,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
}

// Answer is a user's response to one question within a session.
type Answer struct {
	QuestionID string `json:"question_id"`
	Response   string `json:"response"`
	Correct    bool   `json:"correct"`
	Points     int    `json:"points"`
}

// --- Statistics ---

// UserStats aggregates a user's submitted sessions.
type UserStats struct {
	UserID            string     `json:"user_id"`
	SessionsStarted   int        `json:"sessions_started"`
	SessionsCompleted int        `json:"sessions_completed"`
	AverageScore      float64    `json:"average_score"` // percent of max score
	BestScore         float64    `json:"best_score"`    // percent of max score
	LastActivityAt    *time.Time `json:"last_activity_at,omitempty"`
}

// LeaderboardEntry ranks a user by best percentage score.
type LeaderboardEntry struct {
	Rank      int     `json:"rank"`
	UserID    string  `json:"user_id"`
	BestScore float64 `json:"best_score"`
	Sessions  int     `json:"sessions"`
}

// --- Identity ---

// APIKey represents an API key for authentication.
type APIKey struct {
	ID         string     `json:"id"`
	KeyHash    string     `json:"-"`          // SHA-256 hex, never exposed
	KeyPrefix  string     `json:"key_prefix"` // first chars for display
	Name       string     `json:"name,omitempty"`
	UserID     string     `json:"user_id"`
	Role       string     `json:"role"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Blocked    bool       `json:"blocked"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Identity is the authenticated caller context attached to request context.
type Identity struct {
	Subject    string     `json:"subject"` // key prefix
	KeyID      string     `json:"key_id"`
	UserID     string     `json:"user_id"`
	Role       string     `json:"role"` // "admin", "teacher", "student"
	Perms      Permission `json:"-"`    // resolved bitmask
	AuthMethod string     `json:"auth_method"`
}

// --- RBAC ---

// Permission is a bitmask representing authorization capabilities.
type Permission uint32

const (
	PermTakeExams     Permission = 1 << iota // browse content, run practice sessions
	PermViewOwnStats                         // view own statistics
	PermViewAllStats                         // view any user's statistics
	PermManageContent                        // create/update/delete exam sets and questions
	PermManageCache                          // inspect and invalidate the response cache
	PermManageKeys                           // issue and revoke API keys
)

// Can reports whether the identity has the given permission.
func (id *Identity) Can(p Permission) bool { return id.Perms&p == p }

// RolePermissions maps role names to their permission bitmasks.
var RolePermissions = map[string]Permission{
	"admin":   PermTakeExams | PermViewOwnStats | PermViewAllStats | PermManageContent | PermManageCache | PermManageKeys,
	"teacher": PermTakeExams | PermViewOwnStats | PermViewAllStats | PermManageContent,
	"student": PermTakeExams | PermViewOwnStats,
}

// DefaultRole is assigned to keys created without an explicit role.
const DefaultRole = "student"

// --- Context keys ---

type contextKey int

const ctxKeyMeta contextKey = 0

// requestMeta bundles per-request values into a single context allocation.
// The Identity field is set later by the authenticate middleware via mutation
// of the same pointer, avoiding a second context.WithValue + Request.WithContext.
type requestMeta struct {
	RequestID string
	Identity  *Identity
}

// metaFromContext returns the requestMeta stored in ctx, or nil.
func metaFromContext(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(ctxKeyMeta).(*requestMeta)
	return m
}

// IdentityFromContext extracts the authenticated identity from context.
func IdentityFromContext(ctx context.Context) *Identity {
	if m := metaFromContext(ctx); m != nil {
		return m.Identity
	}
	return nil
}

// ContextWithIdentity stores the identity in the existing requestMeta if present,
// avoiding a new context.WithValue allocation. Falls back to creating new metadata
// if none exists (e.g., in tests).
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	if m := metaFromContext(ctx); m != nil {
		m.Identity = id
		return ctx
	}
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{Identity: id})
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.RequestID
	}
	return ""
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{RequestID: id})
}

// --- Shared constants and helpers ---

// APIKeyPrefix is the prefix for all VSTEPRO API keys.
const APIKeyPrefix = "vsp_"

// HashKey returns the hex-encoded SHA-256 hash of a raw API key.
func HashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// --- Authenticator interface ---

// Authenticator validates request credentials and returns the caller identity.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
}
