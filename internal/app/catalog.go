package app

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	vstepro "github.com/eugener/vstepro/internal"
	"github.com/eugener/vstepro/internal/cache"
	"github.com/eugener/vstepro/internal/storage"
	"github.com/eugener/vstepro/internal/telemetry"
)

var (
	validLevels = []string{vstepro.LevelB1, vstepro.LevelB2, vstepro.LevelC1}
	validSkills = []string{vstepro.SkillListening, vstepro.SkillReading, vstepro.SkillWriting, vstepro.SkillSpeaking}
)

// Catalog serves exam sets and questions through the query cache.
type Catalog struct {
	store storage.ExamStore
	cache cache.Cache
	inv   invalidator
}

// NewCatalog returns a Catalog backed by store and c. m may be nil.
func NewCatalog(store storage.ExamStore, c cache.Cache, m *telemetry.Metrics) *Catalog {
	return &Catalog{store: store, cache: c, inv: invalidator{cache: c, metrics: m}}
}

// ExamSetInput holds the writable fields of an exam set.
type ExamSetInput struct {
	Title       string `json:"title"`
	Level       string `json:"level"`
	Skill       string `json:"skill"`
	Description string `json:"description"`
	DurationMin int    `json:"duration_min"`
	Published   bool   `json:"published"`
}

func (in ExamSetInput) validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return fmt.Errorf("title is required: %w", vstepro.ErrBadRequest)
	}
	if !slices.Contains(validLevels, in.Level) {
		return fmt.Errorf("level must be one of %v: %w", validLevels, vstepro.ErrBadRequest)
	}
	if !slices.Contains(validSkills, in.Skill) {
		return fmt.Errorf("skill must be one of %v: %w", validSkills, vstepro.ErrBadRequest)
	}
	if in.DurationMin < 0 {
		return fmt.Errorf("duration_min must not be negative: %w", vstepro.ErrBadRequest)
	}
	return nil
}

// QuestionInput holds the writable fields of a question.
type QuestionInput struct {
	Position int      `json:"position"` // 0 = append
	Prompt   string   `json:"prompt"`
	Options  []string `json:"options"`
	Answer   string   `json:"answer"`
	Points   int      `json:"points"`
}

// GetExamSet returns an exam set. Unpublished sets are only visible to
// content managers.
func (c *Catalog) GetExamSet(ctx context.Context, id string, includeDrafts bool) (*vstepro.ExamSet, error) {
	es, err := c.examSet(ctx, id)
	if err != nil {
		return nil, err
	}
	if !es.Published && !includeDrafts {
		return nil, fmt.Errorf("exam set %s: %w", id, vstepro.ErrNotFound)
	}
	return es, nil
}

func (c *Catalog) examSet(ctx context.Context, id string) (*vstepro.ExamSet, error) {
	return cache.Load(ctx, c.cache, cache.ExamSet.Key(id), cache.ExamSet.TTL,
		func(ctx context.Context) (*vstepro.ExamSet, error) {
			return c.store.GetExamSet(ctx, id)
		})
}

// ListExamSets returns exam sets matching f, never nil.
func (c *Catalog) ListExamSets(ctx context.Context, f vstepro.ExamSetFilter) ([]*vstepro.ExamSet, error) {
	key := cache.ExamSetList.Key(
		"level="+f.Level,
		"skill="+f.Skill,
		"published="+strconv.FormatBool(f.PublishedOnly),
	)
	return cache.Load(ctx, c.cache, key, cache.ExamSetList.TTL,
		func(ctx context.Context) ([]*vstepro.ExamSet, error) {
			sets, err := c.store.ListExamSets(ctx, f)
			if sets == nil {
				sets = []*vstepro.ExamSet{}
			}
			return sets, err
		})
}

// ListQuestions returns the questions of a visible exam set, never nil.
func (c *Catalog) ListQuestions(ctx context.Context, examSetID string, includeDrafts bool) ([]*vstepro.Question, error) {
	if _, err := c.GetExamSet(ctx, examSetID, includeDrafts); err != nil {
		return nil, err
	}
	return c.questions(ctx, examSetID)
}

func (c *Catalog) questions(ctx context.Context, examSetID string) ([]*vstepro.Question, error) {
	return cache.Load(ctx, c.cache, cache.ExamSetQuestions.Key(examSetID), cache.ExamSetQuestions.TTL,
		func(ctx context.Context) ([]*vstepro.Question, error) {
			qs, err := c.store.ListQuestions(ctx, examSetID)
			if qs == nil {
				qs = []*vstepro.Question{}
			}
			return qs, err
		})
}

// GetQuestion returns a question whose exam set is visible to the caller.
func (c *Catalog) GetQuestion(ctx context.Context, id string, includeDrafts bool) (*vstepro.Question, error) {
	q, err := cache.Load(ctx, c.cache, cache.Question.Key(id), cache.Question.TTL,
		func(ctx context.Context) (*vstepro.Question, error) {
			return c.store.GetQuestion(ctx, id)
		})
	if err != nil {
		return nil, err
	}
	if _, err := c.GetExamSet(ctx, q.ExamSetID, includeDrafts); err != nil {
		return nil, fmt.Errorf("question %s: %w", id, vstepro.ErrNotFound)
	}
	return q, nil
}

// CreateExamSet validates and stores a new exam set.
func (c *Catalog) CreateExamSet(ctx context.Context, in ExamSetInput) (*vstepro.ExamSet, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	es := &vstepro.ExamSet{
		ID:          uuid.Must(uuid.NewV7()).String(),
		Title:       strings.TrimSpace(in.Title),
		Level:       in.Level,
		Skill:       in.Skill,
		Description: in.Description,
		DurationMin: in.DurationMin,
		Published:   in.Published,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := c.store.CreateExamSet(ctx, es); err != nil {
		return nil, err
	}
	c.inv.invalidate(ctx,
		cache.ExamSetList.Pattern(),
		cache.ResponsePattern("/v1/exam-sets"),
	)
	return es, nil
}

// UpdateExamSet replaces the writable fields of an exam set.
func (c *Catalog) UpdateExamSet(ctx context.Context, id string, in ExamSetInput) (*vstepro.ExamSet, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	es, err := c.store.GetExamSet(ctx, id)
	if err != nil {
		return nil, err
	}
	es.Title = strings.TrimSpace(in.Title)
	es.Level = in.Level
	es.Skill = in.Skill
	es.Description = in.Description
	es.DurationMin = in.DurationMin
	es.Published = in.Published
	es.UpdatedAt = time.Now().UTC()
	if err := c.store.UpdateExamSet(ctx, es); err != nil {
		return nil, err
	}
	// Publishing state gates question visibility too.
	c.inv.invalidate(ctx,
		cache.ExamSet.Pattern(),
		cache.ResponsePattern("/v1/exam-sets"),
		cache.ResponsePattern("/v1/questions"),
	)
	return es, nil
}

// DeleteExamSet removes an exam set along with its questions and sessions.
func (c *Catalog) DeleteExamSet(ctx context.Context, id string) error {
	if err := c.store.DeleteExamSet(ctx, id); err != nil {
		return err
	}
	// Sessions cascade, so statistics derived from them are stale as well.
	c.inv.invalidate(ctx,
		cache.ExamSet.Pattern(),
		cache.Question.Pattern(),
		cache.Session.Pattern(),
		cache.UserStats.Pattern(),
		cache.Leaderboard.Pattern(),
		cache.ResponsePattern("/v1/"),
	)
	return nil
}

// AddQuestion appends a question to an exam set.
func (c *Catalog) AddQuestion(ctx context.Context, examSetID string, in QuestionInput) (*vstepro.Question, error) {
	if strings.TrimSpace(in.Prompt) == "" {
		return nil, fmt.Errorf("prompt is required: %w", vstepro.ErrBadRequest)
	}
	if strings.TrimSpace(in.Answer) == "" {
		return nil, fmt.Errorf("answer is required: %w", vstepro.ErrBadRequest)
	}
	if in.Points < 0 || in.Position < 0 {
		return nil, fmt.Errorf("points and position must not be negative: %w", vstepro.ErrBadRequest)
	}
	if _, err := c.store.GetExamSet(ctx, examSetID); err != nil {
		return nil, err
	}

	pos := in.Position
	if pos == 0 {
		existing, err := c.store.ListQuestions(ctx, examSetID)
		if err != nil {
			return nil, err
		}
		pos = len(existing) + 1
	}

	q := &vstepro.Question{
		ID:        uuid.Must(uuid.NewV7()).String(),
		ExamSetID: examSetID,
		Position:  pos,
		Prompt:    in.Prompt,
		Options:   in.Options,
		Answer:    in.Answer,
		Points:    max(1, in.Points),
	}
	if err := c.store.CreateQuestion(ctx, q); err != nil {
		return nil, err
	}
	c.inv.invalidate(ctx,
		cache.ExamSetQuestions.Key(examSetID),
		cache.ResponsePattern("/v1/exam-sets/"+examSetID+"/questions"),
	)
	return q, nil
}
