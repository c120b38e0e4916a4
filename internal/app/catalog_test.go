package app

import (
	"context"
	"errors"
	"testing"

	vstepro "github.com/eugener/vstepro/internal"
	"github.com/eugener/vstepro/internal/cache"
)

func TestCatalog_GetExamSetCached(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	es := f.seedSet(t, true)
	ctx := context.Background()

	before := f.store.ExamSetReads.Load()
	for range 3 {
		got, err := f.catalog.GetExamSet(ctx, es.ID, false)
		if err != nil {
			t.Fatal(err)
		}
		if got.Title != es.Title {
			t.Errorf("title = %q, want %q", got.Title, es.Title)
		}
	}
	if n := f.store.ExamSetReads.Load() - before; n != 1 {
		t.Errorf("store reads = %d, want 1", n)
	}
	if !f.cache.Exists(ctx, cache.ExamSet.Key(es.ID)) {
		t.Error("exam set should be cached under its template key")
	}
}

func TestCatalog_NotFoundIsNotCached(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	for range 2 {
		if _, err := f.catalog.GetExamSet(ctx, "missing", true); !errors.Is(err, vstepro.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	}
	if n := f.store.ExamSetReads.Load(); n != 2 {
		t.Errorf("store reads = %d, want 2", n)
	}
}

func TestCatalog_DraftVisibility(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	es := f.seedSet(t, false)
	ctx := context.Background()

	if _, err := f.catalog.GetExamSet(ctx, es.ID, false); !errors.Is(err, vstepro.ErrNotFound) {
		t.Errorf("draft for student err = %v, want ErrNotFound", err)
	}
	if _, err := f.catalog.GetExamSet(ctx, es.ID, true); err != nil {
		t.Errorf("draft for manager err = %v", err)
	}
	if _, err := f.catalog.ListQuestions(ctx, es.ID, false); !errors.Is(err, vstepro.ErrNotFound) {
		t.Errorf("draft questions err = %v, want ErrNotFound", err)
	}
	qs, _ := f.catalog.ListQuestions(ctx, es.ID, true)
	if _, err := f.catalog.GetQuestion(ctx, qs[0].ID, false); !errors.Is(err, vstepro.ErrNotFound) {
		t.Errorf("draft question err = %v, want ErrNotFound", err)
	}
}

func TestCatalog_ListExamSetsInvalidatedOnCreate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	filter := vstepro.ExamSetFilter{Level: vstepro.LevelB2, PublishedOnly: true}

	sets, err := f.catalog.ListExamSets(ctx, filter)
	if err != nil {
		t.Fatal(err)
	}
	if sets == nil || len(sets) != 0 {
		t.Fatalf("sets = %v, want empty non-nil", sets)
	}

	f.seedSet(t, true)

	sets, _ = f.catalog.ListExamSets(ctx, filter)
	if len(sets) != 1 {
		t.Errorf("sets after create = %d, want 1", len(sets))
	}
}

func TestCatalog_UpdateInvalidates(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	es := f.seedSet(t, true)
	ctx := context.Background()

	if _, err := f.catalog.GetExamSet(ctx, es.ID, false); err != nil {
		t.Fatal(err)
	}
	f.cache.Set(ctx, cache.ResponsePrefix+":GET:/v1/exam-sets/"+es.ID+":{}", []byte("stale"), 0)

	updated, err := f.catalog.UpdateExamSet(ctx, es.ID, ExamSetInput{
		Title: "Renamed", Level: es.Level, Skill: es.Skill, Published: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Title != "Renamed" {
		t.Errorf("title = %q", updated.Title)
	}

	got, _ := f.catalog.GetExamSet(ctx, es.ID, false)
	if got.Title != "Renamed" {
		t.Errorf("cached title = %q, want Renamed", got.Title)
	}
	if n := f.cache.Stats().Size; n != 1 {
		t.Errorf("cache size = %d, want 1 (only the fresh exam set): %v", n, f.cache.Stats().Keys)
	}
}

func TestCatalog_AddQuestionInvalidatesList(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	es := f.seedSet(t, true)
	ctx := context.Background()

	qs, _ := f.catalog.ListQuestions(ctx, es.ID, false)
	if len(qs) != 2 {
		t.Fatalf("questions = %d, want 2", len(qs))
	}

	q, err := f.catalog.AddQuestion(ctx, es.ID, QuestionInput{Prompt: "p", Answer: "a"})
	if err != nil {
		t.Fatal(err)
	}
	if q.Position != 3 || q.Points != 1 {
		t.Errorf("question = %+v, want position 3 and 1 point", q)
	}

	qs, _ = f.catalog.ListQuestions(ctx, es.ID, false)
	if len(qs) != 3 {
		t.Errorf("questions after add = %d, want 3", len(qs))
	}
}

func TestCatalog_DeleteDropsEverything(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	es := f.seedSet(t, true)
	ctx := context.Background()

	ps, err := f.practice.StartSession(ctx, student, es.ID)
	if err != nil {
		t.Fatal(err)
	}
	f.practice.GetSession(ctx, student, ps.ID)
	f.stats.Leaderboard(ctx, 0)

	if err := f.catalog.DeleteExamSet(ctx, es.ID); err != nil {
		t.Fatal(err)
	}
	if n := f.cache.Stats().Size; n != 0 {
		t.Errorf("cache size = %d, want 0: %v", n, f.cache.Stats().Keys)
	}
	if _, err := f.catalog.GetExamSet(ctx, es.ID, true); !errors.Is(err, vstepro.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := f.catalog.DeleteExamSet(ctx, es.ID); !errors.Is(err, vstepro.ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestCatalog_Validation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	es := f.seedSet(t, true)
	ctx := context.Background()

	sets := []struct {
		name string
		in   ExamSetInput
	}{
		{"missing title", ExamSetInput{Level: vstepro.LevelB1, Skill: vstepro.SkillReading}},
		{"bad level", ExamSetInput{Title: "t", Level: "A2", Skill: vstepro.SkillReading}},
		{"bad skill", ExamSetInput{Title: "t", Level: vstepro.LevelB1, Skill: "grammar"}},
		{"negative duration", ExamSetInput{Title: "t", Level: vstepro.LevelB1, Skill: vstepro.SkillReading, DurationMin: -1}},
	}
	for _, tt := range sets {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := f.catalog.CreateExamSet(ctx, tt.in); !errors.Is(err, vstepro.ErrBadRequest) {
				t.Errorf("err = %v, want ErrBadRequest", err)
			}
		})
	}

	questions := []struct {
		name string
		in   QuestionInput
	}{
		{"missing prompt", QuestionInput{Answer: "a"}},
		{"missing answer", QuestionInput{Prompt: "p"}},
		{"negative points", QuestionInput{Prompt: "p", Answer: "a", Points: -1}},
	}
	for _, tt := range questions {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := f.catalog.AddQuestion(ctx, es.ID, tt.in); !errors.Is(err, vstepro.ErrBadRequest) {
				t.Errorf("err = %v, want ErrBadRequest", err)
			}
		})
	}

	if _, err := f.catalog.AddQuestion(ctx, "missing", QuestionInput{Prompt: "p", Answer: "a"}); !errors.Is(err, vstepro.ErrNotFound) {
		t.Errorf("missing exam set err = %v, want ErrNotFound", err)
	}
}
