package app

import (
	"context"
	"testing"

	vstepro "github.com/eugener/vstepro/internal"
	"github.com/eugener/vstepro/internal/cache"
	"github.com/eugener/vstepro/internal/testutil"
)

type fixture struct {
	store    *testutil.FakeStore
	cache    *cache.Store
	catalog  *Catalog
	practice *Practice
	stats    *Stats
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := testutil.NewFakeStore()
	c := cache.NewStore(cache.StoreOptions{})
	catalog := NewCatalog(store, c, nil)
	return &fixture{
		store:    store,
		cache:    c,
		catalog:  catalog,
		practice: NewPractice(store, catalog, c, nil),
		stats:    NewStats(store, c),
	}
}

// seedSet creates a published exam set with two questions worth 1 and 2 points.
func (f *fixture) seedSet(t *testing.T, published bool) *vstepro.ExamSet {
	t.Helper()
	ctx := context.Background()
	es, err := f.catalog.CreateExamSet(ctx, ExamSetInput{
		Title:     "B2 Reading 1",
		Level:     vstepro.LevelB2,
		Skill:     vstepro.SkillReading,
		Published: published,
	})
	if err != nil {
		t.Fatal(err)
	}
	for i, ans := range []string{"plentiful", "inform"} {
		if _, err := f.catalog.AddQuestion(ctx, es.ID, QuestionInput{
			Prompt: "question",
			Answer: ans,
			Points: i + 1,
		}); err != nil {
			t.Fatal(err)
		}
	}
	return es
}

var (
	student = testutil.Identity("student", "alice")
	other   = testutil.Identity("student", "bob")
	teacher = testutil.Identity("teacher", "tom")
)
