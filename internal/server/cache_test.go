package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	"github.com/tidwall/gjson"

	vstepro "github.com/eugener/vstepro/internal"
	"github.com/eugener/vstepro/internal/cache"
	"github.com/eugener/vstepro/internal/telemetry"
	"github.com/eugener/vstepro/internal/testutil"
)

// countingHandler writes status and body, counting invocations.
type countingHandler struct {
	calls  atomic.Int64
	status int
	body   string
}

func (h *countingHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	n := h.calls.Add(1)
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(h.status)
	w.Write([]byte(strings.ReplaceAll(h.body, "N", string(rune('0'+n)))))
}

func newCachedRouter(c cache.Cache, opts ResponseCacheOptions, h http.Handler) http.Handler {
	s := &server{deps: Deps{Cache: c, ResponseTTL: DefaultResponseTTL}, tracer: telemetry.Tracer("test")}
	r := chi.NewRouter()
	r.With(s.cached(opts)).Get("/items/{id}", h.ServeHTTP)
	r.With(s.cached(opts)).Post("/items/{id}", h.ServeHTTP)
	return r
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCachedReplaysWithoutCallingHandler(t *testing.T) {
	t.Parallel()
	c := cache.NewStore(cache.StoreOptions{})
	h := &countingHandler{status: http.StatusOK, body: `{"call":N}`}
	r := newCachedRouter(c, ResponseCacheOptions{}, h)

	first := get(r, "/items/1?b=2&a=1")
	if first.Header().Get(cacheHeader) != "MISS" {
		t.Errorf("first X-Cache = %q, want MISS", first.Header().Get(cacheHeader))
	}
	// Same query in a different order hits the same entry.
	second := get(r, "/items/1?a=1&b=2")
	if second.Header().Get(cacheHeader) != "HIT" {
		t.Errorf("second X-Cache = %q, want HIT", second.Header().Get(cacheHeader))
	}
	if got := h.calls.Load(); got != 1 {
		t.Errorf("handler calls = %d, want 1", got)
	}
	if second.Body.String() != first.Body.String() {
		t.Errorf("replayed body = %q, want %q", second.Body.String(), first.Body.String())
	}
	if ct := second.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	get(r, "/items/2")
	if got := h.calls.Load(); got != 2 {
		t.Errorf("handler calls after new path = %d, want 2", got)
	}
}

func TestCachedTTL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ttl  time.Duration // zero = DefaultResponseTTL
		hit  time.Duration
		miss time.Duration
	}{
		{"default five minutes", 0, 299 * time.Second, 301 * time.Second},
		{"route override", 10 * time.Second, 9 * time.Second, 11 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mock := clock.NewMock()
			c := cache.NewStore(cache.StoreOptions{Clock: mock})
			h := &countingHandler{status: http.StatusOK, body: `{"call":N}`}
			r := newCachedRouter(c, ResponseCacheOptions{TTL: tt.ttl}, h)

			if got := get(r, "/items/1").Header().Get(cacheHeader); got != "MISS" {
				t.Fatalf("first X-Cache = %q, want MISS", got)
			}

			mock.Add(tt.hit)
			if got := get(r, "/items/1").Header().Get(cacheHeader); got != "HIT" {
				t.Errorf("X-Cache after %v = %q, want HIT", tt.hit, got)
			}
			if got := h.calls.Load(); got != 1 {
				t.Errorf("handler calls before expiry = %d, want 1", got)
			}

			mock.Add(tt.miss - tt.hit)
			if got := get(r, "/items/1").Header().Get(cacheHeader); got != "MISS" {
				t.Errorf("X-Cache after %v = %q, want MISS", tt.miss, got)
			}
			if got := h.calls.Load(); got != 2 {
				t.Errorf("handler calls after expiry = %d, want 2", got)
			}
		})
	}
}

func TestCachedKeyShape(t *testing.T) {
	t.Parallel()
	c := cache.NewStore(cache.StoreOptions{})
	r := newCachedRouter(c, ResponseCacheOptions{}, &countingHandler{status: http.StatusOK, body: `{}`})

	get(r, "/items/7?q=x")
	want := `http:GET:/items/7:{"q":["x"]}:{"id":"7"}`
	if !c.Exists(context.Background(), want) {
		t.Errorf("key %q not stored; have %v", want, c.Stats().Keys)
	}
}

func TestCachedSkipsErrors(t *testing.T) {
	t.Parallel()
	c := cache.NewStore(cache.StoreOptions{})
	h := &countingHandler{status: http.StatusNotFound, body: `{"error":"nope"}`}
	r := newCachedRouter(c, ResponseCacheOptions{}, h)

	get(r, "/items/1")
	get(r, "/items/1")
	if got := h.calls.Load(); got != 2 {
		t.Errorf("handler calls = %d, want 2", got)
	}
	if n := c.Stats().Size; n != 0 {
		t.Errorf("cache size = %d, want 0", n)
	}
}

func TestCachedSkipsPanics(t *testing.T) {
	t.Parallel()
	c := cache.NewStore(cache.StoreOptions{})
	s := &server{deps: Deps{Cache: c, ResponseTTL: DefaultResponseTTL}, tracer: telemetry.Tracer("test")}
	r := chi.NewRouter()
	r.Use(s.recovery)
	r.With(s.cached(ResponseCacheOptions{})).Get("/boom", func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})

	rec := get(r, "/boom")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if n := c.Stats().Size; n != 0 {
		t.Errorf("cache size = %d, want 0", n)
	}
}

func TestCachedOnlyGET(t *testing.T) {
	t.Parallel()
	c := cache.NewStore(cache.StoreOptions{})
	h := &countingHandler{status: http.StatusOK, body: `{}`}
	r := newCachedRouter(c, ResponseCacheOptions{}, h)

	for range 2 {
		req := httptest.NewRequest(http.MethodPost, "/items/1", nil)
		r.ServeHTTP(httptest.NewRecorder(), req)
	}
	if got := h.calls.Load(); got != 2 {
		t.Errorf("handler calls = %d, want 2", got)
	}
}

func TestCachedEmptyKeyBypasses(t *testing.T) {
	t.Parallel()
	c := cache.NewStore(cache.StoreOptions{})
	h := &countingHandler{status: http.StatusOK, body: `{}`}
	r := newCachedRouter(c, ResponseCacheOptions{KeyFunc: func(*http.Request) string { return "" }}, h)

	get(r, "/items/1")
	rec := get(r, "/items/1")
	if got := h.calls.Load(); got != 2 {
		t.Errorf("handler calls = %d, want 2", got)
	}
	if rec.Header().Get(cacheHeader) != "" {
		t.Errorf("X-Cache = %q, want unset", rec.Header().Get(cacheHeader))
	}
}

func TestCachedNilCache(t *testing.T) {
	t.Parallel()
	h := &countingHandler{status: http.StatusOK, body: `{}`}
	r := newCachedRouter(nil, ResponseCacheOptions{}, h)

	get(r, "/items/1")
	get(r, "/items/1")
	if got := h.calls.Load(); got != 2 {
		t.Errorf("handler calls = %d, want 2", got)
	}
}

func TestScopedKeys(t *testing.T) {
	t.Parallel()

	withID := func(id *vstepro.Identity) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/v1/exam-sets", nil)
		return req.WithContext(vstepro.ContextWithIdentity(req.Context(), id))
	}
	alice := &vstepro.Identity{UserID: "alice", Perms: vstepro.RolePermissions["student"]}
	bob := &vstepro.Identity{UserID: "bob", Perms: vstepro.RolePermissions["student"]}
	tom := &vstepro.Identity{UserID: "tom", Perms: vstepro.RolePermissions["teacher"]}

	if userScopedKey(withID(alice)) == userScopedKey(withID(bob)) {
		t.Error("user scoped keys must differ between users")
	}
	if got := userScopedKey(httptest.NewRequest(http.MethodGet, "/x", nil)); got != "" {
		t.Errorf("anonymous user scoped key = %q, want empty", got)
	}
	if contentScopedKey(withID(alice)) != contentScopedKey(withID(bob)) {
		t.Error("students should share the public content key")
	}
	if !strings.HasSuffix(contentScopedKey(withID(tom)), ":view=staff") {
		t.Errorf("teacher key = %q, want staff view", contentScopedKey(withID(tom)))
	}
}

func TestResponseCacheEndToEnd(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	setID, _ := e.seed(t, true)

	rec := e.do(t, http.MethodGet, "/v1/exam-sets/"+setID, "student:alice", "")
	if rec.Header().Get(cacheHeader) != "MISS" {
		t.Fatalf("first X-Cache = %q, want MISS", rec.Header().Get(cacheHeader))
	}
	rec = e.do(t, http.MethodGet, "/v1/exam-sets/"+setID, "student:bob", "")
	if rec.Header().Get(cacheHeader) != "HIT" {
		t.Fatalf("second student X-Cache = %q, want HIT", rec.Header().Get(cacheHeader))
	}
	// Staff responses are cached separately from the public view.
	rec = e.do(t, http.MethodGet, "/v1/exam-sets/"+setID, "teacher:tom", "")
	if rec.Header().Get(cacheHeader) != "MISS" {
		t.Errorf("teacher X-Cache = %q, want MISS", rec.Header().Get(cacheHeader))
	}

	// A write invalidates cached responses for the resource.
	rec = e.do(t, http.MethodPut, "/v1/exam-sets/"+setID, "teacher:tom",
		`{"title":"Renamed","level":"B1","skill":"listening","published":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	rec = e.do(t, http.MethodGet, "/v1/exam-sets/"+setID, "student:alice", "")
	if rec.Header().Get(cacheHeader) != "MISS" {
		t.Errorf("after update X-Cache = %q, want MISS", rec.Header().Get(cacheHeader))
	}
	if got := gjson.Get(rec.Body.String(), "title").String(); got != "Renamed" {
		t.Errorf("title = %q, want Renamed", got)
	}
}

func TestSessionResponsesAreUserScoped(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	setID, _ := e.seed(t, true)

	rec := e.do(t, http.MethodPost, "/v1/sessions", "student:alice", `{"exam_set_id":"`+setID+`"}`)
	sessID := gjson.Get(rec.Body.String(), "id").String()

	rec = e.do(t, http.MethodGet, "/v1/sessions/"+sessID, "student:alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("owner get: status = %d", rec.Code)
	}
	rec = e.do(t, http.MethodGet, "/v1/sessions/"+sessID, "student:alice", "")
	if rec.Header().Get(cacheHeader) != "HIT" {
		t.Errorf("owner X-Cache = %q, want HIT", rec.Header().Get(cacheHeader))
	}
	// A cached owner response must never reach another user.
	rec = e.do(t, http.MethodGet, "/v1/sessions/"+sessID, "student:bob", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("foreign get: status = %d, want 404", rec.Code)
	}
}

func TestAdminCache(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	setID, _ := e.seed(t, true)
	e.do(t, http.MethodGet, "/v1/exam-sets/"+setID, "student:alice", "")
	e.do(t, http.MethodGet, "/v1/leaderboard", "student:alice", "")

	rec := e.do(t, http.MethodGet, "/admin/v1/cache", "admin:root", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: status = %d", rec.Code)
	}
	if gjson.Get(rec.Body.String(), "size").Int() == 0 {
		t.Fatal("cache should hold entries")
	}

	rec = e.do(t, http.MethodDelete, "/admin/v1/cache?pattern=leaderboard", "admin:root", "")
	if got := gjson.Get(rec.Body.String(), "removed").Int(); got < 1 {
		t.Errorf("pattern purge removed = %d, want >= 1", got)
	}
	for _, k := range e.cache.Stats().Keys {
		if strings.Contains(k, "leaderboard") {
			t.Errorf("key %q survived pattern purge", k)
		}
	}

	rec = e.do(t, http.MethodDelete, "/admin/v1/cache", "admin:root", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("purge: status = %d", rec.Code)
	}
	if n := e.cache.Stats().Size; n != 0 {
		t.Errorf("cache size after purge = %d, want 0", n)
	}
}

func TestAdminCacheDisabled(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, func(d *Deps) {
		d.Auth = testutil.FakeAuth{}
		d.Cache = nil
	})

	rec := e.do(t, http.MethodGet, "/admin/v1/cache", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	res := gjson.Parse(rec.Body.String())
	if res.Get("size").Int() != 0 || !res.Get("keys").IsArray() {
		t.Errorf("stats = %s, want empty size and keys", rec.Body.String())
	}

	rec = e.do(t, http.MethodDelete, "/admin/v1/cache", "", "")
	if got := gjson.Get(rec.Body.String(), "removed").Int(); rec.Code != http.StatusOK || got != 0 {
		t.Errorf("purge: status = %d removed = %d, want 200 and 0", rec.Code, got)
	}
}
