package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	vstepro "github.com/eugener/vstepro/internal"
	"github.com/eugener/vstepro/internal/cache"
)

// cacheHeader reports HIT or MISS on responses that went through the cache.
const cacheHeader = "X-Cache"

// ResponseCacheOptions configures the response cache for one route.
type ResponseCacheOptions struct {
	TTL time.Duration // zero = Deps.ResponseTTL
	// KeyFunc derives the cache key. An empty key bypasses the cache.
	// nil = responseKey.
	KeyFunc func(r *http.Request) string
}

// cachedResponse is a successful response captured for replay.
type cachedResponse struct {
	status      int
	contentType string
	body        []byte
}

// cached wraps a GET handler so that successful responses are stored in the
// shared cache and replayed on identical requests until the TTL elapses.
// Only 2xx responses are stored; errors and panics pass through untouched.
func (s *server) cached(opts ResponseCacheOptions) func(http.Handler) http.Handler {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = s.deps.ResponseTTL
	}
	keyFn := opts.KeyFunc
	if keyFn == nil {
		keyFn = responseKey
	}

	return func(next http.Handler) http.Handler {
		if s.deps.Cache == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}
			key := keyFn(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			pattern := routePattern(r)
			ctx, span := s.tracer.Start(r.Context(), "cache.lookup",
				trace.WithAttributes(
					attribute.String("cache.key", key),
					attribute.String("http.route", pattern),
				),
			)
			v, ok := s.deps.Cache.Get(ctx, key)
			resp, isResp := v.(*cachedResponse)
			hit := ok && isResp
			span.SetAttributes(attribute.Bool("cache.hit", hit))
			span.End()

			if hit {
				if s.deps.Metrics != nil {
					s.deps.Metrics.CacheHits.WithLabelValues(pattern).Inc()
				}
				if resp.contentType != "" {
					w.Header()["Content-Type"] = []string{resp.contentType}
				}
				w.Header()[cacheHeader] = hitValue
				w.WriteHeader(resp.status)
				w.Write(resp.body)
				return
			}

			if s.deps.Metrics != nil {
				s.deps.Metrics.CacheMisses.WithLabelValues(pattern).Inc()
			}
			w.Header()[cacheHeader] = missValue
			rec := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status < 200 || rec.status > 299 {
				return
			}
			_, storeSpan := s.tracer.Start(r.Context(), "cache.store",
				trace.WithAttributes(attribute.String("cache.key", key)),
			)
			s.deps.Cache.Set(ctx, key, &cachedResponse{
				status:      rec.status,
				contentType: w.Header().Get("Content-Type"),
				body:        bytes.Clone(rec.body.Bytes()),
			}, ttl)
			storeSpan.SetStatus(codes.Ok, "")
			storeSpan.End()
		})
	}
}

var (
	hitValue  = []string{"HIT"}
	missValue = []string{"MISS"}
)

// responseKey builds "http:<method>:<path>:<query>:<params>" where query and
// params are JSON objects with sorted keys, so equivalent requests share a key
// regardless of query parameter order.
func responseKey(r *http.Request) string {
	var b strings.Builder
	b.WriteString(cache.ResponsePrefix)
	b.WriteByte(':')
	b.WriteString(r.Method)
	b.WriteByte(':')
	b.WriteString(r.URL.Path)
	b.WriteByte(':')
	b.Write(mustJSON(r.URL.Query()))
	b.WriteByte(':')
	b.Write(mustJSON(routeParams(r)))
	return b.String()
}

// userScopedKey keys responses per caller so one user's data never reaches
// another.
func userScopedKey(r *http.Request) string {
	id := vstepro.IdentityFromContext(r.Context())
	if id == nil || id.UserID == "" {
		return ""
	}
	return responseKey(r) + ":user=" + id.UserID
}

// contentScopedKey separates content managers, who see drafts, from everyone
// else.
func contentScopedKey(r *http.Request) string {
	view := "public"
	if id := vstepro.IdentityFromContext(r.Context()); id != nil && id.Can(vstepro.PermManageContent) {
		view = "staff"
	}
	return responseKey(r) + ":view=" + view
}

func routeParams(r *http.Request) map[string]string {
	params := map[string]string{}
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		for i, k := range rctx.URLParams.Keys {
			if k == "*" {
				continue
			}
			params[k] = rctx.URLParams.Values[i]
		}
	}
	return params
}

// mustJSON marshals maps of strings, which cannot fail.
func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

// recordingWriter tees the response body so it can be cached after the
// handler returns.
type recordingWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (rw *recordingWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *recordingWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

func (rw *recordingWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
