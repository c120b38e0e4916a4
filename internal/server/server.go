// Package server implements the HTTP transport layer for VSTEPRO.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"

	vstepro "github.com/eugener/vstepro/internal"
	"github.com/eugener/vstepro/internal/app"
	"github.com/eugener/vstepro/internal/cache"
	"github.com/eugener/vstepro/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// DefaultResponseTTL applies when Deps.ResponseTTL is not set.
const DefaultResponseTTL = 5 * time.Minute

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Auth           vstepro.Authenticator
	Catalog        *app.Catalog
	Practice       *app.Practice
	Stats          *app.Stats
	Keys           *app.KeyManager
	Cache          cache.Cache        // nil = no response caching
	ResponseTTL    time.Duration      // zero = DefaultResponseTTL
	ReadyCheck     ReadyChecker       // nil = always ready (for tests)
	Metrics        *telemetry.Metrics // nil = no metrics
	MetricsHandler http.Handler       // nil = /metrics not mounted
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	if deps.ResponseTTL <= 0 {
		deps.ResponseTTL = DefaultResponseTTL
	}
	s := &server{deps: deps, tracer: telemetry.Tracer("vstepro/server")}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	// System endpoints (no auth)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	content := s.cached(ResponseCacheOptions{KeyFunc: contentScopedKey})
	userScoped := s.cached(ResponseCacheOptions{KeyFunc: userScopedKey})

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Group(func(r chi.Router) {
			r.Use(s.requirePerm(vstepro.PermTakeExams))

			r.With(content).Get("/exam-sets", s.handleListExamSets)
			r.With(content).Get("/exam-sets/{id}", s.handleGetExamSet)
			r.With(content).Get("/exam-sets/{id}/questions", s.handleListQuestions)
			r.With(content).Get("/questions/{id}", s.handleGetQuestion)

			r.Post("/sessions", s.handleStartSession)
			r.With(userScoped).Get("/sessions/{id}", s.handleGetSession)
			r.Post("/sessions/{id}/submit", s.handleSubmitSession)

			r.With(s.cached(ResponseCacheOptions{})).Get("/leaderboard", s.handleLeaderboard)
		})

		r.With(s.requirePerm(vstepro.PermViewOwnStats), userScoped).
			Get("/users/{id}/stats", s.handleUserStats)

		r.Group(func(r chi.Router) {
			r.Use(s.requirePerm(vstepro.PermManageContent))
			r.Post("/exam-sets", s.handleCreateExamSet)
			r.Put("/exam-sets/{id}", s.handleUpdateExamSet)
			r.Delete("/exam-sets/{id}", s.handleDeleteExamSet)
			r.Post("/exam-sets/{id}/questions", s.handleAddQuestion)
		})
	})

	r.Route("/admin/v1", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Group(func(r chi.Router) {
			r.Use(s.requirePerm(vstepro.PermManageCache))
			r.Get("/cache", s.handleCacheStats)
			r.Delete("/cache", s.handleCachePurge)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requirePerm(vstepro.PermManageKeys))
			r.Get("/keys", s.handleListKeys)
			r.Post("/keys", s.handleCreateKey)
			r.Delete("/keys/{id}", s.handleDeleteKey)
		})
	})

	return r
}

type server struct {
	deps   Deps
	tracer trace.Tracer
}
