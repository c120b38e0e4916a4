// Package telemetry provides observability primitives for VSTEPRO.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	ActiveRequests    prometheus.Gauge
	CacheHits         *prometheus.CounterVec
	CacheMisses       *prometheus.CounterVec
	CacheEntries      prometheus.Gauge
	CacheSwept        prometheus.Counter
	CacheInvalidated  prometheus.Counter
	SessionsSubmitted prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vstepro",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "vstepro",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vstepro",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vstepro",
			Name:      "cache_hits_total",
			Help:      "Total response cache hits.",
		}, []string{"path"}),

		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vstepro",
			Name:      "cache_misses_total",
			Help:      "Total response cache misses.",
		}, []string{"path"}),

		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vstepro",
			Name:      "cache_entries",
			Help:      "Entries held by the cache at the last sweep.",
		}),

		CacheSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vstepro",
			Name:      "cache_swept_total",
			Help:      "Total expired cache entries removed by the background sweep.",
		}),

		CacheInvalidated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vstepro",
			Name:      "cache_invalidated_total",
			Help:      "Total cache entries removed by pattern invalidation.",
		}),

		SessionsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vstepro",
			Name:      "sessions_submitted_total",
			Help:      "Total practice sessions submitted for grading.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.CacheHits,
		m.CacheMisses,
		m.CacheEntries,
		m.CacheSwept,
		m.CacheInvalidated,
		m.SessionsSubmitted,
	)

	return m
}
