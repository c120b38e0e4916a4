package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/eugener/vstepro/internal/telemetry"
)

// DefaultSweepInterval is how often expired cache entries are reclaimed.
const DefaultSweepInterval = 60 * time.Second

// Sweepable is a cache whose expired entries can be reclaimed in bulk.
type Sweepable interface {
	Sweep() int
	Len() int
}

// CacheSweeper periodically removes expired entries that were never read
// again. Without it those entries would only be freed on overwrite.
type CacheSweeper struct {
	cache    Sweepable
	interval time.Duration
	clock    clock.Clock
	metrics  *telemetry.Metrics // nil = no metrics
}

// NewCacheSweeper creates a sweeper. A nil clock uses the wall clock and a
// non-positive interval uses DefaultSweepInterval.
func NewCacheSweeper(c Sweepable, interval time.Duration, clk clock.Clock, m *telemetry.Metrics) *CacheSweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if clk == nil {
		clk = clock.New()
	}
	return &CacheSweeper{cache: c, interval: interval, clock: clk, metrics: m}
}

// Name returns the worker identifier.
func (w *CacheSweeper) Name() string { return "cache_sweeper" }

// Run sweeps on every tick until ctx is cancelled.
func (w *CacheSweeper) Run(ctx context.Context) error {
	ticker := w.clock.Ticker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *CacheSweeper) sweep(ctx context.Context) {
	removed := w.cache.Sweep()
	size := w.cache.Len()
	if w.metrics != nil {
		w.metrics.CacheSwept.Add(float64(removed))
		w.metrics.CacheEntries.Set(float64(size))
	}
	if removed > 0 {
		slog.LogAttrs(ctx, slog.LevelDebug, "cache sweep",
			slog.Int("removed", removed),
			slog.Int("size", size),
		)
	}
}
