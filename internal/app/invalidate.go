// Package app implements application-level services for VSTEPRO.
package app

import (
	"context"
	"log/slog"
	"strings"

	"github.com/eugener/vstepro/internal/cache"
	"github.com/eugener/vstepro/internal/telemetry"
)

// invalidator drops cached reads after a write. Both the query cache entries
// and the HTTP response cache entries live in the same Cache.
type invalidator struct {
	cache   cache.Cache
	metrics *telemetry.Metrics // nil = no metrics
}

// invalidate removes each target. Targets containing '*' are patterns;
// anything else is an exact key, so "user-stats:u1" leaves "user-stats:u10".
func (inv invalidator) invalidate(ctx context.Context, targets ...string) int {
	total := 0
	for _, t := range targets {
		if strings.Contains(t, "*") {
			total += inv.cache.DeletePattern(ctx, t)
			continue
		}
		if inv.cache.Exists(ctx, t) {
			inv.cache.Delete(ctx, t)
			total++
		}
	}
	if inv.metrics != nil {
		inv.metrics.CacheInvalidated.Add(float64(total))
	}
	if total > 0 {
		slog.LogAttrs(ctx, slog.LevelDebug, "cache invalidated",
			slog.Any("targets", targets),
			slog.Int("removed", total),
		)
	}
	return total
}
