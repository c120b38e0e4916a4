package app

import (
	"context"
	"fmt"
	"strconv"

	vstepro "github.com/eugener/vstepro/internal"
	"github.com/eugener/vstepro/internal/cache"
	"github.com/eugener/vstepro/internal/storage"
)

// Leaderboard size bounds.
const (
	DefaultLeaderboardLimit = 10
	MaxLeaderboardLimit     = 100
)

// Stats serves per-user statistics and the leaderboard through the cache.
type Stats struct {
	store storage.StatsStore
	cache cache.Cache
}

// NewStats returns a Stats service.
func NewStats(store storage.StatsStore, c cache.Cache) *Stats {
	return &Stats{store: store, cache: c}
}

// UserStats returns the statistics of userID. Callers may read their own
// statistics, or anyone's with PermViewAllStats.
func (s *Stats) UserStats(ctx context.Context, caller *vstepro.Identity, userID string) (*vstepro.UserStats, error) {
	if !canSee(caller, userID) {
		return nil, fmt.Errorf("stats of %s: %w", userID, vstepro.ErrForbidden)
	}
	return cache.Load(ctx, s.cache, cache.UserStats.Key(userID), cache.UserStats.TTL,
		func(ctx context.Context) (*vstepro.UserStats, error) {
			return s.store.UserStats(ctx, userID)
		})
}

// Leaderboard returns the top users. limit is clamped to
// [1, MaxLeaderboardLimit]; zero selects DefaultLeaderboardLimit.
func (s *Stats) Leaderboard(ctx context.Context, limit int) ([]vstepro.LeaderboardEntry, error) {
	switch {
	case limit <= 0:
		limit = DefaultLeaderboardLimit
	case limit > MaxLeaderboardLimit:
		limit = MaxLeaderboardLimit
	}
	return cache.Load(ctx, s.cache, cache.Leaderboard.Key("top", strconv.Itoa(limit)), cache.Leaderboard.TTL,
		func(ctx context.Context) ([]vstepro.LeaderboardEntry, error) {
			return s.store.Leaderboard(ctx, limit)
		})
}
