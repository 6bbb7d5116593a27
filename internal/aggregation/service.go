// Package aggregation folds persisted scores into totals and rankings. It
// reads the remote store only: when that is unavailable the answers are
// empty, never a stale local copy.
package aggregation

import (
	"context"
	"log/slog"
	"sort"

	"github.com/felixgeelhaar/studyloop/internal/domain"
)

// DefaultRankingLimit is used when a caller asks for a non-positive limit
const DefaultRankingLimit = 10

// Source is the read side of the remote score store
type Source interface {
	TotalPoints(ctx context.Context, userID string) (float64, error)
	BestScores(ctx context.Context, userID string) (map[string]float64, error)
	Ranking(ctx context.Context, limit int) ([]domain.RankingEntry, error)
}

// Service answers aggregate questions
type Service struct {
	source Source
}

// NewService creates an aggregation service. source may be nil when no
// remote store is configured.
func NewService(source Source) *Service {
	return &Service{source: source}
}

// TotalPoints is the lifetime point total of a user, 0 on failure
func (s *Service) TotalPoints(ctx context.Context, userID string) float64 {
	if s.source == nil {
		return 0
	}
	total, err := s.source.TotalPoints(ctx, userID)
	if err != nil {
		slog.Warn("total points unavailable", "user_id", userID, "error", err)
		return 0
	}
	return total
}

// BestScorePerResource maps resource id to the user's best score
func (s *Service) BestScorePerResource(ctx context.Context, userID string) map[string]float64 {
	if s.source == nil {
		return map[string]float64{}
	}
	best, err := s.source.BestScores(ctx, userID)
	if err != nil {
		slog.Warn("best scores unavailable", "user_id", userID, "error", err)
		return map[string]float64{}
	}
	if best == nil {
		best = map[string]float64{}
	}
	return best
}

// GlobalRanking returns the top users by total score
func (s *Service) GlobalRanking(ctx context.Context, limit int) []domain.RankingEntry {
	if limit <= 0 {
		limit = DefaultRankingLimit
	}
	if s.source == nil {
		return []domain.RankingEntry{}
	}
	entries, err := s.source.Ranking(ctx, limit)
	if err != nil {
		slog.Warn("ranking unavailable", "limit", limit, "error", err)
		return []domain.RankingEntry{}
	}
	SortRanking(entries)
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

// SortRanking orders entries by total descending. Equal totals go to the
// user who reached theirs first, then to the lower user id.
func SortRanking(entries []domain.RankingEntry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.TotalScore != b.TotalScore {
			return a.TotalScore > b.TotalScore
		}
		if !a.ReachedAt.Equal(b.ReachedAt) {
			return a.ReachedAt.Before(b.ReachedAt)
		}
		return a.UserID < b.UserID
	})
}
