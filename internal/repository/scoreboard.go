package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/felixgeelhaar/studyloop/internal/aggregation"
	"github.com/felixgeelhaar/studyloop/internal/domain"
)

// Scoreboard answers aggregate score queries over database/sql
type Scoreboard struct {
	db *sql.DB
}

// NewScoreboard creates a new Scoreboard
func NewScoreboard(db *sql.DB) *Scoreboard {
	return &Scoreboard{db: db}
}

// TotalPoints sums every score a user holds
func (s *Scoreboard) TotalPoints(ctx context.Context, userID string) (float64, error) {
	var total float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(score), 0) FROM scores WHERE user_id = $1`, userID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum scores: %w", err)
	}
	return total, nil
}

// BestScores returns the highest score per resource for a user
func (s *Scoreboard) BestScores(ctx context.Context, userID string) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT resource_id, MAX(score)
		FROM scores WHERE user_id = $1
		GROUP BY resource_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query best scores: %w", err)
	}
	defer rows.Close()

	best := make(map[string]float64)
	for rows.Next() {
		var resourceID string
		var score float64
		if err := rows.Scan(&resourceID, &score); err != nil {
			return nil, fmt.Errorf("scan best score: %w", err)
		}
		best[resourceID] = score
	}
	return best, rows.Err()
}

// Ranking returns per-user totals, highest first. Equal totals are ordered
// by who reached them first, then by user id.
func (s *Scoreboard) Ranking(ctx context.Context, limit int) ([]domain.RankingEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, SUM(score) AS total, MAX(updated_at) AS reached_at
		FROM scores
		GROUP BY user_id
		ORDER BY total DESC, reached_at ASC, user_id ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query ranking: %w", err)
	}
	defer rows.Close()

	var entries []domain.RankingEntry
	for rows.Next() {
		var e domain.RankingEntry
		if err := rows.Scan(&e.UserID, &e.TotalScore, &e.ReachedAt); err != nil {
			return nil, fmt.Errorf("scan ranking: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Ensure Scoreboard implements aggregation.Source
var _ aggregation.Source = (*Scoreboard)(nil)
