package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/felixgeelhaar/studyloop/internal/cache"
	"github.com/felixgeelhaar/studyloop/internal/domain"
)

// localStore is the fallback strategy: a per-(user, resource) counter plus
// summaries of id-less attempts. It never produces attempt ids.
type localStore struct {
	cache cache.Cache

	// mu serializes counter read-modify-write cycles
	mu sync.Mutex
}

func (s *localStore) name() string { return "local" }

func (s *localStore) count(ctx context.Context, resourceID, userID string) (int, error) {
	var n int
	err := s.cache.Get(cache.CounterKey(userID, resourceID), &n)
	if errors.Is(err, cache.ErrMiss) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read attempt counter: %w", err)
	}
	return n, nil
}

func (s *localStore) allocate(ctx context.Context, resourceID, userID string) (Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.count(ctx, resourceID, userID)
	if err != nil {
		// A corrupt counter restarts numbering rather than blocking the session
		slog.Warn("resetting unreadable attempt counter", "resource_id", resourceID, "user_id", userID, "error", err)
		n = 0
	}
	n++
	if err := s.cache.Put(cache.CounterKey(userID, resourceID), n); err != nil {
		return Allocation{}, fmt.Errorf("write attempt counter: %w", err)
	}
	return Allocation{AttemptNumber: n, Degraded: true}, nil
}

// observe records a remotely created attempt: the counter is raised to its
// number so offline numbering continues after it, and the number is indexed
// to its id so offline listings can find its mirrored summary
func (s *localStore) observe(resourceID, userID string, a Allocation) {
	if a.ID != "" {
		if err := s.cache.Put(cache.AttemptIndexKey(userID, resourceID, a.AttemptNumber), a.ID); err != nil {
			slog.Debug("index attempt failed", "resource_id", resourceID, "user_id", userID, "error", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.count(context.Background(), resourceID, userID)
	if err == nil && current >= a.AttemptNumber {
		return
	}
	if err := s.cache.Put(cache.CounterKey(userID, resourceID), a.AttemptNumber); err != nil {
		slog.Debug("mirror attempt counter failed", "resource_id", resourceID, "user_id", userID, "error", err)
	}
}

func (s *localStore) list(ctx context.Context, resourceID, userID string) ([]domain.Attempt, error) {
	n, err := s.count(ctx, resourceID, userID)
	if err != nil {
		return nil, err
	}
	attempts := make([]domain.Attempt, 0, n)
	for i := 1; i <= n; i++ {
		a := domain.Attempt{ResourceID: resourceID, UserID: userID, AttemptNumber: i}
		var summary domain.ScoreSummary
		switch {
		case s.cache.Get(cache.LocalSummaryKey(userID, resourceID, i), &summary) == nil:
			a.SummarySnapshot = &summary
		default:
			s.attachMirror(&a)
		}
		if a.SummarySnapshot != nil {
			total := a.SummarySnapshot.Total
			a.FinalScore = &total
			if !a.SummarySnapshot.ComputedAt.IsZero() {
				a.CompletedAt = &a.SummarySnapshot.ComputedAt
			}
		}
		attempts = append(attempts, a)
	}
	return attempts, nil
}

// attachMirror resolves a remotely created attempt through the number index
// and reads the summary and score mirrored when it was finalized
func (s *localStore) attachMirror(a *domain.Attempt) {
	var id string
	if err := s.cache.Get(cache.AttemptIndexKey(a.UserID, a.ResourceID, a.AttemptNumber), &id); err != nil || id == "" {
		return
	}
	a.ID = id

	var summary domain.ScoreSummary
	if err := s.cache.Get(cache.SummaryKey(id), &summary); err == nil {
		a.SummarySnapshot = &summary
		return
	}
	var rec domain.ScoreRecord
	if err := s.cache.Get(cache.ScoreKey(id), &rec); err == nil {
		score := rec.Score
		a.FinalScore = &score
	}
}

// finalize has no primary record to write locally; the mirrors are written
// by the ledger before any strategy runs
func (s *localStore) finalize(ctx context.Context, attemptID string, summary domain.ScoreSummary) (bool, error) {
	return false, nil
}

func (s *localStore) complete(ctx context.Context, attemptID string) error {
	return nil
}
