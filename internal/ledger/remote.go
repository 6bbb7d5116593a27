package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/google/uuid"

	"github.com/felixgeelhaar/studyloop/internal/cache"
	"github.com/felixgeelhaar/studyloop/internal/domain"
	"github.com/felixgeelhaar/studyloop/internal/scoring"
)

// Remote is the authoritative, shared attempt store
type Remote interface {
	// Ping is the availability probe: a trivial read
	Ping(ctx context.Context) error

	CountAttempts(ctx context.Context, resourceID, userID string) (int, error)
	// LatestAttempt returns nil, nil when the user has no attempts yet
	LatestAttempt(ctx context.Context, resourceID, userID string) (*domain.Attempt, error)
	// InsertAttempt returns domain.ErrDuplicateAttempt when the number is taken
	InsertAttempt(ctx context.Context, a *domain.Attempt) error
	// GetAttempt returns domain.ErrAttemptNotFound for unknown ids
	GetAttempt(ctx context.Context, attemptID string) (*domain.Attempt, error)
	CompleteAttempt(ctx context.Context, attemptID string, at time.Time) error
	// ListAttempts returns attempts with their final score, if any
	ListAttempts(ctx context.Context, resourceID, userID string) ([]domain.Attempt, error)

	UpsertScore(ctx context.Context, rec domain.ScoreRecord) error
	ReplaceElementScores(ctx context.Context, attemptID string, rows []domain.ElementScore) error
	ReplaceItemScores(ctx context.Context, attemptID string, rows []domain.ItemScore) error
	ElementScores(ctx context.Context, attemptID string) ([]domain.ElementScore, error)

	UpsertSummary(ctx context.Context, attemptID string, summary domain.ScoreSummary) error
	// Summary returns nil, nil when no snapshot was stored
	Summary(ctx context.Context, attemptID string) (*domain.ScoreSummary, error)
}

// remoteStore is the Remote strategy
type remoteStore struct {
	remote Remote
	cache  cache.Cache
	write  retry.Retry[struct{}]
	lookup retry.Retry[*domain.Attempt]
	now    func() time.Time
	newID  func() string
}

func newRemoteStore(r Remote, c cache.Cache, delay time.Duration, now func() time.Time) *remoteStore {
	return &remoteStore{
		remote: r,
		cache:  c,
		write:  newRetry[struct{}](delay),
		lookup: newRetry[*domain.Attempt](delay),
		now:    now,
		newID:  func() string { return uuid.New().String() },
	}
}

func (s *remoteStore) name() string { return "remote" }

func (s *remoteStore) count(ctx context.Context, resourceID, userID string) (int, error) {
	return s.remote.CountAttempts(ctx, resourceID, userID)
}

func (s *remoteStore) allocate(ctx context.Context, resourceID, userID string) (Allocation, error) {
	return s.allocateAttemptNumber(ctx, resourceID, userID)
}

// allocateAttemptNumber inserts latest+1. On failure it re-reads the latest
// attempt: a concurrent winner at or past our number is adopted, otherwise
// the insert is retried exactly once. If that fails too, the latest known
// attempt is returned without creating a new one.
func (s *remoteStore) allocateAttemptNumber(ctx context.Context, resourceID, userID string) (Allocation, error) {
	latest, err := s.remote.LatestAttempt(ctx, resourceID, userID)
	if err != nil {
		return Allocation{}, fmt.Errorf("read latest attempt: %w", err)
	}

	want := nextNumber(latest)
	created, firstErr := s.insert(ctx, resourceID, userID, want)
	if firstErr == nil {
		return created, nil
	}

	if reread, err := s.remote.LatestAttempt(ctx, resourceID, userID); err == nil {
		latest = reread
	}
	if errors.Is(firstErr, domain.ErrDuplicateAttempt) && latest != nil && latest.AttemptNumber >= want {
		slog.Info("adopting concurrently created attempt",
			"resource_id", resourceID, "user_id", userID, "attempt_number", latest.AttemptNumber)
		return Allocation{ID: latest.ID, AttemptNumber: latest.AttemptNumber, Adopted: true}, nil
	}

	created, retryErr := s.insert(ctx, resourceID, userID, nextNumber(latest))
	if retryErr == nil {
		return created, nil
	}

	if reread, err := s.remote.LatestAttempt(ctx, resourceID, userID); err == nil && reread != nil {
		latest = reread
	}
	if latest == nil {
		return Allocation{}, fmt.Errorf("insert attempt: %w", errors.Join(firstErr, retryErr))
	}
	slog.Warn("could not create attempt, continuing with latest",
		"resource_id", resourceID, "user_id", userID, "attempt_number", latest.AttemptNumber, "error", retryErr)
	return Allocation{ID: latest.ID, AttemptNumber: latest.AttemptNumber, Adopted: true, Degraded: true}, nil
}

func (s *remoteStore) insert(ctx context.Context, resourceID, userID string, number int) (Allocation, error) {
	a := &domain.Attempt{
		ID:            s.newID(),
		ResourceID:    resourceID,
		UserID:        userID,
		AttemptNumber: number,
		StartedAt:     s.now(),
	}
	if err := s.remote.InsertAttempt(ctx, a); err != nil {
		return Allocation{}, err
	}
	return Allocation{ID: a.ID, AttemptNumber: a.AttemptNumber}, nil
}

func nextNumber(latest *domain.Attempt) int {
	if latest == nil {
		return 1
	}
	return latest.AttemptNumber + 1
}

func (s *remoteStore) finalize(ctx context.Context, attemptID string, summary domain.ScoreSummary) (bool, error) {
	attempt, err := s.lookup.Do(ctx, func(ctx context.Context) (*domain.Attempt, error) {
		return s.remote.GetAttempt(ctx, attemptID)
	})
	if err != nil {
		return false, fmt.Errorf("look up attempt: %w", err)
	}

	now := s.now()
	pct := summary.ProgressPercent()
	rec := domain.ScoreRecord{
		AttemptID:   attemptID,
		ResourceID:  attempt.ResourceID,
		UserID:      attempt.UserID,
		Score:       summary.Total,
		ProgressPct: &pct,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.do(ctx, func(ctx context.Context) error { return s.remote.UpsertScore(ctx, rec) }); err != nil {
		return false, fmt.Errorf("upsert score: %w", err)
	}

	// Projections and the snapshot mirror are best effort
	elements := scoring.ElementScores(attemptID, summary)
	if err := s.do(ctx, func(ctx context.Context) error { return s.remote.ReplaceElementScores(ctx, attemptID, elements) }); err != nil {
		slog.Warn("persist element scores failed", "attempt_id", attemptID, "error", err)
	}
	items := scoring.ItemScores(attemptID, summary)
	if err := s.do(ctx, func(ctx context.Context) error { return s.remote.ReplaceItemScores(ctx, attemptID, items) }); err != nil {
		slog.Warn("persist item scores failed", "attempt_id", attemptID, "error", err)
	}
	if err := s.do(ctx, func(ctx context.Context) error { return s.remote.UpsertSummary(ctx, attemptID, summary) }); err != nil {
		slog.Warn("mirror summary remotely failed", "attempt_id", attemptID, "error", err)
	}
	return true, nil
}

func (s *remoteStore) complete(ctx context.Context, attemptID string) error {
	at := s.now()
	return s.do(ctx, func(ctx context.Context) error {
		return s.remote.CompleteAttempt(ctx, attemptID, at)
	})
}

func (s *remoteStore) list(ctx context.Context, resourceID, userID string) ([]domain.Attempt, error) {
	attempts, err := s.remote.ListAttempts(ctx, resourceID, userID)
	if err != nil {
		return nil, err
	}
	for i := range attempts {
		s.attachSummary(ctx, &attempts[i])
	}
	return attempts, nil
}

// attachSummary sets the snapshot from the remote or local mirror, falling
// back to a breakdown rebuilt from element rows
func (s *remoteStore) attachSummary(ctx context.Context, a *domain.Attempt) {
	summary, err := s.remote.Summary(ctx, a.ID)
	if err != nil {
		slog.Debug("remote summary unavailable", "attempt_id", a.ID, "error", err)
	}
	if summary == nil {
		var local domain.ScoreSummary
		if err := s.cache.Get(cache.SummaryKey(a.ID), &local); err == nil {
			summary = &local
		}
	}
	if summary != nil {
		a.SummarySnapshot = summary
		a.Breakdown = nil
		return
	}

	rows, err := s.remote.ElementScores(ctx, a.ID)
	if err != nil {
		slog.Debug("element scores unavailable", "attempt_id", a.ID, "error", err)
		return
	}
	if len(rows) > 0 {
		a.Breakdown = scoring.BreakdownFromElements(rows)
	}
}

func (s *remoteStore) do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := s.write.Do(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
