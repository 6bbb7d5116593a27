package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/felixgeelhaar/studyloop/internal/domain"
)

var errUnreachable = errors.New("connection refused")

// fakeRemote is an in-memory Remote with failure injection
type fakeRemote struct {
	mu        sync.Mutex
	pingErr   error
	attempts  []domain.Attempt
	scores    map[string]domain.ScoreRecord
	elements  map[string][]domain.ElementScore
	items     map[string][]domain.ItemScore
	summaries map[string]domain.ScoreSummary

	// beforeInsert runs before every insert; a non-nil error fails it
	beforeInsert func(f *fakeRemote, a *domain.Attempt) error
	scoreErrs    []error
	summaryErr   error
	completeErr  error
	listExtra    []domain.Attempt
	inserts      int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		scores:    map[string]domain.ScoreRecord{},
		elements:  map[string][]domain.ElementScore{},
		items:     map[string][]domain.ItemScore{},
		summaries: map[string]domain.ScoreSummary{},
	}
}

func (f *fakeRemote) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeRemote) CountAttempts(ctx context.Context, resourceID, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.attempts {
		if a.ResourceID == resourceID && a.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (f *fakeRemote) LatestAttempt(ctx context.Context, resourceID, userID string) (*domain.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latestLocked(resourceID, userID), nil
}

func (f *fakeRemote) latestLocked(resourceID, userID string) *domain.Attempt {
	var latest *domain.Attempt
	for i, a := range f.attempts {
		if a.ResourceID != resourceID || a.UserID != userID {
			continue
		}
		if latest == nil || a.AttemptNumber > latest.AttemptNumber {
			latest = &f.attempts[i]
		}
	}
	if latest == nil {
		return nil
	}
	cp := *latest
	return &cp
}

// insertLocked adds an attempt, enforcing the unique attempt number
func (f *fakeRemote) insertLocked(a domain.Attempt) error {
	for _, existing := range f.attempts {
		if existing.ResourceID == a.ResourceID && existing.UserID == a.UserID && existing.AttemptNumber == a.AttemptNumber {
			return domain.ErrDuplicateAttempt
		}
	}
	f.attempts = append(f.attempts, a)
	return nil
}

func (f *fakeRemote) InsertAttempt(ctx context.Context, a *domain.Attempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	if f.beforeInsert != nil {
		if err := f.beforeInsert(f, a); err != nil {
			return err
		}
	}
	return f.insertLocked(*a)
}

func (f *fakeRemote) GetAttempt(ctx context.Context, attemptID string) (*domain.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.attempts {
		if a.ID == attemptID {
			cp := a
			return &cp, nil
		}
	}
	return nil, domain.ErrAttemptNotFound
}

func (f *fakeRemote) CompleteAttempt(ctx context.Context, attemptID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completeErr != nil {
		return f.completeErr
	}
	for i := range f.attempts {
		if f.attempts[i].ID == attemptID {
			f.attempts[i].CompletedAt = &at
			return nil
		}
	}
	return domain.ErrAttemptNotFound
}

func (f *fakeRemote) ListAttempts(ctx context.Context, resourceID, userID string) ([]domain.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Attempt
	for _, a := range append(append([]domain.Attempt{}, f.attempts...), f.listExtra...) {
		if a.ResourceID != resourceID || a.UserID != userID {
			continue
		}
		if rec, ok := f.scores[a.ID]; ok {
			score := rec.Score
			a.FinalScore = &score
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AttemptNumber < out[j].AttemptNumber })
	return out, nil
}

func (f *fakeRemote) UpsertScore(ctx context.Context, rec domain.ScoreRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.scoreErrs) > 0 {
		err := f.scoreErrs[0]
		f.scoreErrs = f.scoreErrs[1:]
		if err != nil {
			return err
		}
	}
	f.scores[rec.AttemptID] = rec
	return nil
}

func (f *fakeRemote) ReplaceElementScores(ctx context.Context, attemptID string, rows []domain.ElementScore) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.elements[attemptID] = rows
	return nil
}

func (f *fakeRemote) ReplaceItemScores(ctx context.Context, attemptID string, rows []domain.ItemScore) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[attemptID] = rows
	return nil
}

func (f *fakeRemote) ElementScores(ctx context.Context, attemptID string) ([]domain.ElementScore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.elements[attemptID], nil
}

func (f *fakeRemote) UpsertSummary(ctx context.Context, attemptID string, summary domain.ScoreSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.summaryErr != nil {
		return f.summaryErr
	}
	f.summaries[attemptID] = summary
	return nil
}

func (f *fakeRemote) Summary(ctx context.Context, attemptID string) (*domain.ScoreSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.summaries[attemptID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

var _ Remote = (*fakeRemote)(nil)
