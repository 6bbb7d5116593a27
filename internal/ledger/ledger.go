// Package ledger numbers, records and finalizes attempts. The remote store is
// authoritative; when it cannot be reached every operation falls back to the
// local durable cache so a session is never blocked on persistence. No
// exported operation returns an error.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/felixgeelhaar/fortify/retry"

	"github.com/felixgeelhaar/studyloop/internal/cache"
	"github.com/felixgeelhaar/studyloop/internal/domain"
)

// Allocation is the outcome of starting an attempt. ID is empty for
// attempts that only exist locally. AttemptNumber is 0 when no attempt
// could be started at all.
type Allocation struct {
	ID            string `json:"id,omitempty"`
	AttemptNumber int    `json:"attempt_number"`
	// Adopted is set when a concurrent start won and its attempt was reused
	Adopted bool `json:"adopted,omitempty"`
	// Degraded is set when the remote store was not used or no new attempt was created
	Degraded bool `json:"degraded,omitempty"`
}

// Valid reports whether an attempt is available
func (a Allocation) Valid() bool {
	return a.AttemptNumber > 0
}

// Options tunes probing and retries
type Options struct {
	// ProbeTimeout bounds the availability probe
	ProbeTimeout time.Duration
	// RetryDelay is the pause before the single write retry
	RetryDelay time.Duration
	// BreakerTimeout is how long the remote is skipped after repeated probe failures
	BreakerTimeout time.Duration
}

// DefaultOptions returns production defaults
func DefaultOptions() Options {
	return Options{
		ProbeTimeout:   2 * time.Second,
		RetryDelay:     200 * time.Millisecond,
		BreakerTimeout: 30 * time.Second,
	}
}

// attemptStore is one persistence strategy, chosen per operation
type attemptStore interface {
	name() string
	count(ctx context.Context, resourceID, userID string) (int, error)
	allocate(ctx context.Context, resourceID, userID string) (Allocation, error)
	list(ctx context.Context, resourceID, userID string) ([]domain.Attempt, error)
	finalize(ctx context.Context, attemptID string, summary domain.ScoreSummary) (bool, error)
	complete(ctx context.Context, attemptID string) error
}

// Ledger is the attempt ledger
type Ledger struct {
	remote  *remoteStore
	local   *localStore
	cache   cache.Cache
	breaker circuitbreaker.CircuitBreaker[struct{}]
	opts    Options
	now     func() time.Time
}

// New creates a ledger. remote may be nil, in which case only the local
// cache is used.
func New(remote Remote, c cache.Cache, opts Options) *Ledger {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultOptions().ProbeTimeout
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = DefaultOptions().BreakerTimeout
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Millisecond
	}

	l := &Ledger{
		cache: c,
		opts:  opts,
		now:   time.Now,
	}
	l.local = &localStore{cache: c}
	if remote != nil {
		l.remote = newRemoteStore(remote, c, opts.RetryDelay, l.clock)
	}
	l.breaker = circuitbreaker.New[struct{}](circuitbreaker.Config{
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts circuitbreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(from, to circuitbreaker.State) {
			slog.Warn("remote attempt store breaker state change",
				"from", from.String(),
				"to", to.String())
		},
	})
	return l
}

func (l *Ledger) clock() time.Time {
	return l.now().UTC()
}

// strategy probes the remote store once and picks the backend for one operation
func (l *Ledger) strategy(ctx context.Context) attemptStore {
	if l.remote == nil {
		return l.local
	}
	_, err := l.breaker.Execute(ctx, func(ctx context.Context) (struct{}, error) {
		probeCtx, cancel := context.WithTimeout(ctx, l.opts.ProbeTimeout)
		defer cancel()
		return struct{}{}, l.remote.remote.Ping(probeCtx)
	})
	if err != nil {
		slog.Warn("remote attempt store unavailable, using local cache", "error", err)
		return l.local
	}
	return l.remote
}

func isLocal(store attemptStore) bool {
	_, ok := store.(*localStore)
	return ok
}

// Count returns how many attempts the user has made at a resource
func (l *Ledger) Count(ctx context.Context, resourceID, userID string) int {
	store := l.strategy(ctx)
	n, err := store.count(ctx, resourceID, userID)
	if err == nil {
		return n
	}
	slog.Warn("count attempts failed", "backend", store.name(), "resource_id", resourceID, "user_id", userID, "error", err)
	if isLocal(store) {
		return 0
	}
	n, err = l.local.count(ctx, resourceID, userID)
	if err != nil {
		slog.Warn("count attempts failed", "backend", l.local.name(), "error", err)
		return 0
	}
	return n
}

// StartNew allocates the next attempt number and records the attempt
func (l *Ledger) StartNew(ctx context.Context, resourceID, userID string) Allocation {
	store := l.strategy(ctx)
	alloc, err := store.allocate(ctx, resourceID, userID)
	if err == nil {
		if !isLocal(store) {
			// Keep numbering continuous if the next start happens offline
			l.local.observe(resourceID, userID, alloc)
		}
		return alloc
	}
	slog.Warn("start attempt failed", "backend", store.name(), "resource_id", resourceID, "user_id", userID, "error", err)
	if isLocal(store) {
		return Allocation{}
	}
	alloc, err = l.local.allocate(ctx, resourceID, userID)
	if err != nil {
		slog.Error("start attempt failed on every backend", "resource_id", resourceID, "user_id", userID, "error", err)
		return Allocation{}
	}
	return alloc
}

// FinalizeScore records the score of an attempt. The summary is always
// mirrored to the local cache. It returns true only when the primary score
// record reached the remote store.
func (l *Ledger) FinalizeScore(ctx context.Context, attemptID string, finalScore float64, breakdown []domain.BreakdownItem, summary domain.ScoreSummary) bool {
	if attemptID == "" {
		return false
	}
	summary.Total = finalScore
	if breakdown != nil {
		summary.Breakdown = breakdown
	}

	if err := l.cache.Put(cache.SummaryKey(attemptID), summary); err != nil {
		slog.Warn("mirror summary locally failed", "attempt_id", attemptID, "error", err)
	}
	pct := summary.ProgressPercent()
	if err := l.cache.Put(cache.ScoreKey(attemptID), domain.ScoreRecord{
		AttemptID:   attemptID,
		Score:       finalScore,
		ProgressPct: &pct,
		UpdatedAt:   l.clock(),
	}); err != nil {
		slog.Warn("mirror score locally failed", "attempt_id", attemptID, "error", err)
	}

	store := l.strategy(ctx)
	ok, err := store.finalize(ctx, attemptID, summary)
	if err != nil {
		slog.Warn("finalize score failed", "backend", store.name(), "attempt_id", attemptID, "error", err)
		return false
	}
	return ok
}

// Complete stamps the completion time. Failures are logged and dropped.
func (l *Ledger) Complete(ctx context.Context, attemptID string) {
	if attemptID == "" {
		return
	}
	store := l.strategy(ctx)
	if err := store.complete(ctx, attemptID); err != nil {
		slog.Warn("complete attempt failed", "backend", store.name(), "attempt_id", attemptID, "error", err)
	}
}

// SnapshotLocal keeps the summary of an attempt that has no remote id
func (l *Ledger) SnapshotLocal(ctx context.Context, userID, resourceID string, attemptNumber int, summary domain.ScoreSummary) bool {
	if attemptNumber <= 0 {
		return false
	}
	if err := l.cache.Put(cache.LocalSummaryKey(userID, resourceID, attemptNumber), summary); err != nil {
		slog.Warn("snapshot local attempt failed", "resource_id", resourceID, "user_id", userID, "attempt_number", attemptNumber, "error", err)
		return false
	}
	return true
}

// ListForResource returns one entry per attempt number, oldest first. Each
// carries its summary snapshot when one exists, else a breakdown rebuilt
// from the persisted element scores.
func (l *Ledger) ListForResource(ctx context.Context, userID, resourceID string) []domain.Attempt {
	store := l.strategy(ctx)
	attempts, err := store.list(ctx, resourceID, userID)
	if err != nil {
		slog.Warn("list attempts failed", "backend", store.name(), "resource_id", resourceID, "user_id", userID, "error", err)
		if isLocal(store) {
			return []domain.Attempt{}
		}
		if attempts, err = l.local.list(ctx, resourceID, userID); err != nil {
			slog.Warn("list attempts failed", "backend", l.local.name(), "error", err)
			return []domain.Attempt{}
		}
	}
	return dedupe(attempts)
}

// dedupe collapses entries sharing an attempt number. The entry carrying
// the most detail wins; ties keep the first seen.
func dedupe(attempts []domain.Attempt) []domain.Attempt {
	byNumber := make(map[int]int, len(attempts))
	out := make([]domain.Attempt, 0, len(attempts))
	for _, a := range attempts {
		i, seen := byNumber[a.AttemptNumber]
		if !seen {
			byNumber[a.AttemptNumber] = len(out)
			out = append(out, a)
			continue
		}
		if detail(a) > detail(out[i]) {
			out[i] = a
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AttemptNumber < out[j].AttemptNumber
	})
	return out
}

func detail(a domain.Attempt) int {
	switch {
	case a.SummarySnapshot != nil:
		return 3
	case len(a.Breakdown) > 0:
		return 2
	case a.FinalScore != nil:
		return 1
	}
	return 0
}

// isPermanent reports errors a retry cannot fix
func isPermanent(err error) bool {
	return errors.Is(err, domain.ErrAttemptNotFound) ||
		errors.Is(err, domain.ErrDuplicateAttempt) ||
		errors.Is(err, context.Canceled)
}

func newRetry[T any](delay time.Duration) retry.Retry[T] {
	return retry.New[T](retry.Config{
		MaxAttempts:   2,
		InitialDelay:  delay,
		MaxDelay:      delay * 2,
		Multiplier:    2.0,
		BackoffPolicy: retry.BackoffExponential,
		IsRetryable: func(err error) bool {
			return err != nil && !isPermanent(err)
		},
	})
}
