package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/studyloop/internal/cache"
	"github.com/felixgeelhaar/studyloop/internal/domain"
)

func testOptions() Options {
	return Options{ProbeTimeout: time.Second, RetryDelay: time.Millisecond, BreakerTimeout: time.Minute}
}

func newLedger(remote Remote) (*Ledger, *cache.Memory) {
	mem := cache.NewMemory()
	return New(remote, mem, testOptions()), mem
}

func sampleSummary(total float64) domain.ScoreSummary {
	return domain.ScoreSummary{
		Total:    total,
		MaxTotal: 40,
		Breakdown: []domain.BreakdownItem{
			{Name: domain.SegmentQuiz, Weight: 20, TotalItems: 5, CorrectItems: 3, Contribution: 12, Confirmed: true},
			{Name: domain.SegmentMatchingLines, Weight: 20, TotalItems: 4, CorrectItems: 4, Contribution: 0},
		},
		Results: map[domain.SegmentID]domain.ResultSet{
			domain.SegmentQuiz: {Segment: domain.SegmentQuiz, Items: []domain.ItemResult{
				{Index: 0, Correct: true}, {Index: 1, Correct: true}, {Index: 2, Correct: true}, {Index: 3}, {Index: 4},
			}},
		},
	}
}

func TestLedger_LocalOnlyNumbering(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(nil)

	first := l.StartNew(ctx, "res", "user")
	second := l.StartNew(ctx, "res", "user")

	assert.Equal(t, Allocation{AttemptNumber: 1, Degraded: true}, first)
	assert.Equal(t, Allocation{AttemptNumber: 2, Degraded: true}, second)
	assert.Equal(t, 2, l.Count(ctx, "res", "user"))
	assert.Equal(t, 0, l.Count(ctx, "other", "user"))
}

func TestLedger_RemoteUnavailableFallsBack(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.pingErr = errUnreachable
	l, _ := newLedger(remote)

	first := l.StartNew(ctx, "res", "user")
	second := l.StartNew(ctx, "res", "user")

	assert.Equal(t, 1, first.AttemptNumber)
	assert.Equal(t, 2, second.AttemptNumber)
	assert.Empty(t, first.ID)
	assert.True(t, second.Degraded)
	assert.Zero(t, remote.inserts)
}

func TestLedger_RemoteNumbering(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	l, _ := newLedger(remote)

	first := l.StartNew(ctx, "res", "user")
	second := l.StartNew(ctx, "res", "user")

	require.True(t, first.Valid())
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, 1, first.AttemptNumber)
	assert.Equal(t, 2, second.AttemptNumber)
	assert.False(t, second.Degraded)
	assert.Equal(t, 2, l.Count(ctx, "res", "user"))

	// Going offline continues from the mirrored counter
	remote.mu.Lock()
	remote.pingErr = errUnreachable
	remote.mu.Unlock()
	third := l.StartNew(ctx, "res", "user")
	assert.Equal(t, 3, third.AttemptNumber)
	assert.Empty(t, third.ID)
}

func TestLedger_ConcurrentStartIsAdopted(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.beforeInsert = func(f *fakeRemote, a *domain.Attempt) error {
		if f.inserts == 1 {
			// Another tab wins the race for the same number
			return f.insertLocked(domain.Attempt{ID: "winner", ResourceID: a.ResourceID, UserID: a.UserID, AttemptNumber: a.AttemptNumber})
		}
		return nil
	}
	l, _ := newLedger(remote)

	got := l.StartNew(ctx, "res", "user")

	assert.Equal(t, Allocation{ID: "winner", AttemptNumber: 1, Adopted: true}, got)
	assert.Equal(t, 1, remote.inserts)
	assert.Equal(t, 1, l.Count(ctx, "res", "user"))
}

func TestLedger_FailedInsertIsRetriedOnce(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.beforeInsert = func(f *fakeRemote, a *domain.Attempt) error {
		if f.inserts == 1 {
			return errors.New("deadlock detected")
		}
		return nil
	}
	l, _ := newLedger(remote)

	got := l.StartNew(ctx, "res", "user")

	assert.Equal(t, 1, got.AttemptNumber)
	assert.NotEmpty(t, got.ID)
	assert.False(t, got.Adopted)
	assert.Equal(t, 2, remote.inserts)
}

func TestLedger_BothInsertsFailAdoptsLatest(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	require.NoError(t, remote.insertLocked(domain.Attempt{ID: "a1", ResourceID: "res", UserID: "user", AttemptNumber: 1}))
	remote.beforeInsert = func(f *fakeRemote, a *domain.Attempt) error {
		return errors.New("disk full")
	}
	l, _ := newLedger(remote)

	got := l.StartNew(ctx, "res", "user")

	assert.Equal(t, Allocation{ID: "a1", AttemptNumber: 1, Adopted: true, Degraded: true}, got)
	assert.Equal(t, 2, remote.inserts)
}

func TestLedger_BothInsertsFailWithoutHistoryFallsBackLocally(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.beforeInsert = func(f *fakeRemote, a *domain.Attempt) error {
		return errors.New("permission denied")
	}
	l, _ := newLedger(remote)

	got := l.StartNew(ctx, "res", "user")

	assert.Equal(t, Allocation{AttemptNumber: 1, Degraded: true}, got)
}

func TestLedger_FinalizeScore(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	l, mem := newLedger(remote)
	alloc := l.StartNew(ctx, "res", "user")

	summary := sampleSummary(12)
	require.True(t, l.FinalizeScore(ctx, alloc.ID, 12, summary.Breakdown, summary))

	rec := remote.scores[alloc.ID]
	assert.Equal(t, 12.0, rec.Score)
	assert.Equal(t, "res", rec.ResourceID)
	assert.Equal(t, "user", rec.UserID)
	require.NotNil(t, rec.ProgressPct)
	assert.Equal(t, 50.0, *rec.ProgressPct)

	assert.Len(t, remote.elements[alloc.ID], 2)
	assert.Len(t, remote.items[alloc.ID], 9)
	assert.Contains(t, remote.summaries, alloc.ID)

	var mirrored domain.ScoreSummary
	require.NoError(t, mem.Get(cache.SummaryKey(alloc.ID), &mirrored))
	assert.Equal(t, 12.0, mirrored.Total)

	// Finalizing again replaces rather than appends
	require.True(t, l.FinalizeScore(ctx, alloc.ID, 8, summary.Breakdown, summary))
	assert.Len(t, remote.scores, 1)
	assert.Equal(t, 8.0, remote.scores[alloc.ID].Score)
}

func TestLedger_FinalizeScoreSnapshotMirrorFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.summaryErr = errors.New("jsonb too large")
	l, _ := newLedger(remote)
	alloc := l.StartNew(ctx, "res", "user")

	assert.True(t, l.FinalizeScore(ctx, alloc.ID, 12, nil, sampleSummary(12)))
	assert.NotContains(t, remote.summaries, alloc.ID)
}

func TestLedger_FinalizeScoreRetriesOnce(t *testing.T) {
	tests := []struct {
		name string
		errs []error
		want bool
	}{
		{"transient failure", []error{errors.New("timeout")}, true},
		{"persistent failure", []error{errors.New("timeout"), errors.New("timeout")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			remote := newFakeRemote()
			l, mem := newLedger(remote)
			alloc := l.StartNew(ctx, "res", "user")
			remote.scoreErrs = tt.errs

			got := l.FinalizeScore(ctx, alloc.ID, 12, nil, sampleSummary(12))
			assert.Equal(t, tt.want, got)

			// The local mirror is written either way
			var mirrored domain.ScoreSummary
			assert.NoError(t, mem.Get(cache.SummaryKey(alloc.ID), &mirrored))
		})
	}
}

func TestLedger_FinalizeScoreOffline(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	l, mem := newLedger(remote)
	alloc := l.StartNew(ctx, "res", "user")

	remote.pingErr = errUnreachable
	assert.False(t, l.FinalizeScore(ctx, alloc.ID, 12, nil, sampleSummary(12)))
	assert.Empty(t, remote.scores)

	var rec domain.ScoreRecord
	require.NoError(t, mem.Get(cache.ScoreKey(alloc.ID), &rec))
	assert.Equal(t, 12.0, rec.Score)

	assert.False(t, l.FinalizeScore(ctx, "", 12, nil, sampleSummary(12)))
}

func TestLedger_Complete(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	l, _ := newLedger(remote)
	alloc := l.StartNew(ctx, "res", "user")

	l.Complete(ctx, alloc.ID)
	a, err := remote.GetAttempt(ctx, alloc.ID)
	require.NoError(t, err)
	assert.NotNil(t, a.CompletedAt)

	// Failures are swallowed
	remote.completeErr = errors.New("read only transaction")
	l.Complete(ctx, alloc.ID)
	l.Complete(ctx, "")
}

func TestLedger_ListForResourceDeduplicates(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	l, _ := newLedger(remote)

	first := l.StartNew(ctx, "res", "user")
	second := l.StartNew(ctx, "res", "user")
	summary := sampleSummary(12)
	require.True(t, l.FinalizeScore(ctx, first.ID, 12, nil, summary))
	require.True(t, l.FinalizeScore(ctx, second.ID, 20, nil, summary))

	// A stray duplicate row for attempt 1 without any detail
	remote.listExtra = []domain.Attempt{{ID: "stray", ResourceID: "res", UserID: "user", AttemptNumber: 1}}

	got := l.ListForResource(ctx, "user", "res")
	require.Len(t, got, 2)
	seen := map[int]bool{}
	for _, a := range got {
		assert.False(t, seen[a.AttemptNumber], "attempt %d listed twice", a.AttemptNumber)
		seen[a.AttemptNumber] = true
	}
	assert.Equal(t, first.ID, got[0].ID)
	require.NotNil(t, got[0].SummarySnapshot)
	assert.Nil(t, got[0].Breakdown)
}

func TestLedger_ListForResourceRebuildsBreakdown(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	l, mem := newLedger(remote)
	alloc := l.StartNew(ctx, "res", "user")
	remote.summaryErr = errors.New("unavailable")
	require.True(t, l.FinalizeScore(ctx, alloc.ID, 12, nil, sampleSummary(12)))
	require.NoError(t, mem.Delete(cache.SummaryKey(alloc.ID)))

	got := l.ListForResource(ctx, "user", "res")
	require.Len(t, got, 1)
	assert.Nil(t, got[0].SummarySnapshot)
	require.Len(t, got[0].Breakdown, 2)
	assert.Equal(t, domain.SegmentQuiz, got[0].Breakdown[0].Name)
	assert.Equal(t, 12.0, got[0].Breakdown[0].Contribution)
	require.NotNil(t, got[0].FinalScore)
	assert.Equal(t, 12.0, *got[0].FinalScore)
}

func TestLedger_ListForResourceUsesLocalMirror(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.summaryErr = errors.New("unavailable")
	l, _ := newLedger(remote)
	alloc := l.StartNew(ctx, "res", "user")
	require.True(t, l.FinalizeScore(ctx, alloc.ID, 12, nil, sampleSummary(12)))

	got := l.ListForResource(ctx, "user", "res")
	require.Len(t, got, 1)
	require.NotNil(t, got[0].SummarySnapshot)
	assert.Equal(t, 12.0, got[0].SummarySnapshot.Total)
}

func TestLedger_LocalListing(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(nil)

	first := l.StartNew(ctx, "res", "user")
	l.StartNew(ctx, "res", "user")
	require.True(t, l.SnapshotLocal(ctx, "user", "res", first.AttemptNumber, sampleSummary(12)))
	assert.False(t, l.SnapshotLocal(ctx, "user", "res", 0, sampleSummary(1)))

	got := l.ListForResource(ctx, "user", "res")
	require.Len(t, got, 2)
	require.NotNil(t, got[0].FinalScore)
	assert.Equal(t, 12.0, *got[0].FinalScore)
	assert.Nil(t, got[1].SummarySnapshot)
}

func TestLedger_OfflineListingReadsRemoteMirrors(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	l, mem := newLedger(remote)

	first := l.StartNew(ctx, "res", "user")
	second := l.StartNew(ctx, "res", "user")
	require.True(t, l.FinalizeScore(ctx, first.ID, 12, nil, sampleSummary(12)))
	require.True(t, l.FinalizeScore(ctx, second.ID, 20, nil, sampleSummary(20)))
	// Only the score mirror survives for the second attempt
	require.NoError(t, mem.Delete(cache.SummaryKey(second.ID)))

	remote.pingErr = errUnreachable
	got := l.ListForResource(ctx, "user", "res")
	require.Len(t, got, 2)

	assert.Equal(t, first.ID, got[0].ID)
	require.NotNil(t, got[0].SummarySnapshot)
	require.NotNil(t, got[0].FinalScore)
	assert.Equal(t, 12.0, *got[0].FinalScore)

	assert.Equal(t, second.ID, got[1].ID)
	assert.Nil(t, got[1].SummarySnapshot)
	require.NotNil(t, got[1].FinalScore)
	assert.Equal(t, 20.0, *got[1].FinalScore)
}

func TestLedger_ConcurrentLocalStartsGetDistinctNumbers(t *testing.T) {
	ctx := context.Background()
	fc, err := cache.NewFileCache(t.TempDir())
	require.NoError(t, err)
	l := New(nil, fc, testOptions())

	const starts = 20
	numbers := make(chan int, starts)
	var wg sync.WaitGroup
	for i := 0; i < starts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			numbers <- l.StartNew(ctx, "res", "user").AttemptNumber
		}()
	}
	wg.Wait()
	close(numbers)

	seen := map[int]bool{}
	for n := range numbers {
		assert.False(t, seen[n], "attempt number %d allocated twice", n)
		seen[n] = true
	}
	assert.Len(t, seen, starts)
	assert.Equal(t, starts, l.Count(ctx, "res", "user"))
}

func TestLedger_CorruptCounterRestartsNumbering(t *testing.T) {
	ctx := context.Background()
	l, mem := newLedger(nil)
	mem.PutRaw(cache.CounterKey("user", "res"), []byte("nope"))

	assert.Equal(t, 0, l.Count(ctx, "res", "user"))
	assert.Equal(t, 1, l.StartNew(ctx, "res", "user").AttemptNumber)
}

func TestDedupe(t *testing.T) {
	score := 10.0
	got := dedupe([]domain.Attempt{
		{AttemptNumber: 2},
		{AttemptNumber: 1},
		{AttemptNumber: 2, FinalScore: &score},
	})
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].AttemptNumber)
	assert.Equal(t, &score, got[1].FinalScore)
}
