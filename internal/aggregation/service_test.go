package aggregation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/felixgeelhaar/studyloop/internal/domain"
)

type fakeSource struct {
	total   float64
	best    map[string]float64
	ranking []domain.RankingEntry
	err     error
	limit   int
}

func (f *fakeSource) TotalPoints(ctx context.Context, userID string) (float64, error) {
	return f.total, f.err
}

func (f *fakeSource) BestScores(ctx context.Context, userID string) (map[string]float64, error) {
	return f.best, f.err
}

func (f *fakeSource) Ranking(ctx context.Context, limit int) ([]domain.RankingEntry, error) {
	f.limit = limit
	return f.ranking, f.err
}

func TestService_RemoteFailureYieldsEmpty(t *testing.T) {
	ctx := context.Background()
	svc := NewService(&fakeSource{total: 99, err: errors.New("connection refused")})

	assert.Zero(t, svc.TotalPoints(ctx, "u"))
	assert.Empty(t, svc.BestScorePerResource(ctx, "u"))
	assert.Empty(t, svc.GlobalRanking(ctx, 5))
}

func TestService_NoSource(t *testing.T) {
	ctx := context.Background()
	svc := NewService(nil)

	assert.Zero(t, svc.TotalPoints(ctx, "u"))
	assert.NotNil(t, svc.BestScorePerResource(ctx, "u"))
	assert.NotNil(t, svc.GlobalRanking(ctx, 5))
}

func TestService_Totals(t *testing.T) {
	ctx := context.Background()
	svc := NewService(&fakeSource{total: 132.5, best: map[string]float64{"r1": 80, "r2": 52.5}})

	assert.Equal(t, 132.5, svc.TotalPoints(ctx, "u"))
	assert.Equal(t, map[string]float64{"r1": 80, "r2": 52.5}, svc.BestScorePerResource(ctx, "u"))
}

func TestService_GlobalRankingTieBreak(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	src := &fakeSource{ranking: []domain.RankingEntry{
		{UserID: "carol", TotalScore: 100, ReachedAt: base.Add(2 * time.Hour)},
		{UserID: "bob", TotalScore: 100, ReachedAt: base},
		{UserID: "dave", TotalScore: 150, ReachedAt: base.Add(5 * time.Hour)},
		{UserID: "alice", TotalScore: 100, ReachedAt: base},
		{UserID: "erin", TotalScore: 20, ReachedAt: base},
	}}
	svc := NewService(src)

	got := svc.GlobalRanking(context.Background(), 4)

	var order []string
	for _, e := range got {
		order = append(order, e.UserID)
	}
	assert.Equal(t, []string{"dave", "alice", "bob", "carol"}, order)
	assert.Equal(t, 4, src.limit)
}

func TestService_GlobalRankingDefaultLimit(t *testing.T) {
	src := &fakeSource{}
	NewService(src).GlobalRanking(context.Background(), 0)
	assert.Equal(t, DefaultRankingLimit, src.limit)
}
