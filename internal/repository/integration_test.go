//go:build integration

package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/felixgeelhaar/studyloop/internal/cache"
	"github.com/felixgeelhaar/studyloop/internal/domain"
	"github.com/felixgeelhaar/studyloop/internal/ledger"
	"github.com/felixgeelhaar/studyloop/internal/repository"
	"github.com/felixgeelhaar/studyloop/internal/storage/postgres"
)

// setupPostgres starts a migrated PostgreSQL container
func setupPostgres(t *testing.T) (*pgxpool.Pool, *repository.Scoreboard) {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("studyloop"),
		tcpostgres.WithUsername("studyloop"),
		tcpostgres.WithPassword("studyloop"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	db, err := postgres.Open(url)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := postgres.Migrate(db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if v, _ := postgres.Version(db); v != 4 {
		t.Fatalf("Version() = %d; want 4", v)
	}

	pool, err := postgres.Pool(ctx, url, 4)
	if err != nil {
		t.Fatalf("Pool() error = %v", err)
	}
	t.Cleanup(pool.Close)

	return pool, repository.NewScoreboard(db)
}

func TestIntegration_PostgresStore_DuplicateAttempt(t *testing.T) {
	pool, _ := setupPostgres(t)
	store := repository.NewPostgresStore(pool)
	ctx := context.Background()

	a := &domain.Attempt{ID: "0b7c1c5e-8d0a-4a4e-9a55-2a3f1f7a0001", ResourceID: "res", UserID: "user", AttemptNumber: 1, StartedAt: time.Now()}
	if err := store.InsertAttempt(ctx, a); err != nil {
		t.Fatalf("InsertAttempt() error = %v", err)
	}

	dup := *a
	dup.ID = "0b7c1c5e-8d0a-4a4e-9a55-2a3f1f7a0002"
	if err := store.InsertAttempt(ctx, &dup); !errors.Is(err, domain.ErrDuplicateAttempt) {
		t.Errorf("InsertAttempt() duplicate error = %v; want ErrDuplicateAttempt", err)
	}

	if _, err := store.GetAttempt(ctx, "not-a-uuid"); !errors.Is(err, domain.ErrAttemptNotFound) {
		t.Errorf("GetAttempt() error = %v; want ErrAttemptNotFound", err)
	}
}

func TestIntegration_Ledger_EndToEnd(t *testing.T) {
	pool, board := setupPostgres(t)
	ctx := context.Background()
	l := ledger.New(repository.NewPostgresStore(pool), cache.NewMemory(), ledger.DefaultOptions())

	first := l.StartNew(ctx, "res", "alice")
	second := l.StartNew(ctx, "res", "alice")
	if first.AttemptNumber != 1 || second.AttemptNumber != 2 {
		t.Fatalf("attempt numbers = %d, %d; want 1, 2", first.AttemptNumber, second.AttemptNumber)
	}
	if first.ID == "" || first.Degraded {
		t.Fatalf("first allocation = %+v; want a remote attempt", first)
	}

	summary := domain.ScoreSummary{
		Total:    12,
		MaxTotal: 20,
		Breakdown: []domain.BreakdownItem{
			{Name: domain.SegmentQuiz, Weight: 20, TotalItems: 5, CorrectItems: 3, Contribution: 12, Confirmed: true},
		},
	}
	if !l.FinalizeScore(ctx, first.ID, 12, nil, summary) {
		t.Fatal("FinalizeScore() = false; want true")
	}
	if !l.FinalizeScore(ctx, first.ID, 16, nil, summary) {
		t.Fatal("second FinalizeScore() = false; want true")
	}
	l.Complete(ctx, first.ID)

	bobAttempt := l.StartNew(ctx, "res", "bob")
	l.FinalizeScore(ctx, bobAttempt.ID, 16, nil, summary)

	attempts := l.ListForResource(ctx, "alice", "res")
	if len(attempts) != 2 {
		t.Fatalf("ListForResource() returned %d attempts; want 2", len(attempts))
	}
	if attempts[0].SummarySnapshot == nil || attempts[0].CompletedAt == nil {
		t.Errorf("attempt 1 = %+v; want snapshot and completion", attempts[0])
	}
	if attempts[0].FinalScore == nil || *attempts[0].FinalScore != 16 {
		t.Errorf("attempt 1 score = %v; want 16", attempts[0].FinalScore)
	}

	total, err := board.TotalPoints(ctx, "alice")
	if err != nil || total != 16 {
		t.Errorf("TotalPoints() = %v, %v; want 16", total, err)
	}
	ranking, err := board.Ranking(ctx, 10)
	if err != nil {
		t.Fatalf("Ranking() error = %v", err)
	}
	if len(ranking) != 2 {
		t.Fatalf("Ranking() returned %d entries; want 2", len(ranking))
	}
	// Equal totals: alice's last score landed first
	if ranking[0].UserID != "alice" {
		t.Errorf("Ranking()[0] = %s; want alice", ranking[0].UserID)
	}
}
