package daemon

import (
	"context"

	"github.com/felixgeelhaar/studyloop/internal/aggregation"
	"github.com/felixgeelhaar/studyloop/internal/domain"
	"github.com/felixgeelhaar/studyloop/internal/ledger"
)

// schemaGuard is satisfied by *postgres.Schema
type schemaGuard interface {
	Ensure(ctx context.Context) error
}

// migratingRemote only reports the remote store available once its schema
// is in place, so the ledger probe covers late starting databases
type migratingRemote struct {
	ledger.Remote
	schema schemaGuard
}

func (r migratingRemote) Ping(ctx context.Context) error {
	if err := r.Remote.Ping(ctx); err != nil {
		return err
	}
	return r.schema.Ensure(ctx)
}

// migratingSource defers aggregate queries until the schema is in place
type migratingSource struct {
	aggregation.Source
	schema schemaGuard
}

func (s migratingSource) TotalPoints(ctx context.Context, userID string) (float64, error) {
	if err := s.schema.Ensure(ctx); err != nil {
		return 0, err
	}
	return s.Source.TotalPoints(ctx, userID)
}

func (s migratingSource) BestScores(ctx context.Context, userID string) (map[string]float64, error) {
	if err := s.schema.Ensure(ctx); err != nil {
		return nil, err
	}
	return s.Source.BestScores(ctx, userID)
}

func (s migratingSource) Ranking(ctx context.Context, limit int) ([]domain.RankingEntry, error) {
	if err := s.schema.Ensure(ctx); err != nil {
		return nil, err
	}
	return s.Source.Ranking(ctx, limit)
}
