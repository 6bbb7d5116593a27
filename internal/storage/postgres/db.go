// Package postgres opens the remote attempt store and keeps its schema current.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"

	"github.com/felixgeelhaar/studyloop/internal/storage/migrations"
)

// Pool creates a pgx connection pool. Connections are made lazily, so an
// unreachable server is not an error here.
func Pool(ctx context.Context, url string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	return pool, nil
}

// Open creates a database/sql handle on the lib/pq driver. It backs the
// migrator and the read-only aggregation queries. Like Pool it does not
// connect.
func Open(url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// Schema migrates the remote store the first time it answers. Until then
// every Ensure pings again, so a store that comes up after the daemon is
// picked up without a restart.
type Schema struct {
	ping    func(ctx context.Context) error
	migrate func() error

	mu    sync.Mutex
	ready bool
}

// NewSchema creates a schema guard over db
func NewSchema(db *sql.DB) *Schema {
	return &Schema{
		ping:    db.PingContext,
		migrate: func() error { return Migrate(db) },
	}
}

// Ensure returns nil once the store answered and its migrations applied
func (s *Schema) Ensure(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	if err := s.migrate(); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	s.ready = true
	slog.Info("remote schema ready")
	return nil
}

// Ready reports whether Ensure has succeeded
func (s *Schema) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Migrate applies pending migrations to the remote schema
func Migrate(db *sql.DB) error {
	if _, err := migrations.Apply(db, migrations.Postgres, migrations.PostgresDialect); err != nil {
		return err
	}
	return nil
}

// Version returns the current remote schema version
func Version(db *sql.DB) (int, error) {
	return migrations.Version(db)
}
