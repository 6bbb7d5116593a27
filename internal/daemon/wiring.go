package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/felixgeelhaar/studyloop/internal/aggregation"
	"github.com/felixgeelhaar/studyloop/internal/cache"
	"github.com/felixgeelhaar/studyloop/internal/config"
	"github.com/felixgeelhaar/studyloop/internal/domain"
	"github.com/felixgeelhaar/studyloop/internal/ledger"
	"github.com/felixgeelhaar/studyloop/internal/progress"
	"github.com/felixgeelhaar/studyloop/internal/queue"
	"github.com/felixgeelhaar/studyloop/internal/repository"
	"github.com/felixgeelhaar/studyloop/internal/resource"
	"github.com/felixgeelhaar/studyloop/internal/session"
	"github.com/felixgeelhaar/studyloop/internal/storage/postgres"
	"github.com/felixgeelhaar/studyloop/internal/storage/sqlite"
)

// ServerConfig holds configuration for creating a new server
type ServerConfig struct {
	Config *config.LocalConfig
	Env    *config.Config
	// Dir is the studyloop directory holding cache, logs and resources
	Dir string
}

// NewServer wires the daemon from configuration. The remote store and the
// message broker are optional; when they cannot be reached the daemon runs
// on the local cache alone.
func NewServer(ctx context.Context, cfg ServerConfig) (*Server, error) {
	env := cfg.Env
	if env == nil {
		env = &config.Config{}
	}

	var closers []func() error
	fail := func(err error) (*Server, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		return nil, err
	}

	// Local durable cache
	var db *sqlite.DB
	openDB := func() (*sqlite.DB, error) {
		if db != nil {
			return db, nil
		}
		var err error
		db, err = sqlite.OpenMigrated(filepath.Join(cfg.Dir, "cache", "studyloop.db"))
		if err != nil {
			return nil, err
		}
		closers = append(closers, db.Close)
		return db, nil
	}

	var store cache.Cache
	switch cfg.Config.Cache.Backend {
	case config.CacheMemory:
		store = cache.NewMemory()
	case config.CacheSQLite:
		d, err := openDB()
		if err != nil {
			return fail(fmt.Errorf("open cache: %w", err))
		}
		store = sqlite.NewKVStore(d)
	default:
		fc, err := cache.NewFileCache(filepath.Join(cfg.Dir, "cache"))
		if err != nil {
			return fail(fmt.Errorf("open cache: %w", err))
		}
		store = fc
	}

	// Remote attempt store and aggregation source. Neither connects here: an
	// unreachable store is retried per operation behind the ledger breaker.
	var remote ledger.Remote
	var source aggregation.Source
	var schema *postgres.Schema
	if env.RemoteEnabled() {
		sqlDB, err := postgres.Open(env.DatabaseURL)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, sqlDB.Close)
		pool, err := postgres.Pool(ctx, env.DatabaseURL, int32(env.DatabaseMaxConns))
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() error { pool.Close(); return nil })

		schema = postgres.NewSchema(sqlDB)
		if err := schema.Ensure(ctx); err != nil {
			slog.Warn("remote store unreachable, using local cache until it answers", "error", err)
		}
		remote = migratingRemote{Remote: repository.NewPostgresStore(pool), schema: schema}
		source = migratingSource{Source: repository.NewScoreboard(sqlDB), schema: schema}
	}

	l := ledger.New(remote, store, ledger.Options{
		ProbeTimeout:   cfg.Config.Ledger.ProbeTimeout(),
		RetryDelay:     cfg.Config.Ledger.RetryDelay(),
		BreakerTimeout: cfg.Config.Ledger.BreakerTimeout(),
	})

	resourcesDir := cfg.Config.ResourcesDir(cfg.Dir)
	if env.ResourcesPath != "" {
		resourcesDir = env.ResourcesPath
	}
	loader := resource.NewLoader(resourcesDir)

	sessions := session.NewService(loader, progress.NewCacheStore(store), l, store)
	dispatcher := domain.NewEventDispatcher()
	sessions.SetPublisher(dispatcher)

	// Analytics projection
	var activity ActivityLog
	var projector *Projector
	if cfg.Config.Analytics.Enabled {
		d, err := openDB()
		if err != nil {
			return fail(fmt.Errorf("open analytics: %w", err))
		}
		analytics := sqlite.NewAnalyticsStore(d)
		if retention := cfg.Config.Analytics.Retention(); retention > 0 {
			if n, err := analytics.Prune(retention); err != nil {
				slog.Warn("failed to prune analytics", "error", err)
			} else if n > 0 {
				slog.Info("pruned analytics events", "count", n)
			}
		}
		activity = analytics
		projector = NewProjector(analytics)
	}

	// Attempt events go through RabbitMQ when configured, else straight to
	// the projection
	var conn *queue.Connection
	if env.QueueEnabled() {
		c, err := queue.NewConnection(env.RabbitMQURL)
		if err != nil {
			slog.Warn("message broker unreachable, attempt events stay local", "error", err)
		} else {
			conn = c
			closers = append(closers, conn.Close)
			dispatcher.SubscribeAll(queue.NewProducer(conn).Handler())
			if projector != nil {
				consumer := queue.NewConsumer(conn, projector.Handle, queue.ConsumerConfig{
					Workers:  env.QueueWorkers,
					Prefetch: env.QueuePrefetch,
				})
				if err := consumer.Start(ctx); err != nil {
					return fail(fmt.Errorf("start event consumer: %w", err))
				}
				closers = append(closers, func() error { consumer.Stop(); return nil })
			}
		}
	}
	if conn == nil && projector != nil {
		dispatcher.SubscribeAll(projector.DomainHandler())
	}

	s := New(cfg.Config, Services{
		Sessions:  sessions,
		Resources: loader,
		Scores:    aggregation.NewService(source),
		Activity:  activity,
	})
	s.closers = closers
	s.status = func() map[string]any {
		return map[string]any{
			"cache":           cfg.Config.Cache.Backend,
			"remote":          remote != nil,
			"remote_ready":    schema != nil && schema.Ready(),
			"queue_connected": conn != nil && conn.IsConnected(),
			"analytics":       activity != nil,
		}
	}

	slog.Info("daemon wired",
		"cache", cfg.Config.Cache.Backend,
		"remote", remote != nil,
		"queue", conn != nil,
		"analytics", activity != nil,
		"resources", resourcesDir,
	)
	return s, nil
}
