package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/fintrack/fintrack/internal/audit"
	"github.com/fintrack/fintrack/internal/ledger"
	"github.com/fintrack/fintrack/internal/ledger/store/memory"
	"github.com/fintrack/fintrack/internal/ledger/store/postgres"
	"github.com/fintrack/fintrack/internal/ledger/store/sqlite"
	"github.com/fintrack/fintrack/internal/platform/cache"
	"github.com/fintrack/fintrack/internal/platform/db"
	"github.com/fintrack/fintrack/internal/shared"
)

// Ledger bundles the ledger service with the storage behind it.
type Ledger struct {
	Service *ledger.Service
	Store   ledger.Store
	// Pool is set only for the postgres store.
	Pool    *pgxpool.Pool
	closers []func() error
}

// OpenLedger connects the configured store, applies migrations when enabled and wires the
// audit recorder. Callers register further observers with Service.Observe.
func OpenLedger(ctx context.Context, cfg *Config, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{}
	var sink audit.Sink
	switch cfg.LedgerStore {
	case StorePostgres:
		if cfg.MigrateOnStart {
			if err := postgres.Migrate(cfg.PGDSN); err != nil {
				return nil, fmt.Errorf("app: migrate postgres: %w", err)
			}
		}
		pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
		if err != nil {
			return nil, err
		}
		l.Pool = pool
		l.Store = postgres.New(pool)
		l.closers = append(l.closers, func() error { pool.Close(); return nil })
		sink = audit.NewPostgresSink(shared.NewAuditLogger(pool))
	case StoreSQLite:
		if cfg.MigrateOnStart {
			if err := sqlite.Migrate(cfg.SQLitePath); err != nil {
				return nil, fmt.Errorf("app: migrate sqlite: %w", err)
			}
		}
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		l.Store = store
		l.closers = append(l.closers, store.Close)
		sink = audit.NewLogSink(logger)
	case StoreMemory:
		l.Store = memory.New()
		sink = audit.NewLogSink(logger)
	default:
		return nil, fmt.Errorf("app: unknown ledger store %q", cfg.LedgerStore)
	}
	l.Service = ledger.NewService(l.Store, audit.NewRecorder(sink, logger))
	l.Service.WithTxTimeout(cfg.LedgerTxTimeout)
	logger.Info("ledger store ready", slog.String("store", cfg.LedgerStore))
	return l, nil
}

// Close releases the store in reverse order of acquisition.
func (l *Ledger) Close() error {
	var first error
	for i := len(l.closers) - 1; i >= 0; i-- {
		if err := l.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	l.closers = nil
	return first
}

// OpenRedis returns a client for the dashboard cache, or nil when caching is disabled or the
// server cannot be reached. The ledger works without it.
func OpenRedis(ctx context.Context, cfg *Config, logger *slog.Logger) *redis.Client {
	if !cfg.DashboardCache || cfg.RedisAddr == "" {
		return nil
	}
	client, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("dashboard cache disabled", slog.Any("error", err))
		return nil
	}
	return client
}
