package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Clark-Hu/hidden-spots/internal/logging"
)

// ErrSchemaMissing is reported by HealthCheck when the spots table does not exist yet.
var ErrSchemaMissing = errors.New("store: spots table is missing, run migrations")

// Options controls the pool and startup behaviour of the Postgres spot store.
type Options struct {
	MaxConns               int32
	MinConns               int32
	MaxConnIdleTime        time.Duration
	MaxConnLifetime        time.Duration
	ConnTimeout            time.Duration
	StatementCacheCapacity int
	// AutoMigrate applies pending embedded migrations once the pool is up.
	AutoMigrate bool
	Logger      *zap.Logger
}

// Store owns the pgx pool that holds spot documents.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	opts   Options
}

// New connects to dbURL, verifies the connection and, when asked, brings the spots
// schema up to date.
func New(ctx context.Context, dbURL string, opts Options) (*Store, error) {
	logger := logging.OrNop(opts.Logger)

	cfg, err := poolConfig(dbURL, opts)
	if err != nil {
		return nil, err
	}
	logger.Info("store: connecting spot store",
		zap.Int32("max_conns", cfg.MaxConns),
		zap.Int32("min_conns", cfg.MinConns),
		zap.Int("stmt_cache", opts.StatementCacheCapacity),
		zap.Bool("auto_migrate", opts.AutoMigrate),
	)

	connCtx, cancel := withOptionalTimeout(ctx, opts.ConnTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(connCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	st := &Store{pool: pool, logger: logger, opts: opts}
	if opts.AutoMigrate {
		// Migrations run on the caller's context; the connect timeout would cut them short.
		if _, err := st.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return st, nil
}

func poolConfig(dbURL string, opts Options) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("parse db url: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		cfg.MinConns = opts.MinConns
	}
	if opts.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = opts.MaxConnIdleTime
	}
	if opts.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.StatementCacheCapacity >= 0 {
		cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheStatement
		cfg.ConnConfig.StatementCacheCapacity = opts.StatementCacheCapacity
	}
	return cfg, nil
}

// Migrate applies pending embedded migrations and returns the versions it applied.
func (s *Store) Migrate(ctx context.Context) ([]string, error) {
	return ApplyMigrations(ctx, s.pool, s.logger)
}

// Close releases database resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.logger.Info("store: closing spot store")
	s.pool.Close()
}

// HealthCheck reports ready only when the database answers and the spots table exists.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("store not initialized")
	}
	checkCtx, cancel := withOptionalTimeout(ctx, s.opts.ConnTimeout)
	defer cancel()

	var present bool
	if err := s.pool.QueryRow(checkCtx, `SELECT to_regclass('spots') IS NOT NULL`).Scan(&present); err != nil {
		return fmt.Errorf("query schema: %w", err)
	}
	if !present {
		return ErrSchemaMissing
	}
	return nil
}

// Pool exposes the underlying pgx pool for repositories.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func withOptionalTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
