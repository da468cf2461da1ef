package store

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Clark-Hu/hidden-spots/internal/logging"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrationLockKey is the advisory lock held while migrating, so replicas starting
// together apply each version once.
const migrationLockKey int64 = 0x5370_6f74

// Migration is one embedded schema change.
type Migration struct {
	Version string
	SQL     string
}

// Migrations returns the embedded up migrations ordered by version.
func Migrations() ([]Migration, error) {
	names, err := fs.Glob(migrationFS, "migrations/*.up.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)

	migrations := make([]Migration, 0, len(names))
	for _, name := range names {
		payload, err := migrationFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		migrations = append(migrations, Migration{
			Version: strings.TrimSuffix(path.Base(name), ".up.sql"),
			SQL:     string(payload),
		})
	}
	return migrations, nil
}

// ApplyMigrations runs every migration not yet recorded in schema_migrations inside a
// single transaction and returns the versions it applied.
func ApplyMigrations(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) ([]string, error) {
	logger = logging.OrNop(logger)
	migrations, err := Migrations()
	if err != nil {
		return nil, err
	}

	var applied []string
	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
			return fmt.Errorf("lock migrations: %w", err)
		}
		if _, err := tx.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
			return fmt.Errorf("create schema_migrations: %w", err)
		}

		for _, m := range migrations {
			var done bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, m.Version).Scan(&done); err != nil {
				return fmt.Errorf("check migration %s: %w", m.Version, err)
			}
			if done {
				continue
			}
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return fmt.Errorf("apply migration %s: %w", m.Version, err)
			}
			if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, m.Version); err != nil {
				return fmt.Errorf("record migration %s: %w", m.Version, err)
			}
			applied = append(applied, m.Version)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(applied) > 0 {
		logger.Info("store: spots schema migrated", zap.Strings("versions", applied))
	}
	return applied, nil
}
