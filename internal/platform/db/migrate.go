package db

import (
	"context"
	"fmt"
	"io/fs"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/lock"
)

// MigrationResult describes one applied migration.
type MigrationResult struct {
	Version  int64
	Path     string
	Duration time.Duration
}

// Migrate applies the pending goose migrations of fsys and returns them in the
// order applied. Applied versions are recorded in goose_db_version, and a
// Postgres advisory lock keeps concurrent runs from racing.
func Migrate(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS) ([]MigrationResult, error) {
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()

	locker, err := lock.NewPostgresSessionLocker()
	if err != nil {
		return nil, fmt.Errorf("platform/db: migration lock: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, sqlDB, fsys, goose.WithSessionLocker(locker))
	if err != nil {
		return nil, fmt.Errorf("platform/db: load migrations: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("platform/db: apply migrations: %w", err)
	}
	applied := make([]MigrationResult, 0, len(results))
	for _, r := range results {
		applied = append(applied, MigrationResult{Version: r.Source.Version, Path: r.Source.Path, Duration: r.Duration})
	}
	return applied, nil
}

// MigrationVersion returns the highest applied migration version.
func MigrationVersion(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS) (int64, error) {
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, sqlDB, fsys)
	if err != nil {
		return 0, fmt.Errorf("platform/db: load migrations: %w", err)
	}
	return provider.GetDBVersion(ctx)
}
