package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pressly/goose/v3"

	"github.com/sakif/authd/internal/config"
	"github.com/sakif/authd/internal/repository"
	"github.com/sakif/authd/internal/repository/postgres"
	sqliteRepo "github.com/sakif/authd/internal/repository/sqlite"
)

// migratingStore is a repository.Store that also owns its schema. Both the
// sqlite and the postgres DB satisfy it.
type migratingStore interface {
	repository.Store
	Migrate(ctx context.Context) ([]*goose.MigrationResult, error)
	MigrationStatus(ctx context.Context) ([]*goose.MigrationStatus, error)
}

// ErrSchemaNotMigrated is returned by openMigratedStore when migrations are
// pending.
var ErrSchemaNotMigrated = errors.New("database schema is not migrated; run `authd migrate up` first")

// openStore connects to the configured database without migrating it.
func openStore(ctx context.Context, cfg *config.Config) (migratingStore, error) {
	switch cfg.Database.Driver {
	case config.DriverSQLite:
		// The data directory is created on first run, like `mkdir -p`.
		if dir := filepath.Dir(cfg.Database.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
			}
		}
		return sqliteRepo.Open(ctx, cfg.Database.Path)
	case config.DriverPostgres:
		return postgres.Open(ctx, cfg.Database.URL)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

// openMigratedStore opens the store for commands that read or write accounts.
// It refuses to continue while any migration is pending, so a fresh database
// reports what to do instead of a missing-table error.
func openMigratedStore(ctx context.Context, cfg *config.Config) (migratingStore, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	statuses, err := store.MigrationStatus(ctx)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("checking migration status: %w", err)
	}
	for _, s := range statuses {
		if s.State == goose.StatePending {
			store.Close()
			return nil, ErrSchemaNotMigrated
		}
	}
	return store, nil
}
