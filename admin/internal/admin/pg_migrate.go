package admin

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/malbeclabs/gameledger/api/config"
	"github.com/malbeclabs/gameledger/engine/pkg/host/pghost"
)

// PgMigrateUp runs all pending PostgreSQL migrations
func PgMigrateUp(ctx context.Context, log *slog.Logger, cfg config.PgConfig) error {
	db, err := pghost.OpenDB(cfg.ConnString())
	if err != nil {
		return err
	}
	defer db.Close()

	if err := pghost.MigrateUp(ctx, log, db); err != nil {
		return err
	}
	log.Info("PostgreSQL migrations completed")
	return nil
}

// PgMigrateDown rolls back the last PostgreSQL migration
func PgMigrateDown(ctx context.Context, log *slog.Logger, cfg config.PgConfig) error {
	db, err := pghost.OpenDB(cfg.ConnString())
	if err != nil {
		return err
	}
	defer db.Close()

	if err := pghost.MigrateDown(ctx, log, db); err != nil {
		return err
	}
	log.Info("PostgreSQL migration rollback completed")
	return nil
}

// PgMigrateStatus shows the status of all PostgreSQL migrations
func PgMigrateStatus(ctx context.Context, log *slog.Logger, cfg config.PgConfig) error {
	db, err := pghost.OpenDB(cfg.ConnString())
	if err != nil {
		return err
	}
	defer db.Close()

	version, err := pghost.Version(ctx, db)
	if err != nil {
		return err
	}
	log.Info("PostgreSQL migration status", "version", version)
	if err := pghost.MigrationStatus(ctx, db); err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	return nil
}
