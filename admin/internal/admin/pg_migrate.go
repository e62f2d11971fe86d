package admin

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"

	"github.com/malbeclabs/dispatch/api/config"
)

// PgMigrateUp runs all pending PostgreSQL migrations
func PgMigrateUp(log *slog.Logger, cfg config.PgConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	log.Info("running PostgreSQL migrations (up)", "host", cfg.Host, "database", cfg.Database)
	err := config.WithMigrations(cfg.ConnString(), func(db *sql.DB) error {
		return goose.Up(db, "migrations")
	})
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info("PostgreSQL migrations completed")
	return nil
}

// PgMigrateDown rolls back the last PostgreSQL migration
func PgMigrateDown(log *slog.Logger, cfg config.PgConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	log.Info("rolling back PostgreSQL migration (down)", "host", cfg.Host, "database", cfg.Database)
	err := config.WithMigrations(cfg.ConnString(), func(db *sql.DB) error {
		return goose.Down(db, "migrations")
	})
	if err != nil {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}

	log.Info("PostgreSQL migration rollback completed")
	return nil
}

// PgMigrateStatus shows the status of all PostgreSQL migrations
func PgMigrateStatus(log *slog.Logger, cfg config.PgConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	log.Info("PostgreSQL migration status")
	err := config.WithMigrations(cfg.ConnString(), func(db *sql.DB) error {
		return goose.Status(db, "migrations")
	})
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	return nil
}
