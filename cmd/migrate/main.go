// Package main provides a CLI tool for running the outcome archive migrations.
package main

import (
	"flag"
	"fmt"

	"github.com/tao-dividends/internal/config"
	"github.com/tao-dividends/internal/logging"
	"github.com/tao-dividends/internal/storage"
)

func main() {
	var (
		action         = flag.String("action", "up", "Migration action: up, down, version")
		migrationsPath = flag.String("path", "migrations/postgres", "Directory holding the migration files")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		logging.Fatalf("Failed to load config: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	defer func() { _ = logger.Sync() }()

	if !cfg.Database.Postgres.Enabled() {
		logger.Fatal("POSTGRES_HOST is not set, nothing to migrate")
	}

	if err := runPostgresMigrations(storage.PostgresURL(&cfg.Database.Postgres), *migrationsPath, *action, logger); err != nil {
		logger.WithError(err).WithField("action", *action).Fatal("Postgres migration failed")
	}
}

func runPostgresMigrations(databaseURL, migrationsPath, action string, logger *logging.Logger) error {
	switch action {
	case "up":
		logger.Info("Running Postgres migrations")
		if err := storage.RunMigrations(databaseURL, migrationsPath); err != nil {
			return err
		}
		logger.Info("Postgres migrations completed")

	case "down":
		logger.Info("Rolling back Postgres migration")
		if err := storage.RollbackMigrations(databaseURL, migrationsPath); err != nil {
			return err
		}
		logger.Info("Postgres migration rolled back")

	case "version":
		version, dirty, err := storage.MigrationVersion(databaseURL, migrationsPath)
		if err != nil {
			return err
		}
		logger.WithFields(map[string]interface{}{
			"version": version,
			"dirty":   dirty,
		}).Info("Current Postgres migration version")

	default:
		return fmt.Errorf("unknown action: %s", action)
	}

	return nil
}
