// Package main implements the entry point for the PageForge API server,
// which drives persistent content-generation workflows: site builds and
// blog batches running through intake, research, sitemap planning, copy
// generation, image QA and publication.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
)

func main() {
	migrateCmd := flag.String("migrate", "",
		"run a migration command (up, down, status, version) and exit")
	flag.Parse()

	if err := run(context.Background(), *migrateCmd); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

// run loads configuration, sets up logging and the database, and either
// executes a migration command or starts the server.
func run(ctx context.Context, migrateCmd string) error {
	cfg, err := loadAppConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := setupAppLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	db, err := setupAppDatabase(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to set up database: %w", err)
	}

	if migrateCmd != "" {
		defer func() {
			if err := db.Close(); err != nil {
				logger.Error("Error closing database connection", "error", err)
			}
		}()
		if err := runMigrations(ctx, db, migrateCmd, logger); err != nil {
			return fmt.Errorf("migration %q failed: %w", migrateCmd, err)
		}
		return nil
	}

	app, err := newApplication(ctx, cfg, logger, db)
	if err != nil {
		// newApplication does not own db until it returns successfully.
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("Error closing database connection", "error", closeErr)
		}
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	return app.Run(ctx)
}
