package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/pageforge/pageforge-api/internal/platform/postgres"
	"github.com/pressly/goose/v3"
)

// runMigrations executes a goose command (up, down, status, version) against
// the embedded migration scripts.
func runMigrations(ctx context.Context, db *sql.DB, command string, logger *slog.Logger) error {
	goose.SetBaseFS(postgres.MigrationsFS)
	goose.SetLogger(gooseLogger{logger})

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	logger.Info("Running migration command", "command", command)
	if err := goose.RunContext(ctx, command, db, "migrations"); err != nil {
		return fmt.Errorf("goose %s failed: %w", command, err)
	}

	logger.Info("Migration command completed", "command", command)
	return nil
}

// gooseLogger routes goose output through the structured logger.
type gooseLogger struct {
	logger *slog.Logger
}

func (g gooseLogger) Fatalf(format string, v ...interface{}) {
	g.logger.Error(fmt.Sprintf(format, v...))
}

func (g gooseLogger) Printf(format string, v ...interface{}) {
	g.logger.Info(fmt.Sprintf(format, v...))
}
