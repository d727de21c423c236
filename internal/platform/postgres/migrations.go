package postgres

import "embed"

// MigrationsFS embeds the goose migration scripts so the server binary can
// migrate its own schema without a checkout of the repository.
//
//go:embed migrations/*.sql
var MigrationsFS embed.FS
