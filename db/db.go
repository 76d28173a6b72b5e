// Package db holds the SQL schema migrations of the Postgres user store.
package db

import "embed"

//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations that holds the migration files.
const MigrationsDir = "migrations"
