package storage

import "embed"

// Migrations holds the schema, applied with postgresql.Migrate(Migrations, MigrationsDir, ...).
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations holding the SQL files.
const MigrationsDir = "migrations"
