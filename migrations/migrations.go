// Package migrations embeds SQL migration files and provides a function to apply them.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

// FS contains the embedded SQL migration files, one directory per dialect.
//
//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS

// Dialect selects the migration directory and the goose dialect.
type Dialect string

// Supported dialects.
const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// Setup points goose at the embedded files for the given dialect and returns
// the directory to pass to goose commands.
func Setup(d Dialect) (string, error) {
	goose.SetBaseFS(FS)

	var gooseDialect string
	switch d {
	case SQLite:
		gooseDialect = "sqlite3"
	case Postgres:
		gooseDialect = "postgres"
	default:
		return "", fmt.Errorf("unsupported dialect %q", d)
	}
	if err := goose.SetDialect(gooseDialect); err != nil {
		return "", fmt.Errorf("set dialect: %w", err)
	}
	return string(d), nil
}

// Run applies all pending migrations to the given database.
func Run(db *sql.DB, d Dialect) error {
	dir, err := Setup(d)
	if err != nil {
		return err
	}

	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}
