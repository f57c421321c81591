// Package migrations embeds the goose SQL migrations so the binaries can
// apply them without shipping the directory.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed *.sql
var FS embed.FS

const tableName = "schema_migrations"

// Up applies every pending migration.
func Up(db *sql.DB) error {
	goose.SetBaseFS(FS)
	goose.SetTableName(tableName)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}
