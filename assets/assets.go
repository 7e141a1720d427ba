// Package assets embeds the per-dialect SQL migrations.
package assets

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrations embed.FS

// Migrations returns the migration files of one SQL dialect rooted at ".".
func Migrations(dialect string) (fs.FS, error) {
	dir := "migrations/" + dialect
	if _, err := fs.Stat(migrations, dir); err != nil {
		return nil, fmt.Errorf("no migrations for dialect %q: %w", dialect, err)
	}

	return fs.Sub(migrations, dir)
}
