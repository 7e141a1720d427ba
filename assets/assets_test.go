package assets

import (
	"io/fs"
	"testing"
)

func TestMigrations(t *testing.T) {
	for _, dialect := range []string{"sqlite", "postgres"} {
		fsys, err := Migrations(dialect)
		if err != nil {
			t.Fatalf("Migrations(%q) error = %v", dialect, err)
		}
		if _, err := fs.ReadFile(fsys, "0001_init.sql"); err != nil {
			t.Errorf("Migrations(%q): read 0001_init.sql: %v", dialect, err)
		}
	}

	if _, err := Migrations("mysql"); err == nil {
		t.Error("Expected error for unknown dialect")
	}
}
