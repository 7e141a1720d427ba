// Package storage persists observed servers with their player and mod history
// in SQLite or PostgreSQL, and applies schema migrations on startup.
package storage

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"  // Driver postgres
	_ "modernc.org/sqlite" // Driver sqlite
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// dialect carries the per-database differences the repository cares about.
type dialect struct {
	name           string
	migrationTable string
	numbered       bool
}

var dialects = map[string]dialect{
	DriverSQLite: {
		name: DriverSQLite,
		migrationTable: `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME
		);`,
	},
	DriverPostgres: {
		name: DriverPostgres,
		migrationTable: `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ
		);`,
		numbered: true,
	},
}

// rebind rewrites "?" placeholders into "$n" for dialects that number them.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}

	var sb strings.Builder
	sb.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteByte(query[i])
	}

	return sb.String()
}

// Repository manages the database connection and serializes writes per server key.
type Repository struct {
	db      *sql.DB
	locks   *keyLocks
	dialect dialect
}

// New opens a database for the given driver, sets connection pool parameters, and runs migrations.
// For SQLite the DSN is a file path; pragmas for WAL, busy timeout and foreign keys are appended.
func New(driver, dsn string) (*Repository, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	if driver == DriverSQLite {
		dsn = sqliteDSN(dsn)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := runMigrations(db, d); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Repository{db: db, dialect: d, locks: newKeyLocks()}, nil
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}

	return path + sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(1)&_txlock=immediate"
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Driver returns the name of the database driver in use.
func (r *Repository) Driver() string {
	return r.dialect.name
}

// Error describes a failed storage operation for one server key.
type Error struct {
	Err     error
	Address string
	Table   string
	Op      string
	Port    int
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage: %s %s for %s:%d: %v", e.Op, e.Table, e.Address, e.Port, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
