// Package sqlite persists balances, the transaction log, claims, votes and
// categories in a single SQLite database.
//
// The pool is capped at one connection, so every transaction opened through
// InTx holds the database exclusively until it commits or rolls back. That is
// the engine's serialization point for concurrent writers.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// FileName is the database file created inside the data directory.
const FileName = "timebank.db"

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DB wraps the SQL handle.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the database in dir and applies migrations.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dsn := "file:" + filepath.Join(dir, FileName) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	db := &DB{db: sqlDB}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// New wraps an already opened handle. Migrations are not applied.
func New(sqlDB *sql.DB) *DB {
	return &DB{db: sqlDB}
}

// Close releases the database handle.
func (db *DB) Close() error {
	return db.db.Close()
}

// Ping verifies the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

// migrate applies all schema statements in order, then seeds reference data.
func (db *DB) migrate() error {
	groups := [][]string{
		LedgerMigrations(),
		ClaimMigrations(),
		CategoryMigrations(),
	}
	for _, stmts := range groups {
		for _, stmt := range stmts {
			if _, err := db.db.Exec(stmt); err != nil {
				return err
			}
		}
	}
	return db.seedCategories()
}

// ─── Transactions ───────────────────────────────────────────────────────────

// Tx is one atomic unit of work. Nothing written through it is visible to
// other callers until InTx commits.
type Tx struct {
	tx *sql.Tx
}

// InTx runs fn inside a database transaction. The transaction commits when fn
// returns nil and rolls back otherwise, including on panic.
func (db *DB) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer sqlTx.Rollback() //nolint:errcheck // no-op once committed

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx so reads can be shared.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var se *msqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// MaxPageSize caps every paginated listing.
const MaxPageSize = 500

// NormalizePage applies the listing defaults: limit 50, capped at MaxPageSize.
func NormalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
