// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY SQLITE?
// SQLite is an embedded database: it lives inside the Go binary and stores
// everything in a single file. No database server to run, which makes it the
// default for local development and single-node deployments. Use ":memory:"
// in tests.
//
// WHY modernc.org/sqlite INSTEAD OF github.com/mattn/go-sqlite3?
// mattn/go-sqlite3 uses CGo, so you need a C compiler and cross-compilation
// becomes painful. modernc.org/sqlite is a pure Go translation of SQLite.
//
// ONE CONNECTION:
// The pool is capped at a single connection. SQLite allows one writer at a
// time anyway, and the cap turns concurrent transactions into a queue instead
// of SQLITE_BUSY errors. It also keeps ":memory:" databases coherent, since
// every new connection to ":memory:" would otherwise get its own empty DB.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/pressly/goose/v3"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/authd/internal/dbx"
	"github.com/sakif/authd/internal/repository"
	"github.com/sakif/authd/internal/repository/sqlite/migrations"
)

// compile-time check that *DB implements repository.Store
var _ repository.Store = (*DB)(nil)

// DB wraps a sql.DB connection pool and vends repositories bound to it.
type DB struct {
	conn *sql.DB
}

// New opens the database and applies any pending migrations.
//
// dbPath examples:
//   - "data/authd.db"  → file-based database (persistent)
//   - ":memory:"       → in-memory database (tests, lost on close)
func New(ctx context.Context, dbPath string) (*DB, error) {
	db, err := Open(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Open opens the database without touching the schema. The migrate CLI uses
// it to report status before applying anything.
func Open(ctx context.Context, dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	// sql.Open does not connect. Ping surfaces a bad path or missing
	// permissions now instead of on the first request.
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	return &DB{conn: conn}, nil
}

// dsn appends the connection pragmas modernc.org/sqlite understands.
//
// foreign_keys is OFF by default in SQLite; auth_access_tokens relies on
// ON DELETE CASCADE. WAL lets readers proceed while a write is in flight
// and is meaningless for in-memory databases.
func dsn(dbPath string) string {
	params := []string{
		"_pragma=foreign_keys(1)",
		"_pragma=busy_timeout(5000)",
	}
	if !strings.Contains(dbPath, ":memory:") && !strings.Contains(dbPath, "mode=memory") {
		params = append(params, "_pragma=journal_mode(WAL)")
	}

	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + strings.Join(params, "&")
}

func (db *DB) provider() (*goose.Provider, error) {
	p, err := goose.NewProvider(goose.DialectSQLite3, db.conn, migrations.FS)
	if err != nil {
		return nil, fmt.Errorf("sqlite: loading migrations: %w", err)
	}
	return p, nil
}

// Migrate applies every pending migration and returns what ran.
func (db *DB) Migrate(ctx context.Context) ([]*goose.MigrationResult, error) {
	p, err := db.provider()
	if err != nil {
		return nil, err
	}
	results, err := p.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}
	return results, nil
}

// MigrationStatus reports which migrations are applied and which are pending.
func (db *DB) MigrationStatus(ctx context.Context) ([]*goose.MigrationStatus, error) {
	p, err := db.provider()
	if err != nil {
		return nil, err
	}
	status, err := p.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite: reading migration status: %w", err)
	}
	return status, nil
}

// Users returns a UserRepository that runs outside any transaction.
func (db *DB) Users() repository.UserRepository { return &UserRepo{q: db.conn} }

// Tokens returns a TokenRepository that runs outside any transaction.
func (db *DB) Tokens() repository.TokenRepository { return &TokenRepo{q: db.conn} }

// WithinTx runs fn inside a single transaction.
func (db *DB) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	return dbx.InTx(ctx, db.conn, func(ctx context.Context, q dbx.Querier) error {
		return fn(ctx, txRepos{q: q})
	})
}

// Ping checks the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// txRepos binds both repositories to one transaction.
type txRepos struct {
	q dbx.Querier
}

func (t txRepos) Users() repository.UserRepository   { return &UserRepo{q: t.q} }
func (t txRepos) Tokens() repository.TokenRepository { return &TokenRepo{q: t.q} }

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY
// constraint failure.
func isUniqueViolation(err error) bool {
	var se *msqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
