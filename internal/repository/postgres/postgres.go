// Package postgres implements the repository interfaces on PostgreSQL through
// the pgx database/sql driver. It mirrors the sqlite package statement for
// statement; only placeholders, column types and error codes differ.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/sakif/authd/internal/apperror"
	"github.com/sakif/authd/internal/dbx"
	"github.com/sakif/authd/internal/repository"
	"github.com/sakif/authd/internal/repository/postgres/migrations"
)

// uniqueViolation is SQLSTATE 23505.
const uniqueViolation = "23505"

// compile-time check that *DB implements repository.Store
var _ repository.Store = (*DB)(nil)

// DB wraps a pgx-backed sql.DB pool.
type DB struct {
	conn *sql.DB
}

// New connects to databaseURL and applies pending migrations.
func New(ctx context.Context, databaseURL string) (*DB, error) {
	db, err := Open(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if _, err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Open connects without touching the schema.
func Open(ctx context.Context, databaseURL string) (*DB, error) {
	conn, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: opening database: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("postgres: pinging database: %w", err)
	}
	return &DB{conn: conn}, nil
}

// NewWithConn wraps an existing pool. Tests pass a sqlmock connection.
func NewWithConn(conn *sql.DB) *DB {
	return &DB{conn: conn}
}

// gooseProvider is a seam for tests that cannot run real migrations.
var gooseProvider = func(db *sql.DB) (*goose.Provider, error) {
	return goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
}

// Migrate applies every pending migration and returns what ran.
func (db *DB) Migrate(ctx context.Context) ([]*goose.MigrationResult, error) {
	p, err := gooseProvider(db.conn)
	if err != nil {
		return nil, fmt.Errorf("postgres: loading migrations: %w", err)
	}
	results, err := p.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: running migrations: %w", err)
	}
	return results, nil
}

// MigrationStatus reports which migrations are applied and which are pending.
func (db *DB) MigrationStatus(ctx context.Context) ([]*goose.MigrationStatus, error) {
	p, err := gooseProvider(db.conn)
	if err != nil {
		return nil, fmt.Errorf("postgres: loading migrations: %w", err)
	}
	status, err := p.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: reading migration status: %w", err)
	}
	return status, nil
}

func (db *DB) Users() repository.UserRepository   { return &UserRepo{q: db.conn} }
func (db *DB) Tokens() repository.TokenRepository { return &TokenRepo{q: db.conn} }

// WithinTx runs fn inside a single READ COMMITTED transaction. The unique
// constraints on users are what serialize concurrent sign-ins; the service
// retries once on the resulting conflict.
func (db *DB) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	return dbx.InTx(ctx, db.conn, func(ctx context.Context, q dbx.Querier) error {
		return fn(ctx, txRepos{q: q})
	})
}

func (db *DB) Ping(ctx context.Context) error { return db.conn.PingContext(ctx) }

func (db *DB) Close() error { return db.conn.Close() }

type txRepos struct {
	q dbx.Querier
}

func (t txRepos) Users() repository.UserRepository   { return &UserRepo{q: t.q} }
func (t txRepos) Tokens() repository.TokenRepository { return &TokenRepo{q: t.q} }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
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

func requireOneRow(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: reading rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}
