// Package dbx is the transaction plumbing under the SQLite and PostgreSQL
// stores.
package dbx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Querier runs statements. Repositories hold a Querier so the same code
// works on the pool (*sql.DB) and inside a transaction (*sql.Tx).
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ Querier = (*sql.DB)(nil)
	_ Querier = (*sql.Tx)(nil)
)

// InTx calls fn inside a transaction on db.
//
// The transaction commits when fn returns nil. It rolls back when fn returns
// an error (the rollback error, if any, is joined to fn's) or panics (the
// panic continues after the rollback).
//
// fn must use q for every statement. The SQLite pool has one connection,
// and the transaction is holding it.
func InTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context, q Querier) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dbx: begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		rbErr := tx.Rollback()
		if p := recover(); p != nil {
			panic(p)
		}
		if rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = errors.Join(err, fmt.Errorf("dbx: rollback: %w", rbErr))
		}
	}()

	if err = fn(ctx, tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("dbx: commit: %w", err)
	}
	committed = true
	return nil
}
