package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/pressly/goose/v3"

	"github.com/sakif/authd/internal/model"
	"github.com/sakif/authd/internal/repository"
)

// TESTING WITH IN-MEMORY SQLITE:
// ":memory:" creates a fresh database that exists only for the test. The
// single-connection pool keeps every statement on that one database.
//
// newTestDB runs the real migrations, so these tests also cover the schema.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDSN(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{":memory:", ":memory:?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"},
		{"data/authd.db", "data/authd.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"},
		{"file:x.db?cache=shared", "file:x.db?cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"},
	}
	for _, tt := range tests {
		if got := dsn(tt.in); got != tt.want {
			t.Errorf("dsn(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMigrationStatus(t *testing.T) {
	ctx := context.Background()

	db, err := Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	status, err := db.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(status) != 2 {
		t.Fatalf("MigrationStatus() returned %d migrations, want 2", len(status))
	}
	for _, s := range status {
		if s.State != goose.StatePending {
			t.Errorf("migration %d state = %s, want pending", s.Source.Version, s.State)
		}
	}

	results, err := db.Migrate(ctx)
	if err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if len(results) != 2 {
		t.Errorf("Migrate() applied %d migrations, want 2", len(results))
	}

	// Second run is a no-op.
	results, err = db.Migrate(ctx)
	if err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	if len(results) != 0 {
		t.Errorf("second Migrate() applied %d migrations, want 0", len(results))
	}
}

// =========================================================================
// TRANSACTION TESTS
// =========================================================================

func TestWithinTx_Commit(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	var id string
	err := db.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		u := &model.User{Email: "tx@example.com", Provider: model.ProviderLocal, IsActive: true}
		if err := tx.Users().Insert(ctx, u); err != nil {
			return err
		}
		id = u.ID
		return nil
	})
	if err != nil {
		t.Fatalf("WithinTx() error = %v", err)
	}

	if _, err := db.Users().FindByID(ctx, id); err != nil {
		t.Errorf("user should be visible after commit: %v", err)
	}
}

func TestWithinTx_Rollback(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		u := &model.User{Email: "rollback@example.com", IsActive: true}
		if err := tx.Users().Insert(ctx, u); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithinTx() error = %v, want boom", err)
	}

	if _, err := db.Users().FindByEmail(ctx, "rollback@example.com"); err == nil {
		t.Error("user should not exist after rollback")
	}
}

func TestPing(t *testing.T) {
	db := newTestDB(t)
	if err := db.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}
