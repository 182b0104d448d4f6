package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/authd/internal/apperror"
	"github.com/sakif/authd/internal/dbx"
	"github.com/sakif/authd/internal/model"
	"github.com/sakif/authd/internal/repository"
)

// compile-time check that *UserRepo implements repository.UserRepository
var _ repository.UserRepository = (*UserRepo)(nil)

// UserRepo reads and writes the users table through q, which is either the
// pool or an open transaction.
type UserRepo struct {
	q dbx.Querier
}

const userColumns = `id, email, password_hash, full_name, provider, provider_id, is_active, created_at, updated_at`

// scanUser reads one row selected with userColumns.
func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	var (
		u            model.User
		passwordHash sql.NullString
		fullName     sql.NullString
		providerID   sql.NullString
	)
	err := row.Scan(
		&u.ID,
		&u.Email,
		&passwordHash,
		&fullName,
		&u.Provider,
		&providerID,
		&u.IsActive,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.PasswordHash = stringPtr(passwordHash)
	u.FullName = stringPtr(fullName)
	u.ProviderID = stringPtr(providerID)
	return &u, nil
}

func (r *UserRepo) findOne(ctx context.Context, what, key, query string, args ...any) (*model.User, error) {
	u, err := scanUser(r.q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", key)
		}
		return nil, fmt.Errorf("sqlite: getting user by %s: %w", what, err)
	}
	return u, nil
}

// FindByID retrieves a user by internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (r *UserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.findOne(ctx, "id", id,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

// FindByEmail retrieves a user by normalized email.
func (r *UserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx, "email", email,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email)
}

// FindByProviderIdentity retrieves the user linked to (provider, providerID).
func (r *UserRepo) FindByProviderIdentity(ctx context.Context, provider, providerID string) (*model.User, error) {
	return r.findOne(ctx, "provider identity", provider+":"+providerID,
		`SELECT `+userColumns+` FROM users WHERE provider = ? AND provider_id = ?`,
		provider, providerID)
}

// Insert creates a user row. The ID is generated here when the caller left it
// empty. A duplicate email or provider identity is reported as
// apperror.ErrConflict.
func (r *UserRepo) Insert(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	if user.ID == "" {
		user.ID = xid.New().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = user.CreatedAt
	}
	if user.Provider == "" {
		user.Provider = model.ProviderLocal
	}

	_, err := r.q.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Email,
		nullString(user.PasswordHash),
		nullString(user.FullName),
		user.Provider,
		nullString(user.ProviderID),
		user.IsActive,
		user.CreatedAt.UTC(),
		user.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", user.Email)
		}
		return fmt.Errorf("sqlite: inserting user %s: %w", user.ID, err)
	}
	return nil
}

// Update overwrites the mutable columns of an existing user.
func (r *UserRepo) Update(ctx context.Context, user *model.User) error {
	user.UpdatedAt = time.Now().UTC()

	res, err := r.q.ExecContext(ctx,
		`UPDATE users
		 SET email = ?, password_hash = ?, full_name = ?, provider = ?, provider_id = ?,
		     is_active = ?, updated_at = ?
		 WHERE id = ?`,
		user.Email,
		nullString(user.PasswordHash),
		nullString(user.FullName),
		user.Provider,
		nullString(user.ProviderID),
		user.IsActive,
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", user.ID)
		}
		return fmt.Errorf("sqlite: updating user %s: %w", user.ID, err)
	}
	return requireOneRow(res, "user", user.ID)
}

// SetActive flips is_active without touching any other column.
func (r *UserRepo) SetActive(ctx context.Context, id string, active bool) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE users SET is_active = ?, updated_at = ? WHERE id = ?`,
		active, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: setting is_active on user %s: %w", id, err)
	}
	return requireOneRow(res, "user", id)
}

// requireOneRow turns "0 rows affected" into apperror.ErrNotFound.
func requireOneRow(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: reading rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}
