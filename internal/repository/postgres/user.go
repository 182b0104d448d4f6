package postgres

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

var _ repository.UserRepository = (*UserRepo)(nil)

type UserRepo struct {
	q dbx.Querier
}

const userColumns = `id, email, password_hash, full_name, provider, provider_id, is_active, created_at, updated_at`

func (r *UserRepo) findOne(ctx context.Context, what, key, query string, args ...any) (*model.User, error) {
	var (
		u            model.User
		passwordHash sql.NullString
		fullName     sql.NullString
		providerID   sql.NullString
	)
	err := r.q.QueryRowContext(ctx, query, args...).Scan(
		&u.ID, &u.Email, &passwordHash, &fullName, &u.Provider, &providerID,
		&u.IsActive, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", key)
		}
		return nil, fmt.Errorf("postgres: getting user by %s: %w", what, err)
	}
	u.PasswordHash = stringPtr(passwordHash)
	u.FullName = stringPtr(fullName)
	u.ProviderID = stringPtr(providerID)
	return &u, nil
}

func (r *UserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.findOne(ctx, "id", id,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *UserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx, "email", email,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (r *UserRepo) FindByProviderIdentity(ctx context.Context, provider, providerID string) (*model.User, error) {
	return r.findOne(ctx, "provider identity", provider+":"+providerID,
		`SELECT `+userColumns+` FROM users WHERE provider = $1 AND provider_id = $2`,
		provider, providerID)
}

// Insert creates a user row, generating the ID when empty.
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
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		user.ID,
		user.Email,
		nullString(user.PasswordHash),
		nullString(user.FullName),
		user.Provider,
		nullString(user.ProviderID),
		user.IsActive,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", user.Email)
		}
		return fmt.Errorf("postgres: inserting user %s: %w", user.ID, err)
	}
	return nil
}

func (r *UserRepo) Update(ctx context.Context, user *model.User) error {
	user.UpdatedAt = time.Now().UTC()

	res, err := r.q.ExecContext(ctx,
		`UPDATE users SET email = $1, password_hash = $2, full_name = $3, provider = $4, provider_id = $5, is_active = $6, updated_at = $7 WHERE id = $8`,
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
		return fmt.Errorf("postgres: updating user %s: %w", user.ID, err)
	}
	return requireOneRow(res, "user", user.ID)
}

func (r *UserRepo) SetActive(ctx context.Context, id string, active bool) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE users SET is_active = $1, updated_at = $2 WHERE id = $3`,
		active, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("postgres: setting is_active on user %s: %w", id, err)
	}
	return requireOneRow(res, "user", id)
}
