package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/authd/internal/apperror"
	"github.com/sakif/authd/internal/dbx"
	"github.com/sakif/authd/internal/model"
	"github.com/sakif/authd/internal/repository"
)

var _ repository.TokenRepository = (*TokenRepo)(nil)

// TokenRepo stores abilities in a JSONB column.
type TokenRepo struct {
	q dbx.Querier
}

func (r *TokenRepo) Insert(ctx context.Context, t *model.AccessToken) error {
	abilities, err := json.Marshal(t.Abilities)
	if err != nil {
		return fmt.Errorf("postgres: encoding abilities: %w", err)
	}
	if t.Type == "" {
		t.Type = model.AccessTokenType
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}

	_, err = r.q.ExecContext(ctx,
		`INSERT INTO auth_access_tokens (id, tokenable_id, type, name, hash, abilities, created_at, updated_at, last_used_at, expires_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL, $9)`,
		t.Identifier,
		t.UserID,
		t.Type,
		nullString(model.StringPtr(t.Name)),
		t.Hash,
		string(abilities),
		t.CreatedAt.UTC(),
		t.UpdatedAt.UTC(),
		t.ExpiresAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("access token", t.Identifier)
		}
		return fmt.Errorf("postgres: inserting access token for user %s: %w", t.UserID, err)
	}
	return nil
}

func (r *TokenRepo) FindByIdentifier(ctx context.Context, identifier string) (*model.AccessToken, error) {
	var (
		t          model.AccessToken
		name       sql.NullString
		abilities  []byte
		lastUsedAt sql.NullTime
	)
	err := r.q.QueryRowContext(ctx,
		`SELECT id, tokenable_id, type, name, hash, abilities, created_at, updated_at, last_used_at, expires_at FROM auth_access_tokens WHERE id = $1`,
		identifier,
	).Scan(
		&t.Identifier, &t.UserID, &t.Type, &name, &t.Hash, &abilities,
		&t.CreatedAt, &t.UpdatedAt, &lastUsedAt, &t.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("access token", identifier)
		}
		return nil, fmt.Errorf("postgres: getting access token %s: %w", identifier, err)
	}

	t.Name = name.String
	if lastUsedAt.Valid {
		ts := lastUsedAt.Time
		t.LastUsedAt = &ts
	}
	if err := json.Unmarshal(abilities, &t.Abilities); err != nil {
		return nil, fmt.Errorf("postgres: decoding abilities of token %s: %w", identifier, err)
	}
	return &t, nil
}

func (r *TokenRepo) Delete(ctx context.Context, userID, identifier string) error {
	res, err := r.q.ExecContext(ctx,
		`DELETE FROM auth_access_tokens WHERE id = $1 AND tokenable_id = $2`,
		identifier, userID,
	)
	if err != nil {
		return fmt.Errorf("postgres: deleting access token %s: %w", identifier, err)
	}
	return requireOneRow(res, "access token", identifier)
}

func (r *TokenRepo) TouchLastUsed(ctx context.Context, identifier string, at time.Time) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE auth_access_tokens SET last_used_at = $1, updated_at = $1 WHERE id = $2`,
		at.UTC(), identifier,
	)
	if err != nil {
		return fmt.Errorf("postgres: touching access token %s: %w", identifier, err)
	}
	return nil
}

func (r *TokenRepo) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.q.ExecContext(ctx,
		`DELETE FROM auth_access_tokens WHERE expires_at <= $1`,
		cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: deleting expired access tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: reading rows affected: %w", err)
	}
	return n, nil
}
