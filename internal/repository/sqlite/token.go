package sqlite

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

// compile-time check that *TokenRepo implements repository.TokenRepository
var _ repository.TokenRepository = (*TokenRepo)(nil)

// TokenRepo reads and writes auth_access_tokens.
//
// Abilities are stored as a JSON array in a TEXT column, e.g. ["*"].
type TokenRepo struct {
	q dbx.Querier
}

// Insert stores a token row. The caller supplies the identifier and hash.
func (r *TokenRepo) Insert(ctx context.Context, t *model.AccessToken) error {
	abilities, err := json.Marshal(t.Abilities)
	if err != nil {
		return fmt.Errorf("sqlite: encoding abilities: %w", err)
	}
	if t.Type == "" {
		t.Type = model.AccessTokenType
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}

	_, err = r.q.ExecContext(ctx,
		`INSERT INTO auth_access_tokens
		    (id, tokenable_id, type, name, hash, abilities, created_at, updated_at, last_used_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, ?)`,
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
		return fmt.Errorf("sqlite: inserting access token for user %s: %w", t.UserID, err)
	}
	return nil
}

// FindByIdentifier retrieves a token row by its public identifier.
func (r *TokenRepo) FindByIdentifier(ctx context.Context, identifier string) (*model.AccessToken, error) {
	var (
		t          model.AccessToken
		name       sql.NullString
		abilities  string
		lastUsedAt sql.NullTime
	)
	err := r.q.QueryRowContext(ctx,
		`SELECT id, tokenable_id, type, name, hash, abilities, created_at, updated_at, last_used_at, expires_at
		 FROM auth_access_tokens WHERE id = ?`,
		identifier,
	).Scan(
		&t.Identifier,
		&t.UserID,
		&t.Type,
		&name,
		&t.Hash,
		&abilities,
		&t.CreatedAt,
		&t.UpdatedAt,
		&lastUsedAt,
		&t.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("access token", identifier)
		}
		return nil, fmt.Errorf("sqlite: getting access token %s: %w", identifier, err)
	}

	t.Name = name.String
	if lastUsedAt.Valid {
		ts := lastUsedAt.Time
		t.LastUsedAt = &ts
	}
	if err := json.Unmarshal([]byte(abilities), &t.Abilities); err != nil {
		return nil, fmt.Errorf("sqlite: decoding abilities of token %s: %w", identifier, err)
	}
	return &t, nil
}

// Delete removes a token owned by userID. A token that does not exist or
// belongs to someone else is reported as apperror.ErrNotFound.
func (r *TokenRepo) Delete(ctx context.Context, userID, identifier string) error {
	res, err := r.q.ExecContext(ctx,
		`DELETE FROM auth_access_tokens WHERE id = ? AND tokenable_id = ?`,
		identifier, userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: deleting access token %s: %w", identifier, err)
	}
	return requireOneRow(res, "access token", identifier)
}

// TouchLastUsed records when a token was last presented.
func (r *TokenRepo) TouchLastUsed(ctx context.Context, identifier string, at time.Time) error {
	at = at.UTC()
	_, err := r.q.ExecContext(ctx,
		`UPDATE auth_access_tokens SET last_used_at = ?, updated_at = ? WHERE id = ?`,
		at, at, identifier,
	)
	if err != nil {
		return fmt.Errorf("sqlite: touching access token %s: %w", identifier, err)
	}
	return nil
}

// DeleteExpired removes every token that expired at or before cutoff.
//
// Timestamps are always written in UTC, so their text form sorts the same
// way the instants do and a plain <= comparison is correct.
func (r *TokenRepo) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.q.ExecContext(ctx,
		`DELETE FROM auth_access_tokens WHERE expires_at <= ?`,
		cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: deleting expired access tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: reading rows affected: %w", err)
	}
	return n, nil
}
