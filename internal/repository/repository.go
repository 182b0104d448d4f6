// Package repository defines the storage interfaces the service layer
// depends on. The sqlite and postgres subpackages implement them.
//
// Implementations report a missing row as apperror.ErrNotFound and a unique
// constraint violation as apperror.ErrConflict, so the service layer never
// has to look at driver errors.
package repository

import (
	"context"
	"time"

	"github.com/sakif/authd/internal/model"
)

// UserRepository persists accounts.
type UserRepository interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	// FindByEmail expects an already normalized (trimmed, lowercased) address.
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByProviderIdentity(ctx context.Context, provider, providerID string) (*model.User, error)
	// Insert assigns ID, CreatedAt and UpdatedAt when they are zero.
	Insert(ctx context.Context, user *model.User) error
	// Update writes every mutable column and bumps UpdatedAt.
	Update(ctx context.Context, user *model.User) error
	SetActive(ctx context.Context, id string, active bool) error
}

// TokenRepository persists access tokens.
type TokenRepository interface {
	Insert(ctx context.Context, token *model.AccessToken) error
	FindByIdentifier(ctx context.Context, identifier string) (*model.AccessToken, error)
	// Delete removes the token only if it belongs to userID.
	Delete(ctx context.Context, userID, identifier string) error
	TouchLastUsed(ctx context.Context, identifier string, at time.Time) error
	// DeleteExpired removes tokens whose expiry is at or before the cutoff
	// and reports how many rows went away.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// Tx exposes repositories bound to one handle: either the pool or an open
// transaction.
type Tx interface {
	Users() UserRepository
	Tokens() TokenRepository
}

// Store is the root storage handle. Repositories returned directly by the
// Store run outside any transaction; WithinTx hands fn repositories bound
// to a single transaction that commits when fn returns nil.
type Store interface {
	Tx
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}
