package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/authd/internal/apperror"
	"github.com/sakif/authd/internal/auth"
	"github.com/sakif/authd/internal/model"
	"github.com/sakif/authd/internal/repository"
)

// DefaultTokenTTL is the lifetime of every session token: 7 days.
const DefaultTokenTTL = 7 * 24 * time.Hour

// msgUnauthenticated is the single message for every rejected bearer token.
const msgUnauthenticated = "No autenticado"

// TokenService issues, verifies and revokes opaque access tokens.
//
// TOKEN LIFECYCLE:
//
//	Issue  → generate oat_<id>.<secret>, store id + SHA-256(secret), return the
//	         plaintext wrapped in a one-shot auth.Secret
//	Verify → parse, load row by id, compare hashes in constant time, check
//	         expiry and owner, stamp last_used_at
//	Revoke → delete the row; the value stops working immediately
type TokenService struct {
	store  repository.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewTokenService creates a TokenService backed by store.
func NewTokenService(store repository.Store, logger *slog.Logger) *TokenService {
	return &TokenService{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// IssuedToken is the result of Issue. Value can be released exactly once;
// everything else is safe to log.
type IssuedToken struct {
	Identifier string
	Value      *auth.Secret
	Abilities  []string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// Issue creates and persists a token for user that expires ttl from now.
// An empty abilities list means unrestricted.
func (s *TokenService) Issue(ctx context.Context, user *model.User, abilities []string, ttl time.Duration) (*IssuedToken, error) {
	return s.issue(ctx, s.store.Tokens(), user, abilities, ttl)
}

// issue is Issue against an explicit repository, so callers already inside
// a transaction can issue through it.
func (s *TokenService) issue(ctx context.Context, tokens repository.TokenRepository, user *model.User, abilities []string, ttl time.Duration) (*IssuedToken, error) {
	if user == nil || user.ID == "" {
		return nil, fmt.Errorf("service/token: user must be persisted before issuing a token")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	if len(abilities) == 0 {
		abilities = []string{model.AbilityAll}
	}

	opaque, err := auth.NewOpaqueToken()
	if err != nil {
		return nil, fmt.Errorf("service/token: %w", err)
	}

	issuedAt := s.now().UTC()
	record := &model.AccessToken{
		Identifier: opaque.Identifier,
		UserID:     user.ID,
		Type:       model.AccessTokenType,
		Name:       model.SessionTokenName,
		Hash:       opaque.Hash,
		Abilities:  abilities,
		CreatedAt:  issuedAt,
		UpdatedAt:  issuedAt,
		ExpiresAt:  issuedAt.Add(ttl),
	}
	if err := tokens.Insert(ctx, record); err != nil {
		return nil, fmt.Errorf("service/token: storing token for user %s: %w", user.ID, err)
	}

	return &IssuedToken{
		Identifier: record.Identifier,
		Value:      opaque.Value,
		Abilities:  record.Abilities,
		IssuedAt:   issuedAt,
		ExpiresAt:  record.ExpiresAt,
	}, nil
}

// Verify resolves a bearer value to its owner and token row.
//
// Every rejection is the same apperror.ErrUnauthorized so callers cannot
// tell a forged identifier from an expired token.
func (s *TokenService) Verify(ctx context.Context, value string) (*model.User, *model.AccessToken, error) {
	identifier, secret, err := auth.ParseToken(value)
	if err != nil {
		return nil, nil, unauthorized(err)
	}

	token, err := s.store.Tokens().FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, nil, unauthorized(err)
		}
		return nil, nil, fmt.Errorf("service/token: loading token %s: %w", identifier, err)
	}

	if !auth.SecretMatches(token.Hash, secret) {
		return nil, nil, unauthorized(errors.New("secret mismatch"))
	}

	now := s.now()
	if token.Expired(now) {
		return nil, nil, unauthorized(errors.New("token expired"))
	}

	user, err := s.store.Users().FindByID(ctx, token.UserID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, nil, unauthorized(err)
		}
		return nil, nil, fmt.Errorf("service/token: loading owner of token %s: %w", identifier, err)
	}
	if !user.IsActive {
		return nil, nil, unauthorized(errors.New("owner is inactive"))
	}

	// last_used_at is informational; a failed stamp does not reject the request.
	if err := s.store.Tokens().TouchLastUsed(ctx, identifier, now); err != nil {
		s.logger.Warn("failed to record token use",
			slog.String("tokenID", identifier),
			slog.String("error", err.Error()),
		)
	} else {
		ts := now.UTC()
		token.LastUsedAt = &ts
	}

	return user, token, nil
}

// Revoke deletes the token identified by identifier if it belongs to userID.
// An unknown identifier is reported as apperror.ErrNotFound.
func (s *TokenService) Revoke(ctx context.Context, userID, identifier string) error {
	if err := s.store.Tokens().Delete(ctx, userID, identifier); err != nil {
		return fmt.Errorf("service/token: revoking token %s: %w", identifier, err)
	}
	s.logger.Info("access token revoked",
		slog.String("userID", userID),
		slog.String("tokenID", identifier),
	)
	return nil
}

// PruneExpired deletes every token past its expiry and returns the count.
func (s *TokenService) PruneExpired(ctx context.Context) (int64, error) {
	n, err := s.store.Tokens().DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("service/token: pruning expired tokens: %w", err)
	}
	return n, nil
}

func unauthorized(cause error) error {
	return &apperror.AppError{
		Err:     apperror.ErrUnauthorized,
		Message: msgUnauthenticated,
		Cause:   cause,
	}
}
