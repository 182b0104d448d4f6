// Package service holds the authentication business logic.
//
// AuthService sits between the HTTP handlers and the storage layer:
//
//	AuthHandler (HTTP) → AuthService (business rules) → repository.Store (DB)
//	                   ↘ TokenService (opaque bearer tokens)
//
// Services return apperror values and never format HTTP responses.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/authd/internal/apperror"
	"github.com/sakif/authd/internal/auth"
	"github.com/sakif/authd/internal/events"
	"github.com/sakif/authd/internal/model"
	"github.com/sakif/authd/internal/repository"
)

// User-facing messages.
const (
	msgEmailTaken   = "El correo electrónico ya está registrado"
	msgUserInactive = "Usuario inactivo. Contacte al administrador."
)

// publishTimeout bounds how long a flow waits for the broker after commit.
const publishTimeout = 3 * time.Second

// AuthService handles registration, login, social account unification and
// token issuance.
//
// DEPENDENCIES (injected via NewAuthService):
//   - store      repository.Store       → users and tokens, transactions
//   - tokens     *TokenService          → issue/revoke bearer tokens
//   - passwords  *auth.PasswordService  → bcrypt hashing
//   - publisher  events.Publisher       → account events after commit
//   - logger     *slog.Logger           → structured logging
//
// AuthService holds no per-request state; one instance serves every request.
type AuthService struct {
	store      repository.Store
	tokens     *TokenService
	passwords  *auth.PasswordService
	publisher  events.Publisher
	logger     *slog.Logger
	sessionTTL time.Duration
	now        func() time.Time
}

// NewAuthService creates an AuthService. sessionTTL <= 0 means DefaultTokenTTL.
func NewAuthService(
	store repository.Store,
	tokens *TokenService,
	passwords *auth.PasswordService,
	publisher events.Publisher,
	sessionTTL time.Duration,
	logger *slog.Logger,
) *AuthService {
	if publisher == nil {
		publisher = events.Noop{}
	}
	if sessionTTL <= 0 {
		sessionTTL = DefaultTokenTTL
	}
	return &AuthService{
		store:      store,
		tokens:     tokens,
		passwords:  passwords,
		publisher:  publisher,
		logger:     logger,
		sessionTTL: sessionTTL,
		now:        time.Now,
	}
}

// AuthResult bundles a user with a freshly issued session token.
type AuthResult struct {
	User  *model.User
	Token *IssuedToken
}

// RegisterInput is the validated body of POST /auth/register.
type RegisterInput struct {
	Email    string
	Password string
	FullName string
}

// SocialIdentity is what an OAuth callback knows about the caller.
type SocialIdentity struct {
	Email      string
	FullName   string
	Provider   string
	ProviderID string
}

// NormalizeEmail trims surrounding whitespace and lowercases the address.
// Every lookup and insert goes through it, so the UNIQUE(email) constraint
// is effectively case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a local account and issues its first session token.
//
// The user row and the token row are written in one transaction; a failure
// to issue the token leaves no orphaned account behind.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	email := NormalizeEmail(in.Email)

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, apperror.ValidationFailed("password", "La contraseña no puede superar 72 bytes")
	}

	user := &model.User{
		Email:        email,
		PasswordHash: &hash,
		FullName:     model.StringPtr(strings.TrimSpace(in.FullName)),
		Provider:     model.ProviderLocal,
		IsActive:     true,
	}

	var token *IssuedToken
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.Users().FindByEmail(ctx, email); err == nil {
			return emailTaken()
		} else if !errors.Is(err, apperror.ErrNotFound) {
			return err
		}

		if err := tx.Users().Insert(ctx, user); err != nil {
			// Lost a race with a concurrent registration for the same email.
			if errors.Is(err, apperror.ErrConflict) {
				return emailTaken()
			}
			return err
		}

		token, err = s.tokens.issue(ctx, tx.Tokens(), user, []string{model.AbilityAll}, s.sessionTTL)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("service/auth: registering %s: %w", email, err)
	}

	s.logger.Info("user registered",
		slog.String("userID", user.ID),
		slog.String("provider", user.Provider),
	)
	s.publish(events.UserRegistered, user)

	return &AuthResult{User: user, Token: token}, nil
}

// Login verifies email and password and issues a session token.
//
// ENUMERATION RESISTANCE:
// An unknown email, a social-only account and a wrong password all return
// the same apperror.InvalidCredentials, and all three pay for one bcrypt
// comparison (BurnVerify when there is no hash to check), so neither the
// message nor the response time reveals which case occurred.
//
// The inactive check runs only after the password verified; a wrong password
// on an inactive account is still InvalidCredentials.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = NormalizeEmail(email)

	user, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service/auth: looking up %s: %w", email, err)
	}

	if user == nil || !user.HasPassword() {
		_ = s.passwords.BurnVerify(password)
		return nil, apperror.InvalidCredentials()
	}
	if err := s.passwords.Verify(*user.PasswordHash, password); err != nil {
		return nil, apperror.InvalidCredentials()
	}

	if !user.IsActive {
		return nil, apperror.Forbidden(msgUserInactive)
	}

	token, err := s.IssueSessionToken(ctx, user)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user logged in", slog.String("userID", user.ID))
	return &AuthResult{User: user, Token: token}, nil
}

// IssueSessionToken issues the standard session token: unrestricted
// abilities, sessionTTL lifetime.
func (s *AuthService) IssueSessionToken(ctx context.Context, user *model.User) (*IssuedToken, error) {
	token, err := s.tokens.Issue(ctx, user, []string{model.AbilityAll}, s.sessionTTL)
	if err != nil {
		return nil, fmt.Errorf("service/auth: issuing session token: %w", err)
	}
	return token, nil
}

// ResolveSocialUser maps a social identity onto exactly one local user.
//
// UNIFICATION, in one transaction:
//  1. (provider, providerID) already linked → return that user unchanged.
//  2. A user with the same email exists → overwrite its provider and
//     providerID (last social login wins), fill fullName only if it was
//     unset, keep the password hash.
//  3. Otherwise insert a new active user with no password.
//
// Two first-time callbacks racing on the same identity both reach step 3;
// the unique constraints make one of them fail with ErrConflict. That loser
// retries once, and on the retry step 1 or 2 finds the winner's row. A
// second failure is returned as apperror.ErrInternal.
//
// The caller must have rejected identities without an email already.
func (s *AuthService) ResolveSocialUser(ctx context.Context, id SocialIdentity) (*model.User, error) {
	if id.Provider == "" || id.ProviderID == "" {
		return nil, fmt.Errorf("service/auth: social identity needs provider and provider id")
	}
	id.Email = NormalizeEmail(id.Email)
	id.FullName = strings.TrimSpace(id.FullName)

	user, event, err := s.resolveOnce(ctx, id)
	if errors.Is(err, apperror.ErrConflict) {
		s.logger.Warn("social unification conflicted, retrying",
			slog.String("provider", id.Provider),
		)
		user, event, err = s.resolveOnce(ctx, id)
	}
	if err != nil {
		return nil, apperror.Internal("No se pudo resolver la cuenta social",
			fmt.Errorf("service/auth: resolving %s identity: %w", id.Provider, err))
	}

	if event != "" {
		s.logger.Info("social identity resolved",
			slog.String("userID", user.ID),
			slog.String("provider", id.Provider),
			slog.String("outcome", event),
		)
		s.publish(event, user)
	}
	return user, nil
}

// resolveOnce runs the three unification steps in one transaction. The
// returned event type is empty for an idempotent re-login.
func (s *AuthService) resolveOnce(ctx context.Context, id SocialIdentity) (*model.User, string, error) {
	var (
		user  *model.User
		event string
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		users := tx.Users()

		// Step 1: already linked.
		existing, err := users.FindByProviderIdentity(ctx, id.Provider, id.ProviderID)
		if err == nil {
			user = existing
			return nil
		}
		if !errors.Is(err, apperror.ErrNotFound) {
			return err
		}

		// Step 2: same email, link it.
		existing, err = users.FindByEmail(ctx, id.Email)
		if err == nil {
			existing.Provider = id.Provider
			existing.ProviderID = &id.ProviderID
			if existing.FullName == nil && id.FullName != "" {
				existing.FullName = &id.FullName
			}
			if err := users.Update(ctx, existing); err != nil {
				return err
			}
			user, event = existing, events.UserSocialLinked
			return nil
		}
		if !errors.Is(err, apperror.ErrNotFound) {
			return err
		}

		// Step 3: first contact.
		created := &model.User{
			Email:      id.Email,
			FullName:   model.StringPtr(id.FullName),
			Provider:   id.Provider,
			ProviderID: &id.ProviderID,
			IsActive:   true,
		}
		if err := users.Insert(ctx, created); err != nil {
			return err
		}
		user, event = created, events.UserSocialCreated
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return user, event, nil
}

// Me returns the current state of the user with the given ID.
func (s *AuthService) Me(ctx context.Context, userID string) (*model.User, error) {
	if userID == "" {
		return nil, fmt.Errorf("service/auth: user ID must not be empty")
	}
	user, err := s.store.Users().FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching user %s: %w", userID, err)
	}
	return user, nil
}

// Logout revokes the token the caller authenticated with. Revoking a token
// that is already gone is not an error.
func (s *AuthService) Logout(ctx context.Context, userID, tokenIdentifier string) error {
	err := s.tokens.Revoke(ctx, userID, tokenIdentifier)
	if err != nil && !errors.Is(err, apperror.ErrNotFound) {
		return fmt.Errorf("service/auth: logging out: %w", err)
	}
	return nil
}

// SetActive toggles the login gate for the account with the given email.
// Existing tokens of a deactivated user stop verifying immediately.
func (s *AuthService) SetActive(ctx context.Context, email string, active bool) (*model.User, error) {
	email = NormalizeEmail(email)

	var user *model.User
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		u, err := tx.Users().FindByEmail(ctx, email)
		if err != nil {
			return err
		}
		if err := tx.Users().SetActive(ctx, u.ID, active); err != nil {
			return err
		}
		u.IsActive = active
		user = u
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("service/auth: setting active=%t on %s: %w", active, email, err)
	}

	s.logger.Info("user activation changed",
		slog.String("userID", user.ID),
		slog.Bool("active", active),
	)
	return user, nil
}

// publish sends an account event after commit. Failures are logged only.
func (s *AuthService) publish(eventType string, user *model.User) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	err := s.publisher.Publish(ctx, events.Event{
		Type:       eventType,
		UserID:     user.ID,
		Email:      user.Email,
		Provider:   user.Provider,
		OccurredAt: s.now().UTC(),
	})
	if err != nil {
		s.logger.Error("failed to publish account event",
			slog.String("type", eventType),
			slog.String("userID", user.ID),
			slog.String("error", err.Error()),
		)
	}
}

func emailTaken() error {
	return &apperror.AppError{
		Err:     apperror.ErrConflict,
		Message: msgEmailTaken,
		Field:   "email",
	}
}
