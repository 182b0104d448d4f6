package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sakif/authd/internal/apperror"
	"github.com/sakif/authd/internal/events"
	"github.com/sakif/authd/internal/model"
	"github.com/sakif/authd/internal/repository"
)

// =========================================================================
// FAKE STORE
// =========================================================================

// fakeStore is an in-memory repository.Store. It enforces the same unique
// constraints as the real schema and rolls back on a failed WithinTx by
// restoring a snapshot.
type fakeStore struct {
	users  map[string]*model.User
	tokens map[string]*model.AccessToken
	nextID int

	// failure injection
	findErr          error                     // returned by every Find* call when set
	beforeInsertUser func(u *model.User) error // runs before a user insert; an error aborts it
	touchErr         error

	// concurrent holds writes made by "another transaction". They are
	// applied when the current transaction ends, commit or rollback.
	concurrent []func()

	txCount int
}

var _ repository.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:  make(map[string]*model.User),
		tokens: make(map[string]*model.AccessToken),
		nextID: 1,
	}
}

func (s *fakeStore) Users() repository.UserRepository   { return fakeUsers{s} }
func (s *fakeStore) Tokens() repository.TokenRepository { return fakeTokens{s} }
func (s *fakeStore) Ping(context.Context) error         { return nil }
func (s *fakeStore) Close() error                       { return nil }

func (s *fakeStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.txCount++
	users, tokens := s.snapshot()

	err := fn(ctx, s)
	if err != nil {
		s.users, s.tokens = users, tokens
	}
	for _, apply := range s.concurrent {
		apply()
	}
	s.concurrent = nil
	return err
}

func (s *fakeStore) snapshot() (map[string]*model.User, map[string]*model.AccessToken) {
	users := make(map[string]*model.User, len(s.users))
	for k, v := range s.users {
		c := *v
		users[k] = &c
	}
	tokens := make(map[string]*model.AccessToken, len(s.tokens))
	for k, v := range s.tokens {
		c := *v
		tokens[k] = &c
	}
	return users, tokens
}

// addUser inserts directly, bypassing hooks. Used to seed state.
func (s *fakeStore) addUser(u *model.User) *model.User {
	if u.ID == "" {
		u.ID = fmt.Sprintf("user-%d", s.nextID)
		s.nextID++
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	c := *u
	s.users[u.ID] = &c
	return u
}

func (s *fakeStore) userCount() int { return len(s.users) }

type fakeUsers struct{ s *fakeStore }

func (r fakeUsers) find(match func(*model.User) bool, key string) (*model.User, error) {
	if r.s.findErr != nil {
		return nil, r.s.findErr
	}
	for _, u := range r.s.users {
		if match(u) {
			c := *u
			return &c, nil
		}
	}
	return nil, apperror.NotFound("user", key)
}

func (r fakeUsers) FindByID(_ context.Context, id string) (*model.User, error) {
	return r.find(func(u *model.User) bool { return u.ID == id }, id)
}

func (r fakeUsers) FindByEmail(_ context.Context, email string) (*model.User, error) {
	return r.find(func(u *model.User) bool { return u.Email == email }, email)
}

func (r fakeUsers) FindByProviderIdentity(_ context.Context, provider, providerID string) (*model.User, error) {
	return r.find(func(u *model.User) bool {
		return u.Provider == provider && u.ProviderID != nil && *u.ProviderID == providerID
	}, provider+":"+providerID)
}

func (r fakeUsers) violatesUnique(u *model.User) bool {
	for _, other := range r.s.users {
		if other.ID == u.ID {
			continue
		}
		if other.Email == u.Email {
			return true
		}
		if u.ProviderID != nil && other.ProviderID != nil &&
			other.Provider == u.Provider && *other.ProviderID == *u.ProviderID {
			return true
		}
	}
	return false
}

func (r fakeUsers) Insert(_ context.Context, u *model.User) error {
	if r.s.beforeInsertUser != nil {
		if err := r.s.beforeInsertUser(u); err != nil {
			return err
		}
	}
	if r.violatesUnique(u) {
		return apperror.Conflict("user", u.Email)
	}
	r.s.addUser(u)
	return nil
}

func (r fakeUsers) Update(_ context.Context, u *model.User) error {
	if _, ok := r.s.users[u.ID]; !ok {
		return apperror.NotFound("user", u.ID)
	}
	if r.violatesUnique(u) {
		return apperror.Conflict("user", u.ID)
	}
	u.UpdatedAt = time.Now().UTC()
	c := *u
	r.s.users[u.ID] = &c
	return nil
}

func (r fakeUsers) SetActive(_ context.Context, id string, active bool) error {
	u, ok := r.s.users[id]
	if !ok {
		return apperror.NotFound("user", id)
	}
	u.IsActive = active
	return nil
}

type fakeTokens struct{ s *fakeStore }

func (r fakeTokens) Insert(_ context.Context, t *model.AccessToken) error {
	if _, ok := r.s.users[t.UserID]; !ok {
		return fmt.Errorf("foreign key: no user %s", t.UserID)
	}
	c := *t
	r.s.tokens[t.Identifier] = &c
	return nil
}

func (r fakeTokens) FindByIdentifier(_ context.Context, identifier string) (*model.AccessToken, error) {
	t, ok := r.s.tokens[identifier]
	if !ok {
		return nil, apperror.NotFound("access token", identifier)
	}
	c := *t
	return &c, nil
}

func (r fakeTokens) Delete(_ context.Context, userID, identifier string) error {
	t, ok := r.s.tokens[identifier]
	if !ok || t.UserID != userID {
		return apperror.NotFound("access token", identifier)
	}
	delete(r.s.tokens, identifier)
	return nil
}

func (r fakeTokens) TouchLastUsed(_ context.Context, identifier string, at time.Time) error {
	if r.s.touchErr != nil {
		return r.s.touchErr
	}
	if t, ok := r.s.tokens[identifier]; ok {
		at := at
		t.LastUsedAt = &at
	}
	return nil
}

func (r fakeTokens) DeleteExpired(_ context.Context, cutoff time.Time) (int64, error) {
	var n int64
	for id, t := range r.s.tokens {
		if !cutoff.Before(t.ExpiresAt) {
			delete(r.s.tokens, id)
			n++
		}
	}
	return n, nil
}

// =========================================================================
// FAKE PUBLISHER
// =========================================================================

type fakePublisher struct {
	events []events.Event
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, e events.Event) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) types() []string {
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
