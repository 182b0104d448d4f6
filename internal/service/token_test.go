package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sakif/authd/internal/apperror"
	"github.com/sakif/authd/internal/auth"
	"github.com/sakif/authd/internal/model"
)

func newTokenEnv(t *testing.T) (*TokenService, *fakeStore, *model.User) {
	t.Helper()
	store := newFakeStore()
	user := store.addUser(&model.User{Email: "tok@example.com", Provider: model.ProviderLocal, IsActive: true})
	return NewTokenService(store, discardLogger()), store, user
}

func TestIssue_SevenDayExpiry(t *testing.T) {
	ts, _, user := newTokenEnv(t)

	tok, err := ts.Issue(context.Background(), user, []string{model.AbilityAll}, DefaultTokenTTL)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	want := tok.IssuedAt.Add(7 * 24 * time.Hour)
	if d := tok.ExpiresAt.Sub(want); d < -time.Second || d > time.Second {
		t.Errorf("ExpiresAt = %v, want within 1s of %v", tok.ExpiresAt, want)
	}
	if len(tok.Abilities) != 1 || tok.Abilities[0] != model.AbilityAll {
		t.Errorf("Abilities = %v, want [*]", tok.Abilities)
	}
}

func TestIssue_StoresSessionTokenName(t *testing.T) {
	ts, store, user := newTokenEnv(t)

	tok, err := ts.Issue(context.Background(), user, nil, 0)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	record, ok := store.tokens[tok.Identifier]
	if !ok {
		t.Fatal("issued token was not stored")
	}
	if record.Name != model.SessionTokenName || record.Type != model.AccessTokenType {
		t.Errorf("stored name/type = %q/%q, want auth_token/auth_token", record.Name, record.Type)
	}
}

func TestIssue_PlaintextReleasedOnce(t *testing.T) {
	ts, store, user := newTokenEnv(t)

	tok, err := ts.Issue(context.Background(), user, nil, 0)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	value, err := tok.Value.Release()
	if err != nil {
		t.Fatalf("first Release() error = %v", err)
	}
	if _, err := tok.Value.Release(); !errors.Is(err, auth.ErrSecretReleased) {
		t.Errorf("second Release() error = %v, want ErrSecretReleased", err)
	}

	// The store keeps a hash, never the value.
	row := store.tokens[tok.Identifier]
	_, secret, _ := auth.ParseToken(value)
	if strings.Contains(row.Hash, secret) || !auth.SecretMatches(row.Hash, secret) {
		t.Error("stored hash must match the secret without containing it")
	}
	if len(row.Abilities) != 1 || row.Abilities[0] != model.AbilityAll {
		t.Errorf("empty abilities should default to [*], got %v", row.Abilities)
	}
}

func TestIssue_RequiresPersistedUser(t *testing.T) {
	ts, _, _ := newTokenEnv(t)
	if _, err := ts.Issue(context.Background(), &model.User{}, nil, time.Hour); err == nil {
		t.Fatal("Issue() should reject a user without an ID")
	}
}

func TestVerify(t *testing.T) {
	ts, store, user := newTokenEnv(t)
	ctx := context.Background()

	tok, err := ts.Issue(ctx, user, nil, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	value, _ := tok.Value.Release()

	gotUser, gotTok, err := ts.Verify(ctx, value)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if gotUser.ID != user.ID || gotTok.Identifier != tok.Identifier {
		t.Errorf("Verify() = %s/%s, want %s/%s", gotUser.ID, gotTok.Identifier, user.ID, tok.Identifier)
	}
	if gotTok.LastUsedAt == nil || store.tokens[tok.Identifier].LastUsedAt == nil {
		t.Error("Verify() should stamp last_used_at")
	}
}

func TestVerify_Rejections(t *testing.T) {
	ts, store, user := newTokenEnv(t)
	ctx := context.Background()

	tok, _ := ts.Issue(ctx, user, nil, time.Hour)
	value, _ := tok.Value.Release()
	id, _, _ := auth.ParseToken(value)

	tests := []struct {
		name  string
		value string
		setup func()
	}{
		{name: "malformed", value: "not-a-token"},
		{name: "unknown identifier", value: auth.TokenPrefix + "cv37rs3pp9olc6atsptg.secret"},
		{name: "wrong secret", value: auth.TokenPrefix + id + ".wrong"},
		{
			name:  "expired",
			value: value,
			setup: func() { ts.now = func() time.Time { return time.Now().Add(2 * time.Hour) } },
		},
		{
			name:  "inactive owner",
			value: value,
			setup: func() {
				ts.now = time.Now
				store.users[user.ID].IsActive = false
			},
		},
		{
			name:  "owner deleted",
			value: value,
			setup: func() {
				ts.now = time.Now
				delete(store.users, user.ID)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			_, _, err := ts.Verify(ctx, tt.value)
			if !errors.Is(err, apperror.ErrUnauthorized) {
				t.Fatalf("Verify() error = %v, want ErrUnauthorized", err)
			}
			if appMessage(err) != msgUnauthenticated {
				t.Errorf("message = %q, want %q", appMessage(err), msgUnauthenticated)
			}
		})
	}
}

func TestVerify_TouchFailureIsNotFatal(t *testing.T) {
	ts, store, user := newTokenEnv(t)
	ctx := context.Background()
	store.touchErr = errors.New("disk full")

	tok, _ := ts.Issue(ctx, user, nil, time.Hour)
	value, _ := tok.Value.Release()

	if _, _, err := ts.Verify(ctx, value); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
}

func TestRevoke(t *testing.T) {
	ts, store, user := newTokenEnv(t)
	other := store.addUser(&model.User{Email: "other@example.com", IsActive: true})
	ctx := context.Background()

	tok, _ := ts.Issue(ctx, user, nil, time.Hour)

	if err := ts.Revoke(ctx, other.ID, tok.Identifier); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Revoke(other user) error = %v, want ErrNotFound", err)
	}
	if err := ts.Revoke(ctx, user.ID, tok.Identifier); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if _, ok := store.tokens[tok.Identifier]; ok {
		t.Error("token row still present after Revoke")
	}
}

func TestPruneExpired(t *testing.T) {
	ts, _, user := newTokenEnv(t)
	ctx := context.Background()

	if _, err := ts.Issue(ctx, user, nil, time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, err := ts.Issue(ctx, user, nil, 48*time.Hour); err != nil {
		t.Fatal(err)
	}

	ts.now = func() time.Time { return time.Now().Add(time.Hour) }
	n, err := ts.PruneExpired(ctx)
	if err != nil || n != 1 {
		t.Fatalf("PruneExpired() = %d, %v; want 1, nil", n, err)
	}
}
