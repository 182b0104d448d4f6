package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// newFakeGoogle starts an httptest server that plays both the token endpoint
// and the userinfo endpoint, and returns a provider pointed at it.
func newFakeGoogle(t *testing.T, userInfoStatus int, userInfo map[string]any) *GoogleProvider {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.Form.Get("code") != "good-code" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "google-access-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer google-access-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(userInfoStatus)
		_ = json.NewEncoder(w).Encode(userInfo)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	p := NewGoogleProvider("client-id", "client-secret", "http://localhost/auth/google/callback")
	p.config.Endpoint = oauth2.Endpoint{
		AuthURL:   srv.URL + "/auth",
		TokenURL:  srv.URL + "/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
	p.userInfoURL = srv.URL + "/userinfo"
	return p
}

func TestGoogleProvider_AuthURL(t *testing.T) {
	p := NewGoogleProvider("client-id", "client-secret", "http://localhost/auth/google/callback")

	u, err := url.Parse(p.AuthURL("signed-state"))
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "accounts.google.com", u.Host)
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "signed-state", q.Get("state"))
	assert.Equal(t, "http://localhost/auth/google/callback", q.Get("redirect_uri"))
	assert.Contains(t, q.Get("scope"), "email")
	assert.Equal(t, "google", p.Name())
}

func TestGoogleProvider_Exchange(t *testing.T) {
	p := newFakeGoogle(t, http.StatusOK, map[string]any{
		"sub":            "1234567890",
		"email":          " ana@example.com ",
		"email_verified": true,
		"name":           "Ana",
	})

	profile, err := p.Exchange(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, "google", profile.Provider)
	assert.Equal(t, "1234567890", profile.ID)
	assert.Equal(t, "ana@example.com", profile.Email)
	assert.True(t, profile.EmailVerified)
	assert.Equal(t, "Ana", profile.Name)
}

func TestGoogleProvider_Exchange_NoEmail(t *testing.T) {
	p := newFakeGoogle(t, http.StatusOK, map[string]any{"sub": "42"})

	profile, err := p.Exchange(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Empty(t, profile.Email, "missing email is reported, not rejected, by the provider")
}

func TestGoogleProvider_Exchange_Errors(t *testing.T) {
	t.Run("bad code", func(t *testing.T) {
		p := newFakeGoogle(t, http.StatusOK, map[string]any{"sub": "42"})
		_, err := p.Exchange(context.Background(), "bad-code")
		assert.Error(t, err)
	})

	t.Run("userinfo failure", func(t *testing.T) {
		p := newFakeGoogle(t, http.StatusInternalServerError, map[string]any{})
		_, err := p.Exchange(context.Background(), "good-code")
		assert.Error(t, err)
	})

	t.Run("missing subject", func(t *testing.T) {
		p := newFakeGoogle(t, http.StatusOK, map[string]any{"email": "x@example.com"})
		_, err := p.Exchange(context.Background(), "good-code")
		assert.Error(t, err)
	})
}
