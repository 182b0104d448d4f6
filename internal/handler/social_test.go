package handler_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/authd/internal/auth"
	"github.com/sakif/authd/internal/handler"
	"github.com/sakif/authd/internal/model"
	"github.com/sakif/authd/internal/service"
)

const frontendCallback = "https://app.example.com/auth/callback"

// MockProvider stands in for Google.
type MockProvider struct {
	Profile     *auth.SocialProfile
	ExchangeErr error
	CodeSeen    string
}

func (m *MockProvider) Name() string { return model.ProviderGoogle }

func (m *MockProvider) AuthURL(state string) string {
	return "https://accounts.example.com/o/oauth2/auth?state=" + url.QueryEscape(state)
}

func (m *MockProvider) Exchange(_ context.Context, code string) (*auth.SocialProfile, error) {
	m.CodeSeen = code
	if m.ExchangeErr != nil {
		return nil, m.ExchangeErr
	}
	return m.Profile, nil
}

// MockSocialAuthenticator records the identity it was asked to resolve.
type MockSocialAuthenticator struct {
	Captured   service.SocialIdentity
	ReturnUser *model.User
	ResolveErr error
	IssueErr   error
}

func (m *MockSocialAuthenticator) ResolveSocialUser(_ context.Context, id service.SocialIdentity) (*model.User, error) {
	m.Captured = id
	if m.ResolveErr != nil {
		return nil, m.ResolveErr
	}
	return m.ReturnUser, nil
}

func (m *MockSocialAuthenticator) IssueSessionToken(_ context.Context, _ *model.User) (*service.IssuedToken, error) {
	if m.IssueErr != nil {
		return nil, m.IssueErr
	}
	return &service.IssuedToken{
		Identifier: "cv37rs3pp9olc6atsptg",
		Value:      auth.NewSecret("oat_cv37rs3pp9olc6atsptg.c2VjcmV0"),
	}, nil
}

func googleProfile() *auth.SocialProfile {
	return &auth.SocialProfile{
		Provider:      model.ProviderGoogle,
		ID:            "1234567890",
		Email:         "ana@example.com",
		EmailVerified: true,
		Name:          "Ana",
	}
}

func newSocialHandler(t *testing.T, p *MockProvider, svc *MockSocialAuthenticator) (*handler.SocialAuthHandler, *auth.StateSigner) {
	t.Helper()
	signer, err := auth.NewStateSigner("test-secret-at-least-16-chars!!")
	require.NoError(t, err)
	h, err := handler.NewSocialAuthHandler(p, signer, svc, frontendCallback, false, testLogger())
	require.NoError(t, err)
	return h, signer
}

func TestNewSocialAuthHandler_RejectsRelativeFrontendURL(t *testing.T) {
	signer, err := auth.NewStateSigner("test-secret-at-least-16-chars!!")
	require.NoError(t, err)

	_, err = handler.NewSocialAuthHandler(&MockProvider{}, signer, &MockSocialAuthenticator{}, "/auth/callback", false, testLogger())
	assert.Error(t, err)
}

func TestSocialAuthHandler_Redirect(t *testing.T) {
	h, signer := newSocialHandler(t, &MockProvider{}, &MockSocialAuthenticator{})

	rr := httptest.NewRecorder()
	h.Redirect(rr, httptest.NewRequest(http.MethodGet, "/auth/google/redirect", nil))

	assert.Equal(t, http.StatusTemporaryRedirect, rr.Code)

	loc, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "accounts.example.com", loc.Host)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, "oauth_nonce_google", c.Name)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, 600, c.MaxAge)

	assert.NoError(t, signer.Verify("google", state, c.Value), "state and cookie must belong together")
}

// callback runs the redirect to obtain a genuine state + cookie pair, then
// calls the callback with the given query modifications.
func callback(t *testing.T, h *handler.SocialAuthHandler, mutate func(q url.Values, c *http.Cookie)) *httptest.ResponseRecorder {
	t.Helper()

	start := httptest.NewRecorder()
	h.Redirect(start, httptest.NewRequest(http.MethodGet, "/auth/google/redirect", nil))
	loc, err := url.Parse(start.Header().Get("Location"))
	require.NoError(t, err)
	nonce := start.Result().Cookies()[0]

	q := url.Values{}
	q.Set("state", loc.Query().Get("state"))
	q.Set("code", "good-code")
	cookie := &http.Cookie{Name: nonce.Name, Value: nonce.Value}
	if mutate != nil {
		mutate(q, cookie)
	}

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?"+q.Encode(), nil)
	if cookie.Value != "" {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	h.Callback(rr, req)
	return rr
}

func frontendQuery(t *testing.T, rr *httptest.ResponseRecorder) url.Values {
	t.Helper()
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	loc, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "app.example.com", loc.Host)
	assert.Equal(t, "/auth/callback", loc.Path)
	return loc.Query()
}

func TestSocialAuthHandler_Callback_Success(t *testing.T) {
	p := &MockProvider{Profile: googleProfile()}
	svc := &MockSocialAuthenticator{ReturnUser: &model.User{ID: "u1", IsActive: true}}
	h, _ := newSocialHandler(t, p, svc)

	rr := callback(t, h, nil)

	q := frontendQuery(t, rr)
	assert.Equal(t, "oat_cv37rs3pp9olc6atsptg.c2VjcmV0", q.Get("token"))
	assert.Empty(t, q.Get("error"))

	assert.Equal(t, "good-code", p.CodeSeen)
	assert.Equal(t, service.SocialIdentity{
		Email:      "ana@example.com",
		FullName:   "Ana",
		Provider:   "google",
		ProviderID: "1234567890",
	}, svc.Captured)

	// The nonce cookie is cleared.
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestSocialAuthHandler_Callback_Failures(t *testing.T) {
	tests := []struct {
		name     string
		profile  *auth.SocialProfile
		exchErr  error
		user     *model.User
		resolve  error
		issue    error
		mutate   func(q url.Values, c *http.Cookie)
		wantCode string
	}{
		{
			name:     "user denied consent",
			mutate:   func(q url.Values, _ *http.Cookie) { q.Set("error", "access_denied") },
			wantCode: "google_auth_failed",
		},
		{
			name:     "tampered state",
			mutate:   func(q url.Values, _ *http.Cookie) { q.Set("state", q.Get("state")+"x") },
			wantCode: "google_auth_failed",
		},
		{
			name:     "missing nonce cookie",
			mutate:   func(_ url.Values, c *http.Cookie) { c.Value = "" },
			wantCode: "google_auth_failed",
		},
		{
			name:     "nonce from another browser",
			mutate:   func(_ url.Values, c *http.Cookie) { c.Value = "cv37rs3pp9olc6atspt9" },
			wantCode: "google_auth_failed",
		},
		{
			name:     "missing code",
			mutate:   func(q url.Values, _ *http.Cookie) { q.Del("code") },
			wantCode: "google_auth_failed",
		},
		{
			name:     "exchange failed",
			exchErr:  errors.New("invalid_grant"),
			wantCode: "google_auth_failed",
		},
		{
			name:     "no email",
			profile:  &auth.SocialProfile{Provider: "google", ID: "42"},
			wantCode: "email_not_provided",
		},
		{
			name:     "unverified email",
			profile:  &auth.SocialProfile{Provider: "google", ID: "42", Email: "ana@example.com"},
			wantCode: "google_auth_failed",
		},
		{
			name:     "unification failed",
			resolve:  errors.New("database is locked"),
			wantCode: "google_auth_failed",
		},
		{
			name:     "inactive user",
			user:     &model.User{ID: "u1", IsActive: false},
			wantCode: "user_inactive",
		},
		{
			name:     "token issue failed",
			issue:    errors.New("disk full"),
			wantCode: "google_auth_failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile := tt.profile
			if profile == nil {
				profile = googleProfile()
			}
			user := tt.user
			if user == nil {
				user = &model.User{ID: "u1", IsActive: true}
			}
			p := &MockProvider{Profile: profile, ExchangeErr: tt.exchErr}
			svc := &MockSocialAuthenticator{ReturnUser: user, ResolveErr: tt.resolve, IssueErr: tt.issue}
			h, _ := newSocialHandler(t, p, svc)

			q := frontendQuery(t, callback(t, h, tt.mutate))
			assert.Equal(t, tt.wantCode, q.Get("error"))
			assert.Empty(t, q.Get("token"))
		})
	}
}

func TestSocialAuthHandler_Callback_UnverifiedEmailIsNotLinked(t *testing.T) {
	profile := googleProfile()
	profile.EmailVerified = false
	svc := &MockSocialAuthenticator{ReturnUser: &model.User{ID: "local-owner", IsActive: true}}
	h, _ := newSocialHandler(t, &MockProvider{Profile: profile}, svc)

	q := frontendQuery(t, callback(t, h, nil))

	assert.Equal(t, "google_auth_failed", q.Get("error"))
	assert.Empty(t, q.Get("token"))
	assert.Equal(t, service.SocialIdentity{}, svc.Captured, "unification must not run")
}
