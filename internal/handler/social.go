package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/sakif/authd/internal/auth"
	"github.com/sakif/authd/internal/model"
	"github.com/sakif/authd/internal/service"
)

// Error codes appended to the frontend callback URL as ?error=<code>.
const (
	ErrCodeEmailNotProvided = "email_not_provided"
	ErrCodeUserInactive     = "user_inactive"
	ErrCodeAuthFailed       = "google_auth_failed"
)

// SocialProvider is an OAuth identity provider such as auth.GoogleProvider.
type SocialProvider interface {
	Name() string
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.SocialProfile, error)
}

// SocialAuthenticator is the slice of service.AuthService the OAuth
// callback uses.
type SocialAuthenticator interface {
	ResolveSocialUser(ctx context.Context, id service.SocialIdentity) (*model.User, error)
	IssueSessionToken(ctx context.Context, user *model.User) (*service.IssuedToken, error)
}

// SocialAuthHandler runs the browser side of the OAuth login flow for one
// provider.
//
// FLOW:
//  1. Redirect: mint a signed state, store its nonce in an HttpOnly cookie,
//     send the browser to the provider's consent screen.
//  2. Callback: check state against the cookie, exchange the code for a
//     profile, unify it with a local user, issue a session token and send
//     the browser back to the frontend with ?token=<value>.
//
// Any failure in step 2 also ends at the frontend, with ?error=<code>, so
// the user never lands on a bare JSON error page.
type SocialAuthHandler struct {
	provider      SocialProvider
	states        *auth.StateSigner
	svc           SocialAuthenticator
	frontend      *url.URL
	secureCookies bool
	logger        *slog.Logger
}

// NewSocialAuthHandler creates a SocialAuthHandler. frontendCallbackURL is
// where the browser is sent when the flow ends; it must be absolute.
func NewSocialAuthHandler(
	provider SocialProvider,
	states *auth.StateSigner,
	svc SocialAuthenticator,
	frontendCallbackURL string,
	secureCookies bool,
	logger *slog.Logger,
) (*SocialAuthHandler, error) {
	u, err := url.Parse(frontendCallbackURL)
	if err != nil {
		return nil, fmt.Errorf("handler: parsing frontend callback URL: %w", err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("handler: frontend callback URL %q must be absolute", frontendCallbackURL)
	}
	return &SocialAuthHandler{
		provider:      provider,
		states:        states,
		svc:           svc,
		frontend:      u,
		secureCookies: secureCookies,
		logger:        logger,
	}, nil
}

// nonceCookie is the name of the cookie holding the state nonce.
func (h *SocialAuthHandler) nonceCookie() string {
	return "oauth_nonce_" + h.provider.Name()
}

// Redirect sends the browser to the provider's consent screen.
//
// HTTP: GET /auth/google/redirect
//
// The nonce cookie is:
//   - HttpOnly: JavaScript can't read it
//   - SameSite=Lax: sent on the top-level navigation back from the provider
//   - 10-minute expiry, matching the state's own expiry
func (h *SocialAuthHandler) Redirect(w http.ResponseWriter, r *http.Request) {
	state, nonce, err := h.states.Sign(h.provider.Name())
	if err != nil {
		h.logger.Error("oauth redirect: signing state failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.nonceCookie(),
		Value:    nonce,
		Path:     "/",
		MaxAge:   int(auth.StateTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.provider.AuthURL(state), http.StatusTemporaryRedirect)
}

// Callback completes the OAuth flow.
//
// HTTP: GET /auth/google/callback?code=xxx&state=yyy
//
// Outcomes, always as a redirect to the frontend:
//   - ?token=<bearer value>          success
//   - ?error=email_not_provided      the provider returned no email
//   - ?error=user_inactive           the unified account is deactivated
//   - ?error=google_auth_failed      anything else (denied consent, bad state,
//     failed exchange, unverified email, store failure)
func (h *SocialAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	provider := h.provider.Name()

	var cookieNonce string
	if c, err := r.Cookie(h.nonceCookie()); err == nil {
		cookieNonce = c.Value
	}
	// The nonce is single-use; clear it whatever happens next.
	http.SetCookie(w, &http.Cookie{
		Name:     h.nonceCookie(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	if errParam := q.Get("error"); errParam != "" {
		h.logger.Info("oauth callback: provider returned an error",
			slog.String("provider", provider),
			slog.String("error", errParam),
		)
		h.fail(w, r, ErrCodeAuthFailed)
		return
	}

	if err := h.states.Verify(provider, q.Get("state"), cookieNonce); err != nil {
		h.logger.Warn("oauth callback: invalid state",
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)
		h.fail(w, r, ErrCodeAuthFailed)
		return
	}

	code := q.Get("code")
	if code == "" {
		h.fail(w, r, ErrCodeAuthFailed)
		return
	}

	profile, err := h.provider.Exchange(ctx, code)
	if err != nil {
		h.logger.Error("oauth callback: exchange failed",
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)
		h.fail(w, r, ErrCodeAuthFailed)
		return
	}

	if profile.Email == "" {
		h.logger.Info("oauth callback: provider returned no email", slog.String("provider", provider))
		h.fail(w, r, ErrCodeEmailNotProvided)
		return
	}

	// Unification links by email, so an address the provider has not
	// verified could take over an existing account.
	if !profile.EmailVerified {
		h.logger.Warn("oauth callback: provider email not verified",
			slog.String("provider", provider),
			slog.String("providerID", profile.ID),
		)
		h.fail(w, r, ErrCodeAuthFailed)
		return
	}

	user, err := h.svc.ResolveSocialUser(ctx, service.SocialIdentity{
		Email:      profile.Email,
		FullName:   profile.Name,
		Provider:   profile.Provider,
		ProviderID: profile.ID,
	})
	if err != nil {
		h.logger.Error("oauth callback: unification failed",
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)
		h.fail(w, r, ErrCodeAuthFailed)
		return
	}

	if !user.IsActive {
		h.logger.Info("oauth callback: inactive user", slog.String("userID", user.ID))
		h.fail(w, r, ErrCodeUserInactive)
		return
	}

	token, err := h.svc.IssueSessionToken(ctx, user)
	if err != nil {
		h.logger.Error("oauth callback: issuing token failed",
			slog.String("userID", user.ID),
			slog.String("error", err.Error()),
		)
		h.fail(w, r, ErrCodeAuthFailed)
		return
	}
	value, err := token.Value.Release()
	if err != nil {
		h.fail(w, r, ErrCodeAuthFailed)
		return
	}

	h.logger.Info("user authenticated",
		slog.String("userID", user.ID),
		slog.String("provider", provider),
	)
	http.Redirect(w, r, h.frontendURL("token", value), http.StatusSeeOther)
}

func (h *SocialAuthHandler) fail(w http.ResponseWriter, r *http.Request, code string) {
	http.Redirect(w, r, h.frontendURL("error", code), http.StatusSeeOther)
}

// frontendURL returns the frontend callback URL with key=value added to
// whatever query it already carries.
func (h *SocialAuthHandler) frontendURL(key, value string) string {
	u := *h.frontend
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
