package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/sakif/authd/internal/model"
)

// googleUserInfoURL is the OpenID Connect userinfo endpoint.
// Docs: https://developers.google.com/identity/openid-connect/openid-connect#obtainuserinfo
const googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

// SocialProfile is the provider-neutral identity handed to the unification
// service. Email may be empty; callers must reject that before resolving.
type SocialProfile struct {
	Provider      string
	ID            string // provider-assigned subject, e.g. Google's "sub"
	Email         string
	EmailVerified bool
	Name          string
}

// googleUserInfo is the portion of the userinfo response we care about.
type googleUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

// GoogleProvider wraps golang.org/x/oauth2 for the Google Authorization Code flow.
//
// OAUTH 2.0 AUTHORIZATION CODE FLOW:
//  1. Redirect the user to Google's consent screen with our ClientID and scopes.
//  2. Google redirects back to CallbackURL with a short-lived "code".
//  3. Exchange the code for an access token (server-to-server, uses ClientSecret).
//  4. Call the userinfo endpoint with that token.
type GoogleProvider struct {
	config      *oauth2.Config
	userInfoURL string
}

// NewGoogleProvider creates a GoogleProvider with the given credentials.
//
// callbackURL must match one of the "Authorized redirect URIs" configured in
// the Google Cloud console exactly.
//
// Scopes: "openid" for the subject, "email" and "profile" for the address and
// display name.
func NewGoogleProvider(clientID, clientSecret, callbackURL string) *GoogleProvider {
	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		userInfoURL: googleUserInfoURL,
	}
}

// Name returns the provider key stored in users.provider.
func (p *GoogleProvider) Name() string {
	return model.ProviderGoogle
}

// AuthURL returns the consent screen URL carrying the signed state.
func (p *GoogleProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades the authorization code for the user's Google profile.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*SocialProfile, error) {
	oauthToken, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging OAuth code: %w", err)
	}

	// oauth2.Config.Client returns an *http.Client that adds
	// "Authorization: Bearer <token>" to every request.
	client := p.config.Client(ctx, oauthToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: building userinfo request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: calling Google userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: Google userinfo returned status %d", resp.StatusCode)
	}

	var info googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("auth: decoding Google userinfo: %w", err)
	}

	if info.Sub == "" {
		return nil, fmt.Errorf("auth: Google returned a profile without a subject")
	}

	return &SocialProfile{
		Provider:      model.ProviderGoogle,
		ID:            info.Sub,
		Email:         strings.TrimSpace(info.Email),
		EmailVerified: info.EmailVerified,
		Name:          strings.TrimSpace(info.Name),
	}, nil
}
