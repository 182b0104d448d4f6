// SIGNED OAUTH STATE:
// The OAuth "state" parameter protects the callback against CSRF. We make it a
// short-lived HS256 JWT whose ID claim is a random nonce, and we also put the
// nonce in an HttpOnly cookie. On callback both must agree:
//
//   - the signature proves this server minted the state
//   - the expiry bounds how long a consent screen may stay open
//   - the cookie proves the browser finishing the flow is the one that started it
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header: {"alg":"HS256","typ":"JWT"}
//	- Payload: {"iss":"authd","aud":["oauth:google"],"jti":"<nonce>","exp":...}
//	- Signature: HMAC-SHA256(header+"."+payload, APP_KEY)
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/xid"
)

const stateIssuer = "authd"

// StateTTL bounds the time between the redirect and the callback.
const StateTTL = 10 * time.Minute

// StateSigner mints and verifies OAuth state values.
type StateSigner struct {
	secret []byte
	now    func() time.Time
}

// NewStateSigner creates a StateSigner keyed with the application key.
// The key should be at least 32 bytes of random data in production.
// Example: APP_KEY=$(openssl rand -hex 32)
func NewStateSigner(secret string) (*StateSigner, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: APP_KEY must be at least 16 characters")
	}
	return &StateSigner{secret: []byte(secret), now: time.Now}, nil
}

// Sign returns a signed state for the provider together with its nonce.
// The caller stores the nonce in a cookie.
func (s *StateSigner) Sign(provider string) (state, nonce string, err error) {
	return s.signWithTTL(provider, StateTTL)
}

func (s *StateSigner) signWithTTL(provider string, ttl time.Duration) (string, string, error) {
	now := s.now()
	nonce := xid.New().String()

	c := jwt.RegisteredClaims{
		ID:        nonce,
		Issuer:    stateIssuer,
		Audience:  jwt.ClaimStrings{"oauth:" + provider},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", "", fmt.Errorf("auth: signing state: %w", err)
	}
	return signed, nonce, nil
}

// Verify checks the state's signature, expiry and audience, then compares its
// nonce with the one from the cookie.
//
// jwt.WithValidMethods rejects "none" and RSA/HMAC confusion; the issuer and
// audience checks stop a state minted for another provider (or another app
// sharing the key) from being replayed here.
func (s *StateSigner) Verify(provider, state, cookieNonce string) error {
	var c jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(
		state,
		&c,
		func(token *jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithAudience("oauth:"+provider),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return fmt.Errorf("auth: state expired")
		}
		return fmt.Errorf("auth: invalid state: %w", err)
	}

	if c.ID == "" || cookieNonce == "" || c.ID != cookieNonce {
		return fmt.Errorf("auth: state nonce mismatch")
	}
	return nil
}
