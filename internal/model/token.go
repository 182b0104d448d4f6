package model

import "time"

// AccessTokenType is stored in the type column of every token row.
const AccessTokenType = "auth_token"

// SessionTokenName names the tokens handed out by login, register and the
// OAuth callback.
const SessionTokenName = "auth_token"

// AbilityAll grants every ability. It is the only scope the service issues.
const AbilityAll = "*"

// AccessToken is the persisted side of a bearer token. It never carries the
// plaintext secret, only its SHA-256 hash.
type AccessToken struct {
	Identifier string
	UserID     string
	Type       string
	Name       string
	Hash       string
	Abilities  []string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	LastUsedAt *time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the token is past its expiry at the given time.
func (t *AccessToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
