// Package model defines the data structures used throughout the application.
package model

import "time"

// Authentication providers a user record can be linked to.
const (
	ProviderLocal  = "local"
	ProviderGoogle = "google"
)

// User represents an account, local or social.
//
// A user has exactly one current Provider. A local account that later signs
// in with Google keeps its row (same ID, same email) and has Provider and
// ProviderID overwritten; the password hash is left untouched so
// email/password login keeps working.
//
// WHY POINTERS FOR PasswordHash, FullName AND ProviderID?
// These columns are nullable. A nil pointer maps to SQL NULL, which matters
// for ProviderID: UNIQUE(provider, provider_id) ignores NULLs, so many local
// users can coexist with provider_id = NULL.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash *string   `json:"-"`
	FullName     *string   `json:"fullName"`
	Provider     string    `json:"provider"`
	ProviderID   *string   `json:"-"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// HasPassword reports whether the user can log in with email/password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// DisplayName returns the full name or "" when unset.
func (u *User) DisplayName() string {
	if u.FullName == nil {
		return ""
	}
	return *u.FullName
}

// StringPtr returns nil for "" and &s otherwise. Used to map optional input
// onto nullable columns.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
