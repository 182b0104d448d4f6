package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/xid"
)

// OPAQUE ACCESS TOKENS:
// A bearer value looks like
//
//	oat_cv37rs3pp9olc6atsptg.Zm9vYmFyLXJhbmRvbS1ieXRlcy1iYXNlNjQtdXJs
//	^   ^                    ^
//	|   identifier (xid)     secret (32 random bytes, base64url)
//	prefix
//
// Only the identifier and SHA-256(secret) are stored. The identifier finds
// the row; the hash proves the caller holds the secret. Unlike a JWT, a token
// stops working the moment its row is deleted, which is what logout needs.

// TokenPrefix marks values issued by this service.
const TokenPrefix = "oat_"

const secretBytes = 32

// ErrMalformedToken is returned by ParseToken for values that do not have the
// oat_<identifier>.<secret> shape.
var ErrMalformedToken = errors.New("auth: malformed access token")

// OpaqueToken is a freshly generated bearer value and the parts the store
// needs.
type OpaqueToken struct {
	Identifier string
	Hash       string
	Value      *Secret
}

// NewOpaqueToken generates a random identifier and secret.
func NewOpaqueToken() (*OpaqueToken, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("auth: generating token secret: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(buf)
	id := xid.New().String()

	return &OpaqueToken{
		Identifier: id,
		Hash:       HashSecret(secret),
		Value:      NewSecret(TokenPrefix + id + "." + secret),
	}, nil
}

// ParseToken splits a bearer value into identifier and secret.
func ParseToken(value string) (identifier, secret string, err error) {
	rest, ok := strings.CutPrefix(value, TokenPrefix)
	if !ok {
		return "", "", ErrMalformedToken
	}
	identifier, secret, ok = strings.Cut(rest, ".")
	if !ok || identifier == "" || secret == "" {
		return "", "", ErrMalformedToken
	}
	if _, err := xid.FromString(identifier); err != nil {
		return "", "", ErrMalformedToken
	}
	return identifier, secret, nil
}

// HashSecret returns the hex SHA-256 of the secret part of a token. A fast
// hash is enough here: the secret is 256 random bits, not a password.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// SecretMatches compares a presented secret against a stored hash in
// constant time.
func SecretMatches(storedHash, secret string) bool {
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(HashSecret(secret))) == 1
}
