package auth

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrSecretReleased is returned by Release after the first call.
var ErrSecretReleased = errors.New("auth: secret already released")

const redacted = "[redacted]"

// Secret holds a plaintext bearer value that can be read exactly once.
//
// The token issuer wraps the freshly generated value in a Secret and hands it
// to the caller; the handler calls Release when it writes the response.
// Every other way of looking at the value (fmt, slog, encoding/json) yields
// "[redacted]", so a Secret that ends up in a log line or a struct dump does
// not leak the token.
type Secret struct {
	mu       sync.Mutex
	value    string
	released bool
}

// NewSecret wraps value.
func NewSecret(value string) *Secret {
	return &Secret{value: value}
}

// Release returns the plaintext and forgets it. Any later call returns
// ErrSecretReleased.
func (s *Secret) Release() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return "", ErrSecretReleased
	}
	v := s.value
	s.value = ""
	s.released = true
	return v, nil
}

func (s *Secret) String() string   { return redacted }
func (s *Secret) GoString() string { return redacted }

// LogValue implements slog.LogValuer.
func (s *Secret) LogValue() slog.Value { return slog.StringValue(redacted) }

// MarshalJSON keeps the secret out of JSON output. Handlers serialize the
// released string, never the Secret itself.
func (s *Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}
