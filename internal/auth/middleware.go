package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sakif/authd/internal/model"
)

// contextKey is an unexported type used for context keys in this package.
//
// WHY A CUSTOM TYPE FOR CONTEXT KEYS?
// context.WithValue uses any as the key type. A package-private type means
// only this package can create a key of type contextKey, so nothing else can
// read or shadow the principal stored here.
type contextKey string

const principalKey contextKey = "principal"

// TokenVerifier resolves a presented bearer value to its owner and token row.
// It returns an error for anything that must not authenticate: malformed,
// unknown, expired, revoked, or owned by an inactive user.
type TokenVerifier interface {
	Verify(ctx context.Context, value string) (*model.User, *model.AccessToken, error)
}

// Principal is the authenticated caller of a request.
type Principal struct {
	User  *model.User
	Token *model.AccessToken
}

// unauthorizedBody is the error envelope every protected route returns when
// the bearer token is missing or rejected.
const unauthorizedBody = `{"estado":"ERROR","mensaje":"No autenticado","datos":null}` + "\n"

// RequireAuth is a middleware that enforces bearer authentication on
// protected routes.
//
// It reads "Authorization: Bearer <token>", asks the verifier who owns it and
// stores the Principal in the request context. If the header is missing or
// the token is rejected, it responds 401 and stops the chain.
//
// MIDDLEWARE PATTERN IN GO:
// A middleware takes an http.Handler and returns a new http.Handler that
// wraps it. Chi applies them in a chain: req → M1 → M2 → Handler → M2 → M1 → resp
func RequireAuth(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			value, ok := BearerToken(r)
			if !ok {
				writeUnauthorized(w)
				return
			}

			user, token, err := verifier.Verify(r.Context(), value)
			if err != nil {
				logger.Debug("bearer token rejected",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				writeUnauthorized(w)
				return
			}

			ctx := WithPrincipal(r.Context(), &Principal{User: user, Token: token})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the credential from an "Authorization: Bearer ..."
// header. The scheme is matched case-insensitively.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, value, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the authenticated caller, or (nil, false) on
// routes that are not behind RequireAuth.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok && p != nil && p.User != nil
}

// UserFromContext is a shortcut for PrincipalFromContext(ctx).User.
func UserFromContext(ctx context.Context) (*model.User, bool) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return nil, false
	}
	return p.User, true
}

// TokenFromContext returns the access token the current request presented.
func TokenFromContext(ctx context.Context) (*model.AccessToken, bool) {
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.Token == nil {
		return nil, false
	}
	return p.Token, true
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="authd"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(unauthorizedBody))
}
