package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/authd/internal/auth"
	"github.com/sakif/authd/internal/model"
	"github.com/sakif/authd/internal/service"
)

// Success messages.
const (
	msgRegistered = "Usuario registrado exitosamente"
	msgLoggedIn   = "Inicio de sesión exitoso"
	msgLoggedOut  = "Sesión cerrada exitosamente"
	msgMe         = "Usuario obtenido exitosamente"
	msgUnauth     = "No autenticado"
)

// tokenTypeBearer is the tipo of every issued token.
const tokenTypeBearer = "bearer"

// Authenticator is the slice of service.AuthService the local auth routes use.
//
// WHY AN INTERFACE HERE?
// Handlers depend on behaviour, not on the concrete service. Tests can pass
// the real service over an in-memory store, or a stub that returns a canned
// error to exercise one status mapping.
type Authenticator interface {
	Register(ctx context.Context, in service.RegisterInput) (*service.AuthResult, error)
	Login(ctx context.Context, email, password string) (*service.AuthResult, error)
	Logout(ctx context.Context, userID, tokenIdentifier string) error
	Me(ctx context.Context, userID string) (*model.User, error)
}

// AuthHandler serves the email/password and session routes.
//
// HANDLER RESPONSIBILITIES:
//   - Register → validate body, create local account, return user + token
//   - Login    → validate body, check credentials, return user + token
//   - Logout   → revoke the token the request authenticated with
//   - Me       → return the caller's profile
type AuthHandler struct {
	svc    Authenticator
	logger *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(svc Authenticator, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{svc: svc, logger: logger}
}

// userPayload is the public view of a user in register/login responses.
type userPayload struct {
	ID       string  `json:"id"`
	Email    string  `json:"email"`
	FullName *string `json:"fullName"`
	Provider string  `json:"provider"`
}

// profilePayload is the public view of a user in GET /auth/me.
type profilePayload struct {
	userPayload
	IsActive      bool      `json:"isActive"`
	CreadoEn      time.Time `json:"creadoEn"`
	ActualizadoEn time.Time `json:"actualizadoEn"`
}

type tokenPayload struct {
	Tipo     string    `json:"tipo"`
	Valor    string    `json:"valor"`
	ExpiraEn time.Time `json:"expiraEn"`
}

type sessionPayload struct {
	Usuario userPayload  `json:"usuario"`
	Token   tokenPayload `json:"token"`
}

type profileResponse struct {
	Usuario profilePayload `json:"usuario"`
}

func newUserPayload(u *model.User) userPayload {
	return userPayload{
		ID:       u.ID,
		Email:    u.Email,
		FullName: u.FullName,
		Provider: u.Provider,
	}
}

// newSessionPayload releases the token's plaintext. It fails if something
// already released it.
func newSessionPayload(res *service.AuthResult) (sessionPayload, error) {
	value, err := res.Token.Value.Release()
	if err != nil {
		return sessionPayload{}, err
	}
	return sessionPayload{
		Usuario: newUserPayload(res.User),
		Token: tokenPayload{
			Tipo:     tokenTypeBearer,
			Valor:    value,
			ExpiraEn: res.Token.ExpiresAt,
		},
	}, nil
}

// Register creates a local account.
//
// HTTP: POST /auth/register {email, password, fullName?}
// Response: 201 with user + token, 409 if the email is taken, 422 on invalid input.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if errs := decodeJSON(w, r, &req); errs != nil {
		writeValidation(w, errs)
		return
	}
	in, errs := req.validate()
	if len(errs) > 0 {
		writeValidation(w, errs)
		return
	}

	res, err := h.svc.Register(r.Context(), in)
	if err != nil {
		h.logFailure("register", err)
		writeError(w, err)
		return
	}

	h.writeSession(w, http.StatusCreated, msgRegistered, res)
}

// Login authenticates with email and password.
//
// HTTP: POST /auth/login {email, password}
// Response: 200 with user + token, 400 on bad credentials, 403 if inactive.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if errs := decodeJSON(w, r, &req); errs != nil {
		writeValidation(w, errs)
		return
	}
	email, errs := req.validate()
	if len(errs) > 0 {
		writeValidation(w, errs)
		return
	}

	res, err := h.svc.Login(r.Context(), email, req.Password)
	if err != nil {
		h.logFailure("login", err)
		writeError(w, err)
		return
	}

	h.writeSession(w, http.StatusOK, msgLoggedIn, res)
}

// Logout revokes the bearer token this request presented. Other tokens of
// the same user stay valid.
//
// HTTP: POST /auth/logout
// Auth: Required (RequireAuth puts the principal in the context)
//
// WHY POST AND NOT GET?
// Logout changes state. A GET could be triggered by a prefetch or an <img>.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeFail(w, http.StatusUnauthorized, msgUnauth, nil)
		return
	}
	token, ok := auth.TokenFromContext(r.Context())
	if !ok {
		writeFail(w, http.StatusUnauthorized, msgUnauth, nil)
		return
	}

	if err := h.svc.Logout(r.Context(), user.ID, token.Identifier); err != nil {
		h.logFailure("logout", err)
		writeError(w, err)
		return
	}

	h.logger.Info("user logged out", slog.String("userID", user.ID))
	writeOK(w, http.StatusOK, msgLoggedOut, nil)
}

// Me returns the caller's profile, re-read from the store.
//
// HTTP: GET /auth/me
// Auth: Required
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeFail(w, http.StatusUnauthorized, msgUnauth, nil)
		return
	}

	user, err := h.svc.Me(r.Context(), caller.ID)
	if err != nil {
		h.logFailure("me", err)
		writeError(w, err)
		return
	}

	writeOK(w, http.StatusOK, msgMe, profileResponse{
		Usuario: profilePayload{
			userPayload:   newUserPayload(user),
			IsActive:      user.IsActive,
			CreadoEn:      user.CreatedAt,
			ActualizadoEn: user.UpdatedAt,
		},
	})
}

func (h *AuthHandler) writeSession(w http.ResponseWriter, status int, mensaje string, res *service.AuthResult) {
	payload, err := newSessionPayload(res)
	if err != nil {
		h.logger.Error("session token already released", slog.String("userID", res.User.ID))
		writeError(w, err)
		return
	}
	writeOK(w, status, mensaje, payload)
}

// logFailure logs expected rejections at Debug and everything else at Error.
func (h *AuthHandler) logFailure(op string, err error) {
	level := slog.LevelError
	if isClientError(err) {
		level = slog.LevelDebug
	}
	h.logger.Log(context.Background(), level, "auth request failed",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
}
