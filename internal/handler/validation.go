package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/sakif/authd/internal/auth"
	"github.com/sakif/authd/internal/service"
)

// maxBodyBytes caps request bodies. Auth payloads are a few hundred bytes.
const maxBodyBytes = 64 << 10

// Validation rules for account fields.
const (
	minPasswordLen = 8
	maxEmailLen    = 254
)

type registerRequest struct {
	Email    string  `json:"email"`
	Password string  `json:"password"`
	FullName *string `json:"fullName"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// decodeJSON reads a JSON object body into dst. A body that is not a single
// JSON object is reported as a validation error on the "body" field.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) []FieldError {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		msg := "El cuerpo de la petición debe ser un objeto JSON válido"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			msg = fmt.Sprintf("El cuerpo de la petición no puede superar %d bytes", tooLarge.Limit)
		}
		return []FieldError{{Campo: "body", Mensaje: msg}}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return []FieldError{{Campo: "body", Mensaje: "El cuerpo de la petición debe contener un solo objeto JSON"}}
	}
	return nil
}

// validateEmail trims, checks and lowercases an address.
//
// mail.ParseAddress accepts display-name forms like "Ana <a@x.com>", so the
// parsed address must equal the input for it to count as a bare address.
func validateEmail(raw string) (string, *FieldError) {
	email := strings.TrimSpace(raw)
	if email == "" {
		return "", &FieldError{Campo: "email", Mensaje: "El correo electrónico es obligatorio"}
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || len(email) > maxEmailLen || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return "", &FieldError{Campo: "email", Mensaje: "El correo electrónico no es válido"}
	}
	return service.NormalizeEmail(email), nil
}

// validate returns the service input, or every field error found.
func (req registerRequest) validate() (service.RegisterInput, []FieldError) {
	var errs []FieldError

	email, fe := validateEmail(req.Email)
	if fe != nil {
		errs = append(errs, *fe)
	}

	switch {
	case utf8.RuneCountInString(req.Password) < minPasswordLen:
		errs = append(errs, FieldError{
			Campo:   "password",
			Mensaje: fmt.Sprintf("La contraseña debe tener al menos %d caracteres", minPasswordLen),
		})
	case len(req.Password) > auth.MaxPasswordBytes:
		errs = append(errs, FieldError{
			Campo:   "password",
			Mensaje: fmt.Sprintf("La contraseña no puede superar %d bytes", auth.MaxPasswordBytes),
		})
	}

	// Any non-blank name is kept, even a single initial. Blank means unset.
	var fullName string
	if req.FullName != nil {
		fullName = strings.TrimSpace(*req.FullName)
	}

	return service.RegisterInput{Email: email, Password: req.Password, FullName: fullName}, errs
}

func (req loginRequest) validate() (email string, errs []FieldError) {
	email, fe := validateEmail(req.Email)
	if fe != nil {
		errs = append(errs, *fe)
	}
	if req.Password == "" {
		errs = append(errs, FieldError{Campo: "password", Mensaje: "La contraseña es obligatoria"})
	}
	return email, errs
}
