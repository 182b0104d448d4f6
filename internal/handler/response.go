package handler

// RESPONSE HELPERS:
// Every JSON response from the API goes through writeJSON, so every body has
// the same envelope:
//
//	{"estado": "OK" | "ERROR", "mensaje": "...", "datos": {...} | null}
//
// The frontend can always read estado to branch and mensaje to show, no
// matter which endpoint or status code produced the response.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/authd/internal/apperror"
)

const (
	estadoOK    = "OK"
	estadoError = "ERROR"
)

const (
	msgValidation = "Error de validación"
	msgInternal   = "Error interno del servidor"
)

// Envelope is the body shape of every JSON response.
type Envelope struct {
	Estado  string `json:"estado"`
	Mensaje string `json:"mensaje"`
	Datos   any    `json:"datos"`
}

// FieldError describes one rejected input field.
type FieldError struct {
	Campo   string `json:"campo"`
	Mensaje string `json:"mensaje"`
}

// validationDetails is the datos payload of a 422 response.
type validationDetails struct {
	Errores []FieldError `json:"errores"`
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status must be set BEFORE the body is written. Once Encode
// calls w.Write, the headers are on the wire and later changes are ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log it.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeOK sends an "OK" envelope.
func writeOK(w http.ResponseWriter, status int, mensaje string, datos any) {
	writeJSON(w, status, Envelope{Estado: estadoOK, Mensaje: mensaje, Datos: datos})
}

// writeFail sends an "ERROR" envelope.
func writeFail(w http.ResponseWriter, status int, mensaje string, datos any) {
	writeJSON(w, status, Envelope{Estado: estadoError, Mensaje: mensaje, Datos: datos})
}

// writeValidation sends a 422 listing every rejected field.
func writeValidation(w http.ResponseWriter, errs []FieldError) {
	writeFail(w, http.StatusUnprocessableEntity, msgValidation, validationDetails{Errores: errs})
}

// writeError maps a domain error to an HTTP status and sends it.
//
// ERROR MAPPING:
// Services return apperror values; this is the one place they become HTTP.
//
//	ErrInternal           → 500
//	ErrValidation         → 422
//	ErrInvalidCredentials → 400
//	ErrUnauthorized       → 401
//	ErrForbidden          → 403
//	ErrNotFound           → 404
//	ErrConflict           → 409
//	ErrUpstream           → 502
//	anything else         → 500
//
// ORDER MATTERS:
// An AppError unwraps to its sentinel AND its cause. A rejected token is
// ErrUnauthorized whose cause may be ErrNotFound, and a failed unification is
// ErrInternal whose cause may be ErrConflict. The sentinels that carry a
// cause are checked first so the outer meaning wins.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || errors.Is(err, apperror.ErrInternal) {
		// NEVER expose internal error details: they may contain SQL, file
		// paths or upstream responses.
		writeFail(w, http.StatusInternalServerError, msgInternal, nil)
		return
	}

	switch {
	case errors.Is(err, apperror.ErrValidation):
		writeValidation(w, []FieldError{{Campo: appErr.Field, Mensaje: appErr.Message}})
		return
	case errors.Is(err, apperror.ErrInvalidCredentials):
		writeFail(w, http.StatusBadRequest, appErr.Message, nil)
	case errors.Is(err, apperror.ErrUnauthorized):
		writeFail(w, http.StatusUnauthorized, appErr.Message, nil)
	case errors.Is(err, apperror.ErrForbidden):
		writeFail(w, http.StatusForbidden, appErr.Message, nil)
	case errors.Is(err, apperror.ErrNotFound):
		writeFail(w, http.StatusNotFound, appErr.Message, nil)
	case errors.Is(err, apperror.ErrConflict):
		var datos any
		if appErr.Field != "" {
			datos = validationDetails{Errores: []FieldError{{Campo: appErr.Field, Mensaje: appErr.Message}}}
		}
		writeFail(w, http.StatusConflict, appErr.Message, datos)
	case errors.Is(err, apperror.ErrUpstream):
		writeFail(w, http.StatusBadGateway, appErr.Message, nil)
	default:
		writeFail(w, http.StatusInternalServerError, msgInternal, nil)
	}
}

// isClientError reports whether err maps to a 4xx response.
func isClientError(err error) bool {
	if errors.Is(err, apperror.ErrInternal) {
		return false
	}
	for _, target := range []error{
		apperror.ErrValidation,
		apperror.ErrInvalidCredentials,
		apperror.ErrUnauthorized,
		apperror.ErrForbidden,
		apperror.ErrNotFound,
		apperror.ErrConflict,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
