// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-authguard.
//
// go-authguard is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package rest

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/jeremyhahn/go-authguard/pkg/adapters/auth"
	"github.com/jeremyhahn/go-authguard/pkg/correlation"
	"github.com/jeremyhahn/go-authguard/pkg/session"
	"github.com/jeremyhahn/go-authguard/pkg/token"
	"github.com/jeremyhahn/go-authguard/pkg/webauthn"
)

// Common errors
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not found")
	ErrInternalError  = errors.New("internal server error")
	ErrUnavailable    = errors.New("service unavailable")
)

// Client-facing messages. Authentication failures are deliberately
// uniform so a caller cannot distinguish an unknown user from a wrong
// password or a failed ceremony.
const (
	msgInvalidCredentials = "invalid credentials"
	msgServerError        = "an internal error occurred; reference the request id when reporting"
	msgUnavailable        = "temporarily unavailable, retry with backoff"
)

// mapAuthError classifies a login/refresh/ceremony failure into the
// response to surface.
func mapAuthError(err error) (int, error, string) {
	switch {
	case errors.Is(err, session.ErrStoreUnavailable),
		errors.Is(err, webauthn.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, ErrUnavailable, msgUnavailable

	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrNoStrategy),
		errors.Is(err, token.ErrTokenExpired),
		errors.Is(err, token.ErrTokenMalformed),
		errors.Is(err, token.ErrTokenWrongType),
		errors.Is(err, token.ErrTokenWrongPurpose),
		errors.Is(err, token.ErrSubjectMismatch),
		errors.Is(err, session.ErrNotFound),
		errors.Is(err, session.ErrExpired),
		errors.Is(err, session.ErrInactive),
		errors.Is(err, webauthn.ErrChallengeNotFound),
		errors.Is(err, webauthn.ErrChallengeMismatch),
		errors.Is(err, webauthn.ErrOriginMismatch),
		errors.Is(err, webauthn.ErrCeremonyTypeMismatch),
		errors.Is(err, webauthn.ErrCredentialNotFound),
		errors.Is(err, webauthn.ErrCounterRegression),
		errors.Is(err, webauthn.ErrVerificationFailed),
		errors.Is(err, webauthn.ErrInvalidResponse),
		errors.Is(err, webauthn.ErrNoCredentials):
		return http.StatusUnauthorized, ErrUnauthorized, msgInvalidCredentials

	default:
		return http.StatusInternalServerError, ErrInternalError, msgServerError
	}
}

// writeAuthError writes the uniform response for a failed authentication
// operation.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	status, sentinel, message := mapAuthError(err)
	writeErrorWithMessage(w, r, sentinel, message, status)
}

// writeError writes an error response to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	writeErrorWithMessage(w, r, err, "", statusCode)
}

// writeErrorWithMessage writes an error response with a custom message.
func writeErrorWithMessage(w http.ResponseWriter, r *http.Request, err error, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := ErrorResponse{
		Error:     err.Error(),
		Message:   message,
		Code:      statusCode,
		RequestID: correlation.GetCorrelationID(r.Context()),
	}

	if encErr := json.NewEncoder(w).Encode(resp); encErr != nil {
		log.Printf("Failed to encode error response: %v", encErr)
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Failed to encode JSON response: %v", err)
	}
}
