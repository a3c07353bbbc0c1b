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

package pipeline

import (
	"errors"
	"net/http"

	"github.com/jeremyhahn/go-authguard/pkg/session"
	"github.com/jeremyhahn/go-authguard/pkg/webauthn"
)

// Sentinel errors for pipeline stages.
var (
	// ErrRateLimited is returned when a client exceeds its request budget.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrCSRFInvalid is returned when a state-changing request carries no
	// CSRF token or one that does not match the session's stored value.
	ErrCSRFInvalid = errors.New("csrf token invalid")

	// ErrUnauthenticated is returned when a presented bearer token or its
	// backing session fails verification. Absent credentials do not
	// produce this error; anonymous requests pass through.
	ErrUnauthenticated = errors.New("authentication failed")

	// ErrHandled signals that a stage wrote the response itself, such as a
	// CORS preflight. The driver stops without writing an error body.
	ErrHandled = errors.New("request handled")
)

// StatusFor maps a pipeline error to its HTTP status code. Store outages
// map to 503 so clients can retry; they are never conflated with
// authentication failures.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrCSRFInvalid):
		return http.StatusForbidden
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, session.ErrStoreUnavailable),
		errors.Is(err, webauthn.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
