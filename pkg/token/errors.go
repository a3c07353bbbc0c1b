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

package token

import "errors"

// Sentinel errors for token verification. Every verification failure is
// classified as exactly one of these so callers can map each kind to a
// response without re-deriving intent.
var (
	// ErrTokenExpired is returned when a token's expiry has passed.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenMalformed is returned when a token cannot be parsed or its
	// signature, issuer, or audience does not verify.
	ErrTokenMalformed = errors.New("token malformed")

	// ErrTokenWrongType is returned when a token of one type is presented
	// where another is expected (e.g. a refresh token to VerifyAccessToken).
	ErrTokenWrongType = errors.New("token has wrong type")

	// ErrTokenWrongPurpose is returned when a purpose token is presented
	// for a different purpose than it was issued for.
	ErrTokenWrongPurpose = errors.New("token has wrong purpose")

	// ErrSubjectMismatch is returned by RefreshAccessToken when the new
	// payload's subject does not match the refresh token's subject.
	ErrSubjectMismatch = errors.New("subject mismatch")
)
