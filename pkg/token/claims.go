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

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token type discriminators. Access and refresh tokens carry distinct
// types and are signed with distinct secrets so neither can be used in
// place of the other.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"

	// purposePrefix prefixes the type claim of purpose-scoped tokens,
	// e.g. "purpose:password-reset".
	purposePrefix = "purpose:"
)

// Well-known purposes for single-use tokens.
const (
	PurposePasswordReset     = "password-reset"
	PurposeEmailVerification = "email-verification"
)

// Payload is the identity information carried by an access token.
// Immutable once signed.
type Payload struct {
	SubjectID   string   `json:"subject_id"`
	Email       string   `json:"email,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	SessionID   string   `json:"session_id,omitempty"`
}

// Pair is an access/refresh token pair with absolute expiry timestamps.
type Pair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// RefreshData is the verified content of a refresh token.
type RefreshData struct {
	SubjectID string
	SessionID string
	TokenID   string
}

// PurposeData is the verified content of a purpose-scoped token.
type PurposeData struct {
	SubjectID string
	Email     string
}

// accessClaims is the wire shape of access and purpose tokens.
type accessClaims struct {
	jwt.RegisteredClaims
	Email       string   `json:"email,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	SessionID   string   `json:"sid,omitempty"`
	TokenType   string   `json:"type"`
	Purpose     string   `json:"purpose,omitempty"`
}

// refreshClaims is the wire shape of refresh tokens.
type refreshClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid,omitempty"`
	TokenType string `json:"type"`
}
