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

// Package session provides server-side session state with rotation,
// concurrent-session eviction, and TTL-bound lifetimes over an injected
// key-value store.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Login methods recorded on sessions.
const (
	MethodPassword = "password"
	MethodWebAuthn = "webauthn"
	MethodAPIKey   = "apikey"
)

// Record is a server-side session. Owned exclusively by Manager; callers
// must not mutate records outside Manager operations.
type Record struct {
	// ID is the opaque, unguessable session identifier.
	ID string `json:"id"`

	// UserID is the owning user.
	UserID string `json:"user_id"`

	// Roles and Permissions are snapshotted at login.
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`

	// IPAddress and UserAgent describe the client that created the session.
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	// LoginMethod records how the session was established.
	LoginMethod string `json:"login_method,omitempty"`

	// CSRFToken is the server-stored value the CSRF pipeline stage
	// compares the double-submit token against.
	CSRFToken string `json:"csrf_token,omitempty"`

	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ExpiresAt      time.Time `json:"expires_at"`

	// Active is cleared on invalidation.
	Active bool `json:"active"`
}

// Expired reports whether the record's lifetime has passed.
func (r *Record) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// newSessionID generates a 256-bit opaque identifier.
func newSessionID() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic("session: rand.Read: " + err.Error())
	}
	return hex.EncodeToString(buf)
}

// newCSRFToken generates a 128-bit CSRF token.
func newCSRFToken() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic("session: rand.Read: " + err.Error())
	}
	return hex.EncodeToString(buf)
}
