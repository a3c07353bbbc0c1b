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

// Package auth provides primary authentication strategies and the login
// manager that turns a verified identity into a session and token pair.
package auth

import (
	"context"
	"errors"

	"github.com/jeremyhahn/go-authguard/pkg/webauthn"
)

// Sentinel errors for authentication.
var (
	// ErrInvalidCredentials is returned for any failed primary
	// authentication. Deliberately generic: callers must not reveal
	// whether the user exists or which factor failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrNoStrategy is returned when no strategy can handle the
	// submitted credentials.
	ErrNoStrategy = errors.New("no authentication strategy for credentials")

	// ErrUserNotFound is returned by user stores. Strategies map it to
	// ErrInvalidCredentials before it reaches a client.
	ErrUserNotFound = errors.New("user not found")
)

// Credentials is the union of inputs a login request may carry. A
// strategy inspects the populated fields to decide whether it applies.
type Credentials struct {
	// Username and Password for password login.
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	// APIKey for machine clients.
	APIKey string `json:"api_key,omitempty"`

	// WebAuthnUserID and WebAuthnAssertion for passwordless login.
	// WebAuthnUserID is empty for usernameless flows.
	WebAuthnUserID    string                           `json:"webauthn_user_id,omitempty"`
	WebAuthnAssertion *webauthn.AuthenticationResponse `json:"-"`
}

// Identity represents an authenticated user or service
type Identity struct {
	// Subject is the unique identifier for the authenticated entity
	Subject string

	// Email is the subject's email address, if known
	Email string

	// Roles and Permissions feed the session record and access token
	Roles       []string
	Permissions []string

	// Attributes contains metadata about the authentication (auth
	// method, timestamp, etc.)
	Attributes map[string]string
}

// Strategy is one way of verifying primary credentials. Strategies are
// consulted in registration order; the first whose CanHandle returns
// true runs.
type Strategy interface {
	// Name returns the strategy name for logging and session records
	Name() string

	// CanHandle reports whether the credentials carry the inputs this
	// strategy verifies
	CanHandle(creds *Credentials) bool

	// Authenticate verifies the credentials and returns the identity.
	// Failures are ErrInvalidCredentials regardless of cause.
	Authenticate(ctx context.Context, creds *Credentials) (*Identity, error)
}

// User is an account record as the embedding application stores it.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Roles        []string
	Permissions  []string
}

// UserStore resolves account records for the password and webauthn
// strategies. Applications implement this over their user database.
type UserStore interface {
	// FindByUsername returns the user with the given username, or
	// ErrUserNotFound.
	FindByUsername(ctx context.Context, username string) (*User, error)

	// FindByID returns the user with the given id, or ErrUserNotFound.
	FindByID(ctx context.Context, id string) (*User, error)
}

// ContextKey is the type for context keys used by the auth package
type ContextKey string

// IdentityContextKey is the context key for storing authenticated identity
const IdentityContextKey ContextKey = "auth.identity"

// GetIdentity extracts the identity from a context
func GetIdentity(ctx context.Context) *Identity {
	if identity, ok := ctx.Value(IdentityContextKey).(*Identity); ok {
		return identity
	}
	return nil
}

// WithIdentity adds an identity to a context
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, IdentityContextKey, identity)
}

// HasRole checks if the identity has a specific role
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasPermission checks if the identity has a specific permission
func (i *Identity) HasPermission(permission string) bool {
	if i == nil {
		return false
	}
	for _, p := range i.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}
