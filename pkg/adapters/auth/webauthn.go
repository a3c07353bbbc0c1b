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

package auth

import (
	"context"
	"errors"

	"github.com/jeremyhahn/go-authguard/pkg/webauthn"
)

// WebAuthnStrategy completes a passkey assertion ceremony and resolves
// the credential's owner through the user store.
type WebAuthnStrategy struct {
	ceremony *webauthn.Ceremony
	users    UserStore
}

// NewWebAuthnStrategy creates a webauthn strategy over the given ceremony
// and user store.
func NewWebAuthnStrategy(ceremony *webauthn.Ceremony, users UserStore) *WebAuthnStrategy {
	return &WebAuthnStrategy{
		ceremony: ceremony,
		users:    users,
	}
}

// Name returns the strategy name
func (s *WebAuthnStrategy) Name() string {
	return "webauthn"
}

// CanHandle reports whether an assertion response is present
func (s *WebAuthnStrategy) CanHandle(creds *Credentials) bool {
	return creds.WebAuthnAssertion != nil
}

// Authenticate completes the assertion ceremony. Ceremony failures are
// collapsed to ErrInvalidCredentials; store outages pass through so the
// caller can distinguish an outage from a bad assertion.
func (s *WebAuthnStrategy) Authenticate(ctx context.Context, creds *Credentials) (*Identity, error) {
	cred, err := s.ceremony.CompleteAuthentication(ctx, creds.WebAuthnUserID, creds.WebAuthnAssertion)
	if err != nil {
		if errors.Is(err, webauthn.ErrStoreUnavailable) {
			return nil, err
		}
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.FindByID(ctx, cred.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	return &Identity{
		Subject:     user.ID,
		Email:       user.Email,
		Roles:       user.Roles,
		Permissions: user.Permissions,
		Attributes: map[string]string{
			"auth_method":   s.Name(),
			"credential_id": cred.CredentialID,
		},
	}, nil
}
