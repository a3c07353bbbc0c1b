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

	"github.com/jeremyhahn/go-authguard/internal/password"
)

// PasswordStrategy verifies username/password credentials against the
// user store's Argon2id hashes.
type PasswordStrategy struct {
	users UserStore
}

// NewPasswordStrategy creates a password strategy over the given store.
func NewPasswordStrategy(users UserStore) *PasswordStrategy {
	return &PasswordStrategy{users: users}
}

// Name returns the strategy name
func (s *PasswordStrategy) Name() string {
	return "password"
}

// CanHandle reports whether username and password are present
func (s *PasswordStrategy) CanHandle(creds *Credentials) bool {
	return creds.Username != "" && creds.Password != ""
}

// Authenticate verifies the password. An unknown user and a wrong
// password are indistinguishable to the caller.
func (s *PasswordStrategy) Authenticate(ctx context.Context, creds *Credentials) (*Identity, error) {
	user, err := s.users.FindByUsername(ctx, creds.Username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := password.Verify(creds.Password, user.PasswordHash); err != nil {
		return nil, ErrInvalidCredentials
	}

	return &Identity{
		Subject:     user.ID,
		Email:       user.Email,
		Roles:       user.Roles,
		Permissions: user.Permissions,
		Attributes:  map[string]string{"auth_method": s.Name()},
	}, nil
}
