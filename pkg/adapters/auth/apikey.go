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
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// APIKeyStrategy authenticates machine clients by API key. Keys are held
// as SHA-256 digests so a memory dump does not leak usable secrets.
type APIKeyStrategy struct {
	mu   sync.RWMutex
	keys map[string]*Identity
}

// NewAPIKeyStrategy creates an API key strategy with no registered keys.
func NewAPIKeyStrategy() *APIKeyStrategy {
	return &APIKeyStrategy{
		keys: make(map[string]*Identity),
	}
}

// AddKey registers an API key with the given identity
func (s *APIKeyStrategy) AddKey(apiKey string, identity *Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[digest(apiKey)] = identity
}

// RemoveKey removes an API key
func (s *APIKeyStrategy) RemoveKey(apiKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, digest(apiKey))
}

// Name returns the strategy name
func (s *APIKeyStrategy) Name() string {
	return "apikey"
}

// CanHandle reports whether an API key is present
func (s *APIKeyStrategy) CanHandle(creds *Credentials) bool {
	return creds.APIKey != ""
}

// Authenticate verifies the API key.
func (s *APIKeyStrategy) Authenticate(ctx context.Context, creds *Credentials) (*Identity, error) {
	s.mu.RLock()
	identity, ok := s.keys[digest(creds.APIKey)]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrInvalidCredentials
	}

	// Clone the identity to avoid mutations
	cloned := &Identity{
		Subject:     identity.Subject,
		Email:       identity.Email,
		Roles:       append([]string(nil), identity.Roles...),
		Permissions: append([]string(nil), identity.Permissions...),
		Attributes:  make(map[string]string, len(identity.Attributes)+1),
	}
	for k, v := range identity.Attributes {
		cloned.Attributes[k] = v
	}
	cloned.Attributes["auth_method"] = s.Name()

	return cloned, nil
}

func digest(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}
