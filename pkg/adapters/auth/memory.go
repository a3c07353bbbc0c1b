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
	"sync"
)

// MemoryUserStore is an in-memory UserStore for development and testing.
type MemoryUserStore struct {
	mu         sync.RWMutex
	byID       map[string]*User
	byUsername map[string]*User
}

// NewMemoryUserStore creates an empty in-memory user store.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byID:       make(map[string]*User),
		byUsername: make(map[string]*User),
	}
}

// Add inserts or replaces a user record.
func (s *MemoryUserStore) Add(user *User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[user.ID] = user
	s.byUsername[user.Username] = user
}

// Remove deletes a user record.
func (s *MemoryUserStore) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user, ok := s.byID[id]; ok {
		delete(s.byUsername, user.Username)
		delete(s.byID, id)
	}
}

// FindByUsername implements UserStore
func (s *MemoryUserStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.byUsername[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// FindByID implements UserStore
func (s *MemoryUserStore) FindByID(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return user, nil
}
