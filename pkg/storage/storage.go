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

// Package storage defines the key-value store contract consumed by the
// session, challenge, and credential layers. The store is an external
// collaborator; this package only specifies its semantics and ships an
// in-memory implementation for development and testing.
package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for store operations.
var (
	// ErrKeyNotFound is returned when a key does not exist or has expired.
	ErrKeyNotFound = errors.New("key not found")

	// ErrUnavailable is returned when the store cannot be reached. Callers
	// must surface this as an infrastructure failure, never as an
	// authentication failure.
	ErrUnavailable = errors.New("store unavailable")
)

// Storer is the minimal key-value interface with TTL semantics.
//
// Set with a zero TTL stores the value without expiry. Read-modify-write
// sequences built on top of this interface are not atomic; callers that
// need hard bounds must back the store with conditional writes.
type Storer interface {
	// Get retrieves the value for a key.
	// Returns ErrKeyNotFound if the key does not exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value under a key with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys returns all live keys with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
