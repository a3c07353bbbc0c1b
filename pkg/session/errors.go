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

package session

import "errors"

// Sentinel errors for session operations.
var (
	// ErrNotFound is returned when no session exists for an id. Rotated
	// and invalidated ids report this, closing session-fixation windows.
	ErrNotFound = errors.New("session not found")

	// ErrExpired is returned when a session's lifetime has passed. The
	// session is invalidated as a side effect, so a subsequent lookup
	// reports ErrNotFound.
	ErrExpired = errors.New("session expired")

	// ErrInactive is returned when a session exists but has been
	// invalidated.
	ErrInactive = errors.New("session inactive")

	// ErrStoreUnavailable is returned when the backing store fails.
	// Distinct from the authentication failures above; eligible for
	// caller-side retry and must never be cached as "credentials invalid".
	ErrStoreUnavailable = errors.New("session store unavailable")
)
