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

package webauthn

import (
	"errors"
	"fmt"
)

// Sentinel errors for WebAuthn ceremony operations.
var (
	// ErrChallengeNotFound is returned when no challenge exists for the
	// ceremony, either because begin was never called, the challenge
	// expired, or it was already consumed.
	ErrChallengeNotFound = errors.New("challenge not found")

	// ErrChallengeMismatch is returned when the client's asserted
	// challenge does not equal the stored challenge.
	ErrChallengeMismatch = errors.New("challenge mismatch")

	// ErrOriginMismatch is returned when the client's asserted origin is
	// not an allowed origin.
	ErrOriginMismatch = errors.New("origin mismatch")

	// ErrCeremonyTypeMismatch is returned when the client data type does
	// not match the ceremony being completed.
	ErrCeremonyTypeMismatch = errors.New("ceremony type mismatch")

	// ErrCredentialNotFound is returned when a credential cannot be found.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrCredentialAlreadyExists is returned when registering a duplicate
	// credential id.
	ErrCredentialAlreadyExists = errors.New("credential already exists")

	// ErrNoCredentials is returned when a user has no registered
	// credentials.
	ErrNoCredentials = errors.New("user has no registered credentials")

	// ErrCounterRegression is returned when an authentication reports a
	// signature counter at or below the stored value, the cloned
	// authenticator signal.
	ErrCounterRegression = errors.New("signature counter regression")

	// ErrVerificationFailed is returned when assertion signature
	// verification fails.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrInvalidResponse is returned when the authenticator response is
	// malformed.
	ErrInvalidResponse = errors.New("invalid authenticator response")

	// ErrStoreUnavailable is returned when the backing store cannot be
	// reached. Distinct from the failures above: it is retryable and must
	// not be reported as an authentication failure.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// CeremonyError wraps an error with the operation that failed.
type CeremonyError struct {
	Op  string
	Err error
}

// Error returns the error message.
func (e *CeremonyError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *CeremonyError) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches.
func (e *CeremonyError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// wrapError wraps an error with an operation name if it's not nil.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &CeremonyError{Op: op, Err: err}
}
