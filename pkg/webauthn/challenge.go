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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/jeremyhahn/go-authguard/pkg/storage"
)

// Key namespace for challenges in the backing store.
const challengeKeyPrefix = "webauthn-challenge:"

// AnonymousSubject keys challenges for usernameless authentication.
const AnonymousSubject = "anonymous"

// ChallengeStore persists single-use ceremony challenges in the injected
// key-value store with a short TTL. One challenge exists per
// (ceremony type, subject) pair; issuing a new one replaces any pending
// challenge for the same ceremony.
type ChallengeStore struct {
	kv    storage.Storer
	ttl   time.Duration
	clock func() time.Time
}

// NewChallengeStore creates a challenge store with the given TTL.
func NewChallengeStore(kv storage.Storer, ttl time.Duration) *ChallengeStore {
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &ChallengeStore{kv: kv, ttl: ttl, clock: time.Now}
}

// Issue generates a fresh challenge with 256 bits of entropy and stores it
// keyed by ceremony type and subject.
func (s *ChallengeStore) Issue(ctx context.Context, ceremonyType CeremonyType, subjectID string) (*Challenge, error) {
	value, err := protocol.CreateChallenge()
	if err != nil {
		return nil, wrapError("issue challenge", err)
	}

	challenge := &Challenge{
		Value:        value.String(),
		SubjectID:    subjectKey(subjectID),
		CeremonyType: ceremonyType,
		ExpiresAt:    s.clock().Add(s.ttl),
	}

	data, err := json.Marshal(challenge)
	if err != nil {
		return nil, wrapError("issue challenge", err)
	}
	if err := s.kv.Set(ctx, s.key(ceremonyType, subjectID), data, s.ttl); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return challenge, nil
}

// Get retrieves the pending challenge for a ceremony. A missing or expired
// challenge is ErrChallengeNotFound.
func (s *ChallengeStore) Get(ctx context.Context, ceremonyType CeremonyType, subjectID string) (*Challenge, error) {
	data, err := s.kv.Get(ctx, s.key(ceremonyType, subjectID))
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var challenge Challenge
	if err := json.Unmarshal(data, &challenge); err != nil {
		return nil, fmt.Errorf("%w: decode challenge: %v", ErrStoreUnavailable, err)
	}
	if s.clock().After(challenge.ExpiresAt) {
		return nil, ErrChallengeNotFound
	}
	return &challenge, nil
}

// Delete consumes a challenge. Called after every completion attempt,
// successful or not.
func (s *ChallengeStore) Delete(ctx context.Context, ceremonyType CeremonyType, subjectID string) error {
	if err := s.kv.Delete(ctx, s.key(ceremonyType, subjectID)); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *ChallengeStore) key(ceremonyType CeremonyType, subjectID string) string {
	return challengeKeyPrefix + string(ceremonyType) + ":" + subjectKey(subjectID)
}

func subjectKey(subjectID string) string {
	if subjectID == "" {
		return AnonymousSubject
	}
	return subjectID
}
