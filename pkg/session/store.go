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

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jeremyhahn/go-authguard/pkg/storage"
)

// Key namespaces in the backing store.
const (
	recordKeyPrefix = "session:"
	indexKeyPrefix  = "user-sessions:"
)

// Store persists session records and the per-user session index in the
// injected key-value store. Records carry a TTL equal to their remaining
// lifetime so the store self-cleans even without the sweep.
type Store struct {
	kv storage.Storer
}

// NewStore creates a session store over the given key-value store.
func NewStore(kv storage.Storer) *Store {
	return &Store{kv: kv}
}

// Get retrieves a session record by id.
func (s *Store) Get(ctx context.Context, sessionID string) (*Record, error) {
	data, err := s.kv.Get(ctx, recordKeyPrefix+sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("%w: decode session: %v", ErrStoreUnavailable, err)
	}
	return &record, nil
}

// Put stores a session record with TTL equal to its remaining lifetime.
func (s *Store) Put(ctx context.Context, record *Record, now time.Time) error {
	ttl := record.ExpiresAt.Sub(now)
	if ttl <= 0 {
		ttl = time.Second
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%w: encode session: %v", ErrStoreUnavailable, err)
	}
	if err := s.kv.Set(ctx, recordKeyPrefix+record.ID, data, ttl); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Delete removes a session record.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := s.kv.Delete(ctx, recordKeyPrefix+sessionID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// UserIndex returns the session id list for a user. A missing index is an
// empty list, not an error.
func (s *Store) UserIndex(ctx context.Context, userID string) ([]string, error) {
	data, err := s.kv.Get(ctx, indexKeyPrefix+userID)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("%w: decode session index: %v", ErrStoreUnavailable, err)
	}
	return ids, nil
}

// PutUserIndex replaces the session id list for a user. An empty list
// deletes the index.
func (s *Store) PutUserIndex(ctx context.Context, userID string, ids []string, ttl time.Duration) error {
	key := indexKeyPrefix + userID
	if len(ids) == 0 {
		if err := s.kv.Delete(ctx, key); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return nil
	}

	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("%w: encode session index: %v", ErrStoreUnavailable, err)
	}
	if err := s.kv.Set(ctx, key, data, ttl); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// SessionIDs returns the ids of all stored session records. Used by the
// cleanup sweep.
func (s *Store) SessionIDs(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Keys(ctx, recordKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, strings.TrimPrefix(key, recordKeyPrefix))
	}
	return ids, nil
}
