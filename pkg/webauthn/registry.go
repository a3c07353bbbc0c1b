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

	"github.com/jeremyhahn/go-authguard/pkg/storage"
)

// Key namespaces for credentials in the backing store. Credentials have no
// TTL; they persist until explicit removal.
const (
	credentialKeyPrefix      = "webauthn-credential:"
	credentialIndexKeyPrefix = "user-credentials:"
)

// CredentialRegistry persists registered public-key credentials and their
// signature counters, with a per-user index for building allow and exclude
// lists.
type CredentialRegistry struct {
	kv storage.Storer
}

// NewCredentialRegistry creates a registry over the given key-value store.
func NewCredentialRegistry(kv storage.Storer) *CredentialRegistry {
	return &CredentialRegistry{kv: kv}
}

// Get retrieves a credential by its id.
func (r *CredentialRegistry) Get(ctx context.Context, credentialID string) (*StoredCredential, error) {
	data, err := r.kv.Get(ctx, credentialKeyPrefix+credentialID)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var cred StoredCredential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("%w: decode credential: %v", ErrStoreUnavailable, err)
	}
	return &cred, nil
}

// Save stores a newly registered credential and adds it to the owner's
// index. Registering an id that already exists fails.
func (r *CredentialRegistry) Save(ctx context.Context, cred *StoredCredential) error {
	if _, err := r.Get(ctx, cred.CredentialID); err == nil {
		return ErrCredentialAlreadyExists
	} else if !errors.Is(err, ErrCredentialNotFound) {
		return err
	}

	if err := r.put(ctx, cred); err != nil {
		return err
	}

	ids, err := r.userIndex(ctx, cred.UserID)
	if err != nil {
		return err
	}
	ids = append(ids, cred.CredentialID)
	return r.putUserIndex(ctx, cred.UserID, ids)
}

// Update overwrites an existing credential, used after a verified
// authentication to persist the new counter and last-used time.
func (r *CredentialRegistry) Update(ctx context.Context, cred *StoredCredential) error {
	if _, err := r.Get(ctx, cred.CredentialID); err != nil {
		return err
	}
	return r.put(ctx, cred)
}

// Remove deletes a credential and drops it from the owner's index.
func (r *CredentialRegistry) Remove(ctx context.Context, credentialID string) error {
	cred, err := r.Get(ctx, credentialID)
	if err != nil {
		return err
	}

	if err := r.kv.Delete(ctx, credentialKeyPrefix+credentialID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	ids, err := r.userIndex(ctx, cred.UserID)
	if err != nil {
		return err
	}
	remaining := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != credentialID {
			remaining = append(remaining, id)
		}
	}
	return r.putUserIndex(ctx, cred.UserID, remaining)
}

// UserCredentials returns all credentials registered to a user.
func (r *CredentialRegistry) UserCredentials(ctx context.Context, userID string) ([]*StoredCredential, error) {
	ids, err := r.userIndex(ctx, userID)
	if err != nil {
		return nil, err
	}

	creds := make([]*StoredCredential, 0, len(ids))
	for _, id := range ids {
		cred, err := r.Get(ctx, id)
		if errors.Is(err, ErrCredentialNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	return creds, nil
}

func (r *CredentialRegistry) put(ctx context.Context, cred *StoredCredential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("%w: encode credential: %v", ErrStoreUnavailable, err)
	}
	if err := r.kv.Set(ctx, credentialKeyPrefix+cred.CredentialID, data, 0); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (r *CredentialRegistry) userIndex(ctx context.Context, userID string) ([]string, error) {
	data, err := r.kv.Get(ctx, credentialIndexKeyPrefix+userID)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("%w: decode credential index: %v", ErrStoreUnavailable, err)
	}
	return ids, nil
}

func (r *CredentialRegistry) putUserIndex(ctx context.Context, userID string, ids []string) error {
	key := credentialIndexKeyPrefix + userID
	if len(ids) == 0 {
		if err := r.kv.Delete(ctx, key); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return nil
	}

	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("%w: encode credential index: %v", ErrStoreUnavailable, err)
	}
	if err := r.kv.Set(ctx, key, data, 0); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
