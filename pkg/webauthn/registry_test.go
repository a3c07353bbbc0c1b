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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-authguard/pkg/storage"
)

func testCredential(id, userID string) *StoredCredential {
	return &StoredCredential{
		CredentialID: id,
		UserID:       userID,
		PublicKey:    []byte{0xa5, 0x01, 0x02},
		Transports:   []string{"internal"},
		CreatedAt:    time.Now(),
	}
}

func TestCredentialRegistry_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	registry := NewCredentialRegistry(storage.NewMemoryStore())

	cred := testCredential("cred-1", "u1")
	require.NoError(t, registry.Save(ctx, cred))

	got, err := registry.Get(ctx, "cred-1")
	require.NoError(t, err)
	assert.Equal(t, cred.UserID, got.UserID)
	assert.Equal(t, cred.PublicKey, got.PublicKey)
	assert.Equal(t, uint32(0), got.SignatureCounter)
}

func TestCredentialRegistry_GetMissing(t *testing.T) {
	registry := NewCredentialRegistry(storage.NewMemoryStore())

	_, err := registry.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestCredentialRegistry_SaveDuplicate(t *testing.T) {
	ctx := context.Background()
	registry := NewCredentialRegistry(storage.NewMemoryStore())

	require.NoError(t, registry.Save(ctx, testCredential("cred-1", "u1")))
	err := registry.Save(ctx, testCredential("cred-1", "u2"))
	assert.ErrorIs(t, err, ErrCredentialAlreadyExists)
}

func TestCredentialRegistry_UpdateCounter(t *testing.T) {
	ctx := context.Background()
	registry := NewCredentialRegistry(storage.NewMemoryStore())

	cred := testCredential("cred-1", "u1")
	require.NoError(t, registry.Save(ctx, cred))

	cred.SignatureCounter = 7
	cred.LastUsedAt = time.Now()
	require.NoError(t, registry.Update(ctx, cred))

	got, err := registry.Get(ctx, "cred-1")
	require.NoError(t, err)
	assert.Equal(t, uint32(7), got.SignatureCounter)
	assert.False(t, got.LastUsedAt.IsZero())
}

func TestCredentialRegistry_UpdateMissing(t *testing.T) {
	registry := NewCredentialRegistry(storage.NewMemoryStore())

	err := registry.Update(context.Background(), testCredential("missing", "u1"))
	assert.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestCredentialRegistry_UserCredentials(t *testing.T) {
	ctx := context.Background()
	registry := NewCredentialRegistry(storage.NewMemoryStore())

	require.NoError(t, registry.Save(ctx, testCredential("cred-1", "u1")))
	require.NoError(t, registry.Save(ctx, testCredential("cred-2", "u1")))
	require.NoError(t, registry.Save(ctx, testCredential("cred-3", "u2")))

	creds, err := registry.UserCredentials(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, creds, 2)

	creds, err = registry.UserCredentials(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, creds)
}

func TestCredentialRegistry_Remove(t *testing.T) {
	ctx := context.Background()
	registry := NewCredentialRegistry(storage.NewMemoryStore())

	require.NoError(t, registry.Save(ctx, testCredential("cred-1", "u1")))
	require.NoError(t, registry.Save(ctx, testCredential("cred-2", "u1")))

	require.NoError(t, registry.Remove(ctx, "cred-1"))

	_, err := registry.Get(ctx, "cred-1")
	assert.ErrorIs(t, err, ErrCredentialNotFound)

	creds, err := registry.UserCredentials(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, "cred-2", creds[0].CredentialID)
}
