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
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-authguard/pkg/adapters/audit"
	"github.com/jeremyhahn/go-authguard/pkg/storage"
)

const (
	testOrigin = "https://example.com"
	testUserID = "u1"
)

// stubVerifier replaces COSE signature verification in ceremony tests.
type stubVerifier struct {
	err error
}

func (v stubVerifier) Verify(credential *StoredCredential, response *AuthenticationResponse) error {
	return v.err
}

type ceremonyFixture struct {
	ceremony   *Ceremony
	challenges *ChallengeStore
	registry   *CredentialRegistry
	auditor    *audit.MemoryAuditor
}

func newCeremonyFixture(t *testing.T, verifier AssertionVerifier) *ceremonyFixture {
	t.Helper()

	kv := storage.NewMemoryStore()
	challenges := NewChallengeStore(kv, 5*time.Minute)
	registry := NewCredentialRegistry(kv)
	auditor := audit.NewMemoryAuditor()

	ceremony, err := NewCeremony(&CeremonyParams{
		Config: &Config{
			RPID:          "example.com",
			RPDisplayName: "Example",
			RPOrigins:     []string{testOrigin},
		},
		Challenges: challenges,
		Registry:   registry,
		Verifier:   verifier,
		Auditor:    auditor,
	})
	require.NoError(t, err)

	return &ceremonyFixture{
		ceremony:   ceremony,
		challenges: challenges,
		registry:   registry,
		auditor:    auditor,
	}
}

func challengeFromOptions(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

func (f *ceremonyFixture) register(t *testing.T, userID string) *StoredCredential {
	t.Helper()
	ctx := context.Background()

	options, err := f.ceremony.BeginRegistration(ctx, userID, userID+"@example.com", "")
	require.NoError(t, err)

	cred, err := f.ceremony.CompleteRegistration(ctx, userID, &RegistrationResponse{
		CredentialID: "cred-" + userID,
		PublicKey:    []byte{0xa5, 0x01, 0x02},
		ClientData: ClientData{
			Type:      "webauthn.create",
			Challenge: challengeFromOptions(options.Response.Challenge),
			Origin:    testOrigin,
		},
		Transports: []string{"usb"},
	})
	require.NoError(t, err)
	return cred
}

func (f *ceremonyFixture) assertionResponse(t *testing.T, userID, credentialID string, counter uint32) *AuthenticationResponse {
	t.Helper()

	options, err := f.ceremony.BeginAuthentication(context.Background(), userID)
	require.NoError(t, err)

	return &AuthenticationResponse{
		CredentialID: credentialID,
		ClientData: ClientData{
			Type:      "webauthn.get",
			Challenge: challengeFromOptions(options.Response.Challenge),
			Origin:    testOrigin,
		},
		ClientDataJSON:    []byte(`{"type":"webauthn.get"}`),
		AuthenticatorData: []byte{0x01, 0x02},
		Signature:         []byte{0x03, 0x04},
		Counter:           counter,
	}
}

func TestCeremony_RegistrationRoundTrip(t *testing.T) {
	f := newCeremonyFixture(t, stubVerifier{})

	cred := f.register(t, testUserID)
	assert.Equal(t, "cred-"+testUserID, cred.CredentialID)
	assert.Equal(t, testUserID, cred.UserID)
	assert.Equal(t, uint32(0), cred.SignatureCounter)

	stored, err := f.registry.Get(context.Background(), cred.CredentialID)
	require.NoError(t, err)
	assert.Equal(t, cred.PublicKey, stored.PublicKey)
}

func TestCeremony_RegistrationWithoutChallenge(t *testing.T) {
	f := newCeremonyFixture(t, stubVerifier{})

	_, err := f.ceremony.CompleteRegistration(context.Background(), testUserID, &RegistrationResponse{
		CredentialID: "cred-x",
		PublicKey:    []byte{0x01},
		ClientData:   ClientData{Type: "webauthn.create"},
	})
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestCeremony_RegistrationClientDataMismatches(t *testing.T) {
	tests := []struct {
		name       string
		clientData func(challenge string) ClientData
		expected   error
	}{
		{
			name: "wrong ceremony type",
			clientData: func(challenge string) ClientData {
				return ClientData{Type: "webauthn.get", Challenge: challenge, Origin: testOrigin}
			},
			expected: ErrCeremonyTypeMismatch,
		},
		{
			name: "wrong challenge",
			clientData: func(challenge string) ClientData {
				return ClientData{Type: "webauthn.create", Challenge: "bm90LXRoZS1jaGFsbGVuZ2U", Origin: testOrigin}
			},
			expected: ErrChallengeMismatch,
		},
		{
			name: "wrong origin",
			clientData: func(challenge string) ClientData {
				return ClientData{Type: "webauthn.create", Challenge: challenge, Origin: "https://evil.example.com"}
			},
			expected: ErrOriginMismatch,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newCeremonyFixture(t, stubVerifier{})
			ctx := context.Background()

			options, err := f.ceremony.BeginRegistration(ctx, testUserID, "u1@example.com", "")
			require.NoError(t, err)
			challenge := challengeFromOptions(options.Response.Challenge)

			_, err = f.ceremony.CompleteRegistration(ctx, testUserID, &RegistrationResponse{
				CredentialID: "cred-x",
				PublicKey:    []byte{0x01},
				ClientData:   tc.clientData(challenge),
			})
			assert.ErrorIs(t, err, tc.expected)

			// The challenge was consumed by the failed attempt.
			_, err = f.ceremony.CompleteRegistration(ctx, testUserID, &RegistrationResponse{
				CredentialID: "cred-x",
				PublicKey:    []byte{0x01},
				ClientData:   ClientData{Type: "webauthn.create", Challenge: challenge, Origin: testOrigin},
			})
			assert.ErrorIs(t, err, ErrChallengeNotFound)
		})
	}
}

func TestCeremony_AuthenticationRoundTrip(t *testing.T) {
	f := newCeremonyFixture(t, stubVerifier{})
	ctx := context.Background()

	cred := f.register(t, testUserID)
	response := f.assertionResponse(t, testUserID, cred.CredentialID, 1)

	verified, err := f.ceremony.CompleteAuthentication(ctx, testUserID, response)
	require.NoError(t, err)
	assert.Equal(t, testUserID, verified.UserID)
	assert.Equal(t, uint32(1), verified.SignatureCounter)
	assert.False(t, verified.LastUsedAt.IsZero())

	stored, err := f.registry.Get(ctx, cred.CredentialID)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), stored.SignatureCounter)
}

func TestCeremony_UsernamelessAuthentication(t *testing.T) {
	f := newCeremonyFixture(t, stubVerifier{})
	ctx := context.Background()

	cred := f.register(t, testUserID)

	options, err := f.ceremony.BeginAuthentication(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, options.Response.AllowedCredentials)

	verified, err := f.ceremony.CompleteAuthentication(ctx, "", &AuthenticationResponse{
		CredentialID: cred.CredentialID,
		ClientData: ClientData{
			Type:      "webauthn.get",
			Challenge: challengeFromOptions(options.Response.Challenge),
			Origin:    testOrigin,
		},
		Counter: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, testUserID, verified.UserID)
}

func TestCeremony_ReplayRejected(t *testing.T) {
	f := newCeremonyFixture(t, stubVerifier{})
	ctx := context.Background()

	cred := f.register(t, testUserID)
	response := f.assertionResponse(t, testUserID, cred.CredentialID, 1)

	_, err := f.ceremony.CompleteAuthentication(ctx, testUserID, response)
	require.NoError(t, err)

	// Replaying the captured response fails: the challenge was consumed.
	_, err = f.ceremony.CompleteAuthentication(ctx, testUserID, response)
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestCeremony_CounterRegression(t *testing.T) {
	tests := []struct {
		name    string
		counter uint32
	}{
		{name: "equal counter", counter: 5},
		{name: "lower counter", counter: 4},
		{name: "zero counter", counter: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newCeremonyFixture(t, stubVerifier{})
			ctx := context.Background()

			cred := f.register(t, testUserID)

			// Advance the stored counter to 5.
			first := f.assertionResponse(t, testUserID, cred.CredentialID, 5)
			_, err := f.ceremony.CompleteAuthentication(ctx, testUserID, first)
			require.NoError(t, err)

			response := f.assertionResponse(t, testUserID, cred.CredentialID, tc.counter)
			_, err = f.ceremony.CompleteAuthentication(ctx, testUserID, response)
			assert.ErrorIs(t, err, ErrCounterRegression)

			// Counter regression is audited at critical severity.
			events, err := f.auditor.GetEvents(ctx, &audit.EventQuery{
				EventTypes: []audit.EventType{audit.EventWebAuthnCounterRegression},
			})
			require.NoError(t, err)
			require.Len(t, events, 1)
			assert.Equal(t, audit.SeverityCritical, events[0].Severity)
			assert.Equal(t, testUserID, events[0].UserID)

			// The stored counter is unchanged.
			stored, err := f.registry.Get(ctx, cred.CredentialID)
			require.NoError(t, err)
			assert.Equal(t, uint32(5), stored.SignatureCounter)
		})
	}
}

func TestCeremony_SignatureVerificationFailure(t *testing.T) {
	f := newCeremonyFixture(t, stubVerifier{err: ErrVerificationFailed})
	ctx := context.Background()

	cred := f.register(t, testUserID)
	response := f.assertionResponse(t, testUserID, cred.CredentialID, 1)

	_, err := f.ceremony.CompleteAuthentication(ctx, testUserID, response)
	assert.ErrorIs(t, err, ErrVerificationFailed)

	// A failed verification still consumed the challenge.
	_, err = f.ceremony.CompleteAuthentication(ctx, testUserID, response)
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestCeremony_UnknownCredential(t *testing.T) {
	f := newCeremonyFixture(t, stubVerifier{})

	_, err := f.ceremony.CompleteAuthentication(context.Background(), testUserID, &AuthenticationResponse{
		CredentialID: "unknown",
	})
	assert.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestCeremony_CredentialOwnedByOtherUser(t *testing.T) {
	f := newCeremonyFixture(t, stubVerifier{})
	ctx := context.Background()

	cred := f.register(t, testUserID)
	f.register(t, "u2")

	response := f.assertionResponse(t, "u2", cred.CredentialID, 1)
	_, err := f.ceremony.CompleteAuthentication(ctx, "u2", response)
	assert.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestCeremony_BeginAuthenticationNoCredentials(t *testing.T) {
	f := newCeremonyFixture(t, stubVerifier{})

	_, err := f.ceremony.BeginAuthentication(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestCeremony_BeginAuthenticationAllowList(t *testing.T) {
	f := newCeremonyFixture(t, stubVerifier{})
	ctx := context.Background()

	cred := f.register(t, testUserID)

	options, err := f.ceremony.BeginAuthentication(ctx, testUserID)
	require.NoError(t, err)
	require.Len(t, options.Response.AllowedCredentials, 1)

	expected, err := base64.RawURLEncoding.DecodeString(cred.CredentialID)
	require.NoError(t, err)
	assert.Equal(t, expected, []byte(options.Response.AllowedCredentials[0].CredentialID))
}

// flakyWriteStore fails writes on demand while leaving reads intact.
type flakyWriteStore struct {
	storage.Storer
	failWrites bool
}

func (s *flakyWriteStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s.failWrites {
		return errors.New("connection refused")
	}
	return s.Storer.Set(ctx, key, value, ttl)
}

// newOutageFixture keeps credentials on a write-failing store while
// challenges live on a healthy one, so only credential writes can fail.
func newOutageFixture(t *testing.T) (*Ceremony, *flakyWriteStore) {
	t.Helper()

	credStore := &flakyWriteStore{Storer: storage.NewMemoryStore()}
	ceremony, err := NewCeremony(&CeremonyParams{
		Config: &Config{
			RPID:          "example.com",
			RPDisplayName: "Example",
			RPOrigins:     []string{testOrigin},
		},
		Challenges: NewChallengeStore(storage.NewMemoryStore(), 5*time.Minute),
		Registry:   NewCredentialRegistry(credStore),
		Verifier:   stubVerifier{},
		Auditor:    audit.NewMemoryAuditor(),
	})
	require.NoError(t, err)
	return ceremony, credStore
}

func TestCeremony_RegistrationRetriesAfterStoreOutage(t *testing.T) {
	ceremony, credStore := newOutageFixture(t)
	ctx := context.Background()

	options, err := ceremony.BeginRegistration(ctx, testUserID, "u1@example.com", "")
	require.NoError(t, err)

	response := &RegistrationResponse{
		CredentialID: "cred-" + testUserID,
		PublicKey:    []byte{0xa5, 0x01, 0x02},
		ClientData: ClientData{
			Type:      "webauthn.create",
			Challenge: challengeFromOptions(options.Response.Challenge),
			Origin:    testOrigin,
		},
	}

	credStore.failWrites = true
	_, err = ceremony.CompleteRegistration(ctx, testUserID, response)
	require.ErrorIs(t, err, ErrStoreUnavailable)

	// The outage left the challenge in place, so the same response can be
	// retried once the store is back.
	credStore.failWrites = false
	cred, err := ceremony.CompleteRegistration(ctx, testUserID, response)
	require.NoError(t, err)
	assert.Equal(t, "cred-"+testUserID, cred.CredentialID)
}

func TestCeremony_AuthenticationRetriesAfterStoreOutage(t *testing.T) {
	ceremony, credStore := newOutageFixture(t)
	ctx := context.Background()

	regOptions, err := ceremony.BeginRegistration(ctx, testUserID, "u1@example.com", "")
	require.NoError(t, err)
	cred, err := ceremony.CompleteRegistration(ctx, testUserID, &RegistrationResponse{
		CredentialID: "cred-" + testUserID,
		PublicKey:    []byte{0xa5, 0x01, 0x02},
		ClientData: ClientData{
			Type:      "webauthn.create",
			Challenge: challengeFromOptions(regOptions.Response.Challenge),
			Origin:    testOrigin,
		},
	})
	require.NoError(t, err)

	options, err := ceremony.BeginAuthentication(ctx, testUserID)
	require.NoError(t, err)
	response := &AuthenticationResponse{
		CredentialID: cred.CredentialID,
		ClientData: ClientData{
			Type:      "webauthn.get",
			Challenge: challengeFromOptions(options.Response.Challenge),
			Origin:    testOrigin,
		},
		Counter: 1,
	}

	// The counter update cannot be persisted, so the assertion fails
	// without consuming the challenge.
	credStore.failWrites = true
	_, err = ceremony.CompleteAuthentication(ctx, testUserID, response)
	require.ErrorIs(t, err, ErrStoreUnavailable)

	credStore.failWrites = false
	verified, err := ceremony.CompleteAuthentication(ctx, testUserID, response)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), verified.SignatureCounter)
}

func TestCeremony_RegistrationExcludeList(t *testing.T) {
	f := newCeremonyFixture(t, stubVerifier{})
	ctx := context.Background()

	f.register(t, testUserID)

	options, err := f.ceremony.BeginRegistration(ctx, testUserID, "u1@example.com", "")
	require.NoError(t, err)
	assert.Len(t, options.Response.CredentialExcludeList, 1)
}
