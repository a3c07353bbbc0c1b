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

package token

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testAccessSecret  = bytes.Repeat([]byte("a"), MinSecretLength)
	testRefreshSecret = bytes.Repeat([]byte("r"), MinSecretLength)
)

// fakeClock is an adjustable time source for expiry tests.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestService(t *testing.T, clock *fakeClock) *Service {
	t.Helper()
	cfg := &Config{
		AccessSecret:  testAccessSecret,
		RefreshSecret: testRefreshSecret,
		Issuer:        "authguard",
		Audience:      "authguard-api",
	}
	if clock != nil {
		cfg.Clock = clock.Now
	}
	svc, err := NewService(cfg)
	require.NoError(t, err)
	return svc
}

func testPayload() Payload {
	return Payload{
		SubjectID:   "u1",
		Email:       "u1@example.com",
		Roles:       []string{"user"},
		Permissions: []string{"tasks:read"},
		SessionID:   "s1",
	}
}

func TestNewService_ConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr string
	}{
		{
			name:    "nil config",
			config:  nil,
			wantErr: "config is required",
		},
		{
			name: "short access secret",
			config: &Config{
				AccessSecret:  []byte("short"),
				RefreshSecret: testRefreshSecret,
				Issuer:        "i",
				Audience:      "a",
			},
			wantErr: "access secret",
		},
		{
			name: "short refresh secret",
			config: &Config{
				AccessSecret:  testAccessSecret,
				RefreshSecret: []byte("short"),
				Issuer:        "i",
				Audience:      "a",
			},
			wantErr: "refresh secret",
		},
		{
			name: "identical secrets",
			config: &Config{
				AccessSecret:  testAccessSecret,
				RefreshSecret: testAccessSecret,
				Issuer:        "i",
				Audience:      "a",
			},
			wantErr: "must differ",
		},
		{
			name: "missing issuer",
			config: &Config{
				AccessSecret:  testAccessSecret,
				RefreshSecret: testRefreshSecret,
				Audience:      "a",
			},
			wantErr: "issuer is required",
		},
		{
			name: "missing audience",
			config: &Config{
				AccessSecret:  testAccessSecret,
				RefreshSecret: testRefreshSecret,
				Issuer:        "i",
			},
			wantErr: "audience is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewService(tt.config)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestIssuePair_RoundTrip(t *testing.T) {
	svc := newTestService(t, nil)
	payload := testPayload()

	pair, err := svc.IssuePair(payload)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.True(t, pair.RefreshExpiresAt.After(pair.AccessExpiresAt))

	decoded, err := svc.VerifyAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, &payload, decoded)
}

func TestVerify_TypeIsolation(t *testing.T) {
	svc := newTestService(t, nil)
	pair, err := svc.IssuePair(testPayload())
	require.NoError(t, err)

	// A refresh token never verifies as an access token, and vice versa.
	_, err = svc.VerifyAccessToken(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenWrongType)

	_, err = svc.VerifyRefreshToken(pair.AccessToken)
	assert.ErrorIs(t, err, ErrTokenWrongType)
}

func TestVerifyAccessToken_WrongTypeSameSecret(t *testing.T) {
	svc := newTestService(t, nil)

	// Purpose tokens are signed with the access secret but carry a
	// purpose type, so the type discriminator is what rejects them.
	purposeToken, err := svc.IssuePurposeToken("u1", "u1@example.com", PurposePasswordReset, time.Hour)
	require.NoError(t, err)

	_, err = svc.VerifyAccessToken(purposeToken)
	assert.ErrorIs(t, err, ErrTokenWrongType)
}

func TestVerifyAccessToken_Malformed(t *testing.T) {
	svc := newTestService(t, nil)

	_, err := svc.VerifyAccessToken("not-a-token")
	assert.ErrorIs(t, err, ErrTokenMalformed)

	// Token signed by a different service (different secret).
	other, err := NewService(&Config{
		AccessSecret:  bytes.Repeat([]byte("x"), MinSecretLength),
		RefreshSecret: testRefreshSecret,
		Issuer:        "authguard",
		Audience:      "authguard-api",
	})
	require.NoError(t, err)
	pair, err := other.IssuePair(testPayload())
	require.NoError(t, err)

	_, err = svc.VerifyAccessToken(pair.AccessToken)
	assert.ErrorIs(t, err, ErrTokenMalformed)
}

func TestVerifyAccessToken_Expired(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	svc := newTestService(t, clock)

	pair, err := svc.IssuePair(testPayload())
	require.NoError(t, err)

	clock.Advance(DefaultAccessTTL + time.Minute)

	_, err = svc.VerifyAccessToken(pair.AccessToken)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestRefreshAccessToken_LoginThenRefresh(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	svc := newTestService(t, clock)
	payload := testPayload()

	pair, err := svc.IssuePair(payload)
	require.NoError(t, err)

	// Past access expiry but inside the refresh window.
	clock.Advance(DefaultAccessTTL + time.Minute)
	_, err = svc.VerifyAccessToken(pair.AccessToken)
	require.ErrorIs(t, err, ErrTokenExpired)

	accessToken, err := svc.RefreshAccessToken(pair.RefreshToken, payload)
	require.NoError(t, err)

	decoded, err := svc.VerifyAccessToken(accessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", decoded.SubjectID)
	assert.Equal(t, "s1", decoded.SessionID)
}

func TestRefreshAccessToken_SubjectMismatch(t *testing.T) {
	svc := newTestService(t, nil)

	pair, err := svc.IssuePair(testPayload())
	require.NoError(t, err)

	other := testPayload()
	other.SubjectID = "u2"
	_, err = svc.RefreshAccessToken(pair.RefreshToken, other)
	assert.ErrorIs(t, err, ErrSubjectMismatch)
}

func TestRefreshAccessToken_ExpiredRefresh(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	svc := newTestService(t, clock)
	payload := testPayload()

	pair, err := svc.IssuePair(payload)
	require.NoError(t, err)

	clock.Advance(DefaultRefreshTTL + time.Minute)

	_, err = svc.RefreshAccessToken(pair.RefreshToken, payload)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestPurposeToken_RoundTrip(t *testing.T) {
	svc := newTestService(t, nil)

	tok, err := svc.IssuePurposeToken("u1", "u1@example.com", PurposePasswordReset, time.Hour)
	require.NoError(t, err)

	data, err := svc.VerifyPurposeToken(tok, PurposePasswordReset)
	require.NoError(t, err)
	assert.Equal(t, "u1", data.SubjectID)
	assert.Equal(t, "u1@example.com", data.Email)
}

func TestPurposeToken_WrongPurpose(t *testing.T) {
	svc := newTestService(t, nil)

	tok, err := svc.IssuePurposeToken("u1", "u1@example.com", PurposePasswordReset, time.Hour)
	require.NoError(t, err)

	_, err = svc.VerifyPurposeToken(tok, PurposeEmailVerification)
	assert.ErrorIs(t, err, ErrTokenWrongPurpose)
}

func TestVerifyPurposeToken_RejectsAccessToken(t *testing.T) {
	svc := newTestService(t, nil)

	pair, err := svc.IssuePair(testPayload())
	require.NoError(t, err)

	_, err = svc.VerifyPurposeToken(pair.AccessToken, PurposePasswordReset)
	assert.ErrorIs(t, err, ErrTokenWrongType)
}

func TestPurposeToken_Expired(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	svc := newTestService(t, clock)

	tok, err := svc.IssuePurposeToken("u1", "u1@example.com", PurposeEmailVerification, time.Minute)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)

	_, err = svc.VerifyPurposeToken(tok, PurposeEmailVerification)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestIssuePair_SharedTokenID(t *testing.T) {
	svc := newTestService(t, nil)
	payload := testPayload()

	pair, err := svc.IssuePair(payload)
	require.NoError(t, err)

	refresh, err := svc.VerifyRefreshToken(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", refresh.SubjectID)
	assert.Equal(t, "s1", refresh.SessionID)
	assert.NotEmpty(t, refresh.TokenID)
}
