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

// Package token issues and verifies the signed credentials of the
// authentication subsystem: short-lived access tokens, longer-lived
// refresh tokens, and purpose-scoped one-time tokens. All operations are
// pure functions over immutable configuration and are safe for unbounded
// concurrent use.
package token

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinSecretLength is the minimum length in bytes for signing secrets.
const MinSecretLength = 32

// Default token lifetimes.
const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// Config configures the token service.
type Config struct {
	// AccessSecret signs access and purpose tokens (required, >= 32 bytes).
	AccessSecret []byte

	// RefreshSecret signs refresh tokens (required, >= 32 bytes, must
	// differ from AccessSecret).
	RefreshSecret []byte

	// Issuer is the mandatory iss claim.
	Issuer string

	// Audience is the mandatory aud claim.
	Audience string

	// AccessTTL is the access token lifetime (default: 15 minutes).
	AccessTTL time.Duration

	// RefreshTTL is the refresh token lifetime (default: 7 days).
	RefreshTTL time.Duration

	// Clock overrides the time source. Intended for tests.
	Clock func() time.Time
}

// Service signs and verifies tokens. Stateless and safe for concurrent use.
type Service struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	audience      string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	clock         func() time.Time
}

// NewService creates a token service, rejecting weak or incomplete
// configuration at construction.
func NewService(config *Config) (*Service, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if len(config.AccessSecret) < MinSecretLength {
		return nil, fmt.Errorf("access secret must be at least %d bytes", MinSecretLength)
	}
	if len(config.RefreshSecret) < MinSecretLength {
		return nil, fmt.Errorf("refresh secret must be at least %d bytes", MinSecretLength)
	}
	if len(config.AccessSecret) == len(config.RefreshSecret) &&
		subtle.ConstantTimeCompare(config.AccessSecret, config.RefreshSecret) == 1 {
		return nil, fmt.Errorf("access and refresh secrets must differ")
	}
	if config.Issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}
	if config.Audience == "" {
		return nil, fmt.Errorf("audience is required")
	}

	accessTTL := config.AccessTTL
	if accessTTL == 0 {
		accessTTL = DefaultAccessTTL
	}
	refreshTTL := config.RefreshTTL
	if refreshTTL == 0 {
		refreshTTL = DefaultRefreshTTL
	}
	clock := config.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Service{
		accessSecret:  config.AccessSecret,
		refreshSecret: config.RefreshSecret,
		issuer:        config.Issuer,
		audience:      config.Audience,
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		clock:         clock,
	}, nil
}

// IssuePair signs a new access/refresh token pair for the payload. Both
// tokens share one jti so the pair remains correlatable for revocation
// bookkeeping.
func (s *Service) IssuePair(payload Payload) (*Pair, error) {
	now := s.clock()
	tokenID := uuid.NewString()
	accessExpiry := now.Add(s.accessTTL)
	refreshExpiry := now.Add(s.refreshTTL)

	accessToken, err := s.signAccess(&accessClaims{
		RegisteredClaims: s.registered(payload.SubjectID, tokenID, now, accessExpiry),
		Email:            payload.Email,
		Roles:            payload.Roles,
		Permissions:      payload.Permissions,
		SessionID:        payload.SessionID,
		TokenType:        TypeAccess,
	})
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refreshToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &refreshClaims{
		RegisteredClaims: s.registered(payload.SubjectID, tokenID, now, refreshExpiry),
		SessionID:        payload.SessionID,
		TokenType:        TypeRefresh,
	}).SignedString(s.refreshSecret)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	return &Pair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExpiry,
		RefreshExpiresAt: refreshExpiry,
	}, nil
}

// VerifyAccessToken verifies signature, issuer, audience, and expiry of an
// access token and returns its payload. Fails with ErrTokenWrongType for
// any non-access token, including purpose tokens.
func (s *Service) VerifyAccessToken(tokenString string) (*Payload, error) {
	claims, err := s.parseAccessSigned(tokenString)
	if err != nil {
		// A token validly signed with the refresh secret is a wrong-type
		// presentation, not a forgery.
		if errors.Is(err, ErrTokenMalformed) && s.parse(tokenString, &refreshClaims{}, s.refreshSecret) == nil {
			return nil, ErrTokenWrongType
		}
		return nil, err
	}
	if claims.TokenType != TypeAccess {
		return nil, ErrTokenWrongType
	}
	return &Payload{
		SubjectID:   claims.Subject,
		Email:       claims.Email,
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
		SessionID:   claims.SessionID,
	}, nil
}

// VerifyRefreshToken verifies a refresh token against the refresh secret.
func (s *Service) VerifyRefreshToken(tokenString string) (*RefreshData, error) {
	claims := &refreshClaims{}
	if err := s.parse(tokenString, claims, s.refreshSecret); err != nil {
		if errors.Is(err, ErrTokenMalformed) && s.parse(tokenString, &accessClaims{}, s.accessSecret) == nil {
			return nil, ErrTokenWrongType
		}
		return nil, err
	}
	if claims.TokenType != TypeRefresh {
		return nil, ErrTokenWrongType
	}
	return &RefreshData{
		SubjectID: claims.Subject,
		SessionID: claims.SessionID,
		TokenID:   claims.ID,
	}, nil
}

// RefreshAccessToken verifies a refresh token and reissues an access token
// for the payload. The new access token reuses the refresh token's jti so
// both remain correlatable. The payload subject must match the refresh
// token's subject.
func (s *Service) RefreshAccessToken(refreshToken string, payload Payload) (string, error) {
	refresh, err := s.VerifyRefreshToken(refreshToken)
	if err != nil {
		return "", err
	}
	if refresh.SubjectID != payload.SubjectID {
		return "", ErrSubjectMismatch
	}

	now := s.clock()
	accessToken, err := s.signAccess(&accessClaims{
		RegisteredClaims: s.registered(payload.SubjectID, refresh.TokenID, now, now.Add(s.accessTTL)),
		Email:            payload.Email,
		Roles:            payload.Roles,
		Permissions:      payload.Permissions,
		SessionID:        payload.SessionID,
		TokenType:        TypeAccess,
	})
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return accessToken, nil
}

// IssuePurposeToken signs a single-purpose token (password reset, email
// verification) with the access secret and type "purpose:<name>".
func (s *Service) IssuePurposeToken(subjectID, email, purpose string, ttl time.Duration) (string, error) {
	if purpose == "" {
		return "", fmt.Errorf("purpose is required")
	}
	now := s.clock()
	return s.signAccess(&accessClaims{
		RegisteredClaims: s.registered(subjectID, uuid.NewString(), now, now.Add(ttl)),
		Email:            email,
		TokenType:        purposePrefix + purpose,
		Purpose:          purpose,
	})
}

// VerifyPurposeToken verifies a purpose token and rejects any purpose
// other than the expected one.
func (s *Service) VerifyPurposeToken(tokenString, purpose string) (*PurposeData, error) {
	claims, err := s.parseAccessSigned(tokenString)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(claims.TokenType, purposePrefix) {
		return nil, ErrTokenWrongType
	}
	if claims.TokenType != purposePrefix+purpose || claims.Purpose != purpose {
		return nil, ErrTokenWrongPurpose
	}
	return &PurposeData{
		SubjectID: claims.Subject,
		Email:     claims.Email,
	}, nil
}

// AccessTTL returns the configured access token lifetime.
func (s *Service) AccessTTL() time.Duration {
	return s.accessTTL
}

// RefreshTTL returns the configured refresh token lifetime.
func (s *Service) RefreshTTL() time.Duration {
	return s.refreshTTL
}

func (s *Service) registered(subject, tokenID string, now, expiry time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Audience:  jwt.ClaimStrings{s.audience},
		Subject:   subject,
		ID:        tokenID,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiry),
	}
}

func (s *Service) signAccess(claims *accessClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.accessSecret)
}

func (s *Service) parseAccessSigned(tokenString string) (*accessClaims, error) {
	claims := &accessClaims{}
	if err := s.parse(tokenString, claims, s.accessSecret); err != nil {
		return nil, err
	}
	return claims, nil
}

// parse verifies signature, issuer, audience, and time claims, and
// classifies every failure as expired or malformed.
func (s *Service) parse(tokenString string, claims jwt.Claims, secret []byte) error {
	parsed, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return ErrTokenMalformed
	}
	if !parsed.Valid {
		return ErrTokenMalformed
	}
	return nil
}
