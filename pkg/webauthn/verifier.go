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
	"crypto/sha256"

	"github.com/go-webauthn/webauthn/protocol/webauthncose"
)

// AssertionVerifier verifies an assertion signature against a stored
// credential's public key.
type AssertionVerifier interface {
	Verify(credential *StoredCredential, response *AuthenticationResponse) error
}

// COSEVerifier verifies assertion signatures using the credential's COSE
// public key. The signature base is authenticatorData followed by the
// SHA-256 hash of clientDataJSON.
type COSEVerifier struct{}

// NewCOSEVerifier creates the default assertion verifier.
func NewCOSEVerifier() *COSEVerifier {
	return &COSEVerifier{}
}

// Verify checks the assertion signature.
func (v *COSEVerifier) Verify(credential *StoredCredential, response *AuthenticationResponse) error {
	key, err := webauthncose.ParsePublicKey(credential.PublicKey)
	if err != nil {
		return wrapError("parse credential public key", ErrVerificationFailed)
	}

	clientDataHash := sha256.Sum256(response.ClientDataJSON)
	signatureBase := make([]byte, 0, len(response.AuthenticatorData)+len(clientDataHash))
	signatureBase = append(signatureBase, response.AuthenticatorData...)
	signatureBase = append(signatureBase, clientDataHash[:]...)

	valid, err := webauthncose.VerifySignature(key, signatureBase, response.Signature)
	if err != nil || !valid {
		return ErrVerificationFailed
	}
	return nil
}
