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
	"io"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
)

// CeremonyType distinguishes the two ceremony state machines.
type CeremonyType string

const (
	// CeremonyRegistration is the credential registration ceremony.
	CeremonyRegistration CeremonyType = "registration"

	// CeremonyAuthentication is the assertion ceremony.
	CeremonyAuthentication CeremonyType = "authentication"
)

// clientDataType returns the client data type literal the browser reports
// for this ceremony.
func (t CeremonyType) clientDataType() string {
	if t == CeremonyRegistration {
		return string(protocol.CreateCeremony)
	}
	return string(protocol.AssertCeremony)
}

// Challenge is a single-use cryptographic challenge bound to one ceremony
// attempt. It must be deleted upon consumption, successful or not.
type Challenge struct {
	// Value is the base64url-encoded challenge, at least 256 bits of
	// entropy.
	Value string `json:"value"`

	// SubjectID is the user the ceremony is for, or "anonymous" for
	// usernameless authentication.
	SubjectID string `json:"subject_id"`

	// CeremonyType is registration or authentication.
	CeremonyType CeremonyType `json:"ceremony_type"`

	// ExpiresAt is when the challenge becomes invalid.
	ExpiresAt time.Time `json:"expires_at"`
}

// StoredCredential is a registered public-key credential.
type StoredCredential struct {
	// CredentialID is the base64url-encoded credential identifier
	// assigned by the authenticator.
	CredentialID string `json:"credential_id"`

	// UserID is the owning user.
	UserID string `json:"user_id"`

	// PublicKey is the credential's public key in COSE format.
	PublicKey []byte `json:"public_key"`

	// SignatureCounter is the last verified signature counter. It is
	// non-decreasing across verified authentications; a received counter
	// at or below this value signals credential cloning.
	SignatureCounter uint32 `json:"signature_counter"`

	// Transports lists the transports reported by the authenticator.
	Transports []string `json:"transports,omitempty"`

	// CreatedAt is when the credential was registered.
	CreatedAt time.Time `json:"created_at"`

	// LastUsedAt is when the credential last completed an authentication.
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
}

// ClientData is the client-asserted ceremony binding decoded from the
// authenticator response's clientDataJSON.
type ClientData struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Origin    string `json:"origin"`
}

// RegistrationResponse is the authenticator's response to a registration
// ceremony, reduced to the fields the ceremony verifies and persists.
type RegistrationResponse struct {
	// CredentialID is the base64url-encoded credential id.
	CredentialID string

	// PublicKey is the attested public key in COSE format.
	PublicKey []byte

	// ClientData is decoded from the response's clientDataJSON.
	ClientData ClientData

	// Transports lists the transports reported by the authenticator.
	Transports []string
}

// AuthenticationResponse is the authenticator's assertion, reduced to the
// fields the ceremony verifies.
type AuthenticationResponse struct {
	// CredentialID is the base64url-encoded credential id.
	CredentialID string

	// ClientData is decoded from the response's clientDataJSON.
	ClientData ClientData

	// ClientDataJSON is the raw client data, part of the signature base.
	ClientDataJSON []byte

	// AuthenticatorData is the raw authenticator data, part of the
	// signature base.
	AuthenticatorData []byte

	// Signature is the assertion signature over
	// authenticatorData || sha256(clientDataJSON).
	Signature []byte

	// Counter is the signature counter the authenticator reported.
	Counter uint32

	// UserHandle is the user handle for discoverable credentials, if the
	// authenticator returned one.
	UserHandle []byte
}

// ParseRegistrationResponse decodes a browser registration response body
// into the ceremony's reduced form.
func ParseRegistrationResponse(body io.Reader) (*RegistrationResponse, error) {
	parsed, err := protocol.ParseCredentialCreationResponseBody(body)
	if err != nil {
		return nil, wrapError("parse registration response", ErrInvalidResponse)
	}

	attData := parsed.Response.AttestationObject.AuthData.AttData
	transports := make([]string, 0, len(parsed.Response.Transports))
	for _, t := range parsed.Response.Transports {
		transports = append(transports, string(t))
	}

	return &RegistrationResponse{
		CredentialID: parsed.ID,
		PublicKey:    attData.CredentialPublicKey,
		ClientData: ClientData{
			Type:      string(parsed.Response.CollectedClientData.Type),
			Challenge: parsed.Response.CollectedClientData.Challenge,
			Origin:    parsed.Response.CollectedClientData.Origin,
		},
		Transports: transports,
	}, nil
}

// ParseAuthenticationResponse decodes a browser assertion response body
// into the ceremony's reduced form.
func ParseAuthenticationResponse(body io.Reader) (*AuthenticationResponse, error) {
	parsed, err := protocol.ParseCredentialRequestResponseBody(body)
	if err != nil {
		return nil, wrapError("parse authentication response", ErrInvalidResponse)
	}

	return &AuthenticationResponse{
		CredentialID: parsed.ID,
		ClientData: ClientData{
			Type:      string(parsed.Response.CollectedClientData.Type),
			Challenge: parsed.Response.CollectedClientData.Challenge,
			Origin:    parsed.Response.CollectedClientData.Origin,
		},
		ClientDataJSON:    parsed.Raw.AssertionResponse.ClientDataJSON,
		AuthenticatorData: parsed.Raw.AssertionResponse.AuthenticatorData,
		Signature:         parsed.Response.Signature,
		Counter:           parsed.Response.AuthenticatorData.Counter,
		UserHandle:        parsed.Response.UserHandle,
	}, nil
}
