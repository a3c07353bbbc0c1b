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
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"

	"github.com/jeremyhahn/go-authguard/pkg/adapters/audit"
	"github.com/jeremyhahn/go-authguard/pkg/adapters/logger"
)

// Ceremony runs the registration and authentication state machines over
// the challenge store and credential registry. Both ceremonies follow
// Idle, ChallengeIssued, then Verified or Rejected; a challenge is
// consumed by exactly one completion attempt.
type Ceremony struct {
	config     *Config
	challenges *ChallengeStore
	registry   *CredentialRegistry
	verifier   AssertionVerifier
	auditor    audit.Auditor
	log        logger.Logger
	clock      func() time.Time
}

// CeremonyParams holds the dependencies for NewCeremony.
type CeremonyParams struct {
	// Config is the relying party configuration. Required.
	Config *Config

	// Challenges is the single-use challenge store. Required.
	Challenges *ChallengeStore

	// Registry is the credential registry. Required.
	Registry *CredentialRegistry

	// Verifier checks assertion signatures. Defaults to COSEVerifier.
	Verifier AssertionVerifier

	// Auditor receives security audit events. Optional.
	Auditor audit.Auditor

	// Logger is optional.
	Logger logger.Logger

	// Clock overrides the time source. Intended for tests.
	Clock func() time.Time
}

// NewCeremony creates a ceremony runner from the given dependencies.
func NewCeremony(params *CeremonyParams) (*Ceremony, error) {
	if params == nil {
		return nil, fmt.Errorf("params are required")
	}
	if params.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	params.Config.SetDefaults()
	if err := params.Config.Validate(); err != nil {
		return nil, err
	}
	if params.Challenges == nil {
		return nil, fmt.Errorf("challenge store is required")
	}
	if params.Registry == nil {
		return nil, fmt.Errorf("credential registry is required")
	}

	verifier := params.Verifier
	if verifier == nil {
		verifier = NewCOSEVerifier()
	}
	log := params.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Ceremony{
		config:     params.Config,
		challenges: params.Challenges,
		registry:   params.Registry,
		verifier:   verifier,
		auditor:    params.Auditor,
		log:        log,
		clock:      clock,
	}, nil
}

// BeginRegistration issues a registration challenge and returns the
// credential creation options for the client, excluding the user's
// already-registered credential ids.
func (c *Ceremony) BeginRegistration(ctx context.Context, userID, username, displayName string) (*protocol.CredentialCreation, error) {
	if userID == "" {
		return nil, wrapError("begin registration", fmt.Errorf("user id is required"))
	}

	existing, err := c.registry.UserCredentials(ctx, userID)
	if err != nil {
		return nil, wrapError("begin registration", err)
	}

	challenge, err := c.challenges.Issue(ctx, CeremonyRegistration, userID)
	if err != nil {
		return nil, wrapError("begin registration", err)
	}
	challengeBytes, err := base64.RawURLEncoding.DecodeString(challenge.Value)
	if err != nil {
		return nil, wrapError("begin registration", err)
	}

	if displayName == "" {
		displayName = username
	}

	options := protocol.PublicKeyCredentialCreationOptions{
		Challenge: challengeBytes,
		RelyingParty: protocol.RelyingPartyEntity{
			CredentialEntity: protocol.CredentialEntity{Name: c.config.RPDisplayName},
			ID:               c.config.RPID,
		},
		User: protocol.UserEntity{
			CredentialEntity: protocol.CredentialEntity{Name: username},
			DisplayName:      displayName,
			ID:               []byte(userID),
		},
		Parameters: credentialParameters(),
		Timeout:    int(c.config.Timeout.Milliseconds()),
		AuthenticatorSelection: protocol.AuthenticatorSelection{
			UserVerification: c.config.userVerification(),
		},
		CredentialExcludeList: descriptors(existing),
	}

	return &protocol.CredentialCreation{Response: options}, nil
}

// CompleteRegistration verifies the authenticator's registration response
// against the pending challenge and persists the new credential with a
// zero signature counter. The challenge is consumed whether verification
// succeeds or fails, but survives a store outage so the ceremony can be
// retried.
func (c *Ceremony) CompleteRegistration(ctx context.Context, userID string, response *RegistrationResponse) (cred *StoredCredential, err error) {
	const op = "complete registration"

	challenge, err := c.challenges.Get(ctx, CeremonyRegistration, userID)
	if err != nil {
		return nil, wrapError(op, err)
	}
	defer func() {
		if errors.Is(err, ErrStoreUnavailable) {
			return
		}
		c.consumeChallenge(ctx, CeremonyRegistration, userID)
	}()

	if err := c.verifyClientData(CeremonyRegistration, challenge, &response.ClientData); err != nil {
		return nil, wrapError(op, err)
	}
	if len(response.PublicKey) == 0 || response.CredentialID == "" {
		return nil, wrapError(op, ErrInvalidResponse)
	}

	cred = &StoredCredential{
		CredentialID:     response.CredentialID,
		UserID:           userID,
		PublicKey:        response.PublicKey,
		SignatureCounter: 0,
		Transports:       response.Transports,
		CreatedAt:        c.clock(),
	}
	if err := c.registry.Save(ctx, cred); err != nil {
		return nil, wrapError(op, err)
	}

	c.audit(ctx, &audit.Event{
		EventType: audit.EventWebAuthnRegister,
		Severity:  audit.SeverityInfo,
		Outcome:   audit.OutcomeSuccess,
		UserID:    userID,
		Action:    "webauthn registration",
		Metadata:  map[string]interface{}{"credential_id": cred.CredentialID},
	})
	c.log.Info("registered webauthn credential",
		logger.String("user_id", userID),
		logger.String("credential_id", cred.CredentialID))
	return cred, nil
}

// BeginAuthentication issues an authentication challenge. With a user id,
// the allow list is restricted to that user's registered credentials;
// without one the ceremony is usernameless and the allow list is empty.
func (c *Ceremony) BeginAuthentication(ctx context.Context, userID string) (*protocol.CredentialAssertion, error) {
	var allowed []protocol.CredentialDescriptor
	if userID != "" {
		creds, err := c.registry.UserCredentials(ctx, userID)
		if err != nil {
			return nil, wrapError("begin authentication", err)
		}
		if len(creds) == 0 {
			return nil, wrapError("begin authentication", ErrNoCredentials)
		}
		allowed = descriptors(creds)
	}

	challenge, err := c.challenges.Issue(ctx, CeremonyAuthentication, userID)
	if err != nil {
		return nil, wrapError("begin authentication", err)
	}
	challengeBytes, err := base64.RawURLEncoding.DecodeString(challenge.Value)
	if err != nil {
		return nil, wrapError("begin authentication", err)
	}

	options := protocol.PublicKeyCredentialRequestOptions{
		Challenge:          challengeBytes,
		Timeout:            int(c.config.Timeout.Milliseconds()),
		RelyingPartyID:     c.config.RPID,
		AllowedCredentials: allowed,
		UserVerification:   c.config.userVerification(),
	}

	return &protocol.CredentialAssertion{Response: options}, nil
}

// CompleteAuthentication verifies an assertion against the pending
// challenge and the stored credential. The signature counter must be
// strictly greater than the stored value; a non-increasing counter is
// the cloned authenticator signal and fails hard. On success the stored
// counter and last-used time are updated. As with registration, a store
// outage leaves the challenge in place for a retry.
func (c *Ceremony) CompleteAuthentication(ctx context.Context, userID string, response *AuthenticationResponse) (cred *StoredCredential, err error) {
	const op = "complete authentication"

	cred, err = c.registry.Get(ctx, response.CredentialID)
	if err != nil {
		return nil, wrapError(op, err)
	}
	if userID != "" && cred.UserID != userID {
		return nil, wrapError(op, ErrCredentialNotFound)
	}

	challenge, err := c.challenges.Get(ctx, CeremonyAuthentication, userID)
	if err != nil {
		return nil, wrapError(op, err)
	}
	defer func() {
		if errors.Is(err, ErrStoreUnavailable) {
			return
		}
		c.consumeChallenge(ctx, CeremonyAuthentication, userID)
	}()

	if err := c.verifyClientData(CeremonyAuthentication, challenge, &response.ClientData); err != nil {
		return nil, wrapError(op, err)
	}

	if response.Counter <= cred.SignatureCounter {
		c.audit(ctx, &audit.Event{
			EventType: audit.EventWebAuthnCounterRegression,
			Severity:  audit.SeverityCritical,
			Outcome:   audit.OutcomeDenied,
			UserID:    cred.UserID,
			Action:    "webauthn authentication",
			Result:    "possible cloned credential",
			Metadata: map[string]interface{}{
				"credential_id":    cred.CredentialID,
				"stored_counter":   cred.SignatureCounter,
				"received_counter": response.Counter,
			},
		})
		c.log.Error("signature counter regression, possible cloned credential",
			logger.String("user_id", cred.UserID),
			logger.String("credential_id", cred.CredentialID),
			logger.Any("stored_counter", cred.SignatureCounter),
			logger.Any("received_counter", response.Counter))
		return nil, wrapError(op, ErrCounterRegression)
	}

	if err := c.verifier.Verify(cred, response); err != nil {
		return nil, wrapError(op, err)
	}

	cred.SignatureCounter = response.Counter
	cred.LastUsedAt = c.clock()
	if err := c.registry.Update(ctx, cred); err != nil {
		return nil, wrapError(op, err)
	}

	c.audit(ctx, &audit.Event{
		EventType: audit.EventWebAuthnAuthenticate,
		Severity:  audit.SeverityInfo,
		Outcome:   audit.OutcomeSuccess,
		UserID:    cred.UserID,
		Action:    "webauthn authentication",
		Metadata:  map[string]interface{}{"credential_id": cred.CredentialID},
	})
	return cred, nil
}

// verifyClientData requires exact equality of the asserted ceremony type,
// challenge, and origin against the stored challenge and configuration.
func (c *Ceremony) verifyClientData(ceremonyType CeremonyType, challenge *Challenge, clientData *ClientData) error {
	if clientData.Type != ceremonyType.clientDataType() {
		return ErrCeremonyTypeMismatch
	}
	if clientData.Challenge != challenge.Value {
		return ErrChallengeMismatch
	}
	if !c.config.allowedOrigin(clientData.Origin) {
		return ErrOriginMismatch
	}
	return nil
}

// consumeChallenge deletes a challenge after a completion attempt. Failure
// to delete is logged, not surfaced: the completion outcome already stands.
func (c *Ceremony) consumeChallenge(ctx context.Context, ceremonyType CeremonyType, subjectID string) {
	if err := c.challenges.Delete(ctx, ceremonyType, subjectID); err != nil {
		c.log.Warn("failed to consume challenge",
			logger.String("ceremony_type", string(ceremonyType)),
			logger.Error(err))
	}
}

func (c *Ceremony) audit(ctx context.Context, event *audit.Event) {
	if c.auditor == nil {
		return
	}
	if err := c.auditor.LogEvent(ctx, event); err != nil {
		c.log.Warn("failed to record audit event",
			logger.String("event_type", string(event.EventType)),
			logger.Error(err))
	}
}

func credentialParameters() []protocol.CredentialParameter {
	return []protocol.CredentialParameter{
		{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgES256},
		{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgEdDSA},
		{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgRS256},
	}
}

func descriptors(creds []*StoredCredential) []protocol.CredentialDescriptor {
	out := make([]protocol.CredentialDescriptor, 0, len(creds))
	for _, cred := range creds {
		id, err := base64.RawURLEncoding.DecodeString(cred.CredentialID)
		if err != nil {
			continue
		}
		transports := make([]protocol.AuthenticatorTransport, 0, len(cred.Transports))
		for _, t := range cred.Transports {
			transports = append(transports, protocol.AuthenticatorTransport(t))
		}
		out = append(out, protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: id,
			Transport:    transports,
		})
	}
	return out
}
