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

package rest

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/jeremyhahn/go-authguard/pkg/adapters/auth"
	"github.com/jeremyhahn/go-authguard/pkg/webauthn"
)

// beginRegistrationRequest carries the display identity for a new
// credential. The account identity comes from the authenticated context.
type beginRegistrationRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
}

// beginLoginRequest optionally names the account to authenticate.
// Empty means a usernameless (discoverable credential) ceremony.
type beginLoginRequest struct {
	UserID string `json:"user_id,omitempty"`
}

// BeginRegistrationHandler starts a credential registration ceremony for
// the authenticated user.
func (s *Server) BeginRegistrationHandler(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r.Context())

	var req beginRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorWithMessage(w, r, ErrInvalidRequest, "malformed JSON body", http.StatusBadRequest)
		return
	}
	if req.Username == "" {
		req.Username = identity.Email
	}
	if req.Username == "" {
		req.Username = identity.Subject
	}

	options, err := s.ceremony.BeginRegistration(r.Context(), identity.Subject, req.Username, req.DisplayName)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, options, http.StatusOK)
}

// FinishRegistrationHandler completes a registration ceremony with the
// authenticator's response.
func (s *Server) FinishRegistrationHandler(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r.Context())

	response, err := webauthn.ParseRegistrationResponse(r.Body)
	if err != nil {
		writeErrorWithMessage(w, r, ErrInvalidRequest, "malformed authenticator response", http.StatusBadRequest)
		return
	}

	cred, err := s.ceremony.CompleteRegistration(r.Context(), identity.Subject, response)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, RegistrationResult{CredentialID: cred.CredentialID}, http.StatusCreated)
}

// BeginLoginHandler starts an authentication ceremony.
func (s *Server) BeginLoginHandler(w http.ResponseWriter, r *http.Request) {
	var req beginLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorWithMessage(w, r, ErrInvalidRequest, "malformed JSON body", http.StatusBadRequest)
		return
	}

	options, err := s.ceremony.BeginAuthentication(r.Context(), req.UserID)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, options, http.StatusOK)
}

// finishLoginRequest wraps the assertion with the optional account hint
// issued at begin time.
type finishLoginRequest struct {
	UserID    string          `json:"user_id,omitempty"`
	Assertion json.RawMessage `json:"assertion"`
}

// FinishLoginHandler completes an authentication ceremony and, on
// success, logs the credential's owner in.
func (s *Server) FinishLoginHandler(w http.ResponseWriter, r *http.Request) {
	var req finishLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Assertion) == 0 {
		writeErrorWithMessage(w, r, ErrInvalidRequest, "assertion is required", http.StatusBadRequest)
		return
	}

	assertion, err := webauthn.ParseAuthenticationResponse(bytes.NewReader(req.Assertion))
	if err != nil {
		writeErrorWithMessage(w, r, ErrInvalidRequest, "malformed authenticator response", http.StatusBadRequest)
		return
	}

	result, err := s.authManager.Login(r.Context(), &auth.Credentials{
		WebAuthnUserID:    req.UserID,
		WebAuthnAssertion: assertion,
	}, requestMeta(r))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}

	s.setSessionCookies(w, result)
	writeJSON(w, loginResponse(result), http.StatusOK)
}
