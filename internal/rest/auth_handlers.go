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
	"encoding/json"
	"net/http"
	"time"

	"github.com/jeremyhahn/go-authguard/pkg/adapters/auth"
	"github.com/jeremyhahn/go-authguard/pkg/correlation"
	"github.com/jeremyhahn/go-authguard/pkg/pipeline"
	"github.com/jeremyhahn/go-authguard/pkg/ratelimit"
)

// CSRFCookie is the readable double-submit cookie paired with the
// http-only session cookie.
const CSRFCookie = "authguard_csrf"

func requestMeta(r *http.Request) auth.RequestMeta {
	return auth.RequestMeta{
		IP:        ratelimit.ClientIP(r),
		UserAgent: r.UserAgent(),
		RequestID: correlation.GetCorrelationID(r.Context()),
	}
}

// LoginHandler authenticates primary credentials and establishes a
// session with its token pair.
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorWithMessage(w, r, ErrInvalidRequest, "malformed JSON body", http.StatusBadRequest)
		return
	}

	result, err := s.authManager.Login(r.Context(), &auth.Credentials{
		Username: req.Username,
		Password: req.Password,
		APIKey:   req.APIKey,
	}, requestMeta(r))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}

	s.setSessionCookies(w, result)
	writeJSON(w, loginResponse(result), http.StatusOK)
}

// RefreshHandler exchanges a refresh token for a new access token.
func (s *Server) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeErrorWithMessage(w, r, ErrInvalidRequest, "refresh_token is required", http.StatusBadRequest)
		return
	}

	accessToken, err := s.authManager.Refresh(r.Context(), req.RefreshToken, requestMeta(r))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}

	writeJSON(w, RefreshResponse{AccessToken: accessToken}, http.StatusOK)
}

// LogoutHandler invalidates the caller's session and clears its cookies.
func (s *Server) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := ""
	if sc := pipeline.GetSecurityContext(r); sc != nil && sc.Session != nil {
		sessionID = sc.Session.ID
	}
	if sessionID == "" {
		if cookie, err := r.Cookie(pipeline.DefaultSessionCookie); err == nil {
			sessionID = cookie.Value
		}
	}
	if sessionID == "" {
		writeErrorWithMessage(w, r, ErrInvalidRequest, "no session to log out", http.StatusBadRequest)
		return
	}

	if err := s.authManager.Logout(r.Context(), sessionID, requestMeta(r)); err != nil {
		writeAuthError(w, r, err)
		return
	}

	s.clearSessionCookies(w)
	writeJSON(w, SuccessResponse{Success: true}, http.StatusOK)
}

func loginResponse(result *auth.LoginResult) LoginResponse {
	return LoginResponse{
		AccessToken:      result.Tokens.AccessToken,
		RefreshToken:     result.Tokens.RefreshToken,
		AccessExpiresAt:  result.Tokens.AccessExpiresAt,
		RefreshExpiresAt: result.Tokens.RefreshExpiresAt,
		CSRFToken:        result.Session.CSRFToken,
		Subject:          result.Identity.Subject,
		Roles:            result.Identity.Roles,
	}
}

// setSessionCookies sets the http-only session cookie and the readable
// CSRF double-submit cookie.
func (s *Server) setSessionCookies(w http.ResponseWriter, result *auth.LoginResult) {
	expires := result.Session.ExpiresAt
	http.SetCookie(w, &http.Cookie{
		Name:     pipeline.DefaultSessionCookie,
		Value:    result.Session.ID,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookie,
		Value:    result.Session.CSRFToken,
		Path:     "/",
		Expires:  expires,
		HttpOnly: false,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) clearSessionCookies(w http.ResponseWriter) {
	for _, name := range []string{pipeline.DefaultSessionCookie, CSRFCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
			HttpOnly: name == pipeline.DefaultSessionCookie,
			Secure:   s.secureCookies,
			SameSite: http.SameSiteStrictMode,
		})
	}
}
