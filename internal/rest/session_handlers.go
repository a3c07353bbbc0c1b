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
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jeremyhahn/go-authguard/pkg/adapters/audit"
	"github.com/jeremyhahn/go-authguard/pkg/adapters/auth"
	"github.com/jeremyhahn/go-authguard/pkg/adapters/rbac"
	"github.com/jeremyhahn/go-authguard/pkg/pipeline"
	"github.com/jeremyhahn/go-authguard/pkg/session"
)

// ListSessionsHandler lists the caller's live sessions.
func (s *Server) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r.Context())

	records, err := s.sessions.Sessions(r.Context(), identity.Subject)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}

	current := ""
	if sc := pipeline.GetSecurityContext(r); sc != nil && sc.Session != nil {
		current = sc.Session.ID
	}

	resp := ListSessionsResponse{Sessions: make([]SessionInfo, 0, len(records))}
	for _, rec := range records {
		resp.Sessions = append(resp.Sessions, SessionInfo{
			ID:             rec.ID,
			IPAddress:      rec.IPAddress,
			UserAgent:      rec.UserAgent,
			LoginMethod:    rec.LoginMethod,
			CreatedAt:      rec.CreatedAt,
			LastActivityAt: rec.LastActivityAt,
			ExpiresAt:      rec.ExpiresAt,
			Current:        rec.ID == current,
		})
	}
	writeJSON(w, resp, http.StatusOK)
}

// DeleteSessionHandler invalidates one session. Callers may always
// revoke their own sessions; revoking another user's session requires
// the sessions:delete permission.
func (s *Server) DeleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r.Context())
	sessionID := chi.URLParam(r, "id")

	record, err := s.sessions.Get(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, session.ErrStoreUnavailable) {
			writeErrorWithMessage(w, r, ErrUnavailable, msgUnavailable, http.StatusServiceUnavailable)
			return
		}
		writeError(w, r, ErrNotFound, http.StatusNotFound)
		return
	}

	if record.UserID != identity.Subject {
		decision, err := s.authorizer.CheckAccess(r.Context(), identity.Subject,
			rbac.NewPermission(rbac.ResourceSessions, rbac.ActionDelete))
		if err != nil {
			writeErrorWithMessage(w, r, ErrInternalError, msgServerError, http.StatusInternalServerError)
			return
		}
		if !decision.Allowed {
			writeErrorWithMessage(w, r, ErrForbidden, "insufficient permissions", http.StatusForbidden)
			return
		}
	}

	if err := s.sessions.Invalidate(r.Context(), sessionID); err != nil && !errors.Is(err, session.ErrNotFound) {
		writeAuthError(w, r, err)
		return
	}

	s.audit(r.Context(), &audit.Event{
		EventType: audit.EventSessionInvalidate,
		Severity:  audit.SeverityInfo,
		Outcome:   audit.OutcomeSuccess,
		UserID:    record.UserID,
		Action:    "session revoked",
		SessionID: sessionID,
	})
	writeJSON(w, SuccessResponse{Success: true}, http.StatusOK)
}

// ListAuditEventsHandler returns recent audit events. Guarded by the
// audit:read permission.
func (s *Server) ListAuditEventsHandler(w http.ResponseWriter, r *http.Request) {
	query := &audit.EventQuery{Limit: 100}
	if userID := r.URL.Query().Get("user_id"); userID != "" {
		query.UserID = userID
	}

	events, err := s.auditor.GetEvents(r.Context(), query)
	if err != nil {
		writeErrorWithMessage(w, r, ErrInternalError, msgServerError, http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{"events": events}, http.StatusOK)
}
