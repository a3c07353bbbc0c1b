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
	"net/http"

	"github.com/jeremyhahn/go-authguard/pkg/adapters/audit"
	"github.com/jeremyhahn/go-authguard/pkg/adapters/auth"
	"github.com/jeremyhahn/go-authguard/pkg/adapters/logger"
	"github.com/jeremyhahn/go-authguard/pkg/adapters/rbac"
	"github.com/jeremyhahn/go-authguard/pkg/correlation"
	"github.com/jeremyhahn/go-authguard/pkg/ratelimit"
)

// RecoveryMiddleware recovers from handler panics and returns a 500.
func (s *Server) RecoveryMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					s.logger.Error("handler panic recovered",
						logger.String("path", r.URL.Path),
						logger.Any("panic", rec))
					writeErrorWithMessage(w, r, ErrInternalError, msgServerError, http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuth rejects anonymous requests. The security pipeline has
// already verified any presented credentials; this guard only enforces
// that some identity is present.
func (s *Server) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.GetIdentity(r.Context()) == nil {
			writeErrorWithMessage(w, r, ErrUnauthorized, "authentication required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequirePermission enforces an RBAC permission on the authenticated
// identity. Denials are audited.
func (s *Server) RequirePermission(resource, action string) func(http.Handler) http.Handler {
	permission := rbac.NewPermission(resource, action)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			identity := auth.GetIdentity(ctx)
			if identity == nil {
				writeErrorWithMessage(w, r, ErrUnauthorized, "authentication required", http.StatusUnauthorized)
				return
			}

			decision, err := s.authorizer.CheckAccess(ctx, identity.Subject, permission)
			if err != nil {
				s.logger.Error("authorization check failed",
					logger.String("subject", identity.Subject),
					logger.String("permission", permission.String()),
					logger.Error(err))
				writeErrorWithMessage(w, r, ErrInternalError, msgServerError, http.StatusInternalServerError)
				return
			}

			if !decision.Allowed {
				s.logger.Warn("access denied",
					logger.String("subject", identity.Subject),
					logger.String("permission", permission.String()),
					logger.String("reason", decision.Reason))
				s.audit(ctx, &audit.Event{
					EventType: audit.EventAuthzDeny,
					Severity:  audit.SeverityWarn,
					Outcome:   audit.OutcomeDenied,
					UserID:    identity.Subject,
					Action:    permission.String(),
					Result:    decision.Reason,
					RequestID: correlation.GetCorrelationID(ctx),
					SourceIP:  ratelimit.ClientIP(r),
				})
				writeErrorWithMessage(w, r, ErrForbidden, "insufficient permissions", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
