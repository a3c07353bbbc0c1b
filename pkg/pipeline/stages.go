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

package pipeline

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/jeremyhahn/go-authguard/pkg/adapters/audit"
	"github.com/jeremyhahn/go-authguard/pkg/adapters/auth"
	"github.com/jeremyhahn/go-authguard/pkg/adapters/logger"
	"github.com/jeremyhahn/go-authguard/pkg/adapters/metrics"
	"github.com/jeremyhahn/go-authguard/pkg/ratelimit"
	"github.com/jeremyhahn/go-authguard/pkg/sanitize"
	"github.com/jeremyhahn/go-authguard/pkg/session"
)

// headersStage sets the security response headers and applies the CORS
// policy. Preflight requests from allowed origins are answered here.
func (p *Pipeline) headersStage(sc *SecurityContext, w http.ResponseWriter, r *http.Request) error {
	h := w.Header()
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Referrer-Policy", "no-referrer")
	h.Set("Cache-Control", "no-store")

	origin := r.Header.Get("Origin")
	if origin == "" || len(p.cors.AllowedOrigins) == 0 {
		return nil
	}
	if !p.originAllowed(origin) {
		// Not an error: the browser enforces CORS, the server just
		// withholds the allow headers.
		return nil
	}

	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Credentials", "true")
	h.Add("Vary", "Origin")

	if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
		h.Set("Access-Control-Allow-Methods", strings.Join(p.cors.AllowedMethods, ", "))
		h.Set("Access-Control-Allow-Headers", strings.Join(p.cors.AllowedHeaders, ", "))
		if p.cors.MaxAge > 0 {
			h.Set("Access-Control-Max-Age", strconv.Itoa(p.cors.MaxAge))
		}
		w.WriteHeader(http.StatusNoContent)
		return ErrHandled
	}
	return nil
}

func (p *Pipeline) originAllowed(origin string) bool {
	for _, allowed := range p.cors.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// rateLimitStage consumes from the per-endpoint tier then the global tier
// and exposes the remaining budget to the client.
func (p *Pipeline) rateLimitStage(sc *SecurityContext, w http.ResponseWriter, r *http.Request) error {
	decision := p.limiter.Check(sc.ClientIP, ratelimit.EndpointKey(r))
	if decision.Remaining >= 0 {
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.Reset.Unix(), 10))
	}
	if decision.Allowed {
		return nil
	}

	p.recordCounter(r, metrics.MetricRateLimited, map[string]string{"path": r.URL.Path})
	p.audit(r, &audit.Event{
		EventType: audit.EventRateLimited,
		Severity:  audit.SeverityWarn,
		Outcome:   audit.OutcomeDenied,
		Action:    ratelimit.EndpointKey(r),
		RequestID: sc.RequestID,
		SourceIP:  sc.ClientIP,
		UserAgent: sc.UserAgent,
	})
	return ErrRateLimited
}

// sanitizeStage cleans query parameters and the request body in place. It
// mutates and logs but never rejects the request.
func (p *Pipeline) sanitizeStage(sc *SecurityContext, w http.ResponseWriter, r *http.Request) error {
	query := r.URL.Query()
	result := sanitize.CleanValues(query)
	if result.Modified {
		r.URL.RawQuery = query.Encode()
	}

	if r.Body != nil && r.Body != http.NoBody {
		body, err := io.ReadAll(io.LimitReader(r.Body, int64(sanitize.MaxValueLength)+1))
		_ = r.Body.Close()
		if err != nil {
			p.log.Debug("failed to read request body for sanitization",
				logger.String("request_id", sc.RequestID),
				logger.Error(err))
		}
		cleaned, bodyResult := sanitize.CleanString(string(body))
		if bodyResult.Modified {
			result.Modified = true
			result.Reasons = append(result.Reasons, bodyResult.Reasons...)
		}
		r.Body = io.NopCloser(strings.NewReader(cleaned))
		r.ContentLength = int64(len(cleaned))
	}

	if !result.Modified {
		return nil
	}
	sc.Sanitization = result

	p.recordCounter(r, metrics.MetricInputSanitized, nil)
	p.audit(r, &audit.Event{
		EventType: audit.EventInputSanitized,
		Severity:  audit.SeverityWarn,
		Outcome:   audit.OutcomeSuccess,
		Action:    ratelimit.EndpointKey(r),
		Result:    strings.Join(result.Reasons, ", "),
		RequestID: sc.RequestID,
		SourceIP:  sc.ClientIP,
		UserAgent: sc.UserAgent,
	})
	p.log.Warn("sanitized request input",
		logger.String("request_id", sc.RequestID),
		logger.Strings("reasons", result.Reasons))
	return nil
}

// csrfStage enforces the double-submit check for cookie-based sessions on
// state-changing methods. Requests without a session cookie are exempt;
// bearer clients are not CSRF-prone.
func (p *Pipeline) csrfStage(sc *SecurityContext, w http.ResponseWriter, r *http.Request) error {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return nil
	}

	cookie, err := r.Cookie(p.sessionCookie)
	if err != nil || cookie.Value == "" {
		return nil
	}

	record, err := p.sessions.Get(r.Context(), cookie.Value)
	if err != nil {
		if errors.Is(err, session.ErrStoreUnavailable) {
			return err
		}
		// A dead session cookie cannot vouch for the request.
		return p.rejectCSRF(sc, r, "session not found")
	}

	presented := r.Header.Get(p.csrfHeader)
	if presented == "" ||
		subtle.ConstantTimeCompare([]byte(presented), []byte(record.CSRFToken)) != 1 {
		return p.rejectCSRF(sc, r, "token mismatch")
	}
	return nil
}

func (p *Pipeline) rejectCSRF(sc *SecurityContext, r *http.Request, reason string) error {
	p.recordCounter(r, metrics.MetricCSRFRejected, nil)
	p.audit(r, &audit.Event{
		EventType: audit.EventCSRFRejected,
		Severity:  audit.SeverityWarn,
		Outcome:   audit.OutcomeDenied,
		Action:    ratelimit.EndpointKey(r),
		Result:    reason,
		RequestID: sc.RequestID,
		SourceIP:  sc.ClientIP,
		UserAgent: sc.UserAgent,
	})
	return ErrCSRFInvalid
}

// authenticateStage verifies a bearer access token and cross-checks it
// against the live session. Requests without credentials, and requests
// whose credentials fail verification, proceed as anonymous with the
// failure recorded on the context; route-level guards decide what
// anonymous may reach. Only a store outage aborts the request.
func (p *Pipeline) authenticateStage(sc *SecurityContext, w http.ResponseWriter, r *http.Request) error {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil
	}
	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return p.failAuthentication(sc, fmt.Errorf("%w: malformed authorization header", ErrUnauthenticated))
	}

	payload, err := p.tokens.VerifyAccessToken(tokenString)
	if err != nil {
		return p.failAuthentication(sc, fmt.Errorf("%w: %v", ErrUnauthenticated, err))
	}

	record, rotationRequired, err := p.sessions.Validate(r.Context(), payload.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrStoreUnavailable) {
			return err
		}
		// A valid signature over a dead session is still a dead session.
		return p.failAuthentication(sc, fmt.Errorf("%w: %v", ErrUnauthenticated, err))
	}
	if record.UserID != payload.SubjectID {
		return p.failAuthentication(sc, fmt.Errorf("%w: session subject mismatch", ErrUnauthenticated))
	}

	sc.Session = record
	sc.RotationRequired = rotationRequired
	sc.Identity = &auth.Identity{
		Subject:     payload.SubjectID,
		Email:       payload.Email,
		Roles:       payload.Roles,
		Permissions: payload.Permissions,
	}

	if rotationRequired {
		w.Header().Set("X-Session-Rotation-Required", "true")
	}
	return nil
}

// failAuthentication downgrades the request to anonymous and records why
// the presented credentials were rejected.
func (p *Pipeline) failAuthentication(sc *SecurityContext, cause error) error {
	sc.AuthError = cause
	p.log.Debug("rejected presented credentials, continuing as anonymous",
		logger.String("request_id", sc.RequestID),
		logger.Error(cause))
	return nil
}

// auditStage records that the request passed the pipeline. Best effort.
func (p *Pipeline) auditStage(sc *SecurityContext, w http.ResponseWriter, r *http.Request) error {
	event := &audit.Event{
		EventType: audit.EventRequestCompleted,
		Severity:  audit.SeverityInfo,
		Outcome:   audit.OutcomeSuccess,
		Action:    ratelimit.EndpointKey(r),
		RequestID: sc.RequestID,
		SourceIP:  sc.ClientIP,
		UserAgent: sc.UserAgent,
	}
	if sc.Identity != nil {
		event.UserID = sc.Identity.Subject
	}
	if sc.Session != nil {
		event.SessionID = sc.Session.ID
	}
	p.audit(r, event)

	p.recordCounter(r, metrics.MetricRequestsTotal, map[string]string{"path": r.URL.Path})
	return nil
}

func (p *Pipeline) audit(r *http.Request, event *audit.Event) {
	if p.auditor == nil {
		return
	}
	if err := p.auditor.LogEvent(r.Context(), event); err != nil {
		p.log.Warn("audit logging failed",
			logger.String("event_type", string(event.EventType)),
			logger.Error(err))
	}
}

func (p *Pipeline) recordCounter(r *http.Request, name string, tags map[string]string) {
	if err := p.metrics.RecordCounter(r.Context(), name, tags); err != nil {
		p.log.Debug("metric recording failed",
			logger.String("metric", name),
			logger.Error(err))
	}
}
