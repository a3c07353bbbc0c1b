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

// Package pipeline runs every request through an ordered list of security
// stages with early exit: headers and CORS, rate limiting, input
// sanitization, CSRF, authentication, and audit. The first stage to
// return an error stops the chain and determines the response status.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jeremyhahn/go-authguard/pkg/adapters/audit"
	"github.com/jeremyhahn/go-authguard/pkg/adapters/auth"
	"github.com/jeremyhahn/go-authguard/pkg/adapters/logger"
	"github.com/jeremyhahn/go-authguard/pkg/adapters/metrics"
	"github.com/jeremyhahn/go-authguard/pkg/correlation"
	"github.com/jeremyhahn/go-authguard/pkg/ratelimit"
	"github.com/jeremyhahn/go-authguard/pkg/sanitize"
	"github.com/jeremyhahn/go-authguard/pkg/session"
	"github.com/jeremyhahn/go-authguard/pkg/token"
)

// Defaults for the CSRF double-submit check.
const (
	DefaultSessionCookie = "authguard_session"
	DefaultCSRFHeader    = "X-CSRF-Token"
)

// SecurityContext accumulates per-request state as stages run.
type SecurityContext struct {
	// RequestID correlates the request across logs and audit events.
	RequestID string

	// ClientIP and UserAgent describe the client.
	ClientIP  string
	UserAgent string

	// Identity is set by the authenticate stage; nil for anonymous
	// requests.
	Identity *auth.Identity

	// AuthError records why presented credentials were rejected. The
	// request continues as anonymous; route-level guards decide whether
	// anonymous is acceptable.
	AuthError error

	// Session is the validated session backing the bearer token, if any.
	Session *session.Record

	// RotationRequired reports that the session is due for rotation. The
	// pipeline surfaces this to the client; rotation itself happens on
	// the refresh endpoint.
	RotationRequired bool

	// Sanitization reports what the sanitize stage changed.
	Sanitization sanitize.Result

	// Start is when the pipeline began.
	Start time.Time
}

// StageFunc is one pipeline stage. Returning an error short-circuits the
// remaining stages.
type StageFunc func(sc *SecurityContext, w http.ResponseWriter, r *http.Request) error

// Stage is a named stage for logging.
type Stage struct {
	Name string
	Run  StageFunc
}

// CORSPolicy controls cross-origin request handling in the headers stage.
type CORSPolicy struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         int
}

// Params configures the pipeline.
type Params struct {
	// Limiter enforces request rates. Required.
	Limiter *ratelimit.Limiter

	// Sessions validates the sessions behind bearer tokens and CSRF
	// cookies. Required.
	Sessions *session.Manager

	// Tokens verifies bearer access tokens. Required.
	Tokens *token.Service

	// CORS is the cross-origin policy. Empty origins disable CORS
	// handling entirely.
	CORS CORSPolicy

	// SessionCookie is the session id cookie name consulted by the CSRF
	// stage (default "authguard_session").
	SessionCookie string

	// CSRFHeader is the double-submit header name (default "X-CSRF-Token").
	CSRFHeader string

	// Auditor, Metrics, and Logger are optional.
	Auditor audit.Auditor
	Metrics metrics.Adapter
	Logger  logger.Logger
}

// Pipeline is the ordered security stage driver.
type Pipeline struct {
	stages        []Stage
	limiter       *ratelimit.Limiter
	sessions      *session.Manager
	tokens        *token.Service
	cors          CORSPolicy
	sessionCookie string
	csrfHeader    string
	auditor       audit.Auditor
	metrics       metrics.Adapter
	log           logger.Logger
	clock         func() time.Time
}

// New creates the pipeline with its fixed stage order.
func New(params *Params) (*Pipeline, error) {
	if params == nil {
		return nil, fmt.Errorf("params are required")
	}
	if params.Limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if params.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if params.Tokens == nil {
		return nil, fmt.Errorf("token service is required")
	}

	log := params.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	m := params.Metrics
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}
	sessionCookie := params.SessionCookie
	if sessionCookie == "" {
		sessionCookie = DefaultSessionCookie
	}
	csrfHeader := params.CSRFHeader
	if csrfHeader == "" {
		csrfHeader = DefaultCSRFHeader
	}

	p := &Pipeline{
		limiter:       params.Limiter,
		sessions:      params.Sessions,
		tokens:        params.Tokens,
		cors:          params.CORS,
		sessionCookie: sessionCookie,
		csrfHeader:    csrfHeader,
		auditor:       params.Auditor,
		metrics:       m,
		log:           log,
		clock:         time.Now,
	}
	p.stages = []Stage{
		{Name: "headers", Run: p.headersStage},
		{Name: "ratelimit", Run: p.rateLimitStage},
		{Name: "sanitize", Run: p.sanitizeStage},
		{Name: "csrf", Run: p.csrfStage},
		{Name: "authenticate", Run: p.authenticateStage},
		{Name: "audit", Run: p.auditStage},
	}
	return p, nil
}

// Execute runs all stages in order. It returns the security context, the
// request updated with identity and correlation context, and the first
// stage error if any.
func (p *Pipeline) Execute(w http.ResponseWriter, r *http.Request) (*SecurityContext, *http.Request, error) {
	requestID := r.Header.Get(correlation.RequestIDHeader)
	if requestID == "" {
		requestID = correlation.NewID()
	}
	r = r.WithContext(correlation.WithCorrelationID(r.Context(), requestID))
	w.Header().Set(correlation.RequestIDHeader, requestID)

	sc := &SecurityContext{
		RequestID: requestID,
		ClientIP:  ratelimit.ClientIP(r),
		UserAgent: r.UserAgent(),
		Start:     p.clock(),
	}

	for _, stage := range p.stages {
		if err := stage.Run(sc, w, r); err != nil {
			if !errors.Is(err, ErrHandled) {
				p.log.Debug("pipeline stage rejected request",
					logger.String("stage", stage.Name),
					logger.String("request_id", sc.RequestID),
					logger.Error(err))
			}
			return sc, r, err
		}
		// The authenticate stage attaches the identity to the request
		// context for downstream handlers.
		if sc.Identity != nil && auth.GetIdentity(r.Context()) == nil {
			r = r.WithContext(auth.WithIdentity(r.Context(), sc.Identity))
		}
	}
	return sc, r, nil
}

// Middleware adapts the pipeline to chi/net-http middleware. Stage errors
// are written as JSON with the mapped status; ErrHandled responses pass
// through untouched.
func (p *Pipeline) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc, r, err := p.Execute(w, r)
		if err != nil {
			if !errors.Is(err, ErrHandled) {
				p.writeError(w, sc, err)
			}
			return
		}

		next.ServeHTTP(w, WithSecurityContext(r, sc))

		elapsed := time.Since(sc.Start)
		if recErr := p.metrics.RecordTimer(r.Context(), metrics.MetricRequestsLatency, elapsed,
			map[string]string{"path": r.URL.Path}); recErr != nil {
			p.log.Debug("metric recording failed", logger.Error(recErr))
		}
	})
}

type contextKey string

const securityContextKey contextKey = "pipeline.security_context"

// WithSecurityContext attaches the security context to the request.
func WithSecurityContext(r *http.Request, sc *SecurityContext) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), securityContextKey, sc))
}

// GetSecurityContext retrieves the security context from a request, or
// nil when the pipeline did not run.
func GetSecurityContext(r *http.Request) *SecurityContext {
	if sc, ok := r.Context().Value(securityContextKey).(*SecurityContext); ok {
		return sc
	}
	return nil
}

func (p *Pipeline) writeError(w http.ResponseWriter, sc *SecurityContext, err error) {
	status := StatusFor(err)
	body := map[string]string{
		"error":      http.StatusText(status),
		"request_id": sc.RequestID,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(body); encErr != nil {
		p.log.Warn("failed to write error response", logger.Error(encErr))
	}
}
