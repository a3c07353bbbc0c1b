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

// Package rest exposes the authentication subsystem over HTTP: login,
// refresh, logout, session administration, and the WebAuthn ceremonies,
// all behind the security pipeline.
package rest

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jeremyhahn/go-authguard/pkg/adapters/audit"
	"github.com/jeremyhahn/go-authguard/pkg/adapters/auth"
	"github.com/jeremyhahn/go-authguard/pkg/adapters/logger"
	"github.com/jeremyhahn/go-authguard/pkg/adapters/rbac"
	"github.com/jeremyhahn/go-authguard/pkg/pipeline"
	"github.com/jeremyhahn/go-authguard/pkg/session"
	"github.com/jeremyhahn/go-authguard/pkg/webauthn"
)

// Server represents the REST API server.
type Server struct {
	server      *http.Server
	port        int
	tlsConfig   *tls.Config
	pipeline    *pipeline.Pipeline
	authManager *auth.Manager
	sessions    *session.Manager
	ceremony    *webauthn.Ceremony
	authorizer  rbac.Authorizer
	auditor     audit.Auditor
	logger      logger.Logger
	version     string

	// secureCookies marks session cookies Secure; disabled only for
	// plain-HTTP development setups.
	secureCookies bool
}

// Config holds the REST server configuration.
type Config struct {
	// Port is the HTTP port to listen on (default: 8443)
	Port int

	// Pipeline is the security pipeline every request passes through.
	// Required.
	Pipeline *pipeline.Pipeline

	// AuthManager handles login, refresh, and logout. Required.
	AuthManager *auth.Manager

	// Sessions backs the session administration endpoints. Required.
	Sessions *session.Manager

	// Ceremony runs the WebAuthn ceremonies. Required.
	Ceremony *webauthn.Ceremony

	// Authorizer guards the administration endpoints. Required.
	Authorizer rbac.Authorizer

	// Auditor receives security events. Required.
	Auditor audit.Auditor

	// MetricsHandler, when set, is mounted at /metrics.
	MetricsHandler http.Handler

	// Version is the API version string
	Version string

	// TLSConfig is the TLS configuration for HTTPS (optional)
	TLSConfig *tls.Config

	// Logger is the logging adapter (optional)
	Logger logger.Logger

	// InsecureCookies disables the Secure cookie attribute for local
	// plain-HTTP development.
	InsecureCookies bool

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes
	WriteTimeout time.Duration

	// IdleTimeout is the maximum amount of time to wait for the next request
	IdleTimeout time.Duration
}

// NewServer creates a new REST API server.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Pipeline == nil {
		return nil, fmt.Errorf("security pipeline is required")
	}
	if cfg.AuthManager == nil {
		return nil, fmt.Errorf("auth manager is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if cfg.Ceremony == nil {
		return nil, fmt.Errorf("webauthn ceremony is required")
	}
	if cfg.Authorizer == nil {
		return nil, fmt.Errorf("authorizer is required")
	}
	if cfg.Auditor == nil {
		return nil, fmt.Errorf("auditor is required")
	}

	if cfg.Port == 0 {
		cfg.Port = 8443
	}
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NewSlogAdapter(&logger.SlogConfig{
			Level: logger.LevelInfo,
		})
	}

	server := &Server{
		port:          cfg.Port,
		tlsConfig:     cfg.TLSConfig,
		pipeline:      cfg.Pipeline,
		authManager:   cfg.AuthManager,
		sessions:      cfg.Sessions,
		ceremony:      cfg.Ceremony,
		authorizer:    cfg.Authorizer,
		auditor:       cfg.Auditor,
		logger:        log,
		version:       cfg.Version,
		secureCookies: !cfg.InsecureCookies,
	}

	router := server.setupRouter(cfg.MetricsHandler)

	server.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		TLSConfig:    cfg.TLSConfig,
	}

	return server, nil
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter(metricsHandler http.Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(s.RecoveryMiddleware())

	// Health and metrics bypass the security pipeline.
	r.Get("/healthz", s.HealthHandler)
	r.Head("/healthz", s.HealthHandler)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.pipeline.Middleware)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", s.LoginHandler)
			r.Post("/refresh", s.RefreshHandler)
			r.Post("/logout", s.LogoutHandler)
		})

		r.Route("/webauthn", func(r chi.Router) {
			r.With(s.RequireAuth).Post("/register/begin", s.BeginRegistrationHandler)
			r.With(s.RequireAuth).Post("/register/finish", s.FinishRegistrationHandler)
			r.Post("/login/begin", s.BeginLoginHandler)
			r.Post("/login/finish", s.FinishLoginHandler)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Use(s.RequireAuth)
			r.Get("/", s.ListSessionsHandler)
			r.Delete("/{id}", s.DeleteSessionHandler)
		})

		r.With(s.RequireAuth, s.RequirePermission(rbac.ResourceAudit, rbac.ActionRead)).
			Get("/audit/events", s.ListAuditEventsHandler)
	})

	return r
}

// HealthHandler reports process liveness.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, HealthResponse{Status: "ok", Version: s.version}, http.StatusOK)
}

// Handler returns the configured router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the REST API server.
func (s *Server) Start() error {
	if s.tlsConfig != nil {
		s.logger.Info("Starting HTTPS server", logger.Int("port", s.port))
		if err := s.server.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start HTTPS server: %w", err)
		}
	} else {
		s.logger.Info("Starting HTTP server", logger.Int("port", s.port))
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}
	return nil
}

// Stop gracefully stops the REST API server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server")
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("Failed to shutdown server", logger.Error(err))
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	s.logger.Info("Server stopped")
	return nil
}

// Port returns the port the server is listening on.
func (s *Server) Port() int {
	return s.port
}

// audit records an event, best effort.
func (s *Server) audit(ctx context.Context, event *audit.Event) {
	if err := s.auditor.LogEvent(ctx, event); err != nil {
		s.logger.Warn("audit logging failed",
			logger.String("event_type", string(event.EventType)),
			logger.Error(err))
	}
}
