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

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeremyhahn/go-authguard/internal/config"
	"github.com/jeremyhahn/go-authguard/internal/password"
	"github.com/jeremyhahn/go-authguard/internal/rest"
	"github.com/jeremyhahn/go-authguard/pkg/adapters/audit"
	"github.com/jeremyhahn/go-authguard/pkg/adapters/auth"
	"github.com/jeremyhahn/go-authguard/pkg/adapters/logger"
	"github.com/jeremyhahn/go-authguard/pkg/adapters/metrics"
	"github.com/jeremyhahn/go-authguard/pkg/adapters/rbac"
	"github.com/jeremyhahn/go-authguard/pkg/pipeline"
	"github.com/jeremyhahn/go-authguard/pkg/ratelimit"
	"github.com/jeremyhahn/go-authguard/pkg/session"
	"github.com/jeremyhahn/go-authguard/pkg/storage"
	"github.com/jeremyhahn/go-authguard/pkg/token"
	"github.com/jeremyhahn/go-authguard/pkg/webauthn"
)

var (
	// Version information (set during build)
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "/etc/authguard/config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	// Show version if requested
	if *showVersion {
		fmt.Printf("go-authguard server\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Git Commit: %s\n", commit)
		fmt.Printf("  Built:      %s\n", date)
		os.Exit(0)
	}

	// Check for config file override via environment
	if envConfig := os.Getenv("AUTHGUARD_CONFIG"); envConfig != "" {
		*configPath = envConfig
	}

	slog.Info("Starting server",
		"config", *configPath,
		"version", version)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	log := buildLogger(&cfg.Logging)

	srv, sessions, err := buildServer(cfg, log)
	if err != nil {
		slog.Error("Failed to create server", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.Session.CleanupInterval > 0 {
		sessions.StartCleanup()
	}

	// Setup signal handler for graceful shutdown
	shutdownCtx := setupSignalHandler()

	// Start the server in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errChan <- err
		}
	}()

	slog.Info("Server started successfully", "port", srv.Port())

	// Wait for shutdown signal or error
	select {
	case <-shutdownCtx.Done():
		slog.Info("Shutdown signal received")
	case err := <-errChan:
		slog.Error("Server error", slog.Any("error", err))
	}

	// Gracefully shutdown
	shutdownTimeout, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Stop(shutdownTimeout); err != nil {
		slog.Error("Error during server shutdown", slog.Any("error", err))
	}
	sessions.Stop()

	slog.Info("Server stopped successfully")
}

// buildServer wires the storage, session, token, webauthn, and pipeline
// components into the REST server.
func buildServer(cfg *config.Config, log logger.Logger) (*rest.Server, *session.Manager, error) {
	sessions, err := session.NewManager(session.NewStore(storage.NewMemoryStore()), &session.Config{
		TTL:                cfg.Session.TTL,
		RotationInterval:   cfg.Session.RotationInterval,
		MaxSessionsPerUser: cfg.Session.MaxSessionsPerUser,
		CleanupInterval:    cfg.Session.CleanupInterval,
		Logger:             log,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("session manager: %w", err)
	}

	tokens, err := token.NewService(&token.Config{
		AccessSecret:  []byte(cfg.Tokens.AccessSecret),
		RefreshSecret: []byte(cfg.Tokens.RefreshSecret),
		Issuer:        cfg.Tokens.Issuer,
		Audience:      cfg.Tokens.Audience,
		AccessTTL:     cfg.Tokens.AccessTTL,
		RefreshTTL:    cfg.Tokens.RefreshTTL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("token service: %w", err)
	}

	auditor := audit.NewMemoryAuditor()

	webauthnKV := storage.NewMemoryStore()
	ceremony, err := webauthn.NewCeremony(&webauthn.CeremonyParams{
		Config: &webauthn.Config{
			RPID:             cfg.WebAuthn.RPID,
			RPDisplayName:    cfg.WebAuthn.RPDisplayName,
			RPOrigins:        cfg.WebAuthn.RPOrigins,
			ChallengeTTL:     cfg.WebAuthn.ChallengeTTL,
			Timeout:          cfg.WebAuthn.Timeout,
			UserVerification: cfg.WebAuthn.UserVerification,
		},
		Challenges: webauthn.NewChallengeStore(webauthnKV, cfg.WebAuthn.ChallengeTTL),
		Registry:   webauthn.NewCredentialRegistry(webauthnKV),
		Auditor:    auditor,
		Logger:     log,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("webauthn ceremony: %w", err)
	}

	var m metrics.Adapter = metrics.NewNoOpMetrics()
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		prom := metrics.NewPrometheusMetrics(nil)
		m = prom
		metricsHandler = promhttp.HandlerFor(prom.Registry(), promhttp.HandlerOpts{})
	}

	authorizer := rbac.NewMemoryAuthorizerWithDefaults()
	users := auth.NewMemoryUserStore()
	if err := bootstrapAdmin(users, authorizer); err != nil {
		return nil, nil, err
	}

	authManager, err := auth.NewManager(&auth.ManagerParams{
		Strategies: []auth.Strategy{
			auth.NewPasswordStrategy(users),
			auth.NewWebAuthnStrategy(ceremony, users),
		},
		Sessions: sessions,
		Tokens:   tokens,
		Auditor:  auditor,
		Metrics:  m,
		Logger:   log,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("auth manager: %w", err)
	}

	pl, err := pipeline.New(&pipeline.Params{
		Limiter:  ratelimit.New(cfg.RateLimitConfigFor()),
		Sessions: sessions,
		Tokens:   tokens,
		CORS: pipeline.CORSPolicy{
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			AllowedMethods: cfg.CORS.AllowedMethods,
			AllowedHeaders: cfg.CORS.AllowedHeaders,
			MaxAge:         cfg.CORS.MaxAge,
		},
		Auditor: auditor,
		Metrics: m,
		Logger:  log,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("security pipeline: %w", err)
	}

	tlsConfig, err := cfg.TLS.LoadTLSConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("tls: %w", err)
	}

	srv, err := rest.NewServer(&rest.Config{
		Port:            cfg.Server.Port,
		Pipeline:        pl,
		AuthManager:     authManager,
		Sessions:        sessions,
		Ceremony:        ceremony,
		Authorizer:      authorizer,
		Auditor:         auditor,
		MetricsHandler:  metricsHandler,
		Version:         version,
		TLSConfig:       tlsConfig,
		Logger:          log,
		InsecureCookies: tlsConfig == nil,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("rest server: %w", err)
	}
	return srv, sessions, nil
}

// bootstrapAdmin seeds an initial administrator account from the
// environment so a fresh deployment has a way in. Without the variables
// the store starts empty and only WebAuthn discoverable logins work.
func bootstrapAdmin(users *auth.MemoryUserStore, authorizer *rbac.MemoryAuthorizer) error {
	username := os.Getenv("AUTHGUARD_ADMIN_USER")
	pw := os.Getenv("AUTHGUARD_ADMIN_PASSWORD")
	if username == "" || pw == "" {
		return nil
	}

	hash, err := password.Hash(pw)
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	users.Add(&auth.User{
		ID:           username,
		Username:     username,
		PasswordHash: hash,
		Roles:        []string{rbac.RoleAdmin},
	})
	if err := authorizer.AssignRole(context.Background(), username, rbac.RoleAdmin); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	return nil
}

// buildLogger creates the logging adapter from the config section.
func buildLogger(cfg *config.LoggingConfig) logger.Logger {
	var level logger.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = logger.LevelDebug
	case "warn":
		level = logger.LevelWarn
	case "error":
		level = logger.LevelError
	default:
		level = logger.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: levelToSlog(level)}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return logger.NewSlogAdapter(&logger.SlogConfig{
		Level:   level,
		Handler: handler,
	})
}

func levelToSlog(level logger.Level) slog.Level {
	switch level {
	case logger.LevelDebug:
		return slog.LevelDebug
	case logger.LevelWarn:
		return slog.LevelWarn
	case logger.LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupSignalHandler sets up signal handling for graceful shutdown
func setupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-signalCh
		slog.Info("Received shutdown signal")
		cancel()
	}()

	return ctx
}
