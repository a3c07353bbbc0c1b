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

package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-authguard/pkg/ratelimit"
)

// Config represents the complete server configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	TLS       TLSConfig       `yaml:"tls"`
	Tokens    TokenConfig     `yaml:"tokens"`
	Session   SessionConfig   `yaml:"session"`
	WebAuthn  WebAuthnConfig  `yaml:"webauthn"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	CORS      CORSConfig      `yaml:"cors"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig contains server-level settings
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TokenConfig controls token signing. Secrets are expected from the
// environment in production; the YAML fields exist for development only.
type TokenConfig struct {
	AccessSecret  string        `yaml:"access_secret"`
	RefreshSecret string        `yaml:"refresh_secret"`
	Issuer        string        `yaml:"issuer"`
	Audience      string        `yaml:"audience"`
	AccessTTL     time.Duration `yaml:"access_ttl"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl"`
}

// SessionConfig controls the session lifecycle
type SessionConfig struct {
	TTL                time.Duration `yaml:"ttl"`
	RotationInterval   time.Duration `yaml:"rotation_interval"`
	MaxSessionsPerUser int           `yaml:"max_sessions_per_user"`
	CleanupInterval    time.Duration `yaml:"cleanup_interval"`
}

// WebAuthnConfig controls the relying party settings
type WebAuthnConfig struct {
	RPID             string        `yaml:"rp_id"`
	RPDisplayName    string        `yaml:"rp_display_name"`
	RPOrigins        []string      `yaml:"rp_origins"`
	ChallengeTTL     time.Duration `yaml:"challenge_ttl"`
	Timeout          time.Duration `yaml:"timeout"`
	UserVerification string        `yaml:"user_verification"`
}

// RateLimitConfig controls rate limiting
type RateLimitConfig struct {
	Enabled        bool                               `yaml:"enabled"`
	RequestsPerMin int                                `yaml:"requests_per_min"`
	Burst          int                                `yaml:"burst"`
	Endpoints      map[string]ratelimit.EndpointLimit `yaml:"endpoints,omitempty"`
}

// CORSConfig controls cross-origin request handling
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// MetricsConfig controls the metrics endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns a configuration suitable for local development. Token
// secrets are intentionally absent and must come from the environment or
// the YAML file.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills zero-valued fields with their defaults.
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8443
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Tokens.Issuer == "" {
		c.Tokens.Issuer = "authguard"
	}
	if c.Tokens.Audience == "" {
		c.Tokens.Audience = "authguard-clients"
	}
	if c.RateLimit.RequestsPerMin == 0 {
		c.RateLimit.RequestsPerMin = 120
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if len(c.CORS.AllowedMethods) == 0 {
		c.CORS.AllowedMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	}
	if len(c.CORS.AllowedHeaders) == 0 {
		c.CORS.AllowedHeaders = []string{"Authorization", "Content-Type", "X-CSRF-Token", "X-Request-ID"}
	}
	if c.CORS.MaxAge == 0 {
		c.CORS.MaxAge = 300
	}
	if c.WebAuthn.RPID == "" {
		c.WebAuthn.RPID = "localhost"
	}
	if c.WebAuthn.RPDisplayName == "" {
		c.WebAuthn.RPDisplayName = "AuthGuard"
	}
	if len(c.WebAuthn.RPOrigins) == 0 {
		c.WebAuthn.RPOrigins = []string{fmt.Sprintf("https://%s:%d", c.Server.Host, c.Server.Port)}
	}
}

// Load reads configuration from a YAML file and applies environment variable overrides
func Load(path string) (*Config, error) {
	// #nosec G304 - Config file path is provided by admin/user
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	if host := os.Getenv("AUTHGUARD_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if portStr := os.Getenv("AUTHGUARD_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			log.Printf("Warning: invalid AUTHGUARD_PORT value %q, using default %d: %v",
				portStr, cfg.Server.Port, err)
		} else if port < 1 || port > 65535 {
			log.Printf("Warning: invalid AUTHGUARD_PORT value %q (out of range 1-65535), using default %d",
				portStr, cfg.Server.Port)
		} else {
			cfg.Server.Port = port
		}
	}

	if level := os.Getenv("AUTHGUARD_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("AUTHGUARD_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	// Secrets always win from the environment so they never need to live
	// in a config file.
	if secret := os.Getenv("AUTHGUARD_ACCESS_SECRET"); secret != "" {
		cfg.Tokens.AccessSecret = secret
	}
	if secret := os.Getenv("AUTHGUARD_REFRESH_SECRET"); secret != "" {
		cfg.Tokens.RefreshSecret = secret
	}

	if rpID := os.Getenv("AUTHGUARD_RP_ID"); rpID != "" {
		cfg.WebAuthn.RPID = rpID
	}
	if origins := os.Getenv("AUTHGUARD_RP_ORIGINS"); origins != "" {
		parts := strings.Split(origins, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		cfg.WebAuthn.RPOrigins = trimmed
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json": true, "text": true,
	}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	if c.TLS.Enabled {
		if c.TLS.CertFile == "" {
			return fmt.Errorf("TLS cert_file is required when TLS is enabled")
		}
		if c.TLS.KeyFile == "" {
			return fmt.Errorf("TLS key_file is required when TLS is enabled")
		}
	}

	if c.Tokens.AccessSecret == "" {
		return fmt.Errorf("token access secret is required (AUTHGUARD_ACCESS_SECRET)")
	}
	if c.Tokens.RefreshSecret == "" {
		return fmt.Errorf("token refresh secret is required (AUTHGUARD_REFRESH_SECRET)")
	}
	if c.Tokens.AccessSecret == c.Tokens.RefreshSecret {
		return fmt.Errorf("access and refresh secrets must differ")
	}

	if c.WebAuthn.RPID == "" {
		return fmt.Errorf("webauthn rp_id is required")
	}
	if len(c.WebAuthn.RPOrigins) == 0 {
		return fmt.Errorf("webauthn rp_origins is required")
	}

	if c.Session.MaxSessionsPerUser < 0 {
		return fmt.Errorf("max_sessions_per_user must not be negative")
	}

	return nil
}

// RateLimitConfigFor converts the YAML section into the limiter's config.
func (c *Config) RateLimitConfigFor() *ratelimit.Config {
	return &ratelimit.Config{
		Enabled:           c.RateLimit.Enabled,
		RequestsPerMinute: c.RateLimit.RequestsPerMin,
		Burst:             c.RateLimit.Burst,
		Endpoints:         c.RateLimit.Endpoints,
	}
}
