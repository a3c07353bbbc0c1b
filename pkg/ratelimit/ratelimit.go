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

// Package ratelimit implements token bucket rate limiting with per-client
// tracking, a per-endpoint tier, and a global tier.
package ratelimit

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter enforces a global per-client rate and optional stricter
// per-endpoint rates. It uses golang.org/x/time/rate token buckets keyed
// by client identifier.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	config   *Config

	lastSeen    map[string]time.Time
	stopCleanup chan struct{}
}

// EndpointLimit sets a sustained rate for one endpoint.
type EndpointLimit struct {
	// RequestsPerMinute sets the sustained rate limit.
	RequestsPerMinute int `yaml:"requests_per_minute"`

	// Burst allows short bursts above the sustained rate.
	// If not set, defaults to RequestsPerMinute.
	Burst int `yaml:"burst"`
}

// Config holds rate limiter configuration.
type Config struct {
	// Enabled controls whether rate limiting is active.
	Enabled bool

	// RequestsPerMinute sets the global sustained rate limit per client.
	RequestsPerMinute int

	// Burst allows short bursts above the sustained rate.
	// If not set, defaults to RequestsPerMinute.
	Burst int

	// Endpoints maps an endpoint key (e.g. "POST /api/v1/auth/login") to
	// a stricter limit checked before the global one.
	Endpoints map[string]EndpointLimit

	// CleanupInterval controls how often to remove idle clients.
	// Defaults to 10 minutes.
	CleanupInterval time.Duration

	// MaxIdle is how long a client can be idle before cleanup.
	// Defaults to 30 minutes.
	MaxIdle time.Duration
}

// Decision is the outcome of a rate limit check.
type Decision struct {
	// Allowed reports whether the request may proceed.
	Allowed bool

	// Remaining is the number of requests left in the current window for
	// the most constrained tier consulted.
	Remaining int

	// Reset is when the next request would be allowed.
	Reset time.Time
}

// New creates a new rate limiter with the given configuration.
func New(config *Config) *Limiter {
	if config == nil {
		config = &Config{Enabled: false}
	}
	cleanupInterval := config.CleanupInterval
	if cleanupInterval == 0 {
		cleanupInterval = 10 * time.Minute
	}
	config.CleanupInterval = cleanupInterval
	if config.MaxIdle == 0 {
		config.MaxIdle = 30 * time.Minute
	}

	l := &Limiter{
		limiters:    make(map[string]*rate.Limiter),
		lastSeen:    make(map[string]time.Time),
		config:      config,
		stopCleanup: make(chan struct{}),
	}

	if config.Enabled {
		go l.cleanupWorker()
	}

	return l
}

// Check consumes one token for the endpoint tier and, if that passes, one
// for the global tier. The endpoint tier only applies when the endpoint
// key has a configured limit.
func (l *Limiter) Check(clientID, endpoint string) Decision {
	if !l.config.Enabled {
		return Decision{Allowed: true, Remaining: -1}
	}

	if limit, ok := l.config.Endpoints[endpoint]; ok {
		decision := l.take("endpoint:"+endpoint+":"+clientID, limit.RequestsPerMinute, limit.Burst)
		if !decision.Allowed {
			return decision
		}
	}

	return l.take("global:"+clientID, l.config.RequestsPerMinute, l.config.Burst)
}

// Allow checks the global tier only. Retained for callers that have no
// endpoint context.
func (l *Limiter) Allow(clientID string) bool {
	if !l.config.Enabled {
		return true
	}
	return l.take("global:"+clientID, l.config.RequestsPerMinute, l.config.Burst).Allowed
}

// take consumes a token from the named bucket and reports the outcome.
func (l *Limiter) take(key string, requestsPerMinute, burst int) Decision {
	if burst == 0 {
		burst = requestsPerMinute
	}
	perSecond := rate.Limit(float64(requestsPerMinute) / 60.0)

	l.mu.Lock()
	limiter, exists := l.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(perSecond, burst)
		l.limiters[key] = limiter
	}
	l.lastSeen[key] = time.Now()
	l.mu.Unlock()

	now := time.Now()
	allowed := limiter.Allow()

	remaining := int(limiter.Tokens())
	if remaining < 0 {
		remaining = 0
	}

	reset := now
	if remaining == 0 && perSecond > 0 {
		reset = now.Add(time.Duration(float64(time.Second) / float64(perSecond)))
	}

	return Decision{Allowed: allowed, Remaining: remaining, Reset: reset}
}

// cleanupWorker periodically removes idle clients from memory.
func (l *Limiter) cleanupWorker() {
	ticker := time.NewTicker(l.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCleanup:
			return
		}
	}
}

// cleanup removes clients that haven't made requests recently.
func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for key, lastSeen := range l.lastSeen {
		if now.Sub(lastSeen) > l.config.MaxIdle {
			delete(l.limiters, key)
			delete(l.lastSeen, key)
		}
	}
}

// Stop stops the cleanup worker.
func (l *Limiter) Stop() {
	close(l.stopCleanup)
}

// Stats returns current rate limiter statistics.
func (l *Limiter) Stats() map[string]interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	return map[string]interface{}{
		"enabled":        l.config.Enabled,
		"active_buckets": len(l.limiters),
		"rate_per_min":   l.config.RequestsPerMinute,
		"burst":          l.config.Burst,
	}
}

// IsEnabled returns whether rate limiting is enabled.
func (l *Limiter) IsEnabled() bool {
	return l.config.Enabled
}

// ClientIP extracts the client IP from the request. Checks X-Forwarded-For
// and X-Real-IP headers for proxied requests.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Take the first IP (original client).
		if idx := strings.IndexByte(xff, ','); idx >= 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	return r.RemoteAddr
}

// EndpointKey builds the endpoint identifier used for per-endpoint limits.
func EndpointKey(r *http.Request) string {
	return r.Method + " " + r.URL.Path
}
