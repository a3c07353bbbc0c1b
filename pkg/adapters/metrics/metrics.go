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

// Package metrics provides an adapter interface for metrics and telemetry,
// allowing calling applications to implement custom collection strategies.
package metrics

import (
	"context"
	"time"
)

// Standard metric names used throughout the authguard system
const (
	// Authentication
	MetricLoginSuccess = "authguard.auth.login.success"
	MetricLoginFailure = "authguard.auth.login.failure"
	MetricTokenIssued  = "authguard.auth.token.issued"
	MetricTokenRefresh = "authguard.auth.token.refresh"
	MetricLogout       = "authguard.auth.logout"

	// Sessions
	MetricSessionsCreated   = "authguard.sessions.created"
	MetricSessionsRotated   = "authguard.sessions.rotated"
	MetricSessionsEvicted   = "authguard.sessions.evicted"
	MetricSessionsExpired   = "authguard.sessions.expired"
	MetricSessionsActive    = "authguard.sessions.active"
	MetricSessionsCleanedUp = "authguard.sessions.cleaned_up"

	// WebAuthn
	MetricWebAuthnRegistrations     = "authguard.webauthn.registrations"
	MetricWebAuthnAuthentications   = "authguard.webauthn.authentications"
	MetricWebAuthnCounterRegression = "authguard.webauthn.counter_regressions"

	// Pipeline
	MetricRequestsTotal   = "authguard.requests.total"
	MetricRequestsLatency = "authguard.latency.requests"
	MetricRateLimited     = "authguard.requests.rate_limited"
	MetricCSRFRejected    = "authguard.requests.csrf_rejected"
	MetricInputSanitized  = "authguard.requests.input_sanitized"
	MetricAuthzDenied     = "authguard.requests.authz_denied"

	// Errors
	MetricErrorTotal            = "authguard.error.total"
	MetricErrorStoreUnavailable = "authguard.error.store_unavailable"
)

// Adapter provides metrics and telemetry collection capabilities.
//
// Applications can implement this interface to provide custom metrics
// strategies (e.g., Prometheus, StatsD, OpenTelemetry integration).
type Adapter interface {
	// RecordCounter increments a counter metric by 1
	RecordCounter(ctx context.Context, name string, tags map[string]string) error

	// RecordCounterWithValue increments a counter metric by a specific value
	RecordCounterWithValue(ctx context.Context, name string, value int64, tags map[string]string) error

	// RecordGauge sets a gauge metric to a specific value
	RecordGauge(ctx context.Context, name string, value float64, tags map[string]string) error

	// RecordTimer measures the duration of an operation and records it
	RecordTimer(ctx context.Context, name string, duration time.Duration, tags map[string]string) error

	// Name returns the metrics adapter name for logging/debugging
	Name() string
}

// WithTimer measures the duration of an operation and records it
// automatically.
func WithTimer(ctx context.Context, adapter Adapter, name string, tags map[string]string, fn func() error) error {
	start := time.Now()
	err := fn()
	duration := time.Since(start)

	if adapter != nil {
		if recordErr := adapter.RecordTimer(ctx, name, duration, tags); recordErr != nil && err == nil {
			err = recordErr
		}
	}
	return err
}
