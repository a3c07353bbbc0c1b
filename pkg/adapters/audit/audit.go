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

// Package audit provides an adapter interface for security audit logging,
// allowing calling applications to implement custom audit trail strategies.
package audit

import (
	"context"
	"time"
)

// EventType represents the type of audit event
type EventType string

const (
	// Authentication Events
	EventLoginSuccess EventType = "auth.login.success"
	EventLoginFailure EventType = "auth.login.failure"
	EventTokenRefresh EventType = "auth.token.refresh"
	EventLogout       EventType = "auth.logout"

	// Session Events
	EventSessionCreate     EventType = "session.create"
	EventSessionRotate     EventType = "session.rotate"
	EventSessionEvict      EventType = "session.evict"
	EventSessionInvalidate EventType = "session.invalidate"

	// WebAuthn Events
	EventWebAuthnRegister          EventType = "webauthn.register"
	EventWebAuthnAuthenticate      EventType = "webauthn.authenticate"
	EventWebAuthnCounterRegression EventType = "webauthn.counter_regression"

	// Authorization Events
	EventAuthzAllow EventType = "authz.allow"
	EventAuthzDeny  EventType = "authz.deny"

	// Pipeline Events
	EventRateLimited      EventType = "pipeline.rate_limited"
	EventCSRFRejected     EventType = "pipeline.csrf_rejected"
	EventInputSanitized   EventType = "pipeline.input_sanitized"
	EventRequestCompleted EventType = "pipeline.request_completed"
)

// EventSeverity indicates the importance level of an audit event
type EventSeverity string

const (
	SeverityInfo     EventSeverity = "info"
	SeverityWarn     EventSeverity = "warn"
	SeverityError    EventSeverity = "error"
	SeverityCritical EventSeverity = "critical"
)

// EventOutcome indicates the result of an operation
type EventOutcome string

const (
	OutcomeSuccess EventOutcome = "success"
	OutcomeFailure EventOutcome = "failure"
	OutcomeDenied  EventOutcome = "denied"
)

// Event represents a single audit log entry
type Event struct {
	// ID is a unique identifier for this audit event
	ID string

	// Timestamp when the event occurred
	Timestamp time.Time

	// EventType categorizes the event
	EventType EventType

	// Severity indicates the importance level
	Severity EventSeverity

	// Outcome indicates whether the operation succeeded
	Outcome EventOutcome

	// UserID is the identity the event concerns, if known
	UserID string

	// Action describes what was attempted
	Action string

	// Result contains the outcome or error message
	Result string

	// RequestID correlates this event with a request
	RequestID string

	// SessionID correlates this event with a session
	SessionID string

	// SourceIP is the IP address of the client
	SourceIP string

	// UserAgent is the user agent string
	UserAgent string

	// Metadata stores additional context
	Metadata map[string]interface{}
}

// Auditor records audit events.
//
// Applications can implement this interface to provide custom audit
// strategies (e.g., database-backed, SIEM integration).
type Auditor interface {
	// LogEvent records an audit event. Best effort: callers must not fail
	// the guarded operation when audit logging fails.
	LogEvent(ctx context.Context, event *Event) error

	// GetEvents retrieves audit events based on query parameters
	GetEvents(ctx context.Context, query *EventQuery) ([]*Event, error)
}

// EventQuery provides parameters for querying audit events
type EventQuery struct {
	// EventTypes filters by event type
	EventTypes []EventType

	// Severities filters by severity
	Severities []EventSeverity

	// UserID filters by user
	UserID string

	// SessionID filters by session
	SessionID string

	// StartTime filters events after this time
	StartTime *time.Time

	// EndTime filters events before this time
	EndTime *time.Time

	// Limit limits the number of results
	Limit int
}
