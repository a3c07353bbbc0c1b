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

package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-authguard/pkg/adapters/audit"
	"github.com/jeremyhahn/go-authguard/pkg/adapters/logger"
	"github.com/jeremyhahn/go-authguard/pkg/adapters/metrics"
	"github.com/jeremyhahn/go-authguard/pkg/session"
	"github.com/jeremyhahn/go-authguard/pkg/token"
)

// RequestMeta carries client attribution for sessions and audit events.
type RequestMeta struct {
	IP        string
	UserAgent string
	RequestID string
}

// LoginResult is the outcome of a successful login: the verified
// identity, its new session, and the token pair bound to that session.
type LoginResult struct {
	Identity *Identity
	Session  *session.Record
	Tokens   *token.Pair
}

// ManagerParams configures the login manager.
type ManagerParams struct {
	// Strategies are consulted in order; the first match runs (required).
	Strategies []Strategy

	// Sessions manages the server-side session lifecycle (required).
	Sessions *session.Manager

	// Tokens issues and verifies the signed token pairs (required).
	Tokens *token.Service

	// Auditor, Metrics, and Logger are optional.
	Auditor audit.Auditor
	Metrics metrics.Adapter
	Logger  logger.Logger
}

// Manager orchestrates login, token refresh, and logout across the
// registered strategies, the session manager, and the token service.
type Manager struct {
	strategies []Strategy
	sessions   *session.Manager
	tokens     *token.Service
	auditor    audit.Auditor
	metrics    metrics.Adapter
	log        logger.Logger
}

// NewManager creates a login manager.
func NewManager(params *ManagerParams) (*Manager, error) {
	if params == nil {
		return nil, fmt.Errorf("params are required")
	}
	if len(params.Strategies) == 0 {
		return nil, fmt.Errorf("at least one strategy is required")
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

	return &Manager{
		strategies: params.Strategies,
		sessions:   params.Sessions,
		tokens:     params.Tokens,
		auditor:    params.Auditor,
		metrics:    m,
		log:        log,
	}, nil
}

// Login verifies credentials against the first applicable strategy, then
// creates a session and issues the token pair bound to it.
func (m *Manager) Login(ctx context.Context, creds *Credentials, meta RequestMeta) (*LoginResult, error) {
	strategy := m.strategyFor(creds)
	if strategy == nil {
		return nil, ErrNoStrategy
	}

	identity, err := strategy.Authenticate(ctx, creds)
	if err != nil {
		m.recordCounter(ctx, metrics.MetricLoginFailure, map[string]string{"method": strategy.Name()})
		m.audit(ctx, &audit.Event{
			EventType: audit.EventLoginFailure,
			Severity:  audit.SeverityWarn,
			Outcome:   audit.OutcomeFailure,
			Action:    "login",
			Result:    err.Error(),
			RequestID: meta.RequestID,
			SourceIP:  meta.IP,
			UserAgent: meta.UserAgent,
			Metadata:  map[string]interface{}{"method": strategy.Name()},
		})
		return nil, err
	}

	record, err := m.sessions.Create(ctx, session.CreateParams{
		UserID:      identity.Subject,
		Roles:       identity.Roles,
		Permissions: identity.Permissions,
		IPAddress:   meta.IP,
		UserAgent:   meta.UserAgent,
		LoginMethod: strategy.Name(),
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	pair, err := m.tokens.IssuePair(token.Payload{
		SubjectID:   identity.Subject,
		Email:       identity.Email,
		Roles:       identity.Roles,
		Permissions: identity.Permissions,
		SessionID:   record.ID,
	})
	if err != nil {
		// The session is orphaned without tokens; remove it.
		if invErr := m.sessions.Invalidate(ctx, record.ID); invErr != nil {
			m.log.Warn("failed to invalidate session after token issuance failure",
				logger.String("session_id", record.ID),
				logger.Error(invErr))
		}
		return nil, fmt.Errorf("issue tokens: %w", err)
	}

	m.recordCounter(ctx, metrics.MetricLoginSuccess, map[string]string{"method": strategy.Name()})
	m.recordCounter(ctx, metrics.MetricSessionsCreated, nil)
	m.audit(ctx, &audit.Event{
		EventType: audit.EventLoginSuccess,
		Severity:  audit.SeverityInfo,
		Outcome:   audit.OutcomeSuccess,
		UserID:    identity.Subject,
		Action:    "login",
		Result:    "authenticated via " + strategy.Name(),
		RequestID: meta.RequestID,
		SessionID: record.ID,
		SourceIP:  meta.IP,
		UserAgent: meta.UserAgent,
	})
	m.log.Info("login succeeded",
		logger.String("user_id", identity.Subject),
		logger.String("method", strategy.Name()),
		logger.String("session_id", record.ID))

	return &LoginResult{
		Identity: identity,
		Session:  record,
		Tokens:   pair,
	}, nil
}

// Refresh verifies a refresh token, confirms its session is still live,
// and issues a new access token. The refresh token itself is not rotated.
func (m *Manager) Refresh(ctx context.Context, refreshToken string, meta RequestMeta) (string, error) {
	data, err := m.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		return "", err
	}

	record, _, err := m.sessions.Validate(ctx, data.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrStoreUnavailable) {
			return "", err
		}
		// The token outlived its session; refuse the refresh.
		return "", fmt.Errorf("%w: session no longer valid", ErrInvalidCredentials)
	}
	if record.UserID != data.SubjectID {
		return "", ErrInvalidCredentials
	}

	accessToken, err := m.tokens.RefreshAccessToken(refreshToken, token.Payload{
		SubjectID:   record.UserID,
		Roles:       record.Roles,
		Permissions: record.Permissions,
		SessionID:   record.ID,
	})
	if err != nil {
		return "", err
	}

	m.recordCounter(ctx, metrics.MetricTokenRefresh, nil)
	m.audit(ctx, &audit.Event{
		EventType: audit.EventTokenRefresh,
		Severity:  audit.SeverityInfo,
		Outcome:   audit.OutcomeSuccess,
		UserID:    record.UserID,
		Action:    "refresh",
		RequestID: meta.RequestID,
		SessionID: record.ID,
		SourceIP:  meta.IP,
		UserAgent: meta.UserAgent,
	})
	return accessToken, nil
}

// Logout invalidates a session. Idempotent: a missing session is not an
// error.
func (m *Manager) Logout(ctx context.Context, sessionID string, meta RequestMeta) error {
	err := m.sessions.Invalidate(ctx, sessionID)
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		return err
	}

	m.recordCounter(ctx, metrics.MetricLogout, nil)
	m.audit(ctx, &audit.Event{
		EventType: audit.EventLogout,
		Severity:  audit.SeverityInfo,
		Outcome:   audit.OutcomeSuccess,
		Action:    "logout",
		RequestID: meta.RequestID,
		SessionID: sessionID,
		SourceIP:  meta.IP,
		UserAgent: meta.UserAgent,
	})
	return nil
}

func (m *Manager) strategyFor(creds *Credentials) Strategy {
	for _, s := range m.strategies {
		if s.CanHandle(creds) {
			return s
		}
	}
	return nil
}

func (m *Manager) audit(ctx context.Context, event *audit.Event) {
	if m.auditor == nil {
		return
	}
	if err := m.auditor.LogEvent(ctx, event); err != nil {
		m.log.Warn("audit logging failed",
			logger.String("event_type", string(event.EventType)),
			logger.Error(err))
	}
}

func (m *Manager) recordCounter(ctx context.Context, name string, tags map[string]string) {
	if err := m.metrics.RecordCounter(ctx, name, tags); err != nil {
		m.log.Debug("metric recording failed",
			logger.String("metric", name),
			logger.Error(err))
	}
}
