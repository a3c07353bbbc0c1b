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

package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-authguard/pkg/adapters/logger"
)

// Default manager settings.
const (
	DefaultTTL                = 24 * time.Hour
	DefaultRotationInterval   = 30 * time.Minute
	DefaultMaxSessionsPerUser = 5
	DefaultCleanupInterval    = 5 * time.Minute
)

// Config configures the session manager.
type Config struct {
	// TTL is the session lifetime (default: 24h).
	TTL time.Duration

	// RotationInterval is how long a session may go between rotations
	// before Validate reports that rotation is required (default: 30m).
	RotationInterval time.Duration

	// MaxSessionsPerUser bounds concurrent sessions per user; the least
	// recently active session is evicted when exceeded (default: 5).
	// The bound is soft under concurrent creates (see package docs).
	MaxSessionsPerUser int

	// CleanupInterval is the period of the expired-session sweep
	// (default: 5m).
	CleanupInterval time.Duration

	// Logger is optional.
	Logger logger.Logger

	// Clock overrides the time source. Intended for tests.
	Clock func() time.Time
}

// CreateParams describes the session to create at login.
type CreateParams struct {
	UserID      string
	Roles       []string
	Permissions []string
	IPAddress   string
	UserAgent   string
	LoginMethod string
}

// Manager owns the session lifecycle: creation with concurrent-session
// eviction, validation with expiry self-healing, rotation, invalidation,
// and the periodic cleanup sweep.
type Manager struct {
	store  *Store
	config *Config
	clock  func() time.Time
	log    logger.Logger
	stop   chan struct{}
}

// NewManager creates a session manager over the given store.
func NewManager(store *Store, config *Config) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if config == nil {
		config = &Config{}
	}
	if config.TTL == 0 {
		config.TTL = DefaultTTL
	}
	if config.RotationInterval == 0 {
		config.RotationInterval = DefaultRotationInterval
	}
	if config.MaxSessionsPerUser == 0 {
		config.MaxSessionsPerUser = DefaultMaxSessionsPerUser
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = DefaultCleanupInterval
	}

	clock := config.Clock
	if clock == nil {
		clock = time.Now
	}
	log := config.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	return &Manager{
		store:  store,
		config: config,
		clock:  clock,
		log:    log,
		stop:   make(chan struct{}),
	}, nil
}

// Create establishes a new session for a user, evicting the least
// recently active session when the per-user limit is reached.
//
// The limit check is read-then-write over the store and therefore a soft
// bound: two concurrent creates can both pass the check and exceed the
// limit by one.
func (m *Manager) Create(ctx context.Context, params CreateParams) (*Record, error) {
	if params.UserID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	now := m.clock()
	live, err := m.liveSessions(ctx, params.UserID, now)
	if err != nil {
		return nil, err
	}

	// Evict least-recently-active sessions until under the limit.
	for len(live) >= m.config.MaxSessionsPerUser {
		lru := live[0]
		for _, candidate := range live[1:] {
			if candidate.LastActivityAt.Before(lru.LastActivityAt) {
				lru = candidate
			}
		}
		if err := m.store.Delete(ctx, lru.ID); err != nil {
			return nil, err
		}
		m.log.Info("evicted least-recently-active session",
			logger.String("user_id", params.UserID),
			logger.String("session_id", lru.ID))
		live = removeRecord(live, lru.ID)
	}

	record := &Record{
		ID:             newSessionID(),
		UserID:         params.UserID,
		Roles:          params.Roles,
		Permissions:    params.Permissions,
		IPAddress:      params.IPAddress,
		UserAgent:      params.UserAgent,
		LoginMethod:    params.LoginMethod,
		CSRFToken:      newCSRFToken(),
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(m.config.TTL),
		Active:         true,
	}

	if err := m.store.Put(ctx, record, now); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(live)+1)
	for _, rec := range live {
		ids = append(ids, rec.ID)
	}
	ids = append(ids, record.ID)
	if err := m.store.PutUserIndex(ctx, params.UserID, ids, m.config.TTL); err != nil {
		return nil, err
	}

	return record, nil
}

// Validate checks a session id and, when valid, touches LastActivityAt
// and reports whether the session is due for rotation.
//
// Expired sessions self-heal: the record is removed on detection and a
// subsequent Validate on the same id reports ErrNotFound.
func (m *Manager) Validate(ctx context.Context, sessionID string) (*Record, bool, error) {
	record, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	if !record.Active {
		return nil, false, ErrInactive
	}

	now := m.clock()
	if record.Expired(now) {
		if err := m.invalidateRecord(ctx, record); err != nil {
			m.log.Warn("failed to invalidate expired session",
				logger.String("session_id", sessionID),
				logger.Error(err))
		}
		return nil, false, ErrExpired
	}

	requiresRotation := now.Sub(record.LastActivityAt) >= m.config.RotationInterval
	record.LastActivityAt = now
	if err := m.store.Put(ctx, record, now); err != nil {
		return nil, false, err
	}
	return record, requiresRotation, nil
}

// Get retrieves a session without touching activity. Used by pipeline
// stages that need the record before authentication runs.
func (m *Manager) Get(ctx context.Context, sessionID string) (*Record, error) {
	record, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !record.Active {
		return nil, ErrInactive
	}
	if record.Expired(m.clock()) {
		return nil, ErrExpired
	}
	return record, nil
}

// Rotate replaces a session's identifier, carrying all other state
// forward. The old id is deleted synchronously before the new id is
// returned, so a retried request against the old id gets a clean
// ErrNotFound rather than stale data.
func (m *Manager) Rotate(ctx context.Context, oldSessionID string) (string, error) {
	record, err := m.store.Get(ctx, oldSessionID)
	if err != nil {
		return "", err
	}
	if !record.Active {
		return "", ErrInactive
	}

	now := m.clock()
	if record.Expired(now) {
		if err := m.invalidateRecord(ctx, record); err != nil {
			m.log.Warn("failed to invalidate expired session",
				logger.String("session_id", oldSessionID),
				logger.Error(err))
		}
		return "", ErrExpired
	}

	rotated := *record
	rotated.ID = newSessionID()
	rotated.LastActivityAt = now

	if err := m.store.Put(ctx, &rotated, now); err != nil {
		return "", err
	}
	if err := m.store.Delete(ctx, oldSessionID); err != nil {
		return "", err
	}
	if err := m.replaceInIndex(ctx, record.UserID, oldSessionID, rotated.ID); err != nil {
		return "", err
	}

	m.log.Debug("rotated session",
		logger.String("user_id", record.UserID),
		logger.String("old_session_id", oldSessionID),
		logger.String("new_session_id", rotated.ID))
	return rotated.ID, nil
}

// Invalidate marks a session inactive and removes it from the store and
// the user index.
func (m *Manager) Invalidate(ctx context.Context, sessionID string) error {
	record, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	return m.invalidateRecord(ctx, record)
}

// InvalidateAll invalidates every session belonging to a user.
func (m *Manager) InvalidateAll(ctx context.Context, userID string) error {
	ids, err := m.store.UserIndex(ctx, userID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := m.store.Delete(ctx, id); err != nil {
			return err
		}
	}
	return m.store.PutUserIndex(ctx, userID, nil, 0)
}

// Sessions returns a user's live sessions in index order.
func (m *Manager) Sessions(ctx context.Context, userID string) ([]*Record, error) {
	return m.liveSessions(ctx, userID, m.clock())
}

// CleanupExpired sweeps the store and removes expired records. Best
// effort: Validate is the authoritative expiry check.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	ids, err := m.store.SessionIDs(ctx)
	if err != nil {
		return 0, err
	}

	now := m.clock()
	removed := 0
	for _, id := range ids {
		record, err := m.store.Get(ctx, id)
		if err != nil {
			continue
		}
		if record.Expired(now) || !record.Active {
			if err := m.invalidateRecord(ctx, record); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// StartCleanup runs the expired-session sweep on a periodic timer until
// Stop is called.
func (m *Manager) StartCleanup() {
	go func() {
		ticker := time.NewTicker(m.config.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				removed, err := m.CleanupExpired(context.Background())
				if err != nil {
					m.log.Warn("session cleanup sweep failed", logger.Error(err))
					continue
				}
				if removed > 0 {
					m.log.Debug("session cleanup sweep", logger.Int("removed", removed))
				}
			case <-m.stop:
				return
			}
		}
	}()
}

// Stop terminates the cleanup sweep.
func (m *Manager) Stop() {
	close(m.stop)
}

// liveSessions loads the user's indexed sessions, dropping ids whose
// record is missing, inactive, or expired, and rewrites the index when it
// had drifted.
func (m *Manager) liveSessions(ctx context.Context, userID string, now time.Time) ([]*Record, error) {
	ids, err := m.store.UserIndex(ctx, userID)
	if err != nil {
		return nil, err
	}

	live := make([]*Record, 0, len(ids))
	drifted := false
	for _, id := range ids {
		record, err := m.store.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			drifted = true
			continue
		}
		if err != nil {
			return nil, err
		}
		if !record.Active || record.Expired(now) {
			drifted = true
			continue
		}
		live = append(live, record)
	}

	if drifted {
		remaining := make([]string, 0, len(live))
		for _, rec := range live {
			remaining = append(remaining, rec.ID)
		}
		if err := m.store.PutUserIndex(ctx, userID, remaining, m.config.TTL); err != nil {
			return nil, err
		}
	}
	return live, nil
}

func (m *Manager) invalidateRecord(ctx context.Context, record *Record) error {
	if err := m.store.Delete(ctx, record.ID); err != nil {
		return err
	}

	ids, err := m.store.UserIndex(ctx, record.UserID)
	if err != nil {
		return err
	}
	remaining := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != record.ID {
			remaining = append(remaining, id)
		}
	}
	return m.store.PutUserIndex(ctx, record.UserID, remaining, m.config.TTL)
}

func (m *Manager) replaceInIndex(ctx context.Context, userID, oldID, newID string) error {
	ids, err := m.store.UserIndex(ctx, userID)
	if err != nil {
		return err
	}
	replaced := false
	for i, id := range ids {
		if id == oldID {
			ids[i] = newID
			replaced = true
		}
	}
	if !replaced {
		ids = append(ids, newID)
	}
	return m.store.PutUserIndex(ctx, userID, ids, m.config.TTL)
}

func removeRecord(records []*Record, id string) []*Record {
	out := records[:0]
	for _, rec := range records {
		if rec.ID != id {
			out = append(out, rec)
		}
	}
	return out
}
