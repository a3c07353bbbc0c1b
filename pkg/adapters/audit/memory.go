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

package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryAuditor implements Auditor with in-memory storage. Thread-safe,
// intended for development and testing; events are lost on restart.
type MemoryAuditor struct {
	mu     sync.RWMutex
	events []*Event
}

// NewMemoryAuditor creates a new in-memory auditor
func NewMemoryAuditor() *MemoryAuditor {
	return &MemoryAuditor{
		events: make([]*Event, 0, 1024),
	}
}

// LogEvent records an audit event in memory
func (m *MemoryAuditor) LogEvent(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	return nil
}

// GetEvents retrieves audit events based on query parameters, newest first.
func (m *MemoryAuditor) GetEvents(ctx context.Context, query *EventQuery) ([]*Event, error) {
	if query == nil {
		query = &EventQuery{}
	}

	m.mu.RLock()
	results := make([]*Event, 0, len(m.events))
	for _, event := range m.events {
		if matchesQuery(event, query) {
			results = append(results, event)
		}
	}
	m.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		return results[i].Timestamp.After(results[j].Timestamp)
	})

	if query.Limit > 0 && query.Limit < len(results) {
		results = results[:query.Limit]
	}
	return results, nil
}

// Count returns the number of recorded events.
func (m *MemoryAuditor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

func matchesQuery(event *Event, query *EventQuery) bool {
	if len(query.EventTypes) > 0 {
		matched := false
		for _, et := range query.EventTypes {
			if event.EventType == et {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if len(query.Severities) > 0 {
		matched := false
		for _, s := range query.Severities {
			if event.Severity == s {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if query.UserID != "" && event.UserID != query.UserID {
		return false
	}
	if query.SessionID != "" && event.SessionID != query.SessionID {
		return false
	}
	if query.StartTime != nil && event.Timestamp.Before(*query.StartTime) {
		return false
	}
	if query.EndTime != nil && event.Timestamp.After(*query.EndTime) {
		return false
	}
	return true
}
