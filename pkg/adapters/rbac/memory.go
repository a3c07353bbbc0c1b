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

package rbac

import (
	"context"
	"fmt"
	"sync"
)

// MemoryAuthorizer implements Authorizer with in-memory storage.
// Thread-safe, intended for development and testing.
type MemoryAuthorizer struct {
	mu           sync.RWMutex
	roles        map[string]*Role
	subjectRoles map[string]map[string]bool
}

// NewMemoryAuthorizer creates an in-memory authorizer with no roles.
func NewMemoryAuthorizer() *MemoryAuthorizer {
	return &MemoryAuthorizer{
		roles:        make(map[string]*Role),
		subjectRoles: make(map[string]map[string]bool),
	}
}

// NewMemoryAuthorizerWithDefaults creates an in-memory authorizer
// preloaded with the common admin, user, and readonly roles.
func NewMemoryAuthorizerWithDefaults() *MemoryAuthorizer {
	m := NewMemoryAuthorizer()
	defaults := []*Role{
		{
			Name:        RoleAdmin,
			Description: "Full access to all resources",
			Permissions: []Permission{{Resource: Wildcard, Action: Wildcard}},
		},
		{
			Name:        RoleUser,
			Description: "Manage own sessions and credentials",
			Permissions: []Permission{
				{Resource: ResourceSessions, Action: ActionRead},
				{Resource: ResourceSessions, Action: ActionList},
				{Resource: ResourceSessions, Action: ActionDelete},
				{Resource: ResourceCredentials, Action: ActionCreate},
				{Resource: ResourceCredentials, Action: ActionRead},
				{Resource: ResourceCredentials, Action: ActionList},
				{Resource: ResourceCredentials, Action: ActionDelete},
			},
		},
		{
			Name:        RoleReadOnly,
			Description: "Read-only access",
			Permissions: []Permission{
				{Resource: ResourceSessions, Action: ActionRead},
				{Resource: ResourceSessions, Action: ActionList},
				{Resource: ResourceCredentials, Action: ActionRead},
				{Resource: ResourceCredentials, Action: ActionList},
			},
		},
	}
	for _, role := range defaults {
		m.roles[role.Name] = role
	}
	return m
}

// CheckAccess verifies whether a subject may perform an action on a
// resource. Denied decisions carry a reason; errors are reserved for
// infrastructure failures.
func (m *MemoryAuthorizer) CheckAccess(ctx context.Context, subject string, permission Permission) (*Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	assigned, ok := m.subjectRoles[subject]
	if !ok || len(assigned) == 0 {
		return &Decision{Allowed: false, Reason: "no roles assigned"}, nil
	}

	for roleName := range assigned {
		role, ok := m.roles[roleName]
		if !ok {
			continue
		}
		if role.HasPermission(permission) {
			return &Decision{Allowed: true, MatchedRole: roleName}, nil
		}
	}
	return &Decision{
		Allowed: false,
		Reason:  fmt.Sprintf("no role grants %s", permission),
	}, nil
}

// AssignRole assigns a role to a subject.
func (m *MemoryAuthorizer) AssignRole(ctx context.Context, subject string, roleName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.roles[roleName]; !ok {
		return fmt.Errorf("role not found: %s", roleName)
	}
	if m.subjectRoles[subject] == nil {
		m.subjectRoles[subject] = make(map[string]bool)
	}
	m.subjectRoles[subject][roleName] = true
	return nil
}

// RevokeRole removes a role from a subject.
func (m *MemoryAuthorizer) RevokeRole(ctx context.Context, subject string, roleName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	assigned, ok := m.subjectRoles[subject]
	if !ok || !assigned[roleName] {
		return fmt.Errorf("role %s not assigned to %s", roleName, subject)
	}
	delete(assigned, roleName)
	return nil
}

// SubjectRoles retrieves all roles assigned to a subject.
func (m *MemoryAuthorizer) SubjectRoles(ctx context.Context, subject string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	roles := make([]string, 0, len(m.subjectRoles[subject]))
	for roleName := range m.subjectRoles[subject] {
		roles = append(roles, roleName)
	}
	return roles, nil
}

// CreateRole creates a new role with the specified permissions.
func (m *MemoryAuthorizer) CreateRole(ctx context.Context, role *Role) error {
	if role == nil || role.Name == "" {
		return fmt.Errorf("role name is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.roles[role.Name]; ok {
		return fmt.Errorf("role already exists: %s", role.Name)
	}
	m.roles[role.Name] = role
	return nil
}

// GetRole retrieves a role by name.
func (m *MemoryAuthorizer) GetRole(ctx context.Context, roleName string) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	role, ok := m.roles[roleName]
	if !ok {
		return nil, fmt.Errorf("role not found: %s", roleName)
	}
	return role, nil
}

// SubjectPermissions aggregates permissions from all of a subject's roles.
func (m *MemoryAuthorizer) SubjectPermissions(ctx context.Context, subject string) ([]Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	var permissions []Permission
	for roleName := range m.subjectRoles[subject] {
		role, ok := m.roles[roleName]
		if !ok {
			continue
		}
		for _, p := range role.Permissions {
			if !seen[p.String()] {
				seen[p.String()] = true
				permissions = append(permissions, p)
			}
		}
	}
	return permissions, nil
}
