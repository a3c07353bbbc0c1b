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

// Package rbac provides an adapter interface for Role-Based Access
// Control, allowing calling applications to integrate their own
// authorization system.
package rbac

import (
	"context"
	"fmt"
)

// Permission represents a specific permission on a resource
type Permission struct {
	// Resource is the target of the permission (e.g., "sessions", "credentials")
	Resource string

	// Action is the operation being performed (e.g., "read", "delete", "list")
	Action string
}

// String returns a string representation of the permission in resource:action format
func (p Permission) String() string {
	return fmt.Sprintf("%s:%s", p.Resource, p.Action)
}

// Matches checks if a permission matches another permission considering wildcards
func (p Permission) Matches(other Permission) bool {
	resourceMatch := p.Resource == other.Resource || p.Resource == Wildcard || other.Resource == Wildcard
	actionMatch := p.Action == other.Action || p.Action == Wildcard || other.Action == Wildcard
	return resourceMatch && actionMatch
}

// Role represents a named set of permissions
type Role struct {
	// Name is the unique identifier for the role
	Name string

	// Description provides context about the role's purpose
	Description string

	// Permissions is the set of permissions granted to this role
	Permissions []Permission
}

// HasPermission checks if the role has a permission, honoring wildcards.
func (r *Role) HasPermission(permission Permission) bool {
	for _, p := range r.Permissions {
		if p.Matches(permission) {
			return true
		}
	}
	return false
}

// Decision is the outcome of an access check.
type Decision struct {
	// Allowed reports whether access is granted.
	Allowed bool

	// MatchedRole is the role that granted access, when allowed.
	MatchedRole string

	// Reason explains a denial.
	Reason string
}

// Authorizer is the interface for Role-Based Access Control adapters.
// Applications implement this interface to integrate their own
// authorization system.
type Authorizer interface {
	// CheckAccess verifies whether a subject may perform an action on a
	// resource and explains the outcome.
	CheckAccess(ctx context.Context, subject string, permission Permission) (*Decision, error)

	// AssignRole assigns a role to a subject.
	AssignRole(ctx context.Context, subject string, roleName string) error

	// RevokeRole removes a role from a subject.
	RevokeRole(ctx context.Context, subject string, roleName string) error

	// SubjectRoles retrieves all roles assigned to a subject.
	SubjectRoles(ctx context.Context, subject string) ([]string, error)

	// CreateRole creates a new role with the specified permissions.
	CreateRole(ctx context.Context, role *Role) error

	// GetRole retrieves a role by name.
	GetRole(ctx context.Context, roleName string) (*Role, error)

	// SubjectPermissions aggregates permissions from all roles assigned
	// to the subject.
	SubjectPermissions(ctx context.Context, subject string) ([]Permission, error)
}

// Common predefined roles
const (
	RoleAdmin    = "admin"
	RoleUser     = "user"
	RoleReadOnly = "readonly"
)

// Common resources
const (
	ResourceSessions    = "sessions"
	ResourceCredentials = "credentials"
	ResourceUsers       = "users"
	ResourceAudit       = "audit"
)

// Common actions
const (
	ActionCreate = "create"
	ActionRead   = "read"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionList   = "list"
)

// Wildcard matches any resource or action.
const Wildcard = "*"

// NewPermission creates a new permission with the given resource and action
func NewPermission(resource, action string) Permission {
	return Permission{
		Resource: resource,
		Action:   action,
	}
}
