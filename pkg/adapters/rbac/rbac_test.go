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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermission_String(t *testing.T) {
	p := NewPermission(ResourceSessions, ActionRead)
	assert.Equal(t, "sessions:read", p.String())
}

func TestPermission_Matches(t *testing.T) {
	tests := []struct {
		name     string
		have     Permission
		want     Permission
		expected bool
	}{
		{
			name:     "exact match",
			have:     NewPermission(ResourceSessions, ActionRead),
			want:     NewPermission(ResourceSessions, ActionRead),
			expected: true,
		},
		{
			name:     "wildcard resource",
			have:     NewPermission(Wildcard, ActionRead),
			want:     NewPermission(ResourceSessions, ActionRead),
			expected: true,
		},
		{
			name:     "wildcard action",
			have:     NewPermission(ResourceSessions, Wildcard),
			want:     NewPermission(ResourceSessions, ActionDelete),
			expected: true,
		},
		{
			name:     "full wildcard",
			have:     NewPermission(Wildcard, Wildcard),
			want:     NewPermission(ResourceAudit, ActionList),
			expected: true,
		},
		{
			name:     "different action",
			have:     NewPermission(ResourceSessions, ActionRead),
			want:     NewPermission(ResourceSessions, ActionDelete),
			expected: false,
		},
		{
			name:     "different resource",
			have:     NewPermission(ResourceSessions, ActionRead),
			want:     NewPermission(ResourceCredentials, ActionRead),
			expected: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.have.Matches(tc.want))
		})
	}
}

func TestMemoryAuthorizer_CheckAccess(t *testing.T) {
	ctx := context.Background()
	authz := NewMemoryAuthorizerWithDefaults()

	require.NoError(t, authz.AssignRole(ctx, "alice", RoleUser))

	decision, err := authz.CheckAccess(ctx, "alice", NewPermission(ResourceSessions, ActionRead))
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, RoleUser, decision.MatchedRole)

	decision, err = authz.CheckAccess(ctx, "alice", NewPermission(ResourceAudit, ActionList))
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.NotEmpty(t, decision.Reason)
}

func TestMemoryAuthorizer_AdminWildcard(t *testing.T) {
	ctx := context.Background()
	authz := NewMemoryAuthorizerWithDefaults()

	require.NoError(t, authz.AssignRole(ctx, "root", RoleAdmin))

	decision, err := authz.CheckAccess(ctx, "root", NewPermission(ResourceAudit, ActionDelete))
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestMemoryAuthorizer_NoRoles(t *testing.T) {
	authz := NewMemoryAuthorizerWithDefaults()

	decision, err := authz.CheckAccess(context.Background(), "nobody", NewPermission(ResourceSessions, ActionRead))
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "no roles assigned", decision.Reason)
}

func TestMemoryAuthorizer_AssignUnknownRole(t *testing.T) {
	authz := NewMemoryAuthorizer()

	err := authz.AssignRole(context.Background(), "alice", "missing")
	assert.Error(t, err)
}

func TestMemoryAuthorizer_RevokeRole(t *testing.T) {
	ctx := context.Background()
	authz := NewMemoryAuthorizerWithDefaults()

	require.NoError(t, authz.AssignRole(ctx, "alice", RoleUser))
	require.NoError(t, authz.RevokeRole(ctx, "alice", RoleUser))

	decision, err := authz.CheckAccess(ctx, "alice", NewPermission(ResourceSessions, ActionRead))
	require.NoError(t, err)
	assert.False(t, decision.Allowed)

	err = authz.RevokeRole(ctx, "alice", RoleUser)
	assert.Error(t, err)
}

func TestMemoryAuthorizer_CreateRole(t *testing.T) {
	ctx := context.Background()
	authz := NewMemoryAuthorizer()

	role := &Role{
		Name:        "support",
		Permissions: []Permission{NewPermission(ResourceUsers, ActionRead)},
	}
	require.NoError(t, authz.CreateRole(ctx, role))

	err := authz.CreateRole(ctx, role)
	assert.Error(t, err)

	got, err := authz.GetRole(ctx, "support")
	require.NoError(t, err)
	assert.Equal(t, role.Permissions, got.Permissions)
}

func TestMemoryAuthorizer_SubjectPermissions(t *testing.T) {
	ctx := context.Background()
	authz := NewMemoryAuthorizerWithDefaults()

	require.NoError(t, authz.AssignRole(ctx, "alice", RoleUser))
	require.NoError(t, authz.AssignRole(ctx, "alice", RoleReadOnly))

	permissions, err := authz.SubjectPermissions(ctx, "alice")
	require.NoError(t, err)

	// Overlapping permissions from the two roles are deduplicated.
	seen := make(map[string]int)
	for _, p := range permissions {
		seen[p.String()]++
	}
	for key, count := range seen {
		assert.Equal(t, 1, count, "duplicate permission %s", key)
	}
	assert.Contains(t, seen, "sessions:read")
}

func TestMemoryAuthorizer_SubjectRoles(t *testing.T) {
	ctx := context.Background()
	authz := NewMemoryAuthorizerWithDefaults()

	require.NoError(t, authz.AssignRole(ctx, "alice", RoleUser))
	require.NoError(t, authz.AssignRole(ctx, "alice", RoleAdmin))

	roles, err := authz.SubjectRoles(ctx, "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{RoleUser, RoleAdmin}, roles)
}
