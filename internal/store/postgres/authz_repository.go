// Copyright 2026 The GateKit Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package postgres

import (
	"context"
	"fmt"

	"github.com/gatekit/gatekit/internal/authz"
)

// AuthzRepository implements the authz store interfaces: role
// assignments, group memberships, permission resolution and ABAC
// policies share one repository because they share the schema.
type AuthzRepository struct {
	db *DB
}

// NewAuthzRepository creates a new authorization repository
func NewAuthzRepository(db *DB) *AuthzRepository {
	return &AuthzRepository{db: db}
}

// Grant creates a role assignment
func (r *AuthzRepository) Grant(ctx context.Context, a *authz.RoleAssignment) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO role_assignments (
			id, user_id, role_id, scope_type, scope_id, valid_from, valid_until
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, a.ID, a.UserID, a.RoleID, a.ScopeType, a.ScopeID, a.ValidFrom, a.ValidUntil)
	if err != nil {
		return fmt.Errorf("failed to insert role assignment: %w", err)
	}
	return nil
}

// Revoke removes a role assignment
func (r *AuthzRepository) Revoke(ctx context.Context, assignmentID string) error {
	result, err := r.db.pool.Exec(ctx, `
		DELETE FROM role_assignments WHERE id = $1
	`, assignmentID)
	if err != nil {
		return fmt.Errorf("failed to delete role assignment: %w", err)
	}
	if result.RowsAffected() == 0 {
		return authz.ErrRoleNotFound
	}
	return nil
}

// ListForUser retrieves all role assignments for a user
func (r *AuthzRepository) ListForUser(ctx context.Context, userID string) ([]*authz.RoleAssignment, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, user_id, role_id, scope_type, scope_id, valid_from, valid_until
		FROM role_assignments
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list role assignments: %w", err)
	}
	defer rows.Close()

	var assignments []*authz.RoleAssignment
	for rows.Next() {
		var a authz.RoleAssignment
		if err := rows.Scan(&a.ID, &a.UserID, &a.RoleID, &a.ScopeType, &a.ScopeID, &a.ValidFrom, &a.ValidUntil); err != nil {
			return nil, fmt.Errorf("failed to scan role assignment: %w", err)
		}
		assignments = append(assignments, &a)
	}
	return assignments, rows.Err()
}

// MembershipRepository implements authz.GroupMembershipStore
type MembershipRepository struct {
	db *DB
}

// NewMembershipRepository creates a new group membership repository
func NewMembershipRepository(db *DB) *MembershipRepository {
	return &MembershipRepository{db: db}
}

// ListForUser retrieves all group memberships for a user
func (r *MembershipRepository) ListForUser(ctx context.Context, userID string) ([]*authz.GroupMembership, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, user_id, group_id, membership_type, valid_until
		FROM group_memberships
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group memberships: %w", err)
	}
	defer rows.Close()

	var memberships []*authz.GroupMembership
	for rows.Next() {
		var m authz.GroupMembership
		if err := rows.Scan(&m.ID, &m.UserID, &m.GroupID, &m.MembershipType, &m.ValidUntil); err != nil {
			return nil, fmt.Errorf("failed to scan group membership: %w", err)
		}
		memberships = append(memberships, &m)
	}
	return memberships, rows.Err()
}

// PermissionRepository implements authz.PermissionStore
type PermissionRepository struct {
	db *DB
}

// NewPermissionRepository creates a new permission repository
func NewPermissionRepository(db *DB) *PermissionRepository {
	return &PermissionRepository{db: db}
}

// PermissionsForRoles returns the union of permission names granted by
// the given roles
func (r *PermissionRepository) PermissionsForRoles(ctx context.Context, roleIDs []string) ([]string, error) {
	return r.queryNames(ctx, `
		SELECT DISTINCT p.name
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = ANY($1)
	`, roleIDs)
}

// PermissionsForGroups returns the union of permission names granted
// through role mappings of the given groups
func (r *PermissionRepository) PermissionsForGroups(ctx context.Context, groupIDs []string) ([]string, error) {
	return r.queryNames(ctx, `
		SELECT DISTINCT p.name
		FROM group_roles gr
		JOIN role_permissions rp ON rp.role_id = gr.role_id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE gr.group_id = ANY($1)
	`, groupIDs)
}

// RoleNames resolves role IDs to names
func (r *PermissionRepository) RoleNames(ctx context.Context, roleIDs []string) ([]string, error) {
	return r.queryNames(ctx, `
		SELECT name FROM roles WHERE id = ANY($1)
	`, roleIDs)
}

func (r *PermissionRepository) queryNames(ctx context.Context, query string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.db.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// PolicyRepository implements authz.PolicyStore
type PolicyRepository struct {
	db *DB
}

// NewPolicyRepository creates a new ABAC policy repository
func NewPolicyRepository(db *DB) *PolicyRepository {
	return &PolicyRepository{db: db}
}

// ListActiveForAction retrieves active policies governing an action on a
// resource type
func (r *PolicyRepository) ListActiveForAction(ctx context.Context, action, resourceType string) ([]*authz.AbacPolicy, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, name, effect, action, resource_type, condition, version, is_active
		FROM abac_policies
		WHERE is_active
			AND (action = $1 OR action = '*')
			AND (resource_type = $2 OR resource_type = '')
	`, action, resourceType)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	defer rows.Close()

	var policies []*authz.AbacPolicy
	for rows.Next() {
		var p authz.AbacPolicy
		if err := rows.Scan(&p.ID, &p.Name, &p.Effect, &p.Action, &p.ResourceType, &p.Condition, &p.Version, &p.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		policies = append(policies, &p)
	}
	return policies, rows.Err()
}
