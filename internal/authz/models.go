package authz

import (
	"context"
	"errors"
	"time"
)

// Domain errors
var (
	ErrRoleNotFound       = errors.New("role not found")
	ErrPermissionNotFound = errors.New("permission not found")
	ErrPolicyNotFound     = errors.New("policy not found")
	ErrInvalidScope       = errors.New("invalid scope")
)

// ScopeType defines the level at which a role is assigned
type ScopeType string

const (
	ScopeProfile  ScopeType = "PROFILE"
	ScopeProject  ScopeType = "PROJECT"
	ScopeResource ScopeType = "RESOURCE"
)

// RequiresScopeID reports whether assignments at this scope must name a
// concrete scope target. Profile-scoped roles apply to the user as a
// whole and carry no scope id.
func (s ScopeType) RequiresScopeID() bool {
	return s == ScopeProject || s == ScopeResource
}

// Role is a named permission bundle
type Role struct {
	ID   string
	Name string
}

// Permission is a named capability
type Permission struct {
	ID   string
	Name string
}

// RoleAssignment grants a role to a user at a scope, optionally bounded
// in time. Assignments are immutable; they are created and removed, not
// edited.
type RoleAssignment struct {
	ID         string
	UserID     string
	RoleID     string
	ScopeType  ScopeType
	ScopeID    *string
	ValidFrom  *time.Time
	ValidUntil *time.Time
}

// IsActive reports whether the assignment is in force at the given
// instant. Nil bounds are open.
func (a *RoleAssignment) IsActive(now time.Time) bool {
	if a.ValidFrom != nil && now.Before(*a.ValidFrom) {
		return false
	}
	if a.ValidUntil != nil && now.After(*a.ValidUntil) {
		return false
	}
	return true
}

// GroupMembership puts a user in a group, optionally until a deadline
type GroupMembership struct {
	ID             string
	UserID         string
	GroupID        string
	MembershipType string
	ValidUntil     *time.Time
}

// IsActive reports whether the membership is in force
func (m *GroupMembership) IsActive(now time.Time) bool {
	return m.ValidUntil == nil || !now.After(*m.ValidUntil)
}

// PolicyEffect is the outcome a matching policy contributes
type PolicyEffect string

const (
	EffectAllow PolicyEffect = "ALLOW"
	EffectDeny  PolicyEffect = "DENY"
)

// AbacPolicy is one attribute-based rule. Action names the permission it
// governs ("*" matches all); ResourceType optionally narrows it. The
// condition is an expression over subject/resource/context attributes.
type AbacPolicy struct {
	ID           string
	Name         string
	Effect       PolicyEffect
	Action       string
	ResourceType string
	Condition    string
	Version      int
	IsActive     bool
}

// RoleAssignmentStore persists role assignments
type RoleAssignmentStore interface {
	// Grant creates an assignment
	Grant(ctx context.Context, assignment *RoleAssignment) error

	// Revoke removes an assignment
	Revoke(ctx context.Context, assignmentID string) error

	// ListForUser retrieves all assignments for a user
	ListForUser(ctx context.Context, userID string) ([]*RoleAssignment, error)
}

// GroupMembershipStore persists group memberships
type GroupMembershipStore interface {
	// ListForUser retrieves all memberships for a user
	ListForUser(ctx context.Context, userID string) ([]*GroupMembership, error)
}

// PermissionStore resolves roles and groups to permission names.
// Referential integrity between roles, groups and permissions is the
// database's job, not domain logic.
type PermissionStore interface {
	// PermissionsForRoles returns the union of permission names granted
	// by the given roles
	PermissionsForRoles(ctx context.Context, roleIDs []string) ([]string, error)

	// PermissionsForGroups returns the union of permission names granted
	// through role mappings of the given groups
	PermissionsForGroups(ctx context.Context, groupIDs []string) ([]string, error)

	// RoleNames resolves role IDs to names for audit records
	RoleNames(ctx context.Context, roleIDs []string) ([]string, error)
}

// PolicyStore persists ABAC policies
type PolicyStore interface {
	// ListActiveForAction retrieves active policies governing an action
	// on a resource type. Policies with Action "*" match every action;
	// an empty ResourceType matches every resource type.
	ListActiveForAction(ctx context.Context, action, resourceType string) ([]*AbacPolicy, error)
}
