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

package authz

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/gatekit/gatekit/internal/audit"
	"github.com/gatekit/gatekit/internal/observability/metrics"
)

// CheckRequest is one permission check. SubjectAttrs, ResourceAttrs and
// ContextAttrs feed policy conditions; any of them may be nil. Callers
// holding a token put its permission snapshot under
// SubjectAttrs["permissions"] so conditions see the point-in-time set
// the token was issued with.
type CheckRequest struct {
	UserID        string
	Permission    string
	ResourceType  string
	ResourceID    string
	SubjectAttrs  map[string]any
	ResourceAttrs map[string]any
	ContextAttrs  map[string]any
}

// Decision is the outcome of a permission check
type Decision struct {
	Allowed    bool
	Reason     string
	RBACResult string
	ABACResult string
}

// Service evaluates permission checks. RBAC establishes whether the
// user holds the permission at all; active ABAC policies then refine
// the outcome. A matching DENY is final and a matching ALLOW confirms
// but never widens the role grant, so when a policy weighs in both
// layers must permit. When no policy matches, the RBAC result stands.
type Service struct {
	assignments RoleAssignmentStore
	memberships GroupMembershipStore
	permissions PermissionStore
	policies    PolicyStore
	recorder    *audit.Recorder
	metrics     *metrics.AuthMetrics
	logger      *slog.Logger
	now         func() time.Time
}

// NewService creates an authorization service
func NewService(
	assignments RoleAssignmentStore,
	memberships GroupMembershipStore,
	permissions PermissionStore,
	policies PolicyStore,
	recorder *audit.Recorder,
	authMetrics *metrics.AuthMetrics,
	logger *slog.Logger,
) *Service {
	return &Service{
		assignments: assignments,
		memberships: memberships,
		permissions: permissions,
		policies:    policies,
		recorder:    recorder,
		metrics:     authMetrics,
		logger:      logger,
		now:         time.Now,
	}
}

// CheckPermission runs the full decision pipeline and appends a decision
// log entry for every call, allowed or denied. Storage failures during
// evaluation deny the request rather than guessing.
func (s *Service) CheckPermission(ctx context.Context, req CheckRequest) (*Decision, error) {
	ctx, span := otel.Tracer("authz").Start(ctx, "authz.check_permission")
	defer span.End()
	span.SetAttributes(
		attribute.String("authz.permission", req.Permission),
		attribute.String("authz.resource_type", req.ResourceType),
	)

	now := s.now()

	roleIDs, groupIDs, err := s.activeGrants(ctx, req.UserID, now)
	if err != nil {
		return nil, err
	}

	granted, err := s.effectivePermissions(ctx, roleIDs, groupIDs)
	if err != nil {
		return nil, err
	}

	decision := &Decision{ABACResult: audit.DecisionNotEvaluated}
	if containsPermission(granted, req.Permission) {
		decision.RBACResult = audit.DecisionAllowed
		decision.Allowed = true
		decision.Reason = "rbac grant"
	} else {
		decision.RBACResult = audit.DecisionDenied
		decision.Reason = "permission not granted"
	}

	// ABAC only refines a decision when a matching active policy exists
	// for the requested action. A DENY policy overrides an RBAC allow;
	// an ALLOW policy cannot grant what the roles do not.
	if s.policies != nil {
		policies, err := s.policies.ListActiveForAction(ctx, req.Permission, req.ResourceType)
		if err != nil {
			return nil, fmt.Errorf("failed to load policies: %w", err)
		}
		if len(policies) > 0 {
			s.applyPolicies(ctx, decision, policies, s.buildAttrs(req))
		}
	}

	if !decision.Allowed && s.metrics != nil {
		s.metrics.DecisionsDenied.Add(ctx, 1)
	}

	s.record(ctx, req, decision, roleIDs, groupIDs)
	span.SetAttributes(attribute.Bool("authz.allowed", decision.Allowed))

	return decision, nil
}

// PermissionsForUser returns the sorted union of permission names the
// user currently holds through roles and group memberships. Token
// issuance and refresh rotation embed this set in access tokens.
func (s *Service) PermissionsForUser(ctx context.Context, userID string) ([]string, error) {
	roleIDs, groupIDs, err := s.activeGrants(ctx, userID, s.now())
	if err != nil {
		return nil, err
	}
	return s.effectivePermissions(ctx, roleIDs, groupIDs)
}

// Grant assigns a role to a user. Project and resource scopes require a
// scope id; profile scope forbids one.
func (s *Service) Grant(ctx context.Context, assignment *RoleAssignment) error {
	if assignment.ScopeType.RequiresScopeID() == (assignment.ScopeID == nil) {
		return ErrInvalidScope
	}
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	if err := s.assignments.Grant(ctx, assignment); err != nil {
		return fmt.Errorf("failed to grant role: %w", err)
	}
	return nil
}

// Revoke removes a role assignment
func (s *Service) Revoke(ctx context.Context, assignmentID string) error {
	if err := s.assignments.Revoke(ctx, assignmentID); err != nil {
		return fmt.Errorf("failed to revoke role: %w", err)
	}
	return nil
}

func (s *Service) activeGrants(ctx context.Context, userID string, now time.Time) (roleIDs, groupIDs []string, err error) {
	assignments, err := s.assignments.ListForUser(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load role assignments: %w", err)
	}
	for _, a := range assignments {
		if a.IsActive(now) {
			roleIDs = append(roleIDs, a.RoleID)
		}
	}

	groups, err := s.memberships.ListForUser(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load group memberships: %w", err)
	}
	for _, m := range groups {
		if m.IsActive(now) {
			groupIDs = append(groupIDs, m.GroupID)
		}
	}
	return roleIDs, groupIDs, nil
}

func (s *Service) effectivePermissions(ctx context.Context, roleIDs, groupIDs []string) ([]string, error) {
	set := make(map[string]struct{})

	if len(roleIDs) > 0 {
		perms, err := s.permissions.PermissionsForRoles(ctx, roleIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve role permissions: %w", err)
		}
		for _, p := range perms {
			set[p] = struct{}{}
		}
	}

	if len(groupIDs) > 0 {
		perms, err := s.permissions.PermissionsForGroups(ctx, groupIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve group permissions: %w", err)
		}
		for _, p := range perms {
			set[p] = struct{}{}
		}
	}

	result := make([]string, 0, len(set))
	for p := range set {
		result = append(result, p)
	}
	sort.Strings(result)
	return result, nil
}

// applyPolicies evaluates the matching policies against the request
// attributes. A matching DENY is final. A matching ALLOW confirms the
// RBAC outcome without extending it; both layers must permit. A
// condition that fails to evaluate never matches.
func (s *Service) applyPolicies(ctx context.Context, decision *Decision, policies []*AbacPolicy, attrs Attributes) {
	anyAllow := false
	for _, p := range policies {
		matched, err := EvalCondition(p.Condition, attrs)
		if err != nil {
			s.logger.WarnContext(ctx, "policy condition failed to evaluate",
				slog.String("policy_id", p.ID),
				slog.String("error", err.Error()))
			continue
		}
		if !matched {
			continue
		}
		if p.Effect == EffectDeny {
			decision.ABACResult = audit.DecisionDenied
			decision.Allowed = false
			decision.Reason = "denied by policy " + p.Name
			return
		}
		anyAllow = true
	}
	if anyAllow {
		decision.ABACResult = audit.DecisionAllowed
		if decision.Allowed {
			decision.Reason = "rbac grant confirmed by policy"
		}
	}
}

// buildAttrs assembles the attribute maps for condition evaluation.
// Subject permissions come from the caller's token snapshot in
// SubjectAttrs, never from the role store, so a token sees consistent
// decisions for its whole lifetime.
func (s *Service) buildAttrs(req CheckRequest) Attributes {
	subject := map[string]any{
		"id": req.UserID,
	}
	for k, v := range req.SubjectAttrs {
		subject[k] = v
	}

	resource := map[string]any{
		"type": req.ResourceType,
		"id":   req.ResourceID,
	}
	for k, v := range req.ResourceAttrs {
		resource[k] = v
	}

	contextAttrs := map[string]any{}
	for k, v := range req.ContextAttrs {
		contextAttrs[k] = v
	}

	return Attributes{
		"subject":  subject,
		"resource": resource,
		"context":  contextAttrs,
	}
}

func (s *Service) record(ctx context.Context, req CheckRequest, decision *Decision, roleIDs, groupIDs []string) {
	if s.recorder == nil {
		return
	}

	roleNames, err := s.permissions.RoleNames(ctx, roleIDs)
	if err != nil {
		roleNames = roleIDs
	}

	final := audit.DecisionDenied
	if decision.Allowed {
		final = audit.DecisionAllowed
	}

	var abac *string
	if decision.ABACResult != audit.DecisionNotEvaluated {
		abac = &decision.ABACResult
	}

	s.recorder.Record(ctx, &audit.DecisionLog{
		ID:              uuid.NewString(),
		UserID:          req.UserID,
		Groups:          groupIDs,
		Roles:           roleNames,
		RequestedAction: req.Permission,
		ResourceType:    req.ResourceType,
		ResourceID:      req.ResourceID,
		RBACResult:      decision.RBACResult,
		ABACResult:      abac,
		FinalDecision:   final,
		Timestamp:       s.now(),
		Metadata:        map[string]any{"reason": decision.Reason},
	})
}

// recordTokenCheck appends a decision entry for a check resolved from
// token claims alone. Service principals never enter the role pipeline,
// so the token grant stands in for the RBAC result and no policy is
// evaluated.
func (s *Service) recordTokenCheck(ctx context.Context, p *RequestPrincipal, permission, resourceType, resourceID string, allowed bool, reason string) {
	if s.recorder == nil {
		return
	}

	result := audit.DecisionDenied
	if allowed {
		result = audit.DecisionAllowed
	}
	subject := p.ServiceID
	if p.UserID != "" {
		subject = p.UserID
	}

	s.recorder.Record(ctx, &audit.DecisionLog{
		ID:              uuid.NewString(),
		UserID:          subject,
		RequestedAction: permission,
		ResourceType:    resourceType,
		ResourceID:      resourceID,
		RBACResult:      result,
		FinalDecision:   result,
		Timestamp:       s.now(),
		Metadata: map[string]any{
			"reason":         reason,
			"principal_type": string(PrincipalService),
			"service_id":     p.ServiceID,
		},
	})
}

func containsPermission(granted []string, want string) bool {
	for _, p := range granted {
		if p == want || p == "*" {
			return true
		}
	}
	return false
}
