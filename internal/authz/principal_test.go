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
	"errors"
	"testing"
	"time"

	"github.com/gatekit/gatekit/internal/audit"
	"github.com/gatekit/gatekit/internal/token"
)

func newPrincipalFixture(t *testing.T) (*Manager, *authzFixture, *token.Codec) {
	t.Helper()
	f := newAuthzFixture(t)
	codec := token.NewCodec("0123456789abcdef0123456789abcdef", "gatekit-test",
		15*time.Minute, 720*time.Hour, time.Hour)
	return NewManager(codec, f.service), f, codec
}

// TestPurpose: Validates principal resolution for each credential kind.
// Scope: Unit Test
// Security: Refresh tokens must never authenticate a request
// Expected: Access tokens yield USER principals, service tokens yield
// SERVICE principals, refresh tokens and garbage fail.
// Test Case ID: PRN-01
func TestPrincipal_FromToken(t *testing.T) {
	m, _, codec := newPrincipalFixture(t)

	access, _ := codec.IssueAccessToken("user-1", "user@example.com", []string{"doc:read"})
	p, err := m.FromToken(access)
	if err != nil {
		t.Fatalf("access token should resolve: %v", err)
	}
	if p.Type != PrincipalUser || p.UserID != "user-1" {
		t.Errorf("unexpected user principal: %+v", p)
	}
	if p.OnBehalfOf() {
		t.Error("user principal is never on-behalf-of")
	}

	service, _ := codec.IssueServiceToken("svc-1", "billing", []string{"billing:read"}, &token.UserContext{
		UserID: "user-2", Permissions: []string{"billing:read"},
	})
	p, err = m.FromToken(service)
	if err != nil {
		t.Fatalf("service token should resolve: %v", err)
	}
	if p.Type != PrincipalService || p.ServiceID != "svc-1" || p.UserID != "user-2" {
		t.Errorf("unexpected service principal: %+v", p)
	}
	if !p.OnBehalfOf() {
		t.Error("propagated user context should mark the principal on-behalf-of")
	}

	refresh, _ := codec.IssueRefreshToken("user-1")
	if _, err := m.FromToken(refresh); err != ErrAuthenticationRequired {
		t.Errorf("refresh token: expected ErrAuthenticationRequired, got %v", err)
	}
	for _, bad := range []string{"", "   ", "garbage"} {
		if _, err := m.FromToken(bad); err != ErrAuthenticationRequired {
			t.Errorf("input %q: expected ErrAuthenticationRequired, got %v", bad, err)
		}
	}
}

// TestPurpose: Validates that user principals are checked through the full pipeline.
// Scope: Unit Test
// Security: Role revocation takes effect regardless of token claims
// Expected: Require consults live role state, not the token's snapshot.
// Test Case ID: PRN-02
func TestPrincipal_RequireUser(t *testing.T) {
	m, f, codec := newPrincipalFixture(t)
	ctx := context.Background()
	f.grantRole("user-1", "role-viewer")

	// The token claims a permission the roles no longer back
	stale, _ := codec.IssueAccessToken("user-1", "user@example.com", []string{"doc:write"})
	p, _ := m.FromToken(stale)

	if err := m.Require(ctx, p, "doc:read", "document", "doc-1", nil, nil); err != nil {
		t.Errorf("live role grant should allow: %v", err)
	}

	err := m.Require(ctx, p, "doc:write", "document", "doc-1", nil, nil)
	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected DeniedError, got %v", err)
	}
	if denied.Permission != "doc:write" {
		t.Errorf("unexpected denial: %+v", denied)
	}
}

// TestPurpose: Validates the service principal permission rules.
// Scope: Unit Test
// Security: A service must not exceed its own grant or the propagated user's
// Expected: Both the token grant and the user snapshot must cover the action.
// Test Case ID: PRN-03
func TestPrincipal_RequireService(t *testing.T) {
	m, _, codec := newPrincipalFixture(t)
	ctx := context.Background()

	plain, _ := codec.IssueServiceToken("svc-1", "billing", []string{"billing:read"}, nil)
	p, _ := m.FromToken(plain)

	if err := m.Require(ctx, p, "billing:read", "", "", nil, nil); err != nil {
		t.Errorf("granted permission should pass: %v", err)
	}
	if err := m.Require(ctx, p, "billing:write", "", "", nil, nil); err == nil {
		t.Error("permission outside the token grant must be denied")
	}

	// On behalf of a user who holds less than the service does
	scoped, _ := codec.IssueServiceToken("svc-1", "billing",
		[]string{"billing:read", "billing:write"},
		&token.UserContext{UserID: "user-2", Permissions: []string{"billing:read"}})
	p, _ = m.FromToken(scoped)

	if err := m.Require(ctx, p, "billing:read", "", "", nil, nil); err != nil {
		t.Errorf("both grants cover the action: %v", err)
	}
	if err := m.Require(ctx, p, "billing:write", "", "", nil, nil); err == nil {
		t.Error("the propagated user's snapshot must also cover the action")
	}

	if err := m.Require(ctx, nil, "billing:read", "", "", nil, nil); err != ErrAuthenticationRequired {
		t.Errorf("nil principal: expected ErrAuthenticationRequired, got %v", err)
	}
}

// TestPurpose: Validates that policy conditions see the token's permission snapshot.
// Scope: Unit Test
// Security: Point-in-time consistency of attribute decisions
// Expected: A condition over subject.permissions matches the token
// claims, not the role store, and caller attributes reach conditions.
// Test Case ID: PRN-04
func TestPrincipal_ConditionsUseTokenSnapshot(t *testing.T) {
	m, f, codec := newPrincipalFixture(t)
	ctx := context.Background()
	f.grantRole("user-1", "role-viewer")
	f.policies.policies = []*AbacPolicy{
		{
			ID: "p1", Name: "legacy flag lockout", Effect: EffectDeny,
			Action: "doc:read", Condition: `'legacy:flag' in subject.permissions`, IsActive: true,
		},
	}

	// The role store never granted the flag; only the token carries it
	flagged, _ := codec.IssueAccessToken("user-1", "user@example.com", []string{"doc:read", "legacy:flag"})
	p, _ := m.FromToken(flagged)
	err := m.Require(ctx, p, "doc:read", "document", "doc-1", nil, nil)
	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("condition over the token snapshot should deny: %v", err)
	}

	clean, _ := codec.IssueAccessToken("user-1", "user@example.com", []string{"doc:read"})
	p, _ = m.FromToken(clean)
	if err := m.Require(ctx, p, "doc:read", "document", "doc-1", nil, nil); err != nil {
		t.Errorf("unflagged token should pass: %v", err)
	}

	// Caller-supplied context attributes feed conditions too
	f.policies.policies = append(f.policies.policies, &AbacPolicy{
		ID: "p2", Name: "no off-hours reads", Effect: EffectDeny,
		Action: "doc:read", Condition: `context.hour > 17`, IsActive: true,
	})
	err = m.Require(ctx, p, "doc:read", "document", "doc-1", nil, map[string]any{"hour": 22})
	if !errors.As(err, &denied) {
		t.Errorf("context attributes should reach conditions: %v", err)
	}
}

// TestPurpose: Validates that service principal checks land in the decision log.
// Scope: Unit Test
// Security: Audit completeness for machine callers
// Expected: Allowed and denied service checks both append records
// naming the service, with no policy stage.
// Test Case ID: PRN-05
func TestPrincipal_ServiceChecksAreRecorded(t *testing.T) {
	m, f, codec := newPrincipalFixture(t)
	ctx := context.Background()

	signed, _ := codec.IssueServiceToken("svc-1", "billing", []string{"billing:read"}, nil)
	p, _ := m.FromToken(signed)

	m.Require(ctx, p, "billing:read", "invoice", "inv-1", nil, nil)
	m.Require(ctx, p, "billing:write", "invoice", "inv-1", nil, nil)

	if len(f.decisions.records) != 2 {
		t.Fatalf("expected 2 decision records, got %d", len(f.decisions.records))
	}

	allowed := f.decisions.records[0]
	if allowed.FinalDecision != audit.DecisionAllowed || allowed.UserID != "svc-1" {
		t.Errorf("unexpected allowed record: %+v", allowed)
	}
	if allowed.ABACResult != nil {
		t.Errorf("service checks never evaluate policies: %v", *allowed.ABACResult)
	}

	deniedRec := f.decisions.records[1]
	if deniedRec.FinalDecision != audit.DecisionDenied || deniedRec.RequestedAction != "billing:write" {
		t.Errorf("unexpected denied record: %+v", deniedRec)
	}
	if deniedRec.Metadata["service_id"] != "svc-1" {
		t.Errorf("record should name the service: %+v", deniedRec.Metadata)
	}
}
