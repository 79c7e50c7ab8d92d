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

package token

import (
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestCodec() *Codec {
	return NewCodec(testSecret, "gatekit-test", 15*time.Minute, 720*time.Hour, time.Hour)
}

// TestPurpose: Validates the access token round trip including the embedded permission snapshot.
// Scope: Unit Test
// Security: Token integrity and claim fidelity
// Expected: Issued token validates as an access token with matching subject, email and permissions.
// Test Case ID: TOK-01
func TestCodec_AccessTokenRoundTrip(t *testing.T) {
	c := newTestCodec()

	signed, err := c.IssueAccessToken("user-1", "user@example.com", []string{"profile:read", "billing:read"})
	if err != nil {
		t.Fatalf("failed to issue: %v", err)
	}

	claims, err := c.Validate(signed)
	if err != nil {
		t.Fatalf("failed to validate: %v", err)
	}
	if claims.Kind != KindAccess {
		t.Errorf("expected access kind, got %s", claims.Kind)
	}
	if claims.Subject != "user-1" || claims.Email != "user@example.com" {
		t.Errorf("unexpected identity claims: %+v", claims)
	}
	if len(claims.Permissions) != 2 {
		t.Errorf("expected 2 permissions, got %v", claims.Permissions)
	}
}

// TestPurpose: Validates that a user without permissions still gets an explicit empty permissions claim.
// Scope: Unit Test
// Security: Verifiers must distinguish "no permissions" from "claim absent"
// Expected: Permissions decodes as an empty, non-nil slice.
// Test Case ID: TOK-02
func TestCodec_EmptyPermissionsArePresent(t *testing.T) {
	c := newTestCodec()

	signed, err := c.IssueAccessToken("user-1", "user@example.com", nil)
	if err != nil {
		t.Fatalf("failed to issue: %v", err)
	}

	claims, err := c.Validate(signed)
	if err != nil {
		t.Fatalf("failed to validate: %v", err)
	}
	if claims.Permissions == nil {
		t.Error("permissions claim should be an empty array, not absent")
	}
	if len(claims.Permissions) != 0 {
		t.Errorf("expected no permissions, got %v", claims.Permissions)
	}
}

// TestPurpose: Validates that each token kind is only accepted by its own typed decoder.
// Scope: Unit Test
// Security: A refresh token must never pass as an access credential
// Expected: DecodeAccess/DecodeRefresh/DecodeService return nil for foreign kinds.
// Test Case ID: TOK-03
func TestCodec_KindSeparation(t *testing.T) {
	c := newTestCodec()

	access, _ := c.IssueAccessToken("user-1", "user@example.com", nil)
	refresh, _ := c.IssueRefreshToken("user-1")
	service, _ := c.IssueServiceToken("svc-1", "billing", []string{"billing:read"}, nil)

	if c.DecodeAccess(refresh) != nil || c.DecodeAccess(service) != nil {
		t.Error("DecodeAccess must reject non-access tokens")
	}
	if c.DecodeRefresh(access) != nil || c.DecodeRefresh(service) != nil {
		t.Error("DecodeRefresh must reject non-refresh tokens")
	}
	if c.DecodeService(access) != nil || c.DecodeService(refresh) != nil {
		t.Error("DecodeService must reject non-service tokens")
	}

	if c.DecodeAccess(access) == nil || c.DecodeRefresh(refresh) == nil || c.DecodeService(service) == nil {
		t.Error("each decoder must accept its own kind")
	}
}

// TestPurpose: Validates expiry enforcement using an injected clock.
// Scope: Unit Test
// Security: Expired credentials must be unusable
// Expected: A token validates inside its lifetime and returns ErrExpired after it.
// Test Case ID: TOK-04
func TestCodec_Expiry(t *testing.T) {
	c := newTestCodec()
	issuedAt := time.Now()
	c.now = func() time.Time { return issuedAt }

	signed, err := c.IssueAccessToken("user-1", "user@example.com", nil)
	if err != nil {
		t.Fatalf("failed to issue: %v", err)
	}

	c.now = func() time.Time { return issuedAt.Add(14 * time.Minute) }
	if _, err := c.Validate(signed); err != nil {
		t.Errorf("token should be valid before expiry: %v", err)
	}

	c.now = func() time.Time { return issuedAt.Add(16 * time.Minute) }
	if _, err := c.Validate(signed); err != ErrExpired {
		t.Errorf("expected ErrExpired, got %v", err)
	}
}

// TestPurpose: Validates signature and structure checks on hostile input.
// Scope: Unit Test
// Security: Token forgery resistance
// Expected: Tampered payloads, foreign-key signatures and garbage all fail closed.
// Test Case ID: TOK-05
func TestCodec_RejectsTamperedTokens(t *testing.T) {
	c := newTestCodec()
	other := NewCodec("another-secret-that-is-32-bytes!", "gatekit-test", 15*time.Minute, 720*time.Hour, time.Hour)

	signed, _ := c.IssueAccessToken("user-1", "user@example.com", nil)

	// Token signed with a different key
	foreign, _ := other.IssueAccessToken("user-1", "user@example.com", nil)
	if _, err := c.Validate(foreign); err != ErrInvalidSignature {
		t.Errorf("expected ErrInvalidSignature for foreign key, got %v", err)
	}

	// Flipped payload byte
	parts := strings.Split(signed, ".")
	tampered := parts[0] + "." + "x" + parts[1][1:] + "." + parts[2]
	if _, err := c.Validate(tampered); err == nil {
		t.Error("tampered token must not validate")
	}

	// Structural garbage
	for _, bad := range []string{"", "garbage", "a.b", "a.b.c.d"} {
		if _, err := c.Validate(bad); err != ErrMalformed {
			t.Errorf("input %q: expected ErrMalformed, got %v", bad, err)
		}
	}
}

// TestPurpose: Validates service token audience and propagated user context claims.
// Scope: Unit Test
// Security: On-behalf-of identity propagation
// Expected: Audience and the embedded user context survive the round trip.
// Test Case ID: TOK-06
func TestCodec_ServiceTokenUserContext(t *testing.T) {
	c := newTestCodec()

	signed, err := c.IssueServiceToken("svc-1", "billing", []string{"billing:write"}, &UserContext{
		UserID:      "user-9",
		Permissions: []string{"billing:read"},
	})
	if err != nil {
		t.Fatalf("failed to issue: %v", err)
	}

	claims := c.DecodeService(signed)
	if claims == nil {
		t.Fatal("service token should decode")
	}
	if claims.Audience != "billing" {
		t.Errorf("expected audience billing, got %q", claims.Audience)
	}
	if claims.UserContext == nil || claims.UserContext.UserID != "user-9" {
		t.Fatalf("user context not propagated: %+v", claims.UserContext)
	}
	if len(claims.UserContext.Permissions) != 1 || claims.UserContext.Permissions[0] != "billing:read" {
		t.Errorf("unexpected propagated permissions: %v", claims.UserContext.Permissions)
	}
}
