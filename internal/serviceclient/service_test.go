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

package serviceclient

import (
	"context"
	"testing"
	"time"

	"github.com/gatekit/gatekit/internal/audit"
	"github.com/gatekit/gatekit/internal/token"
)

// MockClientStore is an in-memory client store
type MockClientStore struct {
	clients map[string]*Client // by ClientID
}

func NewMockClientStore() *MockClientStore {
	return &MockClientStore{clients: make(map[string]*Client)}
}

func (m *MockClientStore) Create(ctx context.Context, client *Client) error {
	m.clients[client.ClientID] = client
	return nil
}

func (m *MockClientStore) GetByClientID(ctx context.Context, clientID string) (*Client, error) {
	if c, ok := m.clients[clientID]; ok {
		return c, nil
	}
	return nil, ErrClientNotFound
}

func (m *MockClientStore) Update(ctx context.Context, client *Client) error {
	if _, ok := m.clients[client.ClientID]; !ok {
		return ErrClientNotFound
	}
	m.clients[client.ClientID] = client
	return nil
}

func newClientFixture(t *testing.T) (*Service, *MockClientStore, *token.Codec) {
	t.Helper()
	store := NewMockClientStore()
	codec := token.NewCodec("0123456789abcdef0123456789abcdef", "gatekit-test",
		15*time.Minute, 720*time.Hour, time.Hour)
	return NewService(store, codec, audit.NewSlogLogger()), store, codec
}

// TestPurpose: Validates registration and secret-based authentication.
// Scope: Unit Test
// Security: Machine credential issuance and verification
// Expected: The plaintext secret authenticates; only its hash is stored.
// Test Case ID: SVC-01
func TestServiceClient_RegisterAndAuthenticate(t *testing.T) {
	s, store, _ := newClientFixture(t)
	ctx := context.Background()

	client, secret, err := s.Register(ctx, "billing-worker", []string{"billing"}, []string{"billing:read"})
	if err != nil {
		t.Fatalf("failed to register: %v", err)
	}
	if secret == "" || client.SecretHash == secret {
		t.Error("plaintext secret must be returned but never stored")
	}
	if stored := store.clients[client.ClientID]; stored.SecretHash != HashSecret(secret) {
		t.Error("stored hash should match the issued secret")
	}

	authed, err := s.Authenticate(ctx, client.ClientID, secret)
	if err != nil {
		t.Fatalf("authentication failed: %v", err)
	}
	if authed.ClientID != client.ClientID {
		t.Errorf("wrong client returned: %s", authed.ClientID)
	}
}

// TestPurpose: Validates that bad credentials are rejected uniformly.
// Scope: Unit Test
// Security: Unknown client and wrong secret must be indistinguishable
// Expected: Both failures return ErrInvalidCredentials; a disabled client
// is refused outright.
// Test Case ID: SVC-02
func TestServiceClient_AuthenticationFailures(t *testing.T) {
	s, _, _ := newClientFixture(t)
	ctx := context.Background()

	client, _, err := s.Register(ctx, "billing-worker", []string{"billing"}, nil)
	if err != nil {
		t.Fatalf("failed to register: %v", err)
	}

	if _, err := s.Authenticate(ctx, "no-such-client", "whatever"); err != ErrInvalidCredentials {
		t.Errorf("unknown client: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := s.Authenticate(ctx, client.ClientID, "wrong-secret"); err != ErrInvalidCredentials {
		t.Errorf("wrong secret: expected ErrInvalidCredentials, got %v", err)
	}

	if err := s.Disable(ctx, client.ClientID); err != nil {
		t.Fatalf("failed to disable: %v", err)
	}
	if _, err := s.Authenticate(ctx, client.ClientID, "wrong-secret"); err != ErrClientDisabled {
		t.Errorf("disabled client: expected ErrClientDisabled, got %v", err)
	}
}

// TestPurpose: Validates the token half of the client_credentials grant.
// Scope: Unit Test
// Security: Audience allow list and permission scoping of service tokens
// Expected: A token for an allowed audience carries the client's grants;
// a disallowed audience is refused.
// Test Case ID: SVC-03
func TestServiceClient_IssueToken(t *testing.T) {
	s, _, codec := newClientFixture(t)
	ctx := context.Background()

	client, secret, err := s.Register(ctx, "billing-worker",
		[]string{"billing", "reporting"}, []string{"billing:read", "billing:write"})
	if err != nil {
		t.Fatalf("failed to register: %v", err)
	}

	signed, err := s.IssueToken(ctx, client.ClientID, secret, "billing", nil)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	claims := codec.DecodeService(signed)
	if claims == nil {
		t.Fatal("issued token should decode as a service token")
	}
	if claims.Subject != client.ClientID || claims.Audience != "billing" {
		t.Errorf("unexpected claims: %+v", claims)
	}
	if len(claims.Permissions) != 2 {
		t.Errorf("token should carry the client's permissions: %v", claims.Permissions)
	}

	if _, err := s.IssueToken(ctx, client.ClientID, secret, "payments", nil); err != ErrAudienceNotAllowed {
		t.Errorf("disallowed audience: expected ErrAudienceNotAllowed, got %v", err)
	}
}

// TestPurpose: Validates the default audience applied when the request names none.
// Scope: Unit Test
// Security: Tokens are always scoped to a registered audience
// Expected: An omitted audience yields the client's first registered one;
// a client without audiences cannot get a token at all.
// Test Case ID: SVC-05
func TestServiceClient_DefaultAudience(t *testing.T) {
	s, _, codec := newClientFixture(t)
	ctx := context.Background()

	client, secret, err := s.Register(ctx, "billing-worker",
		[]string{"billing", "reporting"}, []string{"billing:read"})
	if err != nil {
		t.Fatalf("failed to register: %v", err)
	}

	signed, err := s.IssueToken(ctx, client.ClientID, secret, "", nil)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	claims := codec.DecodeService(signed)
	if claims == nil || claims.Audience != "billing" {
		t.Errorf("expected the first registered audience, got %+v", claims)
	}

	bare, bareSecret, err := s.Register(ctx, "audienceless", nil, nil)
	if err != nil {
		t.Fatalf("failed to register: %v", err)
	}
	if _, err := s.IssueToken(ctx, bare.ClientID, bareSecret, "", nil); err != ErrAudienceNotAllowed {
		t.Errorf("no registered audiences: expected ErrAudienceNotAllowed, got %v", err)
	}
}

// TestPurpose: Validates user context propagation into issued service tokens.
// Scope: Unit Test
// Security: On-behalf-of identity travels with the token
// Expected: The propagated user id and permission snapshot appear in claims.
// Test Case ID: SVC-04
func TestServiceClient_IssueTokenWithUserContext(t *testing.T) {
	s, _, codec := newClientFixture(t)
	ctx := context.Background()

	client, secret, err := s.Register(ctx, "billing-worker", []string{"billing"}, []string{"billing:read"})
	if err != nil {
		t.Fatalf("failed to register: %v", err)
	}

	signed, err := s.IssueToken(ctx, client.ClientID, secret, "billing", &token.UserContext{
		UserID:      "user-7",
		Permissions: []string{"billing:read"},
	})
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	claims := codec.DecodeService(signed)
	if claims == nil || claims.UserContext == nil {
		t.Fatal("user context should survive issuance")
	}
	if claims.UserContext.UserID != "user-7" {
		t.Errorf("unexpected propagated user: %+v", claims.UserContext)
	}
}
