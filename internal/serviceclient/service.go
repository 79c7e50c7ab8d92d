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
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gatekit/gatekit/internal/audit"
	"github.com/gatekit/gatekit/internal/token"
)

// Service authenticates machine clients and issues service tokens
type Service struct {
	store       Store
	codec       *token.Codec
	auditLogger audit.Logger
}

// NewService creates a service client service
func NewService(store Store, codec *token.Codec, auditLogger audit.Logger) *Service {
	return &Service{store: store, codec: codec, auditLogger: auditLogger}
}

// Register creates a client and returns it with the plaintext secret.
// The secret is not recoverable afterwards.
func (s *Service) Register(ctx context.Context, name string, audiences, permissions []string) (*Client, string, error) {
	secret := GenerateSecret()
	now := time.Now()
	client := &Client{
		ID:          uuid.NewString(),
		ClientID:    uuid.NewString(),
		SecretHash:  HashSecret(secret),
		Name:        name,
		Audiences:   audiences,
		Permissions: permissions,
		Enabled:     true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, client); err != nil {
		return nil, "", fmt.Errorf("failed to create client: %w", err)
	}
	return client, secret, nil
}

// Authenticate verifies a client id and secret pair. Lookup misses and
// secret mismatches are indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, clientID, secret string) (*Client, error) {
	client, err := s.store.GetByClientID(ctx, clientID)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if !client.Enabled {
		return nil, ErrClientDisabled
	}
	if subtle.ConstantTimeCompare([]byte(HashSecret(secret)), []byte(client.SecretHash)) != 1 {
		return nil, ErrInvalidCredentials
	}
	return client, nil
}

// IssueToken runs the client_credentials grant: it authenticates the
// client, checks the requested audience against its allow list, and
// signs a service token. An empty audience falls back to the client's
// first registered audience. An optional user context propagates a
// human identity through the service call chain.
func (s *Service) IssueToken(ctx context.Context, clientID, secret, audience string, userCtx *token.UserContext) (string, error) {
	client, err := s.Authenticate(ctx, clientID, secret)
	if err != nil {
		return "", err
	}

	if audience == "" {
		if len(client.Audiences) == 0 {
			return "", ErrAudienceNotAllowed
		}
		audience = client.Audiences[0]
	}
	if !client.AllowsAudience(audience) {
		return "", ErrAudienceNotAllowed
	}

	signed, err := s.codec.IssueServiceToken(client.ClientID, audience, client.Permissions, userCtx)
	if err != nil {
		return "", fmt.Errorf("failed to issue service token: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeServiceTokenAuth,
		ActorID:  client.ClientID,
		Resource: "service_token",
		Metadata: map[string]any{
			audit.AttrClientID: client.ClientID,
			"audience":         audience,
		},
	})

	return signed, nil
}

// Disable deactivates a client. Outstanding tokens expire on their own
// short TTL.
func (s *Service) Disable(ctx context.Context, clientID string) error {
	client, err := s.store.GetByClientID(ctx, clientID)
	if err != nil {
		return ErrClientNotFound
	}
	client.Enabled = false
	client.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, client); err != nil {
		return fmt.Errorf("failed to disable client: %w", err)
	}
	return nil
}
