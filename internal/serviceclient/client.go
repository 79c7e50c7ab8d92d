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

// Package serviceclient manages machine credentials for the
// client_credentials grant. Clients are registered out of band; this
// package authenticates them and issues service tokens scoped to one
// audience.
package serviceclient

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"time"
)

// Domain errors
var (
	ErrClientNotFound     = errors.New("client not found")
	ErrInvalidCredentials = errors.New("invalid client credentials")
	ErrClientDisabled     = errors.New("client disabled")
	ErrAudienceNotAllowed = errors.New("audience not allowed for client")
)

// Client is a registered machine caller. SecretHash is the SHA-256 of
// the plaintext secret; the plaintext is shown once at registration and
// never stored.
type Client struct {
	ID          string
	ClientID    string
	SecretHash  string
	Name        string
	Audiences   []string
	Permissions []string
	Enabled     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AllowsAudience reports whether the client may request tokens for the
// given audience.
func (c *Client) AllowsAudience(audience string) bool {
	for _, a := range c.Audiences {
		if a == audience {
			return true
		}
	}
	return false
}

// Store persists service clients
type Store interface {
	// Create inserts a new client
	Create(ctx context.Context, client *Client) error

	// GetByClientID retrieves a client by its public identifier
	GetByClientID(ctx context.Context, clientID string) (*Client, error)

	// Update persists changes to an existing client
	Update(ctx context.Context, client *Client) error
}

// GenerateSecret returns a fresh 256-bit client secret
func GenerateSecret() string {
	b := make([]byte, 32)
	rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// HashSecret hashes a client secret for storage
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
