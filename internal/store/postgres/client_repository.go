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
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/gatekit/gatekit/internal/serviceclient"
)

// ClientRepository implements serviceclient.Store
type ClientRepository struct {
	db *DB
}

// NewClientRepository creates a new service client repository
func NewClientRepository(db *DB) *ClientRepository {
	return &ClientRepository{db: db}
}

// Create inserts a new client
func (r *ClientRepository) Create(ctx context.Context, client *serviceclient.Client) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO service_clients (
			id, client_id, secret_hash, name, audiences, permissions,
			enabled, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		client.ID, client.ClientID, client.SecretHash, client.Name,
		client.Audiences, client.Permissions, client.Enabled,
		client.CreatedAt, client.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert service client: %w", err)
	}
	return nil
}

// GetByClientID retrieves a client by its public identifier
func (r *ClientRepository) GetByClientID(ctx context.Context, clientID string) (*serviceclient.Client, error) {
	var client serviceclient.Client

	err := r.db.pool.QueryRow(ctx, `
		SELECT id, client_id, secret_hash, name, audiences, permissions,
			enabled, created_at, updated_at
		FROM service_clients
		WHERE client_id = $1
	`, clientID).Scan(
		&client.ID, &client.ClientID, &client.SecretHash, &client.Name,
		&client.Audiences, &client.Permissions, &client.Enabled,
		&client.CreatedAt, &client.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, serviceclient.ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get service client: %w", err)
	}

	return &client, nil
}

// Update persists changes to an existing client
func (r *ClientRepository) Update(ctx context.Context, client *serviceclient.Client) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE service_clients SET
			secret_hash = $2,
			name = $3,
			audiences = $4,
			permissions = $5,
			enabled = $6,
			updated_at = $7
		WHERE client_id = $1
	`,
		client.ClientID, client.SecretHash, client.Name,
		client.Audiences, client.Permissions, client.Enabled, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to update service client: %w", err)
	}
	if result.RowsAffected() == 0 {
		return serviceclient.ErrClientNotFound
	}
	return nil
}
