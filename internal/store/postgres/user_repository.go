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

	"github.com/gatekit/gatekit/internal/identity"
)

// UserRepository implements identity.UserRepository
type UserRepository struct {
	db *DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `
	id, email, display_name, password_hash, email_verified, verified_at,
	enabled, remember_me_token, reset_token_hash, reset_expires_at,
	reset_used_at, created_at, updated_at`

// Create creates a new user
func (r *UserRepository) Create(ctx context.Context, user *identity.User) error {
	now := time.Now()
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO users (
			id, email, display_name, password_hash, email_verified, verified_at,
			enabled, remember_me_token, reset_token_hash, reset_expires_at,
			reset_used_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		user.ID, user.Email, user.DisplayName, user.PasswordHash,
		user.EmailVerified, user.VerifiedAt, user.Enabled, user.RememberMeToken,
		user.ResetTokenHash, user.ResetExpiresAt, user.ResetUsedAt,
		now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return identity.ErrEmailExists
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}

	user.CreatedAt = now
	user.UpdatedAt = now

	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*identity.User, error) {
	return r.getOne(ctx, `SELECT`+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByEmail retrieves a user by email
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*identity.User, error) {
	return r.getOne(ctx, `SELECT`+userColumns+` FROM users WHERE email = $1`, email)
}

// GetByResetTokenHash retrieves a user by the hash of an outstanding
// reset token
func (r *UserRepository) GetByResetTokenHash(ctx context.Context, tokenHash string) (*identity.User, error) {
	return r.getOne(ctx, `SELECT`+userColumns+` FROM users WHERE reset_token_hash = $1`, tokenHash)
}

// Update persists user mutations
func (r *UserRepository) Update(ctx context.Context, user *identity.User) error {
	now := time.Now()
	result, err := r.db.pool.Exec(ctx, `
		UPDATE users SET
			email = $2,
			display_name = $3,
			password_hash = $4,
			email_verified = $5,
			verified_at = $6,
			enabled = $7,
			remember_me_token = $8,
			reset_token_hash = $9,
			reset_expires_at = $10,
			reset_used_at = $11,
			updated_at = $12
		WHERE id = $1
	`,
		user.ID, user.Email, user.DisplayName, user.PasswordHash,
		user.EmailVerified, user.VerifiedAt, user.Enabled, user.RememberMeToken,
		user.ResetTokenHash, user.ResetExpiresAt, user.ResetUsedAt, now,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	if result.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}

	user.UpdatedAt = now

	return nil
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg any) (*identity.User, error) {
	var user identity.User

	err := r.db.pool.QueryRow(ctx, query, arg).Scan(
		&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash,
		&user.EmailVerified, &user.VerifiedAt, &user.Enabled, &user.RememberMeToken,
		&user.ResetTokenHash, &user.ResetExpiresAt, &user.ResetUsedAt,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, identity.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}
