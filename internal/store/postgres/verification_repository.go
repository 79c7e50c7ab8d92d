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

// VerificationRepository implements identity.VerificationStore
type VerificationRepository struct {
	db *DB
}

// NewVerificationRepository creates a new email verification repository
func NewVerificationRepository(db *DB) *VerificationRepository {
	return &VerificationRepository{db: db}
}

const verificationColumns = `
	id, user_id, token_hash, expires_at, attempts, max_attempts,
	created_by_ip, verified_at, invalidated_at, created_at`

// Create creates a new verification record
func (r *VerificationRepository) Create(ctx context.Context, record *identity.VerificationRecord) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO email_verifications (
			id, user_id, token_hash, expires_at, attempts, max_attempts,
			created_by_ip, verified_at, invalidated_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		record.ID, record.UserID, record.TokenHash, record.ExpiresAt,
		record.Attempts, record.MaxAttempts, record.CreatedByIP,
		record.VerifiedAt, record.InvalidatedAt, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert verification record: %w", err)
	}
	return nil
}

// GetByTokenHash retrieves a record by its token hash
func (r *VerificationRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*identity.VerificationRecord, error) {
	record, err := r.getOne(ctx,
		`SELECT`+verificationColumns+` FROM email_verifications WHERE token_hash = $1`,
		tokenHash)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, identity.ErrInvalidVerificationToken
	}
	return record, nil
}

// GetActiveForUser retrieves the current non-invalidated, unverified
// record for a user; nil, nil when none exists
func (r *VerificationRepository) GetActiveForUser(ctx context.Context, userID string) (*identity.VerificationRecord, error) {
	return r.getOne(ctx, `
		SELECT`+verificationColumns+`
		FROM email_verifications
		WHERE user_id = $1 AND verified_at IS NULL AND invalidated_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1
	`, userID)
}

// Update persists record mutations
func (r *VerificationRepository) Update(ctx context.Context, record *identity.VerificationRecord) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE email_verifications SET
			attempts = $2,
			verified_at = $3,
			invalidated_at = $4
		WHERE id = $1
	`, record.ID, record.Attempts, record.VerifiedAt, record.InvalidatedAt)
	if err != nil {
		return fmt.Errorf("failed to update verification record: %w", err)
	}
	if result.RowsAffected() == 0 {
		return identity.ErrInvalidVerificationToken
	}
	return nil
}

// CountCreatedSince counts records issued for a user after the cutoff
func (r *VerificationRepository) CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := r.db.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM email_verifications
		WHERE user_id = $1 AND created_at > $2
	`, userID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count verification records: %w", err)
	}
	return count, nil
}

// DeleteExpiredBefore prunes records whose expiry predates the cutoff
func (r *VerificationRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) error {
	_, err := r.db.pool.Exec(ctx,
		`DELETE FROM email_verifications WHERE expires_at < $1`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune verification records: %w", err)
	}
	return nil
}

func (r *VerificationRepository) getOne(ctx context.Context, query string, arg any) (*identity.VerificationRecord, error) {
	var record identity.VerificationRecord

	err := r.db.pool.QueryRow(ctx, query, arg).Scan(
		&record.ID, &record.UserID, &record.TokenHash, &record.ExpiresAt,
		&record.Attempts, &record.MaxAttempts, &record.CreatedByIP,
		&record.VerifiedAt, &record.InvalidatedAt, &record.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get verification record: %w", err)
	}

	return &record, nil
}
