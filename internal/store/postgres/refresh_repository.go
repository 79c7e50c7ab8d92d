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

	"github.com/gatekit/gatekit/internal/refresh"
)

// RefreshRepository implements refresh.Store
type RefreshRepository struct {
	db *DB
}

// NewRefreshRepository creates a new refresh token repository
func NewRefreshRepository(db *DB) *RefreshRepository {
	return &RefreshRepository{db: db}
}

// Create inserts a new record
func (r *RefreshRepository) Create(ctx context.Context, record *refresh.Record) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO refresh_tokens (
			id, user_id, token_hash, family_id, issued_at, expires_at,
			revoked_at, replaced_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		record.ID, record.UserID, record.TokenHash, record.FamilyID,
		record.IssuedAt, record.ExpiresAt, record.RevokedAt, record.ReplacedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to insert refresh token: %w", err)
	}
	return nil
}

// GetByTokenHash retrieves a record by its token hash
func (r *RefreshRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*refresh.Record, error) {
	var record refresh.Record

	err := r.db.pool.QueryRow(ctx, `
		SELECT id, user_id, token_hash, family_id, issued_at, expires_at,
			revoked_at, replaced_by
		FROM refresh_tokens
		WHERE token_hash = $1
	`, tokenHash).Scan(
		&record.ID, &record.UserID, &record.TokenHash, &record.FamilyID,
		&record.IssuedAt, &record.ExpiresAt, &record.RevokedAt, &record.ReplacedBy,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, refresh.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	return &record, nil
}

// Rotate atomically marks the old record replaced and inserts its
// successor. The guarded UPDATE is the serialization point: two
// concurrent rotations of the same token race on it, and the loser sees
// zero rows affected.
func (r *RefreshRepository) Rotate(ctx context.Context, oldID string, successor *refresh.Record) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			UPDATE refresh_tokens SET replaced_by = $2
			WHERE id = $1 AND replaced_by IS NULL AND revoked_at IS NULL
		`, oldID, successor.ID)
		if err != nil {
			return fmt.Errorf("failed to mark token replaced: %w", err)
		}
		if result.RowsAffected() == 0 {
			return refresh.ErrRotationConflict
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO refresh_tokens (
				id, user_id, token_hash, family_id, issued_at, expires_at,
				revoked_at, replaced_by
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`,
			successor.ID, successor.UserID, successor.TokenHash, successor.FamilyID,
			successor.IssuedAt, successor.ExpiresAt, successor.RevokedAt, successor.ReplacedBy,
		)
		if err != nil {
			return fmt.Errorf("failed to insert successor token: %w", err)
		}
		return nil
	})
}

// RevokeFamily marks every record in the family revoked
func (r *RefreshRepository) RevokeFamily(ctx context.Context, familyID string) error {
	_, err := r.db.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = $2
		WHERE family_id = $1 AND revoked_at IS NULL
	`, familyID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to revoke family: %w", err)
	}
	return nil
}

// RevokeAllForUser marks every non-revoked record for the user revoked
func (r *RefreshRepository) RevokeAllForUser(ctx context.Context, userID string) error {
	_, err := r.db.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = $2
		WHERE user_id = $1 AND revoked_at IS NULL
	`, userID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to revoke user tokens: %w", err)
	}
	return nil
}

// DeleteExpiredBefore prunes records whose expiry predates the cutoff
func (r *RefreshRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) error {
	_, err := r.db.pool.Exec(ctx, `
		DELETE FROM refresh_tokens WHERE expires_at < $1
	`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune refresh tokens: %w", err)
	}
	return nil
}
