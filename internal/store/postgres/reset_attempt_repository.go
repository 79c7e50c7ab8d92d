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

// ResetAttemptRepository implements identity.ResetAttemptStore
type ResetAttemptRepository struct {
	db *DB
}

// NewResetAttemptRepository creates a new reset attempt repository
func NewResetAttemptRepository(db *DB) *ResetAttemptRepository {
	return &ResetAttemptRepository{db: db}
}

// Get retrieves the window for an email; nil, nil when missing
func (r *ResetAttemptRepository) Get(ctx context.Context, email string) (*identity.ResetAttempt, error) {
	var attempt identity.ResetAttempt

	err := r.db.pool.QueryRow(ctx, `
		SELECT email, attempt_count, window_start
		FROM reset_attempts
		WHERE email = $1
	`, email).Scan(&attempt.Email, &attempt.AttemptCount, &attempt.WindowStart)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get reset attempt: %w", err)
	}

	return &attempt, nil
}

// Upsert creates or replaces the window for an email
func (r *ResetAttemptRepository) Upsert(ctx context.Context, attempt *identity.ResetAttempt) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO reset_attempts (email, attempt_count, window_start)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO UPDATE SET
			attempt_count = EXCLUDED.attempt_count,
			window_start = EXCLUDED.window_start
	`, attempt.Email, attempt.AttemptCount, attempt.WindowStart)
	if err != nil {
		return fmt.Errorf("failed to upsert reset attempt: %w", err)
	}
	return nil
}

// DeleteOlderThan removes windows started before the cutoff
func (r *ResetAttemptRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) error {
	_, err := r.db.pool.Exec(ctx, `
		DELETE FROM reset_attempts WHERE window_start < $1
	`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune reset attempts: %w", err)
	}
	return nil
}
