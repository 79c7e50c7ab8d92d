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

package refresh

import (
	"context"
	"errors"
	"time"
)

// Domain errors
var (
	ErrTokenNotFound    = errors.New("refresh token not found")
	ErrTokenExpired     = errors.New("refresh token expired")
	ErrTokenRevoked     = errors.New("refresh token revoked")
	ErrReuseDetected    = errors.New("refresh token reuse detected")
	ErrRotationConflict = errors.New("concurrent rotation detected")
	ErrUserUnavailable  = errors.New("token owner missing or disabled")
)

// Record is one refresh token in a rotation chain. Only the SHA-256 hash
// of the plaintext is ever stored. FamilyID groups the chain started at
// login; ReplacedBy links each consumed token to its successor.
//
// Invariant: at most one record per family has ReplacedBy == nil and
// RevokedAt == nil. Records are retained after revocation as the theft
// audit trail.
type Record struct {
	ID         string
	UserID     string
	TokenHash  string
	FamilyID   string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	ReplacedBy *string
}

// Live reports whether this record is the family's current usable token
func (r *Record) Live() bool {
	return r.ReplacedBy == nil && r.RevokedAt == nil
}

// Store persists refresh token records
type Store interface {
	// Create inserts a new record
	Create(ctx context.Context, record *Record) error

	// GetByTokenHash retrieves a record by its token hash
	GetByTokenHash(ctx context.Context, tokenHash string) (*Record, error)

	// Rotate atomically inserts the successor record and marks the old
	// record as replaced by it. Returns ErrRotationConflict when the old
	// record was already replaced or revoked by a concurrent rotation;
	// in that case the successor must not be persisted.
	Rotate(ctx context.Context, oldID string, successor *Record) error

	// RevokeFamily marks every record in the family revoked
	RevokeFamily(ctx context.Context, familyID string) error

	// RevokeAllForUser marks every non-revoked record for the user revoked
	RevokeAllForUser(ctx context.Context, userID string) error

	// DeleteExpiredBefore prunes records whose expiry predates the cutoff
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) error
}
