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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gatekit/gatekit/internal/audit"
	"github.com/gatekit/gatekit/internal/identity"
	"github.com/gatekit/gatekit/internal/observability/metrics"
	"github.com/gatekit/gatekit/internal/token"
)

// PermissionSource recomputes a user's effective permissions at
// rotation time. Embedded token claims are never trusted here.
type PermissionSource interface {
	PermissionsForUser(ctx context.Context, userID string) ([]string, error)
}

// Service implements refresh token rotation with reuse detection
type Service struct {
	store       Store
	users       identity.UserRepository
	permissions PermissionSource
	codec       *token.Codec
	auditLogger audit.Logger
	metrics     *metrics.AuthMetrics
	ttl         time.Duration
}

// NewService creates a refresh token service
func NewService(
	store Store,
	users identity.UserRepository,
	permissions PermissionSource,
	codec *token.Codec,
	auditLogger audit.Logger,
	authMetrics *metrics.AuthMetrics,
	ttl time.Duration,
) *Service {
	return &Service{
		store:       store,
		users:       users,
		permissions: permissions,
		codec:       codec,
		auditLogger: auditLogger,
		metrics:     authMetrics,
		ttl:         ttl,
	}
}

// Create issues a refresh token in a fresh family and returns the
// plaintext. Only the SHA-256 hash is persisted.
func (s *Service) Create(ctx context.Context, userID string) (string, error) {
	plaintext, err := s.codec.IssueRefreshToken(userID)
	if err != nil {
		return "", fmt.Errorf("failed to issue refresh token: %w", err)
	}

	now := time.Now()
	record := &Record{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: HashToken(plaintext),
		FamilyID:  uuid.NewString(),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}

	if err := s.store.Create(ctx, record); err != nil {
		return "", fmt.Errorf("failed to persist refresh token: %w", err)
	}

	return plaintext, nil
}

// Refresh rotates a refresh token: it validates the presented plaintext,
// recomputes the owner's current permissions, and issues a new access
// token plus a successor refresh token in the same family.
//
// Presenting an already-consumed token is the theft signal: the entire
// family is revoked before ErrReuseDetected is returned. Legitimate
// clients only ever hold the newest token.
func (s *Service) Refresh(ctx context.Context, plaintext string) (accessToken, refreshToken string, err error) {
	record, err := s.store.GetByTokenHash(ctx, HashToken(plaintext))
	if err != nil {
		return "", "", ErrTokenNotFound
	}

	if record.ReplacedBy != nil {
		s.revokeCompromisedFamily(ctx, record)
		return "", "", ErrReuseDetected
	}

	if record.RevokedAt != nil {
		return "", "", ErrTokenRevoked
	}

	if time.Now().After(record.ExpiresAt) {
		return "", "", ErrTokenExpired
	}

	user, err := s.users.GetByID(ctx, record.UserID)
	if err != nil || !user.Enabled {
		return "", "", ErrUserUnavailable
	}

	perms, err := s.permissions.PermissionsForUser(ctx, user.ID)
	if err != nil {
		return "", "", fmt.Errorf("failed to load permissions: %w", err)
	}

	accessToken, err = s.codec.IssueAccessToken(user.ID, user.Email, perms)
	if err != nil {
		return "", "", fmt.Errorf("failed to issue access token: %w", err)
	}

	refreshToken, err = s.codec.IssueRefreshToken(user.ID)
	if err != nil {
		return "", "", fmt.Errorf("failed to issue refresh token: %w", err)
	}

	now := time.Now()
	successor := &Record{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: HashToken(refreshToken),
		FamilyID:  record.FamilyID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}

	if err := s.store.Rotate(ctx, record.ID, successor); err != nil {
		if err == ErrRotationConflict {
			// A concurrent rotation won; this presentation is a second
			// use of the same token.
			s.revokeCompromisedFamily(ctx, record)
			return "", "", ErrReuseDetected
		}
		return "", "", fmt.Errorf("failed to rotate refresh token: %w", err)
	}

	if s.metrics != nil {
		s.metrics.TokenRotations.Add(ctx, 1)
	}
	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTokenRefreshed,
		ActorID:  user.ID,
		Resource: "refresh_token",
		Metadata: map[string]any{audit.AttrFamilyID: record.FamilyID},
	})

	return accessToken, refreshToken, nil
}

// RevokeAllForUser revokes every outstanding token for a user, used on
// logout and account disable.
func (s *Service) RevokeAllForUser(ctx context.Context, userID string) error {
	if err := s.store.RevokeAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("failed to revoke tokens: %w", err)
	}
	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTokenRevoked,
		ActorID:  userID,
		Resource: "refresh_token",
	})
	return nil
}

// RevokeFamily revokes every record in one rotation chain
func (s *Service) RevokeFamily(ctx context.Context, familyID string) error {
	if err := s.store.RevokeFamily(ctx, familyID); err != nil {
		return fmt.Errorf("failed to revoke family: %w", err)
	}
	return nil
}

// Cleanup prunes records whose expiry predates the retention cutoff
func (s *Service) Cleanup(ctx context.Context, retention time.Duration) error {
	return s.store.DeleteExpiredBefore(ctx, time.Now().Add(-retention))
}

func (s *Service) revokeCompromisedFamily(ctx context.Context, record *Record) {
	// Revocation failure is logged via audit either way; the caller
	// still gets ErrReuseDetected.
	_ = s.store.RevokeFamily(ctx, record.FamilyID)
	if s.metrics != nil {
		s.metrics.ReuseDetections.Add(ctx, 1)
	}
	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeReuseDetected,
		ActorID:  record.UserID,
		Resource: "refresh_token",
		Metadata: map[string]any{audit.AttrFamilyID: record.FamilyID},
	})
}

// HashToken returns the hex SHA-256 of a plaintext token. Plaintext
// never reaches persistence.
func HashToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
