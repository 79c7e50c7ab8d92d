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

package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gatekit/gatekit/internal/audit"
)

// Verification errors
var (
	ErrInvalidVerificationToken = errors.New("invalid verification token")
	ErrVerificationExpired      = errors.New("verification token expired")
	ErrAlreadyVerified          = errors.New("email already verified")
	ErrResendLimited            = errors.New("too many verification emails requested")
)

// VerificationRecord tracks one magic-link issuance. At most one
// non-invalidated record per user is active; records are never deleted,
// only invalidated or verified.
type VerificationRecord struct {
	ID            string
	UserID        string
	TokenHash     string
	ExpiresAt     time.Time
	Attempts      int
	MaxAttempts   int
	CreatedByIP   string
	VerifiedAt    *time.Time
	InvalidatedAt *time.Time
	CreatedAt     time.Time
}

// VerificationStore persists verification records
type VerificationStore interface {
	// Create creates a new verification record
	Create(ctx context.Context, record *VerificationRecord) error

	// GetByTokenHash retrieves a record by its token hash
	GetByTokenHash(ctx context.Context, tokenHash string) (*VerificationRecord, error)

	// GetActiveForUser retrieves the current non-invalidated, unverified
	// record for a user; nil, nil when none exists
	GetActiveForUser(ctx context.Context, userID string) (*VerificationRecord, error)

	// Update persists record mutations
	Update(ctx context.Context, record *VerificationRecord) error

	// CountCreatedSince counts records issued for a user after the cutoff
	CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error)

	// DeleteExpiredBefore prunes records whose expiry predates the cutoff
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) error
}

// VerificationService issues and verifies email magic links
type VerificationService struct {
	store       VerificationStore
	users       UserRepository
	sender      EmailSender
	auditLogger audit.Logger
	tokenTTL    time.Duration
	maxAttempts int
	maxResends  int
}

// NewVerificationService creates an email verification service
func NewVerificationService(
	store VerificationStore,
	users UserRepository,
	sender EmailSender,
	auditLogger audit.Logger,
	tokenTTL time.Duration,
	maxAttempts int,
	maxResends int,
) *VerificationService {
	return &VerificationService{
		store:       store,
		users:       users,
		sender:      sender,
		auditLogger: auditLogger,
		tokenTTL:    tokenTTL,
		maxAttempts: maxAttempts,
		maxResends:  maxResends,
	}
}

// InitiateVerification invalidates any active record for the user and
// issues a fresh magic link.
func (s *VerificationService) InitiateVerification(ctx context.Context, userID, ip, locale string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return ErrUserNotFound
	}

	if user.EmailVerified {
		return ErrAlreadyVerified
	}

	if err := s.invalidateActive(ctx, userID); err != nil {
		return err
	}

	token := generateResetToken()
	record := &VerificationRecord{
		ID:          uuid.NewString(),
		UserID:      userID,
		TokenHash:   hashResetToken(token),
		ExpiresAt:   time.Now().Add(s.tokenTTL),
		MaxAttempts: s.maxAttempts,
		CreatedByIP: ip,
		CreatedAt:   time.Now(),
	}

	if err := s.store.Create(ctx, record); err != nil {
		return fmt.Errorf("failed to create verification record: %w", err)
	}

	return s.sender.SendVerificationEmail(ctx, user.Email, token, locale)
}

// VerifyWithToken consumes a magic link. The expiry check runs before
// the already-verified check so a stale link for a verified user still
// reads as expired.
func (s *VerificationService) VerifyWithToken(ctx context.Context, token, ip string) (*User, error) {
	record, err := s.store.GetByTokenHash(ctx, hashResetToken(token))
	if err != nil {
		return nil, ErrInvalidVerificationToken
	}

	if record.InvalidatedAt != nil {
		return nil, ErrInvalidVerificationToken
	}

	record.Attempts++
	if record.Attempts > record.MaxAttempts {
		now := time.Now()
		record.InvalidatedAt = &now
		_ = s.store.Update(ctx, record)
		return nil, ErrInvalidVerificationToken
	}
	if err := s.store.Update(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to update verification record: %w", err)
	}

	if time.Now().After(record.ExpiresAt) {
		return nil, ErrVerificationExpired
	}

	user, err := s.users.GetByID(ctx, record.UserID)
	if err != nil {
		return nil, ErrInvalidVerificationToken
	}

	if user.EmailVerified {
		return nil, ErrAlreadyVerified
	}

	now := time.Now()
	record.VerifiedAt = &now
	if err := s.store.Update(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to update verification record: %w", err)
	}

	user.EmailVerified = true
	user.VerifiedAt = &now
	user.UpdatedAt = now
	if err := s.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:      audit.TypeEmailVerified,
		ActorID:   user.ID,
		Resource:  "email_verification",
		IPAddress: ip,
	})

	return user, nil
}

// ResendVerification issues a fresh link, limited per user per hour
func (s *VerificationService) ResendVerification(ctx context.Context, userID, ip, locale string) error {
	count, err := s.store.CountCreatedSince(ctx, userID, time.Now().Add(-time.Hour))
	if err != nil {
		return fmt.Errorf("failed to count verification records: %w", err)
	}
	if count >= s.maxResends {
		return ErrResendLimited
	}

	return s.InitiateVerification(ctx, userID, ip, locale)
}

func (s *VerificationService) invalidateActive(ctx context.Context, userID string) error {
	active, err := s.store.GetActiveForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load active verification record: %w", err)
	}
	if active == nil {
		return nil
	}
	now := time.Now()
	active.InvalidatedAt = &now
	return s.store.Update(ctx, active)
}
