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
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/gatekit/gatekit/internal/audit"
	"github.com/gatekit/gatekit/internal/oauth"
	"github.com/gatekit/gatekit/internal/observability/metrics"
)

// Service provides authentication business logic
type Service struct {
	repo        UserRepository
	hasher      *PasswordHasher
	providers   *oauth.Registry
	rateLimiter *RateLimitService
	sender      EmailSender
	auditLogger audit.Logger
	metrics     *metrics.AuthMetrics
	resetTTL    time.Duration
}

// NewService creates a new authentication service
func NewService(
	repo UserRepository,
	hasher *PasswordHasher,
	providers *oauth.Registry,
	rateLimiter *RateLimitService,
	sender EmailSender,
	auditLogger audit.Logger,
	authMetrics *metrics.AuthMetrics,
	resetTTL time.Duration,
) *Service {
	return &Service{
		repo:        repo,
		hasher:      hasher,
		providers:   providers,
		rateLimiter: rateLimiter,
		sender:      sender,
		auditLogger: auditLogger,
		metrics:     authMetrics,
		resetTTL:    resetTTL,
	}
}

// Authenticate authenticates a user with email and password.
//
// Every failure collapses to ErrInvalidCredentials. The caller must not
// be able to distinguish "no such user", "OAuth-only account", "disabled"
// and "wrong password"; the distinction lives only in the audit trail.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	if password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		s.failLogin(ctx, "", email, "user_not_found")
		return nil, ErrInvalidCredentials
	}

	if !user.Enabled {
		s.failLogin(ctx, user.ID, email, "account_disabled")
		return nil, ErrInvalidCredentials
	}

	if user.PasswordHash == nil {
		// OAuth-only account
		s.failLogin(ctx, user.ID, email, "no_password_credential")
		return nil, ErrInvalidCredentials
	}

	if !s.hasher.Verify(password, *user.PasswordHash) {
		s.failLogin(ctx, user.ID, email, "invalid_password")
		return nil, ErrInvalidCredentials
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeLoginSuccess,
		ActorID:  user.ID,
		Resource: "login",
	})

	return user, nil
}

// Register creates a new user with a password credential
func (s *Service) Register(ctx context.Context, name, email, password string) (*User, error) {
	if !IsStrongPassword(password) {
		return nil, ErrWeakPassword
	}

	if existing, err := s.repo.GetByEmail(ctx, email); err == nil && existing != nil {
		return nil, ErrEmailExists
	}

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now()
	user := &User{
		ID:            uuid.NewString(),
		Email:         email,
		DisplayName:   name,
		PasswordHash:  &passwordHash,
		EmailVerified: false,
		Enabled:       true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeUserRegistered,
		ActorID:  user.ID,
		Resource: "user",
	})

	return user, nil
}

// RequestPasswordReset starts the password reset flow. It always reports
// success: a missing account, an OAuth-only account, a rate-limited email
// and a failed email delivery are all outwardly indistinguishable from
// the happy path.
func (s *Service) RequestPasswordReset(ctx context.Context, email, locale string) bool {
	if s.rateLimiter.IsRateLimited(ctx, email) {
		return true
	}

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return true
	}

	if user.PasswordHash == nil {
		// Nothing to reset on a federated account
		return true
	}

	token := generateResetToken()
	tokenHash := hashResetToken(token)
	expiresAt := time.Now().Add(s.resetTTL)

	user.ResetTokenHash = &tokenHash
	user.ResetExpiresAt = &expiresAt
	user.ResetUsedAt = nil
	user.UpdatedAt = time.Now()

	if err := s.repo.Update(ctx, user); err != nil {
		slog.ErrorContext(ctx, "failed to persist reset token", slog.String("error", err.Error()))
		return true
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeResetRequested,
		ActorID:  user.ID,
		Resource: "password_reset",
	})

	if err := s.sender.SendPasswordResetEmail(ctx, user.Email, token, locale); err != nil {
		// Delivery failures are swallowed; the token stays valid.
		slog.WarnContext(ctx, "reset email delivery failed",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		if s.metrics != nil {
			s.metrics.ResetEmailFailures.Add(ctx, 1)
		}
	}

	return true
}

// ValidateResetToken checks a reset token without consuming it. Tokens
// are single-use: once ResetUsedAt is set, validation fails regardless
// of expiry.
func (s *Service) ValidateResetToken(ctx context.Context, token string) (*User, error) {
	user, err := s.repo.GetByResetTokenHash(ctx, hashResetToken(token))
	if err != nil {
		return nil, ErrInvalidResetToken
	}

	if user.ResetUsedAt != nil {
		return nil, ErrInvalidResetToken
	}

	if user.ResetExpiresAt == nil || time.Now().After(*user.ResetExpiresAt) {
		return nil, ErrInvalidResetToken
	}

	return user, nil
}

// ResetPassword consumes a reset token and sets a new password
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) (*User, error) {
	user, err := s.ValidateResetToken(ctx, token)
	if err != nil {
		return nil, err
	}

	if !IsStrongPassword(newPassword) {
		return nil, ErrWeakPassword
	}

	passwordHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now()
	user.PasswordHash = &passwordHash
	user.ResetTokenHash = nil
	user.ResetExpiresAt = nil
	user.ResetUsedAt = &now
	user.UpdatedAt = now

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeResetCompleted,
		ActorID:  user.ID,
		Resource: "password_reset",
	})

	return user, nil
}

// ChangePassword replaces a user's password after verifying the old one
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return ErrUserNotFound
	}

	if user.PasswordHash == nil || !s.hasher.Verify(oldPassword, *user.PasswordHash) {
		return ErrInvalidCredentials
	}

	if !IsStrongPassword(newPassword) {
		return ErrWeakPassword
	}

	passwordHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	user.PasswordHash = &passwordHash
	user.UpdatedAt = time.Now()

	if err := s.repo.Update(ctx, user); err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypePasswordChanged,
		ActorID:  user.ID,
		Resource: "user_credentials",
	})

	return nil
}

// AuthenticateWithOAuth signs a user in through a federated provider's
// id token, creating a passwordless account on first sign-in.
func (s *Service) AuthenticateWithOAuth(ctx context.Context, providerName, idToken string) (*User, error) {
	provider, ok := s.providers.Get(providerName)
	if !ok {
		return nil, ErrUnsupportedProvider
	}

	claims, err := provider.ValidateAndExtractClaims(ctx, idToken)
	if err != nil || claims == nil {
		s.failLogin(ctx, "", "", "invalid_id_token")
		return nil, ErrInvalidCredentials
	}

	user, err := s.repo.GetByEmail(ctx, claims.Email)
	if err != nil {
		now := time.Now()
		user = &User{
			ID:            uuid.NewString(),
			Email:         claims.Email,
			DisplayName:   claims.Name,
			PasswordHash:  nil,
			EmailVerified: claims.EmailVerified,
			Enabled:       true,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if claims.EmailVerified {
			user.VerifiedAt = &now
		}
		if err := s.repo.Create(ctx, user); err != nil {
			return nil, fmt.Errorf("failed to create federated user: %w", err)
		}
	} else {
		if !user.Enabled {
			s.failLogin(ctx, user.ID, claims.Email, "account_disabled")
			return nil, ErrInvalidCredentials
		}
		if user.DisplayName == "" && claims.Name != "" {
			user.DisplayName = claims.Name
			user.UpdatedAt = time.Now()
			if err := s.repo.Update(ctx, user); err != nil {
				return nil, fmt.Errorf("failed to update user: %w", err)
			}
		}
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeOAuthSignIn,
		ActorID:  user.ID,
		Resource: "login",
		Metadata: map[string]any{audit.AttrProvider: provider.Name()},
	})

	return user, nil
}

// GetUser retrieves a user by ID
func (s *Service) GetUser(ctx context.Context, userID string) (*User, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (s *Service) failLogin(ctx context.Context, userID, email, reason string) {
	if s.metrics != nil {
		s.metrics.LoginFailures.Add(ctx, 1)
	}
	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeLoginFailed,
		ActorID:  userID,
		Resource: "login",
		Metadata: map[string]any{audit.AttrReason: reason, "email": email},
	})
}

// IsStrongPassword enforces the password policy: at least 8 characters
// with one upper, one lower, one digit and one symbol.
func IsStrongPassword(password string) bool {
	if len(password) < 8 {
		return false
	}
	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	return upper && lower && digit && symbol
}

func generateResetToken() string {
	b := make([]byte, 32)
	rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

func hashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
