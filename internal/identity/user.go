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
	"time"
)

// Domain errors
var (
	ErrUserNotFound        = errors.New("user not found")
	ErrEmailExists         = errors.New("email already registered")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrWeakPassword        = errors.New("password does not meet security requirements")
	ErrInvalidResetToken   = errors.New("invalid or expired reset token")
	ErrUserDisabled        = errors.New("user account is disabled")
	ErrUnsupportedProvider = errors.New("unsupported oauth provider")
)

// User represents a user identity in the system.
//
// PasswordHash is nil for accounts created through OAuth federation;
// such accounts cannot authenticate with a password until one is set.
// Users are never physically deleted; Enabled=false disables sign-in.
type User struct {
	ID            string
	Email         string
	DisplayName   string
	PasswordHash  *string
	EmailVerified bool
	VerifiedAt    *time.Time
	Enabled       bool

	// RememberMeToken is a legacy pre-rotation credential kept only for
	// data migration compatibility. New logins never write it.
	RememberMeToken *string

	// Password reset state. The token is stored as a SHA-256 hex hash,
	// never in plaintext. UsedAt marks single-use consumption.
	ResetTokenHash *string
	ResetExpiresAt *time.Time
	ResetUsedAt    *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserRepository defines the interface for user persistence
type UserRepository interface {
	// Create creates a new user
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID
	GetByID(ctx context.Context, id string) (*User, error)

	// GetByEmail retrieves a user by email
	GetByEmail(ctx context.Context, email string) (*User, error)

	// GetByResetTokenHash retrieves a user by the hash of an outstanding
	// password reset token
	GetByResetTokenHash(ctx context.Context, tokenHash string) (*User, error)

	// Update persists user mutations
	Update(ctx context.Context, user *User) error
}

// EmailSender delivers transactional mail. Implementations must not block
// the caller beyond a normal request timeout; failures are surfaced as
// errors and handled per-operation.
type EmailSender interface {
	SendPasswordResetEmail(ctx context.Context, email, token, locale string) error
	SendVerificationEmail(ctx context.Context, email, token, locale string) error
}
