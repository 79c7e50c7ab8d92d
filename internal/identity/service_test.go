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
	"testing"
	"time"

	"github.com/gatekit/gatekit/internal/audit"
	"github.com/gatekit/gatekit/internal/oauth"
)

// MockUserRepository is a simple in-memory implementation of UserRepository
type MockUserRepository struct {
	users map[string]*User
}

func NewMockUserRepository() *MockUserRepository {
	return &MockUserRepository{users: make(map[string]*User)}
}

func (m *MockUserRepository) Create(ctx context.Context, user *User) error {
	for _, u := range m.users {
		if u.Email == user.Email {
			return ErrEmailExists
		}
	}
	m.users[user.ID] = user
	return nil
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *MockUserRepository) GetByResetTokenHash(ctx context.Context, tokenHash string) (*User, error) {
	for _, u := range m.users {
		if u.ResetTokenHash != nil && *u.ResetTokenHash == tokenHash {
			return u, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *MockUserRepository) Update(ctx context.Context, user *User) error {
	if _, ok := m.users[user.ID]; !ok {
		return ErrUserNotFound
	}
	m.users[user.ID] = user
	return nil
}

// MockEmailSender records outgoing mail instead of delivering it
type MockEmailSender struct {
	resetTokens        []string
	verificationTokens []string
	failNext           bool
}

func (m *MockEmailSender) SendPasswordResetEmail(ctx context.Context, email, token, locale string) error {
	if m.failNext {
		m.failNext = false
		return errors.New("smtp unavailable")
	}
	m.resetTokens = append(m.resetTokens, token)
	return nil
}

func (m *MockEmailSender) SendVerificationEmail(ctx context.Context, email, token, locale string) error {
	if m.failNext {
		m.failNext = false
		return errors.New("smtp unavailable")
	}
	m.verificationTokens = append(m.verificationTokens, token)
	return nil
}

// MockAttemptStore is an in-memory ResetAttemptStore
type MockAttemptStore struct {
	attempts map[string]*ResetAttempt
}

func NewMockAttemptStore() *MockAttemptStore {
	return &MockAttemptStore{attempts: make(map[string]*ResetAttempt)}
}

func (m *MockAttemptStore) Get(ctx context.Context, email string) (*ResetAttempt, error) {
	return m.attempts[email], nil
}

func (m *MockAttemptStore) Upsert(ctx context.Context, attempt *ResetAttempt) error {
	m.attempts[attempt.Email] = attempt
	return nil
}

func (m *MockAttemptStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) error {
	for email, a := range m.attempts {
		if a.WindowStart.Before(cutoff) {
			delete(m.attempts, email)
		}
	}
	return nil
}

func newTestService(t *testing.T) (*Service, *MockUserRepository, *MockEmailSender) {
	t.Helper()
	repo := NewMockUserRepository()
	sender := &MockEmailSender{}
	rateLimiter := NewRateLimitService(NewMockAttemptStore(), 3)
	s := NewService(
		repo,
		NewPasswordHasher(65536, 3, 4, 16, 32),
		oauth.NewRegistry(),
		rateLimiter,
		sender,
		audit.NewSlogLogger(),
		nil,
		time.Hour,
	)
	return s, repo, sender
}

// TestPurpose: Validates the full register-then-authenticate round trip.
// Scope: Unit Test
// Security: Authentication mechanism
// Expected: Registered user authenticates with the correct password and is rejected with a wrong one.
// Test Case ID: IDN-01
func TestService_RegisterAndAuthenticate(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()

	user, err := s.Register(ctx, "Test User", "test@example.com", "SecurePassword1!")
	if err != nil {
		t.Fatalf("failed to register: %v", err)
	}
	if user.EmailVerified {
		t.Error("new users must start unverified")
	}

	got, err := s.Authenticate(ctx, "test@example.com", "SecurePassword1!")
	if err != nil {
		t.Fatalf("authentication failed: %v", err)
	}
	if got.ID != user.ID {
		t.Errorf("authenticated wrong user: got %s want %s", got.ID, user.ID)
	}

	if _, err := s.Authenticate(ctx, "test@example.com", "WrongPassword1!"); err != ErrInvalidCredentials {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

// TestPurpose: Validates that every authentication failure mode returns the same error.
// Scope: Unit Test
// Security: Account enumeration resistance
// Expected: Unknown email, disabled account, OAuth-only account and wrong password all yield ErrInvalidCredentials.
// Test Case ID: IDN-02
func TestService_AuthenticateFailuresAreUniform(t *testing.T) {
	s, repo, _ := newTestService(t)
	ctx := context.Background()

	if _, err := s.Register(ctx, "Disabled", "disabled@example.com", "SecurePassword1!"); err != nil {
		t.Fatalf("failed to register: %v", err)
	}
	disabled, _ := repo.GetByEmail(ctx, "disabled@example.com")
	disabled.Enabled = false

	// Federated account without a password credential
	repo.users["oauth-user"] = &User{
		ID:      "oauth-user",
		Email:   "federated@example.com",
		Enabled: true,
	}

	cases := []struct {
		name     string
		email    string
		password string
	}{
		{"unknown email", "nobody@example.com", "SecurePassword1!"},
		{"disabled account", "disabled@example.com", "SecurePassword1!"},
		{"oauth-only account", "federated@example.com", "SecurePassword1!"},
		{"empty password", "disabled@example.com", ""},
	}

	for _, tc := range cases {
		if _, err := s.Authenticate(ctx, tc.email, tc.password); err != ErrInvalidCredentials {
			t.Errorf("%s: expected ErrInvalidCredentials, got %v", tc.name, err)
		}
	}
}

// TestPurpose: Validates duplicate email and weak password rejection at registration.
// Scope: Unit Test
// Security: Credential policy enforcement
// Expected: ErrEmailExists for a taken address, ErrWeakPassword for passwords missing a character class.
// Test Case ID: IDN-03
func TestService_RegisterRejections(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := s.Register(ctx, "First", "taken@example.com", "SecurePassword1!"); err != nil {
		t.Fatalf("failed to register: %v", err)
	}
	if _, err := s.Register(ctx, "Second", "taken@example.com", "OtherPassword1!"); err != ErrEmailExists {
		t.Errorf("expected ErrEmailExists, got %v", err)
	}

	weak := []string{"short1!", "nouppercase1!", "NOLOWERCASE1!", "NoDigitsHere!", "NoSymbolsHere1"}
	for _, password := range weak {
		if _, err := s.Register(ctx, "Weak", "weak@example.com", password); err != ErrWeakPassword {
			t.Errorf("password %q: expected ErrWeakPassword, got %v", password, err)
		}
	}
}

// TestPurpose: Validates that the reset flow reports success regardless of account existence and that the token is single-use.
// Scope: Unit Test
// Security: Account enumeration resistance and token single-use
// Expected: RequestPasswordReset returns true for any address; the emailed token resets once and then fails.
// Test Case ID: RST-01
func TestService_PasswordResetFlow(t *testing.T) {
	s, _, sender := newTestService(t)
	ctx := context.Background()

	if _, err := s.Register(ctx, "Reset Me", "reset@example.com", "OldPassword1!"); err != nil {
		t.Fatalf("failed to register: %v", err)
	}

	// Unknown address still reports success and sends nothing
	if !s.RequestPasswordReset(ctx, "nobody@example.com", "") {
		t.Error("reset request must always report success")
	}
	if len(sender.resetTokens) != 0 {
		t.Fatal("no email should be sent for unknown addresses")
	}

	if !s.RequestPasswordReset(ctx, "reset@example.com", "") {
		t.Error("reset request must always report success")
	}
	if len(sender.resetTokens) != 1 {
		t.Fatalf("expected one reset email, got %d", len(sender.resetTokens))
	}
	token := sender.resetTokens[0]

	if _, err := s.ValidateResetToken(ctx, token); err != nil {
		t.Fatalf("fresh token should validate: %v", err)
	}

	if _, err := s.ResetPassword(ctx, token, "NewPassword1!"); err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	// Consumed token is dead
	if _, err := s.ResetPassword(ctx, token, "AnotherPassword1!"); err != ErrInvalidResetToken {
		t.Errorf("expected ErrInvalidResetToken after use, got %v", err)
	}

	// Old password is gone, new one works
	if _, err := s.Authenticate(ctx, "reset@example.com", "OldPassword1!"); err != ErrInvalidCredentials {
		t.Errorf("old password should be rejected, got %v", err)
	}
	if _, err := s.Authenticate(ctx, "reset@example.com", "NewPassword1!"); err != nil {
		t.Errorf("new password should authenticate: %v", err)
	}
}

// TestPurpose: Validates the hourly cap on reset requests per email.
// Scope: Unit Test
// Security: Email-flood abuse limiting
// Expected: Only the first three requests inside the window send mail; all requests still report success.
// Test Case ID: RST-02
func TestService_PasswordResetRateLimit(t *testing.T) {
	s, _, sender := newTestService(t)
	ctx := context.Background()

	if _, err := s.Register(ctx, "Flooded", "flood@example.com", "SecurePassword1!"); err != nil {
		t.Fatalf("failed to register: %v", err)
	}

	for i := 0; i < 5; i++ {
		if !s.RequestPasswordReset(ctx, "flood@example.com", "") {
			t.Errorf("request %d must report success", i+1)
		}
	}

	if len(sender.resetTokens) != 3 {
		t.Errorf("expected 3 emails inside the window, got %d", len(sender.resetTokens))
	}
}

// TestPurpose: Validates that the reset rate limit window rolls over.
// Scope: Unit Test
// Security: Limits recover instead of locking an address out for good
// Expected: A saturated window allows again one hour after it opened.
// Test Case ID: RST-04
func TestService_ResetRateLimitWindowRollover(t *testing.T) {
	limiter := NewRateLimitService(NewMockAttemptStore(), 3)
	ctx := context.Background()

	start := time.Date(2026, 6, 15, 9, 0, 0, 0, time.UTC)
	current := start
	limiter.now = func() time.Time { return current }

	for i := 0; i < 3; i++ {
		if limiter.IsRateLimited(ctx, "roll@example.com") {
			t.Fatalf("attempt %d inside the window must pass", i+1)
		}
	}
	if !limiter.IsRateLimited(ctx, "roll@example.com") {
		t.Fatal("fourth attempt inside the window must be limited")
	}

	// Saturation holds until the window closes
	current = start.Add(59 * time.Minute)
	if !limiter.IsRateLimited(ctx, "roll@example.com") {
		t.Error("window has not rolled over yet")
	}

	// One hour after the window opened a fresh one begins
	current = start.Add(time.Hour)
	if limiter.IsRateLimited(ctx, "roll@example.com") {
		t.Error("rolled-over window must allow again")
	}
}

// TestPurpose: Validates that a failed email delivery neither fails the request nor invalidates the stored token.
// Scope: Unit Test
// Security: Availability of the reset path under mail outages
// Expected: Request reports success; a re-request within the window delivers a working token.
// Test Case ID: RST-03
func TestService_ResetEmailFailureIsSwallowed(t *testing.T) {
	s, repo, sender := newTestService(t)
	ctx := context.Background()

	if _, err := s.Register(ctx, "Outage", "outage@example.com", "SecurePassword1!"); err != nil {
		t.Fatalf("failed to register: %v", err)
	}

	sender.failNext = true
	if !s.RequestPasswordReset(ctx, "outage@example.com", "") {
		t.Error("reset request must report success despite delivery failure")
	}

	// Token was persisted even though the mail never left
	user, _ := repo.GetByEmail(ctx, "outage@example.com")
	if user.ResetTokenHash == nil {
		t.Error("reset token should be stored despite delivery failure")
	}
}

// TestPurpose: Validates password change semantics for authenticated users.
// Scope: Unit Test
// Security: Re-authentication before credential change
// Expected: Wrong old password is rejected; weak replacement is rejected; valid change takes effect.
// Test Case ID: IDN-04
func TestService_ChangePassword(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()

	user, err := s.Register(ctx, "Changer", "change@example.com", "OldPassword1!")
	if err != nil {
		t.Fatalf("failed to register: %v", err)
	}

	if err := s.ChangePassword(ctx, user.ID, "WrongOld1!", "NewPassword1!"); err != ErrInvalidCredentials {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := s.ChangePassword(ctx, user.ID, "OldPassword1!", "weak"); err != ErrWeakPassword {
		t.Errorf("expected ErrWeakPassword, got %v", err)
	}
	if err := s.ChangePassword(ctx, user.ID, "OldPassword1!", "NewPassword1!"); err != nil {
		t.Fatalf("change failed: %v", err)
	}
	if _, err := s.Authenticate(ctx, "change@example.com", "NewPassword1!"); err != nil {
		t.Errorf("new password should authenticate: %v", err)
	}
}
