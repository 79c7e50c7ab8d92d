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
	"testing"
	"time"

	"github.com/gatekit/gatekit/internal/audit"
)

// MockVerificationStore is an in-memory VerificationStore
type MockVerificationStore struct {
	records map[string]*VerificationRecord
}

func NewMockVerificationStore() *MockVerificationStore {
	return &MockVerificationStore{records: make(map[string]*VerificationRecord)}
}

func (m *MockVerificationStore) Create(ctx context.Context, record *VerificationRecord) error {
	m.records[record.ID] = record
	return nil
}

func (m *MockVerificationStore) GetByTokenHash(ctx context.Context, tokenHash string) (*VerificationRecord, error) {
	for _, r := range m.records {
		if r.TokenHash == tokenHash {
			return r, nil
		}
	}
	return nil, ErrInvalidVerificationToken
}

func (m *MockVerificationStore) GetActiveForUser(ctx context.Context, userID string) (*VerificationRecord, error) {
	for _, r := range m.records {
		if r.UserID == userID && r.VerifiedAt == nil && r.InvalidatedAt == nil {
			return r, nil
		}
	}
	return nil, nil
}

func (m *MockVerificationStore) Update(ctx context.Context, record *VerificationRecord) error {
	if _, ok := m.records[record.ID]; !ok {
		return ErrInvalidVerificationToken
	}
	m.records[record.ID] = record
	return nil
}

func (m *MockVerificationStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) error {
	for id, r := range m.records {
		if r.ExpiresAt.Before(cutoff) {
			delete(m.records, id)
		}
	}
	return nil
}

func (m *MockVerificationStore) CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	count := 0
	for _, r := range m.records {
		if r.UserID == userID && r.CreatedAt.After(since) {
			count++
		}
	}
	return count, nil
}

func newVerificationFixture(t *testing.T) (*VerificationService, *MockVerificationStore, *MockUserRepository, *MockEmailSender, *User) {
	t.Helper()
	store := NewMockVerificationStore()
	repo := NewMockUserRepository()
	sender := &MockEmailSender{}
	s := NewVerificationService(store, repo, sender, audit.NewSlogLogger(), 8*time.Hour, 5, 3)

	user := &User{ID: "user-1", Email: "verify@example.com", Enabled: true}
	repo.users[user.ID] = user

	return s, store, repo, sender, user
}

// TestPurpose: Validates the initiate-then-verify happy path for email verification.
// Scope: Unit Test
// Security: Email ownership proof via magic link
// Expected: The emailed token verifies the user exactly once and marks the account verified.
// Test Case ID: VRF-01
func TestVerification_InitiateAndVerify(t *testing.T) {
	s, _, repo, sender, user := newVerificationFixture(t)
	ctx := context.Background()

	if err := s.InitiateVerification(ctx, user.ID, "10.0.0.1", ""); err != nil {
		t.Fatalf("failed to initiate: %v", err)
	}
	if len(sender.verificationTokens) != 1 {
		t.Fatalf("expected one verification email, got %d", len(sender.verificationTokens))
	}

	verified, err := s.VerifyWithToken(ctx, sender.verificationTokens[0], "10.0.0.1")
	if err != nil {
		t.Fatalf("verification failed: %v", err)
	}
	if !verified.EmailVerified || verified.VerifiedAt == nil {
		t.Error("user should be marked verified with a timestamp")
	}

	stored, _ := repo.GetByID(ctx, user.ID)
	if !stored.EmailVerified {
		t.Error("verified flag should be persisted")
	}

	// Second use of the same link
	if _, err := s.VerifyWithToken(ctx, sender.verificationTokens[0], "10.0.0.1"); err != ErrAlreadyVerified {
		t.Errorf("expected ErrAlreadyVerified, got %v", err)
	}
}

// TestPurpose: Validates that issuing a new link invalidates the previous one.
// Scope: Unit Test
// Security: Single active link per user
// Expected: The older token stops working as soon as a new link is issued.
// Test Case ID: VRF-02
func TestVerification_NewLinkInvalidatesOld(t *testing.T) {
	s, _, _, sender, user := newVerificationFixture(t)
	ctx := context.Background()

	if err := s.InitiateVerification(ctx, user.ID, "", ""); err != nil {
		t.Fatalf("failed to initiate: %v", err)
	}
	if err := s.InitiateVerification(ctx, user.ID, "", ""); err != nil {
		t.Fatalf("failed to re-initiate: %v", err)
	}

	if _, err := s.VerifyWithToken(ctx, sender.verificationTokens[0], ""); err != ErrInvalidVerificationToken {
		t.Errorf("old token should be invalid, got %v", err)
	}
	if _, err := s.VerifyWithToken(ctx, sender.verificationTokens[1], ""); err != nil {
		t.Errorf("new token should verify: %v", err)
	}
}

// TestPurpose: Validates expiry handling and its precedence over the already-verified state.
// Scope: Unit Test
// Security: Bounded token lifetime
// Expected: An expired token returns ErrVerificationExpired.
// Test Case ID: VRF-03
func TestVerification_ExpiredToken(t *testing.T) {
	s, store, _, sender, user := newVerificationFixture(t)
	ctx := context.Background()

	if err := s.InitiateVerification(ctx, user.ID, "", ""); err != nil {
		t.Fatalf("failed to initiate: %v", err)
	}

	// Age the record past its lifetime
	for _, r := range store.records {
		r.ExpiresAt = time.Now().Add(-time.Minute)
	}

	if _, err := s.VerifyWithToken(ctx, sender.verificationTokens[0], ""); err != ErrVerificationExpired {
		t.Errorf("expected ErrVerificationExpired, got %v", err)
	}
}

// TestPurpose: Validates that a record dies after its attempt budget is exhausted.
// Scope: Unit Test
// Security: Brute-force protection on verification tokens
// Expected: After MaxAttempts failed presentations the record is invalidated for good.
// Test Case ID: VRF-04
func TestVerification_AttemptExhaustion(t *testing.T) {
	s, store, _, sender, user := newVerificationFixture(t)
	ctx := context.Background()

	if err := s.InitiateVerification(ctx, user.ID, "", ""); err != nil {
		t.Fatalf("failed to initiate: %v", err)
	}

	// Burn the budget with expired presentations so each one counts
	for _, r := range store.records {
		r.ExpiresAt = time.Now().Add(-time.Minute)
	}
	for i := 0; i < 5; i++ {
		if _, err := s.VerifyWithToken(ctx, sender.verificationTokens[0], ""); err != ErrVerificationExpired {
			t.Fatalf("attempt %d: expected ErrVerificationExpired, got %v", i+1, err)
		}
	}

	// Budget exhausted: even after un-expiring, the record is dead
	for _, r := range store.records {
		r.ExpiresAt = time.Now().Add(time.Hour)
	}
	if _, err := s.VerifyWithToken(ctx, sender.verificationTokens[0], ""); err != ErrInvalidVerificationToken {
		t.Errorf("expected ErrInvalidVerificationToken after exhaustion, got %v", err)
	}
}

// TestPurpose: Validates the hourly resend cap.
// Scope: Unit Test
// Security: Email-flood abuse limiting
// Expected: The fourth resend within an hour fails with ErrResendLimited.
// Test Case ID: VRF-05
func TestVerification_ResendLimit(t *testing.T) {
	s, _, _, _, user := newVerificationFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.ResendVerification(ctx, user.ID, "", ""); err != nil {
			t.Fatalf("resend %d failed: %v", i+1, err)
		}
	}

	if err := s.ResendVerification(ctx, user.ID, "", ""); err != ErrResendLimited {
		t.Errorf("expected ErrResendLimited, got %v", err)
	}
}

// TestPurpose: Validates that verification cannot be initiated for an already verified account.
// Scope: Unit Test
// Security: State machine integrity
// Expected: ErrAlreadyVerified from InitiateVerification.
// Test Case ID: VRF-06
func TestVerification_InitiateOnVerifiedAccount(t *testing.T) {
	s, _, repo, _, user := newVerificationFixture(t)
	ctx := context.Background()

	now := time.Now()
	stored, _ := repo.GetByID(ctx, user.ID)
	stored.EmailVerified = true
	stored.VerifiedAt = &now

	if err := s.InitiateVerification(ctx, user.ID, "", ""); err != ErrAlreadyVerified {
		t.Errorf("expected ErrAlreadyVerified, got %v", err)
	}
}
