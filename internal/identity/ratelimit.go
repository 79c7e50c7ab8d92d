package identity

import (
	"context"
	"log/slog"
	"time"
)

// ResetAttempt is the sliding-window counter for password reset requests
// per email address. Records older than the retention period are purged
// by the cleanup job.
type ResetAttempt struct {
	Email        string
	AttemptCount int
	WindowStart  time.Time
}

// ResetAttemptStore persists rate-limit windows
type ResetAttemptStore interface {
	// Get retrieves the window for an email, ErrAttemptNotFound-free:
	// a missing window is returned as nil, nil
	Get(ctx context.Context, email string) (*ResetAttempt, error)

	// Upsert creates or replaces the window for an email
	Upsert(ctx context.Context, attempt *ResetAttempt) error

	// DeleteOlderThan removes windows started before the cutoff
	DeleteOlderThan(ctx context.Context, cutoff time.Time) error
}

// RateLimitService enforces a sliding one-hour window of password reset
// requests per email.
type RateLimitService struct {
	store       ResetAttemptStore
	window      time.Duration
	maxAttempts int
	now         func() time.Time
}

// NewRateLimitService creates a rate limit service
func NewRateLimitService(store ResetAttemptStore, maxAttempts int) *RateLimitService {
	return &RateLimitService{
		store:       store,
		window:      time.Hour,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// IsRateLimited reports whether the email has exhausted its window and,
// as a side effect, counts this attempt. An expired or missing window is
// replaced by a fresh one with count 1. A saturated window is left
// untouched so it expires on schedule.
func (s *RateLimitService) IsRateLimited(ctx context.Context, email string) bool {
	now := s.now()

	attempt, err := s.store.Get(ctx, email)
	if err != nil {
		// Storage trouble must not open an enumeration side channel;
		// treat the request as limited and let the caller report success.
		slog.ErrorContext(ctx, "rate limit lookup failed", slog.String("error", err.Error()))
		return true
	}

	if attempt == nil || now.Sub(attempt.WindowStart) >= s.window {
		fresh := &ResetAttempt{Email: email, AttemptCount: 1, WindowStart: now}
		if err := s.store.Upsert(ctx, fresh); err != nil {
			slog.ErrorContext(ctx, "rate limit update failed", slog.String("error", err.Error()))
			return true
		}
		return false
	}

	if attempt.AttemptCount >= s.maxAttempts {
		return true
	}

	attempt.AttemptCount++
	if err := s.store.Upsert(ctx, attempt); err != nil {
		slog.ErrorContext(ctx, "rate limit update failed", slog.String("error", err.Error()))
		return true
	}
	return false
}

// Cleanup removes windows older than the retention cutoff. Safe to run
// on any schedule; deletion by predicate is idempotent.
func (s *RateLimitService) Cleanup(ctx context.Context, retention time.Duration) error {
	return s.store.DeleteOlderThan(ctx, s.now().Add(-retention))
}
