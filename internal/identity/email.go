package identity

import (
	"context"
	"log/slog"
)

// SlogSender is a development EmailSender that writes the mail it would
// have sent to the structured log. Token values are redacted.
type SlogSender struct{}

// NewSlogSender creates a logging email sender
func NewSlogSender() *SlogSender {
	return &SlogSender{}
}

func (s *SlogSender) SendPasswordResetEmail(ctx context.Context, email, token, locale string) error {
	slog.InfoContext(ctx, "password reset email",
		slog.String("to", email),
		slog.String("locale", locale),
		slog.String("token", "[REDACTED]"),
	)
	return nil
}

func (s *SlogSender) SendVerificationEmail(ctx context.Context, email, token, locale string) error {
	slog.InfoContext(ctx, "verification email",
		slog.String("to", email),
		slog.String("locale", locale),
		slog.String("token", "[REDACTED]"),
	)
	return nil
}
