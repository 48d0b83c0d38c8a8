package service

import (
	"context"
	"log/slog"

	"github.com/aussiebroadwan/fintab/internal/auth/domain"
	"github.com/aussiebroadwan/fintab/pkg/slogx"
)

// VerificationSender delivers the raw email verification token to the user.
type VerificationSender interface {
	SendVerification(ctx context.Context, u domain.User, token string) error
}

// LogSender records that a verification token was issued. It never logs the
// token itself, so it is only useful until a mail transport is wired in.
type LogSender struct{}

func (LogSender) SendVerification(ctx context.Context, u domain.User, _ string) error {
	slogx.FromContext(ctx).Info("verification token issued",
		slog.String("user_id", u.ID),
		slog.Duration("valid_for", domain.VerificationTokenTTL),
	)
	return nil
}
