package service

import (
	"context"
	"fmt"
	"time"

	"github.com/aussiebroadwan/fintab/internal/auth/domain"
	"github.com/aussiebroadwan/fintab/internal/auth/store"
	"github.com/aussiebroadwan/fintab/pkg/idx"
)

type auditWriter interface {
	AuditLogs() store.AuditLogs
}

func appendAudit(
	ctx context.Context,
	st auditWriter,
	actorID string,
	action domain.AuditAction,
	resource string,
	details map[string]any,
	meta domain.RequestMeta,
	at time.Time,
) error {
	err := st.AuditLogs().AppendAuditEntry(ctx, domain.AuditEntry{
		ID:        idx.NewString(),
		ActorID:   actorID,
		Action:    action,
		Resource:  resource,
		Details:   details,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		CreatedAt: at,
	})
	if err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

type attemptWriter interface {
	LoginAttempts() store.LoginAttempts
}

func recordAttempt(ctx context.Context, st attemptWriter, a domain.LoginAttempt, meta domain.RequestMeta, at time.Time) error {
	a.ID = idx.NewString()
	a.IPAddress = meta.IPAddress
	a.UserAgent = meta.UserAgent
	a.CreatedAt = at
	if err := st.LoginAttempts().RecordLoginAttempt(ctx, a); err != nil {
		return fmt.Errorf("failed to record login attempt: %w", err)
	}
	return nil
}
