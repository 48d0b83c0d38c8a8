package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/aussiebroadwan/fintab/internal/auth/domain"
)

type loginAttemptsRepo struct{ e executor }

func (r *loginAttemptsRepo) RecordLoginAttempt(ctx context.Context, a domain.LoginAttempt) error {
	_, err := r.e.exec(ctx, `INSERT INTO login_attempts
		(id, user_id, email, success, failure_reason, mfa_required, mfa_used, ip_address, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, nullString(a.UserID), a.Email, a.Success, string(a.FailureReason),
		a.MFARequired, a.MFAUsed, a.IPAddress, a.UserAgent, a.CreatedAt.UTC())
	return err
}

func (r *loginAttemptsRepo) ListLoginAttemptsByEmail(ctx context.Context, email string, limit int) ([]domain.LoginAttempt, error) {
	rows, err := r.e.query(ctx, `SELECT id, user_id, email, success, failure_reason, mfa_required, mfa_used,
		ip_address, user_agent, created_at
		FROM login_attempts WHERE email = ? ORDER BY created_at DESC, id DESC LIMIT ?`, email, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.LoginAttempt
	for rows.Next() {
		var (
			a      domain.LoginAttempt
			userID sql.NullString
			reason string
		)
		if err := rows.Scan(&a.ID, &userID, &a.Email, &a.Success, &reason, &a.MFARequired, &a.MFAUsed,
			&a.IPAddress, &a.UserAgent, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.UserID = userID.String
		a.FailureReason = domain.FailureReason(reason)
		out = append(out, a)
	}
	return out, rows.Err()
}

type auditLogsRepo struct{ e executor }

func (r *auditLogsRepo) AppendAuditEntry(ctx context.Context, e domain.AuditEntry) error {
	details := "{}"
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("encode audit details: %w", err)
		}
		details = string(b)
	}

	_, err := r.e.exec(ctx, `INSERT INTO audit_logs
		(id, actor_id, action, resource, details, ip_address, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, nullString(e.ActorID), string(e.Action), e.Resource, details, e.IPAddress, e.UserAgent, e.CreatedAt.UTC())
	return err
}

func (r *auditLogsRepo) ListAuditEntriesByActor(ctx context.Context, actorID string, limit int) ([]domain.AuditEntry, error) {
	rows, err := r.e.query(ctx, `SELECT id, actor_id, action, resource, details, ip_address, user_agent, created_at
		FROM audit_logs WHERE actor_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, actorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e       domain.AuditEntry
			actor   sql.NullString
			action  string
			details string
		)
		if err := rows.Scan(&e.ID, &actor, &action, &e.Resource, &details, &e.IPAddress, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ActorID = actor.String
		e.Action = domain.AuditAction(action)
		if details != "" {
			if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
