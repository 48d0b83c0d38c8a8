package sqldb

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/fintab/internal/auth/domain"
)

type mfaRepo struct{ e executor }

func (r *mfaRepo) GetMFASettings(ctx context.Context, userID string) (domain.MFASettings, error) {
	var (
		m        domain.MFASettings
		lastUsed sql.NullTime
	)
	err := r.e.queryRow(ctx, `SELECT user_id, enabled, secret, last_used_at, created_at, updated_at
		FROM mfa_settings WHERE user_id = ?`, userID).
		Scan(&m.UserID, &m.Enabled, &m.Secret, &lastUsed, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return domain.MFASettings{}, r.e.mapErr(err)
	}
	m.LastUsedAt = timePtr(lastUsed)
	return m, nil
}

func (r *mfaRepo) UpsertMFASecret(ctx context.Context, userID, secret string, at time.Time) error {
	_, err := r.e.exec(ctx, `INSERT INTO mfa_settings (user_id, enabled, secret, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET enabled = excluded.enabled, secret = excluded.secret,
			last_used_at = NULL, updated_at = excluded.updated_at`,
		userID, false, secret, at.UTC(), at.UTC())
	return err
}

func (r *mfaRepo) EnableMFA(ctx context.Context, userID string, at time.Time) error {
	return r.e.execOne(ctx, `UPDATE mfa_settings SET enabled = ?, updated_at = ? WHERE user_id = ?`,
		true, at.UTC(), userID)
}

func (r *mfaRepo) TouchMFA(ctx context.Context, userID string, at time.Time) error {
	return r.e.execOne(ctx, `UPDATE mfa_settings SET last_used_at = ?, updated_at = ? WHERE user_id = ?`,
		at.UTC(), at.UTC(), userID)
}

func (r *mfaRepo) DeleteMFASettings(ctx context.Context, userID string) error {
	_, err := r.e.exec(ctx, `DELETE FROM mfa_settings WHERE user_id = ?`, userID)
	return err
}
