package sqldb

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/fintab/internal/auth/domain"
)

const sessionColumns = `id, user_id, session_id, token_hash, user_agent, ip_address,
	expires_at, revoked, revoked_at, created_at, updated_at`

type sessionsRepo struct{ e executor }

func (r *sessionsRepo) CreateSession(ctx context.Context, s domain.Session) error {
	_, err := r.e.exec(ctx, `INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.SessionID, s.TokenHash, s.UserAgent, s.IPAddress,
		s.ExpiresAt.UTC(), s.Revoked, nullTime(s.RevokedAt), s.CreatedAt.UTC(), s.UpdatedAt.UTC(),
	)
	return err
}

func (r *sessionsRepo) GetActiveSessionByTokenHash(ctx context.Context, tokenHash string, now time.Time) (domain.Session, error) {
	return r.scanOne(r.e.queryRow(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE token_hash = ? AND NOT revoked AND expires_at > ?`, tokenHash, now.UTC()))
}

func (r *sessionsRepo) GetActiveSessionBySessionID(ctx context.Context, userID, sessionID string, now time.Time) (domain.Session, error) {
	return r.scanOne(r.e.queryRow(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = ? AND session_id = ? AND NOT revoked AND expires_at > ?`,
		userID, sessionID, now.UTC()))
}

func (r *sessionsRepo) GetLatestActiveSession(ctx context.Context, userID string, now time.Time) (domain.Session, error) {
	return r.scanOne(r.e.queryRow(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = ? AND NOT revoked AND expires_at > ?
		ORDER BY created_at DESC, id DESC LIMIT 1`, userID, now.UTC()))
}

func (r *sessionsRepo) RotateSession(ctx context.Context, id, oldHash, newHash, newSessionID string, now time.Time) error {
	return r.e.execOne(ctx, `UPDATE sessions SET token_hash = ?, session_id = ?, updated_at = ?
		WHERE id = ? AND token_hash = ? AND NOT revoked AND expires_at > ?`,
		newHash, newSessionID, now.UTC(), id, oldHash, now.UTC())
}

func (r *sessionsRepo) RevokeSession(ctx context.Context, id string, at time.Time) error {
	return r.e.execOne(ctx, `UPDATE sessions SET revoked = ?, revoked_at = ?, updated_at = ?
		WHERE id = ? AND NOT revoked`, true, at.UTC(), at.UTC(), id)
}

func (r *sessionsRepo) scanOne(row *sql.Row) (domain.Session, error) {
	var (
		s         domain.Session
		revokedAt sql.NullTime
	)
	err := row.Scan(&s.ID, &s.UserID, &s.SessionID, &s.TokenHash, &s.UserAgent, &s.IPAddress,
		&s.ExpiresAt, &s.Revoked, &revokedAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return domain.Session{}, r.e.mapErr(err)
	}
	s.RevokedAt = timePtr(revokedAt)
	return s, nil
}
