package sqldb

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/fintab/internal/auth/domain"
)

type verificationRepo struct{ e executor }

func (r *verificationRepo) CreateVerificationToken(ctx context.Context, t domain.VerificationToken) error {
	_, err := r.e.exec(ctx, `INSERT INTO verification_tokens (id, user_id, token_hash, expires_at, used_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.TokenHash, t.ExpiresAt.UTC(), nullTime(t.UsedAt), t.CreatedAt.UTC())
	return err
}

func (r *verificationRepo) GetVerificationTokenByHash(ctx context.Context, tokenHash string) (domain.VerificationToken, error) {
	var (
		t      domain.VerificationToken
		usedAt sql.NullTime
	)
	err := r.e.queryRow(ctx, `SELECT id, user_id, token_hash, expires_at, used_at, created_at
		FROM verification_tokens WHERE token_hash = ?`, tokenHash).
		Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &usedAt, &t.CreatedAt)
	if err != nil {
		return domain.VerificationToken{}, r.e.mapErr(err)
	}
	t.UsedAt = timePtr(usedAt)
	return t, nil
}

func (r *verificationRepo) MarkVerificationTokenUsed(ctx context.Context, id string, at time.Time) error {
	return r.e.execOne(ctx, `UPDATE verification_tokens SET used_at = ? WHERE id = ? AND used_at IS NULL`,
		at.UTC(), id)
}

func (r *verificationRepo) DeleteExpiredVerificationTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.e.exec(ctx, `DELETE FROM verification_tokens WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
