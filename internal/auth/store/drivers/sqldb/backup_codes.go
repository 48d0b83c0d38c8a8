package sqldb

import (
	"context"
	"time"
)

type backupCodesRepo struct{ e executor }

func (r *backupCodesRepo) CreateBackupCode(ctx context.Context, userID, codeHash string, at time.Time) error {
	_, err := r.e.exec(ctx, `INSERT INTO backup_codes (user_id, code_hash, created_at) VALUES (?, ?, ?)`,
		userID, codeHash, at.UTC())
	return err
}

func (r *backupCodesRepo) ConsumeBackupCode(ctx context.Context, userID, codeHash string, at time.Time) error {
	return r.e.execOne(ctx, `UPDATE backup_codes SET used_at = ?
		WHERE user_id = ? AND code_hash = ? AND used_at IS NULL`, at.UTC(), userID, codeHash)
}

func (r *backupCodesRepo) CountUnusedBackupCodes(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.e.queryRow(ctx, `SELECT COUNT(*) FROM backup_codes WHERE user_id = ? AND used_at IS NULL`, userID).Scan(&n)
	return n, r.e.mapErr(err)
}

func (r *backupCodesRepo) DeleteAllBackupCodes(ctx context.Context, userID string) error {
	_, err := r.e.exec(ctx, `DELETE FROM backup_codes WHERE user_id = ?`, userID)
	return err
}
