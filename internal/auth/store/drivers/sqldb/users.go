package sqldb

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/fintab/internal/auth/domain"
)

const userColumns = `id, email, password_hash, first_name, last_name, role,
	email_verified, active, last_login_at, created_at, updated_at`

type usersRepo struct{ e executor }

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	_, err := r.e.exec(ctx, `INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, string(u.Role),
		u.EmailVerified, u.Active, nullTime(u.LastLoginAt), u.CreatedAt.UTC(), u.UpdatedAt.UTC(),
	)
	return err
}

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	return r.scanOne(r.e.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (r *usersRepo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return r.scanOne(r.e.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email))
}

func (r *usersRepo) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	return r.e.execOne(ctx, `UPDATE users SET last_login_at = ?, updated_at = ? WHERE id = ?`,
		at.UTC(), at.UTC(), userID)
}

func (r *usersRepo) MarkEmailVerified(ctx context.Context, userID string, at time.Time) error {
	return r.e.execOne(ctx, `UPDATE users SET email_verified = ?, updated_at = ? WHERE id = ?`,
		true, at.UTC(), userID)
}

func (r *usersRepo) scanOne(row *sql.Row) (domain.User, error) {
	var (
		u         domain.User
		role      string
		lastLogin sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &role,
		&u.EmailVerified, &u.Active, &lastLogin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return domain.User{}, r.e.mapErr(err)
	}
	u.Role = domain.Role(role)
	u.LastLoginAt = timePtr(lastLogin)
	return u, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
