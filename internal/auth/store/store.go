package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/fintab/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite, postgres)
// implement this. It exposes sub-repositories to keep concerns tidy and
// testable, and so nobody accidentally starts a transaction inside a
// transaction.
type Store interface {
	Users() Users
	MFA() MFA
	Sessions() Sessions
	VerificationTokens() VerificationTokens
	BackupCodes() BackupCodes
	LoginAttempts() LoginAttempts
	AuditLogs() AuditLogs

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise it is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Users interface {
	// CreateUser inserts a new user. ErrAlreadyExists on a duplicate email.
	CreateUser(ctx context.Context, u domain.User) error

	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// GetUserByEmail expects an already case-folded email.
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)

	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error

	MarkEmailVerified(ctx context.Context, userID string, at time.Time) error
}

type MFA interface {
	// GetMFASettings returns ErrNotFound when MFA was never set up.
	GetMFASettings(ctx context.Context, userID string) (domain.MFASettings, error)

	// UpsertMFASecret stores a new secret in the disabled state.
	UpsertMFASecret(ctx context.Context, userID, secret string, at time.Time) error

	EnableMFA(ctx context.Context, userID string, at time.Time) error

	// TouchMFA records a successful verification.
	TouchMFA(ctx context.Context, userID string, at time.Time) error

	DeleteMFASettings(ctx context.Context, userID string) error
}

type Sessions interface {
	CreateSession(ctx context.Context, s domain.Session) error

	// GetActiveSessionByTokenHash finds an unrevoked, unexpired session.
	GetActiveSessionByTokenHash(ctx context.Context, tokenHash string, now time.Time) (domain.Session, error)

	// GetActiveSessionBySessionID finds the user's session currently carrying sessionID.
	GetActiveSessionBySessionID(ctx context.Context, userID, sessionID string, now time.Time) (domain.Session, error)

	// GetLatestActiveSession returns the most recently created active session.
	GetLatestActiveSession(ctx context.Context, userID string, now time.Time) (domain.Session, error)

	// RotateSession swaps the token hash and session ID only while the row
	// still carries oldHash and is unrevoked. ErrNotFound when it does not,
	// so two concurrent refreshes of one token cannot both win.
	RotateSession(ctx context.Context, id, oldHash, newHash, newSessionID string, now time.Time) error

	// RevokeSession marks an active session revoked. ErrNotFound if it
	// was already revoked.
	RevokeSession(ctx context.Context, id string, at time.Time) error
}

type VerificationTokens interface {
	CreateVerificationToken(ctx context.Context, t domain.VerificationToken) error

	GetVerificationTokenByHash(ctx context.Context, tokenHash string) (domain.VerificationToken, error)

	// MarkVerificationTokenUsed is conditional on the token being unused.
	MarkVerificationTokenUsed(ctx context.Context, id string, at time.Time) error

	// DeleteExpiredVerificationTokens returns how many rows were removed.
	DeleteExpiredVerificationTokens(ctx context.Context, now time.Time) (int64, error)
}

type BackupCodes interface {
	CreateBackupCode(ctx context.Context, userID, codeHash string, at time.Time) error

	// ConsumeBackupCode marks an unused code used, ErrNotFound otherwise.
	ConsumeBackupCode(ctx context.Context, userID, codeHash string, at time.Time) error

	CountUnusedBackupCodes(ctx context.Context, userID string) (int, error)

	DeleteAllBackupCodes(ctx context.Context, userID string) error
}

type LoginAttempts interface {
	RecordLoginAttempt(ctx context.Context, a domain.LoginAttempt) error

	// ListLoginAttemptsByEmail returns the newest attempts first.
	ListLoginAttemptsByEmail(ctx context.Context, email string, limit int) ([]domain.LoginAttempt, error)
}

type AuditLogs interface {
	AppendAuditEntry(ctx context.Context, e domain.AuditEntry) error

	// ListAuditEntriesByActor returns the newest entries first.
	ListAuditEntriesByActor(ctx context.Context, actorID string, limit int) ([]domain.AuditEntry, error)
}
