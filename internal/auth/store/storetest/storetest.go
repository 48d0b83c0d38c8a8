// Package storetest is a behavioural suite run against every store driver.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/fintab/internal/auth/domain"
	"github.com/aussiebroadwan/fintab/internal/auth/store"
	"github.com/aussiebroadwan/fintab/pkg/idx"
)

// Factory returns a migrated, empty store. Cleanup is the factory's job.
type Factory func(t *testing.T) store.Store

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Run exercises every repository of the store returned by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("Users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("MFA", func(t *testing.T) { testMFA(t, newStore(t)) })
	t.Run("Sessions", func(t *testing.T) { testSessions(t, newStore(t)) })
	t.Run("VerificationTokens", func(t *testing.T) { testVerification(t, newStore(t)) })
	t.Run("BackupCodes", func(t *testing.T) { testBackupCodes(t, newStore(t)) })
	t.Run("Audit", func(t *testing.T) { testAudit(t, newStore(t)) })
	t.Run("Tx", func(t *testing.T) { testTx(t, newStore(t)) })
}

// SeedUser inserts a verified active user and returns it.
func SeedUser(t *testing.T, s store.Store, email string) domain.User {
	t.Helper()
	u := domain.User{
		ID:           idx.NewString(),
		Email:        email,
		PasswordHash: "$2a$04$placeholder",
		FirstName:    "Ada",
		LastName:     "Lovelace",
		Role:         domain.RoleUser,
		Active:       true,
		CreatedAt:    base,
		UpdatedAt:    base,
	}
	require.NoError(t, s.Users().CreateUser(context.Background(), u))
	return u
}

func testUsers(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := SeedUser(t, s, "ada@example.com")

	got, err := s.Users().GetUserByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)
	require.Equal(t, domain.RoleUser, got.Role)
	require.True(t, got.Active)
	require.False(t, got.EmailVerified)
	require.Nil(t, got.LastLoginAt)
	require.True(t, base.Equal(got.CreatedAt))

	dup := u
	dup.ID = idx.NewString()
	err = s.Users().CreateUser(ctx, dup)
	require.ErrorIs(t, err, store.ErrAlreadyExists)

	_, err = s.Users().GetUserByID(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)

	login := base.Add(time.Hour)
	require.NoError(t, s.Users().UpdateLastLogin(ctx, u.ID, login))
	require.NoError(t, s.Users().MarkEmailVerified(ctx, u.ID, login))

	got, err = s.Users().GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, got.EmailVerified)
	require.NotNil(t, got.LastLoginAt)
	require.True(t, login.Equal(*got.LastLoginAt))

	require.ErrorIs(t, s.Users().UpdateLastLogin(ctx, "missing", login), store.ErrNotFound)
}

func testMFA(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := SeedUser(t, s, "mfa@example.com")

	_, err := s.MFA().GetMFASettings(ctx, u.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.MFA().UpsertMFASecret(ctx, u.ID, "SECRET1", base))
	require.NoError(t, s.MFA().EnableMFA(ctx, u.ID, base))

	m, err := s.MFA().GetMFASettings(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, m.Enabled)
	require.Equal(t, "SECRET1", m.Secret)

	// A new setup replaces the secret and disables until confirmed.
	require.NoError(t, s.MFA().UpsertMFASecret(ctx, u.ID, "SECRET2", base.Add(time.Minute)))
	m, err = s.MFA().GetMFASettings(ctx, u.ID)
	require.NoError(t, err)
	require.False(t, m.Enabled)
	require.Equal(t, "SECRET2", m.Secret)

	require.NoError(t, s.MFA().TouchMFA(ctx, u.ID, base.Add(2*time.Minute)))
	m, err = s.MFA().GetMFASettings(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, m.LastUsedAt)

	require.NoError(t, s.MFA().DeleteMFASettings(ctx, u.ID))
	_, err = s.MFA().GetMFASettings(ctx, u.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func newSession(userID, sid, hash string, created time.Time) domain.Session {
	return domain.Session{
		ID:        idx.NewString(),
		UserID:    userID,
		SessionID: sid,
		TokenHash: hash,
		UserAgent: "test",
		IPAddress: "127.0.0.1",
		ExpiresAt: created.Add(domain.SessionTTL),
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func testSessions(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := SeedUser(t, s, "sess@example.com")
	now := base.Add(time.Hour)

	first := newSession(u.ID, "sid-1", "hash-1", base)
	second := newSession(u.ID, "sid-2", "hash-2", base.Add(time.Minute))
	require.NoError(t, s.Sessions().CreateSession(ctx, first))
	require.NoError(t, s.Sessions().CreateSession(ctx, second))

	got, err := s.Sessions().GetActiveSessionByTokenHash(ctx, "hash-1", now)
	require.NoError(t, err)
	require.Equal(t, first.ID, got.ID)

	got, err = s.Sessions().GetActiveSessionBySessionID(ctx, u.ID, "sid-1", now)
	require.NoError(t, err)
	require.Equal(t, first.ID, got.ID)

	got, err = s.Sessions().GetLatestActiveSession(ctx, u.ID, now)
	require.NoError(t, err)
	require.Equal(t, second.ID, got.ID)

	t.Run("rotate is conditional on the old hash", func(t *testing.T) {
		require.NoError(t, s.Sessions().RotateSession(ctx, first.ID, "hash-1", "hash-1b", "sid-1b", now))

		err := s.Sessions().RotateSession(ctx, first.ID, "hash-1", "hash-1c", "sid-1c", now)
		require.ErrorIs(t, err, store.ErrNotFound)

		_, err = s.Sessions().GetActiveSessionByTokenHash(ctx, "hash-1", now)
		require.ErrorIs(t, err, store.ErrNotFound)

		got, err := s.Sessions().GetActiveSessionByTokenHash(ctx, "hash-1b", now)
		require.NoError(t, err)
		require.Equal(t, "sid-1b", got.SessionID)
	})

	t.Run("revoke hides the session", func(t *testing.T) {
		require.NoError(t, s.Sessions().RevokeSession(ctx, second.ID, now))
		require.ErrorIs(t, s.Sessions().RevokeSession(ctx, second.ID, now), store.ErrNotFound)

		_, err := s.Sessions().GetActiveSessionByTokenHash(ctx, "hash-2", now)
		require.ErrorIs(t, err, store.ErrNotFound)

		latest, err := s.Sessions().GetLatestActiveSession(ctx, u.ID, now)
		require.NoError(t, err)
		require.Equal(t, first.ID, latest.ID)

		err = s.Sessions().RotateSession(ctx, second.ID, "hash-2", "x", "y", now)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("expired sessions are not active", func(t *testing.T) {
		later := base.Add(domain.SessionTTL + time.Hour)
		_, err := s.Sessions().GetActiveSessionByTokenHash(ctx, "hash-1b", later)
		require.ErrorIs(t, err, store.ErrNotFound)
		_, err = s.Sessions().GetLatestActiveSession(ctx, u.ID, later)
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}

func testVerification(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := SeedUser(t, s, "verify@example.com")

	live := domain.VerificationToken{
		ID: idx.NewString(), UserID: u.ID, TokenHash: "live",
		ExpiresAt: base.Add(domain.VerificationTokenTTL), CreatedAt: base,
	}
	stale := domain.VerificationToken{
		ID: idx.NewString(), UserID: u.ID, TokenHash: "stale",
		ExpiresAt: base.Add(-time.Minute), CreatedAt: base.Add(-domain.VerificationTokenTTL),
	}
	require.NoError(t, s.VerificationTokens().CreateVerificationToken(ctx, live))
	require.NoError(t, s.VerificationTokens().CreateVerificationToken(ctx, stale))

	got, err := s.VerificationTokens().GetVerificationTokenByHash(ctx, "live")
	require.NoError(t, err)
	require.Nil(t, got.UsedAt)

	require.NoError(t, s.VerificationTokens().MarkVerificationTokenUsed(ctx, live.ID, base))
	require.ErrorIs(t, s.VerificationTokens().MarkVerificationTokenUsed(ctx, live.ID, base), store.ErrNotFound)

	n, err := s.VerificationTokens().DeleteExpiredVerificationTokens(ctx, base)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = s.VerificationTokens().GetVerificationTokenByHash(ctx, "stale")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testBackupCodes(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := SeedUser(t, s, "backup@example.com")

	for _, h := range []string{"a", "b", "c"} {
		require.NoError(t, s.BackupCodes().CreateBackupCode(ctx, u.ID, h, base))
	}
	n, err := s.BackupCodes().CountUnusedBackupCodes(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	require.NoError(t, s.BackupCodes().ConsumeBackupCode(ctx, u.ID, "b", base))
	require.ErrorIs(t, s.BackupCodes().ConsumeBackupCode(ctx, u.ID, "b", base), store.ErrNotFound)
	require.ErrorIs(t, s.BackupCodes().ConsumeBackupCode(ctx, u.ID, "zzz", base), store.ErrNotFound)

	n, err = s.BackupCodes().CountUnusedBackupCodes(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	require.NoError(t, s.BackupCodes().DeleteAllBackupCodes(ctx, u.ID))
	n, err = s.BackupCodes().CountUnusedBackupCodes(ctx, u.ID)
	require.NoError(t, err)
	require.Zero(t, n)
}

func testAudit(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := SeedUser(t, s, "audit@example.com")

	attempts := []domain.LoginAttempt{
		{ID: idx.NewString(), Email: "audit@example.com", FailureReason: domain.FailureUserNotFound, CreatedAt: base},
		{ID: idx.NewString(), UserID: u.ID, Email: "audit@example.com", Success: true, MFAUsed: true, CreatedAt: base.Add(time.Second)},
	}
	for _, a := range attempts {
		require.NoError(t, s.LoginAttempts().RecordLoginAttempt(ctx, a))
	}

	got, err := s.LoginAttempts().ListLoginAttemptsByEmail(ctx, "audit@example.com", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.True(t, got[0].Success)
	require.True(t, got[0].MFAUsed)
	require.Equal(t, u.ID, got[0].UserID)
	require.Equal(t, domain.FailureUserNotFound, got[1].FailureReason)
	require.Empty(t, got[1].UserID)

	require.NoError(t, s.AuditLogs().AppendAuditEntry(ctx, domain.AuditEntry{
		ID: idx.NewString(), ActorID: u.ID, Action: domain.AuditUserLogin, Resource: "session",
		Details: map[string]any{"rememberMe": true}, CreatedAt: base,
	}))
	require.NoError(t, s.AuditLogs().AppendAuditEntry(ctx, domain.AuditEntry{
		ID: idx.NewString(), ActorID: u.ID, Action: domain.AuditUserLogout, CreatedAt: base.Add(time.Second),
	}))

	entries, err := s.AuditLogs().ListAuditEntriesByActor(ctx, u.ID, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, domain.AuditUserLogout, entries[0].Action)

	entries, err = s.AuditLogs().ListAuditEntriesByActor(ctx, u.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, true, entries[1].Details["rememberMe"])
}

func testTx(t *testing.T, s store.Store) {
	ctx := context.Background()
	errBoom := errors.New("boom")

	err := s.WithTx(ctx, func(tx store.Tx) error {
		SeedUser(t, tx, "rolled@example.com")
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
	_, err = s.Users().GetUserByEmail(ctx, "rolled@example.com")
	require.ErrorIs(t, err, store.ErrNotFound)

	err = s.WithTx(ctx, func(tx store.Tx) error {
		SeedUser(t, tx, "kept@example.com")
		return nil
	})
	require.NoError(t, err)
	_, err = s.Users().GetUserByEmail(ctx, "kept@example.com")
	require.NoError(t, err)
}
