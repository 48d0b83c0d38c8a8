package service_test

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp/totp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/aussiebroadwan/fintab/internal/auth/domain"
	"github.com/aussiebroadwan/fintab/internal/auth/service"
	"github.com/aussiebroadwan/fintab/internal/auth/store"
	"github.com/aussiebroadwan/fintab/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/fintab/pkg/cachex"
	"github.com/aussiebroadwan/fintab/pkg/httpx"
	"github.com/aussiebroadwan/fintab/pkg/jwtx"
	"github.com/aussiebroadwan/fintab/pkg/slogx"
)

const (
	testAccessSecret  = "access-secret-that-is-at-least-32-bytes"
	testRefreshSecret = "refresh-secret-that-is-at-least-32-bytes"
	testPassword      = "longenough1"
)

var meta = domain.RequestMeta{IPAddress: "203.0.113.7", UserAgent: "go-test"}

type env struct {
	store    store.Store
	cache    *cachex.Cache
	redis    *miniredis.Miniredis
	sessions *service.SessionService
	mfa      *service.MFAService
	sender   *captureSender
}

type captureSender struct {
	tokens map[string]string // email -> raw token
}

func (c *captureSender) SendVerification(_ context.Context, u domain.User, token string) error {
	c.tokens[u.Email] = token
	return nil
}

func newEnv(t *testing.T) *env {
	t.Helper()

	st, err := sqlite.NewStore(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	mr := miniredis.RunT(t)
	cache, err := cachex.Connect(context.Background(), "redis://"+mr.Addr(), "auth:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	codec, err := jwtx.NewCodec(jwtx.CodecConfig{
		AccessSecret:  testAccessSecret,
		RefreshSecret: testRefreshSecret,
		Issuer:        "fintab-auth",
		Audience:      []string{"fintab"},
	})
	require.NoError(t, err)

	mfa := &service.MFAService{Store: st, Issuer: "FinTab"}
	sender := &captureSender{tokens: map[string]string{}}

	return &env{
		store: st,
		cache: cache,
		redis: mr,
		mfa:   mfa,
		sessions: &service.SessionService{
			Store:        st,
			Codec:        codec,
			Blacklist:    &service.Blacklist{Cache: cache},
			MFA:          mfa,
			Sender:       sender,
			Metrics:      service.NewMetrics(prometheus.NewRegistry()),
			PasswordCost: bcrypt.MinCost,
		},
		sender: sender,
	}
}

func (e *env) register(t *testing.T, email string) domain.Profile {
	t.Helper()
	p, err := e.sessions.Register(context.Background(), service.RegisterInput{
		Email: email, Password: testPassword, FirstName: "Ada",
	}, meta)
	require.NoError(t, err)
	return p
}

func (e *env) login(t *testing.T, email string) service.LoginResult {
	t.Helper()
	res, err := e.sessions.Login(context.Background(), service.LoginInput{Email: email, Password: testPassword}, meta)
	require.NoError(t, err)
	require.False(t, res.MFARequired)
	return res
}

func requireKind(t *testing.T, err error, kind service.Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, service.KindOf(err), "error: %v", err)
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	p := e.register(t, "A@B.com")
	require.Equal(t, "a@b.com", p.Email)
	require.False(t, p.EmailVerified)
	require.False(t, p.MFAEnabled)
	require.Len(t, e.sender.tokens["a@b.com"], 64)

	_, err := e.sessions.Register(ctx, service.RegisterInput{Email: "a@B.COM", Password: testPassword}, meta)
	requireKind(t, err, service.KindConflict)

	u, err := e.store.Users().GetUserByEmail(ctx, "a@b.com")
	require.NoError(t, err)
	require.NotContains(t, u.PasswordHash, testPassword)

	entries, err := e.store.AuditLogs().ListAuditEntriesByActor(ctx, u.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, domain.AuditUserRegistered, entries[0].Action)

	t.Run("validation", func(t *testing.T) {
		tests := []struct {
			name  string
			input service.RegisterInput
		}{
			{"missing email", service.RegisterInput{Password: testPassword}},
			{"bad email", service.RegisterInput{Email: "not-an-email", Password: testPassword}},
			{"no domain dot", service.RegisterInput{Email: "a@b", Password: testPassword}},
			{"display name form", service.RegisterInput{Email: "Ada <ada@b.com>", Password: testPassword}},
			{"short password", service.RegisterInput{Email: "c@d.com", Password: "short"}},
			{"password over bcrypt limit", service.RegisterInput{Email: "c@d.com", Password: strings.Repeat("x", 73)}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := e.sessions.Register(ctx, tt.input, meta)
				requireKind(t, err, service.KindValidation)
			})
		}
	})
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.register(t, "a@b.com")

	_, wrongPassword := e.sessions.Login(ctx, service.LoginInput{Email: "a@b.com", Password: "wrong"}, meta)
	_, unknown := e.sessions.Login(ctx, service.LoginInput{Email: "nobody@b.com", Password: "wrong"}, meta)

	requireKind(t, wrongPassword, service.KindAuthentication)
	requireKind(t, unknown, service.KindAuthentication)

	var a, b *service.Error
	require.ErrorAs(t, wrongPassword, &a)
	require.ErrorAs(t, unknown, &b)
	require.Equal(t, "Invalid credentials", a.Message)
	require.Equal(t, a.Message, b.Message)

	attempts, err := e.store.LoginAttempts().ListLoginAttemptsByEmail(ctx, "a@b.com", 10)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	require.Equal(t, domain.FailureInvalidPassword, attempts[0].FailureReason)
	require.Equal(t, meta.IPAddress, attempts[0].IPAddress)

	attempts, err = e.store.LoginAttempts().ListLoginAttemptsByEmail(ctx, "nobody@b.com", 10)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	require.Equal(t, domain.FailureUserNotFound, attempts[0].FailureReason)

	_, err = e.sessions.Login(ctx, service.LoginInput{Email: "a@b.com"}, meta)
	requireKind(t, err, service.KindValidation)
}

func TestLoginSuccess(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.register(t, "a@b.com")

	res := e.login(t, "A@b.com")
	require.NotEmpty(t, res.Tokens.AccessToken)
	require.NotEmpty(t, res.Tokens.RefreshToken)
	require.Equal(t, "Bearer", res.Tokens.TokenType)
	require.EqualValues(t, 15*60, res.Tokens.ExpiresIn)
	require.NotNil(t, res.User.LastLoginAt)

	p, err := e.sessions.Authenticate(ctx, res.Tokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, res.User.ID, p.ID)
	require.Equal(t, "a@b.com", p.Email)
	require.NotEmpty(t, p.SessionID)

	sess, err := e.store.Sessions().GetActiveSessionBySessionID(ctx, p.ID, p.SessionID, time.Now())
	require.NoError(t, err)
	require.NotEqual(t, res.Tokens.RefreshToken, sess.TokenHash)
	require.WithinDuration(t, time.Now().Add(domain.SessionTTL), sess.ExpiresAt, time.Minute)

	attempts, err := e.store.LoginAttempts().ListLoginAttemptsByEmail(ctx, "a@b.com", 1)
	require.NoError(t, err)
	require.True(t, attempts[0].Success)

	t.Run("remember me extends the session", func(t *testing.T) {
		res, err := e.sessions.Login(ctx, service.LoginInput{Email: "a@b.com", Password: testPassword, RememberMe: true}, meta)
		require.NoError(t, err)
		p, err := e.sessions.Authenticate(ctx, res.Tokens.AccessToken)
		require.NoError(t, err)
		sess, err := e.store.Sessions().GetActiveSessionBySessionID(ctx, p.ID, p.SessionID, time.Now())
		require.NoError(t, err)
		require.WithinDuration(t, time.Now().Add(domain.SessionTTLRememberMe), sess.ExpiresAt, time.Minute)
	})

	t.Run("refresh token is not an access token", func(t *testing.T) {
		_, err := e.sessions.Authenticate(ctx, res.Tokens.RefreshToken)
		requireKind(t, err, service.KindAuthentication)
		require.ErrorIs(t, err, httpx.ErrUnauthenticated)
	})

	t.Run("cache outage is not an authentication failure", func(t *testing.T) {
		e.redis.Close()
		_, err := e.sessions.Authenticate(ctx, res.Tokens.AccessToken)
		require.Error(t, err)
		require.NotErrorIs(t, err, httpx.ErrUnauthenticated)
		requireKind(t, err, service.KindInternal)
	})
}

func TestRefreshRotation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.register(t, "a@b.com")
	first := e.login(t, "a@b.com")
	r1 := first.Tokens.RefreshToken

	second, err := e.sessions.Refresh(ctx, r1)
	require.NoError(t, err)
	require.NotEqual(t, r1, second.RefreshToken)

	var logs bytes.Buffer
	logCtx := slogx.WithContext(ctx, slog.New(slog.NewJSONHandler(&logs, nil)))
	_, err = e.sessions.Refresh(logCtx, r1)
	requireKind(t, err, service.KindAuthentication)
	jti, ok := jwtx.ExtractJTI(r1)
	require.True(t, ok)
	require.Contains(t, logs.String(), `"jti":"`+jti+`"`)
	require.NotContains(t, logs.String(), r1)
	var se *service.Error
	require.ErrorAs(t, err, &se)
	require.Equal(t, "Token has been revoked", se.Message)

	// The rotated session carries a new session id.
	p1, err := e.sessions.Authenticate(ctx, first.Tokens.AccessToken)
	require.NoError(t, err)
	p2, err := e.sessions.Authenticate(ctx, second.AccessToken)
	require.NoError(t, err)
	require.NotEqual(t, p1.SessionID, p2.SessionID)

	third, err := e.sessions.Refresh(ctx, second.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, second.RefreshToken, third.RefreshToken)

	t.Run("access token is not a refresh token", func(t *testing.T) {
		_, err := e.sessions.Refresh(ctx, third.AccessToken)
		requireKind(t, err, service.KindAuthentication)
	})

	t.Run("missing token", func(t *testing.T) {
		_, err := e.sessions.Refresh(ctx, "  ")
		requireKind(t, err, service.KindValidation)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := e.sessions.Refresh(ctx, "not.a.jwt")
		requireKind(t, err, service.KindAuthentication)
	})

	t.Run("revoked session", func(t *testing.T) {
		p, err := e.sessions.Authenticate(ctx, third.AccessToken)
		require.NoError(t, err)
		require.NoError(t, e.sessions.Logout(ctx, p, third.AccessToken, meta))

		_, err = e.sessions.Refresh(ctx, third.RefreshToken)
		requireKind(t, err, service.KindAuthentication)
		require.ErrorAs(t, err, &se)
		require.Equal(t, "Invalid refresh token", se.Message)
	})
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.register(t, "a@b.com")

	phone := e.login(t, "a@b.com")
	laptop := e.login(t, "a@b.com")

	p, err := e.sessions.Authenticate(ctx, phone.Tokens.AccessToken)
	require.NoError(t, err)
	require.NoError(t, e.sessions.Logout(ctx, p, phone.Tokens.AccessToken, meta))

	// Only the caller's own session is revoked.
	_, err = e.sessions.Refresh(ctx, phone.Tokens.RefreshToken)
	requireKind(t, err, service.KindAuthentication)
	_, err = e.sessions.Refresh(ctx, laptop.Tokens.RefreshToken)
	require.NoError(t, err)

	// The access token is blacklisted, so a second logout never gets past authentication.
	_, err = e.sessions.Authenticate(ctx, phone.Tokens.AccessToken)
	requireKind(t, err, service.KindAuthentication)

	err = e.sessions.Logout(ctx, p, "", meta)
	requireKind(t, err, service.KindAuthentication)

	entries, err := e.store.AuditLogs().ListAuditEntriesByActor(ctx, p.ID, 1)
	require.NoError(t, err)
	require.Equal(t, domain.AuditUserLogout, entries[0].Action)
}

func TestLogoutAfterRotationFallsBackToLatest(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.register(t, "a@b.com")

	res := e.login(t, "a@b.com")
	rotated, err := e.sessions.Refresh(ctx, res.Tokens.RefreshToken)
	require.NoError(t, err)

	// The original access token still names the pre-rotation session id.
	p, err := e.sessions.Authenticate(ctx, res.Tokens.AccessToken)
	require.NoError(t, err)
	require.NoError(t, e.sessions.Logout(ctx, p, res.Tokens.AccessToken, meta))

	_, err = e.sessions.Refresh(ctx, rotated.RefreshToken)
	requireKind(t, err, service.KindAuthentication)
}

func TestProfile(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	registered := e.register(t, "a@b.com")

	p, err := e.sessions.Profile(ctx, registered.ID)
	require.NoError(t, err)
	require.Equal(t, "a@b.com", p.Email)
	require.Equal(t, "Ada", p.FirstName)
	require.False(t, p.MFAEnabled)

	_, err = e.sessions.Profile(ctx, "missing")
	requireKind(t, err, service.KindNotFound)
}

func TestVerifyEmail(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	registered := e.register(t, "a@b.com")
	token := e.sender.tokens["a@b.com"]

	require.NoError(t, e.sessions.VerifyEmail(ctx, token, meta))

	p, err := e.sessions.Profile(ctx, registered.ID)
	require.NoError(t, err)
	require.True(t, p.EmailVerified)

	err = e.sessions.VerifyEmail(ctx, token, meta)
	requireKind(t, err, service.KindValidation)

	err = e.sessions.VerifyEmail(ctx, "deadbeef", meta)
	requireKind(t, err, service.KindValidation)

	err = e.sessions.VerifyEmail(ctx, "", meta)
	requireKind(t, err, service.KindValidation)
}

func TestHousekeeping(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	registered := e.register(t, "a@b.com")

	e.sessions.Now = func() time.Time { return time.Now().Add(-domain.VerificationTokenTTL - time.Hour) }
	e.register(t, "stale@b.com")

	hk := service.NewHousekeepingService(e.store, e.cache, slogx.Discard(), time.Hour)
	require.EqualValues(t, 1, hk.RunOnce(ctx))
	require.EqualValues(t, 0, hk.RunOnce(ctx))

	// The live token survives.
	e.sessions.Now = nil
	require.NoError(t, e.sessions.VerifyEmail(ctx, e.sender.tokens["a@b.com"], meta))
	p, err := e.sessions.Profile(ctx, registered.ID)
	require.NoError(t, err)
	require.True(t, p.EmailVerified)

	t.Run("skips while another instance holds the lock", func(t *testing.T) {
		e.sessions.Now = func() time.Time { return time.Now().Add(-domain.VerificationTokenTTL - time.Hour) }
		e.register(t, "stale2@b.com")

		l, err := e.cache.Acquire(ctx, "housekeeping:verification-tokens", time.Minute)
		require.NoError(t, err)
		require.EqualValues(t, 0, hk.RunOnce(ctx))

		require.NoError(t, e.cache.Release(ctx, l.Resource, l.Token))
		require.EqualValues(t, 1, hk.RunOnce(ctx))
	})
}

func TestHousekeepingStartStop(t *testing.T) {
	e := newEnv(t)
	hk := service.NewHousekeepingService(e.store, e.cache, slogx.Discard(), 0)
	require.Equal(t, time.Hour, hk.Interval)
	hk.Start()
	hk.Stop()
}

func enableMFA(t *testing.T, e *env, userID, email string) (secret string, backupCodes []string) {
	t.Helper()
	ctx := context.Background()

	setup, err := e.mfa.Setup(ctx, userID, email)
	require.NoError(t, err)
	require.NotEmpty(t, setup.Secret)
	require.True(t, strings.HasPrefix(setup.OTPAuthURL, "otpauth://totp/"))
	require.True(t, strings.HasPrefix(setup.QRCode, "data:image/png;base64,"))

	code, err := totp.GenerateCode(setup.Secret, time.Now())
	require.NoError(t, err)
	codes, err := e.mfa.Enable(ctx, userID, code, meta)
	require.NoError(t, err)
	require.Len(t, codes, 10)
	for _, c := range codes {
		require.Len(t, c, 8)
	}
	return setup.Secret, codes
}

func TestLoginWithMFA(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	registered := e.register(t, "a@b.com")
	secret, backup := enableMFA(t, e, registered.ID, "a@b.com")

	t.Run("no token prompts for a second factor", func(t *testing.T) {
		res, err := e.sessions.Login(ctx, service.LoginInput{Email: "a@b.com", Password: testPassword}, meta)
		require.NoError(t, err)
		require.True(t, res.MFARequired)
		require.Empty(t, res.Tokens.AccessToken)

		attempts, err := e.store.LoginAttempts().ListLoginAttemptsByEmail(ctx, "a@b.com", 1)
		require.NoError(t, err)
		require.Equal(t, domain.FailureMFARequired, attempts[0].FailureReason)
		require.True(t, attempts[0].MFARequired)
	})

	t.Run("code outside the drift window", func(t *testing.T) {
		stale, err := totp.GenerateCode(secret, time.Now().Add(-5*time.Minute))
		require.NoError(t, err)

		_, err = e.sessions.Login(ctx, service.LoginInput{Email: "a@b.com", Password: testPassword, MFAToken: stale}, meta)
		requireKind(t, err, service.KindAuthentication)
		var se *service.Error
		require.ErrorAs(t, err, &se)
		require.Equal(t, "INVALID_MFA", se.Reason)

		attempts, err := e.store.LoginAttempts().ListLoginAttemptsByEmail(ctx, "a@b.com", 1)
		require.NoError(t, err)
		require.Equal(t, domain.FailureInvalidMFA, attempts[0].FailureReason)
	})

	t.Run("code one step old is accepted", func(t *testing.T) {
		code, err := totp.GenerateCode(secret, time.Now().Add(-30*time.Second))
		require.NoError(t, err)

		res, err := e.sessions.Login(ctx, service.LoginInput{Email: "a@b.com", Password: testPassword, MFAToken: code}, meta)
		require.NoError(t, err)
		require.True(t, res.User.MFAEnabled)
		require.NotEmpty(t, res.Tokens.AccessToken)
	})

	t.Run("backup code works once", func(t *testing.T) {
		in := service.LoginInput{Email: "a@b.com", Password: testPassword, MFAToken: strings.ToLower(backup[0])}
		_, err := e.sessions.Login(ctx, in, meta)
		require.NoError(t, err)

		_, err = e.sessions.Login(ctx, in, meta)
		requireKind(t, err, service.KindAuthentication)

		n, err := e.store.BackupCodes().CountUnusedBackupCodes(ctx, registered.ID)
		require.NoError(t, err)
		require.Equal(t, 9, n)
	})

	t.Run("setup again is a conflict", func(t *testing.T) {
		_, err := e.mfa.Setup(ctx, registered.ID, "a@b.com")
		requireKind(t, err, service.KindConflict)
	})

	t.Run("disable", func(t *testing.T) {
		err := e.mfa.Disable(ctx, registered.ID, "000000x", meta)
		requireKind(t, err, service.KindAuthentication)

		code, err := totp.GenerateCode(secret, time.Now())
		require.NoError(t, err)
		require.NoError(t, e.mfa.Disable(ctx, registered.ID, code, meta))

		res := e.login(t, "a@b.com")
		require.False(t, res.User.MFAEnabled)

		n, err := e.store.BackupCodes().CountUnusedBackupCodes(ctx, registered.ID)
		require.NoError(t, err)
		require.Zero(t, n)

		err = e.mfa.Disable(ctx, registered.ID, code, meta)
		requireKind(t, err, service.KindValidation)
	})
}

func TestEnableMFARequiresSetupAndValidCode(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	registered := e.register(t, "a@b.com")

	_, err := e.mfa.Enable(ctx, registered.ID, "123456", meta)
	requireKind(t, err, service.KindValidation)

	setup, err := e.mfa.Setup(ctx, registered.ID, "a@b.com")
	require.NoError(t, err)

	stale, err := totp.GenerateCode(setup.Secret, time.Now().Add(-10*time.Minute))
	require.NoError(t, err)
	_, err = e.mfa.Enable(ctx, registered.ID, stale, meta)
	requireKind(t, err, service.KindAuthentication)

	enabled, err := e.mfa.Enabled(ctx, registered.ID)
	require.NoError(t, err)
	require.False(t, enabled)
}

func TestBlacklist(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	bl := &service.Blacklist{Cache: e.cache}

	require.NoError(t, bl.Add(ctx, "jti-1", time.Minute))
	ok, err := bl.Contains(ctx, "jti-1")
	require.NoError(t, err)
	require.True(t, ok)

	// Keys are fingerprints, never the raw jti.
	for _, k := range e.redis.Keys() {
		require.NotContains(t, k, "jti-1")
	}

	e.redis.FastForward(2 * time.Minute)
	ok, err = bl.Contains(ctx, "jti-1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, bl.Add(ctx, "expired", 0))
	ok, err = bl.Contains(ctx, "expired")
	require.NoError(t, err)
	require.False(t, ok)

	e.redis.Close()
	_, err = bl.Contains(ctx, "jti-1")
	require.Error(t, err)
}
