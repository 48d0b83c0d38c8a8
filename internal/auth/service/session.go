package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/aussiebroadwan/fintab/internal/auth/domain"
	"github.com/aussiebroadwan/fintab/internal/auth/store"
	"github.com/aussiebroadwan/fintab/pkg/cryptox"
	"github.com/aussiebroadwan/fintab/pkg/httpx"
	"github.com/aussiebroadwan/fintab/pkg/idx"
	"github.com/aussiebroadwan/fintab/pkg/jwtx"
	"github.com/aussiebroadwan/fintab/pkg/slogx"
)

const (
	MinPasswordLength = 8

	verificationTokenBytes = 32 // 64 hex chars
)

// SessionService owns the credential lifecycle: registration, login with
// optional MFA, refresh rotation, logout and profile reads.
type SessionService struct {
	Store        store.Store
	Codec        *jwtx.Codec
	Blacklist    *Blacklist
	MFA          *MFAService
	Sender       VerificationSender
	Metrics      *Metrics
	PasswordCost int

	Now func() time.Time
}

var _ httpx.Authenticator = (*SessionService)(nil)

func (s *SessionService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Register creates a credential and a pending email verification.
func (s *SessionService) Register(ctx context.Context, in RegisterInput, meta domain.RequestMeta) (domain.Profile, error) {
	l := slogx.FromContext(ctx)

	email := domain.NormalizeEmail(in.Email)
	if err := validateEmail(email); err != nil {
		return domain.Profile{}, err
	}
	if len(in.Password) < MinPasswordLength {
		return domain.Profile{}, ValidationError(fmt.Sprintf("Password must be at least %d characters", MinPasswordLength))
	}

	if _, err := s.Store.Users().GetUserByEmail(ctx, email); err == nil {
		return domain.Profile{}, ConflictError("User with this email already exists")
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.Profile{}, fmt.Errorf("failed to look up user: %w", err)
	}

	hash, err := cryptox.HashPassword(in.Password, s.PasswordCost)
	if errors.Is(err, cryptox.ErrPasswordTooLong) {
		return domain.Profile{}, ValidationError(fmt.Sprintf("Password must be at most %d bytes", cryptox.MaxPasswordBytes))
	}
	if err != nil {
		return domain.Profile{}, err
	}

	rawToken, err := cryptox.GenerateHexToken(verificationTokenBytes)
	if err != nil {
		return domain.Profile{}, err
	}

	now := s.now()
	u := domain.User{
		ID:           idx.NewString(),
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Role:         domain.RoleUser,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Users().CreateUser(ctx, u); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				return ConflictError("User with this email already exists")
			}
			return fmt.Errorf("failed to create user: %w", err)
		}
		err := tx.VerificationTokens().CreateVerificationToken(ctx, domain.VerificationToken{
			ID:        idx.NewString(),
			UserID:    u.ID,
			TokenHash: cryptox.FingerprintToken(rawToken),
			ExpiresAt: now.Add(domain.VerificationTokenTTL),
			CreatedAt: now,
		})
		if err != nil {
			return fmt.Errorf("failed to create verification token: %w", err)
		}
		return appendAudit(ctx, tx, u.ID, domain.AuditUserRegistered, "user", map[string]any{"email": email}, meta, now)
	})
	if err != nil {
		return domain.Profile{}, err
	}

	if s.Sender != nil {
		if err := s.Sender.SendVerification(ctx, u, rawToken); err != nil {
			l.Error("failed to send verification", slog.String("user_id", u.ID), slog.Any("error", err))
		}
	}

	l.Info("user registered", slog.String("user_id", u.ID))
	return domain.ProfileOf(u, false), nil
}

type LoginInput struct {
	Email      string
	Password   string
	MFAToken   string
	RememberMe bool
}

// LoginResult is either a second-factor prompt or a full session.
type LoginResult struct {
	MFARequired bool
	User        domain.Profile
	Tokens      domain.TokenPair
}

// Login authenticates a credential. Unknown email, inactive account and
// wrong password all surface as the same error, the attempt log keeps the
// specific reason. An MFA enabled account without a code gets a prompt, not
// an error.
func (s *SessionService) Login(ctx context.Context, in LoginInput, meta domain.RequestMeta) (LoginResult, error) {
	l := slogx.FromContext(ctx)

	email := domain.NormalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return LoginResult{}, ValidationError("Email and password are required")
	}

	now := s.now()
	attempt := domain.LoginAttempt{Email: email}

	fail := func(reason domain.FailureReason, ret error) (LoginResult, error) {
		attempt.FailureReason = reason
		if err := recordAttempt(ctx, s.Store, attempt, meta, now); err != nil {
			return LoginResult{}, err
		}
		l.Info("login failed", slog.String("reason", string(reason)), slog.String("user_id", attempt.UserID))
		s.Metrics.login(strings.ToLower(string(reason)))
		return LoginResult{}, ret
	}

	u, err := s.Store.Users().GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return fail(domain.FailureUserNotFound, errInvalidCredentials)
	}
	if err != nil {
		return LoginResult{}, fmt.Errorf("failed to look up user: %w", err)
	}
	attempt.UserID = u.ID

	if !u.Active {
		return fail(domain.FailureInactive, errInvalidCredentials)
	}

	ok, err := cryptox.VerifyPassword(in.Password, u.PasswordHash)
	if err != nil {
		return LoginResult{}, err
	}
	if !ok {
		return fail(domain.FailureInvalidPassword, errInvalidCredentials)
	}

	mfa, err := s.Store.MFA().GetMFASettings(ctx, u.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return LoginResult{}, fmt.Errorf("failed to get MFA settings: %w", err)
	}
	mfaEnabled := err == nil && mfa.Enabled

	if mfaEnabled {
		attempt.MFARequired = true
		if in.MFAToken == "" {
			if _, err := fail(domain.FailureMFARequired, nil); err != nil {
				return LoginResult{}, err
			}
			return LoginResult{MFARequired: true}, nil
		}

		ok, err := s.MFA.Verify(ctx, mfa, strings.TrimSpace(in.MFAToken))
		if err != nil {
			return LoginResult{}, err
		}
		if !ok {
			return fail(domain.FailureInvalidMFA, errInvalidMFA)
		}
		attempt.MFAUsed = true
	}

	sid := idx.NewString()
	pair, err := s.Codec.IssuePair(jwtx.Payload{SubjectID: u.ID, Email: u.Email, SessionID: sid})
	if err != nil {
		return LoginResult{}, err
	}

	ttl := domain.SessionTTL
	if in.RememberMe {
		ttl = domain.SessionTTLRememberMe
	}

	attempt.Success = true
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		err := tx.Sessions().CreateSession(ctx, domain.Session{
			ID:        idx.NewString(),
			UserID:    u.ID,
			SessionID: sid,
			TokenHash: cryptox.FingerprintToken(pair.RefreshToken),
			UserAgent: meta.UserAgent,
			IPAddress: meta.IPAddress,
			ExpiresAt: now.Add(ttl),
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		if err := tx.Users().UpdateLastLogin(ctx, u.ID, now); err != nil {
			return fmt.Errorf("failed to update last login: %w", err)
		}
		if err := recordAttempt(ctx, tx, attempt, meta, now); err != nil {
			return err
		}
		details := map[string]any{"sessionId": sid, "rememberMe": in.RememberMe, "mfaUsed": attempt.MFAUsed}
		return appendAudit(ctx, tx, u.ID, domain.AuditUserLogin, "session", details, meta, now)
	})
	if err != nil {
		return LoginResult{}, err
	}

	u.LastLoginAt = &now
	s.Metrics.login("success")
	l.Info("user logged in", slog.String("user_id", u.ID), slog.Bool("mfa", attempt.MFAUsed))

	return LoginResult{
		User:   domain.ProfileOf(u, mfaEnabled),
		Tokens: s.tokenPair(pair),
	}, nil
}

// Refresh rotates a session. The stored hash is swapped conditionally in a
// transaction first and the old jti is blacklisted afterwards, so a replayed
// refresh token fails either on the blacklist or on the hash lookup.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	l := slogx.FromContext(ctx)

	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return domain.TokenPair{}, ValidationError("Refresh token is required")
	}

	pair, err := s.rotate(ctx, refreshToken)
	if err != nil {
		if KindOf(err) == KindAuthentication {
			s.Metrics.refresh("rejected")
			attrs := []any{slog.Any("error", err)}
			// Unverified, only to correlate replays in the logs
			if jti, ok := jwtx.ExtractJTI(refreshToken); ok {
				attrs = append(attrs, slog.String("jti", jti))
			}
			l.Info("refresh rejected", attrs...)
		} else {
			s.Metrics.refresh("error")
		}
		return domain.TokenPair{}, err
	}

	s.Metrics.refresh("success")
	return s.tokenPair(pair), nil
}

func (s *SessionService) rotate(ctx context.Context, refreshToken string) (jwtx.Pair, error) {
	claims, err := s.Codec.Verify(refreshToken, jwtx.TypeRefresh)
	if err != nil {
		return jwtx.Pair{}, &Error{Kind: KindAuthentication, Message: "Invalid or expired refresh token", Err: err}
	}

	revoked, err := s.Blacklist.Contains(ctx, claims.ID)
	if err != nil {
		return jwtx.Pair{}, err
	}
	if revoked {
		return jwtx.Pair{}, errTokenRevoked
	}

	now := s.now()
	oldHash := cryptox.FingerprintToken(refreshToken)

	sess, err := s.Store.Sessions().GetActiveSessionByTokenHash(ctx, oldHash, now)
	if errors.Is(err, store.ErrNotFound) {
		return jwtx.Pair{}, errInvalidRefresh
	}
	if err != nil {
		return jwtx.Pair{}, fmt.Errorf("failed to look up session: %w", err)
	}

	u, err := s.Store.Users().GetUserByID(ctx, sess.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return jwtx.Pair{}, errInvalidRefresh
	}
	if err != nil {
		return jwtx.Pair{}, fmt.Errorf("failed to look up user: %w", err)
	}
	if !u.Active {
		return jwtx.Pair{}, errInvalidRefresh
	}

	sid := idx.NewString()
	pair, err := s.Codec.IssuePair(jwtx.Payload{SubjectID: u.ID, Email: u.Email, SessionID: sid})
	if err != nil {
		return jwtx.Pair{}, err
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		err := tx.Sessions().RotateSession(ctx, sess.ID, oldHash, cryptox.FingerprintToken(pair.RefreshToken), sid, now)
		if errors.Is(err, store.ErrNotFound) {
			return errInvalidRefresh // lost a race with a concurrent refresh
		}
		return err
	})
	if err != nil {
		return jwtx.Pair{}, err
	}

	// The old hash no longer matches, so a failed blacklist write still
	// leaves the old token unusable.
	if err := s.Blacklist.Add(ctx, claims.ID, claims.Remaining(now)); err != nil {
		slogx.FromContext(ctx).Error("failed to blacklist rotated refresh token",
			slog.String("session_id", sess.ID), slog.Any("error", err))
	}

	return pair, nil
}

// Logout revokes the caller's session and blacklists the presented access
// token through its natural expiry.
func (s *SessionService) Logout(ctx context.Context, p httpx.Principal, accessToken string, meta domain.RequestMeta) error {
	l := slogx.FromContext(ctx)
	if p.ID == "" || accessToken == "" {
		return AuthenticationError("Authentication required")
	}

	claims, err := s.Codec.Verify(accessToken, jwtx.TypeAccess)
	if err != nil {
		return &Error{Kind: KindAuthentication, Message: msgInvalidToken, Err: err}
	}

	now := s.now()
	sess, err := s.Store.Sessions().GetActiveSessionBySessionID(ctx, p.ID, p.SessionID, now)
	if errors.Is(err, store.ErrNotFound) {
		// The access token predates the last rotation of its session.
		l.Warn("no active session carries the token session id, revoking the latest",
			slog.String("user_id", p.ID), slog.String("sid", p.SessionID))
		sess, err = s.Store.Sessions().GetLatestActiveSession(ctx, p.ID, now)
	}

	switch {
	case err == nil:
		if err := s.Store.Sessions().RevokeSession(ctx, sess.ID, now); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("failed to revoke session: %w", err)
		}
	case errors.Is(err, store.ErrNotFound):
		l.Warn("logout without an active session", slog.String("user_id", p.ID))
	default:
		return fmt.Errorf("failed to look up session: %w", err)
	}

	if err := s.Blacklist.Add(ctx, claims.ID, claims.Remaining(now)); err != nil {
		return err
	}

	details := map[string]any{"sessionId": p.SessionID}
	if err := appendAudit(ctx, s.Store, p.ID, domain.AuditUserLogout, "session", details, meta, now); err != nil {
		return err
	}

	l.Info("user logged out", slog.String("user_id", p.ID))
	return nil
}

// Profile returns the sanitized projection of userID.
func (s *SessionService) Profile(ctx context.Context, userID string) (domain.Profile, error) {
	u, err := s.Store.Users().GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Profile{}, NotFoundError("User not found")
	}
	if err != nil {
		return domain.Profile{}, fmt.Errorf("failed to get user: %w", err)
	}

	enabled, err := s.MFA.Enabled(ctx, u.ID)
	if err != nil {
		return domain.Profile{}, err
	}
	return domain.ProfileOf(u, enabled), nil
}

// Authenticate verifies an access token and checks it was not revoked.
func (s *SessionService) Authenticate(ctx context.Context, token string) (httpx.Principal, error) {
	claims, err := s.Codec.Verify(token, jwtx.TypeAccess)
	if err != nil {
		return httpx.Principal{}, &Error{Kind: KindAuthentication, Message: msgInvalidToken, Err: err}
	}

	revoked, err := s.Blacklist.Contains(ctx, claims.ID)
	if err != nil {
		return httpx.Principal{}, err
	}
	if revoked {
		return httpx.Principal{}, errTokenRevoked
	}

	return httpx.Principal{ID: claims.Subject, Email: claims.Email, SessionID: claims.SID}, nil
}

// VerifyEmail consumes a pending verification token.
func (s *SessionService) VerifyEmail(ctx context.Context, token string, meta domain.RequestMeta) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ValidationError("Verification token is required")
	}
	invalid := ValidationError("Invalid or expired verification token")

	now := s.now()
	vt, err := s.Store.VerificationTokens().GetVerificationTokenByHash(ctx, cryptox.FingerprintToken(token))
	if errors.Is(err, store.ErrNotFound) {
		return invalid
	}
	if err != nil {
		return fmt.Errorf("failed to look up verification token: %w", err)
	}
	if vt.UsedAt != nil || !now.Before(vt.ExpiresAt) {
		return invalid
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.VerificationTokens().MarkVerificationTokenUsed(ctx, vt.ID, now); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return invalid
			}
			return fmt.Errorf("failed to consume verification token: %w", err)
		}
		if err := tx.Users().MarkEmailVerified(ctx, vt.UserID, now); err != nil {
			return fmt.Errorf("failed to mark email verified: %w", err)
		}
		return appendAudit(ctx, tx, vt.UserID, domain.AuditEmailVerified, "user", nil, meta, now)
	})
	if err != nil {
		return err
	}

	slogx.FromContext(ctx).Info("email verified", slog.String("user_id", vt.UserID))
	return nil
}

func (s *SessionService) tokenPair(p jwtx.Pair) domain.TokenPair {
	return domain.TokenPair{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.Codec.AccessTTL().Seconds()),
	}
}

func validateEmail(email string) error {
	invalid := ValidationError("A valid email address is required")
	if email == "" || len(email) > 254 {
		return invalid
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return invalid
	}
	return nil
}
