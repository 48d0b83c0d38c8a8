package authsdk

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// refreshBuffer refreshes a little before the access token actually expires.
const refreshBuffer = 30 * time.Second

// Session represents an authenticated session with automatic token refresh.
type Session struct {
	client *SDKClient

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time
}

// NewSessionFromTokens creates a session from an existing pair.
func (c *SDKClient) NewSessionFromTokens(t Tokens) *Session {
	return &Session{
		client:       c,
		accessToken:  t.AccessToken,
		refreshToken: t.RefreshToken,
		expiresAt:    time.Now().Add(time.Duration(t.ExpiresIn)*time.Second - refreshBuffer),
	}
}

// AccessToken returns the current access token without checking expiration.
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// RefreshToken returns the current refresh token.
func (s *Session) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshToken
}

// Refresh rotates the pair now, regardless of expiry.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked(ctx)
}

func (s *Session) refreshLocked(ctx context.Context) error {
	if s.refreshToken == "" {
		return fmt.Errorf("no refresh token available")
	}

	t, err := s.client.Refresh(ctx, s.refreshToken)
	if err != nil {
		return fmt.Errorf("failed to refresh token: %w", err)
	}

	s.accessToken = t.AccessToken
	s.refreshToken = t.RefreshToken
	s.expiresAt = time.Now().Add(time.Duration(t.ExpiresIn)*time.Second - refreshBuffer)
	return nil
}

// getValidToken returns a valid access token, automatically refreshing if expired.
func (s *Session) getValidToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	if time.Now().Before(s.expiresAt) {
		token := s.accessToken
		s.mu.RUnlock()
		return token, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock (another goroutine may have refreshed)
	if time.Now().Before(s.expiresAt) {
		return s.accessToken, nil
	}
	if err := s.refreshLocked(ctx); err != nil {
		return "", err
	}
	return s.accessToken, nil
}

func (s *Session) do(ctx context.Context, method, path string, body, target any) error {
	token, err := s.getValidToken(ctx)
	if err != nil {
		return err
	}
	resp, err := s.client.doRequest(ctx, method, path, token, body)
	if err != nil {
		return err
	}
	return decodeJSON(resp, target, http.StatusOK)
}

// Profile returns the authenticated user.
func (s *Session) Profile(ctx context.Context) (*User, error) {
	var out ProfileResponse
	if err := s.do(ctx, http.MethodGet, "/profile", nil, &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

// Logout revokes the session server side. The Session is unusable afterwards.
func (s *Session) Logout(ctx context.Context) error {
	var out SuccessResponse
	if err := s.do(ctx, http.MethodPost, "/logout", nil, &out); err != nil {
		return err
	}

	s.mu.Lock()
	s.accessToken, s.refreshToken = "", ""
	s.expiresAt = time.Time{}
	s.mu.Unlock()
	return nil
}

// SetupMFA starts enrollment and returns the one-time provisioning payload.
func (s *Session) SetupMFA(ctx context.Context) (*MFASetupResponse, error) {
	var out MFASetupResponse
	if err := s.do(ctx, http.MethodPost, "/mfa", MFARequest{Action: MFAActionSetup}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EnableMFA confirms enrollment with a current code and returns backup codes.
func (s *Session) EnableMFA(ctx context.Context, code string) ([]string, error) {
	var out MFAEnableResponse
	if err := s.do(ctx, http.MethodPost, "/mfa", MFARequest{Action: MFAActionEnable, Token: code}, &out); err != nil {
		return nil, err
	}
	return out.BackupCodes, nil
}

// DisableMFA turns MFA off. code may be a TOTP or a backup code.
func (s *Session) DisableMFA(ctx context.Context, code string) error {
	var out SuccessResponse
	return s.do(ctx, http.MethodPost, "/mfa", MFARequest{Action: MFAActionDisable, Token: code}, &out)
}
