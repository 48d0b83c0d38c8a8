package domain

import "time"

// Session is a login session. The row is created at login, its token hash
// and session ID are overwritten on each refresh, and it is only ever
// revoked, never deleted.
type Session struct {
	ID        string // stable record ID
	UserID    string
	SessionID string // current session ID, rotated on refresh
	TokenHash string // fingerprint of the current refresh token
	UserAgent string
	IPAddress string
	ExpiresAt time.Time
	Revoked   bool
	RevokedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsActive treats expiry the same as revocation.
func (s Session) IsActive(now time.Time) bool {
	return !s.Revoked && now.Before(s.ExpiresAt)
}

// Session lifetimes chosen at login.
const (
	SessionTTL           = 7 * 24 * time.Hour
	SessionTTLRememberMe = 30 * 24 * time.Hour
)

// TokenPair is what login and refresh hand back.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"` // seconds until the access token expires
}

// RequestMeta is the audit-only origin of a request.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}
