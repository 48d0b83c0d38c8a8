package domain

import "time"

// VerificationTokenTTL is how long an email verification link stays valid.
const VerificationTokenTTL = 7 * 24 * time.Hour

// VerificationToken is a pending email verification. Only the fingerprint of
// the emailed token is stored.
type VerificationToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}
