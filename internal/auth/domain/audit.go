package domain

import "time"

// FailureReason is why a login attempt did not succeed.
type FailureReason string

const (
	FailureNone            FailureReason = ""
	FailureUserNotFound    FailureReason = "USER_NOT_FOUND"
	FailureInactive        FailureReason = "ACCOUNT_INACTIVE"
	FailureInvalidPassword FailureReason = "INVALID_PASSWORD"
	FailureMFARequired     FailureReason = "MFA_REQUIRED"
	FailureInvalidMFA      FailureReason = "INVALID_MFA"
)

// LoginAttempt is an append-only record of one authentication attempt.
type LoginAttempt struct {
	ID            string
	UserID        string // empty when the email is unknown
	Email         string
	Success       bool
	FailureReason FailureReason
	MFARequired   bool
	MFAUsed       bool
	IPAddress     string
	UserAgent     string
	CreatedAt     time.Time
}

// AuditAction names a security relevant action.
type AuditAction string

const (
	AuditUserRegistered AuditAction = "USER_REGISTERED"
	AuditUserLogin      AuditAction = "USER_LOGIN"
	AuditUserLogout     AuditAction = "USER_LOGOUT"
	AuditEmailVerified  AuditAction = "EMAIL_VERIFIED"
	AuditMFAEnabled     AuditAction = "MFA_ENABLED"
	AuditMFADisabled    AuditAction = "MFA_DISABLED"
)

// AuditEntry is an append-only audit log record.
type AuditEntry struct {
	ID        string
	ActorID   string
	Action    AuditAction
	Resource  string
	Details   map[string]any
	IPAddress string
	UserAgent string
	CreatedAt time.Time
}
