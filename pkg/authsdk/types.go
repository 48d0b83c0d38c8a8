package authsdk

import "time"

// ErrorResponse is the failure envelope of every auth endpoint.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// SuccessResponse is returned by endpoints without a payload.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// User is the sanitized profile. It never carries secrets.
type User struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	FirstName     string     `json:"firstName,omitempty"`
	LastName      string     `json:"lastName,omitempty"`
	Role          string     `json:"role"`
	EmailVerified bool       `json:"emailVerified"`
	MFAEnabled    bool       `json:"mfaEnabled"`
	LastLoginAt   *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// Tokens is an access/refresh pair.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`

	// ExpiresIn is the access token lifetime in seconds
	ExpiresIn int64 `json:"expiresIn"`
}

// ============================================================================
// Requests
// ============================================================================

type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

type LoginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	MFAToken   string `json:"mfaToken,omitempty"`
	RememberMe bool   `json:"rememberMe,omitempty"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type VerifyEmailRequest struct {
	Token string `json:"token"`
}

// MFA actions accepted by POST /mfa.
const (
	MFAActionSetup   = "setup"
	MFAActionEnable  = "enable"
	MFAActionDisable = "disable"
)

type MFARequest struct {
	Action string `json:"action"`
	Token  string `json:"token,omitempty"`
}

// ============================================================================
// Responses
// ============================================================================

type RegisterResponse struct {
	Success              bool   `json:"success"`
	Message              string `json:"message,omitempty"`
	User                 User   `json:"user"`
	VerificationRequired bool   `json:"verificationRequired"`
}

// LoginResponse is either a full session or, with MFARequired set and
// Success false, a prompt to resubmit with a second factor.
type LoginResponse struct {
	Success     bool    `json:"success"`
	Message     string  `json:"message,omitempty"`
	MFARequired bool    `json:"mfaRequired,omitempty"`
	User        *User   `json:"user,omitempty"`
	Tokens      *Tokens `json:"tokens,omitempty"`
}

type RefreshResponse struct {
	Success bool   `json:"success"`
	Tokens  Tokens `json:"tokens"`
}

type ProfileResponse struct {
	Success bool `json:"success"`
	User    User `json:"user"`
}

// MFASetupResponse is only ever returned once, it carries the shared secret.
type MFASetupResponse struct {
	Success    bool   `json:"success"`
	Secret     string `json:"secret"`
	OTPAuthURL string `json:"otpauthUrl"`
	QRCode     string `json:"qrCode"`
}

type MFAEnableResponse struct {
	Success     bool     `json:"success"`
	BackupCodes []string `json:"backupCodes"`
}

// ============================================================================
// Health
// ============================================================================

// Health statuses.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// CheckResult is the outcome of one dependency probe.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}

// ProcessStats is only present on the detailed health endpoint.
type ProcessStats struct {
	CPUPercent float64 `json:"cpuPercent"`
	RSSBytes   uint64  `json:"rssBytes"`
	Goroutines int     `json:"goroutines"`
}

type HealthResponse struct {
	Status  string                 `json:"status"`
	Uptime  string                 `json:"uptime"`
	Version string                 `json:"version"`
	Checks  map[string]CheckResult `json:"checks,omitempty"`
	Process *ProcessStats          `json:"process,omitempty"`
	// Caller is the user ID behind a valid bearer token, when one was sent.
	Caller  string                 `json:"caller,omitempty"`
}
