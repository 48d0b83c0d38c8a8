package domain

import "time"

// MFASettings is one-to-one with a user. Secret is empty until setup.
type MFASettings struct {
	UserID     string
	Enabled    bool
	Secret     string // base32 TOTP secret, never returned after setup
	LastUsedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// MFAAction is the closed set of operations on the MFA settings endpoint.
type MFAAction string

const (
	MFAActionSetup   MFAAction = "setup"
	MFAActionEnable  MFAAction = "enable"
	MFAActionDisable MFAAction = "disable"
)

// ParseMFAAction returns the action named by s.
func ParseMFAAction(s string) (MFAAction, bool) {
	switch a := MFAAction(s); a {
	case MFAActionSetup, MFAActionEnable, MFAActionDisable:
		return a, true
	default:
		return "", false
	}
}

// MFASetup is the one-time provisioning payload.
type MFASetup struct {
	Secret     string `json:"secret"`
	OTPAuthURL string `json:"otpauthUrl"`
	QRCode     string `json:"qrCode"` // data:image/png;base64,...
}
