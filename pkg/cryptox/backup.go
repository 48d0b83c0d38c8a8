package cryptox

import (
	"fmt"
	"strings"
)

const (
	// DefaultBackupCodeCount is how many recovery codes are issued on MFA enrolment.
	DefaultBackupCodeCount = 10
	// BackupCodeLength is the number of hex characters in a recovery code.
	BackupCodeLength = 8
)

// GenerateBackupCodes returns n one-time recovery codes of BackupCodeLength
// uppercase hex characters each.
func GenerateBackupCodes(n int) ([]string, error) {
	if n <= 0 {
		return nil, fmt.Errorf("backup code count must be positive, got %d", n)
	}

	codes := make([]string, n)
	for i := range n {
		code, err := GenerateHexToken(BackupCodeLength / 2)
		if err != nil {
			return nil, fmt.Errorf("failed to generate backup code: %w", err)
		}
		codes[i] = strings.ToUpper(code)
	}
	return codes, nil
}

// NormalizeBackupCode folds user input into the canonical stored form.
func NormalizeBackupCode(code string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(code), "-", ""))
}
