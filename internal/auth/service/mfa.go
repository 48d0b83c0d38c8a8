package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/aussiebroadwan/fintab/internal/auth/domain"
	"github.com/aussiebroadwan/fintab/internal/auth/store"
	"github.com/aussiebroadwan/fintab/pkg/cryptox"
	"github.com/aussiebroadwan/fintab/pkg/slogx"
)

const (
	// DefaultMFASecretLength is the TOTP secret size in bytes.
	DefaultMFASecretLength = 20

	totpPeriod = 30
	totpSkew   = 1 // one step either side tolerates clock drift
	qrSize     = 200
)

var (
	errMFAAlreadyEnabled = ConflictError("MFA is already enabled")
	errMFANotSetUp       = ValidationError("MFA setup has not been started")
	errMFANotEnabled     = ValidationError("MFA is not enabled")
)

type MFAService struct {
	Store        store.Store
	Issuer       string // shown in authenticator apps
	SecretLength int

	Now func() time.Time
}

func (s *MFAService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Enabled reports whether userID has confirmed MFA.
func (s *MFAService) Enabled(ctx context.Context, userID string) (bool, error) {
	m, err := s.Store.MFA().GetMFASettings(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get MFA settings: %w", err)
	}
	return m.Enabled, nil
}

// Setup provisions a fresh secret in the disabled state. The secret leaves the
// service only in this response.
func (s *MFAService) Setup(ctx context.Context, userID, email string) (domain.MFASetup, error) {
	enabled, err := s.Enabled(ctx, userID)
	if err != nil {
		return domain.MFASetup{}, err
	}
	if enabled {
		return domain.MFASetup{}, errMFAAlreadyEnabled
	}

	length := s.SecretLength
	if length <= 0 {
		length = DefaultMFASecretLength
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.Issuer,
		AccountName: email,
		Period:      totpPeriod,
		SecretSize:  uint(length),
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return domain.MFASetup{}, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	qr, err := qrDataURL(key)
	if err != nil {
		return domain.MFASetup{}, err
	}

	if err := s.Store.MFA().UpsertMFASecret(ctx, userID, key.Secret(), s.now()); err != nil {
		return domain.MFASetup{}, fmt.Errorf("failed to store MFA secret: %w", err)
	}

	return domain.MFASetup{
		Secret:     key.Secret(),
		OTPAuthURL: key.URL(),
		QRCode:     qr,
	}, nil
}

// Enable confirms setup with a current code and returns freshly generated
// backup codes. They are shown once, only fingerprints are stored.
func (s *MFAService) Enable(ctx context.Context, userID, code string, meta domain.RequestMeta) ([]string, error) {
	m, err := s.Store.MFA().GetMFASettings(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errMFANotSetUp
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get MFA settings: %w", err)
	}
	if m.Enabled {
		return nil, errMFAAlreadyEnabled
	}

	now := s.now()
	if !s.validTOTP(code, m.Secret, now) {
		return nil, errInvalidMFA
	}

	codes, err := cryptox.GenerateBackupCodes(cryptox.DefaultBackupCodeCount)
	if err != nil {
		return nil, err
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.MFA().EnableMFA(ctx, userID, now); err != nil {
			return fmt.Errorf("failed to enable MFA: %w", err)
		}
		if err := tx.MFA().TouchMFA(ctx, userID, now); err != nil {
			return fmt.Errorf("failed to touch MFA: %w", err)
		}
		if err := tx.BackupCodes().DeleteAllBackupCodes(ctx, userID); err != nil {
			return fmt.Errorf("failed to delete old backup codes: %w", err)
		}
		for _, c := range codes {
			if err := tx.BackupCodes().CreateBackupCode(ctx, userID, backupCodeHash(c), now); err != nil {
				return fmt.Errorf("failed to store backup code: %w", err)
			}
		}
		return appendAudit(ctx, tx, userID, domain.AuditMFAEnabled, "mfa", nil, meta, now)
	})
	if err != nil {
		return nil, err
	}

	slogx.FromContext(ctx).Info("mfa enabled", slog.String("user_id", userID))
	return codes, nil
}

// Disable removes the secret and every backup code after a code check.
// Either a TOTP code or an unused backup code is accepted.
func (s *MFAService) Disable(ctx context.Context, userID, code string, meta domain.RequestMeta) error {
	m, err := s.Store.MFA().GetMFASettings(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return errMFANotEnabled
	}
	if err != nil {
		return fmt.Errorf("failed to get MFA settings: %w", err)
	}
	if !m.Enabled {
		return errMFANotEnabled
	}

	ok, err := s.Verify(ctx, m, code)
	if err != nil {
		return err
	}
	if !ok {
		return errInvalidMFA
	}

	now := s.now()
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.BackupCodes().DeleteAllBackupCodes(ctx, userID); err != nil {
			return fmt.Errorf("failed to delete backup codes: %w", err)
		}
		if err := tx.MFA().DeleteMFASettings(ctx, userID); err != nil {
			return fmt.Errorf("failed to disable MFA: %w", err)
		}
		return appendAudit(ctx, tx, userID, domain.AuditMFADisabled, "mfa", nil, meta, now)
	})
	if err != nil {
		return err
	}

	slogx.FromContext(ctx).Info("mfa disabled", slog.String("user_id", userID))
	return nil
}

// Verify checks code against an enabled settings row. A TOTP code within one
// step of now passes, otherwise the code is tried as a backup code and
// consumed. lastUsedAt is updated on success.
func (s *MFAService) Verify(ctx context.Context, m domain.MFASettings, code string) (bool, error) {
	if code == "" || !m.Enabled {
		return false, nil
	}

	now := s.now()
	if !s.validTOTP(code, m.Secret, now) {
		err := s.Store.BackupCodes().ConsumeBackupCode(ctx, m.UserID, backupCodeHash(code), now)
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to consume backup code: %w", err)
		}
		slogx.FromContext(ctx).Info("backup code used", slog.String("user_id", m.UserID))
	}

	if err := s.Store.MFA().TouchMFA(ctx, m.UserID, now); err != nil {
		return false, fmt.Errorf("failed to update MFA usage: %w", err)
	}
	return true, nil
}

func (s *MFAService) validTOTP(code, secret string, at time.Time) bool {
	ok, err := totp.ValidateCustom(code, secret, at, totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

func backupCodeHash(code string) string {
	return cryptox.FingerprintToken(cryptox.NormalizeBackupCode(code))
}

func qrDataURL(key *otp.Key) (string, error) {
	img, err := key.Image(qrSize, qrSize)
	if err != nil {
		return "", fmt.Errorf("failed to render QR code: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("failed to encode QR code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
