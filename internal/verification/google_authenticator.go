package verification

import (
	"bytes"
	"context"
	"encoding/base32"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/one-account/one-account-api/internal/auth"
	"github.com/one-account/one-account-api/internal/db/models"
	"github.com/one-account/one-account-api/internal/telemetry"
)

// totpOpts are the authenticator app parameters (RFC 6238 defaults)
var totpOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// GoogleAuthenticatorConfig configures the authenticator app method
type GoogleAuthenticatorConfig struct {
	Issuer           string
	QRSize           int
	BackupCodeLength int
}

// GoogleAuthenticator is the app-based TOTP method
type GoogleAuthenticator struct {
	factorBase
	cfg GoogleAuthenticatorConfig
}

// NewGoogleAuthenticator creates the authenticator app strategy
func NewGoogleAuthenticator(factors FactorStore, sealer SecretSealer, cfg GoogleAuthenticatorConfig) *GoogleAuthenticator {
	if cfg.QRSize <= 0 {
		cfg.QRSize = 200
	}
	if cfg.BackupCodeLength <= 0 {
		cfg.BackupCodeLength = 12
	}
	return &GoogleAuthenticator{
		factorBase: factorBase{
			method:  models.MethodGoogleAuthenticator,
			factors: factors,
			sealer:  sealer,
			now:     time.Now,
		},
		cfg: cfg,
	}
}

// Type implements Strategy
func (g *GoogleAuthenticator) Type() models.MethodType { return models.MethodTypeApp }

// GetOrCreateSecret implements Strategy. A new secret replaces the old one
// but keeps the enrollment state.
func (g *GoogleAuthenticator) GetOrCreateSecret(ctx context.Context, user *models.User, forceNew bool) (string, error) {
	return g.getOrCreateSecret(ctx, user, forceNew, false, func() (string, error) {
		key, err := g.key(user, nil)
		if err != nil {
			return "", err
		}
		return key.Secret(), nil
	})
}

// VerifyCode implements Strategy. Codes are checked against the current TOTP
// window with one step of skew; there is no used-code ledger.
func (g *GoogleAuthenticator) VerifyCode(ctx context.Context, user *models.User, code string) (bool, error) {
	secret, err := g.GetOrCreateSecret(ctx, user, false)
	if err != nil {
		return false, err
	}
	return validateTOTP(code, secret, g.now(), totpOpts)
}

// GenerateQRCode returns the provisioning QR code as a PNG data URI
func (g *GoogleAuthenticator) GenerateQRCode(ctx context.Context, user *models.User) (string, error) {
	secret, err := g.GetOrCreateSecret(ctx, user, false)
	if err != nil {
		return "", err
	}

	raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("stored secret is not base32: %w", err)
	}
	key, err := g.key(user, raw)
	if err != nil {
		return "", err
	}

	img, err := key.Image(g.cfg.QRSize, g.cfg.QRSize)
	if err != nil {
		return "", fmt.Errorf("failed to render qr code: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("failed to encode qr code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// GenerateBackupCodes replaces the factor's backup codes with count new ones
// and returns them in plaintext. Only digests are stored.
func (g *GoogleAuthenticator) GenerateBackupCodes(ctx context.Context, user *models.User, count int) ([]string, error) {
	if count <= 0 {
		count = 10
	}

	factor, err := g.factors.GetFactor(ctx, user.ID, g.method)
	if err != nil {
		return nil, err
	}
	if factor == nil {
		return nil, ErrFactorNotFound
	}

	codes := make([]string, count)
	digests := make([]string, count)
	for i := range codes {
		code, err := auth.RandomString(g.cfg.BackupCodeLength)
		if err != nil {
			return nil, err
		}
		codes[i] = code
		digests[i] = g.sealer.Digest(code)
	}

	if err := g.factors.ReplaceBackupCodes(ctx, factor.ID, digests); err != nil {
		return nil, fmt.Errorf("failed to store backup codes: %w", err)
	}
	return codes, nil
}

// VerifyBackupCode redeems an unused backup code. A code validates at most once.
func (g *GoogleAuthenticator) VerifyBackupCode(ctx context.Context, user *models.User, code string) (bool, error) {
	factor, err := g.factors.GetFactor(ctx, user.ID, g.method)
	if err != nil {
		return false, err
	}
	if factor == nil || code == "" {
		telemetry.MfaBackupCodeRedemptionsTotal.WithLabelValues(telemetry.ResultFailure).Inc()
		return false, nil
	}

	ok, err := g.factors.RedeemBackupCode(ctx, factor.ID, g.sealer.Digest(code))
	if err != nil {
		telemetry.MfaBackupCodeRedemptionsTotal.WithLabelValues(telemetry.ResultError).Inc()
		return false, fmt.Errorf("failed to redeem backup code: %w", err)
	}
	if ok {
		telemetry.MfaBackupCodeRedemptionsTotal.WithLabelValues(telemetry.ResultSuccess).Inc()
	} else {
		telemetry.MfaBackupCodeRedemptionsTotal.WithLabelValues(telemetry.ResultFailure).Inc()
	}
	return ok, nil
}

// key builds the otpauth key for user; a nil secret generates a fresh one
func (g *GoogleAuthenticator) key(user *models.User, secret []byte) (*otp.Key, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      g.cfg.Issuer,
		AccountName: user.Email,
		Period:      totpOpts.Period,
		SecretSize:  20,
		Secret:      secret,
		Digits:      totpOpts.Digits,
		Algorithm:   totpOpts.Algorithm,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate totp key: %w", err)
	}
	return key, nil
}

// validateTOTP treats a code of the wrong length as a mismatch rather than a fault
func validateTOTP(code, secret string, at time.Time, opts totp.ValidateOpts) (bool, error) {
	ok, err := totp.ValidateCustom(code, secret, at, opts)
	if errors.Is(err, otp.ErrValidateInputInvalidLength) {
		return false, nil
	}
	return ok, err
}
