package verification

import (
	"context"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/one-account/one-account-api/internal/db/models"
	"github.com/one-account/one-account-api/internal/telemetry"
)

// EmailChannel is the delivery-based method: a TOTP code whose period is the
// code expiry, mailed to the user.
type EmailChannel struct {
	factorBase
	sink   CodeSink
	issuer string
	opts   totp.ValidateOpts
}

// NewEmailChannel creates the email strategy. expiry is the code period; a sent
// code is valid only inside the window it was issued in, never longer than expiry.
func NewEmailChannel(factors FactorStore, sealer SecretSealer, sink CodeSink, issuer string, expiry time.Duration) *EmailChannel {
	if expiry < time.Minute {
		expiry = 15 * time.Minute
	}
	return &EmailChannel{
		factorBase: factorBase{
			method:  models.MethodEmailChannel,
			factors: factors,
			sealer:  sealer,
			now:     time.Now,
		},
		sink:   sink,
		issuer: issuer,
		opts: totp.ValidateOpts{
			Period:    uint(expiry / time.Second),
			Skew:      0,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		},
	}
}

// Type implements Strategy
func (e *EmailChannel) Type() models.MethodType { return models.MethodTypeDelivery }

// ExpiryMinutes is the code lifetime reported to the user
func (e *EmailChannel) ExpiryMinutes() int {
	return int(e.opts.Period / 60)
}

// GetOrCreateSecret implements Strategy. Creating a secret enrolls the user.
func (e *EmailChannel) GetOrCreateSecret(ctx context.Context, user *models.User, forceNew bool) (string, error) {
	return e.getOrCreateSecret(ctx, user, forceNew, true, func() (string, error) {
		key, err := totp.Generate(totp.GenerateOpts{
			Issuer:      e.issuer,
			AccountName: user.Email,
			Period:      e.opts.Period,
			Digits:      e.opts.Digits,
			Algorithm:   e.opts.Algorithm,
		})
		if err != nil {
			return "", fmt.Errorf("failed to generate email secret: %w", err)
		}
		return key.Secret(), nil
	})
}

// GenerateCode returns the code for the current window
func (e *EmailChannel) GenerateCode(ctx context.Context, user *models.User) (string, error) {
	secret, err := e.GetOrCreateSecret(ctx, user, false)
	if err != nil {
		return "", err
	}
	code, err := totp.GenerateCodeCustom(secret, e.now(), e.opts)
	if err != nil {
		return "", fmt.Errorf("failed to generate email code: %w", err)
	}
	return code, nil
}

// SendCode generates a code and hands it to the sink
func (e *EmailChannel) SendCode(ctx context.Context, user *models.User) error {
	code, err := e.GenerateCode(ctx, user)
	if err != nil {
		telemetry.MfaCodesSentTotal.WithLabelValues(string(e.method), telemetry.ResultError).Inc()
		return err
	}
	if err := e.sink.SendOTP(ctx, user, code, e.ExpiryMinutes()); err != nil {
		telemetry.MfaCodesSentTotal.WithLabelValues(string(e.method), telemetry.ResultError).Inc()
		return fmt.Errorf("failed to deliver email code: %w", err)
	}
	telemetry.MfaCodesSentTotal.WithLabelValues(string(e.method), telemetry.ResultSuccess).Inc()
	return nil
}

// VerifyCode implements Strategy
func (e *EmailChannel) VerifyCode(ctx context.Context, user *models.User, code string) (bool, error) {
	secret, err := e.GetOrCreateSecret(ctx, user, false)
	if err != nil {
		return false, err
	}
	return validateTOTP(code, secret, e.now(), e.opts)
}
