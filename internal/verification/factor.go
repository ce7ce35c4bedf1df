package verification

import (
	"context"
	"fmt"
	"time"

	"github.com/one-account/one-account-api/internal/db/models"
)

// factorBase implements enrollment and secret storage for one method
type factorBase struct {
	method  models.VerificationMethod
	factors FactorStore
	sealer  SecretSealer
	now     func() time.Time
}

// Method implements Strategy
func (b *factorBase) Method() models.VerificationMethod { return b.method }

// EnrollUser marks the user's factor as enrolled. The factor must exist.
func (b *factorBase) EnrollUser(ctx context.Context, user *models.User) error {
	now := b.now()
	found, err := b.factors.SetEnrolledAt(ctx, user.ID, b.method, &now)
	if err != nil {
		return fmt.Errorf("failed to enroll user: %w", err)
	}
	if !found {
		return ErrFactorNotFound
	}
	return nil
}

// ClaimEnrollment enrolls the user only if they are not enrolled yet
func (b *factorBase) ClaimEnrollment(ctx context.Context, user *models.User) (bool, error) {
	won, err := b.factors.ClaimEnrollment(ctx, user.ID, b.method, b.now())
	if err != nil {
		return false, fmt.Errorf("failed to enroll user: %w", err)
	}
	return won, nil
}

// UnEnrollUser clears the enrollment. A missing factor is left as is.
func (b *factorBase) UnEnrollUser(ctx context.Context, user *models.User) error {
	if _, err := b.factors.SetEnrolledAt(ctx, user.ID, b.method, nil); err != nil {
		return fmt.Errorf("failed to un-enroll user: %w", err)
	}
	return nil
}

// UserIsEnrolled reports whether the user acknowledged this method
func (b *factorBase) UserIsEnrolled(ctx context.Context, user *models.User) (bool, error) {
	factor, err := b.factors.GetFactor(ctx, user.ID, b.method)
	if err != nil {
		return false, err
	}
	return factor.IsEnrolled(), nil
}

// getOrCreateSecret returns the stored secret unless forceNew, otherwise stores
// the secret produced by generate.
func (b *factorBase) getOrCreateSecret(ctx context.Context, user *models.User, forceNew, enroll bool, generate func() (string, error)) (string, error) {
	if !forceNew {
		factor, err := b.factors.GetFactor(ctx, user.ID, b.method)
		if err != nil {
			return "", err
		}
		if factor != nil && factor.Secret != "" {
			secret, err := b.sealer.Open(factor.Secret)
			if err != nil {
				return "", fmt.Errorf("failed to decrypt %s secret: %w", b.method, err)
			}
			return secret, nil
		}
	}

	secret, err := generate()
	if err != nil {
		return "", err
	}

	sealed, err := b.sealer.Seal(secret)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt %s secret: %w", b.method, err)
	}
	if _, err := b.factors.SaveSecret(ctx, user.ID, b.method, sealed, enroll); err != nil {
		return "", fmt.Errorf("failed to store %s secret: %w", b.method, err)
	}
	return secret, nil
}
