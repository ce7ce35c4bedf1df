// Package verification implements the MFA verification methods. Each method is
// a Strategy keyed by models.VerificationMethod; app-based strategies add QR
// provisioning and backup codes, delivery-based strategies add code delivery.
// Strategies own the verification factor rows of their (user, method) pairs.
package verification

import (
	"context"
	"errors"
	"time"

	"github.com/one-account/one-account-api/internal/db/models"
)

var (
	// ErrFactorNotFound is returned when an operation needs an existing factor
	ErrFactorNotFound = errors.New("verification factor not found")
)

// Strategy is the capability set shared by every verification method
type Strategy interface {
	Method() models.VerificationMethod
	Type() models.MethodType

	// GetOrCreateSecret returns the stored secret, or generates and stores a
	// new one when none exists or forceNew is set. A forced secret
	// invalidates codes already in flight.
	GetOrCreateSecret(ctx context.Context, user *models.User, forceNew bool) (string, error)
	VerifyCode(ctx context.Context, user *models.User, code string) (bool, error)

	EnrollUser(ctx context.Context, user *models.User) error
	UnEnrollUser(ctx context.Context, user *models.User) error
	UserIsEnrolled(ctx context.Context, user *models.User) (bool, error)
}

// AppStrategy is an authenticator-app method with QR provisioning and backup codes
type AppStrategy interface {
	Strategy
	// ClaimEnrollment enrolls the user unless already enrolled. Only one of
	// any concurrent callers gets true.
	ClaimEnrollment(ctx context.Context, user *models.User) (bool, error)
	GenerateQRCode(ctx context.Context, user *models.User) (string, error)
	GenerateBackupCodes(ctx context.Context, user *models.User, count int) ([]string, error)
	VerifyBackupCode(ctx context.Context, user *models.User, code string) (bool, error)
}

// DeliveryStrategy is a method whose codes are sent over a channel
type DeliveryStrategy interface {
	Strategy
	GenerateCode(ctx context.Context, user *models.User) (string, error)
	SendCode(ctx context.Context, user *models.User) error
}

// FactorStore persists verification factors and backup codes
type FactorStore interface {
	GetFactor(ctx context.Context, userID string, method models.VerificationMethod) (*models.VerificationFactor, error)
	SaveSecret(ctx context.Context, userID string, method models.VerificationMethod, secret string, enroll bool) (*models.VerificationFactor, error)
	SetEnrolledAt(ctx context.Context, userID string, method models.VerificationMethod, at *time.Time) (bool, error)
	ClaimEnrollment(ctx context.Context, userID string, method models.VerificationMethod, at time.Time) (bool, error)
	ReplaceBackupCodes(ctx context.Context, factorID string, digests []string) error
	RedeemBackupCode(ctx context.Context, factorID, digest string) (bool, error)
}

// SecretSealer encrypts factor secrets and digests backup codes
type SecretSealer interface {
	Seal(plaintext string) (string, error)
	Open(ciphertext string) (string, error)
	Digest(value string) string
}

// CodeSink delivers a one-time code to a user
type CodeSink interface {
	SendOTP(ctx context.Context, user *models.User, code string, expiryMinutes int) error
}
