package models

import "time"

// VerificationMethod identifies a verification strategy
type VerificationMethod string

const (
	MethodGoogleAuthenticator VerificationMethod = "google_authenticator"
	MethodEmailChannel        VerificationMethod = "email_channel"
)

// MethodType distinguishes app-based methods (authenticator apps with QR
// provisioning and backup codes) from delivery-based ones (codes sent over a
// channel).
type MethodType string

const (
	MethodTypeApp      MethodType = "app"
	MethodTypeDelivery MethodType = "delivery"
)

// VerificationFactor is a user's enrollment state and secret for one method.
// Secret holds ciphertext; it is never stored in plaintext.
type VerificationFactor struct {
	ID         string             `db:"id" json:"id"`
	UserID     string             `db:"user_id" json:"user_id"`
	Type       VerificationMethod `db:"type" json:"type"`
	Secret     string             `db:"secret" json:"-"`
	EnrolledAt *time.Time         `db:"enrolled_at" json:"enrolled_at"`
	CreatedAt  time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time          `db:"updated_at" json:"updated_at"`
}

// IsEnrolled reports whether the user acknowledged this factor
func (f *VerificationFactor) IsEnrolled() bool {
	return f != nil && f.EnrolledAt != nil
}

// VfBackupCode is a single-use recovery code. CodeDigest is a keyed digest of
// the code; the plaintext is only ever returned once at generation time.
type VfBackupCode struct {
	ID                   string     `db:"id"`
	VerificationFactorID string     `db:"verification_factor_id"`
	CodeDigest           string     `db:"code_digest"`
	UsedAt               *time.Time `db:"used_at"`
	CreatedAt            time.Time  `db:"created_at"`
}
