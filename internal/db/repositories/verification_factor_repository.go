// verification_factor_repository.go implements VerificationFactorRepository, which
// stores per-user verification secrets and their single-use backup codes.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/one-account/one-account-api/internal/db"
	"github.com/one-account/one-account-api/internal/db/models"
)

// VerificationFactorRepository handles verification factor and backup code operations
type VerificationFactorRepository struct {
	db *sqlx.DB
}

// NewVerificationFactorRepository creates a new VerificationFactorRepository
func NewVerificationFactorRepository(db *sqlx.DB) *VerificationFactorRepository {
	return &VerificationFactorRepository{db: db}
}

const factorColumns = `id, user_id, type, secret, enrolled_at, created_at, updated_at`

// GetFactor retrieves the user's factor for a method
func (r *VerificationFactorRepository) GetFactor(ctx context.Context, userID string, method models.VerificationMethod) (*models.VerificationFactor, error) {
	var factor models.VerificationFactor
	query := `SELECT ` + factorColumns + ` FROM verification_factors WHERE user_id = $1 AND type = $2`
	err := r.db.GetContext(ctx, &factor, query, userID, method)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &factor, nil
}

// SaveSecret creates or replaces the secret of the (user, method) factor.
// When enroll is true enrolled_at is set to now; otherwise an existing
// enrollment is kept as is.
func (r *VerificationFactorRepository) SaveSecret(ctx context.Context, userID string, method models.VerificationMethod, secret string, enroll bool) (*models.VerificationFactor, error) {
	now := time.Now()
	var enrolledAt *time.Time
	if enroll {
		enrolledAt = &now
	}

	query := `
		INSERT INTO verification_factors (id, user_id, type, secret, enrolled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (user_id, type) DO UPDATE SET
			secret = EXCLUDED.secret,
			enrolled_at = COALESCE(EXCLUDED.enrolled_at, verification_factors.enrolled_at),
			updated_at = EXCLUDED.updated_at
		RETURNING ` + factorColumns

	var factor models.VerificationFactor
	err := r.db.GetContext(ctx, &factor, query, uuid.New().String(), userID, method, secret, enrolledAt, now)
	if err != nil {
		return nil, err
	}
	return &factor, nil
}

// SetEnrolledAt sets or clears (nil) the enrollment timestamp. It reports
// false when the user has no factor for the method.
func (r *VerificationFactorRepository) SetEnrolledAt(ctx context.Context, userID string, method models.VerificationMethod, at *time.Time) (bool, error) {
	query := `UPDATE verification_factors SET enrolled_at = $1, updated_at = $2 WHERE user_id = $3 AND type = $4`
	res, err := r.db.ExecContext(ctx, query, at, time.Now(), userID, method)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ClaimEnrollment enrolls the user in method unless they already are,
// creating an empty factor when none exists. Of concurrent callers exactly one
// gets true; the rest see the enrollment already taken.
func (r *VerificationFactorRepository) ClaimEnrollment(ctx context.Context, userID string, method models.VerificationMethod, at time.Time) (bool, error) {
	query := `
		INSERT INTO verification_factors (id, user_id, type, secret, enrolled_at, created_at, updated_at)
		VALUES ($1, $2, $3, '', $4, $4, $4)
		ON CONFLICT (user_id, type) DO UPDATE SET
			enrolled_at = EXCLUDED.enrolled_at,
			updated_at = EXCLUDED.updated_at
		WHERE verification_factors.enrolled_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, uuid.New().String(), userID, method, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ReplaceBackupCodes deletes the factor's backup codes and inserts the given
// digests in one transaction.
func (r *VerificationFactorRepository) ReplaceBackupCodes(ctx context.Context, factorID string, digests []string) error {
	return db.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM vf_backup_codes WHERE verification_factor_id = $1`, factorID); err != nil {
			return err
		}

		now := time.Now()
		for _, digest := range digests {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO vf_backup_codes (id, verification_factor_id, code_digest, created_at) VALUES ($1, $2, $3, $4)`,
				uuid.New().String(), factorID, digest, now,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// RedeemBackupCode marks one unused code with the given digest as used. The
// conditional update makes redemption single-use under concurrency.
func (r *VerificationFactorRepository) RedeemBackupCode(ctx context.Context, factorID, digest string) (bool, error) {
	query := `
		UPDATE vf_backup_codes SET used_at = $1
		WHERE id = (
			SELECT id FROM vf_backup_codes
			WHERE verification_factor_id = $2 AND code_digest = $3 AND used_at IS NULL
			LIMIT 1
		) AND used_at IS NULL`

	res, err := r.db.ExecContext(ctx, query, time.Now(), factorID, digest)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
