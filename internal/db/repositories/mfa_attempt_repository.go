// mfa_attempt_repository.go implements MfaAttemptRepository. Step completion is a
// read-modify-write under SELECT ... FOR UPDATE so concurrent verifications of the
// same attempt cannot lose or double-apply a completion.
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

// MfaAttemptRepository handles MFA attempt database operations
type MfaAttemptRepository struct {
	db *sqlx.DB
}

// NewMfaAttemptRepository creates a new MfaAttemptRepository
func NewMfaAttemptRepository(db *sqlx.DB) *MfaAttemptRepository {
	return &MfaAttemptRepository{db: db}
}

const mfaAttemptColumns = `id, user_id, token_hash, steps, auth_metadata, expires_at, created_at, updated_at`

// Create inserts a new attempt and assigns its ID
func (r *MfaAttemptRepository) Create(ctx context.Context, attempt *models.MfaAttempt) error {
	attempt.ID = uuid.New().String()
	attempt.CreatedAt = time.Now()
	attempt.UpdatedAt = attempt.CreatedAt

	query := `
		INSERT INTO mfa_attempts (id, user_id, token_hash, steps, auth_metadata, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		attempt.ID, attempt.UserID, attempt.TokenHash, attempt.Steps, attempt.AuthMetadata,
		attempt.ExpiresAt, attempt.CreatedAt, attempt.UpdatedAt,
	)
	return err
}

// GetByID retrieves an attempt by ID
func (r *MfaAttemptRepository) GetByID(ctx context.Context, id string) (*models.MfaAttempt, error) {
	var attempt models.MfaAttempt
	query := `SELECT ` + mfaAttemptColumns + ` FROM mfa_attempts WHERE id = $1`
	err := r.db.GetContext(ctx, &attempt, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

// CompleteCurrentStep marks the attempt's current step completed, provided that
// step is still the named method. The step list is re-read under a row lock.
// It returns the updated attempt and whether a step was completed; false means
// the attempt is gone, already complete, or has moved past the named step.
func (r *MfaAttemptRepository) CompleteCurrentStep(ctx context.Context, id string, name models.VerificationMethod) (*models.MfaAttempt, bool, error) {
	var (
		attempt   models.MfaAttempt
		completed bool
	)

	err := db.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		query := `SELECT ` + mfaAttemptColumns + ` FROM mfa_attempts WHERE id = $1 FOR UPDATE`
		if err := tx.GetContext(ctx, &attempt, query, id); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return err
		}

		i := attempt.CurrentStepIndex()
		if i < 0 || attempt.Steps[i].Name != name {
			return nil
		}

		steps := make(models.MfaSteps, len(attempt.Steps))
		copy(steps, attempt.Steps)
		steps[i].Completed = true

		now := time.Now()
		if _, err := tx.ExecContext(ctx,
			`UPDATE mfa_attempts SET steps = $1, updated_at = $2 WHERE id = $3`,
			steps, now, id,
		); err != nil {
			return err
		}

		attempt.Steps = steps
		attempt.UpdatedAt = now
		completed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if attempt.ID == "" {
		return nil, false, nil
	}
	return &attempt, completed, nil
}

// DeleteExpired removes every attempt whose deadline has passed
func (r *MfaAttemptRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM mfa_attempts WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
