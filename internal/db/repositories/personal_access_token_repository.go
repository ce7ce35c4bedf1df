package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/one-account/one-account-api/internal/db/models"
)

// PersonalAccessTokenRepository handles persistent token database operations
type PersonalAccessTokenRepository struct {
	db *sqlx.DB
}

// NewPersonalAccessTokenRepository creates a new PersonalAccessTokenRepository
func NewPersonalAccessTokenRepository(db *sqlx.DB) *PersonalAccessTokenRepository {
	return &PersonalAccessTokenRepository{db: db}
}

const patColumns = `id, user_id, name, token_hash, expires_at, last_used_at, created_at, updated_at`

// Create inserts a new token and assigns its ID
func (r *PersonalAccessTokenRepository) Create(ctx context.Context, token *models.PersonalAccessToken) error {
	token.ID = uuid.New().String()
	token.CreatedAt = time.Now()
	token.UpdatedAt = token.CreatedAt

	query := `
		INSERT INTO personal_access_tokens (id, user_id, name, token_hash, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.ExecContext(ctx, query,
		token.ID, token.UserID, token.Name, token.TokenHash, token.ExpiresAt, token.CreatedAt, token.UpdatedAt,
	)
	return err
}

// GetByID retrieves a token by ID
func (r *PersonalAccessTokenRepository) GetByID(ctx context.Context, id string) (*models.PersonalAccessToken, error) {
	var token models.PersonalAccessToken
	err := r.db.GetContext(ctx, &token, `SELECT `+patColumns+` FROM personal_access_tokens WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// ListActiveForUser returns the user's unexpired tokens, newest first
func (r *PersonalAccessTokenRepository) ListActiveForUser(ctx context.Context, userID string, now time.Time) ([]models.PersonalAccessToken, error) {
	tokens := []models.PersonalAccessToken{}
	query := `
		SELECT ` + patColumns + ` FROM personal_access_tokens
		WHERE user_id = $1 AND (expires_at IS NULL OR expires_at > $2)
		ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &tokens, query, userID, now); err != nil {
		return nil, err
	}
	return tokens, nil
}

// TouchLastUsed records that the token was just used
func (r *PersonalAccessTokenRepository) TouchLastUsed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE personal_access_tokens SET last_used_at = $1 WHERE id = $2`, time.Now(), id)
	return err
}

// DeleteForUser removes the given tokens of a user, or all of them when ids is empty
func (r *PersonalAccessTokenRepository) DeleteForUser(ctx context.Context, userID string, ids []string) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if len(ids) == 0 {
		res, err = r.db.ExecContext(ctx, `DELETE FROM personal_access_tokens WHERE user_id = $1`, userID)
	} else {
		res, err = r.db.ExecContext(ctx,
			`DELETE FROM personal_access_tokens WHERE user_id = $1 AND id = ANY($2)`,
			userID, pq.Array(ids),
		)
	}
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteExpired removes tokens whose expiry has passed
func (r *PersonalAccessTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM personal_access_tokens WHERE expires_at IS NOT NULL AND expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
