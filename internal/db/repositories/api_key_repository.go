// api_key_repository.go implements APIKeyRepository, providing database queries for API key
// lookup by id, creation, activation, expiry management, and last-used timestamp updates.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/one-account/one-account-api/internal/db/models"
)

// APIKeyRepository handles API key database operations
type APIKeyRepository struct {
	db *sql.DB
}

// NewAPIKeyRepository creates a new APIKeyRepository
func NewAPIKeyRepository(db *sql.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

const apiKeyColumns = `id, user_id, name, description, key_hash, permissions, active, expires_at, last_used_at, created_at, updated_at`

func scanAPIKey(row rowScanner) (*models.APIKey, error) {
	apiKey := &models.APIKey{}
	var permissionsJSON []byte

	err := row.Scan(
		&apiKey.ID,
		&apiKey.UserID,
		&apiKey.Name,
		&apiKey.Description,
		&apiKey.KeyHash,
		&permissionsJSON,
		&apiKey.Active,
		&apiKey.ExpiresAt,
		&apiKey.LastUsedAt,
		&apiKey.CreatedAt,
		&apiKey.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	apiKey.Permissions = []string{}
	if len(permissionsJSON) > 0 {
		if err := json.Unmarshal(permissionsJSON, &apiKey.Permissions); err != nil {
			return nil, err
		}
	}
	return apiKey, nil
}

func (r *APIKeyRepository) queryAPIKeys(ctx context.Context, query string, args ...interface{}) ([]*models.APIKey, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	apiKeys := make([]*models.APIKey, 0)
	for rows.Next() {
		apiKey, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		apiKeys = append(apiKeys, apiKey)
	}
	return apiKeys, rows.Err()
}

// CreateAPIKey inserts a new API key and assigns its ID
func (r *APIKeyRepository) CreateAPIKey(ctx context.Context, apiKey *models.APIKey) error {
	apiKey.ID = uuid.New().String()
	apiKey.CreatedAt = time.Now()
	apiKey.UpdatedAt = apiKey.CreatedAt
	if apiKey.Permissions == nil {
		apiKey.Permissions = []string{}
	}

	permissionsJSON, err := json.Marshal(apiKey.Permissions)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO api_keys (id, user_id, name, description, key_hash, permissions, active, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.db.ExecContext(ctx, query,
		apiKey.ID,
		apiKey.UserID,
		apiKey.Name,
		apiKey.Description,
		apiKey.KeyHash,
		permissionsJSON,
		apiKey.Active,
		apiKey.ExpiresAt,
		apiKey.CreatedAt,
		apiKey.UpdatedAt,
	)

	return err
}

// GetAPIKeyByID retrieves an API key by ID
func (r *APIKeyRepository) GetAPIKeyByID(ctx context.Context, keyID string) (*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE id = $1`

	apiKey, err := scanAPIKey(r.db.QueryRowContext(ctx, query, keyID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return apiKey, nil
}

// ListAPIKeysByUser retrieves all API keys owned by a user
func (r *APIKeyRepository) ListAPIKeysByUser(ctx context.Context, userID string) ([]*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE user_id = $1 ORDER BY created_at DESC`
	return r.queryAPIKeys(ctx, query, userID)
}

// ListAll retrieves every API key
func (r *APIKeyRepository) ListAll(ctx context.Context) ([]*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys ORDER BY created_at DESC`
	return r.queryAPIKeys(ctx, query)
}

// UpdateDetails updates an API key's name and description
func (r *APIKeyRepository) UpdateDetails(ctx context.Context, keyID, name string, description *string) (bool, error) {
	query := `UPDATE api_keys SET name = $2, description = $3, updated_at = $4 WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, keyID, name, description, time.Now())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetActive toggles whether a key may authenticate
func (r *APIKeyRepository) SetActive(ctx context.Context, keyID string, active bool) (bool, error) {
	query := `UPDATE api_keys SET active = $2, updated_at = $3 WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, keyID, active, time.Now())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Delete removes an API key
func (r *APIKeyRepository) Delete(ctx context.Context, keyID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, keyID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// UpdateLastUsed updates the last_used_at timestamp for an API key
func (r *APIKeyRepository) UpdateLastUsed(ctx context.Context, keyID string) error {
	query := `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, keyID, time.Now())
	return err
}

// FindExpiringKeys returns active API keys that will expire within warningDays days
// and have not yet had a notification email sent. Keys without an expiry never
// expire and are never returned.
func (r *APIKeyRepository) FindExpiringKeys(ctx context.Context, warningDays int) ([]*models.APIKey, error) {
	cutoff := time.Now().Add(time.Duration(warningDays) * 24 * time.Hour)
	query := `
		SELECT ` + apiKeyColumns + `
		FROM api_keys
		WHERE expires_at IS NOT NULL
		  AND expires_at > NOW()
		  AND expires_at <= $1
		  AND active = TRUE
		  AND expiry_notification_sent_at IS NULL
		ORDER BY expires_at ASC
	`
	return r.queryAPIKeys(ctx, query, cutoff)
}

// MarkExpiryNotificationSent records that the expiry warning email was sent for a key,
// preventing duplicate emails on subsequent job runs.
func (r *APIKeyRepository) MarkExpiryNotificationSent(ctx context.Context, keyID string) error {
	query := `UPDATE api_keys SET expiry_notification_sent_at = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, time.Now(), keyID)
	return err
}
