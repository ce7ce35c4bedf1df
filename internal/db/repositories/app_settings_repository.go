// app_settings_repository.go implements AppSettingsRepository for the name/value
// app_settings table. Updates lock the rows they read so concurrent partial
// updates of the same setting are serialized.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/one-account/one-account-api/internal/db"
	"github.com/one-account/one-account-api/internal/db/models"
)

// AppSettingsRepository handles app settings database operations
type AppSettingsRepository struct {
	db *sqlx.DB
}

// NewAppSettingsRepository creates a new AppSettingsRepository
func NewAppSettingsRepository(db *sqlx.DB) *AppSettingsRepository {
	return &AppSettingsRepository{db: db}
}

const appSettingColumns = `id, name, value, created_at, updated_at`

// GetAll returns every setting ordered by name
func (r *AppSettingsRepository) GetAll(ctx context.Context) ([]models.AppSetting, error) {
	var settings []models.AppSetting
	query := `SELECT ` + appSettingColumns + ` FROM app_settings ORDER BY name`
	if err := r.db.SelectContext(ctx, &settings, query); err != nil {
		return nil, err
	}
	return settings, nil
}

// Get returns a single setting by name
func (r *AppSettingsRepository) Get(ctx context.Context, name string) (*models.AppSetting, error) {
	var setting models.AppSetting
	query := `SELECT ` + appSettingColumns + ` FROM app_settings WHERE name = $1`
	err := r.db.GetContext(ctx, &setting, query, name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &setting, nil
}

// Update reads all settings under a row lock, passes their values to mutate and
// upserts whatever it returns, all in one transaction. It returns the settings
// as they stand after the update.
func (r *AppSettingsRepository) Update(ctx context.Context, mutate func(current map[string]string) (map[string]string, error)) ([]models.AppSetting, error) {
	var settings []models.AppSetting

	err := db.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var rows []models.AppSetting
		if err := tx.SelectContext(ctx, &rows, `SELECT `+appSettingColumns+` FROM app_settings ORDER BY name FOR UPDATE`); err != nil {
			return err
		}

		current := make(map[string]string, len(rows))
		for _, row := range rows {
			current[row.Name] = row.Value
		}

		changes, err := mutate(current)
		if err != nil {
			return err
		}

		now := time.Now()
		for name, value := range changes {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO app_settings (name, value, created_at, updated_at)
				VALUES ($1, $2, $3, $3)
				ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
				name, value, now,
			)
			if err != nil {
				return err
			}
		}

		return tx.SelectContext(ctx, &settings, `SELECT `+appSettingColumns+` FROM app_settings ORDER BY name`)
	})
	if err != nil {
		return nil, err
	}
	return settings, nil
}
