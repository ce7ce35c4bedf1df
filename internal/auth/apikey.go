package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/one-account/one-account-api/internal/db/models"
	"github.com/one-account/one-account-api/internal/telemetry"
)

var (
	// ErrAPIKeyNotFound is returned when a key id does not exist
	ErrAPIKeyNotFound = errors.New("api key not found")
	// ErrInvalidAPIKeyInput is returned for a create or update request that fails validation
	ErrInvalidAPIKeyInput = errors.New("invalid api key input")
)

// APIKeyStore is the storage behind APIKeyManager
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, apiKey *models.APIKey) error
	GetAPIKeyByID(ctx context.Context, keyID string) (*models.APIKey, error)
	ListAPIKeysByUser(ctx context.Context, userID string) ([]*models.APIKey, error)
	ListAll(ctx context.Context) ([]*models.APIKey, error)
	UpdateDetails(ctx context.Context, keyID, name string, description *string) (bool, error)
	SetActive(ctx context.Context, keyID string, active bool) (bool, error)
	Delete(ctx context.Context, keyID string) (bool, error)
	UpdateLastUsed(ctx context.Context, keyID string) error
}

// CreateAPIKeyInput describes a new key
type CreateAPIKeyInput struct {
	UserID      string
	Name        string
	Description *string
	ExpiresAt   *time.Time // nil = never expires
	Permissions []string
}

// APIKeyManager applies the composite token scheme to long-lived machine credentials
type APIKeyManager struct {
	keys       APIKeyStore
	bcryptCost int
	now        func() time.Time
}

// NewAPIKeyManager creates an APIKeyManager
func NewAPIKeyManager(keys APIKeyStore, bcryptCost int) *APIKeyManager {
	return &APIKeyManager{keys: keys, bcryptCost: bcryptCost, now: time.Now}
}

// Create stores a new key and returns it with the raw "{id}|{secret}" value.
// The raw value cannot be recovered later.
func (m *APIKeyManager) Create(ctx context.Context, in CreateAPIKeyInput) (*models.APIKey, string, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, "", fmt.Errorf("%w: name is required", ErrInvalidAPIKeyInput)
	}
	if in.UserID == "" {
		return nil, "", fmt.Errorf("%w: owner is required", ErrInvalidAPIKeyInput)
	}
	if err := ValidateWebhookPermissions(in.Permissions); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidAPIKeyInput, err)
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(m.now()) {
		return nil, "", fmt.Errorf("%w: expiry must be in the future", ErrInvalidAPIKeyInput)
	}

	secret, hash, err := NewSecret(m.bcryptCost)
	if err != nil {
		return nil, "", err
	}

	key := &models.APIKey{
		UserID:      in.UserID,
		Name:        name,
		Description: in.Description,
		KeyHash:     hash,
		Permissions: in.Permissions,
		Active:      true,
		ExpiresAt:   in.ExpiresAt,
	}
	if err := m.keys.CreateAPIKey(ctx, key); err != nil {
		return nil, "", fmt.Errorf("failed to store api key: %w", err)
	}

	return key, CompositeToken{ID: key.ID, Secret: secret}.String(), nil
}

// Get returns a key by id
func (m *APIKeyManager) Get(ctx context.Context, id string) (*models.APIKey, error) {
	key, err := m.keys.GetAPIKeyByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, ErrAPIKeyNotFound
	}
	return key, nil
}

// List returns the keys of userID, or every key when userID is empty
func (m *APIKeyManager) List(ctx context.Context, userID string) ([]*models.APIKey, error) {
	if userID == "" {
		return m.keys.ListAll(ctx)
	}
	return m.keys.ListAPIKeysByUser(ctx, userID)
}

// Update changes a key's name and description
func (m *APIKeyManager) Update(ctx context.Context, id, name string, description *string) (*models.APIKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidAPIKeyInput)
	}
	found, err := m.keys.UpdateDetails(ctx, id, name, description)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrAPIKeyNotFound
	}
	return m.Get(ctx, id)
}

// SetActive enables or disables a key
func (m *APIKeyManager) SetActive(ctx context.Context, id string, active bool) (*models.APIKey, error) {
	found, err := m.keys.SetActive(ctx, id, active)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrAPIKeyNotFound
	}
	return m.Get(ctx, id)
}

// Destroy deletes a key
func (m *APIKeyManager) Destroy(ctx context.Context, id string) error {
	found, err := m.keys.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return ErrAPIKeyNotFound
	}
	return nil
}

// Validate resolves a raw key. Malformed, unknown, mismatched, inactive and
// expired keys all yield ErrInvalidToken.
func (m *APIKeyManager) Validate(ctx context.Context, raw string) (*models.APIKey, error) {
	parsed, err := ParseCompositeToken(raw)
	if err != nil || !IsLookupID(parsed.ID) {
		telemetry.APIKeyValidationsTotal.WithLabelValues(telemetry.ResultRejected).Inc()
		return nil, ErrInvalidToken
	}

	key, err := m.keys.GetAPIKeyByID(ctx, parsed.ID)
	if err != nil {
		return nil, err
	}
	if key == nil || !CompareSecret(key.KeyHash, parsed.Secret) || !key.IsUsable(m.now()) {
		telemetry.APIKeyValidationsTotal.WithLabelValues(telemetry.ResultRejected).Inc()
		return nil, ErrInvalidToken
	}

	if err := m.keys.UpdateLastUsed(ctx, key.ID); err != nil {
		slog.Warn("failed to record api key use", "api_key_id", key.ID, "error", err)
	}
	telemetry.APIKeyValidationsTotal.WithLabelValues(telemetry.ResultSuccess).Inc()
	return key, nil
}
