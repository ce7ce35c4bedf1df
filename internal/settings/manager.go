// Package settings owns the named application settings, in particular the
// MFA policy stored under "mfa". Writes go through one atomic read-merge-write
// so concurrent admin edits cannot lose each other's fields.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/one-account/one-account-api/internal/db/models"
)

var (
	// ErrInvalidPolicy is returned for an MFA policy that fails validation
	ErrInvalidPolicy = errors.New("invalid mfa policy")
	// ErrUnknownSetting is returned for an unsupported setting value
	ErrUnknownSetting = errors.New("unknown setting")
	// ErrManagementDisabled is returned when the stored policy forbids API changes to MFA
	ErrManagementDisabled = errors.New("mfa configuration is disabled")
)

// Themes accepted for the theme setting
var Themes = []string{"light", "dark"}

// Store is the persistence the manager needs
type Store interface {
	GetAll(ctx context.Context) ([]models.AppSetting, error)
	Get(ctx context.Context, name string) (*models.AppSetting, error)
	Update(ctx context.Context, mutate func(current map[string]string) (map[string]string, error)) ([]models.AppSetting, error)
}

// MethodSet reports which verification methods are registered
type MethodSet interface {
	Has(method models.VerificationMethod) bool
}

// PolicySource is the read side used by login and the MFA endpoints
type PolicySource interface {
	GetMfaConfig(ctx context.Context) (models.MfaPolicy, error)
}

// Update is a partial settings write; nil fields are left untouched
type Update struct {
	Theme *string                 `json:"theme"`
	MFA   *models.MfaPolicyUpdate `json:"mfa"`
}

// Manager reads and writes application settings
type Manager struct {
	store   Store
	methods MethodSet
}

// NewManager creates a Manager. methods validates policy steps.
func NewManager(store Store, methods MethodSet) *Manager {
	return &Manager{store: store, methods: methods}
}

// GetSettings returns every stored setting
func (m *Manager) GetSettings(ctx context.Context) ([]models.AppSetting, error) {
	return m.store.GetAll(ctx)
}

// GetTheme returns the stored theme, "light" if unset
func (m *Manager) GetTheme(ctx context.Context) (string, error) {
	s, err := m.store.Get(ctx, models.SettingTheme)
	if err != nil {
		return "", err
	}
	if s == nil {
		return Themes[0], nil
	}
	return s.Value, nil
}

// GetMfaConfig returns the stored MFA policy, or the default one if none is stored
func (m *Manager) GetMfaConfig(ctx context.Context) (models.MfaPolicy, error) {
	s, err := m.store.Get(ctx, models.SettingMFA)
	if err != nil {
		return models.MfaPolicy{}, err
	}
	if s == nil {
		return models.DefaultMfaPolicy(), nil
	}
	return decodePolicy(s.Value)
}

// SetMfaConfig replaces the whole MFA policy. Steps are deduplicated keeping
// first-seen order. It does not consult allow_api_management; it is meant for
// operators.
func (m *Manager) SetMfaConfig(ctx context.Context, policy models.MfaPolicy) (models.MfaPolicy, error) {
	policy.Steps = dedupe(policy.Steps)
	if err := m.validate(policy); err != nil {
		return models.MfaPolicy{}, err
	}
	encoded, err := json.Marshal(policy)
	if err != nil {
		return models.MfaPolicy{}, err
	}

	_, err = m.store.Update(ctx, func(map[string]string) (map[string]string, error) {
		return map[string]string{models.SettingMFA: string(encoded)}, nil
	})
	if err != nil {
		return models.MfaPolicy{}, err
	}
	return policy, nil
}

// SetSettings applies u atomically and returns all settings. Omitted MFA
// fields keep their stored values. When u touches MFA and the stored policy
// has allow_api_management=false, nothing is written.
func (m *Manager) SetSettings(ctx context.Context, u Update) ([]models.AppSetting, error) {
	if u.Theme != nil && !validTheme(*u.Theme) {
		return nil, fmt.Errorf("%w: theme %q", ErrUnknownSetting, *u.Theme)
	}
	if u.MFA != nil && u.MFA.Steps != nil {
		if len(u.MFA.Steps) == 0 {
			return nil, fmt.Errorf("%w: steps must list at least one method", ErrInvalidPolicy)
		}
		if len(dedupe(u.MFA.Steps)) != len(u.MFA.Steps) {
			return nil, fmt.Errorf("%w: steps must be distinct", ErrInvalidPolicy)
		}
	}

	return m.store.Update(ctx, func(current map[string]string) (map[string]string, error) {
		changes := make(map[string]string, 2)
		if u.Theme != nil {
			changes[models.SettingTheme] = *u.Theme
		}
		if u.MFA != nil {
			stored := models.DefaultMfaPolicy()
			if raw, ok := current[models.SettingMFA]; ok {
				p, err := decodePolicy(raw)
				if err != nil {
					return nil, err
				}
				stored = p
			}
			if !stored.AllowAPIManagement {
				return nil, ErrManagementDisabled
			}

			merged := u.MFA.Apply(stored)
			merged.Steps = dedupe(merged.Steps)
			if err := m.validate(merged); err != nil {
				return nil, err
			}
			encoded, err := json.Marshal(merged)
			if err != nil {
				return nil, err
			}
			changes[models.SettingMFA] = string(encoded)
		}
		return changes, nil
	})
}

// validate checks that every step is registered and that an enabled policy has steps
func (m *Manager) validate(p models.MfaPolicy) error {
	for _, step := range p.Steps {
		if !m.methods.Has(step) {
			return fmt.Errorf("%w: unknown method %q", ErrInvalidPolicy, step)
		}
	}
	if p.Enabled && len(p.Steps) == 0 {
		return fmt.Errorf("%w: an enabled policy needs at least one step", ErrInvalidPolicy)
	}
	return nil
}

func decodePolicy(raw string) (models.MfaPolicy, error) {
	p := models.DefaultMfaPolicy()
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return models.MfaPolicy{}, fmt.Errorf("stored mfa policy is corrupt: %w", err)
	}
	if p.Steps == nil {
		p.Steps = []models.VerificationMethod{}
	}
	return p, nil
}

func dedupe(steps []models.VerificationMethod) []models.VerificationMethod {
	seen := make(map[models.VerificationMethod]bool, len(steps))
	out := make([]models.VerificationMethod, 0, len(steps))
	for _, s := range steps {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func validTheme(theme string) bool {
	for _, t := range Themes {
		if t == theme {
			return true
		}
	}
	return false
}
