package models

import "time"

// Setting names stored in app_settings
const (
	SettingMFA   = "mfa"
	SettingTheme = "theme"
)

// AppSetting is one named row of app_settings. Value is raw text; the mfa
// row holds a JSON encoded MfaPolicy.
type AppSetting struct {
	ID        int       `db:"id" json:"-"`
	Name      string    `db:"name" json:"name"`
	Value     string    `db:"value" json:"value"`
	CreatedAt time.Time `db:"created_at" json:"-"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// MfaPolicy is the MFA configuration stored under the "mfa" setting
type MfaPolicy struct {
	Enabled            bool                 `json:"enabled"`
	Steps              []VerificationMethod `json:"steps"`
	AllowAPIManagement bool                 `json:"allow_api_management"`
}

// DefaultMfaPolicy is the policy seeded on a fresh database
func DefaultMfaPolicy() MfaPolicy {
	return MfaPolicy{Enabled: false, Steps: []VerificationMethod{}, AllowAPIManagement: true}
}

// MfaPolicyUpdate is a partial policy; nil fields keep their stored value
type MfaPolicyUpdate struct {
	Enabled            *bool                `json:"enabled"`
	Steps              []VerificationMethod `json:"steps"`
	AllowAPIManagement *bool                `json:"allow_api_management"`
}

// Apply merges the update into p and returns the result
func (u MfaPolicyUpdate) Apply(p MfaPolicy) MfaPolicy {
	if u.Enabled != nil {
		p.Enabled = *u.Enabled
	}
	if u.Steps != nil {
		p.Steps = u.Steps
	}
	if u.AllowAPIManagement != nil {
		p.AllowAPIManagement = *u.AllowAPIManagement
	}
	return p
}
