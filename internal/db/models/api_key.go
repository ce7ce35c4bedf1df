package models

import "time"

// APIKey is a long-lived machine credential. The raw key is "{id}|{secret}";
// only the bcrypt hash of the secret half is stored.
type APIKey struct {
	ID                       string     `json:"id"`
	UserID                   string     `json:"user_id"`
	Name                     string     `json:"name"`
	Description              *string    `json:"description,omitempty"`
	KeyHash                  string     `json:"-"`
	Permissions              []string   `json:"permissions"` // JSONB array of webhook permissions
	Active                   bool       `json:"active"`
	ExpiresAt                *time.Time `json:"expires_at"` // nil means the key never expires
	LastUsedAt               *time.Time `json:"last_used_at,omitempty"`
	ExpiryNotificationSentAt *time.Time `json:"-"`
	CreatedAt                time.Time  `json:"created_at"`
	UpdatedAt                time.Time  `json:"updated_at"`
}

// IsExpired reports whether the key is past its expiry. Keys without an
// expiry never expire.
func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}

// IsUsable reports whether the key may authenticate a request at now
func (k *APIKey) IsUsable(now time.Time) bool {
	return k.Active && !k.IsExpired(now)
}

// HasPermission reports whether the key grants the named permission
func (k *APIKey) HasPermission(permission string) bool {
	for _, p := range k.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}
