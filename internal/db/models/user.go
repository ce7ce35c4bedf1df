// Package models defines the database model types for the account service.
// Each type corresponds to a database table. Models are pure data types plus
// small predicates; query logic belongs in the repositories layer.
package models

import "time"

// User represents an account that can authenticate
type User struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Email           string     `json:"email"`
	PasswordHash    string     `json:"-"`
	IsActive        bool       `json:"is_active"`
	Permissions     []string   `json:"permissions"` // JSONB array: ["users:update", "app_settings:update"]
	EmailVerifiedAt *time.Time `json:"email_verified_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// HasPermission reports whether the user holds the named permission
func (u *User) HasPermission(permission string) bool {
	for _, p := range u.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}
