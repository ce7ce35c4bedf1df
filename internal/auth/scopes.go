// Package auth - scopes.go defines the user permissions and API key (webhook)
// permissions checked by the middleware, with helpers for validating and
// checking them.
package auth

import (
	"fmt"
)

// Scope represents a user permission
type Scope string

const (
	// ScopeUsersUpdate allows managing other users, including MFA un-enrollment
	ScopeUsersUpdate Scope = "users:update"

	// ScopeAppSettingsUpdate allows changing app settings and the MFA policy
	ScopeAppSettingsUpdate Scope = "app_settings:update"

	// ScopeAPIKeysManage allows creating, editing and revoking API keys
	ScopeAPIKeysManage Scope = "api_keys:manage"

	// Admin scope (wildcard - all permissions)
	ScopeAdmin Scope = "admin"
)

// WebhookPermission is a permission carried by an API key
type WebhookPermission string

const (
	WebhookCreateTestResources WebhookPermission = "webhook_create_test_resources"
	WebhookViewTestResources   WebhookPermission = "webhook_view_test_resources"
)

// AllScopes returns all valid user scopes
func AllScopes() []Scope {
	return []Scope{
		ScopeUsersUpdate,
		ScopeAppSettingsUpdate,
		ScopeAPIKeysManage,
		ScopeAdmin,
	}
}

// AllWebhookPermissions returns all valid API key permissions
func AllWebhookPermissions() []WebhookPermission {
	return []WebhookPermission{
		WebhookCreateTestResources,
		WebhookViewTestResources,
	}
}

// ValidateScopes checks if all provided scopes are valid
func ValidateScopes(scopes []string) error {
	valid := make(map[string]bool)
	for _, scope := range AllScopes() {
		valid[string(scope)] = true
	}

	for _, scope := range scopes {
		if !valid[scope] {
			return fmt.Errorf("invalid scope: %s", scope)
		}
	}
	return nil
}

// ValidateWebhookPermissions checks if all provided API key permissions are valid
func ValidateWebhookPermissions(permissions []string) error {
	valid := make(map[string]bool)
	for _, p := range AllWebhookPermissions() {
		valid[string(p)] = true
	}

	for _, p := range permissions {
		if !valid[p] {
			return fmt.Errorf("invalid api key permission: %s", p)
		}
	}
	return nil
}

// HasScope checks if a user has a required scope
// Supports wildcard admin scope
func HasScope(userScopes []string, required Scope) bool {
	for _, scope := range userScopes {
		if scope == string(required) || scope == string(ScopeAdmin) {
			return true
		}
	}
	return false
}

// HasAllScopes checks if a user has all of the required scopes
func HasAllScopes(userScopes []string, requiredScopes []Scope) bool {
	for _, required := range requiredScopes {
		if !HasScope(userScopes, required) {
			return false
		}
	}
	return true
}
