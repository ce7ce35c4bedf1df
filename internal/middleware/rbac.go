// Package middleware (rbac.go) implements permission checks on top of the auth middleware.
//
// User permissions are read from the user row on every request rather than being
// embedded in the token, so a permission change takes effect on the next request
// without reissuing tokens.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/one-account/one-account-api/internal/api/apierror"
	"github.com/one-account/one-account-api/internal/auth"
)

func contextScopes(c *gin.Context) ([]string, bool) {
	v, exists := c.Get(ContextScopes)
	if !exists {
		return nil, false
	}
	scopes, ok := v.([]string)
	return scopes, ok
}

// RequireScope checks if authenticated user has the required scope
func RequireScope(scope auth.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		userScopes, ok := contextScopes(c)
		if !ok {
			apierror.Forbidden(c, "Insufficient permissions")
			return
		}

		if !auth.HasScope(userScopes, scope) {
			apierror.Forbidden(c, "Missing required permission: "+string(scope))
			return
		}

		c.Next()
	}
}

// RequireAllScopes checks if authenticated user has all of the required scopes
func RequireAllScopes(scopes ...auth.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		userScopes, ok := contextScopes(c)
		if !ok || !auth.HasAllScopes(userScopes, scopes) {
			apierror.Forbidden(c, "Missing one or more required permissions")
			return
		}

		c.Next()
	}
}

// RequireScheme restricts a route to tokens of one scheme. Token management
// only makes sense for stored tokens, so those routes reject JWTs.
func RequireScheme(scheme auth.Scheme) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := CurrentPrincipal(c)
		if !ok || p.Scheme != scheme {
			apierror.Forbidden(c, "This operation requires a "+string(scheme)+" token")
			return
		}

		c.Next()
	}
}

// RequireAPIKeyPermission checks the permission list of the key set by APIKeyAuth
func RequireAPIKeyPermission(permission auth.WebhookPermission) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := CurrentAPIKey(c)
		if !ok {
			apierror.Unauthorized(c)
			return
		}

		if !key.HasPermission(string(permission)) {
			apierror.Forbidden(c, "API key lacks permission: "+string(permission))
			return
		}

		c.Next()
	}
}
