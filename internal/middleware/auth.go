// Package middleware provides Gin HTTP middleware for authentication, authorization,
// rate limiting, security headers, and audit logging.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Security → RateLimit → Auth → Scope/Permission → Audit → Handler
//
// Security headers run first so they appear on all responses including errors.
// Rate limiting runs before auth to block brute-force attacks before any DB work.
// Auth populates the principal and scopes; the scope checks read from that context.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/one-account/one-account-api/internal/api/apierror"
	"github.com/one-account/one-account-api/internal/auth"
	"github.com/one-account/one-account-api/internal/db/models"
)

// Context keys set by the auth middleware
const (
	ContextUser      = "user"
	ContextUserID    = "user_id"
	ContextPrincipal = "principal"
	ContextScopes    = "scopes"
	ContextAPIKey    = "api_key"
	ContextAPIKeyID  = "api_key_id"
	ContextAuthVia   = "auth_method"
)

// BearerAuthenticator resolves a bearer credential to a principal.
// *auth.TokenChain satisfies it.
type BearerAuthenticator interface {
	Authenticate(ctx context.Context, raw string) (*auth.Principal, error)
}

// APIKeyValidator resolves a raw API key. *auth.APIKeyManager satisfies it.
type APIKeyValidator interface {
	Validate(ctx context.Context, raw string) (*models.APIKey, error)
}

// TokenAuth requires a bearer token accepted by one of the configured schemes
func TokenAuth(authenticator BearerAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.ExtractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			apierror.Unauthorized(c)
			return
		}

		principal, err := authenticator.Authenticate(c.Request.Context(), token)
		if errors.Is(err, auth.ErrInvalidToken) {
			apierror.Unauthorized(c)
			return
		}
		if err != nil {
			slog.Error("bearer authentication failed", "error", err)
			apierror.Server(c)
			return
		}
		if principal.User == nil || !principal.User.IsActive {
			apierror.Unauthorized(c)
			return
		}

		c.Set(ContextPrincipal, principal)
		c.Set(ContextUser, principal.User)
		c.Set(ContextUserID, principal.User.ID)
		c.Set(ContextScopes, principal.User.Permissions)
		c.Set(ContextAuthVia, string(principal.Scheme))

		c.Next()
	}
}

// APIKeyAuth requires a valid, active, unexpired API key in header
func APIKeyAuth(validator APIKeyValidator, header string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(header))
		if raw == "" {
			apierror.Unauthorized(c)
			return
		}

		key, err := validator.Validate(c.Request.Context(), raw)
		if errors.Is(err, auth.ErrInvalidToken) {
			apierror.Unauthorized(c)
			return
		}
		if err != nil {
			slog.Error("api key validation failed", "error", err)
			apierror.Server(c)
			return
		}

		c.Set(ContextAPIKey, key)
		c.Set(ContextAPIKeyID, key.ID)
		c.Set(ContextAuthVia, "api_key")

		c.Next()
	}
}

// CurrentPrincipal returns the principal set by TokenAuth
func CurrentPrincipal(c *gin.Context) (*auth.Principal, bool) {
	v, ok := c.Get(ContextPrincipal)
	if !ok {
		return nil, false
	}
	p, ok := v.(*auth.Principal)
	return p, ok
}

// CurrentUser returns the authenticated user set by TokenAuth
func CurrentUser(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(ContextUser)
	if !ok {
		return nil, false
	}
	u, ok := v.(*models.User)
	return u, ok
}

// CurrentAPIKey returns the key set by APIKeyAuth
func CurrentAPIKey(c *gin.Context) (*models.APIKey, bool) {
	v, ok := c.Get(ContextAPIKey)
	if !ok {
		return nil, false
	}
	k, ok := v.(*models.APIKey)
	return k, ok
}
