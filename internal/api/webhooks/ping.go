// Package webhooks serves the routes machine clients call with an API key
// instead of a user bearer token. The API key middleware runs before these
// handlers; they read the authenticated key from the request context.
package webhooks

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/one-account/one-account-api/internal/api/apierror"
	"github.com/one-account/one-account-api/internal/middleware"
)

// RequireEnabled rejects every webhook request when webhooks are switched off
func RequireEnabled(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled {
			apierror.Forbidden(c, "Webhooks are disabled for this API.")
			return
		}
		c.Next()
	}
}

// @Summary      Webhook ping
// @Description  Confirms that an API key authenticates and carries the view permission.
// @Tags         Webhooks
// @Security     ApiKey
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  apierror.Response  "Missing or invalid API key"
// @Failure      403  {object}  apierror.Response  "Missing permission"
// @Router       /api/v1/webhooks/ping [get]
// PingHandler echoes the calling key back to the client
// GET /api/v1/webhooks/ping
func PingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := middleware.CurrentAPIKey(c)
		if !ok {
			apierror.Unauthorized(c)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"message":     "pong",
			"api_key_id":  key.ID,
			"permissions": key.Permissions,
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}
