package admin

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/one-account/one-account-api/internal/api/apierror"
	"github.com/one-account/one-account-api/internal/auth"
	"github.com/one-account/one-account-api/internal/db/models"
	"github.com/one-account/one-account-api/internal/middleware"
)

// APIKeyService manages API keys. *auth.APIKeyManager satisfies it.
type APIKeyService interface {
	Create(ctx context.Context, in auth.CreateAPIKeyInput) (*models.APIKey, string, error)
	Get(ctx context.Context, id string) (*models.APIKey, error)
	List(ctx context.Context, userID string) ([]*models.APIKey, error)
	Update(ctx context.Context, id, name string, description *string) (*models.APIKey, error)
	SetActive(ctx context.Context, id string, active bool) (*models.APIKey, error)
	Destroy(ctx context.Context, id string) error
}

// APIKeyHandlers handles API key management endpoints
type APIKeyHandlers struct {
	keys APIKeyService
}

// NewAPIKeyHandlers creates a new APIKeyHandlers instance
func NewAPIKeyHandlers(keys APIKeyService) *APIKeyHandlers {
	return &APIKeyHandlers{keys: keys}
}

// CreateAPIKeyRequest represents the request to create a new API key
type CreateAPIKeyRequest struct {
	Name        string   `json:"name" binding:"required"`
	Description *string  `json:"description"`
	Permissions []string `json:"permissions"`
	UserID      string   `json:"user_id"`    // owner; defaults to the caller
	ExpiresAt   *string  `json:"expires_at"` // RFC3339 format; omitted = never expires
}

// CreateAPIKeyResponse represents the response when creating an API key
type CreateAPIKeyResponse struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description *string    `json:"description"`
	Key         string     `json:"key"` // Only returned once during creation
	Permissions []string   `json:"permissions"`
	ExpiresAt   *time.Time `json:"expires_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

// UpdateAPIKeyRequest represents the request to rename an API key
type UpdateAPIKeyRequest struct {
	Name        string  `json:"name" binding:"required"`
	Description *string `json:"description"`
}

// SetAPIKeyActiveRequest toggles whether a key may authenticate
type SetAPIKeyActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// keyID returns the :id parameter, aborting with 404 when it cannot name a key
func keyID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		apierror.NotFound(c, "API key not found.")
		return "", false
	}
	return id, true
}

func (h *APIKeyHandlers) abort(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, auth.ErrAPIKeyNotFound):
		apierror.NotFound(c, "API key not found.")
	case errors.Is(err, auth.ErrInvalidAPIKeyInput):
		apierror.Validation(c, err.Error())
	default:
		middleware.RequestLogger(c.Request.Context()).Error(msg, "error", err)
		apierror.Server(c)
	}
}

// @Summary      List API keys
// @Description  Lists API keys, optionally filtered by owner.
// @Tags         API Keys
// @Security     Bearer
// @Produce      json
// @Param        user_id  query  string  false  "Filter by owner"
// @Success      200  {object}  map[string]interface{}  "List of API keys"
// @Failure      401  {object}  apierror.Response  "Unauthorized"
// @Failure      403  {object}  apierror.Response  "Missing api_keys:manage"
// @Router       /api/v1/api-keys [get]
// ListAPIKeysHandler lists API keys
// GET /api/v1/api-keys
func (h *APIKeyHandlers) ListAPIKeysHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := c.Query("user_id")
		if owner != "" {
			if _, err := uuid.Parse(owner); err != nil {
				c.JSON(http.StatusOK, gin.H{"keys": []*models.APIKey{}})
				return
			}
		}

		keys, err := h.keys.List(c.Request.Context(), owner)
		if err != nil {
			h.abort(c, err, "failed to list api keys")
			return
		}
		if keys == nil {
			keys = []*models.APIKey{}
		}
		c.JSON(http.StatusOK, gin.H{"keys": keys})
	}
}

// @Summary      Create API key
// @Description  Creates an API key. The raw key is only returned in this response.
// @Tags         API Keys
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  CreateAPIKeyRequest  true  "Key details"
// @Success      201  {object}  CreateAPIKeyResponse
// @Failure      422  {object}  apierror.Response  "Validation error"
// @Router       /api/v1/api-keys [post]
// CreateAPIKeyHandler creates a new API key
// POST /api/v1/api-keys
func (h *APIKeyHandlers) CreateAPIKeyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateAPIKeyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierror.Validation(c, "The name field is required.")
			return
		}

		owner := strings.TrimSpace(req.UserID)
		if owner == "" {
			user, ok := middleware.CurrentUser(c)
			if !ok {
				apierror.Unauthorized(c)
				return
			}
			owner = user.ID
		} else if _, err := uuid.Parse(owner); err != nil {
			apierror.Validation(c, "The user_id field must be a valid id.")
			return
		}

		var expiresAt *time.Time
		if req.ExpiresAt != nil && *req.ExpiresAt != "" {
			t, err := time.Parse(time.RFC3339, *req.ExpiresAt)
			if err != nil {
				apierror.Validation(c, "The expires_at field must be an RFC3339 timestamp.")
				return
			}
			expiresAt = &t
		}

		permissions := req.Permissions
		if permissions == nil {
			permissions = []string{}
		}

		key, raw, err := h.keys.Create(c.Request.Context(), auth.CreateAPIKeyInput{
			UserID:      owner,
			Name:        req.Name,
			Description: req.Description,
			ExpiresAt:   expiresAt,
			Permissions: permissions,
		})
		if err != nil {
			h.abort(c, err, "failed to create api key")
			return
		}

		c.JSON(http.StatusCreated, CreateAPIKeyResponse{
			ID:          key.ID,
			Name:        key.Name,
			Description: key.Description,
			Key:         raw, // IMPORTANT: Only returned once
			Permissions: key.Permissions,
			ExpiresAt:   key.ExpiresAt,
			CreatedAt:   key.CreatedAt,
		})
	}
}

// GetAPIKeyHandler returns one API key
// GET /api/v1/api-keys/:id
func (h *APIKeyHandlers) GetAPIKeyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := keyID(c)
		if !ok {
			return
		}
		key, err := h.keys.Get(c.Request.Context(), id)
		if err != nil {
			h.abort(c, err, "failed to get api key")
			return
		}
		c.JSON(http.StatusOK, gin.H{"key": key})
	}
}

// UpdateAPIKeyHandler renames an API key
// PATCH /api/v1/api-keys/:id
func (h *APIKeyHandlers) UpdateAPIKeyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := keyID(c)
		if !ok {
			return
		}
		var req UpdateAPIKeyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierror.Validation(c, "The name field is required.")
			return
		}

		key, err := h.keys.Update(c.Request.Context(), id, req.Name, req.Description)
		if err != nil {
			h.abort(c, err, "failed to update api key")
			return
		}
		c.JSON(http.StatusOK, gin.H{"key": key})
	}
}

// SetAPIKeyActiveHandler enables or disables an API key
// POST /api/v1/api-keys/:id/active
func (h *APIKeyHandlers) SetAPIKeyActiveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := keyID(c)
		if !ok {
			return
		}
		var req SetAPIKeyActiveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierror.Validation(c, "The active field is required.")
			return
		}

		key, err := h.keys.SetActive(c.Request.Context(), id, *req.Active)
		if err != nil {
			h.abort(c, err, "failed to change api key state")
			return
		}
		c.JSON(http.StatusOK, gin.H{"key": key})
	}
}

// DeleteAPIKeyHandler deletes an API key
// DELETE /api/v1/api-keys/:id
func (h *APIKeyHandlers) DeleteAPIKeyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := keyID(c)
		if !ok {
			return
		}
		if err := h.keys.Destroy(c.Request.Context(), id); err != nil {
			h.abort(c, err, "failed to delete api key")
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "API key deleted successfully"})
	}
}
