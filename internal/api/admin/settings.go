package admin

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/one-account/one-account-api/internal/api/apierror"
	"github.com/one-account/one-account-api/internal/db/models"
	"github.com/one-account/one-account-api/internal/middleware"
	"github.com/one-account/one-account-api/internal/settings"
)

// SettingsService reads and writes the application settings. *settings.Manager satisfies it.
type SettingsService interface {
	GetSettings(ctx context.Context) ([]models.AppSetting, error)
	SetSettings(ctx context.Context, u settings.Update) ([]models.AppSetting, error)
}

// SettingsHandlers handles the application settings endpoints
type SettingsHandlers struct {
	settings SettingsService
}

// NewSettingsHandlers creates a new SettingsHandlers instance
func NewSettingsHandlers(s SettingsService) *SettingsHandlers {
	return &SettingsHandlers{settings: s}
}

// GetSettingsHandler returns every named setting
// GET /api/v1/app-settings
func (h *SettingsHandlers) GetSettingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		all, err := h.settings.GetSettings(c.Request.Context())
		if err != nil {
			middleware.RequestLogger(c.Request.Context()).Error("failed to read settings", "error", err)
			apierror.Server(c)
			return
		}
		c.JSON(http.StatusOK, gin.H{"settings": all})
	}
}

// @Summary      Update application settings
// @Description  Applies a partial update. Omitted MFA fields keep their stored values.
// @Tags         Settings
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  settings.Update  true  "Settings to change"
// @Success      200  {object}  map[string]interface{}  "All settings after the update"
// @Failure      403  {object}  apierror.Response  "MFA changes disabled"
// @Failure      422  {object}  apierror.Response  "Invalid setting"
// @Router       /api/v1/app-settings [post]
// UpdateSettingsHandler applies a partial settings update atomically
// POST /api/v1/app-settings
func (h *SettingsHandlers) UpdateSettingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req settings.Update
		if err := c.ShouldBindJSON(&req); err != nil {
			apierror.Validation(c, "Invalid request body.")
			return
		}
		if req.Theme == nil && req.MFA == nil {
			apierror.Validation(c, "Nothing to update.")
			return
		}

		all, err := h.settings.SetSettings(c.Request.Context(), req)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"settings": all})
		case errors.Is(err, settings.ErrManagementDisabled):
			apierror.Forbidden(c, "MFA configuration cannot be changed through the API.")
		case errors.Is(err, settings.ErrInvalidPolicy), errors.Is(err, settings.ErrUnknownSetting):
			apierror.Validation(c, err.Error())
		default:
			middleware.RequestLogger(c.Request.Context()).Error("failed to update settings", "error", err)
			apierror.Server(c)
		}
	}
}
