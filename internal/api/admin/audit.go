package admin

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/one-account/one-account-api/internal/api/apierror"
	"github.com/one-account/one-account-api/internal/db/models"
	"github.com/one-account/one-account-api/internal/db/repositories"
	"github.com/one-account/one-account-api/internal/middleware"
)

// AuditLogLister reads audit records. *repositories.AuditRepository satisfies it.
type AuditLogLister interface {
	ListAuditLogs(ctx context.Context, filters repositories.AuditFilters, limit, offset int) ([]*models.AuditLog, int, error)
}

// AuditHandlers serves the audit log
type AuditHandlers struct {
	logs AuditLogLister
}

// NewAuditHandlers creates a new AuditHandlers instance
func NewAuditHandlers(logs AuditLogLister) *AuditHandlers {
	return &AuditHandlers{logs: logs}
}

// @Summary      List audit logs
// @Description  Paginated audit records of successful write requests, newest first. Requires the admin scope.
// @Tags         Audit
// @Security     Bearer
// @Produce      json
// @Param        page      query  int     false  "Page number (default 1)"
// @Param        per_page  query  int     false  "Items per page, max 100 (default 20)"
// @Param        user_id   query  string  false  "Only records made by this user"
// @Param        action    query  string  false  "Exact action, e.g. 'POST /api/v1/api-keys'"
// @Param        since     query  string  false  "RFC 3339 lower bound on created_at"
// @Success      200  {object}  map[string]interface{}  "audit_logs: []models.AuditLog, pagination: map"
// @Failure      403  {object}  apierror.Response  "Missing scope"
// @Failure      422  {object}  apierror.Response  "Invalid since"
// @Router       /api/v1/audit-logs [get]
// ListAuditLogsHandler lists audit records with pagination
// GET /api/v1/audit-logs?page=1&per_page=20
func (h *AuditHandlers) ListAuditLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))

		if page < 1 {
			page = 1
		}
		if perPage < 1 || perPage > 100 {
			perPage = 20
		}

		var filters repositories.AuditFilters
		if v := c.Query("user_id"); v != "" {
			filters.UserID = &v
		}
		if v := c.Query("action"); v != "" {
			filters.Action = &v
		}
		if v := c.Query("since"); v != "" {
			since, err := time.Parse(time.RFC3339, v)
			if err != nil {
				apierror.Validation(c, "since must be an RFC 3339 timestamp.")
				return
			}
			filters.StartDate = &since
		}

		logs, total, err := h.logs.ListAuditLogs(c.Request.Context(), filters, perPage, (page-1)*perPage)
		if err != nil {
			middleware.RequestLogger(c.Request.Context()).Error("failed to list audit logs", "error", err)
			apierror.Server(c)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"audit_logs": logs,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}
