// audit.go provides Gin middleware that records authenticated write operations
// (token revocation, MFA un-enrollment, settings and API key changes) as
// structured audit records on a dedicated slog logger and, when a sink is
// configured, in the audit_logs table.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/one-account/one-account-api/internal/db/models"
)

// AuditSink persists audit records. *repositories.AuditRepository satisfies it.
type AuditSink interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// AuditMiddleware logs successful state-changing requests. Reads and failed
// requests are skipped; failed logins are visible through the rate limiter metrics.
// sink may be nil. A sink failure is logged and never fails the request.
func AuditMiddleware(logger *slog.Logger, sink AuditSink) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("log_type", "audit")

	return func(c *gin.Context) {
		c.Next()

		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			return
		}
		if c.Writer.Status() >= 400 {
			return
		}

		action := c.FullPath()
		if action == "" {
			action = c.Request.URL.Path
		}

		entry := &models.AuditLog{
			Action:     c.Request.Method + " " + action,
			UserID:     contextString(c, ContextUserID),
			APIKeyID:   contextString(c, ContextAPIKeyID),
			AuthMethod: contextString(c, ContextAuthVia),
			RequestID:  contextString(c, RequestIDKey),
			Metadata:   map[string]interface{}{"status": c.Writer.Status()},
		}
		ip := c.ClientIP()
		entry.IPAddress = &ip

		attrs := []any{
			"action", entry.Action,
			"status", c.Writer.Status(),
			"ip_address", ip,
		}
		for key, v := range map[string]*string{
			"user_id":     entry.UserID,
			"api_key_id":  entry.APIKeyID,
			"auth_method": entry.AuthMethod,
			"request_id":  entry.RequestID,
		} {
			if v != nil {
				attrs = append(attrs, key, *v)
			}
		}
		for _, p := range c.Params {
			attrs = append(attrs, "param_"+p.Key, p.Value)
			entry.Metadata["param_"+p.Key] = p.Value
		}

		logger.Info("audit", attrs...)

		if sink == nil {
			return
		}
		// The request context may already be cancelled once the response is written.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), 5*time.Second)
		defer cancel()
		if err := sink.CreateAuditLog(ctx, entry); err != nil {
			logger.Warn("failed to persist audit log", "action", entry.Action, "error", err)
		}
	}
}

func contextString(c *gin.Context, key string) *string {
	v, ok := c.Get(key)
	if !ok || v == nil {
		return nil
	}
	s := fmt.Sprint(v)
	if s == "" {
		return nil
	}
	return &s
}
