// metrics.go records per-route Prometheus request metrics.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/one-account/one-account-api/internal/telemetry"
)

// noRouteLabel replaces the path label for 404/405 requests
const noRouteLabel = "<no-route>"

// MetricsMiddleware records http_requests_total, http_request_duration_seconds
// and, once an auth middleware further down the chain has accepted a
// credential, http_authenticated_requests_total.
//
// The path label is the matched route template
// (/api/v1/auth/mfa/un-enroll-user/:userId), never the raw URL, so user ids
// and token ids stay out of label values.
//
// Register it after gin.Recovery() and RequestIDMiddleware so the status set
// by recovered panics is captured.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = noRouteLabel
		}
		method := c.Request.Method

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())

		if via := c.GetString(ContextAuthVia); via != "" {
			telemetry.HTTPAuthenticatedRequestsTotal.WithLabelValues(via).Inc()
		}
	}
}
