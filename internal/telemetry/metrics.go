// Package telemetry provides application-level observability for the account service.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served on the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<OA_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. It is NOT served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - MFA pipeline counters: attempts, step verifications, code deliveries, backup codes
//   - Credential counters: tokens issued per scheme, API key validations
//   - Rate limiter rejections
//   - Background job counters and the database connection pool gauge
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/api-keys/:id)
// rather than the raw request URL. MFA labels are limited to method names and
// fixed result strings; user ids and tokens never become labels.
package telemetry

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result label values shared by the MFA and credential counters
const (
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultError    = "error"
	ResultRejected = "rejected"
)

// HTTP metrics - labelled by method, route template, and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)

	// HTTPAuthenticatedRequestsTotal counts requests that carried a valid
	// credential, by auth_method (persistent, jwt or api_key).
	HTTPAuthenticatedRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_authenticated_requests_total",
			Help: "Total number of authenticated HTTP requests, by credential scheme.",
		},
		[]string{"auth_method"},
	)
)

// MFA pipeline metrics.
//
// MfaStepVerificationsTotal has labels {method, result} where result is
// success (step completed), failure (wrong code), or error (fault).
//
// Example PromQL queries:
//   - Wrong code ratio per method:  sum by (method) (rate(mfa_step_verifications_total{result="failure"}[1h])) / sum by (method) (rate(mfa_step_verifications_total[1h]))
//   - Delivery failures:            increase(mfa_codes_sent_total{result="error"}[15m]) > 0
var (
	MfaAttemptsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mfa_attempts_created_total",
			Help: "Total number of MFA attempts started by a successful credential check.",
		},
	)

	MfaStepVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mfa_step_verifications_total",
			Help: "Total number of MFA step code verifications, by method and result.",
		},
		[]string{"method", "result"},
	)

	MfaCodesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mfa_codes_sent_total",
			Help: "Total number of one-time codes handed to a delivery channel, by method and result.",
		},
		[]string{"method", "result"},
	)

	MfaBackupCodeRedemptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mfa_backup_code_redemptions_total",
			Help: "Total number of backup code redemption attempts, by result.",
		},
		[]string{"result"},
	)

	MfaAttemptsPrunedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mfa_attempts_pruned_total",
			Help: "Total number of expired MFA attempts deleted by the prune job.",
		},
	)
)

// Credential metrics.
//
// AuthTokensIssuedTotal has label {scheme} (persistent or jwt).
// APIKeyValidationsTotal has label {result}: success or rejected.
var (
	AuthTokensIssuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_tokens_issued_total",
			Help: "Total number of bearer tokens issued, by scheme.",
		},
		[]string{"scheme"},
	)

	APIKeyValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_key_validations_total",
			Help: "Total number of API key validations, by result.",
		},
		[]string{"result"},
	)

	RateLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_rejections_total",
			Help: "Total number of requests rejected by a rate limiter, by limiter name.",
		},
		[]string{"limiter"},
	)
)

// APIKeyExpiryNotificationsSentTotal is incremented once per email successfully
// delivered by the api_key_expiry_notifier background job.
var APIKeyExpiryNotificationsSentTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "apikey_expiry_notifications_sent_total",
		Help: "Total number of API key expiry warning emails successfully sent.",
	},
)

// Database connection pool gauges, sampled every 30 seconds by StartDBStatsCollector
// rather than per-request to avoid the overhead of sql.DB.Stats().
var (
	DBOpenConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_open_connections",
			Help: "Current number of open database connections in the pool.",
		},
	)

	DBInUseConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_in_use_connections",
			Help: "Current number of database connections in use.",
		},
	)
)

// StartDBStatsCollector launches a goroutine that samples sql.DB pool statistics
// every interval until ctx is cancelled or the database becomes unreachable.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := db.PingContext(ctx); err != nil {
					slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
					return
				}
				RecordDBStats(db.Stats())
			}
		}
	}()
}

// RecordDBStats copies pool statistics into the gauges
func RecordDBStats(stats sql.DBStats) {
	DBOpenConnections.Set(float64(stats.OpenConnections))
	DBInUseConnections.Set(float64(stats.InUse))
}
