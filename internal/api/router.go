// Package api wires together all HTTP routes of the account API.
//
// Route grouping:
//   - /auth/tokens (login) and the /auth/mfa pipeline routes are
//     unauthenticated; the MFA routes are authorized by the attempt token in
//     the request body and rate limited per token and route.
//   - Token management, settings and API key routes require a bearer token of
//     any configured scheme plus the appropriate scope.
//   - /webhooks routes authenticate with an API key header instead of a
//     bearer token. They are the machine credential surface.
package api

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/one-account/one-account-api/internal/api/admin"
	"github.com/one-account/one-account-api/internal/api/webhooks"
	"github.com/one-account/one-account-api/internal/auth"
	"github.com/one-account/one-account-api/internal/config"
	"github.com/one-account/one-account-api/internal/jobs"
	"github.com/one-account/one-account-api/internal/middleware"
)

// Version is reported by GET /version. It is set at build time.
var Version = "dev"

// BackgroundServices holds references to background jobs and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	services       *Services
	pruner         *jobs.MfaAttemptPruner
	expiryNotifier *jobs.APIKeyExpiryNotifier
	memoryLimiter  *middleware.MemoryRateLimiter
	redisClient    *redis.Client
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.pruner != nil {
		bg.pruner.Stop()
	}
	if bg.expiryNotifier != nil {
		bg.expiryNotifier.Stop()
	}
	if bg.memoryLimiter != nil {
		bg.memoryLimiter.Stop()
	}
	if bg.redisClient != nil {
		if err := bg.redisClient.Close(); err != nil {
			slog.Warn("failed to close redis client", "error", err)
		}
	}
	if bg.services != nil {
		bg.services.Close()
	}
	slog.Info("all background services stopped")
}

// newLimiter picks the rate limit backend. Redis is shared across replicas;
// the in-memory limiter is per process.
func newLimiter(cfg *config.Config, bg *BackgroundServices) middleware.Limiter {
	if !cfg.Security.RateLimiting.Enabled {
		log.Println("Rate limiting disabled")
		return nil
	}
	if cfg.Redis.Enabled {
		bg.redisClient = middleware.NewRedisClient(cfg.Redis)
		log.Printf("Rate limiting backed by redis at %s", cfg.Redis.Addr)
		return middleware.NewRedisRateLimiter(bg.redisClient)
	}
	bg.memoryLimiter = middleware.NewMemoryRateLimiter(5 * time.Minute)
	log.Println("Rate limiting backed by process memory")
	return bg.memoryLimiter
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, db *sql.DB) (*gin.Engine, *BackgroundServices) {
	router := gin.New()
	bg := &BackgroundServices{}

	svc, err := NewServices(cfg, db)
	if err != nil {
		log.Fatalf("Failed to initialize services: %v", err)
	}
	bg.services = svc
	log.Printf("MFA methods registered: %v", svc.Registry.Methods())

	// Prune expired MFA attempts and access tokens
	bg.pruner = jobs.NewMfaAttemptPruner(svc.Attempts, svc.AccessRepo, &cfg.Jobs)
	go bg.pruner.Start(context.Background())

	// Initialize and start the API key expiry notifier
	bg.expiryNotifier = jobs.NewAPIKeyExpiryNotifier(svc.APIKeyRepo, svc.Users, svc.Mail, &cfg.Notifications, cfg.App.Name)
	go bg.expiryNotifier.Start(context.Background())

	limiter := newLimiter(cfg, bg)
	limits := cfg.Security.RateLimiting

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.LoggerMiddleware())
	router.Use(middleware.CORSMiddleware(cfg.Security.CORS, cfg.Auth.APIKeyHeader))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig(cfg.Security.TLS.Enabled)))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(db))

	// Readiness check endpoint (includes the redis probe when enabled)
	var cache pinger
	if bg.redisClient != nil {
		cache = bg.redisClient
	}
	router.GET("/ready", readinessHandler(db, cache))

	// API version
	router.GET("/version", versionHandler())

	// Initialize handlers
	authHandlers := admin.NewAuthHandlers(svc.Users, svc.Tokens, svc.MFA, svc.Settings)
	tokenHandlers := admin.NewTokenHandlers(svc.Persistent)
	apiKeyHandlers := admin.NewAPIKeyHandlers(svc.APIKeys)
	settingsHandlers := admin.NewSettingsHandlers(svc.Settings)
	auditHandlers := admin.NewAuditHandlers(svc.Audit)

	bearer := middleware.TokenAuth(svc.Tokens)
	audit := middleware.AuditMiddleware(slog.Default(), svc.Audit)
	usersLimit := middleware.RateLimitMiddleware(limiter, "users", limits.Users, middleware.PrincipalKey)

	apiV1 := router.Group("/api/v1")

	// Login and the MFA pipeline (public)
	authGroup := apiV1.Group("/auth")
	{
		authGroup.POST("/tokens",
			middleware.RateLimitMiddleware(limiter, "login", limits.Login, middleware.LoginKey),
			authHandlers.LoginHandler(),
		)

		mfaLimit := middleware.RateLimitMiddleware(limiter, "mfa", limits.MFA, middleware.MfaTokenKey)
		mfaGroup := authGroup.Group("/mfa")
		{
			mfaGroup.POST("/send-code",
				middleware.RateLimitMiddleware(limiter, "mfa_send_code", limits.MFASendCode, middleware.MfaTokenKey),
				authHandlers.SendCodeHandler(),
			)
			mfaGroup.POST("/generate-qrcode", mfaLimit, authHandlers.GenerateQRCodeHandler())
			mfaGroup.POST("/verify-code", mfaLimit, authHandlers.VerifyCodeHandler())
			mfaGroup.POST("/verify-backup-code", mfaLimit, authHandlers.VerifyBackupCodeHandler())
		}
	}

	// Authenticated routes
	authenticated := apiV1.Group("")
	authenticated.Use(bearer, usersLimit, audit)
	{
		mfaAdmin := authenticated.Group("/auth/mfa")
		{
			mfaAdmin.GET("/available-methods", authHandlers.AvailableMethodsHandler())
			mfaAdmin.POST("/un-enroll-user/:userId",
				middleware.RequireScope(auth.ScopeUsersUpdate),
				authHandlers.UnEnrollUserHandler(),
			)
		}

		// Token management only applies to revocable tokens
		tokens := authenticated.Group("/auth/tokens")
		tokens.Use(middleware.RequireScheme(auth.SchemePersistent))
		{
			tokens.GET("", tokenHandlers.ListTokensHandler())
			tokens.DELETE("", tokenHandlers.InvalidateCurrentTokenHandler())
			tokens.POST("/invalidate", tokenHandlers.InvalidateTokensHandler())
		}

		appSettings := authenticated.Group("/app-settings")
		{
			appSettings.GET("", settingsHandlers.GetSettingsHandler())
			appSettings.POST("",
				middleware.RequireScope(auth.ScopeAppSettingsUpdate),
				settingsHandlers.UpdateSettingsHandler(),
			)
		}

		authenticated.GET("/audit-logs",
			middleware.RequireScope(auth.ScopeAdmin),
			auditHandlers.ListAuditLogsHandler(),
		)
	}

	// API keys have their own budget
	apiKeys := apiV1.Group("/api-keys")
	apiKeys.Use(
		bearer,
		middleware.RateLimitMiddleware(limiter, "api_keys", limits.APIKeys, middleware.PrincipalKey),
		middleware.RequireScope(auth.ScopeAPIKeysManage),
		audit,
	)
	{
		apiKeys.GET("", apiKeyHandlers.ListAPIKeysHandler())
		apiKeys.POST("", apiKeyHandlers.CreateAPIKeyHandler())
		apiKeys.GET("/:id", apiKeyHandlers.GetAPIKeyHandler())
		apiKeys.PATCH("/:id", apiKeyHandlers.UpdateAPIKeyHandler())
		apiKeys.DELETE("/:id", apiKeyHandlers.DeleteAPIKeyHandler())
		apiKeys.POST("/:id/active", apiKeyHandlers.SetAPIKeyActiveHandler())
	}

	// Machine credential surface
	hooks := apiV1.Group("/webhooks")
	hooks.Use(
		webhooks.RequireEnabled(cfg.Webhooks.Enabled),
		middleware.APIKeyAuth(svc.APIKeys, cfg.Auth.APIKeyHeader),
		middleware.RateLimitMiddleware(limiter, "webhooks", limits.APIKeys, middleware.PrincipalKey),
	)
	{
		hooks.GET("/ping",
			middleware.RequireAPIKeyPermission(auth.WebhookViewTestResources),
			webhooks.PingHandler(),
		)
	}

	return router, bg
}

// @Summary      Health check
// @Description  Returns the health status of the service. Checks database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check database connection
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// pinger is the slice of the redis client used by the readiness probe
type pinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Checks the database and, when rate limiting uses it, redis.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, checks, time"
// @Failure      503  {object}  map[string]interface{}  "ready: false, checks, error"
// @Router       /ready [get]
// readinessHandler returns the readiness status of the service.
// A nil cache is skipped. An unreachable redis fails readiness even though
// the limiter itself fails open, so operators see the degradation.
func readinessHandler(db *sql.DB, cache pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.PingContext(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		if cache != nil {
			if err := cache.Ping(c.Request.Context()).Err(); err != nil {
				checks["redis"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "redis not ready",
				})
				return
			}
			checks["redis"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Description  Returns the build version and the API version.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}
