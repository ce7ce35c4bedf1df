// Package config loads and validates the service configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the OA_ prefix (e.g., OA_DATABASE_HOST
// overrides database.host in the YAML).
//
// ENCRYPTION_KEY is also accepted without the OA_ prefix because it is usually
// injected by infrastructure tooling (Kubernetes secrets, Vault agent) that does
// not know the application-specific prefix.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Auth          AuthConfig          `mapstructure:"auth"`
	MFA           MFAConfig           `mapstructure:"mfa"`
	Security      SecurityConfig      `mapstructure:"security"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Webhooks      WebhooksConfig      `mapstructure:"webhooks"`
	Jobs          JobsConfig          `mapstructure:"jobs"`
}

// WebhooksConfig controls the API-key authenticated webhook routes
type WebhooksConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// AppConfig holds application identity settings
type AppConfig struct {
	Name string `mapstructure:"name"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// RedisConfig holds the connection used by the distributed rate limiter.
// When Enabled is false the in-memory limiter is used instead.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	// Schemes is the ordered list of bearer token schemes tried on inbound
	// requests. The first scheme that accepts the token wins.
	Schemes []string `mapstructure:"schemes"`
	// DefaultScheme is used to mint tokens when the caller does not ask for one.
	DefaultScheme string `mapstructure:"default_scheme"`
	// TokenLifetimeMinutes bounds persistent tokens; 0 means they never expire.
	TokenLifetimeMinutes int `mapstructure:"token_lifetime_minutes"`
	// JWTLifetimeMinutes bounds signed tokens (default 1440).
	JWTLifetimeMinutes int    `mapstructure:"jwt_lifetime_minutes"`
	JWTIssuer          string `mapstructure:"jwt_issuer"`
	APIKeyHeader       string `mapstructure:"api_key_header"`
	BcryptCost         int    `mapstructure:"bcrypt_cost"`
}

// MFAConfig holds the static verification method registry and attempt settings
type MFAConfig struct {
	// Methods lists the verification methods the registry supports, in display
	// order. A method missing here is unsupported regardless of app settings.
	Methods                []string `mapstructure:"methods"`
	AttemptLifetimeMinutes int      `mapstructure:"attempt_lifetime_minutes"`
	// Issuer is the label shown by authenticator apps; defaults to app.name.
	Issuer                 string `mapstructure:"issuer"`
	EmailCodeExpirySeconds int    `mapstructure:"email_code_expiry_seconds"`
	QRSize                 int    `mapstructure:"qr_size"`
	BackupCodeCount        int    `mapstructure:"backup_code_count"`
	BackupCodeLength       int    `mapstructure:"backup_code_length"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	// EncryptionKey is a base64 encoded 32-byte key for secrets at rest
	EncryptionKey string             `mapstructure:"encryption_key"`
	CORS          CORSConfig         `mapstructure:"cors"`
	RateLimiting  RateLimitingConfig `mapstructure:"rate_limiting"`
	TLS           TLSConfig          `mapstructure:"tls"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// RateLimitingConfig holds per-route-group rate limits
type RateLimitingConfig struct {
	Enabled     bool      `mapstructure:"enabled"`
	Login       RateLimit `mapstructure:"login"`
	MFA         RateLimit `mapstructure:"mfa"`
	MFASendCode RateLimit `mapstructure:"mfa_send_code"`
	Users       RateLimit `mapstructure:"users"`
	APIKeys     RateLimit `mapstructure:"api_keys"`
}

// RateLimit is a request allowance over a period
type RateLimit struct {
	Requests      int `mapstructure:"requests"`
	PeriodSeconds int `mapstructure:"period_seconds"`
}

// Period returns the limit window as a duration
func (r RateLimit) Period() time.Duration {
	if r.PeriodSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(r.PeriodSeconds) * time.Second
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig holds logging configuration.
// Output is "stdout", "stderr" or a file path; files are rotated.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	ServiceName string        `mapstructure:"service_name"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// NotificationsConfig holds settings for outbound emails
type NotificationsConfig struct {
	// Enabled globally toggles outbound email. When false, one-time codes are
	// written to the log instead of being mailed.
	Enabled bool       `mapstructure:"enabled"`
	SMTP    SMTPConfig `mapstructure:"smtp"`
	// QueueSize and Workers size the asynchronous one-time code queue
	QueueSize int `mapstructure:"queue_size"`
	Workers   int `mapstructure:"workers"`
	// APIKeyExpiryWarningDays is how many days before expiry to warn (default 7)
	APIKeyExpiryWarningDays int `mapstructure:"api_key_expiry_warning_days"`
	// APIKeyExpiryCheckIntervalHours determines how often the expiry check job runs (default 24)
	APIKeyExpiryCheckIntervalHours int `mapstructure:"api_key_expiry_check_interval_hours"`
}

// SMTPConfig holds outbound mail server configuration
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	// UseTLS enables implicit TLS with a STARTTLS fallback; false = plain SMTP
	UseTLS bool `mapstructure:"use_tls"`
}

// JobsConfig holds background job settings
type JobsConfig struct {
	MfaAttemptPruneEnabled         bool `mapstructure:"mfa_attempt_prune_enabled"`
	MfaAttemptPruneIntervalMinutes int  `mapstructure:"mfa_attempt_prune_interval_minutes"`
}

// knownSchemes and knownMethods mirror auth.Scheme and verification.Method.
// They are duplicated here so config stays a leaf package.
var (
	knownSchemes = map[string]bool{"persistent": true, "jwt": true}
	knownMethods = map[string]bool{"google_authenticator": true, "email_channel": true}
)

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested structs during Unmarshal.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		"app.name",

		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		"server.host",
		"server.port",
		"server.base_url",
		"server.read_timeout",
		"server.write_timeout",

		"redis.enabled",
		"redis.addr",
		"redis.password",
		"redis.db",

		"auth.schemes",
		"auth.default_scheme",
		"auth.token_lifetime_minutes",
		"auth.jwt_lifetime_minutes",
		"auth.jwt_issuer",
		"auth.api_key_header",
		"auth.bcrypt_cost",

		"mfa.methods",
		"mfa.attempt_lifetime_minutes",
		"mfa.issuer",
		"mfa.email_code_expiry_seconds",
		"mfa.qr_size",
		"mfa.backup_code_count",
		"mfa.backup_code_length",

		"security.cors.allowed_origins",
		"security.cors.allowed_methods",
		"security.rate_limiting.enabled",
		"security.tls.enabled",
		"security.tls.cert_file",
		"security.tls.key_file",

		"logging.level",
		"logging.format",
		"logging.output",

		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",

		"notifications.enabled",
		"notifications.smtp.host",
		"notifications.smtp.port",
		"notifications.smtp.username",
		"notifications.smtp.password",
		"notifications.smtp.from",
		"notifications.smtp.use_tls",
		"notifications.api_key_expiry_warning_days",
		"notifications.api_key_expiry_check_interval_hours",

		"webhooks.enabled",

		"jobs.mfa_attempt_prune_enabled",
		"jobs.mfa_attempt_prune_interval_minutes",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	if err := v.BindEnv("security.encryption_key", "OA_SECURITY_ENCRYPTION_KEY", "ENCRYPTION_KEY"); err != nil {
		return fmt.Errorf("failed to bind env var %q: %w", "security.encryption_key", err)
	}
	return nil
}

// newViper builds a viper instance with defaults, the optional config file and env bindings.
func newViper(configPath string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/one-account")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("OA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}
	return v, nil
}

// decode unmarshals and validates the current viper state.
func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)
	cfg.Notifications.SMTP.Password = expandEnv(cfg.Notifications.SMTP.Password)
	cfg.Security.EncryptionKey = expandEnv(cfg.Security.EncryptionKey)
	if cfg.MFA.Issuer == "" {
		cfg.MFA.Issuer = cfg.App.Name
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// Watch reloads the configuration whenever the config file changes and hands
// the new value to onChange. Invalid edits are logged and ignored. Watching is
// only possible when a config file was actually found.
func Watch(configPath string, onChange func(*Config)) error {
	v, err := newViper(configPath)
	if err != nil {
		return err
	}
	if v.ConfigFileUsed() == "" {
		return fmt.Errorf("no config file to watch")
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := decode(v)
		if err != nil {
			slog.Warn("ignoring invalid config change", "file", e.Name, "error", err)
			return
		}
		slog.Info("configuration reloaded", "file", e.Name, "op", e.Op.String())
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "One Account")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "one_account")
	v.SetDefault("database.user", "one_account")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.schemes", []string{"persistent", "jwt"})
	v.SetDefault("auth.default_scheme", "persistent")
	v.SetDefault("auth.token_lifetime_minutes", 0)
	v.SetDefault("auth.jwt_lifetime_minutes", 1440)
	v.SetDefault("auth.jwt_issuer", "one-account")
	v.SetDefault("auth.api_key_header", "X-API-KEY")
	v.SetDefault("auth.bcrypt_cost", 12)

	v.SetDefault("mfa.methods", []string{"email_channel", "google_authenticator"})
	v.SetDefault("mfa.attempt_lifetime_minutes", 10)
	v.SetDefault("mfa.email_code_expiry_seconds", 900)
	v.SetDefault("mfa.qr_size", 200)
	v.SetDefault("mfa.backup_code_count", 10)
	v.SetDefault("mfa.backup_code_length", 12)

	v.SetDefault("webhooks.enabled", true)

	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.login.requests", 3)
	v.SetDefault("security.rate_limiting.login.period_seconds", 600)
	v.SetDefault("security.rate_limiting.mfa.requests", 5)
	v.SetDefault("security.rate_limiting.mfa.period_seconds", 60)
	v.SetDefault("security.rate_limiting.mfa_send_code.requests", 2)
	v.SetDefault("security.rate_limiting.mfa_send_code.period_seconds", 60)
	v.SetDefault("security.rate_limiting.users.requests", 120)
	v.SetDefault("security.rate_limiting.users.period_seconds", 60)
	v.SetDefault("security.rate_limiting.api_keys.requests", 250)
	v.SetDefault("security.rate_limiting.api_keys.period_seconds", 60)
	v.SetDefault("security.tls.enabled", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("logging.compress", true)

	v.SetDefault("telemetry.service_name", "one-account")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)

	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.smtp.port", 587)
	v.SetDefault("notifications.smtp.use_tls", true)
	v.SetDefault("notifications.queue_size", 100)
	v.SetDefault("notifications.workers", 2)
	v.SetDefault("notifications.api_key_expiry_warning_days", 7)
	v.SetDefault("notifications.api_key_expiry_check_interval_hours", 24)

	v.SetDefault("jobs.mfa_attempt_prune_enabled", true)
	v.SetDefault("jobs.mfa_attempt_prune_interval_minutes", 60)
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// IsDevMode reports whether the process runs in development mode
func IsDevMode() bool {
	devMode := os.Getenv("DEV_MODE")
	return devMode == "true" || devMode == "1" || os.Getenv("GIN_MODE") == "debug"
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}

	if len(c.Auth.Schemes) == 0 {
		return fmt.Errorf("auth.schemes must list at least one scheme")
	}
	for _, s := range c.Auth.Schemes {
		if !knownSchemes[s] {
			return fmt.Errorf("invalid auth scheme: %s (must be persistent or jwt)", s)
		}
	}
	if c.Auth.DefaultScheme != "" && !knownSchemes[c.Auth.DefaultScheme] {
		return fmt.Errorf("invalid auth.default_scheme: %s", c.Auth.DefaultScheme)
	}

	seen := make(map[string]bool, len(c.MFA.Methods))
	for _, m := range c.MFA.Methods {
		if !knownMethods[m] {
			return fmt.Errorf("invalid mfa method: %s", m)
		}
		if seen[m] {
			return fmt.Errorf("duplicate mfa method: %s", m)
		}
		seen[m] = true
	}
	if c.MFA.AttemptLifetimeMinutes <= 0 {
		return fmt.Errorf("mfa.attempt_lifetime_minutes must be positive")
	}

	if c.Security.EncryptionKey == "" && !IsDevMode() {
		return fmt.Errorf("security.encryption_key (ENCRYPTION_KEY) is required outside dev mode")
	}

	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" {
			return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
