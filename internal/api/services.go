package api

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/one-account/one-account-api/internal/auth"
	"github.com/one-account/one-account-api/internal/config"
	"github.com/one-account/one-account-api/internal/crypto"
	"github.com/one-account/one-account-api/internal/db/repositories"
	"github.com/one-account/one-account-api/internal/mfa"
	"github.com/one-account/one-account-api/internal/notify"
	"github.com/one-account/one-account-api/internal/settings"
	"github.com/one-account/one-account-api/internal/verification"
)

// Services is the object graph shared by the HTTP router and the console
// commands. Call Close to drain queued mail.
type Services struct {
	Users      *repositories.UserRepository
	APIKeyRepo *repositories.APIKeyRepository
	Attempts   *repositories.MfaAttemptRepository
	AccessRepo *repositories.PersonalAccessTokenRepository
	Audit      *repositories.AuditRepository
	Registry   *verification.Registry
	MFA        *mfa.Orchestrator
	Settings   *settings.Manager
	Tokens     *auth.TokenChain
	Persistent *auth.PersistentTokenManager
	APIKeys    *auth.APIKeyManager
	Mail       notify.Sender
	mailQueue  *notify.Queue
}

// NewServices wires repositories, the verification registry, the MFA
// orchestrator, the settings manager and the token schemes from cfg
func NewServices(cfg *config.Config, db *sql.DB) (*Services, error) {
	sqlxDB := sqlx.NewDb(db, "postgres")
	s := &Services{
		Users:      repositories.NewUserRepository(db),
		APIKeyRepo: repositories.NewAPIKeyRepository(db),
		Attempts:   repositories.NewMfaAttemptRepository(sqlxDB),
		AccessRepo: repositories.NewPersonalAccessTokenRepository(sqlxDB),
		Audit:      repositories.NewAuditRepository(db),
	}

	box, err := newSecretBox(cfg.Security.EncryptionKey)
	if err != nil {
		return nil, err
	}

	// Outgoing mail: SMTP behind a bounded queue when notifications are
	// enabled, otherwise codes are only logged.
	if cfg.Notifications.Enabled && cfg.Notifications.SMTP.Host != "" {
		s.mailQueue = notify.NewQueue(notify.NewMailer(cfg.Notifications.SMTP), cfg.Notifications.QueueSize, cfg.Notifications.Workers)
		s.Mail = s.mailQueue
	} else {
		slog.Warn("notifications disabled, one-time codes will be written to the log only")
		s.Mail = notify.LogSender{}
	}

	factors := repositories.NewVerificationFactorRepository(sqlxDB)
	emailChannel := verification.NewEmailChannel(
		factors, box,
		notify.NewOTPNotifier(s.Mail, cfg.App.Name),
		cfg.MFA.Issuer,
		time.Duration(cfg.MFA.EmailCodeExpirySeconds)*time.Second,
	)
	googleAuthenticator := verification.NewGoogleAuthenticator(factors, box, verification.GoogleAuthenticatorConfig{
		Issuer:           cfg.MFA.Issuer,
		QRSize:           cfg.MFA.QRSize,
		BackupCodeLength: cfg.MFA.BackupCodeLength,
	})
	s.Registry, err = verification.NewRegistryFromConfig(cfg.MFA.Methods, emailChannel, googleAuthenticator)
	if err != nil {
		return nil, fmt.Errorf("failed to build verification registry: %w", err)
	}

	s.MFA = mfa.NewOrchestrator(s.Registry, s.Attempts, mfa.Config{
		AttemptLifetime: time.Duration(cfg.MFA.AttemptLifetimeMinutes) * time.Minute,
		BackupCodeCount: cfg.MFA.BackupCodeCount,
		BcryptCost:      cfg.Auth.BcryptCost,
	})
	s.Settings = settings.NewManager(repositories.NewAppSettingsRepository(sqlxDB), s.Registry)

	s.Persistent = auth.NewPersistentTokenManager(
		s.AccessRepo, s.Users,
		time.Duration(cfg.Auth.TokenLifetimeMinutes)*time.Minute,
		cfg.Auth.BcryptCost,
	)
	var managers []auth.TokenManager
	for _, name := range cfg.Auth.Schemes {
		scheme, err := auth.ParseScheme(name)
		if err != nil {
			return nil, err
		}
		switch scheme {
		case auth.SchemePersistent:
			managers = append(managers, s.Persistent)
		case auth.SchemeJWT:
			if err := auth.ValidateJWTSecret(); err != nil {
				return nil, err
			}
			managers = append(managers, auth.NewJWTTokenManager(
				s.Users,
				time.Duration(cfg.Auth.JWTLifetimeMinutes)*time.Minute,
				cfg.Auth.JWTIssuer,
			))
		}
	}

	var defaultScheme auth.Scheme
	if cfg.Auth.DefaultScheme != "" {
		if defaultScheme, err = auth.ParseScheme(cfg.Auth.DefaultScheme); err != nil {
			return nil, err
		}
	} else if len(managers) > 0 {
		defaultScheme = managers[0].Scheme()
	}
	s.Tokens, err = auth.NewTokenChain(defaultScheme, managers...)
	if err != nil {
		return nil, fmt.Errorf("failed to build token chain: %w", err)
	}

	s.APIKeys = auth.NewAPIKeyManager(s.APIKeyRepo, cfg.Auth.BcryptCost)
	return s, nil
}

// Close drains the mail queue, if any
func (s *Services) Close() {
	if s.mailQueue != nil {
		s.mailQueue.Stop()
	}
}

// newSecretBox builds the factor secret box. Outside dev mode config
// validation guarantees a key; in dev mode a throwaway key is generated.
func newSecretBox(encoded string) (*crypto.SecretBox, error) {
	var (
		key []byte
		err error
	)
	if encoded == "" {
		slog.Warn("ENCRYPTION_KEY not set, using an ephemeral key; enrolled MFA factors will not survive a restart")
		key, err = crypto.GenerateKey()
	} else {
		key, err = crypto.ParseKey(encoded)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load encryption key: %w", err)
	}
	box, err := crypto.NewSecretBox(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize secret box: %w", err)
	}
	return box, nil
}
