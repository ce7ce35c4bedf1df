// Package mfa drives a login through its ordered verification steps. An
// attempt is created when the MFA policy requires it; each step resolves to a
// verification.Strategy and is completed at most once. The attempt token is a
// composite "{attempt_id}|{secret}" value of which only the secret hash is stored.
package mfa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/one-account/one-account-api/internal/auth"
	"github.com/one-account/one-account-api/internal/db/models"
	"github.com/one-account/one-account-api/internal/telemetry"
	"github.com/one-account/one-account-api/internal/verification"
)

var (
	// ErrInvalidToken covers malformed, mismatched and expired attempt tokens alike
	ErrInvalidToken = errors.New("invalid mfa attempt token")
	// ErrAttemptNotFound is returned when a well-formed token has no attempt behind it
	ErrAttemptNotFound = errors.New("mfa attempt not found")
	// ErrNoActiveStep is returned when every step of the attempt is complete
	ErrNoActiveStep = errors.New("all mfa steps have already been completed")
	// ErrStepNotSupported is returned when the active step lacks the requested capability
	ErrStepNotSupported = errors.New("current mfa step does not support this operation")
	// ErrAlreadyEnrolled is returned when provisioning is requested for an enrolled app method
	ErrAlreadyEnrolled = errors.New("user is already enrolled in this verification method")
	// ErrUnsupportedMethod is returned when a step names a method missing from the registry
	ErrUnsupportedMethod = errors.New("verification method is not registered")
)

// DefaultTokenName is the token name used when the login did not supply one
const DefaultTokenName = "api_token"

// AttemptStore persists MFA attempts
type AttemptStore interface {
	Create(ctx context.Context, attempt *models.MfaAttempt) error
	GetByID(ctx context.Context, id string) (*models.MfaAttempt, error)
	CompleteCurrentStep(ctx context.Context, id string, name models.VerificationMethod) (*models.MfaAttempt, bool, error)
}

// Config holds orchestrator settings
type Config struct {
	AttemptLifetime time.Duration
	BackupCodeCount int
	BcryptCost      int
}

// Orchestrator is the MFA pipeline state machine
type Orchestrator struct {
	registry *verification.Registry
	attempts AttemptStore
	cfg      Config
	now      func() time.Time
}

// NewOrchestrator creates an Orchestrator
func NewOrchestrator(registry *verification.Registry, attempts AttemptStore, cfg Config) *Orchestrator {
	if cfg.AttemptLifetime <= 0 {
		cfg.AttemptLifetime = 10 * time.Minute
	}
	if cfg.BackupCodeCount <= 0 {
		cfg.BackupCodeCount = 10
	}
	return &Orchestrator{registry: registry, attempts: attempts, cfg: cfg, now: time.Now}
}

// AttemptToken is returned once when an attempt is created
type AttemptToken struct {
	Token     string             `json:"mfa_token"`
	ExpiresAt time.Time          `json:"mfa_token_expires_at"`
	Steps     models.MfaSteps    `json:"mfa_steps"`
	Attempt   *models.MfaAttempt `json:"-"`
}

// ProvisioningResult is what an app-based step shows the user on enrollment
type ProvisioningResult struct {
	QRCode      string   `json:"qr_code"`
	SecretKey   string   `json:"secret_key"`
	BackupCodes []string `json:"backup_codes,omitempty"`
}

// MethodStatus describes one registered method for the settings screen
type MethodStatus struct {
	Name    models.VerificationMethod `json:"name"`
	Enabled bool                      `json:"enabled"`
	Type    models.MethodType         `json:"type"`
}

// GenerateMfaAttemptToken creates an attempt for user over methods, in order.
// Each step records its type and the user's current enrollment. A method the
// registry does not know is kept as a step so that verifying it surfaces the
// misconfiguration.
func (o *Orchestrator) GenerateMfaAttemptToken(ctx context.Context, user *models.User, methods []models.VerificationMethod, meta models.AuthMetadata) (*AttemptToken, error) {
	if len(methods) == 0 {
		return nil, errors.New("an mfa attempt needs at least one step")
	}

	steps := make(models.MfaSteps, 0, len(methods))
	for _, method := range methods {
		step := models.MfaStep{Name: method}
		if s, ok := o.registry.Get(method); ok {
			enrolled, err := s.UserIsEnrolled(ctx, user)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s enrollment: %w", method, err)
			}
			step.Type = s.Type()
			step.Enrolled = enrolled
		} else {
			slog.Warn("mfa policy references an unregistered method", "method", method)
		}
		steps = append(steps, step)
	}

	secret, hash, err := auth.NewSecret(o.cfg.BcryptCost)
	if err != nil {
		return nil, err
	}

	attempt := &models.MfaAttempt{
		UserID:       user.ID,
		TokenHash:    hash,
		Steps:        steps,
		AuthMetadata: meta,
		ExpiresAt:    o.now().Add(o.cfg.AttemptLifetime),
	}
	if err := o.attempts.Create(ctx, attempt); err != nil {
		return nil, fmt.Errorf("failed to store mfa attempt: %w", err)
	}
	telemetry.MfaAttemptsCreatedTotal.Inc()

	return &AttemptToken{
		Token:     auth.CompositeToken{ID: attempt.ID, Secret: secret}.String(),
		ExpiresAt: attempt.ExpiresAt,
		Steps:     steps,
		Attempt:   attempt,
	}, nil
}

// VerifyMfaAttemptToken resolves raw to its attempt. The id must exist, the
// secret must match the stored hash and the attempt must not be expired.
func (o *Orchestrator) VerifyMfaAttemptToken(ctx context.Context, raw string) (*models.MfaAttempt, error) {
	token, err := auth.ParseCompositeToken(raw)
	if err != nil || !auth.IsLookupID(token.ID) {
		return nil, ErrInvalidToken
	}

	attempt, err := o.attempts.GetByID(ctx, token.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load mfa attempt: %w", err)
	}
	if attempt == nil {
		return nil, ErrAttemptNotFound
	}
	if !auth.CompareSecret(attempt.TokenHash, token.Secret) {
		slog.Debug("mfa attempt token hash mismatch", "mfa_attempt_id", attempt.ID)
		return nil, ErrInvalidToken
	}
	if attempt.IsExpired(o.now()) {
		slog.Debug("mfa attempt expired", "mfa_attempt_id", attempt.ID)
		return nil, ErrInvalidToken
	}
	return attempt, nil
}

// GetCurrentMfaStep returns the first incomplete step, or nil when all are complete
func (o *Orchestrator) GetCurrentMfaStep(attempt *models.MfaAttempt) *models.MfaStep {
	return attempt.CurrentStep()
}

// AllMfaStepsAreCompleted reports whether attempt reached its terminal state
func (o *Orchestrator) AllMfaStepsAreCompleted(attempt *models.MfaAttempt) bool {
	return attempt.AllStepsCompleted()
}

// activeStrategy resolves the strategy of the active step
func (o *Orchestrator) activeStrategy(attempt *models.MfaAttempt) (*models.MfaStep, verification.Strategy, error) {
	step := attempt.CurrentStep()
	if step == nil {
		return nil, nil, ErrNoActiveStep
	}
	s, ok := o.registry.Get(step.Name)
	if !ok {
		return step, nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, step.Name)
	}
	return step, s, nil
}

// RunSecretGeneration makes sure the active step has a secret. It does
// nothing when the pipeline is complete or the method is unregistered.
func (o *Orchestrator) RunSecretGeneration(ctx context.Context, attempt *models.MfaAttempt, user *models.User) error {
	step, s, err := o.activeStrategy(attempt)
	if errors.Is(err, ErrNoActiveStep) {
		return nil
	}
	if errors.Is(err, ErrUnsupportedMethod) {
		slog.Warn("skipping secret generation for unregistered method", "method", step.Name, "mfa_attempt_id", attempt.ID)
		return nil
	}
	if _, err := s.GetOrCreateSecret(ctx, user, false); err != nil {
		return fmt.Errorf("failed to prepare %s secret: %w", step.Name, err)
	}
	return nil
}

// RunCodeDelivery sends a code for the active delivery step
func (o *Orchestrator) RunCodeDelivery(ctx context.Context, attempt *models.MfaAttempt, user *models.User) error {
	step, _, err := o.activeStrategy(attempt)
	if errors.Is(err, ErrUnsupportedMethod) {
		slog.Warn("skipping code delivery for unregistered method", "method", step.Name, "mfa_attempt_id", attempt.ID)
		return nil
	}
	if err != nil {
		return err
	}
	d, ok := o.registry.Delivery(step.Name)
	if !ok {
		return ErrStepNotSupported
	}
	return d.SendCode(ctx, user)
}

// appStep resolves the active step as an app-based strategy
func (o *Orchestrator) appStep(attempt *models.MfaAttempt, op string) (*models.MfaStep, verification.AppStrategy, error) {
	step, _, err := o.activeStrategy(attempt)
	if errors.Is(err, ErrUnsupportedMethod) {
		slog.Warn("mfa operation on unregistered method", "op", op, "method", step.Name, "mfa_attempt_id", attempt.ID)
		return nil, nil, ErrStepNotSupported
	}
	if err != nil {
		return nil, nil, err
	}
	app, ok := o.registry.App(step.Name)
	if !ok {
		return nil, nil, ErrStepNotSupported
	}
	return step, app, nil
}

// RunQrCodeGeneration provisions the active app-based step: it enrolls the
// user and returns the QR code, secret key and fresh backup codes. It is only
// available once; an enrolled user gets ErrAlreadyEnrolled, including every
// caller that loses a concurrent race for the enrollment. A backup code
// failure is logged and the result carries no codes.
func (o *Orchestrator) RunQrCodeGeneration(ctx context.Context, attempt *models.MfaAttempt, user *models.User) (*ProvisioningResult, error) {
	step, app, err := o.appStep(attempt, "qr_code")
	if err != nil {
		return nil, err
	}

	won, err := app.ClaimEnrollment(ctx, user)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, ErrAlreadyEnrolled
	}

	result, err := o.render(ctx, app, user)
	if err != nil {
		if releaseErr := app.UnEnrollUser(ctx, user); releaseErr != nil {
			slog.Error("failed to release enrollment", "method", step.Name, "user_id", user.ID, "error", releaseErr)
		}
		return nil, err
	}

	codes, err := app.GenerateBackupCodes(ctx, user, o.cfg.BackupCodeCount)
	if err != nil {
		slog.Error("unable to generate backup codes", "method", step.Name, "user_id", user.ID, "error", err)
		codes = []string{}
	}
	result.BackupCodes = codes
	return result, nil
}

// provision renders the QR code and secret key and enrolls the user
func (o *Orchestrator) provision(ctx context.Context, app verification.AppStrategy, user *models.User) (*ProvisioningResult, error) {
	result, err := o.render(ctx, app, user)
	if err != nil {
		return nil, err
	}
	if err := app.EnrollUser(ctx, user); err != nil {
		return nil, err
	}
	return result, nil
}

func (o *Orchestrator) render(ctx context.Context, app verification.AppStrategy, user *models.User) (*ProvisioningResult, error) {
	secret, err := app.GetOrCreateSecret(ctx, user, false)
	if err != nil {
		return nil, err
	}
	qr, err := app.GenerateQRCode(ctx, user)
	if err != nil {
		return nil, err
	}
	return &ProvisioningResult{QRCode: qr, SecretKey: secret}, nil
}

// RunGetSecretKey returns the setup key of the active app-based step for
// manual entry into an authenticator app
func (o *Orchestrator) RunGetSecretKey(ctx context.Context, attempt *models.MfaAttempt, user *models.User) (string, error) {
	_, app, err := o.appStep(attempt, "secret_key")
	if err != nil {
		return "", err
	}
	return app.GetOrCreateSecret(ctx, user, false)
}

// RunBackupCodeGeneration replaces the backup codes of the active app-based step
func (o *Orchestrator) RunBackupCodeGeneration(ctx context.Context, attempt *models.MfaAttempt, user *models.User) ([]string, error) {
	_, app, err := o.appStep(attempt, "backup_codes")
	if err != nil {
		return nil, err
	}
	return app.GenerateBackupCodes(ctx, user, o.cfg.BackupCodeCount)
}

// RunCodeVerification checks code against the active step and completes it on
// success. It returns the freshest attempt and whether this call completed the
// step. A wrong code, or a step completed concurrently by another request, is
// (attempt, false, nil). A complete pipeline returns ErrNoActiveStep.
func (o *Orchestrator) RunCodeVerification(ctx context.Context, attempt *models.MfaAttempt, user *models.User, code string) (*models.MfaAttempt, bool, error) {
	step, s, err := o.activeStrategy(attempt)
	if err != nil {
		if errors.Is(err, ErrUnsupportedMethod) {
			slog.Error("mfa step references an unregistered method", "method", step.Name, "mfa_attempt_id", attempt.ID)
		}
		return attempt, false, err
	}

	ok, err := s.VerifyCode(ctx, user, code)
	if err != nil {
		telemetry.MfaStepVerificationsTotal.WithLabelValues(string(step.Name), telemetry.ResultError).Inc()
		return attempt, false, fmt.Errorf("failed to verify %s code: %w", step.Name, err)
	}
	if !ok {
		telemetry.MfaStepVerificationsTotal.WithLabelValues(string(step.Name), telemetry.ResultFailure).Inc()
		return attempt, false, nil
	}

	return o.completeStep(ctx, attempt, step.Name)
}

// RunBackupCodeVerification redeems a backup code for the active app-based
// step. On success the step is re-provisioned with a fresh secret, since the
// user's device is presumed lost, and the new QR code is returned. The step
// itself stays active until a code from the new secret is verified.
func (o *Orchestrator) RunBackupCodeVerification(ctx context.Context, attempt *models.MfaAttempt, user *models.User, code string) (*ProvisioningResult, bool, error) {
	step, app, err := o.appStep(attempt, "backup_code_verification")
	if err != nil {
		return nil, false, err
	}

	ok, err := app.VerifyBackupCode(ctx, user, code)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	if _, err := app.GetOrCreateSecret(ctx, user, true); err != nil {
		return nil, true, fmt.Errorf("failed to rotate %s secret: %w", step.Name, err)
	}
	result, err := o.provision(ctx, app, user)
	if err != nil {
		return nil, true, err
	}
	return result, true, nil
}

// completeStep persists the completion against the stored step list
func (o *Orchestrator) completeStep(ctx context.Context, attempt *models.MfaAttempt, name models.VerificationMethod) (*models.MfaAttempt, bool, error) {
	updated, completed, err := o.attempts.CompleteCurrentStep(ctx, attempt.ID, name)
	if err != nil {
		telemetry.MfaStepVerificationsTotal.WithLabelValues(string(name), telemetry.ResultError).Inc()
		return attempt, false, fmt.Errorf("failed to complete mfa step: %w", err)
	}
	if updated == nil {
		return attempt, false, ErrAttemptNotFound
	}
	if !completed {
		telemetry.MfaStepVerificationsTotal.WithLabelValues(string(name), telemetry.ResultRejected).Inc()
		return updated, false, nil
	}
	telemetry.MfaStepVerificationsTotal.WithLabelValues(string(name), telemetry.ResultSuccess).Inc()
	return updated, true, nil
}

// GetAllMfaMethods lists every registered method. Methods enabled by policy
// come first in policy order, the rest follow in registry order.
func (o *Orchestrator) GetAllMfaMethods(policy models.MfaPolicy) []MethodStatus {
	methods := make([]MethodStatus, 0, len(o.registry.Methods()))
	enabled := make(map[models.VerificationMethod]bool, len(policy.Steps))

	for _, name := range policy.Steps {
		s, ok := o.registry.Get(name)
		if !ok || enabled[name] {
			continue
		}
		enabled[name] = true
		methods = append(methods, MethodStatus{Name: name, Enabled: true, Type: s.Type()})
	}
	for _, name := range o.registry.Methods() {
		if enabled[name] {
			continue
		}
		s, _ := o.registry.Get(name)
		methods = append(methods, MethodStatus{Name: name, Enabled: false, Type: s.Type()})
	}
	return methods
}

// UnEnrollUser clears the user's enrollment in method so it can be provisioned again
func (o *Orchestrator) UnEnrollUser(ctx context.Context, user *models.User, method models.VerificationMethod) error {
	s, ok := o.registry.Get(method)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}
	return s.UnEnrollUser(ctx, user)
}

// TokenName returns the token name requested at login
func TokenName(meta models.AuthMetadata) string {
	if meta.TokenName == "" {
		return DefaultTokenName
	}
	return meta.TokenName
}
