// Package admin implements the authenticated HTTP handlers of the account API:
// login and the MFA pipeline, bearer token management, API keys and the
// application settings. Each handler group is a struct built from its
// collaborators; the router decides which middleware guards each route.
package admin

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/one-account/one-account-api/internal/api/apierror"
	"github.com/one-account/one-account-api/internal/auth"
	"github.com/one-account/one-account-api/internal/db/models"
	"github.com/one-account/one-account-api/internal/mfa"
	"github.com/one-account/one-account-api/internal/middleware"
	"github.com/one-account/one-account-api/internal/settings"
)

// UserStore is the account lookup used by login and the MFA endpoints
type UserStore interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	MarkEmailVerified(ctx context.Context, userID string, at time.Time) error
}

// TokenIssuer mints bearer tokens for the configured schemes
type TokenIssuer interface {
	Schemes() []auth.Scheme
	Issue(ctx context.Context, scheme auth.Scheme, user *models.User, clientName string) (*auth.IssuedToken, error)
}

// Pipeline is the MFA state machine behind the /auth/mfa endpoints
type Pipeline interface {
	GenerateMfaAttemptToken(ctx context.Context, user *models.User, methods []models.VerificationMethod, meta models.AuthMetadata) (*mfa.AttemptToken, error)
	VerifyMfaAttemptToken(ctx context.Context, raw string) (*models.MfaAttempt, error)
	RunSecretGeneration(ctx context.Context, attempt *models.MfaAttempt, user *models.User) error
	RunCodeDelivery(ctx context.Context, attempt *models.MfaAttempt, user *models.User) error
	RunQrCodeGeneration(ctx context.Context, attempt *models.MfaAttempt, user *models.User) (*mfa.ProvisioningResult, error)
	RunCodeVerification(ctx context.Context, attempt *models.MfaAttempt, user *models.User, code string) (*models.MfaAttempt, bool, error)
	RunBackupCodeVerification(ctx context.Context, attempt *models.MfaAttempt, user *models.User, code string) (*mfa.ProvisioningResult, bool, error)
	GetAllMfaMethods(policy models.MfaPolicy) []mfa.MethodStatus
	UnEnrollUser(ctx context.Context, user *models.User, method models.VerificationMethod) error
}

// AuthHandlers handles login and the MFA pipeline endpoints
type AuthHandlers struct {
	users    UserStore
	tokens   TokenIssuer
	pipeline Pipeline
	policy   settings.PolicySource
	now      func() time.Time

	checkPassword func(hash, password string) bool
}

// NewAuthHandlers creates a new AuthHandlers instance
func NewAuthHandlers(users UserStore, tokens TokenIssuer, pipeline Pipeline, policy settings.PolicySource) *AuthHandlers {
	return &AuthHandlers{
		users:    users,
		tokens:   tokens,
		pipeline: pipeline,
		policy:   policy,
		now:      time.Now,

		checkPassword: auth.CheckPassword,
	}
}

// LoginRequest represents the credentials posted to POST /auth/tokens
type LoginRequest struct {
	Email      string `json:"email" binding:"required"`
	Password   string `json:"password" binding:"required"`
	ClientName string `json:"client_name"`
	AuthType   string `json:"auth_type"` // persistent (alias sanctum) or jwt; empty = default scheme
	WithUser   bool   `json:"with_user"`
}

// TokenResponse is returned once a login is complete
type TokenResponse struct {
	Token     string       `json:"token"`
	TokenName string       `json:"token_name"`
	ExpiresAt *time.Time   `json:"expires_at"`
	User      *models.User `json:"user,omitempty"`
}

// @Summary      Log in
// @Description  Checks the credentials. When the MFA policy is enabled an MFA attempt token is returned instead of a bearer token.
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        body  body  LoginRequest  true  "Credentials"
// @Success      200  {object}  TokenResponse
// @Failure      401  {object}  apierror.Response  "Invalid credentials"
// @Failure      403  {object}  apierror.Response  "Account disabled"
// @Failure      422  {object}  apierror.Response  "Validation error"
// @Failure      429  {object}  apierror.Response  "Too many attempts"
// @Router       /api/v1/auth/tokens [post]
// LoginHandler authenticates a user by email and password
// POST /api/v1/auth/tokens
func (h *AuthHandlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierror.Validation(c, "The email and password fields are required.")
			return
		}

		var scheme auth.Scheme
		if req.AuthType != "" {
			parsed, err := auth.ParseScheme(req.AuthType)
			if err != nil || !h.schemeEnabled(parsed) {
				apierror.Validation(c, "The selected auth_type is invalid.")
				return
			}
			scheme = parsed
		}

		ctx := c.Request.Context()
		log := middleware.RequestLogger(ctx)

		user, err := h.users.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
		if err != nil {
			log.Error("failed to look up user", "error", err)
			apierror.Server(c)
			return
		}
		// Unknown accounts still pay for a bcrypt compare.
		known := user != nil && user.PasswordHash != ""
		hash := auth.DummyPasswordHash()
		if known {
			hash = user.PasswordHash
		}
		if !h.checkPassword(hash, req.Password) || !known {
			apierror.Abort(c, http.StatusUnauthorized, apierror.CodeInvalidCredentials, "The provided credentials are incorrect.")
			return
		}
		if !user.IsActive {
			apierror.Forbidden(c, "This account has been disabled.")
			return
		}

		policy, err := h.policy.GetMfaConfig(ctx)
		if err != nil {
			log.Error("failed to read mfa policy", "error", err)
			apierror.Server(c)
			return
		}

		meta := models.AuthMetadata{
			TokenName: req.ClientName,
			AuthType:  string(scheme),
			WithUser:  req.WithUser,
		}

		if !policy.Enabled || len(policy.Steps) == 0 {
			h.issueToken(c, user, meta)
			return
		}

		attempt, err := h.pipeline.GenerateMfaAttemptToken(ctx, user, policy.Steps, meta)
		if err != nil {
			log.Error("failed to create mfa attempt", "user_id", user.ID, "error", err)
			apierror.Server(c)
			return
		}
		if err := h.pipeline.RunSecretGeneration(ctx, attempt.Attempt, user); err != nil {
			log.Error("failed to prepare first mfa step", "user_id", user.ID, "error", err)
			apierror.Server(c)
			return
		}

		// The first code goes out with the login response; a failed delivery
		// can be retried through send-code.
		if step := attempt.Attempt.CurrentStep(); step != nil && step.Type == models.MethodTypeDelivery {
			if err := h.pipeline.RunCodeDelivery(ctx, attempt.Attempt, user); err != nil {
				log.Error("failed to deliver first mfa code", "user_id", user.ID, "method", step.Name, "error", err)
			}
		}

		c.JSON(http.StatusOK, attempt)
	}
}

func (h *AuthHandlers) schemeEnabled(scheme auth.Scheme) bool {
	for _, s := range h.tokens.Schemes() {
		if s == scheme {
			return true
		}
	}
	return false
}

// issueToken mints the bearer token described by meta and writes it
func (h *AuthHandlers) issueToken(c *gin.Context, user *models.User, meta models.AuthMetadata) {
	name := mfa.TokenName(meta)
	issued, err := h.tokens.Issue(c.Request.Context(), auth.Scheme(meta.AuthType), user, name)
	if err != nil {
		if errors.Is(err, auth.ErrUnknownScheme) {
			apierror.Validation(c, "The selected auth_type is invalid.")
			return
		}
		middleware.RequestLogger(c.Request.Context()).Error("failed to issue token", "user_id", user.ID, "error", err)
		apierror.Server(c)
		return
	}

	resp := TokenResponse{Token: issued.Token, TokenName: name, ExpiresAt: issued.ExpiresAt}
	if meta.WithUser {
		resp.User = user
	}
	c.JSON(http.StatusOK, resp)
}
