package admin

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/one-account/one-account-api/internal/api/apierror"
	"github.com/one-account/one-account-api/internal/db/models"
	"github.com/one-account/one-account-api/internal/mfa"
	"github.com/one-account/one-account-api/internal/middleware"
)

// MfaTokenRequest carries the attempt token returned by login
type MfaTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// MfaCodeRequest carries the attempt token and a code for the active step
type MfaCodeRequest struct {
	Token string `json:"token" binding:"required"`
	Code  string `json:"code" binding:"required"`
}

// UnEnrollRequest names the method to clear. mfa_step is accepted for older clients.
type UnEnrollRequest struct {
	Method  models.VerificationMethod `json:"method"`
	MfaStep models.VerificationMethod `json:"mfa_step"`
}

// StepResponse reports progress through the pipeline
type StepResponse struct {
	Message     string                     `json:"message"`
	CurrentStep models.VerificationMethod  `json:"current_step"`
	NextStep    *models.VerificationMethod `json:"next_step,omitempty"`
}

// QRCodeResponse is returned when an app-based step is provisioned
type QRCodeResponse struct {
	Message     string                    `json:"message,omitempty"`
	CurrentStep models.VerificationMethod `json:"current_step"`
	QRCode      string                    `json:"qr_code"`
	SecretKey   string                    `json:"secret_key"`
	BackupCodes []string                  `json:"backup_codes,omitempty"`
}

// resolveAttempt validates the attempt token and loads its owner. On failure
// the error response has been written and ok is false.
func (h *AuthHandlers) resolveAttempt(c *gin.Context, raw string) (*models.MfaAttempt, *models.User, bool) {
	ctx := c.Request.Context()
	attempt, err := h.pipeline.VerifyMfaAttemptToken(ctx, raw)
	if err != nil {
		abortMfa(c, err)
		return nil, nil, false
	}

	user, err := h.users.GetUserByID(ctx, attempt.UserID)
	if err != nil {
		middleware.RequestLogger(ctx).Error("failed to load mfa attempt owner", "mfa_attempt_id", attempt.ID, "error", err)
		apierror.Server(c)
		return nil, nil, false
	}
	if user == nil || !user.IsActive {
		abortMfa(c, mfa.ErrInvalidToken)
		return nil, nil, false
	}
	return attempt, user, true
}

// abortMfa maps pipeline errors onto the API error body
func abortMfa(c *gin.Context, err error) {
	switch {
	case errors.Is(err, mfa.ErrInvalidToken):
		apierror.Abort(c, http.StatusUnprocessableEntity, apierror.CodeInvalidMfaToken, "Invalid MFA attempt token.")
	case errors.Is(err, mfa.ErrAttemptNotFound):
		apierror.NotFound(c, "Unable to find the MFA attempt for this token.")
	case errors.Is(err, mfa.ErrNoActiveStep):
		apierror.Abort(c, http.StatusConflict, apierror.CodeConflict, "All MFA steps have already been completed.")
	case errors.Is(err, mfa.ErrStepNotSupported):
		apierror.Abort(c, http.StatusConflict, apierror.CodeConflict, "The current MFA step does not support this operation.")
	case errors.Is(err, mfa.ErrAlreadyEnrolled):
		apierror.Forbidden(c, "QR code generation is only available once during MFA.")
	case errors.Is(err, mfa.ErrUnsupportedMethod):
		middleware.RequestLogger(c.Request.Context()).Error("mfa policy references a method that is not configured", "error", err)
		apierror.Server(c)
	default:
		middleware.RequestLogger(c.Request.Context()).Error("mfa operation failed", "error", err)
		apierror.Server(c)
	}
}

func stepCompleted(attempt *models.MfaAttempt, name models.VerificationMethod) bool {
	for _, step := range attempt.Steps {
		if step.Name == name {
			return step.Completed
		}
	}
	return false
}

// @Summary      Send MFA code
// @Description  Delivers a code for the active delivery-based step.
// @Tags         MFA
// @Accept       json
// @Produce      json
// @Param        body  body  MfaTokenRequest  true  "Attempt token"
// @Success      202  {object}  StepResponse
// @Failure      404  {object}  apierror.Response  "Attempt not found"
// @Failure      409  {object}  apierror.Response  "No active delivery step"
// @Failure      422  {object}  apierror.Response  "Invalid attempt token"
// @Router       /api/v1/auth/mfa/send-code [post]
// SendCodeHandler delivers a code for the active step
// POST /api/v1/auth/mfa/send-code
func (h *AuthHandlers) SendCodeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req MfaTokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierror.Validation(c, "The token field is required.")
			return
		}

		attempt, user, ok := h.resolveAttempt(c, req.Token)
		if !ok {
			return
		}
		step := attempt.CurrentStep()
		if step == nil {
			abortMfa(c, mfa.ErrNoActiveStep)
			return
		}

		if err := h.pipeline.RunCodeDelivery(c.Request.Context(), attempt, user); err != nil {
			if errors.Is(err, mfa.ErrNoActiveStep) || errors.Is(err, mfa.ErrStepNotSupported) {
				abortMfa(c, err)
				return
			}
			middleware.RequestLogger(c.Request.Context()).Error("failed to deliver mfa code",
				"mfa_attempt_id", attempt.ID, "method", step.Name, "error", err)
			apierror.Abort(c, http.StatusServiceUnavailable, apierror.CodeDependency, "Unable to deliver the verification code.")
			return
		}

		c.JSON(http.StatusAccepted, StepResponse{Message: "OTP sent successfully", CurrentStep: step.Name})
	}
}

// @Summary      Generate MFA QR code
// @Description  Provisions the active app-based step. Available once per enrollment.
// @Tags         MFA
// @Accept       json
// @Produce      json
// @Param        body  body  MfaTokenRequest  true  "Attempt token"
// @Success      200  {object}  QRCodeResponse
// @Failure      403  {object}  apierror.Response  "Already enrolled"
// @Failure      409  {object}  apierror.Response  "No active app-based step"
// @Failure      422  {object}  apierror.Response  "Invalid attempt token"
// @Router       /api/v1/auth/mfa/generate-qrcode [post]
// GenerateQRCodeHandler returns the QR code, secret key and backup codes of the active step
// POST /api/v1/auth/mfa/generate-qrcode
func (h *AuthHandlers) GenerateQRCodeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req MfaTokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierror.Validation(c, "The token field is required.")
			return
		}

		attempt, user, ok := h.resolveAttempt(c, req.Token)
		if !ok {
			return
		}
		step := attempt.CurrentStep()
		if step == nil {
			abortMfa(c, mfa.ErrNoActiveStep)
			return
		}

		result, err := h.pipeline.RunQrCodeGeneration(c.Request.Context(), attempt, user)
		if err != nil {
			abortMfa(c, err)
			return
		}

		codes := result.BackupCodes
		if codes == nil {
			codes = []string{}
		}
		c.JSON(http.StatusOK, gin.H{
			"qr_code":      result.QRCode,
			"current_step": step.Name,
			"backup_codes": codes,
			"secret_key":   result.SecretKey,
		})
	}
}

// @Summary      Verify MFA code
// @Description  Verifies a code for the active step. Completing the last step returns a bearer token.
// @Tags         MFA
// @Accept       json
// @Produce      json
// @Param        body  body  MfaCodeRequest  true  "Attempt token and code"
// @Success      200  {object}  StepResponse  "Step completed, more remain"
// @Success      200  {object}  TokenResponse  "All steps completed"
// @Failure      409  {object}  apierror.Response  "Step already completed"
// @Failure      422  {object}  apierror.Response  "Invalid token or code"
// @Router       /api/v1/auth/mfa/verify-code [post]
// VerifyCodeHandler completes the active step when the code matches
// POST /api/v1/auth/mfa/verify-code
func (h *AuthHandlers) VerifyCodeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req MfaCodeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierror.Validation(c, "The token and code fields are required.")
			return
		}

		attempt, user, ok := h.resolveAttempt(c, req.Token)
		if !ok {
			return
		}
		current := attempt.CurrentStep()
		if current == nil {
			abortMfa(c, mfa.ErrNoActiveStep)
			return
		}

		ctx := c.Request.Context()
		updated, completed, err := h.pipeline.RunCodeVerification(ctx, attempt, user, req.Code)
		if err != nil {
			abortMfa(c, err)
			return
		}
		if !completed {
			if stepCompleted(updated, current.Name) {
				apierror.Abort(c, http.StatusConflict, apierror.CodeConflict, "This MFA step has already been completed.")
				return
			}
			apierror.Abort(c, http.StatusUnprocessableEntity, apierror.CodeInvalidMfaCode, "Invalid MFA code provided.")
			return
		}

		// A code received by email proves ownership of the address
		if current.Name == models.MethodEmailChannel && user.EmailVerifiedAt == nil {
			now := h.now()
			if err := h.users.MarkEmailVerified(ctx, user.ID, now); err != nil {
				middleware.RequestLogger(ctx).Warn("failed to mark email verified", "user_id", user.ID, "error", err)
			} else {
				user.EmailVerifiedAt = &now
			}
		}

		if next := updated.CurrentStep(); next != nil {
			c.JSON(http.StatusOK, StepResponse{
				Message:     "MFA code validation success",
				CurrentStep: current.Name,
				NextStep:    &next.Name,
			})
			return
		}

		h.issueToken(c, user, updated.AuthMetadata)
	}
}

// @Summary      Verify MFA backup code
// @Description  Redeems a backup code for the active app-based step. The step is re-provisioned with a new secret.
// @Tags         MFA
// @Accept       json
// @Produce      json
// @Param        body  body  MfaCodeRequest  true  "Attempt token and backup code"
// @Success      200  {object}  QRCodeResponse
// @Failure      409  {object}  apierror.Response  "Step does not support backup codes"
// @Failure      422  {object}  apierror.Response  "Invalid token or backup code"
// @Router       /api/v1/auth/mfa/verify-backup-code [post]
// VerifyBackupCodeHandler redeems a backup code and returns a fresh QR code
// POST /api/v1/auth/mfa/verify-backup-code
func (h *AuthHandlers) VerifyBackupCodeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req MfaCodeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierror.Validation(c, "The token and code fields are required.")
			return
		}

		attempt, user, ok := h.resolveAttempt(c, req.Token)
		if !ok {
			return
		}
		step := attempt.CurrentStep()
		if step == nil {
			abortMfa(c, mfa.ErrNoActiveStep)
			return
		}

		result, valid, err := h.pipeline.RunBackupCodeVerification(c.Request.Context(), attempt, user, req.Code)
		if err != nil {
			abortMfa(c, err)
			return
		}
		if !valid {
			apierror.Abort(c, http.StatusUnprocessableEntity, apierror.CodeInvalidMfaBackupCode, "Invalid MFA backup code provided.")
			return
		}

		c.JSON(http.StatusOK, QRCodeResponse{
			Message:     "Backup code validation success. New QR code generated.",
			CurrentStep: step.Name,
			QRCode:      result.QRCode,
			SecretKey:   result.SecretKey,
		})
	}
}

// AvailableMethodsHandler lists every configured method and whether the policy enables it
// GET /api/v1/auth/mfa/available-methods
func (h *AuthHandlers) AvailableMethodsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		policy, err := h.policy.GetMfaConfig(c.Request.Context())
		if err != nil {
			middleware.RequestLogger(c.Request.Context()).Error("failed to read mfa policy", "error", err)
			apierror.Server(c)
			return
		}
		c.JSON(http.StatusOK, gin.H{"methods": h.pipeline.GetAllMfaMethods(policy)})
	}
}

// UnEnrollUserHandler clears a user's enrollment in one method
// POST /api/v1/auth/mfa/un-enroll-user/:userId
func (h *AuthHandlers) UnEnrollUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UnEnrollRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierror.Validation(c, "Invalid request body.")
			return
		}
		method := req.Method
		if method == "" {
			method = req.MfaStep
		}
		if method == "" {
			apierror.Validation(c, "The method field is required.")
			return
		}

		userID := c.Param("userId")
		if _, err := uuid.Parse(userID); err != nil {
			apierror.NotFound(c, "User not found.")
			return
		}

		ctx := c.Request.Context()
		user, err := h.users.GetUserByID(ctx, userID)
		if err != nil {
			middleware.RequestLogger(ctx).Error("failed to load user", "user_id", userID, "error", err)
			apierror.Server(c)
			return
		}
		if user == nil {
			apierror.NotFound(c, "User not found.")
			return
		}

		if err := h.pipeline.UnEnrollUser(ctx, user, method); err != nil {
			if errors.Is(err, mfa.ErrUnsupportedMethod) {
				apierror.Validation(c, "The selected method is invalid.")
				return
			}
			middleware.RequestLogger(ctx).Error("failed to un-enroll user", "user_id", userID, "method", method, "error", err)
			apierror.Abort(c, http.StatusInternalServerError, apierror.CodeServer, "Unable to un-enroll user from MFA step.")
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "User successfully un-enrolled"})
	}
}
