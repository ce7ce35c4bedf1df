package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/one-account/one-account-api/internal/api/apierror"
	"github.com/one-account/one-account-api/internal/auth"
	"github.com/one-account/one-account-api/internal/db/models"
	"github.com/one-account/one-account-api/internal/middleware"
)

// PersistentTokens manages the stored bearer tokens of a user
type PersistentTokens interface {
	GetAllActiveTokens(ctx context.Context, userID string) ([]models.PersonalAccessToken, error)
	InvalidateToken(ctx context.Context, userID, tokenID string) (bool, error)
	InvalidateMultipleTokens(ctx context.Context, userID string, tokenIDs []string) (int64, error)
}

// TokenHandlers handles bearer token management. The routes only make sense
// for the persistent scheme and are guarded accordingly.
type TokenHandlers struct {
	tokens PersistentTokens
}

// NewTokenHandlers creates a new TokenHandlers instance
func NewTokenHandlers(tokens PersistentTokens) *TokenHandlers {
	return &TokenHandlers{tokens: tokens}
}

// TokenView is one active token as listed to its owner
type TokenView struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Current    bool       `json:"current"`
	ExpiresAt  *time.Time `json:"expires_at"`
	LastUsedAt *time.Time `json:"last_used_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

// InvalidateTokensRequest lists the tokens to revoke; ["*"] revokes all of them
type InvalidateTokensRequest struct {
	TokenIDs []string `json:"token_ids" binding:"required,min=1"`
}

// ListTokensHandler lists the caller's active tokens
// GET /api/v1/auth/tokens
func (h *TokenHandlers) ListTokensHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := middleware.CurrentPrincipal(c)
		if !ok {
			apierror.Unauthorized(c)
			return
		}

		tokens, err := h.tokens.GetAllActiveTokens(c.Request.Context(), principal.User.ID)
		if err != nil {
			middleware.RequestLogger(c.Request.Context()).Error("failed to list tokens", "user_id", principal.User.ID, "error", err)
			apierror.Server(c)
			return
		}

		views := make([]TokenView, 0, len(tokens))
		for _, t := range tokens {
			views = append(views, TokenView{
				ID:         t.ID,
				Name:       t.Name,
				Current:    t.ID == principal.TokenID,
				ExpiresAt:  t.ExpiresAt,
				LastUsedAt: t.LastUsedAt,
				CreatedAt:  t.CreatedAt,
			})
		}
		c.JSON(http.StatusOK, gin.H{"tokens": views})
	}
}

// InvalidateCurrentTokenHandler revokes the token used for this request
// DELETE /api/v1/auth/tokens
func (h *TokenHandlers) InvalidateCurrentTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := middleware.CurrentPrincipal(c)
		if !ok || principal.TokenID == "" {
			apierror.Unauthorized(c)
			return
		}

		found, err := h.tokens.InvalidateToken(c.Request.Context(), principal.User.ID, principal.TokenID)
		if err != nil {
			middleware.RequestLogger(c.Request.Context()).Error("failed to invalidate token", "token_id", principal.TokenID, "error", err)
			apierror.Server(c)
			return
		}
		if !found {
			apierror.NotFound(c, "Token not found.")
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Token invalidated successfully"})
	}
}

// InvalidateTokensHandler revokes several of the caller's tokens
// POST /api/v1/auth/tokens/invalidate
func (h *TokenHandlers) InvalidateTokensHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := middleware.CurrentPrincipal(c)
		if !ok {
			apierror.Unauthorized(c)
			return
		}

		var req InvalidateTokensRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierror.Validation(c, "The token_ids field must list at least one token.")
			return
		}

		// Ids that cannot exist are dropped before they reach the uuid column
		ids := make([]string, 0, len(req.TokenIDs))
		for _, id := range req.TokenIDs {
			if id == auth.RevokeAll {
				ids = []string{auth.RevokeAll}
				break
			}
			if _, err := uuid.Parse(id); err == nil {
				ids = append(ids, id)
			}
		}

		n, err := h.tokens.InvalidateMultipleTokens(c.Request.Context(), principal.User.ID, ids)
		if err != nil {
			middleware.RequestLogger(c.Request.Context()).Error("failed to invalidate tokens", "user_id", principal.User.ID, "error", err)
			apierror.Server(c)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Tokens invalidated successfully", "invalidated": n})
	}
}
