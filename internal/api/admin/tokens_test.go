package admin

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/one-account/one-account-api/internal/auth"
	"github.com/one-account/one-account-api/internal/db/models"
	"github.com/one-account/one-account-api/internal/middleware"
)

const currentTokenID = "44444444-4444-4444-4444-444444444444"

type fakeTokens struct {
	active      []models.PersonalAccessToken
	invalidated []string
	found       bool
	err         error
}

func (f *fakeTokens) GetAllActiveTokens(context.Context, string) ([]models.PersonalAccessToken, error) {
	return f.active, f.err
}

func (f *fakeTokens) InvalidateToken(_ context.Context, _, tokenID string) (bool, error) {
	f.invalidated = append(f.invalidated, tokenID)
	return f.found, f.err
}

func (f *fakeTokens) InvalidateMultipleTokens(_ context.Context, _ string, ids []string) (int64, error) {
	f.invalidated = append(f.invalidated, ids...)
	return int64(len(ids)), f.err
}

func newTokenRouter(tokens *fakeTokens, principal *auth.Principal) *gin.Engine {
	h := NewTokenHandlers(tokens)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if principal != nil {
			c.Set(middleware.ContextPrincipal, principal)
		}
		c.Next()
	})
	r.GET("/auth/tokens", h.ListTokensHandler())
	r.DELETE("/auth/tokens", h.InvalidateCurrentTokenHandler())
	r.POST("/auth/tokens/invalidate", h.InvalidateTokensHandler())
	return r
}

func persistentPrincipal() *auth.Principal {
	return &auth.Principal{
		User:    &models.User{ID: testUserID},
		Scheme:  auth.SchemePersistent,
		TokenID: currentTokenID,
	}
}

// ---------------------------------------------------------------------------
// ListTokensHandler
// ---------------------------------------------------------------------------

func TestListTokensHandler_MarksCurrent(t *testing.T) {
	tokens := &fakeTokens{active: []models.PersonalAccessToken{
		{ID: currentTokenID, Name: "web", CreatedAt: time.Now()},
		{ID: "55555555-5555-5555-5555-555555555555", Name: "cli", CreatedAt: time.Now()},
	}}
	r := newTokenRouter(tokens, persistentPrincipal())
	w := perform(r, http.MethodGet, "/auth/tokens", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	list, _ := decode(t, w)["tokens"].([]interface{})
	if len(list) != 2 {
		t.Fatalf("tokens = %v, want 2", list)
	}
	if list[0].(map[string]interface{})["current"] != true || list[1].(map[string]interface{})["current"] != false {
		t.Errorf("current flags wrong: %v", list)
	}
}

func TestListTokensHandler_Unauthenticated(t *testing.T) {
	r := newTokenRouter(&fakeTokens{}, nil)
	if w := perform(r, http.MethodGet, "/auth/tokens", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestListTokensHandler_StoreError(t *testing.T) {
	r := newTokenRouter(&fakeTokens{err: errors.New("db down")}, persistentPrincipal())
	if w := perform(r, http.MethodGet, "/auth/tokens", nil); w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

// ---------------------------------------------------------------------------
// InvalidateCurrentTokenHandler
// ---------------------------------------------------------------------------

func TestInvalidateCurrentTokenHandler(t *testing.T) {
	tokens := &fakeTokens{found: true}
	r := newTokenRouter(tokens, persistentPrincipal())
	w := perform(r, http.MethodDelete, "/auth/tokens", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(tokens.invalidated) != 1 || tokens.invalidated[0] != currentTokenID {
		t.Errorf("invalidated = %v, want the current token", tokens.invalidated)
	}
}

func TestInvalidateCurrentTokenHandler_StatelessPrincipal(t *testing.T) {
	p := persistentPrincipal()
	p.Scheme = auth.SchemeJWT
	p.TokenID = ""
	r := newTokenRouter(&fakeTokens{}, p)

	if w := perform(r, http.MethodDelete, "/auth/tokens", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestInvalidateCurrentTokenHandler_NotFound(t *testing.T) {
	r := newTokenRouter(&fakeTokens{found: false}, persistentPrincipal())
	if w := perform(r, http.MethodDelete, "/auth/tokens", nil); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// ---------------------------------------------------------------------------
// InvalidateTokensHandler
// ---------------------------------------------------------------------------

func TestInvalidateTokensHandler_FiltersMalformedIDs(t *testing.T) {
	tokens := &fakeTokens{}
	r := newTokenRouter(tokens, persistentPrincipal())
	w := perform(r, http.MethodPost, "/auth/tokens/invalidate", map[string][]string{
		"token_ids": {currentTokenID, "not-a-uuid"},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(tokens.invalidated) != 1 || tokens.invalidated[0] != currentTokenID {
		t.Errorf("invalidated = %v, want only the well-formed id", tokens.invalidated)
	}
	if n := decode(t, w)["invalidated"]; n != float64(1) {
		t.Errorf("invalidated count = %v, want 1", n)
	}
}

func TestInvalidateTokensHandler_Wildcard(t *testing.T) {
	tokens := &fakeTokens{}
	r := newTokenRouter(tokens, persistentPrincipal())
	w := perform(r, http.MethodPost, "/auth/tokens/invalidate", map[string][]string{
		"token_ids": {currentTokenID, auth.RevokeAll},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(tokens.invalidated) != 1 || tokens.invalidated[0] != auth.RevokeAll {
		t.Errorf("invalidated = %v, want [*]", tokens.invalidated)
	}
}

func TestInvalidateTokensHandler_EmptyList(t *testing.T) {
	r := newTokenRouter(&fakeTokens{}, persistentPrincipal())
	w := perform(r, http.MethodPost, "/auth/tokens/invalidate", map[string][]string{"token_ids": {}})

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
}
