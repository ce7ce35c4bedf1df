package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/one-account/one-account-api/internal/db/models"
)

// RevokeAll is the token id that stands for every token of the user
const RevokeAll = "*"

// PersonalAccessTokenStore is the storage behind the persistent scheme
type PersonalAccessTokenStore interface {
	Create(ctx context.Context, token *models.PersonalAccessToken) error
	GetByID(ctx context.Context, id string) (*models.PersonalAccessToken, error)
	ListActiveForUser(ctx context.Context, userID string, now time.Time) ([]models.PersonalAccessToken, error)
	TouchLastUsed(ctx context.Context, id string) error
	DeleteForUser(ctx context.Context, userID string, ids []string) (int64, error)
}

// PersistentTokenManager issues revocable composite tokens, one row per client
type PersistentTokenManager struct {
	tokens     PersonalAccessTokenStore
	users      UserStore
	lifetime   time.Duration
	bcryptCost int
	now        func() time.Time
}

// NewPersistentTokenManager creates a PersistentTokenManager. A zero lifetime
// issues tokens that never expire.
func NewPersistentTokenManager(tokens PersonalAccessTokenStore, users UserStore, lifetime time.Duration, bcryptCost int) *PersistentTokenManager {
	return &PersistentTokenManager{
		tokens:     tokens,
		users:      users,
		lifetime:   lifetime,
		bcryptCost: bcryptCost,
		now:        time.Now,
	}
}

// Scheme implements TokenManager
func (m *PersistentTokenManager) Scheme() Scheme { return SchemePersistent }

// GenerateToken implements TokenManager
func (m *PersistentTokenManager) GenerateToken(ctx context.Context, user *models.User, clientName string) (*IssuedToken, error) {
	secret, hash, err := NewSecret(m.bcryptCost)
	if err != nil {
		return nil, err
	}

	row := &models.PersonalAccessToken{
		UserID:    user.ID,
		Name:      clientName,
		TokenHash: hash,
	}
	if m.lifetime > 0 {
		expiresAt := m.now().Add(m.lifetime)
		row.ExpiresAt = &expiresAt
	}

	if err := m.tokens.Create(ctx, row); err != nil {
		return nil, fmt.Errorf("failed to store token: %w", err)
	}

	return &IssuedToken{
		Token:     CompositeToken{ID: row.ID, Secret: secret}.String(),
		Name:      clientName,
		ExpiresAt: row.ExpiresAt,
		Scheme:    SchemePersistent,
	}, nil
}

// Authenticate implements TokenManager
func (m *PersistentTokenManager) Authenticate(ctx context.Context, raw string) (*Principal, error) {
	parsed, err := ParseCompositeToken(raw)
	if err != nil || !IsLookupID(parsed.ID) {
		return nil, ErrInvalidToken
	}

	row, err := m.tokens.GetByID(ctx, parsed.ID)
	if err != nil {
		return nil, err
	}
	if row == nil || !CompareSecret(row.TokenHash, parsed.Secret) || row.IsExpired(m.now()) {
		return nil, ErrInvalidToken
	}

	user, err := m.users.GetUserByID(ctx, row.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.IsActive {
		return nil, ErrInvalidToken
	}

	if err := m.tokens.TouchLastUsed(ctx, row.ID); err != nil {
		slog.Warn("failed to record token use", "token_id", row.ID, "error", err)
	}

	return &Principal{User: user, Scheme: SchemePersistent, TokenID: row.ID, ClientName: row.Name}, nil
}

// InvalidateToken revokes one token of the user
func (m *PersistentTokenManager) InvalidateToken(ctx context.Context, userID, tokenID string) (bool, error) {
	n, err := m.tokens.DeleteForUser(ctx, userID, []string{tokenID})
	return n > 0, err
}

// InvalidateMultipleTokens revokes the listed tokens of the user. An id of
// RevokeAll revokes every token; an empty list revokes nothing.
func (m *PersistentTokenManager) InvalidateMultipleTokens(ctx context.Context, userID string, tokenIDs []string) (int64, error) {
	if len(tokenIDs) == 0 {
		return 0, nil
	}
	for _, id := range tokenIDs {
		if id == RevokeAll {
			return m.tokens.DeleteForUser(ctx, userID, nil)
		}
	}
	return m.tokens.DeleteForUser(ctx, userID, tokenIDs)
}

// GetAllActiveTokens lists the user's unexpired tokens
func (m *PersistentTokenManager) GetAllActiveTokens(ctx context.Context, userID string) ([]models.PersonalAccessToken, error) {
	return m.tokens.ListActiveForUser(ctx, userID, m.now())
}
