package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/one-account/one-account-api/internal/db/models"
)

func newPersistentManager(lifetime time.Duration) (*PersistentTokenManager, *fakeTokens, *fakeUsers) {
	tokens := newFakeTokens()
	users := newFakeUsers(
		&models.User{ID: "user-1", IsActive: true},
		&models.User{ID: "user-2", IsActive: true},
	)
	return NewPersistentTokenManager(tokens, users, lifetime, bcrypt.MinCost), tokens, users
}

func TestPersistentTokenManager_GenerateAndAuthenticate(t *testing.T) {
	m, tokens, users := newPersistentManager(0)
	ctx := context.Background()

	issued, err := m.GenerateToken(ctx, users.byID["user-1"], "api_token")
	require.NoError(t, err)
	assert.Nil(t, issued.ExpiresAt, "zero lifetime means no expiry")

	parsed, err := ParseCompositeToken(issued.Token)
	require.NoError(t, err)
	stored := tokens.rows[parsed.ID]
	require.NotNil(t, stored)
	assert.NotContains(t, stored.TokenHash, parsed.Secret)

	p, err := m.Authenticate(ctx, issued.Token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", p.User.ID)
	assert.Equal(t, parsed.ID, p.TokenID)
	assert.Equal(t, "api_token", p.ClientName)
	assert.Equal(t, []string{parsed.ID}, tokens.touched)
}

func TestPersistentTokenManager_Rejections(t *testing.T) {
	m, _, users := newPersistentManager(time.Hour)
	ctx := context.Background()

	issued, err := m.GenerateToken(ctx, users.byID["user-1"], "cli")
	require.NoError(t, err)
	parsed, _ := ParseCompositeToken(issued.Token)

	cases := map[string]string{
		"malformed":      "no-separator",
		"non uuid id":    "missing|" + parsed.Secret,
		"urn uuid id":    "urn:uuid:" + parsed.ID + "|" + parsed.Secret,
		"unknown id":     uuid.New().String() + "|" + parsed.Secret,
		"wrong secret":   parsed.ID + "|" + parsed.Secret + "x",
		"swapped halves": parsed.Secret + "|" + parsed.ID,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := m.Authenticate(ctx, raw)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}

	t.Run("expired", func(t *testing.T) {
		m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		defer func() { m.now = time.Now }()
		_, err := m.Authenticate(ctx, issued.Token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("inactive owner", func(t *testing.T) {
		users.byID["user-1"].IsActive = false
		defer func() { users.byID["user-1"].IsActive = true }()
		_, err := m.Authenticate(ctx, issued.Token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestPersistentTokenManager_Invalidate(t *testing.T) {
	m, tokens, users := newPersistentManager(0)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		issued, err := m.GenerateToken(ctx, users.byID["user-1"], "device")
		require.NoError(t, err)
		parsed, _ := ParseCompositeToken(issued.Token)
		ids = append(ids, parsed.ID)
	}
	other, err := m.GenerateToken(ctx, users.byID["user-2"], "device")
	require.NoError(t, err)

	ok, err := m.InvalidateToken(ctx, "user-1", ids[0])
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.InvalidateToken(ctx, "user-2", ids[1])
	require.NoError(t, err)
	assert.False(t, ok, "a user cannot revoke someone else's token")

	n, err := m.InvalidateMultipleTokens(ctx, "user-1", nil)
	require.NoError(t, err)
	assert.Zero(t, n, "empty list revokes nothing")

	active, err := m.GetAllActiveTokens(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, active, 2)

	n, err = m.InvalidateMultipleTokens(ctx, "user-1", []string{RevokeAll})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Len(t, tokens.rows, 1)

	_, err = m.Authenticate(ctx, other.Token)
	assert.NoError(t, err, "other users' tokens survive a revoke-all")
}

func TestPersistentTokenManager_NonUUIDIDNeverReachesStore(t *testing.T) {
	m, tokens, _ := newPersistentManager(0)
	tokens.getErr = &pq.Error{Code: "22P02", Message: `invalid input syntax for type uuid: "foo"`}

	_, err := m.Authenticate(context.Background(), "foo|bar")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.Authenticate(context.Background(), uuid.New().String()+"|bar")
	assert.NotErrorIs(t, err, ErrInvalidToken, "a well formed id is looked up and store faults surface")
}

func TestTokenChain_NonUUIDPersistentTokenFallsThroughToJWT(t *testing.T) {
	persistent, tokens, users := newPersistentManager(0)
	tokens.getErr = &pq.Error{Code: "22P02"}
	jwtManager := NewJWTTokenManager(users, time.Hour, "one-account")

	chain, err := NewTokenChain(SchemePersistent, persistent, jwtManager)
	require.NoError(t, err)

	_, err = chain.Authenticate(context.Background(), "foo|bar")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
