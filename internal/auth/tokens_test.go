package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/one-account/one-account-api/internal/db/models"
)

type stubManager struct {
	scheme    Scheme
	principal *Principal
	err       error
	calls     int
}

func (s *stubManager) Scheme() Scheme { return s.scheme }

func (s *stubManager) GenerateToken(_ context.Context, _ *models.User, name string) (*IssuedToken, error) {
	return &IssuedToken{Token: string(s.scheme) + "-token", Name: name, Scheme: s.scheme}, nil
}

func (s *stubManager) Authenticate(context.Context, string) (*Principal, error) {
	s.calls++
	return s.principal, s.err
}

func TestParseScheme(t *testing.T) {
	tests := []struct {
		in      string
		want    Scheme
		wantErr bool
	}{
		{"persistent", SchemePersistent, false},
		{"sanctum", SchemePersistent, false},
		{" JWT ", SchemeJWT, false},
		{"session", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseScheme(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownScheme)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewTokenChain_DefaultMustBeConfigured(t *testing.T) {
	_, err := NewTokenChain(SchemeJWT, &stubManager{scheme: SchemePersistent})
	assert.ErrorIs(t, err, ErrUnknownScheme)

	_, err = NewTokenChain(SchemeJWT)
	assert.Error(t, err)
}

func TestTokenChain_AuthenticateOrder(t *testing.T) {
	user := &models.User{ID: "user-1"}

	t.Run("first acceptance wins", func(t *testing.T) {
		first := &stubManager{scheme: SchemePersistent, principal: &Principal{User: user, Scheme: SchemePersistent}}
		second := &stubManager{scheme: SchemeJWT, err: ErrInvalidToken}
		chain, err := NewTokenChain(SchemePersistent, first, second)
		require.NoError(t, err)

		p, err := chain.Authenticate(context.Background(), "tok")
		require.NoError(t, err)
		assert.Equal(t, SchemePersistent, p.Scheme)
		assert.Zero(t, second.calls)
	})

	t.Run("falls through on rejection", func(t *testing.T) {
		first := &stubManager{scheme: SchemePersistent, err: ErrInvalidToken}
		second := &stubManager{scheme: SchemeJWT, principal: &Principal{User: user, Scheme: SchemeJWT}}
		chain, _ := NewTokenChain(SchemePersistent, first, second)

		p, err := chain.Authenticate(context.Background(), "tok")
		require.NoError(t, err)
		assert.Equal(t, SchemeJWT, p.Scheme)
	})

	t.Run("all reject", func(t *testing.T) {
		chain, _ := NewTokenChain(SchemeJWT,
			&stubManager{scheme: SchemeJWT, err: ErrInvalidToken},
			&stubManager{scheme: SchemePersistent, err: ErrInvalidToken},
		)
		_, err := chain.Authenticate(context.Background(), "tok")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("fault stops the chain", func(t *testing.T) {
		fault := errors.New("db down")
		second := &stubManager{scheme: SchemeJWT, principal: &Principal{User: user}}
		chain, _ := NewTokenChain(SchemeJWT, &stubManager{scheme: SchemePersistent, err: fault}, second)

		_, err := chain.Authenticate(context.Background(), "tok")
		assert.ErrorIs(t, err, fault)
		assert.Zero(t, second.calls)
	})
}

func TestTokenChain_Issue(t *testing.T) {
	chain, err := NewTokenChain(SchemePersistent,
		&stubManager{scheme: SchemePersistent},
		&stubManager{scheme: SchemeJWT},
	)
	require.NoError(t, err)
	assert.Equal(t, []Scheme{SchemePersistent, SchemeJWT}, chain.Schemes())

	tok, err := chain.Issue(context.Background(), "", &models.User{ID: "u"}, "api_token")
	require.NoError(t, err)
	assert.Equal(t, SchemePersistent, tok.Scheme)

	tok, err = chain.Issue(context.Background(), SchemeJWT, &models.User{ID: "u"}, "api_token")
	require.NoError(t, err)
	assert.Equal(t, SchemeJWT, tok.Scheme)

	_, err = chain.Issue(context.Background(), "other", &models.User{ID: "u"}, "x")
	assert.ErrorIs(t, err, ErrUnknownScheme)
}
