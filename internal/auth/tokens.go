package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/one-account/one-account-api/internal/db/models"
	"github.com/one-account/one-account-api/internal/telemetry"
)

// Scheme names a bearer token implementation
type Scheme string

const (
	// SchemePersistent issues revocable composite tokens stored per client
	SchemePersistent Scheme = "persistent"
	// SchemeJWT issues stateless signed tokens
	SchemeJWT Scheme = "jwt"
)

var (
	// ErrInvalidToken is returned when a bearer credential is rejected. The
	// cause (malformed, unknown, mismatched, expired) is deliberately not exposed.
	ErrInvalidToken = errors.New("invalid token")
	// ErrUnknownScheme is returned for a scheme name that is not configured
	ErrUnknownScheme = errors.New("unknown token scheme")
)

// ParseScheme resolves a scheme name. "sanctum" is accepted as an alias of
// persistent for older clients.
func ParseScheme(name string) (Scheme, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "persistent", "sanctum":
		return SchemePersistent, nil
	case "jwt":
		return SchemeJWT, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownScheme, name)
	}
}

// IssuedToken is a freshly minted bearer token. Token is only available here.
type IssuedToken struct {
	Token     string     `json:"token"`
	Name      string     `json:"token_name"`
	ExpiresAt *time.Time `json:"expires_at"`
	Scheme    Scheme     `json:"-"`
}

// Principal is the result of a successful bearer authentication
type Principal struct {
	User       *models.User
	Scheme     Scheme
	TokenID    string // persistent tokens only
	ClientName string
}

// UserStore resolves token owners
type UserStore interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
}

// TokenManager issues and validates bearer tokens of one scheme.
// Authenticate returns ErrInvalidToken when the token is rejected and any
// other error only for genuine faults.
type TokenManager interface {
	Scheme() Scheme
	GenerateToken(ctx context.Context, user *models.User, clientName string) (*IssuedToken, error)
	Authenticate(ctx context.Context, raw string) (*Principal, error)
}

// TokenIsValid reports whether m accepts raw
func TokenIsValid(ctx context.Context, m TokenManager, raw string) (bool, error) {
	_, err := m.Authenticate(ctx, raw)
	if errors.Is(err, ErrInvalidToken) {
		return false, nil
	}
	return err == nil, err
}

// GetTokenOwner returns the user behind raw, or nil when m rejects it
func GetTokenOwner(ctx context.Context, m TokenManager, raw string) (*models.User, error) {
	p, err := m.Authenticate(ctx, raw)
	if errors.Is(err, ErrInvalidToken) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p.User, nil
}

// TokenChain holds the enabled schemes in the order they are tried
type TokenChain struct {
	managers      []TokenManager
	defaultScheme Scheme
}

// NewTokenChain builds a chain. defaultScheme must be one of the managers' schemes.
func NewTokenChain(defaultScheme Scheme, managers ...TokenManager) (*TokenChain, error) {
	if len(managers) == 0 {
		return nil, errors.New("token chain needs at least one scheme")
	}
	c := &TokenChain{managers: managers, defaultScheme: defaultScheme}
	if _, err := c.Manager(defaultScheme); err != nil {
		return nil, fmt.Errorf("default scheme: %w", err)
	}
	return c, nil
}

// Schemes returns the configured schemes in order
func (c *TokenChain) Schemes() []Scheme {
	schemes := make([]Scheme, len(c.managers))
	for i, m := range c.managers {
		schemes[i] = m.Scheme()
	}
	return schemes
}

// Manager returns the manager for scheme
func (c *TokenChain) Manager(scheme Scheme) (TokenManager, error) {
	for _, m := range c.managers {
		if m.Scheme() == scheme {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
}

// Issue mints a token with the named scheme, or the default one when scheme is empty
func (c *TokenChain) Issue(ctx context.Context, scheme Scheme, user *models.User, clientName string) (*IssuedToken, error) {
	if scheme == "" {
		scheme = c.defaultScheme
	}
	m, err := c.Manager(scheme)
	if err != nil {
		return nil, err
	}
	token, err := m.GenerateToken(ctx, user, clientName)
	if err != nil {
		return nil, err
	}
	telemetry.AuthTokensIssuedTotal.WithLabelValues(string(scheme)).Inc()
	return token, nil
}

// Authenticate tries each scheme in order; the first that accepts raw wins.
// A fault in any scheme stops the chain.
func (c *TokenChain) Authenticate(ctx context.Context, raw string) (*Principal, error) {
	for _, m := range c.managers {
		p, err := m.Authenticate(ctx, raw)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrInvalidToken) {
			return nil, fmt.Errorf("%s scheme: %w", m.Scheme(), err)
		}
	}
	return nil, ErrInvalidToken
}
