// Package auth provides the credential primitives of the account service: the
// "{id}|{secret}" composite token shared by MFA attempts, persistent tokens and
// API keys, the stateless JWT scheme, and the ordered scheme chain used to
// authenticate bearer credentials.
// See internal/middleware/auth.go for the request-time logic built on these.
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	// CompositeSeparator splits the lookup id from the secret
	CompositeSeparator = "|"

	// SecretLength is the number of characters in a generated secret half
	SecretLength = 40

	// DefaultBcryptCost is used when no cost is configured
	DefaultBcryptCost = 12
)

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var (
	// ErrMalformedToken is returned when a composite token does not split into id and secret
	ErrMalformedToken = errors.New("malformed composite token")
)

// CompositeToken is the decoded form of "{id}|{secret}"
type CompositeToken struct {
	ID     string
	Secret string
}

// String encodes the token for the caller
func (t CompositeToken) String() string {
	return t.ID + CompositeSeparator + t.Secret
}

// ParseCompositeToken splits raw on the first separator. Both halves must be non-empty.
func ParseCompositeToken(raw string) (CompositeToken, error) {
	id, secret, ok := strings.Cut(raw, CompositeSeparator)
	if !ok || id == "" || secret == "" {
		return CompositeToken{}, ErrMalformedToken
	}
	return CompositeToken{ID: id, Secret: secret}, nil
}

// IsLookupID reports whether id is a canonical UUID. Lookup ids are UUID
// columns; anything else is rejected before it reaches the database.
func IsLookupID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// RandomString returns n characters drawn uniformly from [A-Za-z0-9]
func RandomString(n int) (string, error) {
	max := big.NewInt(int64(len(alphanumeric)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		b[i] = alphanumeric[idx.Int64()]
	}
	return string(b), nil
}

// NewSecret generates a secret half and its bcrypt hash.
// Returns: plaintext secret (to embed in the token once), hash (to store)
func NewSecret(cost int) (secret string, hash string, err error) {
	secret, err = RandomString(SecretLength)
	if err != nil {
		return "", "", err
	}
	hash, err = HashSecret(secret, cost)
	if err != nil {
		return "", "", err
	}
	return secret, hash, nil
}

// HashSecret bcrypt-hashes a secret
func HashSecret(secret string, cost int) (string, error) {
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	hashBytes, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(hashBytes), nil
}

// CompareSecret checks a provided secret against a stored hash
func CompareSecret(storedHash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(secret)) == nil
}

// ExtractBearerToken extracts the credential from an Authorization header.
// Expected format: "Bearer {id}|{secret}" or "Bearer {jwt}"
func ExtractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header is empty")
	}

	if !strings.HasPrefix(header, "Bearer ") {
		return "", errors.New("authorization header must start with 'Bearer '")
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", errors.New("token is empty after Bearer prefix")
	}

	return token, nil
}
