// Package auth - jwt.go implements the stateless token scheme: HS256 tokens
// carrying the user id and client name, signed with a process-wide secret.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/one-account/one-account-api/internal/config"
	"github.com/one-account/one-account-api/internal/db/models"
)

// JWTSecretEnv names the environment variable holding the signing secret
const JWTSecretEnv = "OA_JWT_SECRET"

var (
	// jwtSecret holds the validated JWT secret
	jwtSecret     string
	jwtSecretOnce sync.Once
	jwtSecretErr  error
)

// Claims represents the JWT claims structure
type Claims struct {
	UserID     string `json:"user_id"`
	ClientName string `json:"client_name"`
	jwt.RegisteredClaims
}

// generateRandomSecret creates a cryptographically secure random secret
func generateRandomSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("dev-fallback-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// ValidateJWTSecret checks that the JWT secret is properly configured.
// In production, this will fail if OA_JWT_SECRET is not set.
// In dev mode, it will generate a random secret and log a warning.
// Call this at application startup.
func ValidateJWTSecret() error {
	jwtSecretOnce.Do(func() {
		secret := os.Getenv(JWTSecretEnv)

		if secret == "" {
			if config.IsDevMode() {
				jwtSecret = generateRandomSecret()
				slog.Warn("OA_JWT_SECRET not set, using an auto-generated secret for development; jwt tokens will not survive a restart")
			} else {
				jwtSecretErr = errors.New("SECURITY ERROR: OA_JWT_SECRET environment variable is required in production. " +
					"Generate a secure secret with: openssl rand -hex 32")
			}
			return
		}

		if len(secret) < 32 {
			slog.Warn("OA_JWT_SECRET is shorter than the recommended 32 characters")
		}

		jwtSecret = secret
	})

	return jwtSecretErr
}

// GetJWTSecret retrieves the validated JWT secret.
// Panics if ValidateJWTSecret() hasn't been called or failed.
func GetJWTSecret() string {
	if jwtSecret == "" {
		if err := ValidateJWTSecret(); err != nil {
			panic(err)
		}
	}
	return jwtSecret
}

// GenerateJWT signs a token for userID/clientName valid for expiresIn
func GenerateJWT(userID, clientName, issuer string, expiresIn time.Duration) (string, time.Time, error) {
	if expiresIn == 0 {
		expiresIn = 24 * time.Hour
	}

	now := time.Now()
	expiresAt := now.Add(expiresIn)
	claims := &Claims{
		UserID:     userID,
		ClientName: clientName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(GetJWTSecret()))
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// ValidateJWT parses and validates a JWT token
func ValidateJWT(tokenString string) (*Claims, error) {
	secret := GetJWTSecret()

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || claims.UserID == "" {
		return nil, errors.New("invalid claims type")
	}
	return claims, nil
}

// JWTTokenManager is the stateless scheme. Validation touches storage only to
// re-resolve the owner.
type JWTTokenManager struct {
	users    UserStore
	lifetime time.Duration
	issuer   string
}

// NewJWTTokenManager creates a JWTTokenManager
func NewJWTTokenManager(users UserStore, lifetime time.Duration, issuer string) *JWTTokenManager {
	return &JWTTokenManager{users: users, lifetime: lifetime, issuer: issuer}
}

// Scheme implements TokenManager
func (m *JWTTokenManager) Scheme() Scheme { return SchemeJWT }

// GenerateToken implements TokenManager
func (m *JWTTokenManager) GenerateToken(_ context.Context, user *models.User, clientName string) (*IssuedToken, error) {
	token, expiresAt, err := GenerateJWT(user.ID, clientName, m.issuer, m.lifetime)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return &IssuedToken{Token: token, Name: clientName, ExpiresAt: &expiresAt, Scheme: SchemeJWT}, nil
}

// Authenticate implements TokenManager
func (m *JWTTokenManager) Authenticate(ctx context.Context, raw string) (*Principal, error) {
	claims, err := ValidateJWT(raw)
	if err != nil {
		return nil, ErrInvalidToken
	}

	user, err := m.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.IsActive {
		return nil, ErrInvalidToken
	}

	return &Principal{User: user, Scheme: SchemeJWT, ClientName: claims.ClientName}, nil
}
