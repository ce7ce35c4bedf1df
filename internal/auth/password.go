package auth

import (
	"fmt"
	"sync"
)

// MinPasswordLength is enforced when accounts are created
const MinPasswordLength = 8

// HashPassword bcrypt-hashes a login password
func HashPassword(password string, cost int) (string, error) {
	if len(password) < MinPasswordLength {
		return "", fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	return HashSecret(password, cost)
}

// CheckPassword reports whether password matches the stored hash. An empty
// hash never matches.
func CheckPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	return CompareSecret(hash, password)
}

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

// DummyPasswordHash is the hash of a random password at the default cost.
// Logins for an unknown account compare against it so they take as long as
// a wrong password for a real one.
func DummyPasswordHash() string {
	dummyHashOnce.Do(func() {
		password, err := RandomString(40)
		if err != nil {
			password = "unknown-account-placeholder-password"
		}
		dummyHash, _ = HashSecret(password, DefaultBcryptCost)
	})
	return dummyHash
}
