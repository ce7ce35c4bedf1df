// Package crypto protects verification secrets at rest. Factor secrets are
// sealed with AES-256-GCM so they can be recovered for code checks, while
// backup codes are only ever compared, so they are stored as a keyed digest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

var (
	// ErrKeyLengthInvalid is returned when a master key is not exactly 32 bytes
	ErrKeyLengthInvalid = errors.New("crypto: key must be exactly 32 bytes for AES-256")
	// ErrCiphertextCorrupted is returned when the ciphertext is not valid base64 or is shorter than a nonce
	ErrCiphertextCorrupted = errors.New("crypto: ciphertext is corrupted or tampered")
	// ErrDecryptionFailed is returned when GCM authentication fails
	ErrDecryptionFailed = errors.New("crypto: decryption operation failed")
	// ErrEmptyKey is returned by ParseKey for an empty configured key
	ErrEmptyKey = errors.New("crypto: encryption key is empty")
)

// keySalt is the PBKDF2 salt for passphrase-style encryption keys. It is fixed
// so the same passphrase always yields the same key across restarts.
var keySalt = []byte("one-account/verification-factors")

const pbkdf2Iterations = 100000

// SecretBox seals factor secrets and digests backup codes with keys derived
// from one master key.
type SecretBox struct {
	sealKey   []byte
	digestKey []byte
}

// NewSecretBox creates a box from a 32-byte master key
func NewSecretBox(masterKey []byte) (*SecretBox, error) {
	if len(masterKey) != 32 {
		return nil, ErrKeyLengthInvalid
	}
	sealKey := make([]byte, 32)
	copy(sealKey, masterKey)

	mac := hmac.New(sha256.New, masterKey)
	mac.Write([]byte("backup-code-digest"))

	return &SecretBox{sealKey: sealKey, digestKey: mac.Sum(nil)}, nil
}

// ParseKey turns the configured encryption key into a 32-byte master key.
// A base64 value that decodes to exactly 32 bytes is used as is; anything
// else is treated as a passphrase and stretched with PBKDF2.
func ParseKey(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, ErrEmptyKey
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding} {
		if raw, err := enc.DecodeString(encoded); err == nil && len(raw) == 32 {
			return raw, nil
		}
	}
	return pbkdf2.Key([]byte(encoded), keySalt, pbkdf2Iterations, 32, sha256.New), nil
}

// Seal encrypts plaintext and returns base64 nonce||ciphertext
func (b *SecretBox) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	aead, err := b.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal
func (b *SecretBox) Open(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}

	ciphertext, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrCiphertextCorrupted
	}

	aead, err := b.aead()
	if err != nil {
		return "", err
	}

	nonceLen := aead.NonceSize()
	if len(ciphertext) < nonceLen {
		return "", ErrCiphertextCorrupted
	}

	plaintext, err := aead.Open(nil, ciphertext[:nonceLen], ciphertext[nonceLen:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// Digest returns the hex HMAC-SHA256 of value. Equal inputs give equal
// digests, so it can be used as a lookup key.
func (b *SecretBox) Digest(value string) string {
	mac := hmac.New(sha256.New, b.digestKey)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

func (b *SecretBox) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(b.sealKey)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// GenerateKey creates a random 32-byte key
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}
