package crypto

import (
	"bytes"
	"encoding/base64"
	"testing"
)

func testKey() []byte {
	return bytes.Repeat([]byte("k"), 32)
}

func newTestBox(t *testing.T) *SecretBox {
	t.Helper()
	b, err := NewSecretBox(testKey())
	if err != nil {
		t.Fatalf("NewSecretBox() error: %v", err)
	}
	return b
}

func TestNewSecretBox_KeyLength(t *testing.T) {
	tests := []struct {
		name   string
		keyLen int
	}{
		{"too short", 16},
		{"too long", 64},
		{"empty", 0},
		{"31 bytes", 31},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSecretBox(make([]byte, tt.keyLen)); err != ErrKeyLengthInvalid {
				t.Errorf("NewSecretBox(len=%d) error = %v, want %v", tt.keyLen, err, ErrKeyLengthInvalid)
			}
		})
	}
}

func TestSealOpen(t *testing.T) {
	b := newTestBox(t)

	for _, plaintext := range []string{"JBSWY3DPEHPK3PXP", "a", "unicode ✓ secret"} {
		sealed, err := b.Seal(plaintext)
		if err != nil {
			t.Fatalf("Seal() error: %v", err)
		}
		if sealed == plaintext {
			t.Errorf("Seal() returned plaintext unchanged")
		}
		opened, err := b.Open(sealed)
		if err != nil {
			t.Fatalf("Open() error: %v", err)
		}
		if opened != plaintext {
			t.Errorf("Open() = %q, want %q", opened, plaintext)
		}
	}
}

func TestSeal_EmptyPassthrough(t *testing.T) {
	b := newTestBox(t)
	sealed, err := b.Seal("")
	if err != nil || sealed != "" {
		t.Errorf("Seal(\"\") = %q, %v", sealed, err)
	}
	opened, err := b.Open("")
	if err != nil || opened != "" {
		t.Errorf("Open(\"\") = %q, %v", opened, err)
	}
}

func TestSeal_NonDeterministic(t *testing.T) {
	b := newTestBox(t)
	s1, _ := b.Seal("secret")
	s2, _ := b.Seal("secret")
	if s1 == s2 {
		t.Error("two seals of the same plaintext should differ")
	}
}

func TestOpen_Errors(t *testing.T) {
	b := newTestBox(t)

	if _, err := b.Open("%%%not-base64"); err != ErrCiphertextCorrupted {
		t.Errorf("Open(bad base64) error = %v, want %v", err, ErrCiphertextCorrupted)
	}
	if _, err := b.Open(base64.URLEncoding.EncodeToString([]byte("short"))); err != ErrCiphertextCorrupted {
		t.Errorf("Open(short) error = %v, want %v", err, ErrCiphertextCorrupted)
	}

	sealed, _ := b.Seal("secret")
	other, _ := NewSecretBox(bytes.Repeat([]byte("x"), 32))
	if _, err := other.Open(sealed); err != ErrDecryptionFailed {
		t.Errorf("Open(wrong key) error = %v, want %v", err, ErrDecryptionFailed)
	}
}

func TestDigest(t *testing.T) {
	b := newTestBox(t)

	if b.Digest("ABCDEF123456") != b.Digest("ABCDEF123456") {
		t.Error("Digest() should be deterministic")
	}
	if b.Digest("ABCDEF123456") == b.Digest("ABCDEF123457") {
		t.Error("different inputs should have different digests")
	}
	other, _ := NewSecretBox(bytes.Repeat([]byte("x"), 32))
	if b.Digest("code") == other.Digest("code") {
		t.Error("digests should depend on the master key")
	}
	if len(b.Digest("code")) != 64 {
		t.Errorf("Digest() length = %d, want 64 hex chars", len(b.Digest("code")))
	}
}

func TestParseKey(t *testing.T) {
	raw := bytes.Repeat([]byte{7}, 32)

	got, err := ParseKey(base64.StdEncoding.EncodeToString(raw))
	if err != nil || !bytes.Equal(got, raw) {
		t.Errorf("ParseKey(base64) = %v, %v, want raw key", got, err)
	}

	p1, err := ParseKey("correct horse battery staple")
	if err != nil || len(p1) != 32 {
		t.Fatalf("ParseKey(passphrase) = %v, %v", p1, err)
	}
	p2, _ := ParseKey("correct horse battery staple")
	if !bytes.Equal(p1, p2) {
		t.Error("passphrase derivation should be deterministic")
	}

	if _, err := ParseKey(""); err != ErrEmptyKey {
		t.Errorf("ParseKey(\"\") error = %v, want %v", err, ErrEmptyKey)
	}
}

func TestGenerateKey(t *testing.T) {
	k1, err := GenerateKey()
	if err != nil || len(k1) != 32 {
		t.Fatalf("GenerateKey() = %d bytes, %v", len(k1), err)
	}
	k2, _ := GenerateKey()
	if bytes.Equal(k1, k2) {
		t.Error("GenerateKey() returned identical keys")
	}
}
