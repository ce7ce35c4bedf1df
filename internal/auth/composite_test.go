package auth

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestParseCompositeToken(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantID     string
		wantSecret string
		wantErr    bool
	}{
		{"well formed", "abc|secret", "abc", "secret", false},
		{"secret may contain separator", "abc|sec|ret", "abc", "sec|ret", false},
		{"no separator", "abcsecret", "", "", true},
		{"empty id", "|secret", "", "", true},
		{"empty secret", "abc|", "", "", true},
		{"empty", "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCompositeToken(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCompositeToken(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if err != nil {
				if err != ErrMalformedToken {
					t.Errorf("error = %v, want ErrMalformedToken", err)
				}
				return
			}
			if got.ID != tt.wantID || got.Secret != tt.wantSecret {
				t.Errorf("ParseCompositeToken(%q) = %+v", tt.raw, got)
			}
		})
	}
}

func TestIsLookupID(t *testing.T) {
	tests := map[string]bool{
		"0b8f7a3e-5c1d-4e2f-9a6b-7c8d9e0f1a2b":          true,
		"0B8F7A3E-5C1D-4E2F-9A6B-7C8D9E0F1A2B":          true,
		"42":                                            false,
		"foo":                                           false,
		"0b8f7a3e5c1d4e2f9a6b7c8d9e0f1a2b":              false,
		"{0b8f7a3e-5c1d-4e2f-9a6b-7c8d9e0f1a2b}":        false,
		"urn:uuid:0b8f7a3e-5c1d-4e2f-9a6b-7c8d9e0f1a2b": false,
		"0b8f7a3e-5c1d-4e2f-9a6b-7c8d9e0f1a2z":          false,
	}

	for id, want := range tests {
		if got := IsLookupID(id); got != want {
			t.Errorf("IsLookupID(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestCompositeToken_StringParses(t *testing.T) {
	tok := CompositeToken{ID: "2f1c", Secret: "s3cret"}
	parsed, err := ParseCompositeToken(tok.String())
	if err != nil || parsed != tok {
		t.Errorf("ParseCompositeToken(String()) = %+v, %v", parsed, err)
	}
}

func TestNewSecret(t *testing.T) {
	secret, hash, err := NewSecret(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewSecret() error: %v", err)
	}
	if len(secret) != SecretLength {
		t.Errorf("secret length = %d, want %d", len(secret), SecretLength)
	}
	if strings.Contains(hash, secret) {
		t.Error("hash must not contain the plaintext secret")
	}
	if !CompareSecret(hash, secret) {
		t.Error("CompareSecret() rejected the generated secret")
	}
}

func TestCompareSecret_SingleCharacterMutation(t *testing.T) {
	secret, hash, err := NewSecret(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewSecret() error: %v", err)
	}

	for i := 0; i < len(secret); i += 7 {
		b := []byte(secret)
		if b[i] == 'A' {
			b[i] = 'B'
		} else {
			b[i] = 'A'
		}
		if CompareSecret(hash, string(b)) {
			t.Errorf("mutated secret at %d validated", i)
		}
	}
}

func TestRandomString(t *testing.T) {
	s, err := RandomString(12)
	if err != nil {
		t.Fatalf("RandomString() error: %v", err)
	}
	if len(s) != 12 {
		t.Errorf("len = %d, want 12", len(s))
	}
	for _, r := range s {
		if !strings.ContainsRune(alphanumeric, r) {
			t.Errorf("unexpected character %q", r)
		}
	}
	other, _ := RandomString(12)
	if s == other {
		t.Error("two random strings were identical")
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"valid composite", "Bearer id|secret", "id|secret", false},
		{"trims whitespace", "Bearer   id|secret  ", "id|secret", false},
		{"empty header", "", "", true},
		{"wrong scheme", "Basic abc", "", true},
		{"empty token", "Bearer    ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractBearerToken(tt.header)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ExtractBearerToken() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ExtractBearerToken() = %q, want %q", got, tt.want)
			}
		})
	}
}
