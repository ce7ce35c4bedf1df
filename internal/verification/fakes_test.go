package verification

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/one-account/one-account-api/internal/crypto"
	"github.com/one-account/one-account-api/internal/db/models"
)

type backupCode struct {
	digest string
	used   bool
}

// memFactors is an in-memory FactorStore
type memFactors struct {
	factors map[string]*models.VerificationFactor
	codes   map[string][]*backupCode
}

func newMemFactors() *memFactors {
	return &memFactors{
		factors: map[string]*models.VerificationFactor{},
		codes:   map[string][]*backupCode{},
	}
}

func factorKey(userID string, method models.VerificationMethod) string {
	return userID + "/" + string(method)
}

func (m *memFactors) GetFactor(_ context.Context, userID string, method models.VerificationMethod) (*models.VerificationFactor, error) {
	f, ok := m.factors[factorKey(userID, method)]
	if !ok {
		return nil, nil
	}
	cp := *f
	return &cp, nil
}

func (m *memFactors) SaveSecret(_ context.Context, userID string, method models.VerificationMethod, secret string, enroll bool) (*models.VerificationFactor, error) {
	k := factorKey(userID, method)
	f, ok := m.factors[k]
	if !ok {
		f = &models.VerificationFactor{ID: uuid.New().String(), UserID: userID, Type: method}
		m.factors[k] = f
	}
	f.Secret = secret
	if enroll {
		now := time.Now()
		f.EnrolledAt = &now
	}
	cp := *f
	return &cp, nil
}

func (m *memFactors) SetEnrolledAt(_ context.Context, userID string, method models.VerificationMethod, at *time.Time) (bool, error) {
	f, ok := m.factors[factorKey(userID, method)]
	if !ok {
		return false, nil
	}
	f.EnrolledAt = at
	return true, nil
}

func (m *memFactors) ClaimEnrollment(_ context.Context, userID string, method models.VerificationMethod, at time.Time) (bool, error) {
	k := factorKey(userID, method)
	f, ok := m.factors[k]
	if !ok {
		f = &models.VerificationFactor{ID: uuid.New().String(), UserID: userID, Type: method}
		m.factors[k] = f
	}
	if f.EnrolledAt != nil {
		return false, nil
	}
	f.EnrolledAt = &at
	return true, nil
}

func (m *memFactors) ReplaceBackupCodes(_ context.Context, factorID string, digests []string) error {
	codes := make([]*backupCode, len(digests))
	for i, d := range digests {
		codes[i] = &backupCode{digest: d}
	}
	m.codes[factorID] = codes
	return nil
}

func (m *memFactors) RedeemBackupCode(_ context.Context, factorID, digest string) (bool, error) {
	for _, c := range m.codes[factorID] {
		if c.digest == digest && !c.used {
			c.used = true
			return true, nil
		}
	}
	return false, nil
}

type sentCode struct {
	userID        string
	code          string
	expiryMinutes int
}

type recordingSink struct {
	sent []sentCode
	err  error
}

func (s *recordingSink) SendOTP(_ context.Context, user *models.User, code string, expiryMinutes int) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentCode{userID: user.ID, code: code, expiryMinutes: expiryMinutes})
	return nil
}

func testSealer(t *testing.T) *crypto.SecretBox {
	t.Helper()
	box, err := crypto.NewSecretBox(bytes.Repeat([]byte("k"), 32))
	if err != nil {
		t.Fatalf("NewSecretBox: %v", err)
	}
	return box
}

func testUser() *models.User {
	return &models.User{ID: "user-1", Email: "ada@example.com", IsActive: true}
}
