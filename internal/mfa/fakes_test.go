package mfa

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/one-account/one-account-api/internal/crypto"
	"github.com/one-account/one-account-api/internal/db/models"
	"github.com/one-account/one-account-api/internal/verification"
)

// memAttempts mirrors the repository's locked read-modify-write
type memAttempts struct {
	mu       sync.Mutex
	attempts map[string]models.MfaAttempt
}

func newMemAttempts() *memAttempts {
	return &memAttempts{attempts: map[string]models.MfaAttempt{}}
}

func (m *memAttempts) Create(_ context.Context, a *models.MfaAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = uuid.New().String()
	a.CreatedAt = time.Now()
	cp := *a
	cp.Steps = append(models.MfaSteps(nil), a.Steps...)
	m.attempts[a.ID] = cp
	return nil
}

func (m *memAttempts) GetByID(_ context.Context, id string) (*models.MfaAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return nil, nil
	}
	a.Steps = append(models.MfaSteps(nil), a.Steps...)
	return &a, nil
}

func (m *memAttempts) CompleteCurrentStep(_ context.Context, id string, name models.VerificationMethod) (*models.MfaAttempt, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return nil, false, nil
	}
	steps := append(models.MfaSteps(nil), a.Steps...)
	a.Steps = steps
	i := a.CurrentStepIndex()
	if i < 0 || steps[i].Name != name {
		return &a, false, nil
	}
	steps[i].Completed = true
	m.attempts[id] = a
	out := a
	out.Steps = append(models.MfaSteps(nil), steps...)
	return &out, true, nil
}

type backupCode struct {
	digest string
	used   bool
}

type memFactors struct {
	mu      sync.Mutex
	factors map[string]*models.VerificationFactor
	codes   map[string][]*backupCode
}

func newMemFactors() *memFactors {
	return &memFactors{factors: map[string]*models.VerificationFactor{}, codes: map[string][]*backupCode{}}
}

func (m *memFactors) GetFactor(_ context.Context, userID string, method models.VerificationMethod) (*models.VerificationFactor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.factors[userID+string(method)]
	if !ok {
		return nil, nil
	}
	cp := *f
	return &cp, nil
}

func (m *memFactors) SaveSecret(_ context.Context, userID string, method models.VerificationMethod, secret string, enroll bool) (*models.VerificationFactor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.factors[userID+string(method)]
	if !ok {
		f = &models.VerificationFactor{ID: uuid.New().String(), UserID: userID, Type: method}
		m.factors[userID+string(method)] = f
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
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.factors[userID+string(method)]
	if !ok {
		return false, nil
	}
	f.EnrolledAt = at
	return true, nil
}

func (m *memFactors) ClaimEnrollment(_ context.Context, userID string, method models.VerificationMethod, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.factors[userID+string(method)]
	if !ok {
		f = &models.VerificationFactor{ID: uuid.New().String(), UserID: userID, Type: method}
		m.factors[userID+string(method)] = f
	}
	if f.EnrolledAt != nil {
		return false, nil
	}
	f.EnrolledAt = &at
	return true, nil
}

func (m *memFactors) ReplaceBackupCodes(_ context.Context, factorID string, digests []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	codes := make([]*backupCode, len(digests))
	for i, d := range digests {
		codes[i] = &backupCode{digest: d}
	}
	m.codes[factorID] = codes
	return nil
}

func (m *memFactors) RedeemBackupCode(_ context.Context, factorID, digest string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.codes[factorID] {
		if c.digest == digest && !c.used {
			c.used = true
			return true, nil
		}
	}
	return false, nil
}

// inbox captures delivered codes
type inbox struct {
	mu    sync.Mutex
	codes []string
}

func (i *inbox) SendOTP(_ context.Context, _ *models.User, code string, _ int) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.codes = append(i.codes, code)
	return nil
}

func (i *inbox) last() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(i.codes) == 0 {
		return ""
	}
	return i.codes[len(i.codes)-1]
}

// stubStrategy is a registered method with no behavior
type stubStrategy struct {
	method models.VerificationMethod
}

func (s stubStrategy) Method() models.VerificationMethod { return s.method }
func (s stubStrategy) Type() models.MethodType { return models.MethodTypeDelivery }
func (s stubStrategy) GetOrCreateSecret(context.Context, *models.User, bool) (string, error) {
	return "", nil
}
func (s stubStrategy) VerifyCode(context.Context, *models.User, string) (bool, error) {
	return false, nil
}
func (s stubStrategy) EnrollUser(context.Context, *models.User) error { return nil }
func (s stubStrategy) UnEnrollUser(context.Context, *models.User) error { return nil }
func (s stubStrategy) UserIsEnrolled(context.Context, *models.User) (bool, error) { return false, nil }

type fixture struct {
	orch     *Orchestrator
	attempts *memAttempts
	factors  *memFactors
	inbox    *inbox
	ga       *verification.GoogleAuthenticator
	email    *verification.EmailChannel
	user     *models.User
}

func newFixture(t *testing.T, extra ...verification.Strategy) *fixture {
	t.Helper()
	box, err := crypto.NewSecretBox(bytes.Repeat([]byte("m"), 32))
	if err != nil {
		t.Fatalf("NewSecretBox: %v", err)
	}
	f := &fixture{attempts: newMemAttempts(), factors: newMemFactors(), inbox: &inbox{}}
	f.email = verification.NewEmailChannel(f.factors, box, f.inbox, "One Account", 15*time.Minute)
	f.ga = verification.NewGoogleAuthenticator(f.factors, box, verification.GoogleAuthenticatorConfig{Issuer: "One Account", QRSize: 64})

	strategies := append([]verification.Strategy{f.email, f.ga}, extra...)
	registry, err := verification.NewRegistry(strategies...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	f.orch = NewOrchestrator(registry, f.attempts, Config{
		AttemptLifetime: 10 * time.Minute,
		BackupCodeCount: 4,
		BcryptCost:      bcrypt.MinCost,
	})
	f.user = &models.User{ID: uuid.New().String(), Email: "grace@example.com", IsActive: true}
	return f
}

// start creates an attempt and resolves it through its token
func (f *fixture) start(t *testing.T, methods ...models.VerificationMethod) (*AttemptToken, *models.MfaAttempt) {
	t.Helper()
	tok, err := f.orch.GenerateMfaAttemptToken(context.Background(), f.user, methods, models.AuthMetadata{TokenName: "cli"})
	if err != nil {
		t.Fatalf("GenerateMfaAttemptToken: %v", err)
	}
	attempt, err := f.orch.VerifyMfaAttemptToken(context.Background(), tok.Token)
	if err != nil {
		t.Fatalf("VerifyMfaAttemptToken: %v", err)
	}
	return tok, attempt
}
