package admin

import (
	"context"
	"time"

	"github.com/one-account/one-account-api/internal/auth"
	"github.com/one-account/one-account-api/internal/db/models"
	"github.com/one-account/one-account-api/internal/mfa"
)

// ---------------------------------------------------------------------------
// Fakes shared by the handler tests
// ---------------------------------------------------------------------------

type fakeUsers struct {
	users    map[string]*models.User // by id
	err      error
	verified []string
}

func newFakeUsers(users ...*models.User) *fakeUsers {
	f := &fakeUsers{users: map[string]*models.User{}}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeUsers) GetUserByID(_ context.Context, id string) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.users[id], nil
}

func (f *fakeUsers) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, nil
}

func (f *fakeUsers) MarkEmailVerified(_ context.Context, id string, _ time.Time) error {
	f.verified = append(f.verified, id)
	return nil
}

type issueCall struct {
	scheme     auth.Scheme
	userID     string
	clientName string
}

type fakeIssuer struct {
	schemes []auth.Scheme
	calls   []issueCall
	err     error
}

func newFakeIssuer() *fakeIssuer {
	return &fakeIssuer{schemes: []auth.Scheme{auth.SchemePersistent, auth.SchemeJWT}}
}

func (f *fakeIssuer) Schemes() []auth.Scheme { return f.schemes }

func (f *fakeIssuer) Issue(_ context.Context, scheme auth.Scheme, user *models.User, clientName string) (*auth.IssuedToken, error) {
	f.calls = append(f.calls, issueCall{scheme: scheme, userID: user.ID, clientName: clientName})
	if f.err != nil {
		return nil, f.err
	}
	if scheme == "" {
		scheme = auth.SchemePersistent
	}
	return &auth.IssuedToken{Token: "tok-" + string(scheme), Name: clientName, Scheme: scheme}, nil
}

type fakePolicy struct {
	policy models.MfaPolicy
	err    error
}

func (f *fakePolicy) GetMfaConfig(context.Context) (models.MfaPolicy, error) {
	return f.policy, f.err
}

type fakePipeline struct {
	// GenerateMfaAttemptToken
	generated    *mfa.AttemptToken
	generateErr  error
	generateMeta models.AuthMetadata

	// VerifyMfaAttemptToken
	attempt   *models.MfaAttempt
	verifyErr error

	secretErr   error
	secretRuns  int
	deliveryErr error
	deliveries  int

	qr    *mfa.ProvisioningResult
	qrErr error

	codeAttempt *models.MfaAttempt
	codeOK      bool
	codeErr     error

	backup    *mfa.ProvisioningResult
	backupOK  bool
	backupErr error

	methods     []mfa.MethodStatus
	unenrollErr error
	unenrolled  []models.VerificationMethod
}

func (f *fakePipeline) GenerateMfaAttemptToken(_ context.Context, _ *models.User, _ []models.VerificationMethod, meta models.AuthMetadata) (*mfa.AttemptToken, error) {
	f.generateMeta = meta
	return f.generated, f.generateErr
}

func (f *fakePipeline) VerifyMfaAttemptToken(context.Context, string) (*models.MfaAttempt, error) {
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return f.attempt, nil
}

func (f *fakePipeline) RunSecretGeneration(context.Context, *models.MfaAttempt, *models.User) error {
	f.secretRuns++
	return f.secretErr
}

func (f *fakePipeline) RunCodeDelivery(context.Context, *models.MfaAttempt, *models.User) error {
	f.deliveries++
	return f.deliveryErr
}

func (f *fakePipeline) RunQrCodeGeneration(context.Context, *models.MfaAttempt, *models.User) (*mfa.ProvisioningResult, error) {
	return f.qr, f.qrErr
}

func (f *fakePipeline) RunCodeVerification(_ context.Context, attempt *models.MfaAttempt, _ *models.User, _ string) (*models.MfaAttempt, bool, error) {
	if f.codeAttempt == nil {
		return attempt, f.codeOK, f.codeErr
	}
	return f.codeAttempt, f.codeOK, f.codeErr
}

func (f *fakePipeline) RunBackupCodeVerification(context.Context, *models.MfaAttempt, *models.User, string) (*mfa.ProvisioningResult, bool, error) {
	return f.backup, f.backupOK, f.backupErr
}

func (f *fakePipeline) GetAllMfaMethods(models.MfaPolicy) []mfa.MethodStatus {
	return f.methods
}

func (f *fakePipeline) UnEnrollUser(_ context.Context, _ *models.User, method models.VerificationMethod) error {
	f.unenrolled = append(f.unenrolled, method)
	return f.unenrollErr
}
