package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/one-account/one-account-api/internal/db/models"
)

var factorCols = []string{"id", "user_id", "type", "secret", "enrolled_at", "created_at", "updated_at"}

func newFactorRepo(t *testing.T) (*VerificationFactorRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewVerificationFactorRepository(sqlx.NewDb(db, "sqlmock")), mock
}

// ---------------------------------------------------------------------------
// GetFactor / SaveSecret
// ---------------------------------------------------------------------------

func TestGetFactor_Found(t *testing.T) {
	repo, mock := newFactorRepo(t)
	enrolled := time.Now()
	mock.ExpectQuery("SELECT .* FROM verification_factors").
		WithArgs("user-1", models.MethodGoogleAuthenticator).
		WillReturnRows(sqlmock.NewRows(factorCols).
			AddRow("vf-1", "user-1", "google_authenticator", "ciphertext", enrolled, time.Now(), time.Now()))

	factor, err := repo.GetFactor(context.Background(), "user-1", models.MethodGoogleAuthenticator)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !factor.IsEnrolled() || factor.Secret != "ciphertext" {
		t.Errorf("factor = %+v", factor)
	}
}

func TestGetFactor_NotFound(t *testing.T) {
	repo, mock := newFactorRepo(t)
	mock.ExpectQuery("SELECT .* FROM verification_factors").WillReturnRows(sqlmock.NewRows(factorCols))

	factor, err := repo.GetFactor(context.Background(), "user-1", models.MethodEmailChannel)
	if err != nil || factor != nil {
		t.Errorf("GetFactor() = %v, %v, want nil, nil", factor, err)
	}
}

func TestSaveSecret_Upserts(t *testing.T) {
	repo, mock := newFactorRepo(t)
	mock.ExpectQuery("INSERT INTO verification_factors").
		WillReturnRows(sqlmock.NewRows(factorCols).
			AddRow("vf-1", "user-1", "email_channel", "ct", time.Now(), time.Now(), time.Now()))

	factor, err := repo.SaveSecret(context.Background(), "user-1", models.MethodEmailChannel, "ct", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if factor.ID != "vf-1" || !factor.IsEnrolled() {
		t.Errorf("factor = %+v", factor)
	}
}

func TestSaveSecret_DBError(t *testing.T) {
	repo, mock := newFactorRepo(t)
	mock.ExpectQuery("INSERT INTO verification_factors").WillReturnError(errDB)

	if _, err := repo.SaveSecret(context.Background(), "user-1", models.MethodEmailChannel, "ct", false); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// SetEnrolledAt
// ---------------------------------------------------------------------------

func TestSetEnrolledAt(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"factor exists", 1, true},
		{"no factor", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newFactorRepo(t)
			mock.ExpectExec("UPDATE verification_factors SET enrolled_at").
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			now := time.Now()
			got, err := repo.SetEnrolledAt(context.Background(), "user-1", models.MethodGoogleAuthenticator, &now)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("SetEnrolledAt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClaimEnrollment(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"not yet enrolled", 1, true},
		{"already enrolled", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newFactorRepo(t)
			at := time.Now()
			mock.ExpectExec(`(?s)INSERT INTO verification_factors.*ON CONFLICT \(user_id, type\) DO UPDATE.*WHERE verification_factors.enrolled_at IS NULL`).
				WithArgs(sqlmock.AnyArg(), "user-1", models.MethodGoogleAuthenticator, at).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			got, err := repo.ClaimEnrollment(context.Background(), "user-1", models.MethodGoogleAuthenticator, at)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ClaimEnrollment() = %v, want %v", got, tt.want)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestClaimEnrollment_DBError(t *testing.T) {
	repo, mock := newFactorRepo(t)
	mock.ExpectExec("INSERT INTO verification_factors").WillReturnError(errDB)

	if _, err := repo.ClaimEnrollment(context.Background(), "user-1", models.MethodGoogleAuthenticator, time.Now()); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// Backup codes
// ---------------------------------------------------------------------------

func TestReplaceBackupCodes(t *testing.T) {
	repo, mock := newFactorRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM vf_backup_codes").WithArgs("vf-1").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("INSERT INTO vf_backup_codes").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO vf_backup_codes").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.ReplaceBackupCodes(context.Background(), "vf-1", []string{"d1", "d2"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestReplaceBackupCodes_InsertErrorRollsBack(t *testing.T) {
	repo, mock := newFactorRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM vf_backup_codes").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO vf_backup_codes").WillReturnError(errDB)
	mock.ExpectRollback()

	if err := repo.ReplaceBackupCodes(context.Background(), "vf-1", []string{"d1"}); err == nil {
		t.Error("expected error, got nil")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRedeemBackupCode(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"unused code", 1, true},
		{"used or unknown code", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newFactorRepo(t)
			mock.ExpectExec("UPDATE vf_backup_codes SET used_at").
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			got, err := repo.RedeemBackupCode(context.Background(), "vf-1", "digest")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("RedeemBackupCode() = %v, want %v", got, tt.want)
			}
		})
	}
}
