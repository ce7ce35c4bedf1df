package jobs

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/one-account/one-account-api/internal/config"
	"github.com/one-account/one-account-api/internal/db/repositories"
	"github.com/one-account/one-account-api/internal/notify"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

var (
	apiKeyCols = []string{"id", "user_id", "name", "description", "key_hash", "permissions", "active", "expires_at", "last_used_at", "created_at", "updated_at"}
	userCols   = []string{"id", "name", "email", "password_hash", "is_active", "permissions", "email_verified_at", "created_at", "updated_at"}
)

func newNotifierConfig(enabled bool) *config.NotificationsConfig {
	return &config.NotificationsConfig{
		Enabled:                        enabled,
		APIKeyExpiryWarningDays:        7,
		APIKeyExpiryCheckIntervalHours: 24,
	}
}

func newAPIKeyRepoForNotifier(t *testing.T) (*repositories.APIKeyRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New (apikey): %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return repositories.NewAPIKeyRepository(db), mock
}

func newUserRepoForNotifier(t *testing.T) (*repositories.UserRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New (user): %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return repositories.NewUserRepository(db), mock
}

// capture records sent messages
type capture struct {
	msgs []notify.Message
	err  error
}

func (c *capture) Send(_ context.Context, msg notify.Message) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

// ---------------------------------------------------------------------------
// NewAPIKeyExpiryNotifier - construction and interval defaulting
// ---------------------------------------------------------------------------

func TestNewAPIKeyExpiryNotifier_Interval(t *testing.T) {
	tests := []struct {
		name  string
		hours int
		want  time.Duration
	}{
		{"zero defaults to 24h", 0, 24 * time.Hour},
		{"negative defaults to 24h", -5, 24 * time.Hour},
		{"custom", 48, 48 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newNotifierConfig(true)
			cfg.APIKeyExpiryCheckIntervalHours = tt.hours
			n := NewAPIKeyExpiryNotifier(nil, nil, &capture{}, cfg, "One Account")
			if n.interval != tt.want {
				t.Errorf("interval = %v, want %v", n.interval, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Start - early exits and shutdown
// ---------------------------------------------------------------------------

func TestExpiryNotifier_Start_DisabledConfig(t *testing.T) {
	n := NewAPIKeyExpiryNotifier(nil, nil, &capture{}, newNotifierConfig(false), "One Account")

	done := make(chan struct{})
	go func() {
		n.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Start did not return quickly when notifications are disabled")
	}
}

func TestExpiryNotifier_Start_NoSender(t *testing.T) {
	n := NewAPIKeyExpiryNotifier(nil, nil, nil, newNotifierConfig(true), "One Account")

	done := make(chan struct{})
	go func() {
		n.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Start did not return quickly without a sender")
	}
}

func TestExpiryNotifier_Start_StopsOnCancel(t *testing.T) {
	keyRepo, keyMock := newAPIKeyRepoForNotifier(t)
	keyMock.ExpectQuery("SELECT.*FROM api_keys").WillReturnRows(sqlmock.NewRows(apiKeyCols))

	n := NewAPIKeyExpiryNotifier(keyRepo, nil, &capture{}, newNotifierConfig(true), "One Account")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		n.Start(ctx)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Start did not return after context cancellation")
	}
}

// ---------------------------------------------------------------------------
// runCheck
// ---------------------------------------------------------------------------

func TestExpiryNotifier_RunCheck_SendsAndMarks(t *testing.T) {
	keyRepo, keyMock := newAPIKeyRepoForNotifier(t)
	userRepo, userMock := newUserRepoForNotifier(t)
	sender := &capture{}

	expires := time.Now().Add(3 * 24 * time.Hour)
	keyMock.ExpectQuery("SELECT .* FROM api_keys").
		WillReturnRows(sqlmock.NewRows(apiKeyCols).
			AddRow("key-1", "user-1", "ci", nil, "$2a$hash", []byte(`[]`), true, expires, nil, time.Now(), time.Now()))
	userMock.ExpectQuery("SELECT .* FROM users").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow("user-1", "Alice", "alice@example.com", "h", true, []byte(`[]`), nil, time.Now(), time.Now()))
	keyMock.ExpectExec("UPDATE api_keys SET expiry_notification_sent_at").
		WillReturnResult(sqlmock.NewResult(0, 1))

	n := NewAPIKeyExpiryNotifier(keyRepo, userRepo, sender, newNotifierConfig(true), "One Account")
	if got := n.runCheck(context.Background()); got != 1 {
		t.Fatalf("runCheck() sent %d, want 1", got)
	}

	if len(sender.msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sender.msgs))
	}
	msg := sender.msgs[0]
	if msg.To != "alice@example.com" {
		t.Errorf("To = %q", msg.To)
	}
	if !strings.Contains(msg.Subject, "'ci'") || !strings.Contains(msg.Subject, "3 day(s)") {
		t.Errorf("Subject = %q", msg.Subject)
	}
	if !strings.Contains(msg.Body, "Hello Alice,") {
		t.Errorf("Body = %q", msg.Body)
	}
	if err := keyMock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestExpiryNotifier_RunCheck_SendFailureDoesNotMark(t *testing.T) {
	keyRepo, keyMock := newAPIKeyRepoForNotifier(t)
	userRepo, userMock := newUserRepoForNotifier(t)

	keyMock.ExpectQuery("SELECT.*FROM api_keys").
		WillReturnRows(sqlmock.NewRows(apiKeyCols).
			AddRow("key-1", "user-1", "ci", nil, "$2a$hash", []byte(`[]`), true, time.Now().Add(time.Hour), nil, time.Now(), time.Now()))
	userMock.ExpectQuery("SELECT.*FROM users").
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow("user-1", "Alice", "alice@example.com", "h", true, []byte(`[]`), nil, time.Now(), time.Now()))

	n := NewAPIKeyExpiryNotifier(keyRepo, userRepo, &capture{err: errors.New("smtp down")}, newNotifierConfig(true), "One Account")
	if got := n.runCheck(context.Background()); got != 0 {
		t.Errorf("runCheck() sent %d, want 0", got)
	}
	if err := keyMock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestExpiryNotifier_RunCheck_QueryError(t *testing.T) {
	keyRepo, keyMock := newAPIKeyRepoForNotifier(t)
	keyMock.ExpectQuery("SELECT.*FROM api_keys").WillReturnError(errors.New("db down"))

	n := NewAPIKeyExpiryNotifier(keyRepo, nil, &capture{}, newNotifierConfig(true), "One Account")
	if got := n.runCheck(context.Background()); got != 0 {
		t.Errorf("runCheck() sent %d, want 0", got)
	}
}

func TestExpiryNotifier_RunCheck_SkipsMissingOwner(t *testing.T) {
	keyRepo, keyMock := newAPIKeyRepoForNotifier(t)
	userRepo, userMock := newUserRepoForNotifier(t)
	sender := &capture{}

	keyMock.ExpectQuery("SELECT.*FROM api_keys").
		WillReturnRows(sqlmock.NewRows(apiKeyCols).
			AddRow("key-1", "user-gone", "ci", nil, "$2a$hash", []byte(`[]`), true, time.Now().Add(time.Hour), nil, time.Now(), time.Now()))
	userMock.ExpectQuery("SELECT.*FROM users").WillReturnRows(sqlmock.NewRows(userCols))

	n := NewAPIKeyExpiryNotifier(keyRepo, userRepo, sender, newNotifierConfig(true), "One Account")
	if got := n.runCheck(context.Background()); got != 0 {
		t.Errorf("runCheck() sent %d, want 0", got)
	}
	if len(sender.msgs) != 0 {
		t.Errorf("expected no messages, got %d", len(sender.msgs))
	}
}
