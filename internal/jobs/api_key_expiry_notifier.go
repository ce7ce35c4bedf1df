// api_key_expiry_notifier.go implements the APIKeyExpiryNotifier background job, which
// periodically scans for API keys approaching their expiry date and sends a warning email
// to the owning user. Notification state is persisted in the database
// (expiry_notification_sent_at column) so emails are sent exactly once even across
// server restarts. Keys without an expiry never expire and are never reported.
package jobs

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/one-account/one-account-api/internal/config"
	"github.com/one-account/one-account-api/internal/db/models"
	"github.com/one-account/one-account-api/internal/notify"
	"github.com/one-account/one-account-api/internal/telemetry"
)

// ExpiringKeyStore is the API key persistence the notifier needs
type ExpiringKeyStore interface {
	FindExpiringKeys(ctx context.Context, warningDays int) ([]*models.APIKey, error)
	MarkExpiryNotificationSent(ctx context.Context, keyID string) error
}

// KeyOwnerStore resolves key owners
type KeyOwnerStore interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
}

// APIKeyExpiryNotifier periodically emails users whose API keys are about to expire.
type APIKeyExpiryNotifier struct {
	keys     ExpiringKeyStore
	users    KeyOwnerStore
	sender   notify.Sender
	cfg      *config.NotificationsConfig
	appName  string
	interval time.Duration
	stopChan chan struct{}
	now      func() time.Time
}

// NewAPIKeyExpiryNotifier creates a new APIKeyExpiryNotifier.
// cfg.APIKeyExpiryCheckIntervalHours controls how often the check runs (default 24h).
func NewAPIKeyExpiryNotifier(
	keys ExpiringKeyStore,
	users KeyOwnerStore,
	sender notify.Sender,
	cfg *config.NotificationsConfig,
	appName string,
) *APIKeyExpiryNotifier {
	hours := cfg.APIKeyExpiryCheckIntervalHours
	if hours <= 0 {
		hours = 24
	}
	return &APIKeyExpiryNotifier{
		keys:     keys,
		users:    users,
		sender:   sender,
		cfg:      cfg,
		appName:  appName,
		interval: time.Duration(hours) * time.Hour,
		stopChan: make(chan struct{}),
		now:      time.Now,
	}
}

// Start begins the background expiry-notification loop.
// It runs an initial check immediately, then repeats on the configured interval.
// The loop exits when ctx is cancelled or Stop() is called.
func (n *APIKeyExpiryNotifier) Start(ctx context.Context) {
	if !n.cfg.Enabled {
		log.Println("API key expiry notifier: disabled (notifications.enabled=false)")
		return
	}
	if n.sender == nil {
		log.Println("API key expiry notifier: disabled (no mail sender configured)")
		return
	}

	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	log.Printf("API key expiry notifier started (check interval: %v, warning window: %d days)",
		n.interval, n.warningDays())

	n.runCheck(ctx)

	for {
		select {
		case <-ticker.C:
			n.runCheck(ctx)
		case <-n.stopChan:
			log.Println("API key expiry notifier stopped")
			return
		case <-ctx.Done():
			log.Println("API key expiry notifier context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit.
func (n *APIKeyExpiryNotifier) Stop() {
	close(n.stopChan)
}

func (n *APIKeyExpiryNotifier) warningDays() int {
	if n.cfg.APIKeyExpiryWarningDays <= 0 {
		return 7
	}
	return n.cfg.APIKeyExpiryWarningDays
}

// runCheck queries for expiring keys and sends notification emails.
// It returns the number of notifications sent.
func (n *APIKeyExpiryNotifier) runCheck(ctx context.Context) int {
	keys, err := n.keys.FindExpiringKeys(ctx, n.warningDays())
	if err != nil {
		log.Printf("API key expiry notifier: failed to query expiring keys: %v", err)
		return 0
	}
	if len(keys) == 0 {
		return 0
	}

	log.Printf("API key expiry notifier: found %d key(s) approaching expiry", len(keys))

	sent := 0
	for _, key := range keys {
		if key.ExpiresAt == nil {
			continue
		}

		user, err := n.users.GetUserByID(ctx, key.UserID)
		if err != nil {
			log.Printf("API key expiry notifier: could not retrieve user %s for key %s: %v",
				key.UserID, key.ID, err)
			continue
		}
		if user == nil || user.Email == "" {
			continue
		}

		msg := n.expiryMessage(user, key, *key.ExpiresAt)
		if err := n.sender.Send(ctx, msg); err != nil {
			log.Printf("API key expiry notifier: failed to send email to %s: %v", user.Email, err)
			continue
		}
		telemetry.APIKeyExpiryNotificationsSentTotal.Inc()
		sent++

		if err := n.keys.MarkExpiryNotificationSent(ctx, key.ID); err != nil {
			log.Printf("API key expiry notifier: failed to mark notification sent for key %s: %v", key.ID, err)
		}
	}
	return sent
}

// expiryMessage composes the plain-text warning email.
func (n *APIKeyExpiryNotifier) expiryMessage(user *models.User, key *models.APIKey, expiresAt time.Time) notify.Message {
	daysLeft := int(expiresAt.Sub(n.now()).Hours()/24) + 1
	if daysLeft < 0 {
		daysLeft = 0
	}

	body := strings.Join([]string{
		fmt.Sprintf("Hello %s,", user.Name),
		"",
		fmt.Sprintf("Your %s API key '%s' (id %s) will expire on %s (%d day(s) from now).",
			n.appName, key.Name, key.ID, expiresAt.UTC().Format(time.RFC1123), daysLeft),
		"",
		"To avoid service disruption, create a replacement key before the expiry date",
		"with the same permissions and update the systems that use it.",
		"",
		"If you no longer need this key, no action is required.",
		"",
		n.appName,
	}, "\r\n")

	return notify.Message{
		To:      user.Email,
		Subject: fmt.Sprintf("Action Required: API key '%s' expires in %d day(s)", key.Name, daysLeft),
		Body:    body,
	}
}
