// Package notify delivers outbound email: one-time codes for delivery-based
// MFA steps and API key expiry warnings. Senders are composable; the SMTP
// Mailer is usually wrapped in a Queue so requests never wait on the mail server.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/one-account/one-account-api/internal/db/models"
)

// Message is a plain-text email
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers a message
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender
type SenderFunc func(ctx context.Context, msg Message) error

// Send implements Sender
func (f SenderFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// LogSender writes messages to the log instead of sending them. Used when
// notifications are disabled.
type LogSender struct{}

// Send implements Sender
func (LogSender) Send(_ context.Context, msg Message) error {
	slog.Info("email delivery disabled, logging message",
		"to", msg.To, "subject", msg.Subject, "body", msg.Body)
	return nil
}

// OTPNotifier turns one-time codes into emails
type OTPNotifier struct {
	sender  Sender
	appName string
}

// NewOTPNotifier creates an OTPNotifier
func NewOTPNotifier(sender Sender, appName string) *OTPNotifier {
	return &OTPNotifier{sender: sender, appName: appName}
}

// SendOTP emails code to user
func (n *OTPNotifier) SendOTP(ctx context.Context, user *models.User, code string, expiryMinutes int) error {
	if user.Email == "" {
		return fmt.Errorf("user %s has no email address", user.ID)
	}
	return n.sender.Send(ctx, OTPMessage(n.appName, user, code, expiryMinutes))
}

// OTPMessage builds the one-time code email
func OTPMessage(appName string, user *models.User, code string, expiryMinutes int) Message {
	name := user.Name
	if name == "" {
		name = user.Email
	}
	body := strings.Join([]string{
		fmt.Sprintf("Hello %s,", name),
		"",
		fmt.Sprintf("Your %s verification code is: %s", appName, code),
		"",
		fmt.Sprintf("This code expires in %d minute(s). If you did not try to sign in, you can ignore this email.", expiryMinutes),
		"",
		appName,
	}, "\r\n")

	return Message{
		To:      user.Email,
		Subject: fmt.Sprintf("%s verification code", appName),
		Body:    body,
	}
}
