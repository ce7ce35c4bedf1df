package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/one-account/one-account-api/internal/config"
)

// Mailer sends messages over SMTP
type Mailer struct {
	cfg         config.SMTPConfig
	dialTimeout time.Duration
}

// NewMailer creates a Mailer for cfg
func NewMailer(cfg config.SMTPConfig) *Mailer {
	return &Mailer{cfg: cfg, dialTimeout: 10 * time.Second}
}

// Send implements Sender. With UseTLS the connection is implicit TLS (port
// 465); when that handshake fails it falls back to plain TCP upgraded with
// STARTTLS. Without UseTLS, STARTTLS is still used when the server offers it.
func (m *Mailer) Send(ctx context.Context, msg Message) error {
	if m.cfg.Host == "" {
		return errors.New("smtp host is not configured")
	}
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))

	client, err := m.dial(ctx, addr)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := m.deliver(client, msg); err != nil {
		return err
	}
	return client.Quit()
}

func (m *Mailer) dial(ctx context.Context, addr string) (*smtp.Client, error) {
	dialer := &net.Dialer{Timeout: m.dialTimeout}
	tlsConfig := &tls.Config{
		ServerName: m.cfg.Host,
		MinVersion: tls.VersionTLS12,
	}

	if m.cfg.UseTLS {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: tlsConfig}
		if conn, err := tlsDialer.DialContext(ctx, "tcp", addr); err == nil {
			c, err := smtp.NewClient(conn, m.cfg.Host)
			if err != nil {
				conn.Close()
				return nil, fmt.Errorf("smtp new client: %w", err)
			}
			return c, nil
		}
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp new client: %w", err)
	}
	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(tlsConfig); err != nil {
			c.Close()
			return nil, fmt.Errorf("smtp STARTTLS: %w", err)
		}
	} else if m.cfg.UseTLS {
		c.Close()
		return nil, errors.New("smtp server offers no TLS")
	}
	return c, nil
}

func (m *Mailer) deliver(c *smtp.Client, msg Message) error {
	if m.cfg.Username != "" {
		auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(m.cfg.From); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	if err := c.Rcpt(msg.To); err != nil {
		return fmt.Errorf("smtp RCPT TO %s: %w", msg.To, err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(m.format(msg)); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	return w.Close()
}

func (m *Mailer) format(msg Message) []byte {
	headers := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n",
		m.cfg.From, msg.To, msg.Subject,
	)
	return []byte(headers + msg.Body + "\r\n")
}
