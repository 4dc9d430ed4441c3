package dispatch

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/badoux/checkmail"
	"gopkg.in/gomail.v2"
)

type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
}

// EmailSender delivers over SMTP with gomail.
type EmailSender struct {
	cfg  SMTPConfig
	send func(*gomail.Message) error
}

func NewEmailSender(cfg SMTPConfig) *EmailSender {
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	dialer.TLSConfig = &tls.Config{ServerName: cfg.Host}
	return &EmailSender{cfg: cfg, send: func(m *gomail.Message) error { return dialer.DialAndSend(m) }}
}

func (s *EmailSender) Send(ctx context.Context, msg Message) error {
	if err := checkmail.ValidateFormat(msg.To); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRecipient, msg.To)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", m.FormatAddress(s.cfg.FromEmail, s.cfg.FromName))
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("X-Leadflow-Template", msg.Template)
	m.SetBody("text/plain", msg.Body)

	// gomail has no context support; give up waiting when ctx ends
	done := make(chan error, 1)
	go func() { done <- s.send(m) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send to %s: %w", msg.To, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("smtp send to %s: %w", msg.To, ctx.Err())
	}
}
