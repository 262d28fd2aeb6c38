// Package mailer sends account verification mail.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/smtp"
)

// Mailer delivers the email-verification link to a new account.
type Mailer interface {
	SendVerification(ctx context.Context, to, name, link string) error
}

// SMTPConfig holds the outgoing mail server settings.
type SMTPConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	From     string
}

type SMTPMailer struct {
	cfg    SMTPConfig
	logger *slog.Logger
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPMailer(cfg SMTPConfig, logger *slog.Logger) *SMTPMailer {
	if cfg.Port == "" {
		cfg.Port = "587"
	}
	if cfg.From == "" {
		cfg.From = cfg.User
	}
	return &SMTPMailer{cfg: cfg, logger: logger, send: smtp.SendMail}
}

var verificationTmpl = template.Must(template.New("verify").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333; max-width: 600px; margin: 0 auto;">
  <h2>Welcome to Campus Market{{if .Name}}, {{.Name}}{{end}}</h2>
  <p>Confirm your college email address to start buying and selling:</p>
  <p><a href="{{.Link}}">Verify my email</a></p>
  <p>If you did not create an account, ignore this message.</p>
</body>
</html>`))

func (m *SMTPMailer) SendVerification(ctx context.Context, to, name, link string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var body bytes.Buffer
	if err := verificationTmpl.Execute(&body, struct{ Name, Link string }{name, link}); err != nil {
		return fmt.Errorf("mailer: rendering template: %w", err)
	}

	msg := []byte(fmt.Sprintf(
		"From: %s\r\n"+
			"To: %s\r\n"+
			"Subject: Verify your email address\r\n"+
			"MIME-Version: 1.0\r\n"+
			"Content-Type: text/html; charset=UTF-8\r\n"+
			"\r\n"+
			"%s\r\n",
		m.cfg.From, to, body.String(),
	))

	var auth smtp.Auth
	if m.cfg.User != "" {
		auth = smtp.PlainAuth("", m.cfg.User, m.cfg.Password, m.cfg.Host)
	}

	addr := m.cfg.Host + ":" + m.cfg.Port
	if err := m.send(addr, auth, m.cfg.From, []string{to}, msg); err != nil {
		return fmt.Errorf("mailer: sending to %s: %w", to, err)
	}

	m.logger.Info("verification email sent", slog.String("to", to))
	return nil
}

// LogMailer writes the link to the log instead of sending mail.
// Used in development when no SMTP host is configured.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendVerification(_ context.Context, to, _, link string) error {
	m.logger.Info("verification email (not sent, no SMTP configured)",
		slog.String("to", to),
		slog.String("link", link),
	)
	return nil
}
