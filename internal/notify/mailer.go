package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/mail"
	"net/smtp"

	"github.com/spec-kit/servicedesk/internal/config"
)

// ErrMailerDisabled is returned when no SMTP host is configured.
var ErrMailerDisabled = errors.New("smtp delivery disabled")

// smtpSendMail is replaced in tests.
var smtpSendMail = smtp.SendMail

// SMTPMailer delivers email jobs through a relay.
type SMTPMailer struct {
	cfg config.NotificationConfig
}

// NewSMTPMailer builds a mailer from configuration.
func NewSMTPMailer(cfg config.NotificationConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

// Enabled reports whether an SMTP host is configured.
func (m *SMTPMailer) Enabled() bool {
	return m != nil && m.cfg.SMTPAddr() != ""
}

// Send delivers job. It honors ctx only before dialing; net/smtp has no context support.
func (m *SMTPMailer) Send(ctx context.Context, job EmailJob) error {
	if !m.Enabled() {
		return ErrMailerDisabled
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	to, err := mail.ParseAddress(SanitizeHeader(job.To))
	if err != nil {
		return fmt.Errorf("invalid recipient: %w", err)
	}
	from, err := mail.ParseAddress(SanitizeHeader(m.cfg.EmailFrom))
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}

	var msg bytes.Buffer
	msg.WriteString("From: " + from.String() + "\r\n")
	msg.WriteString("To: " + to.String() + "\r\n")
	msg.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", SanitizeHeader(job.Subject)) + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	msg.WriteString(job.Body)

	var auth smtp.Auth
	if m.cfg.SMTPUser != "" {
		auth = smtp.PlainAuth("", m.cfg.SMTPUser, m.cfg.SMTPPassword, m.cfg.SMTPHost)
	}
	return smtpSendMail(m.cfg.SMTPAddr(), auth, from.Address, []string{to.Address}, msg.Bytes())
}
