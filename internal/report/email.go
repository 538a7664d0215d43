package report

import (
	"bytes"
	"errors"
	"fmt"
	"net/smtp"
	"time"

	"github.com/jordan-wright/email"

	"github.com/stoic-cipher/serp-tracker/internal/config"
)

// ErrNotConfigured is returned when email delivery is requested without SMTP
// settings.
var ErrNotConfigured = errors.New("smtp not configured")

// Mailer delivers HTML reports over SMTP.
type Mailer struct {
	cfg config.SMTP
}

func NewMailer(cfg config.SMTP) *Mailer {
	return &Mailer{cfg: cfg}
}

// SendReport renders rep as HTML and mails it to the configured recipients.
func (m *Mailer) SendReport(rep *Report) error {
	if !m.cfg.Enabled() {
		return ErrNotConfigured
	}

	var body bytes.Buffer
	if err := WriteHTML(&body, rep); err != nil {
		return err
	}

	msg := m.compose(rep.GeneratedAt, body.Bytes())
	if err := msg.Send(m.cfg.Addr(), m.auth()); err != nil {
		return fmt.Errorf("send report to %v: %w", m.cfg.To, err)
	}
	return nil
}

func (m *Mailer) compose(generatedAt time.Time, html []byte) *email.Email {
	msg := email.NewEmail()
	msg.From = m.cfg.From
	msg.To = m.cfg.To
	msg.Subject = fmt.Sprintf("SERP Tracking Report - %s", generatedAt.Format("2006-01-02"))
	msg.HTML = html
	return msg
}

func (m *Mailer) auth() smtp.Auth {
	if m.cfg.Username == "" {
		return nil
	}
	return smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
}
