// Package mailer delivers one-time codes by email over SMTP.
package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	mail "github.com/go-mail/mail"
	"go.uber.org/zap"

	"github.com/iliyamo/auth-service/internal/config"
	"github.com/iliyamo/auth-service/internal/queue"
)

// Sender delivers one message.
type Sender interface {
	Send(to, subject, htmlBody, textBody string) error
}

type SMTPSender struct {
	Host               string
	Port               int
	From               string
	User               string
	Pass               string
	TLSMode            string // "auto" | "starttls" | "ssl" | "none"
	InsecureSkipVerify bool
	Timeout            time.Duration
}

func NewSMTPSender(c config.SMTPConfig) *SMTPSender {
	return &SMTPSender{
		Host:               c.Host,
		Port:               c.Port,
		From:               c.From,
		User:               c.User,
		Pass:               c.Pass,
		TLSMode:            c.TLSMode,
		InsecureSkipVerify: c.Insecure,
		Timeout:            10 * time.Second,
	}
}

func (s *SMTPSender) message(to, subject, htmlBody, textBody string) *mail.Message {
	m := mail.NewMessage()
	m.SetHeader("From", s.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	if textBody != "" {
		m.SetBody("text/plain", textBody)
	}
	if htmlBody != "" {
		if textBody == "" {
			m.SetBody("text/html", htmlBody)
		} else {
			m.AddAlternative("text/html", htmlBody)
		}
	}
	return m
}

func (s *SMTPSender) dialer() *mail.Dialer {
	d := mail.NewDialer(s.Host, s.Port, s.User, s.Pass)
	d.Timeout = s.Timeout
	d.TLSConfig = &tls.Config{ServerName: s.Host, InsecureSkipVerify: s.InsecureSkipVerify}
	switch s.TLSMode {
	case "ssl":
		d.SSL = true
	case "starttls":
		d.StartTLSPolicy = mail.MandatoryStartTLS
	case "none":
		d.StartTLSPolicy = mail.NoStartTLS
	}
	return d
}

func (s *SMTPSender) Send(to, subject, htmlBody, textBody string) error {
	if err := s.dialer().DialAndSend(s.message(to, subject, htmlBody, textBody)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// OTPMailer renders OTP events into emails. It implements queue.Mailer.
type OTPMailer struct {
	Sender Sender
	Logger *zap.Logger
}

func (m *OTPMailer) SendOTP(_ context.Context, ev queue.OTPRequestedEvent) error {
	subject, html, text, err := Render(ev)
	if err != nil {
		return err
	}
	m.Logger.Debug("smtp send", zap.String("event_id", ev.EventID), zap.String("purpose", ev.Purpose))
	return m.Sender.Send(ev.Email, subject, html, text)
}
