package mailer

import (
	"context"
	"testing"

	mail "github.com/go-mail/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/auth-service/internal/config"
	"github.com/iliyamo/auth-service/internal/queue"
)

type recordingSender struct {
	to, subject, html, text string
}

func (r *recordingSender) Send(to, subject, html, text string) error {
	r.to, r.subject, r.html, r.text = to, subject, html, text
	return nil
}

func event(purpose string) queue.OTPRequestedEvent {
	return queue.OTPRequestedEvent{
		EventID: "e1", UserID: 1, Email: "a@x.io", Purpose: purpose, Code: "012345",
		RequestedAt: "2026-03-01T12:00:00Z", ExpiresAt: "2026-03-01T12:15:00Z",
	}
}

func TestRenderPurposes(t *testing.T) {
	subject, html, text, err := Render(event("email_verify"))
	require.NoError(t, err)
	assert.Equal(t, "Verify your email", subject)
	assert.Contains(t, text, "012345")
	assert.Contains(t, text, "15 minutes")
	assert.Contains(t, html, "<strong>012345</strong>")

	subject, _, _, err = Render(event("password_reset"))
	require.NoError(t, err)
	assert.Equal(t, "Reset your password", subject)

	_, _, _, err = Render(event("other"))
	assert.Error(t, err)
}

func TestOTPMailerSends(t *testing.T) {
	rec := &recordingSender{}
	m := &OTPMailer{Sender: rec, Logger: zap.NewNop()}
	require.NoError(t, m.SendOTP(context.Background(), event("email_verify")))
	assert.Equal(t, "a@x.io", rec.to)
	assert.NotEmpty(t, rec.html)
}

func TestDialerTLSModes(t *testing.T) {
	s := NewSMTPSender(config.SMTPConfig{Host: "smtp.local", Port: 465, TLSMode: "ssl"})
	assert.True(t, s.dialer().SSL)

	s.TLSMode = "starttls"
	assert.Equal(t, mail.MandatoryStartTLS, s.dialer().StartTLSPolicy)

	s.TLSMode = "none"
	assert.Equal(t, mail.StartTLSPolicy(mail.NoStartTLS), s.dialer().StartTLSPolicy)
}
