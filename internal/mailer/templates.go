package mailer

import (
	"bytes"
	"fmt"
	htmltpl "html/template"
	texttpl "text/template"
	"time"

	"github.com/iliyamo/auth-service/internal/queue"
)

type content struct {
	Subject string
	Intro   string
	Code    string
	Minutes int
}

var (
	textTpl = texttpl.Must(texttpl.New("text").Parse(
		"{{.Intro}}\n\nYour code: {{.Code}}\n\nIt expires in {{.Minutes}} minutes. If you did not ask for it, ignore this email.\n"))
	htmlTpl = htmltpl.Must(htmltpl.New("html").Parse(
		`<p>{{.Intro}}</p><p style="font-size:24px;letter-spacing:4px"><strong>{{.Code}}</strong></p>` +
			`<p>It expires in {{.Minutes}} minutes. If you did not ask for it, ignore this email.</p>`))
)

// Render returns subject, html and plain text bodies for an OTP event.
func Render(ev queue.OTPRequestedEvent) (string, string, string, error) {
	c := content{Code: ev.Code, Minutes: minutesLeft(ev)}
	switch ev.Purpose {
	case "email_verify":
		c.Subject = "Verify your email"
		c.Intro = "Use this code to verify your email address."
	case "password_reset":
		c.Subject = "Reset your password"
		c.Intro = "Use this code to reset your password."
	default:
		return "", "", "", fmt.Errorf("unknown otp purpose %q", ev.Purpose)
	}
	var text, html bytes.Buffer
	if err := textTpl.Execute(&text, c); err != nil {
		return "", "", "", err
	}
	if err := htmlTpl.Execute(&html, c); err != nil {
		return "", "", "", err
	}
	return c.Subject, html.String(), text.String(), nil
}

func minutesLeft(ev queue.OTPRequestedEvent) int {
	exp, err1 := time.Parse(time.RFC3339, ev.ExpiresAt)
	req, err2 := time.Parse(time.RFC3339, ev.RequestedAt)
	if err1 != nil || err2 != nil || !exp.After(req) {
		return 10
	}
	return int(exp.Sub(req).Round(time.Minute) / time.Minute)
}
