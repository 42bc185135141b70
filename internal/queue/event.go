// Package queue defines message payloads exchanged over the message broker
// together with the publisher used by the API and the consumer run by the
// mailer worker.
package queue

// OTPRequestedEvent is published whenever a one-time code is generated. The
// mailer worker turns it into an email. It is the only place the plain code
// leaves the API process; the database stores an HMAC of it.
type OTPRequestedEvent struct {
	EventID     string `json:"event_id"`
	UserID      uint64 `json:"user_id"`
	Email       string `json:"email"`
	Purpose     string `json:"purpose"` // email_verify | password_reset
	Code        string `json:"code"`
	ExpiresAt   string `json:"expires_at"`
	RequestedAt string `json:"requested_at"`
}
