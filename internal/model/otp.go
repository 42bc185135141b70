package model

import "time"

// OTPPurpose names the workflow a one-time code belongs to.
type OTPPurpose string

const (
	PurposeEmailVerify   OTPPurpose = "email_verify"
	PurposePasswordReset OTPPurpose = "password_reset"
)

// Valid reports whether p is a known purpose.
func (p OTPPurpose) Valid() bool {
	return p == PurposeEmailVerify || p == PurposePasswordReset
}

// OneTimeCode models an entry in the `otp_codes` table. The code itself is
// never stored, only an HMAC of it. A code is dead once ConsumedAt or
// InvalidatedAt is set, once it expires, or once Attempts reaches the
// configured maximum.
type OneTimeCode struct {
	ID            uint64     // otp_codes.id
	UserID        uint64     // otp_codes.user_id
	Purpose       OTPPurpose // otp_codes.purpose
	CodeHash      string     // otp_codes.code_hash
	ExpiresAt     time.Time  // otp_codes.expires_at
	Attempts      int        // otp_codes.attempts
	ConsumedAt    *time.Time // otp_codes.consumed_at (nullable)
	InvalidatedAt *time.Time // otp_codes.invalidated_at (nullable)
	CreatedAt     time.Time  // otp_codes.created_at
}

// Consumed reports whether the code was already used successfully.
func (o OneTimeCode) Consumed() bool { return o.ConsumedAt != nil }

// Invalidated reports whether the code was superseded or cascaded away.
func (o OneTimeCode) Invalidated() bool { return o.InvalidatedAt != nil }
