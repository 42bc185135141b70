package model

import "time"

// RefreshToken models an entry in the `refresh_tokens` table: one row per
// logged-in device session. Only the SHA-256 hash of the opaque value is
// stored. FamilyID is shared by every token descended from the same login,
// which makes rotation chains easy to follow in logs.
//
// At most one row per (UserID, DeviceID) has RevokedAt == nil.
type RefreshToken struct {
	ID           uint64     // refresh_tokens.id
	UserID       uint64     // refresh_tokens.user_id
	DeviceID     string     // refresh_tokens.device_id
	TokenHash    string     // refresh_tokens.token_hash
	FamilyID     string     // refresh_tokens.family_id
	IssuedAt     time.Time  // refresh_tokens.issued_at
	ExpiresAt    time.Time  // refresh_tokens.expires_at
	RevokedAt    *time.Time // refresh_tokens.revoked_at (nullable)
	ReplacedByID *uint64    // refresh_tokens.replaced_by_id (nullable)
	CreatedAt    time.Time  // refresh_tokens.created_at
}

// Revoked reports whether the token has been revoked.
func (t RefreshToken) Revoked() bool { return t.RevokedAt != nil }

// Rotated reports whether the token was revoked because it was exchanged
// for a child token.
func (t RefreshToken) Rotated() bool { return t.RevokedAt != nil && t.ReplacedByID != nil }

// ActiveAt reports whether the token is usable at the given instant.
func (t RefreshToken) ActiveAt(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// Lifetime is the span between issuance and expiry.
func (t RefreshToken) Lifetime() time.Duration { return t.ExpiresAt.Sub(t.IssuedAt) }
