package model

import "time"

// Role is the privilege level of a user as stored in users.role.
type Role string

const (
	RoleOrdinary Role = "ordinary"
	RoleStaff    Role = "staff"
	RoleSuper    Role = "super"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOrdinary, RoleStaff, RoleSuper:
		return true
	}
	return false
}

// User represents a row of the `users` table. The email is stored lower-cased
// so the unique index gives case-insensitive uniqueness.
//
// TokenVersion is the access-token watermark: every access token carries the
// version that was current when it was issued, and tokens with an older
// version are rejected. It is bumped on logout from all devices, password
// change or reset, suspension and refresh-token reuse.
type User struct {
	ID           uint64    // users.id
	Email        string    // users.email
	PasswordHash string    // users.password_hash (bcrypt)
	Role         Role      // users.role
	IsVerified   bool      // users.is_verified
	IsActive     bool      // users.is_active
	TokenVersion uint32    // users.token_version
	CreatedAt    time.Time // users.created_at
	UpdatedAt    time.Time // users.updated_at
}
