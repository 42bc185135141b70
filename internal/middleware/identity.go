package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/auth-service/internal/service"
)

// Context keys set by JWTAuth.
const (
	ctxIdentity = "identity"
	ctxUserID   = "user_id"
	ctxRole     = "role"
)

// SetIdentity stores id in c.
func SetIdentity(c echo.Context, id service.Identity) {
	c.Set(ctxIdentity, id)
	c.Set(ctxUserID, id.UserID)
	c.Set(ctxRole, id.Role)
}

// IdentityFrom returns the identity stored by JWTAuth.
func IdentityFrom(c echo.Context) (service.Identity, bool) {
	id, ok := c.Get(ctxIdentity).(service.Identity)
	return id, ok
}

// userID returns the authenticated user id as a string, or "guest".
func userID(c echo.Context) string {
	if id, ok := IdentityFrom(c); ok && id.UserID != 0 {
		return strconv.FormatUint(id.UserID, 10)
	}
	return "guest"
}
