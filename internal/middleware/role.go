package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/auth-service/internal/apperror"
	"github.com/iliyamo/auth-service/internal/model"
)

// RequireRole rejects requests whose caller does not hold one of roles. The
// role is the caller's current role as resolved by JWTAuth, which must run
// first.
func RequireRole(roles ...model.Role) echo.MiddlewareFunc {
	allowed := make(map[model.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := IdentityFrom(c)
			if !ok {
				return apperror.InvalidToken("missing bearer token")
			}
			if !allowed[id.Role] {
				return apperror.Forbidden("forbidden")
			}
			return next(c)
		}
	}
}
