package middleware

import (
	"context"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/auth-service/internal/apperror"
	"github.com/iliyamo/auth-service/internal/service"
)

// AccessValidator resolves a raw access token. *service.Manager implements
// it.
type AccessValidator interface {
	ValidateAccess(ctx context.Context, raw string) (service.Identity, error)
}

// JWTAuth returns an Echo middleware that validates the Bearer access token
// through v and stores the resolved identity in the context. Signature,
// expiry, token version and account state are all checked by v, so a token
// issued before a logout-all or a suspension is rejected here even while
// it is not yet expired.
func JWTAuth(v AccessValidator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, ok := bearer(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return apperror.InvalidToken("missing bearer token")
			}
			id, err := v.ValidateAccess(c.Request().Context(), raw)
			if err != nil {
				return err
			}
			SetIdentity(c, id)
			return next(c)
		}
	}
}

func bearer(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	raw := strings.TrimSpace(header[len(prefix):])
	return raw, raw != ""
}
