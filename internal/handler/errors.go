package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/auth-service/internal/apperror"
	"github.com/iliyamo/auth-service/internal/logger"
)

type errorBody struct {
	Error   apperror.Kind `json:"error"`
	Message string        `json:"message"`
}

// respondError writes err as {"error": KIND, "message": ...}. Internal
// errors are logged with their cause and answered with a generic message.
func respondError(c echo.Context, log *zap.Logger, err error) error {
	ae := apperror.As(err)
	if ae.Kind == apperror.KindInternal {
		if log != nil {
			logger.WithRequestID(log, c.Response().Header().Get(echo.HeaderXRequestID)).
				Error("request failed", zap.String("path", c.Path()), zap.Error(err))
		}
		return c.JSON(http.StatusInternalServerError, errorBody{Error: apperror.KindInternal, Message: "internal error"})
	}
	return c.JSON(ae.Status(), errorBody{Error: ae.Kind, Message: ae.Message})
}

// ErrorHandler renders errors returned by middleware and by echo itself in
// the same shape as handler errors.
func ErrorHandler(log *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		var he *echo.HTTPError
		if errors.As(err, &he) && apperror.KindOf(err) == apperror.KindInternal {
			err = fromHTTPError(he)
		}
		if rerr := respondError(c, log, err); rerr != nil && log != nil {
			log.Warn("writing error response failed", zap.Error(rerr))
		}
	}
}

func fromHTTPError(he *echo.HTTPError) error {
	msg := fmt.Sprint(he.Message)
	switch {
	case he.Code == http.StatusNotFound:
		return apperror.NotFound(msg)
	case he.Code == http.StatusUnauthorized:
		return apperror.Authentication(msg)
	case he.Code == http.StatusForbidden:
		return apperror.Forbidden(msg)
	case he.Code >= 500:
		return apperror.Internal(he)
	}
	return apperror.Validation(msg)
}
