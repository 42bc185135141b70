package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/auth-service/internal/logger"
)

// RequestLogger logs one line per request. It expects echo's RequestID
// middleware to run before it.
func RequestLogger(log *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			req, res := c.Request(), c.Response()
			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.String("path", c.Path()),
				zap.Int("status", res.Status),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", c.RealIP()),
				zap.String("user", userID(c)),
			}
			l := logger.WithRequestID(log, res.Header().Get(echo.HeaderXRequestID))
			switch {
			case res.Status >= 500:
				l.Error("request", fields...)
			case res.Status >= 400:
				l.Info("request", fields...)
			default:
				l.Debug("request", fields...)
			}
			return nil
		}
	}
}
