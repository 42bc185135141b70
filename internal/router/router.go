package router

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/iliyamo/auth-service/internal/handler"
	"github.com/iliyamo/auth-service/internal/middleware"
	"github.com/iliyamo/auth-service/internal/model"
)

// Deps are what the routes need. RateLimit and Metrics are optional.
type Deps struct {
	Auth      *handler.AuthHandler
	Admin     *handler.AdminHandler
	Validator middleware.AccessValidator
	Health    echo.HandlerFunc
	RateLimit echo.MiddlewareFunc
	Metrics   http.Handler
	Logger    *zap.Logger
}

// New builds the Echo instance with the shared middleware chain and every
// route registered.
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = middleware.NewValidator()
	e.HTTPErrorHandler = handler.ErrorHandler(d.Logger)

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	if d.Logger != nil {
		e.Use(middleware.RequestLogger(d.Logger))
	}

	RegisterRoutes(e, d)
	RegisterAuth(e, d)
	RegisterAdmin(e, d)
	return e
}

// RegisterRoutes registers routes that do not require authentication and
// are not rate limited.
func RegisterRoutes(e *echo.Echo, d Deps) {
	health := d.Health
	if health == nil {
		health = handler.Health(nil)
	}
	e.GET("/healthz", health)
	if d.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(d.Metrics))
	}
}

// RegisterAuth registers the /auth group. Operations that do not need a
// session are public; the rest sit behind JWTAuth. The whole group shares
// the rate limiter.
func RegisterAuth(e *echo.Echo, d Deps) {
	a := d.Auth
	g := e.Group("/auth")
	if d.RateLimit != nil {
		g.Use(d.RateLimit)
	}
	g.POST("/register", a.Register)
	g.POST("/verify-otp", a.VerifyOTP)
	g.POST("/resend-otp", a.ResendOTP)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	g.POST("/logout", a.Logout)
	g.POST("/password/reset", a.PasswordReset)
	g.POST("/password/reset/confirm", a.PasswordResetConfirm)

	jwt := middleware.JWTAuth(d.Validator)
	g.POST("/password/change", a.PasswordChange, jwt)
	g.GET("/me", a.Me, jwt)
	g.GET("/token-info", a.TokenInfo, jwt)
	g.GET("/sessions", a.Sessions, jwt)
}

// RegisterAdmin registers the staff endpoints. Role changes are further
// restricted to super users inside the service.
func RegisterAdmin(e *echo.Echo, d Deps) {
	g := e.Group("/admin",
		middleware.JWTAuth(d.Validator),
		middleware.RequireRole(model.RoleStaff, model.RoleSuper),
	)
	g.PATCH("/users/:id/status", d.Admin.SetStatus)
	g.PATCH("/users/:id/role", d.Admin.SetRole, middleware.RequireRole(model.RoleSuper))
}
