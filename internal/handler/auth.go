package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/auth-service/internal/apperror"
	"github.com/iliyamo/auth-service/internal/middleware"
	"github.com/iliyamo/auth-service/internal/service"
)

// AuthHandler serves the /auth endpoints.
type AuthHandler struct {
	Svc     *service.Manager
	Timeout time.Duration
	Log     *zap.Logger
}

func NewAuthHandler(svc *service.Manager, timeout time.Duration, log *zap.Logger) *AuthHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthHandler{Svc: svc, Timeout: timeout, Log: log}
}

// ----- DTOs -----

type registerReq struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}
type verifyReq struct {
	Email string `json:"email" validate:"required"`
	Code  string `json:"code" validate:"required"`
}
type emailReq struct {
	Email string `json:"email" validate:"required"`
}
type loginReq struct {
	Email      string `json:"email" validate:"required"`
	Password   string `json:"password" validate:"required"`
	DeviceID   string `json:"device_id" validate:"required,max=128"`
	RememberMe bool   `json:"remember_me"`
}
type refreshReq struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}
type logoutReq struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
	AllDevices   bool   `json:"all_devices"`
}
type resetConfirmReq struct {
	Email       string `json:"email" validate:"required"`
	Code        string `json:"code" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}
type changePasswordReq struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

// bind decodes and validates the JSON body into req.
func bind(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return apperror.Validation("invalid request body")
	}
	return c.Validate(req)
}

func (h *AuthHandler) ctx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), h.Timeout)
}

func (h *AuthHandler) fail(c echo.Context, err error) error { return respondError(c, h.Log, err) }

// Register creates an unverified account and sends a verification code.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	u, err := h.Svc.Register(ctx, req.Email, req.Password)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"user":    u,
		"message": "verification code sent",
	})
}

// VerifyOTP confirms the email address with a code.
func (h *AuthHandler) VerifyOTP(c echo.Context) error {
	var req verifyReq
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	if err := h.Svc.VerifyEmail(ctx, req.Email, req.Code); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "email verified"})
}

// ResendOTP always answers 202 so account existence is not revealed.
func (h *AuthHandler) ResendOTP(c echo.Context) error {
	var req emailReq
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	if err := h.Svc.ResendVerification(ctx, req.Email); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusAccepted, echo.Map{"message": "if the account needs verification, a new code has been sent"})
}

// Login: verify credentials and open a session on the device.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	res, err := h.Svc.Login(ctx, req.Email, req.Password, req.DeviceID, req.RememberMe)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Refresh rotates the refresh token.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	pair, err := h.Svc.Refresh(ctx, req.RefreshToken)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, pair)
}

// Logout revokes one session, or all of them with all_devices.
func (h *AuthHandler) Logout(c echo.Context) error {
	var req logoutReq
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	n, err := h.Svc.Logout(ctx, req.RefreshToken, req.AllDevices)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"revoked": n})
}

// PasswordReset always answers 202.
func (h *AuthHandler) PasswordReset(c echo.Context) error {
	var req emailReq
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	if err := h.Svc.RequestPasswordReset(ctx, req.Email); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusAccepted, echo.Map{"message": "if the account exists, a reset code has been sent"})
}

func (h *AuthHandler) PasswordResetConfirm(c echo.Context) error {
	var req resetConfirmReq
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	n, err := h.Svc.ConfirmPasswordReset(ctx, req.Email, req.Code, req.NewPassword)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "password updated", "revoked": n})
}

// PasswordChange requires a bearer token.
func (h *AuthHandler) PasswordChange(c echo.Context) error {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		return h.fail(c, apperror.InvalidToken("missing bearer token"))
	}
	var req changePasswordReq
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	n, err := h.Svc.ChangePassword(ctx, id.UserID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "password updated", "revoked": n})
}

// Me returns the caller's profile.
func (h *AuthHandler) Me(c echo.Context) error {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		return h.fail(c, apperror.InvalidToken("missing bearer token"))
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	u, err := h.Svc.Me(ctx, id.UserID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, u)
}

// TokenInfo echoes the validated access token's metadata.
func (h *AuthHandler) TokenInfo(c echo.Context) error {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		return h.fail(c, apperror.InvalidToken("missing bearer token"))
	}
	return c.JSON(http.StatusOK, id)
}

// Sessions lists the caller's active refresh sessions.
func (h *AuthHandler) Sessions(c echo.Context) error {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		return h.fail(c, apperror.InvalidToken("missing bearer token"))
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	list, err := h.Svc.ListSessions(ctx, id.UserID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"sessions": list})
}
