package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/auth-service/internal/apperror"
	"github.com/iliyamo/auth-service/internal/middleware"
	"github.com/iliyamo/auth-service/internal/model"
)

// AdminHandler serves /admin. It shares the service and timeout of the
// auth handler.
type AdminHandler struct{ *AuthHandler }

func NewAdminHandler(a *AuthHandler) *AdminHandler { return &AdminHandler{AuthHandler: a} }

type statusReq struct {
	Active *bool `json:"active" validate:"required"`
}
type roleReq struct {
	Role string `json:"role" validate:"required,oneof=ordinary staff super"`
}

func targetID(c echo.Context) (uint64, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, apperror.Validation("invalid user id")
	}
	return id, nil
}

// SetStatus suspends or reactivates a user.
func (h *AdminHandler) SetStatus(c echo.Context) error {
	actor, ok := middleware.IdentityFrom(c)
	if !ok {
		return h.fail(c, apperror.InvalidToken("missing bearer token"))
	}
	target, err := targetID(c)
	if err != nil {
		return h.fail(c, err)
	}
	var req statusReq
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	n, err := h.Svc.SetUserActive(ctx, actor, target, *req.Active)
	if err != nil {
		return h.fail(c, err)
	}
	msg := "user activated"
	if !*req.Active {
		msg = "user suspended"
	}
	return c.JSON(http.StatusOK, echo.Map{"message": msg, "revoked": n})
}

// SetRole changes a user's role. Super users only.
func (h *AdminHandler) SetRole(c echo.Context) error {
	actor, ok := middleware.IdentityFrom(c)
	if !ok {
		return h.fail(c, apperror.InvalidToken("missing bearer token"))
	}
	target, err := targetID(c)
	if err != nil {
		return h.fail(c, err)
	}
	var req roleReq
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	if err := h.Svc.SetUserRole(ctx, actor, target, model.Role(req.Role)); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "role updated"})
}
