package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/iliyamo/auth-service/internal/apperror"
	"github.com/iliyamo/auth-service/internal/logger"
	"github.com/iliyamo/auth-service/internal/model"
	"github.com/iliyamo/auth-service/internal/repository"
)

// SetUserActive suspends or reactivates target. Suspension revokes every
// session, bumps the token version and invalidates open codes. Staff may
// not act on super users and nobody may change their own status.
func (m *Manager) SetUserActive(ctx context.Context, actor Identity, target uint64, active bool) (int64, error) {
	if actor.Role != model.RoleStaff && actor.Role != model.RoleSuper {
		return 0, apperror.Forbidden("staff role required")
	}
	if actor.UserID == target {
		return 0, apperror.Forbidden("cannot change your own status")
	}
	u, err := m.users.GetByID(ctx, target)
	if errors.Is(err, repository.ErrNotFound) {
		return 0, apperror.NotFound("user not found")
	}
	if err != nil {
		return 0, internal(err)
	}
	if u.Role == model.RoleSuper && actor.Role != model.RoleSuper {
		return 0, apperror.Forbidden("cannot change the status of a super user")
	}

	n, err := m.users.SetActive(ctx, target, active, m.clock())
	if errors.Is(err, repository.ErrNotFound) {
		return 0, apperror.NotFound("user not found")
	}
	if err != nil {
		return 0, internal(err)
	}
	m.refreshState(ctx, target)
	if !active {
		m.metrics.Revoked("suspended", n)
	}
	m.log.Info("user status changed",
		zap.String("event", "user_status_changed"),
		logger.UserID(target), zap.Uint64("actor_id", actor.UserID),
		zap.Bool("active", active), zap.Int64("revoked", n))
	return n, nil
}

// SetUserRole changes the role of target. Only super users may do this.
func (m *Manager) SetUserRole(ctx context.Context, actor Identity, target uint64, role model.Role) error {
	if actor.Role != model.RoleSuper {
		return apperror.Forbidden("super role required")
	}
	if !role.Valid() {
		return apperror.Validation("role must be one of ordinary, staff, super")
	}
	if actor.UserID == target {
		return apperror.Forbidden("cannot change your own role")
	}
	if err := m.users.SetRole(ctx, target, role, m.clock()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperror.NotFound("user not found")
		}
		return internal(err)
	}
	m.refreshState(ctx, target)
	m.log.Info("user role changed",
		zap.String("event", "user_role_changed"),
		logger.UserID(target), zap.Uint64("actor_id", actor.UserID), zap.String("role", string(role)))
	return nil
}
