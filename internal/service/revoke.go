package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/iliyamo/auth-service/internal/logger"
	"github.com/iliyamo/auth-service/internal/repository"
	"github.com/iliyamo/auth-service/internal/utils"
)

// Logout revokes the session the refresh token belongs to, or every
// session of its owner when allDevices is set. Revoking everything also
// bumps the owner's token version, so access tokens issued earlier stop
// validating. A token that is already revoked is a successful no-op.
func (m *Manager) Logout(ctx context.Context, raw string, allDevices bool) (int64, error) {
	if raw == "" {
		return 0, errInvalidRefresh
	}
	t, err := m.tokens.FindByHash(ctx, utils.HashRefreshRaw(raw))
	if errors.Is(err, repository.ErrNotFound) {
		return 0, errInvalidRefresh
	}
	if err != nil {
		return 0, internal(err)
	}
	if t.Revoked() {
		return 0, nil
	}

	now := m.clock()
	if !allDevices {
		n, err := m.tokens.Revoke(ctx, t.ID, now)
		if err != nil {
			return 0, internal(err)
		}
		m.metrics.Revoked("logout", n)
		m.log.Info("session revoked", logger.UserID(t.UserID), logger.DeviceID(t.DeviceID))
		return n, nil
	}
	return m.revokeAll(ctx, t.UserID, "logout_all")
}

// revokeAll revokes every session of userID, bumps the token version and
// refreshes the cached user state.
func (m *Manager) revokeAll(ctx context.Context, userID uint64, reason string) (int64, error) {
	n, version, err := m.tokens.RevokeAllForUser(ctx, userID, m.clock())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, errInvalidRefresh
		}
		return 0, internal(err)
	}
	m.refreshState(ctx, userID)
	m.metrics.Revoked(reason, n)
	m.log.Info("sessions revoked",
		zap.String("event", "sessions_revoked"), zap.String("reason", reason),
		logger.UserID(userID), zap.Int64("revoked", n), zap.Uint32("token_version", version))
	return n, nil
}

// LogoutEverywhere revokes every session of an authenticated user.
func (m *Manager) LogoutEverywhere(ctx context.Context, userID uint64) (int64, error) {
	return m.revokeAll(ctx, userID, "logout_all")
}
