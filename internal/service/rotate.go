package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/iliyamo/auth-service/internal/apperror"
	"github.com/iliyamo/auth-service/internal/logger"
	"github.com/iliyamo/auth-service/internal/model"
	"github.com/iliyamo/auth-service/internal/repository"
	"github.com/iliyamo/auth-service/internal/utils"
)

var errInvalidRefresh = apperror.InvalidToken("invalid refresh token")

// Refresh exchanges a refresh token for a new pair. The child keeps the
// parent's device, family and lifetime length. Presenting a token that was
// already rotated, or losing a rotation race, is treated as token reuse.
// The caller only ever sees a generic invalid-token error.
func (m *Manager) Refresh(ctx context.Context, raw string) (TokenPair, error) {
	if raw == "" {
		return TokenPair{}, errInvalidRefresh
	}
	parent, err := m.tokens.FindByHash(ctx, utils.HashRefreshRaw(raw))
	if errors.Is(err, repository.ErrNotFound) {
		m.metrics.Rotation("unknown")
		return TokenPair{}, errInvalidRefresh
	}
	if err != nil {
		return TokenPair{}, internal(err)
	}

	now := m.clock()
	switch {
	case parent.Rotated():
		m.reuse(ctx, parent, "replayed")
		return TokenPair{}, errInvalidRefresh
	case parent.Revoked():
		m.metrics.Rotation("revoked")
		return TokenPair{}, errInvalidRefresh
	case !parent.ActiveAt(now):
		m.metrics.Rotation("expired")
		return TokenPair{}, errInvalidRefresh
	}

	u, err := m.users.GetByID(ctx, parent.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return TokenPair{}, errInvalidRefresh
	}
	if err != nil {
		return TokenPair{}, internal(err)
	}
	if checkUsable(u) != nil {
		m.metrics.Rotation("user_unusable")
		return TokenPair{}, errInvalidRefresh
	}

	pair, child, err := m.mint(u, parent.DeviceID, parent.FamilyID, now, parent.Lifetime())
	if err != nil {
		return TokenPair{}, internal(err)
	}
	switch err := m.tokens.Rotate(ctx, parent.ID, child, now); {
	case errors.Is(err, repository.ErrNotActive):
		m.reuse(ctx, parent, "race")
		return TokenPair{}, errInvalidRefresh
	case errors.Is(err, repository.ErrConflict):
		m.metrics.Rotation("conflict")
		return TokenPair{}, errInvalidRefresh
	case err != nil:
		return TokenPair{}, internal(err)
	}
	m.metrics.Rotation("ok")
	m.log.Debug("refresh token rotated",
		logger.UserID(u.ID), logger.DeviceID(parent.DeviceID),
		zap.Uint64("parent_id", parent.ID), zap.Uint64("child_id", child.ID))
	return pair, nil
}

// reuse records a refresh_token_reuse security event and, when configured,
// revokes every session of the token's owner.
func (m *Manager) reuse(ctx context.Context, t model.RefreshToken, reason string) {
	m.metrics.Rotation("reuse")
	m.metrics.Reuse()
	fields := []zap.Field{
		zap.String("event", "refresh_token_reuse"),
		zap.String("reason", reason),
		logger.UserID(t.UserID),
		logger.DeviceID(t.DeviceID),
		zap.String("family_id", t.FamilyID),
		zap.Uint64("token_id", t.ID),
	}
	if !m.opts.RevokeOnReuse {
		m.log.Warn("refresh token reuse detected", fields...)
		return
	}
	n, _, err := m.tokens.RevokeAllForUser(ctx, t.UserID, m.clock())
	m.refreshState(ctx, t.UserID)
	if err != nil {
		m.log.Error("refresh token reuse detected; revoking sessions failed", append(fields, zap.Error(err))...)
		return
	}
	m.metrics.Revoked("reuse", n)
	m.log.Warn("refresh token reuse detected; all sessions revoked", append(fields, zap.Int64("revoked", n))...)
}
