package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/auth-service/internal/apperror"
	"github.com/iliyamo/auth-service/internal/logger"
	"github.com/iliyamo/auth-service/internal/model"
	"github.com/iliyamo/auth-service/internal/repository"
	"github.com/iliyamo/auth-service/internal/utils"
)

// MaxDeviceIDLen bounds the client-supplied device identifier.
const MaxDeviceIDLen = 128

// TokenPair is returned by login and refresh.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresIn  int64     `json:"access_expires_in"`
	RefreshExpiresIn int64     `json:"refresh_expires_in"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func checkDevice(deviceID string) (string, error) {
	d := strings.TrimSpace(deviceID)
	switch {
	case d == "":
		return "", apperror.Validation("device_id is required")
	case len(d) > MaxDeviceIDLen:
		return "", apperror.Validation("device_id must be at most 128 characters")
	}
	return d, nil
}

func checkUsable(u model.User) error {
	if !u.IsActive {
		return apperror.Authentication("account is suspended")
	}
	if !u.IsVerified {
		return apperror.Authentication("email address is not verified")
	}
	return nil
}

// Issue creates a new session for u on deviceID. Any active session on the
// same device is revoked in the same transaction.
func (m *Manager) Issue(ctx context.Context, u model.User, deviceID string, rememberMe bool) (TokenPair, error) {
	device, err := checkDevice(deviceID)
	if err != nil {
		return TokenPair{}, err
	}
	if err := checkUsable(u); err != nil {
		return TokenPair{}, err
	}
	ttl := m.opts.RefreshTTL
	if rememberMe {
		ttl = m.opts.RememberMeTTL
	}

	now := m.clock()
	pair, rec, err := m.mint(u, device, uuid.NewString(), now, ttl)
	if err != nil {
		return TokenPair{}, internal(err)
	}
	replaced, err := m.tokens.Issue(ctx, rec, u.TokenVersion, now)
	if errors.Is(err, repository.ErrConflict) {
		// A concurrent login on the same device committed first; retry once.
		rec.ID = 0
		replaced, err = m.tokens.Issue(ctx, rec, u.TokenVersion, now)
	}
	if errors.Is(err, repository.ErrUserChanged) {
		m.log.Info("session not issued; account changed during login",
			logger.UserID(u.ID), logger.DeviceID(device))
		return TokenPair{}, apperror.Authentication("account changed, sign in again")
	}
	if err != nil {
		return TokenPair{}, internal(err)
	}
	m.metrics.Issued()
	m.log.Info("session issued",
		logger.UserID(u.ID), logger.DeviceID(device),
		zap.String("family_id", rec.FamilyID), zap.Int64("replaced", replaced))
	return pair, nil
}

// mint signs an access token and builds the refresh token row for it. The
// row is not persisted.
func (m *Manager) mint(u model.User, device, family string, now time.Time, refreshTTL time.Duration) (TokenPair, *model.RefreshToken, error) {
	access, err := utils.NewAccessToken(utils.AccessParams{
		Secret:   m.opts.JWTSecret,
		Issuer:   m.opts.Issuer,
		UserID:   u.ID,
		Role:     string(u.Role),
		DeviceID: device,
		Version:  u.TokenVersion,
		IssuedAt: now,
		TTL:      m.opts.AccessTTL,
	})
	if err != nil {
		return TokenPair{}, nil, err
	}
	refresh, err := utils.NewRefreshToken(now, refreshTTL)
	if err != nil {
		return TokenPair{}, nil, err
	}
	rec := &model.RefreshToken{
		UserID:    u.ID,
		DeviceID:  device,
		TokenHash: refresh.Hash,
		FamilyID:  family,
		IssuedAt:  now,
		ExpiresAt: refresh.Exp,
		CreatedAt: now,
	}
	pair := TokenPair{
		AccessToken:      access.Token,
		RefreshToken:     refresh.Raw,
		TokenType:        "Bearer",
		AccessExpiresIn:  int64(access.Exp.Sub(now) / time.Second),
		RefreshExpiresIn: int64(refresh.Exp.Sub(now) / time.Second),
		AccessExpiresAt:  access.Exp,
		RefreshExpiresAt: refresh.Exp,
	}
	return pair, rec, nil
}
