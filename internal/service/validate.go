package service

import (
	"context"
	"errors"
	"time"

	"github.com/iliyamo/auth-service/internal/apperror"
	"github.com/iliyamo/auth-service/internal/cache"
	"github.com/iliyamo/auth-service/internal/model"
	"github.com/iliyamo/auth-service/internal/repository"
	"github.com/iliyamo/auth-service/internal/utils"
)

// Identity is the resolved caller of an authenticated request.
type Identity struct {
	UserID    uint64     `json:"user_id"`
	Role      model.Role `json:"role"`
	DeviceID  string     `json:"device_id"`
	TokenID   string     `json:"jti"`
	Version   uint32     `json:"token_version"`
	IssuedAt  time.Time  `json:"issued_at"`
	ExpiresAt time.Time  `json:"expires_at"`
}

var errInvalidAccess = apperror.InvalidToken("invalid access token")

// ValidateAccess verifies an access token and resolves its owner. The
// token is rejected when its version is below the owner's current token
// version or when the owner is inactive or gone. The role in the returned
// identity is the owner's current role, not the one signed into the token.
func (m *Manager) ValidateAccess(ctx context.Context, raw string) (Identity, error) {
	if raw == "" {
		return Identity{}, apperror.InvalidToken("missing access token")
	}
	claims, err := utils.ParseAccessToken(m.opts.JWTSecret, m.opts.Issuer, raw, m.now)
	if err != nil {
		if errors.Is(err, utils.ErrTokenExpired) {
			m.metrics.AccessCheck("expired")
			return Identity{}, apperror.New(apperror.KindExpiredToken, "access token expired")
		}
		m.metrics.AccessCheck("invalid")
		return Identity{}, errInvalidAccess
	}
	uid, err := claims.UserID()
	if err != nil {
		m.metrics.AccessCheck("invalid")
		return Identity{}, errInvalidAccess
	}

	st, err := m.userState(ctx, uid)
	if err != nil {
		return Identity{}, err
	}
	if !st.Active || claims.Ver < st.Version {
		m.metrics.AccessCheck("revoked")
		return Identity{}, errInvalidAccess
	}
	m.metrics.AccessCheck("ok")

	id := Identity{
		UserID:   uid,
		Role:     st.Role,
		DeviceID: claims.Device,
		TokenID:  claims.ID,
		Version:  claims.Ver,
	}
	if claims.IssuedAt != nil {
		id.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return id, nil
}

// refreshState writes the current state of userID to the cache after a
// change to the user row. It falls back to dropping the entry.
func (m *Manager) refreshState(ctx context.Context, userID uint64) {
	u, err := m.users.GetByID(ctx, userID)
	if err != nil {
		m.cache.Delete(ctx, userID)
		return
	}
	m.cache.Set(ctx, userID, cache.StateOf(u))
}

// userState reads the watermark, active flag and role through the cache.
func (m *Manager) userState(ctx context.Context, userID uint64) (cache.UserState, error) {
	if st, ok := m.cache.Get(ctx, userID); ok {
		return st, nil
	}
	u, err := m.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		m.metrics.AccessCheck("unknown_user")
		return cache.UserState{}, errInvalidAccess
	}
	if err != nil {
		return cache.UserState{}, internal(err)
	}
	st := cache.StateOf(u)
	m.cache.Set(ctx, userID, st)
	return st, nil
}
