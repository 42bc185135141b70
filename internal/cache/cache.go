// Package cache keeps a short-lived copy of the per-user state that every
// access-token check needs: the token watermark, the active flag and the
// role. Entries are deleted whenever this instance changes that state;
// other instances see the change once their entry expires.
package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/auth-service/internal/config"
	"github.com/iliyamo/auth-service/internal/model"
)

// UserState is the cached projection of a user row.
type UserState struct {
	Version uint32     `json:"v"`
	Active  bool       `json:"a"`
	Role    model.Role `json:"r"`
}

// StateOf projects a user onto its cached state.
func StateOf(u model.User) UserState {
	return UserState{Version: u.TokenVersion, Active: u.IsActive, Role: u.Role}
}

// StateCache is implemented by Memory, Redis and Nop. Lookups never fail:
// a backend error is a miss. Set never replaces a cached state that has a
// higher Version, so a reader that loaded the row before a watermark bump
// cannot overwrite the state written after it.
type StateCache interface {
	Get(ctx context.Context, userID uint64) (UserState, bool)
	Set(ctx context.Context, userID uint64, st UserState)
	Delete(ctx context.Context, userID uint64)
}

// New picks the backend: Redis when a client is available, process memory
// otherwise, and Nop when caching is disabled.
func New(cfg config.StateCacheConfig, rdb *redis.Client) StateCache {
	if !cfg.Enabled {
		return Nop{}
	}
	if rdb != nil {
		return NewRedis(rdb, cfg.Prefix, cfg.TTL)
	}
	return NewMemory(cfg.TTL)
}

func key(prefix string, userID uint64) string {
	return prefix + ":" + strconv.FormatUint(userID, 10)
}

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, uint64) (UserState, bool) { return UserState{}, false }
func (Nop) Set(context.Context, uint64, UserState)        {}
func (Nop) Delete(context.Context, uint64)                {}

var (
	_ StateCache = Nop{}
	_ StateCache = (*Memory)(nil)
	_ StateCache = (*Redis)(nil)
)

// defaultTTL is used when a backend is built with a non-positive ttl.
const defaultTTL = 30 * time.Second
