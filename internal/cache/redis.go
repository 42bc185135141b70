package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// setScript stores ARGV[1] unless the cached document carries a higher
// version than ARGV[2].
var setScript = redis.NewScript(`
	local cur = redis.call('GET', KEYS[1])
	if cur then
		local v = tonumber(string.match(cur, '"v":(%d+)'))
		if v and v > tonumber(ARGV[2]) then
			return 0
		end
	end
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
	return 1
`)

// Redis is a StateCache shared by every instance talking to the same
// Redis. Values are small JSON documents stored with a TTL.
type Redis struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedis(rdb *redis.Client, prefix string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if prefix == "" {
		prefix = "ustate"
	}
	return &Redis{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, userID uint64) (UserState, bool) {
	b, err := r.rdb.Get(ctx, key(r.prefix, userID)).Bytes()
	if err != nil {
		return UserState{}, false
	}
	var st UserState
	if err := json.Unmarshal(b, &st); err != nil {
		return UserState{}, false
	}
	return st, true
}

func (r *Redis) Set(ctx context.Context, userID uint64, st UserState) {
	b, err := json.Marshal(st)
	if err != nil {
		return
	}
	_ = setScript.Run(ctx, r.rdb, []string{key(r.prefix, userID)}, b, st.Version, r.ttl.Milliseconds()).Err()
}

func (r *Redis) Delete(ctx context.Context, userID uint64) {
	_ = r.rdb.Del(ctx, key(r.prefix, userID)).Err()
}
