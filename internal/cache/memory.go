package cache

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory is an in-process StateCache backed by go-cache.
type Memory struct {
	mu sync.Mutex // serializes the version check in Set
	c  *gocache.Cache
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Memory{c: gocache.New(ttl, time.Minute)}
}

func (m *Memory) Get(_ context.Context, userID uint64) (UserState, bool) {
	v, ok := m.c.Get(key("", userID))
	if !ok {
		return UserState{}, false
	}
	st, ok := v.(UserState)
	return st, ok
}

func (m *Memory) Set(_ context.Context, userID uint64, st UserState) {
	k := key("", userID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.c.Get(k); ok {
		if cur, ok := v.(UserState); ok && cur.Version > st.Version {
			return
		}
	}
	m.c.SetDefault(k, st)
}

func (m *Memory) Delete(_ context.Context, userID uint64) { m.c.Delete(key("", userID)) }
