package mcp

import (
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// sessionRegistry tracks the ids handed out on SSE streams that are still
// open. Entries are removed when the stream closes and refreshed while it
// stays open; the TTL only reclaims entries whose removal was missed.
type sessionRegistry struct {
	live *cache.Cache
	ttl  time.Duration
}

func newSessionRegistry(ttl time.Duration) *sessionRegistry {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	cleanup := ttl
	if ttl == cache.NoExpiration {
		cleanup = 0
	}
	return &sessionRegistry{live: cache.New(ttl, cleanup), ttl: ttl}
}

func (r *sessionRegistry) open() string {
	id := uuid.NewString()
	r.live.SetDefault(id, time.Now())
	return id
}

// refreshInterval is how often an open stream must touch its entry to keep
// it from expiring. Zero means entries never expire.
func (r *sessionRegistry) refreshInterval() time.Duration {
	if r.ttl == cache.NoExpiration {
		return 0
	}
	return r.ttl / 3
}

func (r *sessionRegistry) touch(id string) {
	r.live.SetDefault(id, time.Now())
}

func (r *sessionRegistry) close(id string) {
	r.live.Delete(id)
}

func (r *sessionRegistry) known(id string) bool {
	if id == "" {
		return false
	}
	_, ok := r.live.Get(id)
	return ok
}

func (r *sessionRegistry) count() int {
	return r.live.ItemCount()
}
