package dedup

import (
	"sync"
	"time"
)

// cache defaults; tuned for a poll cycle that revisits the same users many
// times in quick succession.
const (
	DefaultTTL       = 5 * time.Minute
	DefaultUserLimit = 200
)

// Cache memoizes per-user dedup verdicts so one poll cycle does not hammer
// the database with the same episode checks. Entries expire after the TTL and
// each user's map is capped; writes for a user invalidate that user wholesale
// so a freshly recorded notification is always observed.
type Cache struct {
	mu    sync.Mutex
	ttl   time.Duration
	limit int
	users map[string]*userCache
	now   func() time.Time
}

type userCache struct {
	entries map[string]cacheEntry
}

type cacheEntry struct {
	sent      bool
	expiresAt time.Time
}

// NewCache creates a cache with the given TTL and per-user entry cap. Zero
// values fall back to the defaults.
func NewCache(ttl time.Duration, limit int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if limit <= 0 {
		limit = DefaultUserLimit
	}
	return &Cache{
		ttl:   ttl,
		limit: limit,
		users: make(map[string]*userCache),
		now:   time.Now,
	}
}

// Get returns the cached verdict for the key, if present and fresh.
func (c *Cache) Get(email, key string) (sent, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	user, exists := c.users[email]
	if !exists {
		return false, false
	}
	entry, exists := user.entries[key]
	if !exists {
		return false, false
	}
	if c.now().After(entry.expiresAt) {
		delete(user.entries, key)
		return false, false
	}
	return entry.sent, true
}

// Put stores a verdict. When the user's map is full the oldest entries are
// evicted by dropping everything expired, then by clearing outright; a cache
// miss only costs a database query.
func (c *Cache) Put(email, key string, sent bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	user, exists := c.users[email]
	if !exists {
		user = &userCache{entries: make(map[string]cacheEntry)}
		c.users[email] = user
	}
	if len(user.entries) >= c.limit {
		now := c.now()
		for k, entry := range user.entries {
			if now.After(entry.expiresAt) {
				delete(user.entries, k)
			}
		}
		if len(user.entries) >= c.limit {
			user.entries = make(map[string]cacheEntry)
		}
	}
	user.entries[key] = cacheEntry{sent: sent, expiresAt: c.now().Add(c.ttl)}
}

// Invalidate drops every cached verdict for the user.
func (c *Cache) Invalidate(email string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.users, email)
}
