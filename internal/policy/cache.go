// Package policy provides a read-through TTL cache over the chat
// policy store so the moderation hot path does not hit Postgres on
// every message.
package policy

import (
	"context"
	"sync"
	"time"

	"github.com/Susbonk/SusBonk-V1/internal/domain"
)

// DefaultTTL is how long a cached policy stays fresh.
const DefaultTTL = 5 * time.Minute

// Store is the backing source of chat policies.
type Store interface {
	GetByPlatformID(ctx context.Context, platformChatID int64) (*domain.ChatPolicy, error)
}

type entry struct {
	policy    *domain.ChatPolicy
	expiresAt time.Time
}

// Cache is a read-through policy cache keyed by platform chat id.
// Misses are not cached; an unknown chat stays a store round trip.
type Cache struct {
	store Store
	ttl   time.Duration

	mu      sync.RWMutex
	entries map[int64]entry
}

// NewCache creates a cache over store with the given TTL.
func NewCache(store Store, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		store:   store,
		ttl:     ttl,
		entries: make(map[int64]entry),
	}
}

// Get returns the policy for a chat, from cache when fresh.
func (c *Cache) Get(ctx context.Context, platformChatID int64) (*domain.ChatPolicy, error) {
	c.mu.RLock()
	e, ok := c.entries[platformChatID]
	c.mu.RUnlock()
	if ok && time.Now().Before(e.expiresAt) {
		return e.policy, nil
	}

	policy, err := c.store.GetByPlatformID(ctx, platformChatID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[platformChatID] = entry{policy: policy, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
	return policy, nil
}

// Invalidate drops the cached entry so the next Get observes the store.
// Called after any policy write.
func (c *Cache) Invalidate(platformChatID int64) {
	c.mu.Lock()
	delete(c.entries, platformChatID)
	c.mu.Unlock()
}

// Len reports the number of cached entries, fresh or stale.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// StartJanitor evicts expired entries periodically until ctx ends.
func (c *Cache) StartJanitor(ctx context.Context, every time.Duration) {
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := time.Now()
				c.mu.Lock()
				for k, e := range c.entries {
					if now.After(e.expiresAt) {
						delete(c.entries, k)
					}
				}
				c.mu.Unlock()
			}
		}
	}()
}
