// Package cache keeps GitHub App installation tokens until shortly before
// they expire.
package cache

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL caps how long a token is reused, independent of its expiry.
// GitHub installation tokens live for one hour.
const DefaultTTL = 50 * time.Minute

// RefreshBuffer is how long before its expiry a token stops being served.
const RefreshBuffer = 5 * time.Minute

type Token struct {
	Value     string
	ExpiresAt time.Time
}

type TokenFetcher interface {
	FetchToken(ctx context.Context, installationID int64) (*Token, error)
}

type entry struct {
	token     *Token
	fetchedAt time.Time
}

type Cache struct {
	fetcher TokenFetcher
	ttl     time.Duration
	now     func() time.Time

	mu      sync.RWMutex
	entries map[int64]*entry
}

func New(fetcher TokenFetcher, ttl time.Duration) *Cache {
	return &Cache{
		fetcher: fetcher,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[int64]*entry),
	}
}

func (c *Cache) Get(ctx context.Context, installationID int64) (*Token, error) {
	c.mu.RLock()
	e, ok := c.entries[installationID]
	c.mu.RUnlock()

	if ok && c.fresh(e) {
		return e.token, nil
	}

	token, err := c.fetcher.FetchToken(ctx, installationID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[installationID] = &entry{
		token:     token,
		fetchedAt: c.now(),
	}
	c.mu.Unlock()

	return token, nil
}

// Invalidate drops the cached token, e.g. after GitHub rejected it.
func (c *Cache) Invalidate(installationID int64) {
	c.mu.Lock()
	delete(c.entries, installationID)
	c.mu.Unlock()
}

func (c *Cache) fresh(e *entry) bool {
	now := c.now()
	if now.Sub(e.fetchedAt) >= c.ttl {
		return false
	}
	if !e.token.ExpiresAt.IsZero() && !now.Before(e.token.ExpiresAt.Add(-RefreshBuffer)) {
		return false
	}
	return true
}
