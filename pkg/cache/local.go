package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type localEntry struct {
	value     string
	expiresAt time.Time
}

// LocalCache is the in-process tier: a bounded LRU whose entries carry their
// own deadline. Expiry is checked lazily against the injected clock.
type LocalCache struct {
	entries *lru.Cache[string, localEntry]
	now     func() time.Time
}

// NewLocalCache creates an LRU holding at most size entries.
// A nil clock uses time.Now.
func NewLocalCache(size int, now func() time.Time) (*LocalCache, error) {
	if size <= 0 {
		size = 1
	}
	if now == nil {
		now = time.Now
	}

	entries, err := lru.New[string, localEntry](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create local cache: %w", err)
	}

	return &LocalCache{entries: entries, now: now}, nil
}

// Get returns the value for key, or ErrCacheMiss when absent or expired
func (c *LocalCache) Get(ctx context.Context, key string) (string, error) {
	value, _, err := c.GetWithTTL(ctx, key)
	return value, err
}

// GetWithTTL returns the value and its remaining lifetime
func (c *LocalCache) GetWithTTL(_ context.Context, key string) (string, time.Duration, error) {
	if key == "" {
		return "", 0, ErrInvalidCacheKey
	}

	entry, ok := c.entries.Get(key)
	if !ok {
		return "", 0, ErrCacheMiss
	}

	remaining := entry.expiresAt.Sub(c.now())
	if remaining <= 0 {
		c.entries.Remove(key)
		return "", 0, ErrCacheMiss
	}

	return entry.value, remaining, nil
}

// Set stores value under key for ttl. A non-positive ttl deletes the key.
func (c *LocalCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidCacheKey
	}
	if ttl <= 0 {
		c.entries.Remove(key)
		return nil
	}

	c.entries.Add(key, localEntry{value: value, expiresAt: c.now().Add(ttl)})
	return nil
}

// Delete removes keys; missing keys are ignored
func (c *LocalCache) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		c.entries.Remove(key)
	}
	return nil
}

// DeletePrefix removes every key starting with prefix
func (c *LocalCache) DeletePrefix(_ context.Context, prefix string) error {
	for _, key := range c.entries.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.entries.Remove(key)
		}
	}
	return nil
}

// Len returns the number of stored entries, including expired ones not yet evicted
func (c *LocalCache) Len() int {
	return c.entries.Len()
}
