// Package cache implements the best-effort key/value layer used for permission
// check memoization and external provider token caching.
//
// Two tiers are stacked by Tiered: an in-process LRU (LocalCache) in front of
// an optional shared Redis tier (RedisCache). The cache is never a source of
// truth; every failure of the shared tier degrades to a miss.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/observability"
)

// Cache is the key/value contract consumed by the token and permission services
type Cache interface {
	// Get returns ErrCacheMiss when the key is absent or expired
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// Tier is a Cache that can also report the remaining lifetime of a key
type Tier interface {
	Cache
	GetWithTTL(ctx context.Context, key string) (string, time.Duration, error)
}

const (
	tierLocal  = "local"
	tierShared = "shared"
)

// Tiered reads through the local tier to the shared tier and writes to both.
// Shared-tier errors are logged and swallowed.
type Tiered struct {
	local   Tier
	shared  Tier
	logger  logrus.FieldLogger
	metrics *observability.Metrics
}

// NewTiered stacks local in front of shared. shared may be nil (single node,
// redis disabled). Nil logger and metrics fall back to no-op defaults.
func NewTiered(local, shared Tier, logger logrus.FieldLogger, metrics *observability.Metrics) *Tiered {
	if logger == nil {
		logger = logrus.New()
	}
	if metrics == nil {
		metrics = observability.NopMetrics()
	}
	return &Tiered{
		local:   local,
		shared:  shared,
		logger:  logger.WithField("component", "cache"),
		metrics: metrics,
	}
}

// Get checks the local tier, then the shared tier. A shared hit is copied into
// the local tier with the shared key's remaining TTL so it cannot outlive it.
func (t *Tiered) Get(ctx context.Context, key string) (string, error) {
	if value, err := t.local.Get(ctx, key); err == nil {
		t.metrics.CacheHitsTotal.WithLabelValues(tierLocal).Inc()
		return value, nil
	} else if errors.Is(err, ErrInvalidCacheKey) {
		return "", err
	}
	t.metrics.CacheMissesTotal.WithLabelValues(tierLocal).Inc()

	if t.shared == nil {
		return "", ErrCacheMiss
	}

	value, ttl, err := t.shared.GetWithTTL(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			t.logger.WithError(err).Warn("Shared cache read failed, treating as miss")
		}
		t.metrics.CacheMissesTotal.WithLabelValues(tierShared).Inc()
		return "", ErrCacheMiss
	}

	t.metrics.CacheHitsTotal.WithLabelValues(tierShared).Inc()
	_ = t.local.Set(ctx, key, value, ttl)
	return value, nil
}

// Set writes both tiers. Only a local-tier error is returned.
func (t *Tiered) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := t.local.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	if t.shared != nil {
		if err := t.shared.Set(ctx, key, value, ttl); err != nil {
			t.logger.WithError(err).Warn("Shared cache write failed")
		}
	}
	return nil
}

// Delete removes keys from both tiers
func (t *Tiered) Delete(ctx context.Context, keys ...string) error {
	if err := t.local.Delete(ctx, keys...); err != nil {
		return err
	}
	if t.shared != nil {
		if err := t.shared.Delete(ctx, keys...); err != nil {
			t.logger.WithError(err).Warn("Shared cache delete failed")
		}
	}
	return nil
}

// DeletePrefix removes every key starting with prefix from both tiers
func (t *Tiered) DeletePrefix(ctx context.Context, prefix string) error {
	if err := t.local.DeletePrefix(ctx, prefix); err != nil {
		return err
	}
	if t.shared != nil {
		if err := t.shared.DeletePrefix(ctx, prefix); err != nil {
			t.logger.WithError(err).WithField("prefix", prefix).Warn("Shared cache prefix delete failed")
		}
	}
	return nil
}
