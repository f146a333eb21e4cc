// Package cache provides a two-tier read-through cache for
// subscription records: an in-process LRU in front of Redis, in front
// of the document store. Cache failures degrade to direct store reads.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/paywall/pkg/docstore"
	"github.com/platinummonkey/paywall/pkg/entitlement"
	"github.com/platinummonkey/paywall/pkg/observability"
)

// cachedSubscription is the serialized cache entry. Found=false caches
// the absence of a subscription, which is the common case for free
// users hitting the entitlement check.
type cachedSubscription struct {
	Found        bool                      `json:"found"`
	Subscription *entitlement.Subscription `json:"subscription,omitempty"`
}

// Options configures the subscription cache.
type Options struct {
	L1Size int
	TTL    time.Duration
}

// SubscriptionCache is a read-through cache over the userSubscriptions
// collection. It implements entitlement.SubscriptionSource.
type SubscriptionCache struct {
	store   docstore.Store
	redis   *redis.Client
	l1      *expirable.LRU[string, cachedSubscription]
	ttl     time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewSubscriptionCache creates the cache. redis may be nil to run with
// the in-process tier only; metrics may be nil.
func NewSubscriptionCache(store docstore.Store, redisClient *redis.Client, opts Options, logger *observability.Logger, metrics *observability.Metrics) *SubscriptionCache {
	size := opts.L1Size
	if size <= 0 {
		size = 4096
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SubscriptionCache{
		store:   store,
		redis:   redisClient,
		l1:      expirable.NewLRU[string, cachedSubscription](size, nil, ttl),
		ttl:     ttl,
		logger:  logger,
		metrics: metrics,
	}
}

func redisKey(userID string) string {
	return "paywall:subscription:" + userID
}

// GetSubscription returns the user's subscription, or nil when none
// exists. Reads go L1, then Redis, then the store; both cache tiers
// are populated on the way back.
func (c *SubscriptionCache) GetSubscription(ctx context.Context, userID string) (*entitlement.Subscription, error) {
	if entry, ok := c.l1.Get(userID); ok {
		c.hit("l1")
		return entry.Subscription, nil
	}
	c.miss("l1")

	if c.redis != nil {
		cached, err := c.redis.Get(ctx, redisKey(userID)).Result()
		if err == nil {
			var entry cachedSubscription
			if err := json.Unmarshal([]byte(cached), &entry); err == nil {
				c.hit("l2")
				c.l1.Add(userID, entry)
				return entry.Subscription, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			c.logger.WithError(err).WithField("user_id", userID).Warn("redis read failed, falling back to store")
		}
		c.miss("l2")
	}

	entry := cachedSubscription{}
	doc, err := c.store.Get(ctx, entitlement.CollectionSubscriptions, userID)
	switch {
	case err == nil:
		entry.Found = true
		entry.Subscription = entitlement.SubscriptionFromDocument(doc)
	case errors.Is(err, docstore.ErrNotFound):
		// cache the absence
	default:
		return nil, fmt.Errorf("get subscription for %s: %w", userID, err)
	}

	c.l1.Add(userID, entry)
	if c.redis != nil {
		if data, err := json.Marshal(entry); err == nil {
			if err := c.redis.Set(ctx, redisKey(userID), data, c.ttl).Err(); err != nil {
				c.logger.WithError(err).WithField("user_id", userID).Warn("redis write failed")
			}
		}
	}
	return entry.Subscription, nil
}

// Invalidate drops the cached subscription for a user. Called after
// every grant so the next entitlement check sees fresh state. Redis
// failures are logged; the L1 eviction alone keeps this process
// consistent.
func (c *SubscriptionCache) Invalidate(ctx context.Context, userID string) {
	c.l1.Remove(userID)
	if c.redis != nil {
		if err := c.redis.Del(ctx, redisKey(userID)).Err(); err != nil {
			c.logger.WithError(err).WithField("user_id", userID).Warn("redis invalidate failed")
		}
	}
}

func (c *SubscriptionCache) hit(tier string) {
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues(tier).Inc()
	}
}

func (c *SubscriptionCache) miss(tier string) {
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.WithLabelValues(tier).Inc()
	}
}
