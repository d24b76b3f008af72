package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/resumeforge/dispatch/pkg/observability"
	"github.com/resumeforge/dispatch/pkg/webhooks"
)

const (
	subscriptionCacheKeyPrefix = "dispatch:subscription:"
	cacheTypeSubscription      = "subscription"

	// DefaultSubscriptionCacheTTL bounds staleness when an invalidation is
	// lost, for example because Redis was briefly unreachable.
	DefaultSubscriptionCacheTTL = 5 * time.Minute
)

// NewRedisClient creates a Redis client and verifies connectivity.
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// CachedSubscriptionStore decorates a subscription store with a Redis
// cache-aside layer on single-subscription reads. The delivery worker calls
// Get once per claimed event, so this is the hottest read in the system.
// Mutations write through to the store and then invalidate. List and fan-out
// queries always hit the store because a stale filter would misroute events.
//
// Redis being down degrades to plain store reads; it never fails a request.
type CachedSubscriptionStore struct {
	inner   webhooks.SubscriptionStore
	redis   *redis.Client
	ttl     time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewCachedSubscriptionStore wraps inner with the cache layer. A zero ttl
// selects DefaultSubscriptionCacheTTL.
func NewCachedSubscriptionStore(inner webhooks.SubscriptionStore, redisClient *redis.Client, ttl time.Duration, logger *observability.Logger, metrics *observability.Metrics) *CachedSubscriptionStore {
	if ttl <= 0 {
		ttl = DefaultSubscriptionCacheTTL
	}
	return &CachedSubscriptionStore{
		inner:   inner,
		redis:   redisClient,
		ttl:     ttl,
		logger:  logger,
		metrics: metrics,
	}
}

// Create persists a new subscription. The first Get warms the cache.
func (c *CachedSubscriptionStore) Create(ctx context.Context, sub *webhooks.WebhookSubscription) error {
	return c.inner.Create(ctx, sub)
}

// Get fetches a subscription, serving from cache when possible.
func (c *CachedSubscriptionStore) Get(ctx context.Context, id string) (*webhooks.WebhookSubscription, error) {
	key := subscriptionCacheKeyPrefix + id

	data, err := c.redis.Get(ctx, key).Bytes()
	if err == nil {
		var sub webhooks.WebhookSubscription
		if err := json.Unmarshal(data, &sub); err == nil {
			c.metrics.CacheHitsTotal.WithLabelValues(cacheTypeSubscription).Inc()
			return &sub, nil
		}
		// Corrupt entry. Drop it and fall through to the store.
		c.redis.Del(ctx, key)
	} else if err != redis.Nil {
		c.logger.WithError(err).Warn("Subscription cache read failed")
	}

	c.metrics.CacheMissesTotal.WithLabelValues(cacheTypeSubscription).Inc()

	sub, err := c.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	c.cache(ctx, key, sub)
	return sub, nil
}

// GetForOwner fetches a subscription only if it belongs to owner, reusing
// the cached row.
func (c *CachedSubscriptionStore) GetForOwner(ctx context.Context, ownerID, id string) (*webhooks.WebhookSubscription, error) {
	sub, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.OwnerID != ownerID {
		return nil, webhooks.ErrSubscriptionNotFound
	}
	return sub, nil
}

// Update persists the mutable fields and invalidates the cached row.
func (c *CachedSubscriptionStore) Update(ctx context.Context, sub *webhooks.WebhookSubscription) error {
	if err := c.inner.Update(ctx, sub); err != nil {
		return err
	}
	c.invalidate(ctx, sub.ID)
	return nil
}

// Delete removes an owner's subscription and invalidates the cached row.
func (c *CachedSubscriptionStore) Delete(ctx context.Context, ownerID, id string) error {
	if err := c.inner.Delete(ctx, ownerID, id); err != nil {
		return err
	}
	c.invalidate(ctx, id)
	return nil
}

// List returns an owner's subscriptions straight from the store.
func (c *CachedSubscriptionStore) List(ctx context.Context, ownerID string, activeOnly bool) ([]*webhooks.WebhookSubscription, error) {
	return c.inner.List(ctx, ownerID, activeOnly)
}

// FindActiveForEvent resolves fan-out straight from the store so newly
// registered or deactivated subscriptions take effect immediately.
func (c *CachedSubscriptionStore) FindActiveForEvent(ctx context.Context, eventType webhooks.EventType, ownerID string) ([]*webhooks.WebhookSubscription, error) {
	return c.inner.FindActiveForEvent(ctx, eventType, ownerID)
}

func (c *CachedSubscriptionStore) cache(ctx context.Context, key string, sub *webhooks.WebhookSubscription) {
	data, err := json.Marshal(sub)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).Warn("Subscription cache write failed")
	}
}

func (c *CachedSubscriptionStore) invalidate(ctx context.Context, id string) {
	key := subscriptionCacheKeyPrefix + id
	if err := c.redis.Del(ctx, key).Err(); err != nil {
		c.logger.WithError(err).WithField("subscription_id", id).Warn("Subscription cache invalidation failed")
		return
	}
	c.metrics.CacheInvalidationsTotal.WithLabelValues(cacheTypeSubscription).Inc()
}
