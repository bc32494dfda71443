// Package rulescache fronts the enabled-rules-plus-actions read every
// fan-out consumer performs once per event with a short-lived, in-process
// TTL cache, and broadcasts invalidations over Redis pub/sub so every
// running consumer instance drops its local copy the moment an admin
// edits a rule, instead of waiting out the TTL.
package rulescache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sooh59599/zoohub/internal/cache"
	"github.com/sooh59599/zoohub/internal/domain/rule"
	"github.com/sooh59599/zoohub/internal/queue/redisclient"
	"github.com/sooh59599/zoohub/internal/utils"
)

const invalidationChannel = "zoohub:rules:invalidated"

type Source interface {
	EnabledWithActions(ctx context.Context) ([]rule.WithActions, error)
}

type Cache struct {
	source Source
	local  *cache.Cache
	redis  *redisclient.Client
}

func New(source Source, ttl time.Duration, redis *redisclient.Client) *Cache {
	return &Cache{source: source, local: cache.New(ttl), redis: redis}
}

// Get returns the enabled rule set, serving from the local cache when
// fresh and falling back to the repository on a miss.
func (c *Cache) Get(ctx context.Context) ([]rule.WithActions, error) {
	key := utils.BuildRulesListCacheKey(true)

	if v, ok := c.local.Get(key); ok {
		if rules, ok := v.([]rule.WithActions); ok {
			return rules, nil
		}
	}

	rules, err := c.source.EnabledWithActions(ctx)
	if err != nil {
		return nil, err
	}
	c.local.Set(key, rules)
	return rules, nil
}

// Invalidate drops the local copy and publishes to Redis so sibling
// instances do the same. Call this after any rule create/update/delete.
func (c *Cache) Invalidate(ctx context.Context) error {
	c.local.Delete(utils.BuildRulesListCacheKey(true))
	if c.redis == nil {
		return nil
	}
	payload, err := json.Marshal(map[string]any{"at": time.Now().UTC().Format(time.RFC3339Nano)})
	if err != nil {
		return err
	}
	return c.redis.Raw().Publish(ctx, invalidationChannel, payload).Err()
}

// Listen subscribes to invalidation broadcasts and drops the local copy
// whenever one arrives. cmd/executor runs this in a goroutine so every
// executor instance stays in sync without polling Postgres.
func (c *Cache) Listen(ctx context.Context) {
	if c.redis == nil {
		return
	}
	sub := c.redis.Raw().Subscribe(ctx, invalidationChannel)
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			c.local.Delete(utils.BuildRulesListCacheKey(true))
		}
	}
}
