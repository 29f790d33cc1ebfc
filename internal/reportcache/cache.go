// Package reportcache versions the financial statement caches per entity.
// Regenerating a period bumps the entity's version so statements built on
// the old balances are no longer served.
package reportcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	versionKeyPrefix = "reports:version:"
	// BumpChannel carries "<entity>:<version>" notifications.
	BumpChannel = "reports.bump"
)

// Cache wraps Redis based report caching with per-entity versions.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New instantiates the cache helper.
func New(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func versionKey(entity string) string {
	return versionKeyPrefix + entity
}

// Version returns the entity's cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context, entity string) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, versionKey(entity)).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, versionKey(entity), 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, versionKey(entity)).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// BuildKey composes a cache key carrying the entity's current version.
func (c *Cache) BuildKey(ctx context.Context, entity string, parts ...string) (string, error) {
	joined := strings.Join(append([]string{"reports", entity}, parts...), ":")
	if c == nil || c.client == nil {
		return joined, nil
	}
	ver, err := c.Version(ctx, entity)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:v%d", joined, ver), nil
}

// FetchJSON loads a cached value or populates it using the loader.
func (c *Cache) FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error {
	if loader == nil {
		return errors.New("reportcache: loader required")
	}
	if c != nil && c.client != nil {
		payload, err := c.client.Get(ctx, key).Bytes()
		if err == nil {
			return json.Unmarshal(payload, dest)
		}
		if !errors.Is(err, redis.Nil) {
			return err
		}
	}
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if c != nil && c.client != nil {
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			return err
		}
	}
	return json.Unmarshal(raw, dest)
}

// Invalidate bumps the entity's version and publishes the new value.
func (c *Cache) Invalidate(ctx context.Context, entity string) error {
	if c == nil || c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, versionKey(entity)).Result()
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, BumpChannel, entity+":"+strconv.FormatInt(ver, 10)).Err()
}

// Subscribe invokes fn for every bump published by other processes until
// ctx is done.
func (c *Cache) Subscribe(ctx context.Context, fn func(entity string, version int64)) error {
	if c == nil || c.client == nil {
		return nil
	}
	pubsub := c.client.Subscribe(ctx, BumpChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				entity, ver, ok := parseBump(msg.Payload)
				if ok {
					fn(entity, ver)
				}
			}
		}
	}()
	return nil
}

func parseBump(payload string) (string, int64, bool) {
	idx := strings.LastIndex(payload, ":")
	if idx <= 0 {
		return "", 0, false
	}
	ver, err := strconv.ParseInt(payload[idx+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return payload[:idx], ver, true
}
