// Package cache keeps resolved stop names in Redis so repeated route views
// don't hit the backend's geocoder.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"shuttle-sim/internal/shuttle"
)

const keyPrefix = "shuttle:stopname:"

// DefaultTTL is how long a resolved name is kept.
const DefaultTTL = 24 * time.Hour

type StopNameCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// Connect parses redisURL, connects and pings. Callers treat an empty URL
// as "caching disabled" and skip this entirely.
func Connect(ctx context.Context, redisURL string, ttl time.Duration) (*StopNameCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return New(rdb, ttl), nil
}

func New(rdb *redis.Client, ttl time.Duration) *StopNameCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &StopNameCache{rdb: rdb, ttl: ttl}
}

// GetStopNames returns the cached subset of keys. Missing keys are simply
// absent from the result.
func (c *StopNameCache) GetStopNames(ctx context.Context, keys []string) (shuttle.StopNames, error) {
	out := make(shuttle.StopNames, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	rkeys := make([]string, len(keys))
	for i, k := range keys {
		rkeys[i] = redisKey(k)
	}
	vals, err := c.rdb.MGet(ctx, rkeys...).Result()
	if err != nil {
		return out, err
	}
	for i, v := range vals {
		if s, ok := v.(string); ok && s != "" {
			out[keys[i]] = s
		}
	}
	return out, nil
}

func (c *StopNameCache) SetStopNames(ctx context.Context, names shuttle.StopNames) error {
	if len(names) == 0 {
		return nil
	}
	_, err := c.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for k, v := range names {
			p.Set(ctx, redisKey(k), v, c.ttl)
		}
		return nil
	})
	return err
}

func (c *StopNameCache) Close() error { return c.rdb.Close() }

func redisKey(stopKey string) string { return keyPrefix + stopKey }
