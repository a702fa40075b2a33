// Package redis implements the S3-vault content cache on Redis, for
// deployments that want the hot-object cache shared across daemon
// instances rather than held in-process.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/vaulthalla/internal/config"
	registrycache "github.com/chirino/vaulthalla/internal/registry/cache"
	goredis "github.com/redis/go-redis/v9"
)

const defaultTTL = 10 * time.Minute

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.ContentCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: RedisURL is required")
	}
	return LoadFromURL(ctx, cfg.RedisURL)
}

// LoadFromURL creates a ContentCache from a Redis-compatible URL.
func LoadFromURL(ctx context.Context, redisURL string) (registrycache.ContentCache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	return LoadFromOptions(ctx, opts)
}

// LoadFromOptions creates a ContentCache from go-redis Options.
func LoadFromOptions(ctx context.Context, opts *goredis.Options) (registrycache.ContentCache, error) {
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	return &contentCache{client: client}, nil
}

type contentCache struct {
	client *goredis.Client
}

func (c *contentCache) Available() bool { return true }

func (c *contentCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (c *contentCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *contentCache) Remove(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

var _ registrycache.ContentCache = (*contentCache)(nil)
