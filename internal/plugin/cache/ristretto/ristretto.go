// Package ristretto implements the S3-vault content cache in-process with
// dgraph-io/ristretto, for single-instance deployments that don't need a
// shared cache but still want bounded-memory, admission-policy eviction
// instead of an unbounded map.
package ristretto

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/chirino/vaulthalla/internal/config"
	registrycache "github.com/chirino/vaulthalla/internal/registry/cache"
)

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "ristretto",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.ContentCache, error) {
	cfg := config.FromContext(ctx)
	capBytes := int64(1 << 30)
	if cfg != nil && cfg.CacheCapBytes > 0 {
		capBytes = cfg.CacheCapBytes
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: capBytes / 1024 * 10, // ~10 counters per expected 1KiB entry
		MaxCost:     capBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("ristretto cache: %w", err)
	}
	return &contentCache{cache: c}, nil
}

type contentCache struct {
	cache *ristretto.Cache[string, []byte]
}

func (c *contentCache) Available() bool { return true }

func (c *contentCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	value, ok := c.cache.Get(key)
	return value, ok, nil
}

func (c *contentCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl > 0 {
		c.cache.SetWithTTL(key, value, int64(len(value)), ttl)
	} else {
		c.cache.Set(key, value, int64(len(value)))
	}
	c.cache.Wait()
	return nil
}

func (c *contentCache) Remove(_ context.Context, key string) error {
	c.cache.Del(key)
	return nil
}

var _ registrycache.ContentCache = (*contentCache)(nil)
