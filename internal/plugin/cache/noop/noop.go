// Package noop registers the "none" content cache: every Get misses, every
// Set/Remove is a no-op. Used when config.CacheType is "none", meaning the
// S3 backend always falls through to the remote object store.
package noop

import (
	"context"
	"time"

	"github.com/chirino/vaulthalla/internal/registry/cache"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (cache.ContentCache, error) {
			return &contentCache{}, nil
		},
	})
}

type contentCache struct{}

func (n *contentCache) Available() bool { return false }
func (n *contentCache) Get(_ context.Context, _ string) ([]byte, bool, error) {
	return nil, false, nil
}
func (n *contentCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (n *contentCache) Remove(_ context.Context, _ string) error                         { return nil }

var _ cache.ContentCache = (*contentCache)(nil)
