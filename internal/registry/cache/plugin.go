// Package cache is the SPI for the S3-vault content cache: a byte-blob
// cache keyed by an opaque string (the CacheIndexEntry's backing key),
// independent of any particular backend library.
package cache

import (
	"context"
	"fmt"
	"time"
)

// ContentCache stores object bytes for the S3 StorageEngine's
// content-addressed local cache, exactly as the S3 backend stores them
// (ciphertext: storage.Engine encrypts before calling the backend).
// Implementations own their own eviction
// policy; CacheIndexEntry bookkeeping in the store is advisory metadata,
// not the cache's source of truth.
type ContentCache interface {
	Available() bool
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Remove(ctx context.Context, key string) error
}

// Loader creates a ContentCache from the context's Config.
type Loader func(ctx context.Context) (ContentCache, error)

// Plugin bundles a cache backend name with its loader function.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin. Called from plugin package init().
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
