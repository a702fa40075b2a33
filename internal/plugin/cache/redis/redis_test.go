package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chirino/vaulthalla/internal/plugin/cache/redis"
	"github.com/chirino/vaulthalla/internal/testutil/testredis"
)

func TestContentCache_SetGetRemove(t *testing.T) {
	redisURL := testredis.StartRedis(t)

	ctx := context.Background()
	cache, err := redis.LoadFromURL(ctx, redisURL)
	require.NoError(t, err)
	require.True(t, cache.Available())

	_, ok, err := cache.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, cache.Set(ctx, "greeting", []byte("hello"), time.Minute))

	data, ok, err := cache.Get(ctx, "greeting")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), data)

	require.NoError(t, cache.Remove(ctx, "greeting"))

	_, ok, err = cache.Get(ctx, "greeting")
	require.NoError(t, err)
	require.False(t, ok)
}
