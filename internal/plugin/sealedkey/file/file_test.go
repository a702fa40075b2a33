package file

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chirino/vaulthalla/internal/config"
	"github.com/chirino/vaulthalla/internal/registry/sealedkey"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeTesting
	cfg.SecretsDir = t.TempDir()
	return &cfg
}

func TestProvider_GeneratesAndPersists(t *testing.T) {
	cfg := testConfig(t)

	plugin, err := sealedkey.Select("file")
	require.NoError(t, err)

	p1, err := plugin.Loader(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, p1.Init(context.Background(), nil))
	key1, err := p1.MasterKey(context.Background())
	require.NoError(t, err)
	require.Len(t, key1, 32)

	p2, err := plugin.Loader(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, p2.Init(context.Background(), nil))
	key2, err := p2.MasterKey(context.Background())
	require.NoError(t, err)

	require.Equal(t, key1, key2, "second provider instance must unseal the same persisted key")
}

func TestProvider_MasterKeyFailsBeforeInit(t *testing.T) {
	cfg := testConfig(t)
	plugin, err := sealedkey.Select("file")
	require.NoError(t, err)
	p, err := plugin.Loader(context.Background(), cfg)
	require.NoError(t, err)

	_, err = p.MasterKey(context.Background())
	require.Error(t, err)
	require.IsType(t, &sealedkey.NotInitializedError{}, err)
}

func TestProvider_InitIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	plugin, err := sealedkey.Select("file")
	require.NoError(t, err)
	p, err := plugin.Loader(context.Background(), cfg)
	require.NoError(t, err)

	require.NoError(t, p.Init(context.Background(), nil))
	k1, err := p.MasterKey(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Init(context.Background(), nil))
	k2, err := p.MasterKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, k1, k2)
}

func TestProvider_SealedExists(t *testing.T) {
	cfg := testConfig(t)
	plugin, err := sealedkey.Select("file")
	require.NoError(t, err)
	p, err := plugin.Loader(context.Background(), cfg)
	require.NoError(t, err)

	exists, err := p.SealedExists(context.Background())
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, p.Init(context.Background(), nil))

	exists, err = p.SealedExists(context.Background())
	require.NoError(t, err)
	require.True(t, exists)
}

func TestProvider_UpdateMasterKeyReseals(t *testing.T) {
	cfg := testConfig(t)
	plugin, err := sealedkey.Select("file")
	require.NoError(t, err)
	p, err := plugin.Loader(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, p.Init(context.Background(), nil))

	newKey := make([]byte, 32)
	for i := range newKey {
		newKey[i] = byte(i)
	}
	require.NoError(t, p.UpdateMasterKey(context.Background(), newKey))

	got, err := p.MasterKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, newKey, got)

	p2, err := plugin.Loader(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, p2.Init(context.Background(), nil))
	got2, err := p2.MasterKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, newKey, got2, "a fresh provider instance must unseal the resealed key")
}
