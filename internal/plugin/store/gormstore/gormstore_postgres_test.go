package gormstore_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/chirino/vaulthalla/internal/config"
	"github.com/chirino/vaulthalla/internal/model"
	_ "github.com/chirino/vaulthalla/internal/plugin/store/gormstore"
	registrymigrate "github.com/chirino/vaulthalla/internal/registry/migrate"
	registrystore "github.com/chirino/vaulthalla/internal/registry/store"
	"github.com/chirino/vaulthalla/internal/testutil/testpg"
)

// TestVaultCRUD_Postgres runs the same vault CRUD path as TestVaultCRUD but
// against a disposable postgres container, exercising the "postgres" plugin
// wiring in open() rather than the sqlite fallback the rest of this package
// tests against.
func TestVaultCRUD_Postgres(t *testing.T) {
	dbURL := testpg.StartPostgres(t)

	cfg := config.DefaultConfig()
	cfg.DatastoreType = "postgres"
	cfg.DBURL = dbURL
	ctx := config.WithContext(context.Background(), &cfg)

	require.NoError(t, registrymigrate.RunAll(ctx))

	loader, err := registrystore.Select("postgres")
	require.NoError(t, err)
	st, err := loader(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	owner := uuid.New()
	v := &model.Vault{ID: uuid.New(), Name: "personal", OwnerID: owner, Type: model.VaultTypeLocal, MountPoint: "/personal"}
	require.NoError(t, st.CreateVault(ctx, v))

	got, err := st.GetVaultByName(ctx, owner, "personal")
	require.NoError(t, err)
	require.Equal(t, v.ID, got.ID)

	require.NoError(t, st.CreateInitialVaultKey(ctx, &model.VaultKey{
		VaultID: v.ID, Version: 1, WrappedKey: []byte("wrapped-v1"), IV: []byte("iv1"),
	}))
	active, err := st.GetActiveVaultKey(ctx, v.ID)
	require.NoError(t, err)
	require.Equal(t, uint32(1), active.Version)
}
