package gormstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/chirino/vaulthalla/internal/config"
	"github.com/chirino/vaulthalla/internal/model"
	_ "github.com/chirino/vaulthalla/internal/plugin/store/gormstore"
	registrymigrate "github.com/chirino/vaulthalla/internal/registry/migrate"
	registrystore "github.com/chirino/vaulthalla/internal/registry/store"
)

func setupTestStore(t *testing.T) (registrystore.Store, context.Context) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DatastoreType = "sqlite"
	cfg.DBURL = "file::memory:?cache=shared"
	ctx := config.WithContext(context.Background(), &cfg)

	require.NoError(t, registrymigrate.RunAll(ctx))

	loader, err := registrystore.Select("sqlite")
	require.NoError(t, err)
	st, err := loader(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st, ctx
}

func TestVaultCRUD(t *testing.T) {
	st, ctx := setupTestStore(t)

	owner := uuid.New()
	v := &model.Vault{ID: uuid.New(), Name: "personal", OwnerID: owner, Type: model.VaultTypeLocal, MountPoint: "/personal"}
	require.NoError(t, st.CreateVault(ctx, v))

	got, err := st.GetVaultByName(ctx, owner, "personal")
	require.NoError(t, err)
	require.Equal(t, v.ID, got.ID)

	_, err = st.GetVault(ctx, uuid.New())
	require.Error(t, err)
	require.IsType(t, &registrystore.NotFoundError{}, err)
}

func TestVaultKeyRotation(t *testing.T) {
	st, ctx := setupTestStore(t)
	vaultID := uuid.New()

	require.NoError(t, st.CreateInitialVaultKey(ctx, &model.VaultKey{
		VaultID: vaultID, Version: 1, WrappedKey: []byte("wrapped-v1"), IV: []byte("iv1"),
	}))

	active, err := st.GetActiveVaultKey(ctx, vaultID)
	require.NoError(t, err)
	require.Equal(t, uint32(1), active.Version)

	err = st.PrepareKeyRotation(ctx, vaultID, &model.VaultKey{
		VaultID: vaultID, Version: 2, WrappedKey: []byte("wrapped-v2"), IV: []byte("iv2"),
	})
	require.NoError(t, err)

	active, err = st.GetActiveVaultKey(ctx, vaultID)
	require.NoError(t, err)
	require.Equal(t, uint32(2), active.Version)

	trashed, err := st.GetTrashedVaultKey(ctx, vaultID, 1)
	require.NoError(t, err)
	require.Nil(t, trashed.RotationCompletedAt)

	require.NoError(t, st.UpsertSync(ctx, &model.Sync{VaultID: vaultID, RotationPending: true}))
	require.NoError(t, st.FinishKeyRotation(ctx, vaultID, 1))

	trashed, err = st.GetTrashedVaultKey(ctx, vaultID, 1)
	require.NoError(t, err)
	require.NotNil(t, trashed.RotationCompletedAt)

	sync, err := st.GetSync(ctx, vaultID)
	require.NoError(t, err)
	require.False(t, sync.RotationPending)
}

func TestRefreshTokenRotationRejectsReplay(t *testing.T) {
	st, ctx := setupTestStore(t)
	userID := uuid.New()
	first := &model.RefreshTokenRecord{
		JTI: uuid.New(), UserID: userID, HashedToken: "h1",
		IssuedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, st.CreateRefreshToken(ctx, first))

	next := &model.RefreshTokenRecord{
		JTI: uuid.New(), UserID: userID, HashedToken: "h2",
		IssuedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, st.RotateRefreshToken(ctx, first.JTI, next))

	// Replaying the rotation against the now-revoked token must fail.
	again := &model.RefreshTokenRecord{
		JTI: uuid.New(), UserID: userID, HashedToken: "h3",
		IssuedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour),
	}
	err := st.RotateRefreshToken(ctx, first.JTI, again)
	require.Error(t, err)
	require.IsType(t, &registrystore.ConflictError{}, err)
}
