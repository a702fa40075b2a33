package janitor_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/chirino/vaulthalla/internal/config"
	"github.com/chirino/vaulthalla/internal/crypto"
	"github.com/chirino/vaulthalla/internal/janitor"
	"github.com/chirino/vaulthalla/internal/model"
	"github.com/chirino/vaulthalla/internal/plugin/storage/local"
	_ "github.com/chirino/vaulthalla/internal/plugin/store/gormstore"
	registrymigrate "github.com/chirino/vaulthalla/internal/registry/migrate"
	registrystore "github.com/chirino/vaulthalla/internal/registry/store"
	"github.com/chirino/vaulthalla/internal/storage"
)

type fakeEngines struct {
	engine *storage.Engine
}

func (f *fakeEngines) StorageEngine(_ context.Context, _ uuid.UUID) (*storage.Engine, error) {
	return f.engine, nil
}

func setup(t *testing.T) (registrystore.Store, context.Context, *model.Vault, *storage.Engine) {
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

	owner := uuid.New()
	vault := &model.Vault{
		ID:         uuid.New(),
		Name:       "janitor-test",
		OwnerID:    owner,
		Type:       model.VaultTypeLocal,
		MountPoint: t.TempDir(),
		IsActive:   true,
	}
	require.NoError(t, st.CreateVault(ctx, vault))

	enc := crypto.NewManager(st, vault.ID, []byte("01234567890123456789012345678901"))
	require.NoError(t, enc.BootstrapKey(ctx))
	backend, err := local.New(vault.MountPoint)
	require.NoError(t, err)
	engine := storage.NewEngine(vault, backend, st, enc)
	return st, ctx, vault, engine
}

func TestTrashJanitor_PurgesOldTrashAndRemovesBackingObject(t *testing.T) {
	st, ctx, vault, engine := setup(t)
	provider := &fakeEngines{engine: engine}
	j := janitor.New(st, provider, time.Hour, time.Hour, 10, 0)

	alias := "deadbeef"
	backingPath := filepath.Join(vault.MountPoint, alias)
	require.NoError(t, os.WriteFile(backingPath, []byte("stale"), 0o600))

	trashed := &model.TrashedFile{
		ID:          uuid.New(),
		VaultID:     vault.ID,
		Base32Alias: alias,
		TrashedAt:   time.Now().Add(-2 * time.Hour),
		TrashedBy:   uuid.New(),
		BackingPath: alias,
	}
	require.NoError(t, st.MoveToTrash(ctx, &model.FSEntry{ID: uuid.New(), VaultID: vault.ID}, trashed))

	j.Sweep(ctx)

	rows, err := st.ListTrashOlderThan(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 0)
	_, err = os.Stat(backingPath)
	require.True(t, os.IsNotExist(err))
}

func TestTrashJanitor_LeavesFreshTrashAlone(t *testing.T) {
	st, ctx, vault, engine := setup(t)
	provider := &fakeEngines{engine: engine}
	j := janitor.New(st, provider, time.Hour, time.Hour, 10, 0)

	trashed := &model.TrashedFile{
		ID: uuid.New(), VaultID: vault.ID, Base32Alias: "fresh",
		TrashedAt: time.Now(), TrashedBy: uuid.New(), BackingPath: "fresh",
	}
	require.NoError(t, st.MoveToTrash(ctx, &model.FSEntry{ID: uuid.New(), VaultID: vault.ID}, trashed))

	j.Sweep(ctx)

	rows, err := st.ListTrashOlderThan(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}
