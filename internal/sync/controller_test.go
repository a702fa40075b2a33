package sync

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/chirino/vaulthalla/internal/config"
	"github.com/chirino/vaulthalla/internal/crypto"
	"github.com/chirino/vaulthalla/internal/model"
	"github.com/chirino/vaulthalla/internal/permission"
	"github.com/chirino/vaulthalla/internal/plugin/storage/local"
	_ "github.com/chirino/vaulthalla/internal/plugin/store/gormstore"
	registrymigrate "github.com/chirino/vaulthalla/internal/registry/migrate"
	registrystore "github.com/chirino/vaulthalla/internal/registry/store"
	"github.com/chirino/vaulthalla/internal/storage"
)

type fakeEngines struct {
	engines map[uuid.UUID]*storage.Engine
	encs    map[uuid.UUID]*crypto.Manager
}

func (f *fakeEngines) StorageEngine(_ context.Context, vaultID uuid.UUID) (*storage.Engine, error) {
	return f.engines[vaultID], nil
}

func (f *fakeEngines) EncryptionManager(_ context.Context, vaultID uuid.UUID) (*crypto.Manager, error) {
	return f.encs[vaultID], nil
}

func setupController(t *testing.T, poolSize int) (*Controller, registrystore.Store, context.Context, *model.Vault) {
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
		Name:       "sync-test",
		OwnerID:    owner,
		Type:       model.VaultTypeLocal,
		MountPoint: t.TempDir(),
		IsActive:   true,
	}
	require.NoError(t, st.CreateVault(ctx, vault))
	require.NoError(t, st.CreateFSEntry(ctx, &model.FSEntry{
		ID:          uuid.New(),
		VaultID:     vault.ID,
		Name:        "/",
		Path:        "/",
		IsDir:       true,
		Base32Alias: "root",
		Mode:        0o755,
		CreatedBy:   owner,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}))
	require.NoError(t, st.UpsertSync(ctx, &model.Sync{VaultID: vault.ID}))

	enc := crypto.NewManager(st, vault.ID, []byte("01234567890123456789012345678901"))
	require.NoError(t, enc.BootstrapKey(ctx))
	backend, err := local.New(vault.MountPoint)
	require.NoError(t, err)
	engine := storage.NewEngine(vault, backend, st, enc)

	provider := &fakeEngines{
		engines: map[uuid.UUID]*storage.Engine{vault.ID: engine},
		encs:    map[uuid.UUID]*crypto.Manager{vault.ID: enc},
	}
	c := New(st, provider, 50*time.Millisecond, poolSize)
	return c, st, ctx, vault
}

func TestController_RefreshEnginesSchedulesNewVault(t *testing.T) {
	c, _, ctx, vault := setupController(t, 2)

	c.refreshEngines(ctx)

	c.taskMapMu.RLock()
	task, ok := c.taskMap[vault.ID]
	c.taskMapMu.RUnlock()
	require.True(t, ok)
	require.Equal(t, model.VaultTypeLocal, task.VaultType)

	c.pqMu.Lock()
	found := false
	for _, t := range c.pq {
		if t.VaultID == vault.ID {
			found = true
		}
	}
	c.pqMu.Unlock()
	require.True(t, found)
}

func TestController_RefreshEnginesDropsInactiveVault(t *testing.T) {
	c, st, ctx, vault := setupController(t, 2)
	c.refreshEngines(ctx)

	vault.IsActive = false
	require.NoError(t, st.UpdateVault(ctx, vault))

	c.refreshEngines(ctx)

	c.taskMapMu.RLock()
	_, ok := c.taskMap[vault.ID]
	c.taskMapMu.RUnlock()
	require.False(t, ok)
}

func TestController_RunNowMarksManualTrigger(t *testing.T) {
	c, _, ctx, vault := setupController(t, 2)
	c.refreshEngines(ctx)

	require.NoError(t, c.RunNow(vault.ID))

	c.taskMapMu.RLock()
	manual := c.taskMap[vault.ID].ManualTrigger
	c.taskMapMu.RUnlock()
	require.True(t, manual)
}

func TestController_RunNowUnknownVaultErrors(t *testing.T) {
	c, _, _, _ := setupController(t, 2)
	require.Error(t, c.RunNow(uuid.New()))
}

func TestController_InterruptTaskSetsFlag(t *testing.T) {
	c, _, ctx, vault := setupController(t, 2)
	c.refreshEngines(ctx)

	require.NoError(t, c.InterruptTask(vault.ID))

	c.taskMapMu.RLock()
	interrupted := c.taskMap[vault.ID].Interrupt.Load()
	c.taskMapMu.RUnlock()
	require.True(t, interrupted)
}

func TestController_DispatchReadyRunsEligibleTask(t *testing.T) {
	c, st, ctx, vault := setupController(t, 2)

	// Write a file so the local worker's diff has something to walk.
	engine := c.engines.(*fakeEngines).engines[vault.ID]
	snap := permission.Snapshot{UserRole: model.CapSuperAdmin}
	_, err := engine.Put(ctx, snap, uuid.New(), "/hello.txt", []byte("hi"))
	require.NoError(t, err)

	c.refreshEngines(ctx)
	c.dispatchReady(ctx)

	require.Eventually(t, func() bool {
		c.taskMapMu.RLock()
		defer c.taskMapMu.RUnlock()
		task, ok := c.taskMap[vault.ID]
		return ok && task.LastSuccessAt != nil
	}, time.Second, 10*time.Millisecond)

	events, err := st.ListTrashOlderThan(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, events, 0) // nothing trashed: no drift found
}
