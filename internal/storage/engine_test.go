package storage_test

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

func setupEngine(t *testing.T) (*storage.Engine, context.Context, uuid.UUID) {
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

	actor := uuid.New()
	vault := &model.Vault{
		ID:         uuid.New(),
		Name:       "test-vault",
		OwnerID:    actor,
		Type:       model.VaultTypeLocal,
		MountPoint: t.TempDir(),
		IsActive:   true,
	}
	require.NoError(t, st.CreateVault(ctx, vault))
	require.NoError(t, st.CreateFSEntry(ctx, &model.FSEntry{
		ID:             uuid.New(),
		VaultID:        vault.ID,
		Name:           "/",
		Path:           "/",
		IsDir:          true,
		Base32Alias:    "root",
		Mode:           0o755,
		CreatedBy:      actor,
		LastModifiedBy: actor,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}))

	enc := crypto.NewManager(st, vault.ID, []byte("01234567890123456789012345678901"))
	require.NoError(t, enc.BootstrapKey(ctx))

	backend, err := local.New(vault.MountPoint)
	require.NoError(t, err)

	return storage.NewEngine(vault, backend, st, enc), ctx, actor
}

func superAdmin() permission.Snapshot {
	return permission.Snapshot{UserRole: model.CapSuperAdmin}
}

func TestEngine_PutGetRoundTrip(t *testing.T) {
	engine, ctx, actor := setupEngine(t)
	snap := superAdmin()

	entry, err := engine.Put(ctx, snap, actor, "/hello.txt", []byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, "hello.txt", entry.Name)
	require.EqualValues(t, 11, entry.SizeBytes)

	data, err := engine.Get(ctx, snap, "/hello.txt")
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))
}

func TestEngine_PutRejectsMissingParent(t *testing.T) {
	engine, ctx, actor := setupEngine(t)
	_, err := engine.Put(ctx, superAdmin(), actor, "/missing/hello.txt", []byte("x"))
	require.Error(t, err)
}

func TestEngine_MkdirAndList(t *testing.T) {
	engine, ctx, actor := setupEngine(t)
	snap := superAdmin()

	_, err := engine.Mkdir(ctx, snap, actor, "/docs")
	require.NoError(t, err)
	_, err = engine.Put(ctx, snap, actor, "/docs/a.txt", []byte("a"))
	require.NoError(t, err)
	_, err = engine.Put(ctx, snap, actor, "/docs/b.txt", []byte("b"))
	require.NoError(t, err)

	entries, err := engine.List(ctx, snap, "/docs", false)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestEngine_RemoveMovesToTrashWithoutDeletingBytes(t *testing.T) {
	engine, ctx, actor := setupEngine(t)
	snap := superAdmin()

	_, err := engine.Put(ctx, snap, actor, "/hello.txt", []byte("hello"))
	require.NoError(t, err)

	require.NoError(t, engine.Remove(ctx, snap, actor, "/hello.txt"))

	_, err = engine.Get(ctx, snap, "/hello.txt")
	require.Error(t, err)

	keys, err := engine.Backend().List(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
}

func TestEngine_RenameKeepsBackendBytes(t *testing.T) {
	engine, ctx, actor := setupEngine(t)
	snap := superAdmin()

	_, err := engine.Put(ctx, snap, actor, "/a.txt", []byte("payload"))
	require.NoError(t, err)

	require.NoError(t, engine.Rename(ctx, snap, actor, "/a.txt", "b.txt"))

	data, err := engine.Get(ctx, snap, "/b.txt")
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))

	_, err = engine.Get(ctx, snap, "/a.txt")
	require.Error(t, err)
}

func TestEngine_MoveDirectoryRewritesDescendantPaths(t *testing.T) {
	engine, ctx, actor := setupEngine(t)
	snap := superAdmin()

	_, err := engine.Mkdir(ctx, snap, actor, "/src")
	require.NoError(t, err)
	_, err = engine.Mkdir(ctx, snap, actor, "/dst")
	require.NoError(t, err)
	_, err = engine.Put(ctx, snap, actor, "/src/file.txt", []byte("x"))
	require.NoError(t, err)

	require.NoError(t, engine.Move(ctx, snap, actor, "/src", "/dst/src"))

	data, err := engine.Get(ctx, snap, "/dst/src/file.txt")
	require.NoError(t, err)
	require.Equal(t, "x", string(data))
}

func TestEngine_CopyDuplicatesBytesUnderNewAlias(t *testing.T) {
	engine, ctx, actor := setupEngine(t)
	snap := superAdmin()

	_, err := engine.Put(ctx, snap, actor, "/a.txt", []byte("payload"))
	require.NoError(t, err)

	copied, err := engine.Copy(ctx, snap, actor, "/a.txt", "/b.txt")
	require.NoError(t, err)

	data, err := engine.Get(ctx, snap, "/b.txt")
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))

	original, err := engine.Get(ctx, snap, "/a.txt")
	require.NoError(t, err)
	require.Equal(t, "payload", string(original))
	require.NotEqual(t, copied.Base32Alias, "")
}

func TestEngine_PutDeniesWithoutCapability(t *testing.T) {
	engine, ctx, actor := setupEngine(t)
	snap := permission.Snapshot{} // no capabilities at all
	_, err := engine.Put(ctx, snap, actor, "/hello.txt", []byte("x"))
	require.Error(t, err)
}
