package waiver_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/chirino/vaulthalla/internal/config"
	"github.com/chirino/vaulthalla/internal/crypto"
	"github.com/chirino/vaulthalla/internal/model"
	"github.com/chirino/vaulthalla/internal/plugin/storage/local"
	_ "github.com/chirino/vaulthalla/internal/plugin/store/gormstore"
	registrymigrate "github.com/chirino/vaulthalla/internal/registry/migrate"
	registrystore "github.com/chirino/vaulthalla/internal/registry/store"
	"github.com/chirino/vaulthalla/internal/storage"
	"github.com/chirino/vaulthalla/internal/waiver"
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
		Name:       "waiver-test",
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

func TestGate_NoOpFlipAlwaysAllowed(t *testing.T) {
	_, ctx, vault, engine := setup(t)
	g := waiver.New(nil, &fakeEngines{engine: engine})
	require.NoError(t, g.Authorize(ctx, vault, uuid.New(), nil, vault.EncryptUpstream, "", nil))
}

func TestGate_EmptyBucketFlipNeedsNoWaiver(t *testing.T) {
	st, ctx, vault, engine := setup(t)
	g := waiver.New(st, &fakeEngines{engine: engine})
	require.NoError(t, g.Authorize(ctx, vault, uuid.New(), nil, !vault.EncryptUpstream, "", nil))
}

func TestGate_NonEmptyBucketFlipRejectsMissingWaiverText(t *testing.T) {
	st, ctx, vault, engine := setup(t)
	require.NoError(t, os.WriteFile(filepath.Join(vault.MountPoint, "somekey"), []byte("x"), 0o600))
	g := waiver.New(st, &fakeEngines{engine: engine})

	err := g.Authorize(ctx, vault, uuid.New(), nil, !vault.EncryptUpstream, "", nil)
	require.Error(t, err)
}

func TestGate_NonEmptyBucketFlipRecordsWaiver(t *testing.T) {
	st, ctx, vault, engine := setup(t)
	require.NoError(t, os.WriteFile(filepath.Join(vault.MountPoint, "somekey"), []byte("x"), 0o600))
	g := waiver.New(st, &fakeEngines{engine: engine})

	actor := uuid.New()
	err := g.Authorize(ctx, vault, actor, nil, !vault.EncryptUpstream, "I understand the risk", nil)
	require.NoError(t, err)
}
