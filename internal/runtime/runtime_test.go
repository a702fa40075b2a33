package runtime_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/chirino/vaulthalla/internal/auth/token"
	"github.com/chirino/vaulthalla/internal/config"
	"github.com/chirino/vaulthalla/internal/crypto"
	"github.com/chirino/vaulthalla/internal/model"
	_ "github.com/chirino/vaulthalla/internal/plugin/sealedkey/file"
	_ "github.com/chirino/vaulthalla/internal/plugin/store/gormstore"
	"github.com/chirino/vaulthalla/internal/runtime"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeTesting
	cfg.DatastoreType = "sqlite"
	cfg.DBURL = "file::memory:?cache=shared"
	cfg.SecretsDir = t.TempDir()
	cfg.SealedKeyProviderType = "file"
	return &cfg
}

func TestNew_WiresRuntime(t *testing.T) {
	cfg := testConfig(t)
	rt, err := runtime.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	require.NotNil(t, rt.Store)
	require.NotNil(t, rt.Sessions)
	require.NotNil(t, rt.Tokens)
	require.NotNil(t, rt.Auth)
	require.Len(t, rt.MasterKey, 32)
}

func TestRuntime_EncryptionManagerCachesPerVault(t *testing.T) {
	cfg := testConfig(t)
	rt, err := runtime.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	ctx := context.Background()
	vaultID := uuid.New()

	bootstrap := crypto.NewManager(rt.Store, vaultID, rt.MasterKey)
	require.NoError(t, bootstrap.BootstrapKey(ctx))

	mgr1, err := rt.EncryptionManager(ctx, vaultID)
	require.NoError(t, err)
	require.Equal(t, uint32(1), mgr1.Version())

	mgr2, err := rt.EncryptionManager(ctx, vaultID)
	require.NoError(t, err)
	require.Same(t, mgr1, mgr2)
}

func TestRuntime_EncryptionManagerMissingKeyErrors(t *testing.T) {
	cfg := testConfig(t)
	rt, err := runtime.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	_, err = rt.EncryptionManager(context.Background(), uuid.New())
	require.Error(t, err)
}

func TestRuntime_RotateMasterKeyRewrapsDependentSecrets(t *testing.T) {
	cfg := testConfig(t)
	rt, err := runtime.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	ctx := context.Background()
	vault := &model.Vault{ID: uuid.New(), Name: "rotating", OwnerID: uuid.New(), Type: model.VaultTypeLocal, MountPoint: t.TempDir()}
	require.NoError(t, rt.Store.CreateVault(ctx, vault))

	bootstrap := crypto.NewManager(rt.Store, vault.ID, rt.MasterKey)
	require.NoError(t, bootstrap.BootstrapKey(ctx))
	require.NoError(t, bootstrap.PrepareKeyRotation(ctx))

	plaintext, ivB64, version, err := bootstrap.Encrypt([]byte("hello vault"))
	require.NoError(t, err)

	oldKey := append([]byte(nil), rt.MasterKey...)
	newKey := make([]byte, 32)
	for i := range newKey {
		newKey[i] = byte(255 - i)
	}
	require.NoError(t, rt.RotateMasterKey(ctx, newKey))
	require.Equal(t, newKey, rt.MasterKey)
	require.NotEqual(t, oldKey, rt.MasterKey)

	mgr, err := rt.EncryptionManager(ctx, vault.ID)
	require.NoError(t, err)
	got, err := mgr.Decrypt(plaintext, ivB64, version)
	require.NoError(t, err)
	require.Equal(t, []byte("hello vault"), got)

	secret, err := rt.Store.GetInternalSecret(ctx, token.SigningKeySecretName)
	require.NoError(t, err)
	_, err = crypto.Open(oldKey, secret.IV, secret.WrappedData)
	require.Error(t, err, "signing key must no longer open under the superseded master key")

	trashed, err := rt.Store.GetTrashedVaultKey(ctx, vault.ID, 1)
	require.NoError(t, err)
	plain, err := crypto.Open(newKey, trashed.IV, trashed.WrappedKey)
	require.NoError(t, err, "trashed vault key row must also be re-wrapped under the new master key")
	require.Len(t, plain, 32)
}
