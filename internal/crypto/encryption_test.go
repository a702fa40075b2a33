package crypto_test

import (
	"context"
	"crypto/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/chirino/vaulthalla/internal/config"
	vhcrypto "github.com/chirino/vaulthalla/internal/crypto"
	_ "github.com/chirino/vaulthalla/internal/plugin/store/gormstore"
	registrymigrate "github.com/chirino/vaulthalla/internal/registry/migrate"
	registrystore "github.com/chirino/vaulthalla/internal/registry/store"
)

func setupStore(t *testing.T) registrystore.Store {
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
	return st
}

func randomMasterKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestManager_BootstrapEncryptDecrypt(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()
	vaultID := uuid.New()
	master := randomMasterKey(t)

	m := vhcrypto.NewManager(st, vaultID, master)
	require.NoError(t, m.BootstrapKey(ctx))
	require.Equal(t, uint32(1), m.Version())

	ciphertext, iv, version, err := m.Encrypt([]byte("vault contents"))
	require.NoError(t, err)
	require.Equal(t, uint32(1), version)

	plain, err := m.Decrypt(ciphertext, iv, version)
	require.NoError(t, err)
	require.Equal(t, "vault contents", string(plain))

	// A fresh Manager for the same vault loads the same key from the Store.
	m2 := vhcrypto.NewManager(st, vaultID, master)
	require.NoError(t, m2.LoadKey(ctx))
	plain2, err := m2.Decrypt(ciphertext, iv, version)
	require.NoError(t, err)
	require.Equal(t, plain, plain2)
}

func TestManager_LoadKeyMissing(t *testing.T) {
	st := setupStore(t)
	m := vhcrypto.NewManager(st, uuid.New(), randomMasterKey(t))
	err := m.LoadKey(context.Background())
	require.Error(t, err)
	require.IsType(t, &registrystore.KeyMissingError{}, err)
}

func TestManager_RotationDecryptsBothVersions(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()
	vaultID := uuid.New()
	master := randomMasterKey(t)

	m := vhcrypto.NewManager(st, vaultID, master)
	require.NoError(t, m.BootstrapKey(ctx))

	oldCiphertext, oldIV, oldVersion, err := m.Encrypt([]byte("pre-rotation file"))
	require.NoError(t, err)

	require.False(t, m.RotationInProgress())
	require.NoError(t, m.PrepareKeyRotation(ctx))
	require.True(t, m.RotationInProgress())
	require.Equal(t, uint32(2), m.Version())

	// Old-version ciphertext still decrypts via old_key while rotation is in progress.
	plain, err := m.Decrypt(oldCiphertext, oldIV, oldVersion)
	require.NoError(t, err)
	require.Equal(t, "pre-rotation file", string(plain))

	// New writes use the new version immediately.
	newCiphertext, newIV, newVersion, err := m.Encrypt([]byte("post-rotation file"))
	require.NoError(t, err)
	require.Equal(t, uint32(2), newVersion)
	plain, err = m.Decrypt(newCiphertext, newIV, newVersion)
	require.NoError(t, err)
	require.Equal(t, "post-rotation file", string(plain))

	// The sync worker re-encrypts the old object under the new key.
	rotatedCiphertext, rotatedIV, err := m.RotateDecryptEncrypt(oldCiphertext, oldIV)
	require.NoError(t, err)
	plain, err = m.Decrypt(rotatedCiphertext, rotatedIV, m.Version())
	require.NoError(t, err)
	require.Equal(t, "pre-rotation file", string(plain))

	require.NoError(t, m.FinishKeyRotation(ctx))
	require.False(t, m.RotationInProgress())

	// Once finished, the old version is no longer decryptable and
	// RotateDecryptEncrypt becomes a no-op.
	_, err = m.Decrypt(oldCiphertext, oldIV, oldVersion)
	require.Error(t, err)
	require.IsType(t, &registrystore.UnknownKeyVersionError{}, err)

	sameCT, sameIV, err := m.RotateDecryptEncrypt(newCiphertext, newIV)
	require.NoError(t, err)
	require.Equal(t, newCiphertext, sameCT)
	require.Equal(t, newIV, sameIV)
}

func TestManager_UnknownVersionRejected(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()
	vaultID := uuid.New()
	m := vhcrypto.NewManager(st, vaultID, randomMasterKey(t))
	require.NoError(t, m.BootstrapKey(ctx))

	ciphertext, iv, _, err := m.Encrypt([]byte("x"))
	require.NoError(t, err)

	_, err = m.Decrypt(ciphertext, iv, 99)
	require.Error(t, err)
	require.IsType(t, &registrystore.UnknownKeyVersionError{}, err)
}

func TestManager_CorruptCiphertextRejected(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()
	m := vhcrypto.NewManager(st, uuid.New(), randomMasterKey(t))
	require.NoError(t, m.BootstrapKey(ctx))

	ciphertext, iv, version, err := m.Encrypt([]byte("tamper me"))
	require.NoError(t, err)
	ciphertext[0] ^= 0xFF

	_, err = m.Decrypt(ciphertext, iv, version)
	require.Error(t, err)
	require.IsType(t, &registrystore.CorruptError{}, err)
}

func TestManager_LoadKeyWrongMasterKeyFails(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()
	vaultID := uuid.New()

	m := vhcrypto.NewManager(st, vaultID, randomMasterKey(t))
	require.NoError(t, m.BootstrapKey(ctx))

	wrong := vhcrypto.NewManager(st, vaultID, randomMasterKey(t))
	err := wrong.LoadKey(ctx)
	require.Error(t, err)
}
