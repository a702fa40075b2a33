package token_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/chirino/vaulthalla/internal/auth/token"
	"github.com/chirino/vaulthalla/internal/config"
	"github.com/chirino/vaulthalla/internal/model"
	_ "github.com/chirino/vaulthalla/internal/plugin/store/gormstore"
	registrymigrate "github.com/chirino/vaulthalla/internal/registry/migrate"
	registrystore "github.com/chirino/vaulthalla/internal/registry/store"
)

func setupStore(t *testing.T) (registrystore.Store, context.Context) {
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

func randomMasterKey() []byte {
	return []byte("01234567890123456789012345678901")
}

func TestManager_AccessTokenRoundTrip(t *testing.T) {
	st, ctx := setupStore(t)
	mgr := token.NewManager(st, randomMasterKey(), "vaulthalla", time.Hour, 7*24*time.Hour)
	require.NoError(t, mgr.LoadOrCreateSigningKey(ctx))

	user := &model.User{ID: uuid.New(), RoleID: uuid.New()}
	sess := uuid.New()

	signed, err := mgr.MintAccessToken(user, sess)
	require.NoError(t, err)

	claims, err := mgr.ParseAccessToken(signed)
	require.NoError(t, err)
	require.Equal(t, user.ID, claims.UserID)
	require.Equal(t, sess, claims.SessionUUID)
}

func TestManager_SigningKeyPersistsAcrossManagers(t *testing.T) {
	st, ctx := setupStore(t)
	masterKey := randomMasterKey()

	m1 := token.NewManager(st, masterKey, "vaulthalla", time.Hour, time.Hour)
	require.NoError(t, m1.LoadOrCreateSigningKey(ctx))
	user := &model.User{ID: uuid.New(), RoleID: uuid.New()}
	signed, err := m1.MintAccessToken(user, uuid.New())
	require.NoError(t, err)

	m2 := token.NewManager(st, masterKey, "vaulthalla", time.Hour, time.Hour)
	require.NoError(t, m2.LoadOrCreateSigningKey(ctx))
	_, err = m2.ParseAccessToken(signed)
	require.NoError(t, err)
}

func TestManager_AccessTokenRejectsExpired(t *testing.T) {
	st, ctx := setupStore(t)
	mgr := token.NewManager(st, randomMasterKey(), "vaulthalla", -time.Minute, time.Hour)
	require.NoError(t, mgr.LoadOrCreateSigningKey(ctx))

	user := &model.User{ID: uuid.New(), RoleID: uuid.New()}
	signed, err := mgr.MintAccessToken(user, uuid.New())
	require.NoError(t, err)

	_, err = mgr.ParseAccessToken(signed)
	require.Error(t, err)
}

func TestManager_RefreshTokenHashMatchesRecord(t *testing.T) {
	st, ctx := setupStore(t)
	mgr := token.NewManager(st, randomMasterKey(), "vaulthalla", time.Hour, 7*24*time.Hour)
	require.NoError(t, mgr.LoadOrCreateSigningKey(ctx))

	result, err := mgr.MintRefreshToken(uuid.New(), "127.0.0.1", "test-agent")
	require.NoError(t, err)
	require.Equal(t, token.HashRefreshToken(result.Token), result.Record.HashedToken)

	jti, err := token.ParseRefreshTokenUnverified(result.Token)
	require.NoError(t, err)
	require.Equal(t, result.Record.JTI, jti)

	require.NoError(t, mgr.VerifyRefreshSignature(result.Token))
}

func TestManager_VerifyRefreshSignatureRejectsTampering(t *testing.T) {
	st, ctx := setupStore(t)
	mgr := token.NewManager(st, randomMasterKey(), "vaulthalla", time.Hour, time.Hour)
	require.NoError(t, mgr.LoadOrCreateSigningKey(ctx))

	result, err := mgr.MintRefreshToken(uuid.New(), "", "")
	require.NoError(t, err)

	tampered := result.Token[:len(result.Token)-1] + "x"
	require.Error(t, mgr.VerifyRefreshSignature(tampered))
}
