package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/chirino/vaulthalla/internal/auth"
	"github.com/chirino/vaulthalla/internal/auth/token"
	"github.com/chirino/vaulthalla/internal/config"
	"github.com/chirino/vaulthalla/internal/model"
	_ "github.com/chirino/vaulthalla/internal/plugin/store/gormstore"
	registrymigrate "github.com/chirino/vaulthalla/internal/registry/migrate"
	registrystore "github.com/chirino/vaulthalla/internal/registry/store"
	"github.com/chirino/vaulthalla/internal/session"
)

func setupManager(t *testing.T) (*auth.Manager, registrystore.Store, context.Context) {
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

	role := &model.Role{ID: uuid.New(), Name: "user", Type: model.RoleTypeUser}
	require.NoError(t, st.CreateRole(ctx, role))

	sessions := session.New(st)
	tokens := token.NewManager(st, []byte("01234567890123456789012345678901"), "vaulthalla", time.Hour, 7*24*time.Hour)
	require.NoError(t, tokens.LoadOrCreateSigningKey(ctx))

	mgr := auth.NewManager(st, sessions, tokens, "user", 8)
	return mgr, st, ctx
}

func TestManager_RegisterAndLogin(t *testing.T) {
	mgr, _, ctx := setupManager(t)

	client := &model.Client{SessionUUID: uuid.New(), OpenedAt: time.Now()}
	access, refresh, err := mgr.RegisterUser(ctx, client, "alice", "alice@example.com", "Tr0ubad0ur&3xtra")
	require.NoError(t, err)
	require.NotEmpty(t, access)
	require.NotEmpty(t, refresh)
	require.True(t, client.IsAuthenticated())

	client2 := &model.Client{SessionUUID: uuid.New(), OpenedAt: time.Now()}
	access2, refresh2, err := mgr.LoginUser(ctx, client2, "alice@example.com", "Tr0ubad0ur&3xtra")
	require.NoError(t, err)
	require.NotEmpty(t, access2)
	require.NotEmpty(t, refresh2)
}

func TestManager_RegisterRejectsWeakPassword(t *testing.T) {
	mgr, _, ctx := setupManager(t)
	client := &model.Client{SessionUUID: uuid.New(), OpenedAt: time.Now()}
	_, _, err := mgr.RegisterUser(ctx, client, "bob", "bob@example.com", "password123")
	require.Error(t, err)
}

func TestManager_LoginRejectsWrongPassword(t *testing.T) {
	mgr, _, ctx := setupManager(t)
	client := &model.Client{SessionUUID: uuid.New(), OpenedAt: time.Now()}
	_, _, err := mgr.RegisterUser(ctx, client, "carol", "carol@example.com", "Tr0ubad0ur&3xtra")
	require.NoError(t, err)

	client2 := &model.Client{SessionUUID: uuid.New(), OpenedAt: time.Now()}
	_, _, err = mgr.LoginUser(ctx, client2, "carol@example.com", "wrong-password")
	require.Error(t, err)
}

func TestManager_ValidateRefreshTokenRejectsRevoked(t *testing.T) {
	mgr, st, ctx := setupManager(t)
	client := &model.Client{SessionUUID: uuid.New(), OpenedAt: time.Now()}
	_, refresh, err := mgr.RegisterUser(ctx, client, "dave", "dave@example.com", "Tr0ubad0ur&3xtra")
	require.NoError(t, err)

	jti, err := token.ParseRefreshTokenUnverified(refresh)
	require.NoError(t, err)
	require.NoError(t, st.RevokeRefreshToken(ctx, jti))

	_, err = mgr.ValidateRefreshToken(ctx, refresh)
	require.Error(t, err)
}

func TestManager_ChangePasswordRevokesRefreshTokens(t *testing.T) {
	mgr, _, ctx := setupManager(t)
	client := &model.Client{SessionUUID: uuid.New(), OpenedAt: time.Now()}
	_, refresh, err := mgr.RegisterUser(ctx, client, "erin", "erin@example.com", "Tr0ubad0ur&3xtra")
	require.NoError(t, err)

	require.NoError(t, mgr.ChangePassword(ctx, "erin@example.com", "Tr0ubad0ur&3xtra", "An0therStr0ng&Pass"))

	_, err = mgr.ValidateRefreshToken(ctx, refresh)
	require.Error(t, err)

	client2 := &model.Client{SessionUUID: uuid.New(), OpenedAt: time.Now()}
	_, _, err = mgr.LoginUser(ctx, client2, "erin@example.com", "An0therStr0ng&Pass")
	require.NoError(t, err)
}
