package session_test

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
	"github.com/chirino/vaulthalla/internal/session"
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

func TestManager_CreateAndGet(t *testing.T) {
	st, _ := setupStore(t)
	mgr := session.New(st)

	id := uuid.New()
	require.NoError(t, mgr.CreateSession(&model.Client{SessionUUID: id, OpenedAt: time.Now()}))

	client := mgr.GetClient(id)
	require.NotNil(t, client)
	require.False(t, client.IsAuthenticated())
}

func TestManager_CreateSessionRejectsNilUUID(t *testing.T) {
	st, _ := setupStore(t)
	mgr := session.New(st)
	err := mgr.CreateSession(&model.Client{})
	require.Error(t, err)
}

func TestManager_InvalidateRevokesRefreshTokensForAuthenticatedUser(t *testing.T) {
	st, ctx := setupStore(t)
	mgr := session.New(st)

	userID := uuid.New()
	require.NoError(t, st.CreateUser(ctx, &model.User{ID: userID, Name: "a", Email: "a@example.com", PasswordHash: "x", RoleID: uuid.New()}))

	jti := uuid.New()
	require.NoError(t, st.CreateRefreshToken(ctx, &model.RefreshTokenRecord{
		JTI: jti, UserID: userID, HashedToken: "h",
		IssuedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour),
	}))

	sessID := uuid.New()
	client := &model.Client{SessionUUID: sessID, User: &model.User{ID: userID}, OpenedAt: time.Now()}
	require.NoError(t, mgr.CreateSession(client))
	mgr.PromoteSession(client)

	require.NoError(t, mgr.Invalidate(ctx, sessID))
	require.Nil(t, mgr.GetClient(sessID))

	rec, err := st.GetRefreshToken(ctx, jti)
	require.NoError(t, err)
	require.True(t, rec.Revoked)
}

func TestManager_ActiveSessionsSnapshot(t *testing.T) {
	st, _ := setupStore(t)
	mgr := session.New(st)
	for i := 0; i < 3; i++ {
		require.NoError(t, mgr.CreateSession(&model.Client{SessionUUID: uuid.New(), OpenedAt: time.Now()}))
	}
	require.Len(t, mgr.ActiveSessions(), 3)
}
