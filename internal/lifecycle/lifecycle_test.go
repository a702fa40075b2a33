package lifecycle_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/chirino/vaulthalla/internal/auth"
	"github.com/chirino/vaulthalla/internal/auth/token"
	"github.com/chirino/vaulthalla/internal/config"
	"github.com/chirino/vaulthalla/internal/lifecycle"
	"github.com/chirino/vaulthalla/internal/model"
	_ "github.com/chirino/vaulthalla/internal/plugin/store/gormstore"
	registrymigrate "github.com/chirino/vaulthalla/internal/registry/migrate"
	registrystore "github.com/chirino/vaulthalla/internal/registry/store"
	"github.com/chirino/vaulthalla/internal/session"
)

type fakeNotifier struct {
	frames []lifecycle.ControlFrame
	closed []uuid.UUID
}

func (f *fakeNotifier) Notify(_ uuid.UUID, frame lifecycle.ControlFrame) error {
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeNotifier) Close(sessionUUID uuid.UUID) {
	f.closed = append(f.closed, sessionUUID)
}

func setup(t *testing.T) (*session.Manager, *token.Manager, registrystore.Store, *auth.Manager, context.Context) {
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
	authMgr := auth.NewManager(st, sessions, tokens, "user", 8)
	return sessions, tokens, st, authMgr, ctx
}

func TestSweeper_EvictsStaleUnauthenticatedSession(t *testing.T) {
	sessions, tokens, st, _, ctx := setup(t)
	notifier := &fakeNotifier{}
	sw := lifecycle.New(sessions, tokens, st, notifier, time.Hour, time.Minute, 30*time.Minute)

	id := uuid.New()
	require.NoError(t, sessions.CreateSession(&model.Client{SessionUUID: id, OpenedAt: time.Now().Add(-2 * time.Minute)}))

	sw.Sweep(ctx)

	require.Nil(t, sessions.GetClient(id))
	require.Contains(t, notifier.frames, lifecycle.FrameUnauthTimeout)
	require.Contains(t, notifier.closed, id)
}

func TestSweeper_LeavesFreshUnauthenticatedSessionAlone(t *testing.T) {
	sessions, tokens, st, _, ctx := setup(t)
	notifier := &fakeNotifier{}
	sw := lifecycle.New(sessions, tokens, st, notifier, time.Hour, time.Minute, 30*time.Minute)

	id := uuid.New()
	require.NoError(t, sessions.CreateSession(&model.Client{SessionUUID: id, OpenedAt: time.Now()}))

	sw.Sweep(ctx)

	require.NotNil(t, sessions.GetClient(id))
	require.Empty(t, notifier.frames)
}

func TestSweeper_EvictsRevokedAccessToken(t *testing.T) {
	sessions, tokens, st, authMgr, ctx := setup(t)
	notifier := &fakeNotifier{}
	sw := lifecycle.New(sessions, tokens, st, notifier, time.Hour, time.Minute, 30*time.Minute)

	id := uuid.New()
	client := &model.Client{SessionUUID: id, OpenedAt: time.Now()}
	require.NoError(t, sessions.CreateSession(client))
	_, _, err := authMgr.RegisterUser(ctx, client, "bob", "bob@example.com", "Tr0ubad0ur&3xtra")
	require.NoError(t, err)

	jti, err := token.ParseRefreshTokenUnverified(client.RefreshToken)
	require.NoError(t, err)
	require.NoError(t, st.RevokeRefreshToken(ctx, jti))

	sw.Sweep(ctx)

	require.Nil(t, sessions.GetClient(id))
	require.Contains(t, notifier.frames, lifecycle.FrameAccessTokenRevoked)
}

func TestSweeper_WarnsWhenAccessTokenNearExpiry(t *testing.T) {
	sessions, st, ctx := newWarnSetup(t)
	tokens := token.NewManager(st, []byte("01234567890123456789012345678901"), "vaulthalla", 5*time.Second, 7*24*time.Hour)
	require.NoError(t, tokens.LoadOrCreateSigningKey(ctx))
	authMgr := auth.NewManager(st, sessions, tokens, "user", 8)
	notifier := &fakeNotifier{}
	sw := lifecycle.New(sessions, tokens, st, notifier, time.Hour, time.Minute, 30*time.Minute)

	id := uuid.New()
	client := &model.Client{SessionUUID: id, OpenedAt: time.Now()}
	require.NoError(t, sessions.CreateSession(client))
	_, _, err := authMgr.RegisterUser(ctx, client, "carol", "carol@example.com", "Tr0ubad0ur&3xtra")
	require.NoError(t, err)

	sw.Sweep(ctx)

	require.NotNil(t, sessions.GetClient(id))
	require.Contains(t, notifier.frames, lifecycle.FrameTokenRefreshUrgent)
}

func TestSweeper_EvictsIdleAuthenticatedSession(t *testing.T) {
	sessions, tokens, st, authMgr, ctx := setup(t)
	notifier := &fakeNotifier{}
	sw := lifecycle.New(sessions, tokens, st, notifier, time.Hour, time.Minute, 30*time.Minute)

	id := uuid.New()
	client := &model.Client{SessionUUID: id, OpenedAt: time.Now()}
	require.NoError(t, sessions.CreateSession(client))
	_, _, err := authMgr.RegisterUser(ctx, client, "dave", "dave@example.com", "Tr0ubad0ur&3xtra")
	require.NoError(t, err)
	client.Touch(time.Now().Add(-31 * time.Minute))

	sw.Sweep(ctx)

	require.Nil(t, sessions.GetClient(id))
	require.Contains(t, notifier.frames, lifecycle.FrameIdleTimeout)
}

func newWarnSetup(t *testing.T) (*session.Manager, registrystore.Store, context.Context) {
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
	return session.New(st), st, ctx
}
