package cliserver_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os/user"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/chirino/vaulthalla/internal/cliserver"
	"github.com/chirino/vaulthalla/internal/config"
	"github.com/chirino/vaulthalla/internal/model"
	_ "github.com/chirino/vaulthalla/internal/plugin/store/gormstore"
	registrymigrate "github.com/chirino/vaulthalla/internal/registry/migrate"
	registrystore "github.com/chirino/vaulthalla/internal/registry/store"
)

type fakeSync struct{ ran, interrupted uuid.UUID }

func (f *fakeSync) RunNow(id uuid.UUID) error        { f.ran = id; return nil }
func (f *fakeSync) InterruptTask(id uuid.UUID) error { f.interrupted = id; return nil }

// currentGroupName resolves the test process's own primary group, so the
// admin-group check passes regardless of which account runs the suite.
func currentGroupName(t *testing.T) string {
	t.Helper()
	u, err := user.Current()
	require.NoError(t, err)
	g, err := user.LookupGroupId(u.Gid)
	require.NoError(t, err)
	return g.Name
}

func setup(t *testing.T) (*cliserver.Server, registrystore.Store, context.Context, string) {
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

	require.NoError(t, st.CreateRole(ctx, &model.Role{ID: uuid.New(), Name: "user", Type: model.RoleTypeUser}))

	sockPath := filepath.Join(t.TempDir(), "admin.sock")
	s := cliserver.New(sockPath, currentGroupName(t), st, &fakeSync{})
	require.NoError(t, s.Start(ctx))
	t.Cleanup(s.Stop)
	return s, st, ctx, sockPath
}

func send(t *testing.T, sockPath, cmd string, args []string) map[string]any {
	t.Helper()
	conn, err := net.DialTimeout("unix", sockPath, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	body, err := json.Marshal(map[string]any{"cmd": cmd, "args": args})
	require.NoError(t, err)
	_, err = conn.Write(append(body, '\n'))
	require.NoError(t, err)

	scanner := bufio.NewScanner(conn)
	require.True(t, scanner.Scan())
	var resp map[string]any
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
	return resp
}

func TestCliServer_HelpSucceeds(t *testing.T) {
	_, _, _, sockPath := setup(t)
	resp := send(t, sockPath, "help", nil)
	require.Equal(t, true, resp["ok"])
	require.Equal(t, float64(0), resp["exit_code"])
}

func TestCliServer_UnknownCommandIsInvalidArgs(t *testing.T) {
	_, _, _, sockPath := setup(t)
	resp := send(t, sockPath, "bogus.thing", nil)
	require.Equal(t, false, resp["ok"])
	require.Equal(t, float64(2), resp["exit_code"])
}

func TestCliServer_UserThenVaultThenGrantRoundTrips(t *testing.T) {
	_, st, ctx, sockPath := setup(t)

	resp := send(t, sockPath, "user.create", []string{"alice", "alice@example.com", "Tr0ubad0ur&3xtra"})
	require.Equal(t, true, resp["ok"], resp["message"])

	mountPoint := t.TempDir()
	resp = send(t, sockPath, "vault.create", []string{"team-notes", "alice@example.com", "local", mountPoint})
	require.Equal(t, true, resp["ok"], resp["message"])

	vaults, err := st.ListVaults(ctx, nil)
	require.NoError(t, err)
	require.Len(t, vaults, 1)

	resp = send(t, sockPath, "vault.grant", []string{vaults[0].ID.String(), "alice@example.com", "list,download,upload"})
	require.Equal(t, true, resp["ok"], resp["message"])
}

func TestCliServer_SyncRunDispatchesToController(t *testing.T) {
	_, st, ctx, sockPath := setup(t)
	vault := &model.Vault{ID: uuid.New(), Name: "v", OwnerID: uuid.New(), Type: model.VaultTypeLocal, MountPoint: t.TempDir(), IsActive: true}
	require.NoError(t, st.CreateVault(ctx, vault))

	resp := send(t, sockPath, "sync.run", []string{vault.ID.String()})
	require.Equal(t, true, resp["ok"], resp["message"])
}
