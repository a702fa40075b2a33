package dispatch_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/chirino/vaulthalla/internal/auth"
	"github.com/chirino/vaulthalla/internal/auth/token"
	"github.com/chirino/vaulthalla/internal/config"
	"github.com/chirino/vaulthalla/internal/crypto"
	"github.com/chirino/vaulthalla/internal/dispatch"
	"github.com/chirino/vaulthalla/internal/model"
	"github.com/chirino/vaulthalla/internal/plugin/storage/local"
	_ "github.com/chirino/vaulthalla/internal/plugin/store/gormstore"
	registrymigrate "github.com/chirino/vaulthalla/internal/registry/migrate"
	registrystore "github.com/chirino/vaulthalla/internal/registry/store"
	"github.com/chirino/vaulthalla/internal/session"
	"github.com/chirino/vaulthalla/internal/storage"
)

type fakeEngines struct{ engine *storage.Engine }

func (f *fakeEngines) StorageEngine(_ context.Context, _ uuid.UUID) (*storage.Engine, error) {
	return f.engine, nil
}

type fakeSync struct{}

func (fakeSync) RunNow(uuid.UUID) error        { return nil }
func (fakeSync) InterruptTask(uuid.UUID) error { return nil }

func setup(t *testing.T) (*gin.Engine, registrystore.Store, context.Context, *model.Vault) {
	t.Helper()
	gin.SetMode(gin.TestMode)

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

	// "user" carries no process-wide capabilities in these tests; vault
	// access comes entirely from a per-vault RoleAssignment granted below.
	role := &model.Role{ID: uuid.New(), Name: "user", Type: model.RoleTypeUser}
	require.NoError(t, st.CreateRole(ctx, role))

	vault := &model.Vault{
		ID: uuid.New(), Name: "dispatch-test", OwnerID: uuid.New(),
		Type: model.VaultTypeLocal, MountPoint: t.TempDir(), IsActive: true,
	}
	require.NoError(t, st.CreateVault(ctx, vault))
	enc := crypto.NewManager(st, vault.ID, []byte("01234567890123456789012345678901"))
	require.NoError(t, enc.BootstrapKey(ctx))
	backend, err := local.New(vault.MountPoint)
	require.NoError(t, err)
	engine := storage.NewEngine(vault, backend, st, enc)

	sessions := session.New(st)
	tokens := token.NewManager(st, []byte("01234567890123456789012345678901"), "vaulthalla-test", time.Hour, 7*24*time.Hour)
	require.NoError(t, tokens.LoadOrCreateSigningKey(ctx))
	authMgr := auth.NewManager(st, sessions, tokens, "user", 8)

	d := dispatch.New(st, sessions, tokens, authMgr, &fakeEngines{engine: engine}, fakeSync{}, nil)
	router := gin.New()
	d.Mount(router)
	return router, st, ctx, vault
}

// grantVaultAccess creates a vault-scoped role with caps and assigns it
// directly to the user registered under email, so subsequent vault.*
// commands for that user against vault pass permission.Evaluate.
func grantVaultAccess(t *testing.T, st registrystore.Store, ctx context.Context, vault *model.Vault, email string, caps model.Capability) {
	t.Helper()
	user, err := st.GetUserByEmail(ctx, email)
	require.NoError(t, err)
	vaultRole := &model.Role{ID: uuid.New(), Name: "vault-role-" + uuid.NewString(), Type: model.RoleTypeVault, Permissions: caps}
	require.NoError(t, st.CreateRole(ctx, vaultRole))
	require.NoError(t, st.CreateRoleAssignment(ctx, &model.RoleAssignment{
		ID: uuid.New(), SubjectType: model.SubjectUser, SubjectID: user.ID,
		RoleID: vaultRole.ID, VaultID: &vault.ID,
	}))
}

func post(t *testing.T, router *gin.Engine, req dispatch.Request) dispatch.Response {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	httpReq := httptest.NewRequest(http.MethodPost, "/v1/dispatch", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httpReq)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp dispatch.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func payload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestDispatcher_RegisterThenLogin(t *testing.T) {
	router, _, _, _ := setup(t)

	resp := post(t, router, dispatch.Request{
		Command:   "auth.register",
		RequestID: "r1",
		Payload:   payload(t, map[string]string{"name": "alice", "email": "alice@example.com", "password": "Tr0ubad0ur&3xtra"}),
	})
	require.Equal(t, dispatch.StatusOK, resp.Status)

	resp = post(t, router, dispatch.Request{
		Command:   "auth.login",
		RequestID: "r2",
		Payload:   payload(t, map[string]string{"email": "alice@example.com", "password": "Tr0ubad0ur&3xtra"}),
	})
	require.Equal(t, dispatch.StatusOK, resp.Status)
	require.NotNil(t, resp.Data)
}

func TestDispatcher_NonAuthCommandWithoutTokenIsUnauthorized(t *testing.T) {
	router, _, _, vault := setup(t)

	resp := post(t, router, dispatch.Request{
		Command:   "vault.list",
		RequestID: "r1",
		Payload:   payload(t, map[string]any{"vaultId": vault.ID, "path": "/"}),
	})
	require.Equal(t, dispatch.StatusUnauthorized, resp.Status)
}

func TestDispatcher_UnknownCommand(t *testing.T) {
	router, _, _, _ := setup(t)
	access := registerAndExtractAccessToken(t, router, "dave@example.com")
	resp := post(t, router, dispatch.Request{Command: "bogus.thing", Token: access, RequestID: "r1"})
	require.Equal(t, dispatch.StatusError, resp.Status)
	require.Equal(t, "unknown_command", resp.Error.Code)
}

func registerAndExtractAccessToken(t *testing.T, router *gin.Engine, email string) string {
	t.Helper()
	resp := post(t, router, dispatch.Request{
		Command:   "auth.register",
		RequestID: "r1",
		Payload:   payload(t, map[string]string{"name": "bob", "email": email, "password": "Tr0ubad0ur&3xtra"}),
	})
	require.Equal(t, dispatch.StatusOK, resp.Status)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	return data["accessToken"].(string)
}

func TestDispatcher_PutThenGetRoundTrips(t *testing.T) {
	router, st, ctx, vault := setup(t)
	access := registerAndExtractAccessToken(t, router, "bob@example.com")
	grantVaultAccess(t, st, ctx, vault, "bob@example.com", model.CapUpload|model.CapDownload|model.CapList)

	putResp := post(t, router, dispatch.Request{
		Command:   "vault.put",
		Token:     access,
		RequestID: "r1",
		Payload: payload(t, map[string]any{
			"vaultId": vault.ID,
			"path":    "/notes.txt",
			"content": base64.StdEncoding.EncodeToString([]byte("hello vault")),
		}),
	})
	require.Equal(t, dispatch.StatusOK, putResp.Status)

	getResp := post(t, router, dispatch.Request{
		Command:   "vault.get",
		Token:     access,
		RequestID: "r2",
		Payload:   payload(t, map[string]any{"vaultId": vault.ID, "path": "/notes.txt"}),
	})
	require.Equal(t, dispatch.StatusOK, getResp.Status)
	data, ok := getResp.Data.(map[string]any)
	require.True(t, ok)
	decoded, err := base64.StdEncoding.DecodeString(data["content"].(string))
	require.NoError(t, err)
	require.Equal(t, "hello vault", string(decoded))
}

func TestDispatcher_LogoutInvalidatesSession(t *testing.T) {
	router, _, _, vault := setup(t)
	access := registerAndExtractAccessToken(t, router, "carol@example.com")

	logoutResp := post(t, router, dispatch.Request{Command: "auth.logout", Token: access, RequestID: "r1"})
	require.Equal(t, dispatch.StatusOK, logoutResp.Status)

	resp := post(t, router, dispatch.Request{
		Command:   "vault.list",
		Token:     access,
		RequestID: "r2",
		Payload:   payload(t, map[string]any{"vaultId": vault.ID, "path": "/"}),
	})
	require.Equal(t, dispatch.StatusUnauthorized, resp.Status)
}
