package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/chirino/vaulthalla/internal/auth"
	"github.com/chirino/vaulthalla/internal/auth/token"
	"github.com/chirino/vaulthalla/internal/metrics"
	"github.com/chirino/vaulthalla/internal/model"
	"github.com/chirino/vaulthalla/internal/registry/store"
	"github.com/chirino/vaulthalla/internal/session"
	"github.com/chirino/vaulthalla/internal/storage"
	"github.com/chirino/vaulthalla/internal/waiver"
)

// EngineProvider is the slice of Runtime the dispatcher needs to reach a
// vault's StorageEngine. A narrow interface, not *runtime.Runtime, for the
// same import-cycle reason internal/sync, internal/janitor, and
// internal/waiver each define their own.
type EngineProvider interface {
	StorageEngine(ctx context.Context, vaultID uuid.UUID) (*storage.Engine, error)
}

// SyncController is the slice of internal/sync.Controller the dispatcher
// exposes to clients: forcing an out-of-cycle run, or interrupting one in
// progress.
type SyncController interface {
	RunNow(vaultID uuid.UUID) error
	InterruptTask(vaultID uuid.UUID) error
}

// handlerFunc implements one command. client is nil for the auth.* family
// (Handle skips the token gate for those); a handler that still needs an
// identity (auth.logout, auth.changePassword) authenticates itself off
// req.Token via Dispatcher.authenticate.
type handlerFunc func(ctx context.Context, d *Dispatcher, client *model.Client, req Request) (any, error)

// Dispatcher is the daemon's single external entry point: it decodes the
// command envelope, enforces the access-token gate, routes to a handler by
// command name, and maps the handler's error onto the response envelope.
type Dispatcher struct {
	Store    store.Store
	Sessions *session.Manager
	Tokens   *token.Manager
	Auth     *auth.Manager
	Engines  EngineProvider
	Sync     SyncController
	Waivers  *waiver.Gate

	commands map[string]handlerFunc
}

// New builds a Dispatcher with every command registered.
func New(st store.Store, sessions *session.Manager, tokens *token.Manager, authMgr *auth.Manager, engines EngineProvider, sync SyncController, waivers *waiver.Gate) *Dispatcher {
	d := &Dispatcher{
		Store:    st,
		Sessions: sessions,
		Tokens:   tokens,
		Auth:     authMgr,
		Engines:  engines,
		Sync:     sync,
		Waivers:  waivers,
	}
	d.commands = map[string]handlerFunc{
		"auth.register":       handleRegister,
		"auth.login":          handleLogin,
		"auth.refresh":        handleRefresh,
		"auth.logout":         handleLogout,
		"auth.changePassword": handleChangePassword,

		"vault.get":    handleVaultGet,
		"vault.put":    handleVaultPut,
		"vault.list":   handleVaultList,
		"vault.remove": handleVaultRemove,
		"vault.mkdir":  handleVaultMkdir,
		"vault.move":   handleVaultMove,
		"vault.rename": handleVaultRename,
		"vault.copy":   handleVaultCopy,

		"sync.run":       handleSyncRun,
		"sync.interrupt": handleSyncInterrupt,

		"waiver.authorize": handleWaiverAuthorize,
	}
	return d
}

// Mount registers the single dispatch endpoint on router, with the
// dispatch-latency/count middleware ahead of it.
func (d *Dispatcher) Mount(router *gin.Engine) {
	router.POST("/v1/dispatch", metrics.DispatchMiddleware(), d.Handle)
}

// Handle is the gin handler for the dispatch endpoint. The HTTP status is
// always 200; the protocol-level outcome is Response.Status. The command
// and resulting status are stashed on the gin.Context for
// metrics.DispatchMiddleware to label its counters with.
func (d *Dispatcher) Handle(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Set("vaulthalla.command", "malformed")
		c.Set("vaulthalla.status", string(StatusError))
		c.JSON(http.StatusOK, Response{
			Status: StatusError,
			Error:  &ErrorBody{Code: "bad_request", Message: "malformed envelope"},
		})
		return
	}
	resp := d.dispatch(c.Request.Context(), req)
	c.Set("vaulthalla.command", req.Command)
	c.Set("vaulthalla.status", string(resp.Status))
	c.JSON(http.StatusOK, resp)
}

func (d *Dispatcher) dispatch(ctx context.Context, req Request) Response {
	resp := Response{Command: req.Command + ".response", RequestID: req.RequestID}

	var client *model.Client
	if !strings.HasPrefix(req.Command, "auth") {
		authed, err := d.authenticate(req.Token)
		if err != nil {
			resp.Status, resp.Error = mapError(req.RequestID, err)
			return resp
		}
		client = authed
	}

	handler, ok := d.commands[req.Command]
	if !ok {
		resp.Status = StatusError
		resp.Error = &ErrorBody{Code: "unknown_command", Message: fmt.Sprintf("no handler for %q", req.Command)}
		return resp
	}

	data, err := handler(ctx, d, client, req)
	if err != nil {
		resp.Status, resp.Error = mapError(req.RequestID, err)
		return resp
	}
	resp.Status = StatusOK
	resp.Data = data
	return resp
}

// authenticate implements the access-token gate: parse, confirm the
// session table still holds a live, matching Client, load it, and touch
// its activity clock for the lifecycle sweeper's idle check. A session
// whose refresh token was revoked elsewhere (logout on another device)
// is not rejected here — the access token JWT itself is still valid until
// its own exp claim; internal/lifecycle.Sweeper is what evicts it,
// checking the backing RefreshTokenRecord on its own schedule.
func (d *Dispatcher) authenticate(rawToken string) (*model.Client, error) {
	if rawToken == "" {
		return nil, &store.UnauthorizedError{Reason: "missing access token"}
	}
	claims, err := d.Tokens.ParseAccessToken(rawToken)
	if err != nil {
		return nil, &store.UnauthorizedError{Reason: "invalid or expired access token"}
	}
	if !d.Auth.ValidateAccessToken(claims.SessionUUID, rawToken) {
		return nil, &store.UnauthorizedError{Reason: "access token no longer valid for this session"}
	}
	client := d.Sessions.GetClient(claims.SessionUUID)
	if client == nil {
		return nil, &store.UnauthorizedError{Reason: "session not found"}
	}
	client.Touch(time.Now())
	return client, nil
}
