// Package cliserver implements the admin Unix-domain-socket surface: a
// line-oriented {cmd, args} -> {ok, exit_code, message} channel gated on
// peer credentials rather than a bearer token, grounded on the reference
// daemon's CtlServerService.
package cliserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/chirino/vaulthalla/internal/asyncsvc"
	"github.com/chirino/vaulthalla/internal/metrics"
	"github.com/chirino/vaulthalla/internal/registry/store"
)

// SyncController is the narrow slice of internal/sync.Controller the
// admin socket needs, kept local to avoid an import cycle back into the
// package that owns the vault worker pool, matching the same pattern
// internal/dispatch uses for its own SyncController interface.
type SyncController interface {
	RunNow(vaultID uuid.UUID) error
	InterruptTask(vaultID uuid.UUID) error
}

// request is one line of the admin protocol.
type request struct {
	Cmd  string   `json:"cmd"`
	Args []string `json:"args"`
}

// response is the framed reply, one JSON object per request line.
type response struct {
	OK       bool   `json:"ok"`
	ExitCode int    `json:"exit_code"`
	Message  string `json:"message"`
}

// Server accepts admin connections on a Unix-domain socket, checks the
// peer's UID against adminGroup via SO_PEERCRED, and dispatches the line
// to the command table.
type Server struct {
	svc        *asyncsvc.Service
	socketPath string
	adminGroup string
	store      store.Store
	sync       SyncController
	commands   map[string]handlerFunc

	listener net.Listener
}

type handlerFunc func(ctx context.Context, s *Server, args []string) (string, error)

// New constructs a stopped Server. Call Start to bind and accept. sync may
// be nil in tests that never exercise sync.run/sync.interrupt.
func New(socketPath, adminGroup string, st store.Store, sync SyncController) *Server {
	s := &Server{
		svc:        asyncsvc.New("vaulthalla-cli"),
		socketPath: socketPath,
		adminGroup: adminGroup,
		store:      st,
		sync:       sync,
	}
	s.commands = map[string]handlerFunc{
		"help":           handleHelp,
		"vault.create":   handleVaultCreate,
		"vault.delete":   handleVaultDelete,
		"vault.info":     handleVaultInfo,
		"vault.list":     handleVaultList,
		"vault.grant":    handleVaultGrant,
		"vault.revoke":   handleVaultRevoke,
		"user.create":    handleUserCreate,
		"role.create":    handleRoleCreate,
		"group.create":   handleGroupCreate,
		"group.add":      handleGroupAdd,
		"sync.run":       handleSyncRun,
		"sync.interrupt": handleSyncInterrupt,
	}
	return s
}

// IsRunning reports whether the accept loop is active.
func (s *Server) IsRunning() bool { return s.svc.IsRunning() }

// Start binds the Unix-domain socket, chmods it to group-readable/writable,
// and launches the accept loop on its own goroutine. Calling Start twice is
// a no-op, matching asyncsvc.Service's idempotent contract.
func (s *Server) Start(ctx context.Context) error {
	if s.svc.IsRunning() {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o755); err != nil {
		return fmt.Errorf("cliserver: creating socket directory: %w", err)
	}
	if err := os.RemoveAll(s.socketPath); err != nil {
		return fmt.Errorf("cliserver: clearing stale socket: %w", err)
	}
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("cliserver: listen: %w", err)
	}
	if err := os.Chmod(s.socketPath, 0o660); err != nil {
		ln.Close()
		return fmt.Errorf("cliserver: chmod socket: %w", err)
	}
	s.listener = ln
	s.svc.Start(ctx, s.acceptLoop)
	return nil
}

// Stop closes the listener (unblocking Accept) and waits for the accept
// loop goroutine to exit, then removes the socket file. Safe to call on a
// Server that was never started.
func (s *Server) Stop() {
	s.svc.Stop()
	if s.listener != nil {
		_ = os.RemoveAll(s.socketPath)
	}
}

func (s *Server) acceptLoop(ctx context.Context) {
	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Error("cliserver: accept failed", "error", err)
				continue
			}
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	uc, ok := conn.(*net.UnixConn)
	if !ok {
		s.reply(conn, response{OK: false, ExitCode: 3, Message: "internal error"})
		return
	}

	allowed, err := s.checkPeer(uc)
	if err != nil {
		log.Error("cliserver: peer credential check failed", "error", err)
		s.reply(conn, response{OK: false, ExitCode: 3, Message: "internal error"})
		return
	}
	if !allowed {
		s.reply(conn, response{OK: false, ExitCode: 1, Message: "permission denied"})
		return
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), 1<<20)
	if !scanner.Scan() {
		return
	}

	var req request
	if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
		s.reply(conn, response{OK: false, ExitCode: 2, Message: "malformed request"})
		return
	}
	if req.Cmd == "" {
		req.Cmd = "help"
	}

	handler, ok := s.commands[req.Cmd]
	if !ok {
		metrics.RecordCLICommand(req.Cmd, "unknown")
		s.reply(conn, response{OK: false, ExitCode: 2, Message: fmt.Sprintf("unknown command %q", req.Cmd)})
		return
	}

	msg, err := handler(ctx, s, req.Args)
	if err != nil {
		code := exitCodeFor(err)
		log.Error("cliserver: command failed", "cmd", req.Cmd, "error", err)
		metrics.RecordCLICommand(req.Cmd, "error")
		s.reply(conn, response{OK: false, ExitCode: code, Message: err.Error()})
		return
	}
	metrics.RecordCLICommand(req.Cmd, "ok")
	s.reply(conn, response{OK: true, ExitCode: 0, Message: msg})
}

func (s *Server) reply(conn net.Conn, r response) {
	b, err := json.Marshal(r)
	if err != nil {
		return
	}
	b = append(b, '\n')
	_, _ = conn.Write(b)
}

// checkPeer resolves the connecting process's UID via SO_PEERCRED and
// reports whether it belongs to adminGroup. UID 0 always passes.
func (s *Server) checkPeer(conn *net.UnixConn) (bool, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return false, fmt.Errorf("cliserver: raw conn: %w", err)
	}

	var cred *unix.Ucred
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		cred, sockErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if ctrlErr != nil {
		return false, ctrlErr
	}
	if sockErr != nil {
		return false, fmt.Errorf("cliserver: SO_PEERCRED: %w", sockErr)
	}

	if cred.Uid == 0 {
		return true, nil
	}

	grp, err := user.LookupGroup(s.adminGroup)
	if err != nil {
		return false, fmt.Errorf("cliserver: looking up admin group %q: %w", s.adminGroup, err)
	}
	usr, err := user.LookupId(strconv.FormatUint(uint64(cred.Uid), 10))
	if err != nil {
		return false, fmt.Errorf("cliserver: looking up peer uid %d: %w", cred.Uid, err)
	}
	gids, err := usr.GroupIds()
	if err != nil {
		return false, fmt.Errorf("cliserver: listing groups for uid %d: %w", cred.Uid, err)
	}
	for _, gid := range gids {
		if gid == grp.Gid {
			return true, nil
		}
	}
	return false, nil
}
