// Package lifecycle implements ConnectionLifecycleManager: a ticking
// sweeper over every active session, closing out unauthenticated
// connections that overstayed their grace period, rejecting sessions
// whose access token expired or was revoked, nudging clients to refresh
// before that happens, and closing idle authenticated connections.
package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/chirino/vaulthalla/internal/auth/token"
	"github.com/chirino/vaulthalla/internal/metrics"
	"github.com/chirino/vaulthalla/internal/model"
	"github.com/chirino/vaulthalla/internal/registry/store"
	"github.com/chirino/vaulthalla/internal/session"
)

// ControlFrame names the out-of-band message the sweeper sends a client
// before (or instead of) closing its connection. Actual framing/transport
// is out of scope here; Notifier is the seam.
type ControlFrame string

const (
	FrameUnauthTimeout         ControlFrame = "unauthenticated_session_timeout"
	FrameAccessTokenExpired    ControlFrame = "access_token_expired"
	FrameAccessTokenRevoked    ControlFrame = "access_token_revoked"
	FrameTokenRefreshUrgent    ControlFrame = "token_refresh_urgent"
	FrameTokenRefreshRequested ControlFrame = "token_refresh_requested"
	FrameIdleTimeout           ControlFrame = "idle_session_timeout"
)

// urgentWindow and requestedWindow are the seconds-left thresholds for the
// two refresh-nudge frames.
const (
	urgentWindow    = 10 * time.Second
	requestedWindow = 300 * time.Second
)

// Notifier delivers a control frame to a session's transport connection
// and, on Close, tears that connection down. The sweeper calls Close
// whenever it also invalidates the session, so the client never keeps a
// live socket past an invalidated session table entry.
type Notifier interface {
	Notify(sessionUUID uuid.UUID, frame ControlFrame) error
	Close(sessionUUID uuid.UUID)
}

// LogNotifier is the default Notifier wired by cmd/serve: the WebSocket/HTTP
// framing the spec defers to an out-of-scope front end isn't implemented
// here, so delivery degrades to a log line until that transport exists.
// Close is a no-op for the same reason — there is no connection handle to
// tear down below this package.
type LogNotifier struct{}

func (LogNotifier) Notify(sessionUUID uuid.UUID, frame ControlFrame) error {
	log.Info("lifecycle: control frame", "session", sessionUUID, "frame", frame)
	return nil
}

func (LogNotifier) Close(uuid.UUID) {}

// Sweeper is the ConnectionLifecycleManager. One instance per daemon
// process; Run is meant to be started in its own goroutine.
type Sweeper struct {
	sessions *session.Manager
	tokens   *token.Manager
	store    store.Store
	notifier Notifier

	interval      time.Duration
	unauthTimeout time.Duration
	idleTimeout   time.Duration
}

// New builds a Sweeper. interval is how often the full session table is
// walked; unauthTimeout bounds how long a connection may sit without
// completing authentication; idleTimeout closes even an authenticated
// connection that has gone silent.
func New(sessions *session.Manager, tokens *token.Manager, st store.Store, notifier Notifier, interval, unauthTimeout, idleTimeout time.Duration) *Sweeper {
	return &Sweeper{
		sessions:      sessions,
		tokens:        tokens,
		store:         st,
		notifier:      notifier,
		interval:      interval,
		unauthTimeout: unauthTimeout,
		idleTimeout:   idleTimeout,
	}
}

// Run is the sweeper's main loop. It returns when ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep walks a snapshot of the active session table, evaluating each
// client independently. Taking the snapshot outside session.Manager's
// lock is why ActiveSessions exists: sweeping can take store round-trips
// per client and must never hold up request handling. Exported so a
// caller (or a test) can force one pass without waiting on the ticker.
func (s *Sweeper) Sweep(ctx context.Context) {
	clients := s.sessions.ActiveSessions()
	now := time.Now()
	for _, c := range clients {
		s.sweepOne(ctx, c, now)
	}
	metrics.RecordLifecycleSweep()
}

func (s *Sweeper) sweepOne(ctx context.Context, c *model.Client, now time.Time) {
	if !c.IsAuthenticated() {
		if now.Sub(c.OpenedAt) >= s.unauthTimeout {
			s.evict(ctx, c.SessionUUID, FrameUnauthTimeout)
		}
		return
	}

	frame, expired := s.checkAccessToken(ctx, c)
	if expired {
		s.evict(ctx, c.SessionUUID, frame)
		return
	}

	if c.IdleSince(now) >= s.idleTimeout {
		s.evict(ctx, c.SessionUUID, FrameIdleTimeout)
		return
	}
}

// checkAccessToken inspects c's access token and, if it is still good,
// whatever refresh window warning applies. The second return value is
// true only when the session must be invalidated outright.
func (s *Sweeper) checkAccessToken(ctx context.Context, c *model.Client) (ControlFrame, bool) {
	claims, err := s.tokens.ParseAccessToken(c.AccessToken)
	if err != nil {
		return FrameAccessTokenExpired, true
	}

	if jti, jerr := token.ParseRefreshTokenUnverified(c.RefreshToken); jerr == nil {
		rec, rerr := s.store.GetRefreshToken(ctx, jti)
		var notFound *store.NotFoundError
		if rerr != nil && !errors.As(rerr, &notFound) {
			log.Error("lifecycle: checking refresh token revocation failed", "session", c.SessionUUID, "err", rerr)
		} else if rerr == nil && rec.Revoked {
			return FrameAccessTokenRevoked, true
		}
	}

	exp := claims.ExpiresAt.Time
	secondsLeft := time.Until(exp)
	switch {
	case secondsLeft <= urgentWindow:
		s.notify(c.SessionUUID, FrameTokenRefreshUrgent)
	case secondsLeft <= requestedWindow:
		s.notify(c.SessionUUID, FrameTokenRefreshRequested)
	}
	return "", false
}

func (s *Sweeper) notify(sessionUUID uuid.UUID, frame ControlFrame) {
	if err := s.notifier.Notify(sessionUUID, frame); err != nil {
		log.Warn("lifecycle: notify failed", "session", sessionUUID, "frame", frame, "err", err)
	}
}

func (s *Sweeper) evict(ctx context.Context, sessionUUID uuid.UUID, frame ControlFrame) {
	s.notify(sessionUUID, frame)
	s.notifier.Close(sessionUUID)
	if err := s.sessions.Invalidate(ctx, sessionUUID); err != nil {
		log.Error("lifecycle: invalidating session failed", "session", sessionUUID, "err", err)
	}
	log.Info("lifecycle: session evicted", "session", sessionUUID, "reason", frame)
}
