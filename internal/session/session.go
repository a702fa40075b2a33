// Package session maintains the process-wide table of active Clients,
// keyed by session UUID, with thread-safe mutation. It holds no
// authentication logic of its own — AuthManager mutates Clients through it.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/chirino/vaulthalla/internal/model"
	"github.com/chirino/vaulthalla/internal/registry/store"
)

// Manager is the process-wide session table. All methods serialize on a
// single mutex; critical sections are kept short (map operations only).
type Manager struct {
	store store.Store

	mu       sync.Mutex
	sessions map[uuid.UUID]*model.Client
}

// New constructs an empty Manager.
func New(st store.Store) *Manager {
	return &Manager{store: st, sessions: make(map[uuid.UUID]*model.Client)}
}

// CreateSession inserts client keyed by its own session UUID. Fails if the
// session carries a nil UUID.
func (m *Manager) CreateSession(client *model.Client) error {
	if client.SessionUUID == uuid.Nil {
		return fmt.Errorf("session: null session uuid")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[client.SessionUUID] = client
	return nil
}

// PromoteSession transitions client to authenticated: the caller has
// already set client.User, client.AccessToken, client.RefreshToken. This
// replaces the table entry under the lock so concurrent GetClient callers
// never observe a half-updated Client.
func (m *Manager) PromoteSession(client *model.Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[client.SessionUUID] = client
}

// GetClient returns the Client for sessionUUID, or nil if none.
func (m *Manager) GetClient(sessionUUID uuid.UUID) *model.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[sessionUUID]
}

// Invalidate removes sessionUUID from the table. On an authenticated
// session it also revokes every refresh token issued to that user, so a
// stolen refresh token cannot outlive an explicit logout.
func (m *Manager) Invalidate(ctx context.Context, sessionUUID uuid.UUID) error {
	m.mu.Lock()
	client := m.sessions[sessionUUID]
	delete(m.sessions, sessionUUID)
	m.mu.Unlock()

	if client == nil || !client.IsAuthenticated() {
		return nil
	}
	return m.store.RevokeAllRefreshTokensForUser(ctx, client.User.ID)
}

// ActiveSessions returns a snapshot slice of all active clients, for the
// lifecycle sweeper to iterate without holding the table lock.
func (m *Manager) ActiveSessions() []*model.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Client, 0, len(m.sessions))
	for _, c := range m.sessions {
		out = append(out, c)
	}
	return out
}
