// Package auth implements registration, login, password change, and the
// access/refresh token lifecycle described for AuthManager: it is the only
// package that mutates session.Manager's Client table with authentication
// state, and the only package that touches internal/auth/password and
// internal/auth/token.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chirino/vaulthalla/internal/auth/password"
	"github.com/chirino/vaulthalla/internal/auth/token"
	"github.com/chirino/vaulthalla/internal/model"
	"github.com/chirino/vaulthalla/internal/registry/store"
	"github.com/chirino/vaulthalla/internal/session"
)

// Manager implements registration, login, token minting, validation, and
// refresh, per the AuthManager responsibility.
type Manager struct {
	store    store.Store
	sessions *session.Manager
	tokens   *token.Manager

	defaultRoleName   string
	passwordMinLength int
}

// NewManager constructs a Manager. Call tokens.LoadOrCreateSigningKey
// before using it.
func NewManager(st store.Store, sessions *session.Manager, tokens *token.Manager, defaultRoleName string, passwordMinLength int) *Manager {
	return &Manager{
		store:             st,
		sessions:          sessions,
		tokens:            tokens,
		defaultRoleName:   defaultRoleName,
		passwordMinLength: passwordMinLength,
	}
}

// RehydrateOrCreateClient implements rehydrate_or_create_client: if
// refreshCookie is non-empty, it attempts ValidateRefreshToken and adopts
// the resulting Client on success, minting a fresh access token bound to
// sessionUUID and returning refreshCookie unchanged. Otherwise (or on
// failure) it registers a fresh unauthenticated session and returns an
// empty rawRefreshToken; no refresh token is minted for that session.
func (m *Manager) RehydrateOrCreateClient(ctx context.Context, sessionUUID uuid.UUID, refreshCookie string) (client *model.Client, rawRefreshToken string, err error) {
	if refreshCookie != "" {
		if rehydrated, err := m.ValidateRefreshToken(ctx, refreshCookie); err == nil {
			rehydrated.SessionUUID = sessionUUID
			access, err := m.tokens.MintAccessToken(rehydrated.User, sessionUUID)
			if err != nil {
				return nil, "", fmt.Errorf("auth: minting access token: %w", err)
			}
			rehydrated.AccessToken = access
			m.sessions.PromoteSession(rehydrated)
			return rehydrated, refreshCookie, nil
		}
	}

	client = &model.Client{SessionUUID: sessionUUID, OpenedAt: time.Now()}
	if err := m.sessions.CreateSession(client); err != nil {
		return nil, "", fmt.Errorf("auth: creating session: %w", err)
	}
	return client, "", nil
}

// RegisterUser implements register_user: validates name/email/password,
// hashes the password, inserts the user, binds it to client, and promotes
// the session. Returns the minted access and raw refresh tokens.
func (m *Manager) RegisterUser(ctx context.Context, client *model.Client, name, email, rawPassword string) (accessToken, rawRefreshToken string, err error) {
	if name == "" {
		return "", "", &store.ValidationError{Field: "name", Message: "must not be empty"}
	}
	if email == "" {
		return "", "", &store.ValidationError{Field: "email", Message: "must not be empty"}
	}
	if reason := password.CheckStrength(rawPassword, m.passwordMinLength); reason != "" {
		return "", "", &store.ValidationError{Field: "password", Message: reason}
	}

	if existing, _ := m.store.GetUserByName(ctx, name); existing != nil {
		return "", "", &store.ConflictError{Message: "a user with that name already exists", Code: "duplicate_user"}
	}
	if existing, _ := m.store.GetUserByEmail(ctx, email); existing != nil {
		return "", "", &store.ConflictError{Message: "a user with that email already exists", Code: "duplicate_email"}
	}

	hash, err := password.Hash(rawPassword)
	if err != nil {
		return "", "", fmt.Errorf("auth: hashing password: %w", err)
	}

	role, err := m.store.GetRoleByName(ctx, m.defaultRoleName)
	if err != nil {
		return "", "", fmt.Errorf("auth: loading default role %q: %w", m.defaultRoleName, err)
	}

	user := &model.User{
		ID:           uuid.New(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		RoleID:       role.ID,
	}
	if err := m.store.CreateUser(ctx, user); err != nil {
		return "", "", fmt.Errorf("auth: creating user: %w", err)
	}

	return m.bindAndPromote(ctx, client, user)
}

// LoginUser implements login_user: verifies the password hash, revokes all
// prior refresh tokens for the user, binds the user to client, and
// promotes the session.
func (m *Manager) LoginUser(ctx context.Context, client *model.Client, email, rawPassword string) (accessToken, rawRefreshToken string, err error) {
	user, err := m.store.GetUserByEmail(ctx, email)
	if err != nil {
		return "", "", &store.UnauthorizedError{Reason: "invalid credentials"}
	}
	ok, err := password.Verify(rawPassword, user.PasswordHash)
	if err != nil || !ok {
		return "", "", &store.UnauthorizedError{Reason: "invalid credentials"}
	}

	if err := m.store.RevokeAllRefreshTokensForUser(ctx, user.ID); err != nil {
		return "", "", fmt.Errorf("auth: revoking prior refresh tokens: %w", err)
	}

	return m.bindAndPromote(ctx, client, user)
}

// ChangePassword implements change_password: verifies old, re-derives hash.
func (m *Manager) ChangePassword(ctx context.Context, email, oldPassword, newPassword string) error {
	user, err := m.store.GetUserByEmail(ctx, email)
	if err != nil {
		return &store.UnauthorizedError{Reason: "invalid credentials"}
	}
	ok, err := password.Verify(oldPassword, user.PasswordHash)
	if err != nil || !ok {
		return &store.UnauthorizedError{Reason: "invalid credentials"}
	}
	if reason := password.CheckStrength(newPassword, m.passwordMinLength); reason != "" {
		return &store.ValidationError{Field: "password", Message: reason}
	}
	hash, err := password.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("auth: hashing password: %w", err)
	}
	user.PasswordHash = hash
	if err := m.store.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("auth: updating user: %w", err)
	}
	return m.store.RevokeAllRefreshTokensForUser(ctx, user.ID)
}

// ValidateRefreshToken implements validate_refresh_token's five-step
// algorithm: signature+issuer verification, jti extraction, store lookup
// with revoked/expired rejection, hash comparison, and Client rehydration.
func (m *Manager) ValidateRefreshToken(ctx context.Context, rawToken string) (*model.Client, error) {
	if err := m.tokens.VerifyRefreshSignature(rawToken); err != nil {
		return nil, &store.UnauthorizedError{Reason: "invalid refresh token"}
	}
	jti, err := token.ParseRefreshTokenUnverified(rawToken)
	if err != nil {
		return nil, &store.UnauthorizedError{Reason: "refresh token missing jti"}
	}

	rec, err := m.store.GetRefreshToken(ctx, jti)
	if err != nil {
		return nil, &store.UnauthorizedError{Reason: "unknown refresh token"}
	}
	if rec.Revoked || time.Now().After(rec.ExpiresAt) {
		return nil, &store.UnauthorizedError{Reason: "refresh token revoked or expired"}
	}
	if token.HashRefreshToken(rawToken) != rec.HashedToken {
		return nil, &store.UnauthorizedError{Reason: "refresh token hash mismatch"}
	}

	user, err := m.store.GetUser(ctx, rec.UserID)
	if err != nil {
		return nil, fmt.Errorf("auth: loading user for refresh token: %w", err)
	}

	return &model.Client{
		User:         user,
		RefreshToken: rawToken,
		OpenedAt:     time.Now(),
	}, nil
}

// ValidateAccessToken implements validate_access_token: the session-table
// lookup plus the token's own signature/expiry check.
func (m *Manager) ValidateAccessToken(sessionUUID uuid.UUID, rawAccessToken string) bool {
	client := m.sessions.GetClient(sessionUUID)
	if client == nil || !client.IsAuthenticated() || client.AccessToken != rawAccessToken {
		return false
	}
	_, err := m.tokens.ParseAccessToken(rawAccessToken)
	return err == nil
}

// bindAndPromote mints fresh access and refresh tokens for user, persists
// the refresh token record, binds user onto client, and promotes the
// session. Shared by RegisterUser and LoginUser.
func (m *Manager) bindAndPromote(ctx context.Context, client *model.Client, user *model.User) (accessToken, rawRefreshToken string, err error) {
	refresh, err := m.tokens.MintRefreshToken(user.ID, "", "")
	if err != nil {
		return "", "", fmt.Errorf("auth: minting refresh token: %w", err)
	}
	if err := m.store.CreateRefreshToken(ctx, refresh.Record); err != nil {
		return "", "", fmt.Errorf("auth: persisting refresh token: %w", err)
	}

	access, err := m.tokens.MintAccessToken(user, client.SessionUUID)
	if err != nil {
		return "", "", fmt.Errorf("auth: minting access token: %w", err)
	}

	client.User = user
	client.AccessToken = access
	client.RefreshToken = refresh.Token
	m.sessions.PromoteSession(client)

	return access, refresh.Token, nil
}
