package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chirino/vaulthalla/internal/model"
	"github.com/chirino/vaulthalla/internal/registry/store"
)

type registerPayload struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func handleRegister(ctx context.Context, d *Dispatcher, _ *model.Client, req Request) (any, error) {
	var p registerPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return nil, &store.ValidationError{Field: "payload", Message: "malformed auth.register payload"}
	}
	client := &model.Client{SessionUUID: uuid.New(), OpenedAt: time.Now()}
	access, refresh, err := d.Auth.RegisterUser(ctx, client, p.Name, p.Email, p.Password)
	if err != nil {
		return nil, err
	}
	return tokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

type loginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func handleLogin(ctx context.Context, d *Dispatcher, _ *model.Client, req Request) (any, error) {
	var p loginPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return nil, &store.ValidationError{Field: "payload", Message: "malformed auth.login payload"}
	}
	client := &model.Client{SessionUUID: uuid.New(), OpenedAt: time.Now()}
	access, refresh, err := d.Auth.LoginUser(ctx, client, p.Email, p.Password)
	if err != nil {
		return nil, err
	}
	return tokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

type refreshPayload struct {
	RefreshToken string `json:"refreshToken"`
}

// handleRefresh rehydrates a new session from a refresh token, minting a
// fresh access token bound to a fresh session uuid. This is the one
// auth.* command whose success is meaningful to check beyond "no error":
// RehydrateOrCreateClient falls back to a silent unauthenticated session
// on a bad refresh token rather than returning an error, since that is
// also its "establish a brand new session" contract.
func handleRefresh(ctx context.Context, d *Dispatcher, _ *model.Client, req Request) (any, error) {
	var p refreshPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return nil, &store.ValidationError{Field: "payload", Message: "malformed auth.refresh payload"}
	}
	client, raw, err := d.Auth.RehydrateOrCreateClient(ctx, uuid.New(), p.RefreshToken)
	if err != nil {
		return nil, err
	}
	if !client.IsAuthenticated() {
		return nil, &store.UnauthorizedError{Reason: "invalid or expired refresh token"}
	}
	return tokenPair{AccessToken: client.AccessToken, RefreshToken: raw}, nil
}

// handleLogout is in the auth.* family (exempt from the dispatcher's
// blanket token gate) but still needs an identity to invalidate, so it
// authenticates off req.Token itself.
func handleLogout(ctx context.Context, d *Dispatcher, _ *model.Client, req Request) (any, error) {
	client, err := d.authenticate(req.Token)
	if err != nil {
		return nil, err
	}
	return nil, d.Sessions.Invalidate(ctx, client.SessionUUID)
}

type changePasswordPayload struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

func handleChangePassword(ctx context.Context, d *Dispatcher, _ *model.Client, req Request) (any, error) {
	client, err := d.authenticate(req.Token)
	if err != nil {
		return nil, err
	}
	var p changePasswordPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return nil, &store.ValidationError{Field: "payload", Message: "malformed auth.changePassword payload"}
	}
	if !client.IsAuthenticated() {
		return nil, fmt.Errorf("dispatch: authenticated client has no user bound")
	}
	return nil, d.Auth.ChangePassword(ctx, client.User.Email, p.OldPassword, p.NewPassword)
}
