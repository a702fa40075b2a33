package dispatch

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/chirino/vaulthalla/internal/model"
	"github.com/chirino/vaulthalla/internal/permission"
	"github.com/chirino/vaulthalla/internal/registry/store"
	"github.com/chirino/vaulthalla/internal/storage"
)

// vaultContext resolves the (Snapshot, Engine) pair a vault.* or sync.*
// handler needs: the StorageEngine.Put/Get/etc methods already enforce
// permission.Evaluate internally given the Snapshot, so handlers never
// check capabilities themselves.
func (d *Dispatcher) vaultContext(ctx context.Context, client *model.Client, vaultID uuid.UUID) (permission.Snapshot, *storage.Engine, error) {
	snap, err := buildSnapshot(ctx, d.Store, client.User.ID, vaultID)
	if err != nil {
		return permission.Snapshot{}, nil, err
	}
	engine, err := d.Engines.StorageEngine(ctx, vaultID)
	if err != nil {
		return permission.Snapshot{}, nil, err
	}
	return snap, engine, nil
}

func badPayload(field string) error {
	return &store.ValidationError{Field: field, Message: "malformed or missing payload field"}
}

type vaultGetPayload struct {
	VaultID uuid.UUID `json:"vaultId"`
	Path    string    `json:"path"`
}

func handleVaultGet(ctx context.Context, d *Dispatcher, client *model.Client, req Request) (any, error) {
	var p vaultGetPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil || p.VaultID == uuid.Nil {
		return nil, badPayload("vaultId")
	}
	snap, engine, err := d.vaultContext(ctx, client, p.VaultID)
	if err != nil {
		return nil, err
	}
	plaintext, err := engine.Get(ctx, snap, p.Path)
	if err != nil {
		return nil, err
	}
	return map[string]string{"content": base64.StdEncoding.EncodeToString(plaintext)}, nil
}

type vaultPutPayload struct {
	VaultID uuid.UUID `json:"vaultId"`
	Path    string    `json:"path"`
	Content string    `json:"content"`
}

func handleVaultPut(ctx context.Context, d *Dispatcher, client *model.Client, req Request) (any, error) {
	var p vaultPutPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil || p.VaultID == uuid.Nil {
		return nil, badPayload("vaultId")
	}
	plaintext, err := base64.StdEncoding.DecodeString(p.Content)
	if err != nil {
		return nil, &store.ValidationError{Field: "content", Message: "not valid base64"}
	}
	snap, engine, err := d.vaultContext(ctx, client, p.VaultID)
	if err != nil {
		return nil, err
	}
	return engine.Put(ctx, snap, client.User.ID, p.Path, plaintext)
}

type vaultListPayload struct {
	VaultID   uuid.UUID `json:"vaultId"`
	Path      string    `json:"path"`
	Recursive bool      `json:"recursive"`
}

func handleVaultList(ctx context.Context, d *Dispatcher, client *model.Client, req Request) (any, error) {
	var p vaultListPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil || p.VaultID == uuid.Nil {
		return nil, badPayload("vaultId")
	}
	snap, engine, err := d.vaultContext(ctx, client, p.VaultID)
	if err != nil {
		return nil, err
	}
	return engine.List(ctx, snap, p.Path, p.Recursive)
}

type vaultPathPayload struct {
	VaultID uuid.UUID `json:"vaultId"`
	Path    string    `json:"path"`
}

func handleVaultRemove(ctx context.Context, d *Dispatcher, client *model.Client, req Request) (any, error) {
	var p vaultPathPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil || p.VaultID == uuid.Nil {
		return nil, badPayload("vaultId")
	}
	snap, engine, err := d.vaultContext(ctx, client, p.VaultID)
	if err != nil {
		return nil, err
	}
	return nil, engine.Remove(ctx, snap, client.User.ID, p.Path)
}

func handleVaultMkdir(ctx context.Context, d *Dispatcher, client *model.Client, req Request) (any, error) {
	var p vaultPathPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil || p.VaultID == uuid.Nil {
		return nil, badPayload("vaultId")
	}
	snap, engine, err := d.vaultContext(ctx, client, p.VaultID)
	if err != nil {
		return nil, err
	}
	return engine.Mkdir(ctx, snap, client.User.ID, p.Path)
}

type vaultMovePayload struct {
	VaultID uuid.UUID `json:"vaultId"`
	Src     string    `json:"src"`
	Dst     string    `json:"dst"`
}

func handleVaultMove(ctx context.Context, d *Dispatcher, client *model.Client, req Request) (any, error) {
	var p vaultMovePayload
	if err := json.Unmarshal(req.Payload, &p); err != nil || p.VaultID == uuid.Nil {
		return nil, badPayload("vaultId")
	}
	snap, engine, err := d.vaultContext(ctx, client, p.VaultID)
	if err != nil {
		return nil, err
	}
	return nil, engine.Move(ctx, snap, client.User.ID, p.Src, p.Dst)
}

func handleVaultCopy(ctx context.Context, d *Dispatcher, client *model.Client, req Request) (any, error) {
	var p vaultMovePayload
	if err := json.Unmarshal(req.Payload, &p); err != nil || p.VaultID == uuid.Nil {
		return nil, badPayload("vaultId")
	}
	snap, engine, err := d.vaultContext(ctx, client, p.VaultID)
	if err != nil {
		return nil, err
	}
	return engine.Copy(ctx, snap, client.User.ID, p.Src, p.Dst)
}

type vaultRenamePayload struct {
	VaultID uuid.UUID `json:"vaultId"`
	Path    string    `json:"path"`
	NewName string    `json:"newName"`
}

func handleVaultRename(ctx context.Context, d *Dispatcher, client *model.Client, req Request) (any, error) {
	var p vaultRenamePayload
	if err := json.Unmarshal(req.Payload, &p); err != nil || p.VaultID == uuid.Nil {
		return nil, badPayload("vaultId")
	}
	snap, engine, err := d.vaultContext(ctx, client, p.VaultID)
	if err != nil {
		return nil, err
	}
	return nil, engine.Rename(ctx, snap, client.User.ID, p.Path, p.NewName)
}

type vaultIDPayload struct {
	VaultID uuid.UUID `json:"vaultId"`
}

func handleSyncRun(_ context.Context, d *Dispatcher, _ *model.Client, req Request) (any, error) {
	var p vaultIDPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil || p.VaultID == uuid.Nil {
		return nil, badPayload("vaultId")
	}
	return nil, d.Sync.RunNow(p.VaultID)
}

func handleSyncInterrupt(_ context.Context, d *Dispatcher, _ *model.Client, req Request) (any, error) {
	var p vaultIDPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil || p.VaultID == uuid.Nil {
		return nil, badPayload("vaultId")
	}
	return nil, d.Sync.InterruptTask(p.VaultID)
}

type waiverAuthorizePayload struct {
	VaultID    uuid.UUID `json:"vaultId"`
	Desired    bool      `json:"desired"`
	WaiverText string    `json:"waiverText"`
}

// handleWaiverAuthorize gates and performs the encrypt_upstream flip in
// one command: the gate records consent (if the bucket is non-empty and
// waiverText is supplied), then the vault row is updated to desired.
func handleWaiverAuthorize(ctx context.Context, d *Dispatcher, client *model.Client, req Request) (any, error) {
	var p waiverAuthorizePayload
	if err := json.Unmarshal(req.Payload, &p); err != nil || p.VaultID == uuid.Nil {
		return nil, badPayload("vaultId")
	}
	snap, err := buildSnapshot(ctx, d.Store, client.User.ID, p.VaultID)
	if err != nil {
		return nil, err
	}
	if !permission.Evaluate(snap, model.CapManageVaults, "") {
		return nil, &store.ForbiddenError{Reason: "encrypt_upstream changes require manage_vaults"}
	}
	vault, err := d.Store.GetVault(ctx, p.VaultID)
	if err != nil {
		return nil, err
	}
	if err := d.Waivers.Authorize(ctx, vault, client.User.ID, vault.APIKeyID, p.Desired, p.WaiverText, nil); err != nil {
		return nil, err
	}
	vault.EncryptUpstream = p.Desired
	return vault, d.Store.UpdateVault(ctx, vault)
}
