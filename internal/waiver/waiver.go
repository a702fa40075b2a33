// Package waiver gates the one operation spec.md calls out as needing
// explicit, recorded consent: flipping a vault's EncryptUpstream flag
// when the bucket behind it already holds objects written under the old
// setting. The flip itself is an ordinary vault update; this package only
// decides whether that update may proceed and, when it may, leaves an
// append-only Waiver row behind as the audit trail.
package waiver

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chirino/vaulthalla/internal/model"
	"github.com/chirino/vaulthalla/internal/registry/store"
	"github.com/chirino/vaulthalla/internal/storage"
)

// EngineProvider is the slice of Runtime the gate needs: building a
// vault's StorageEngine to check whether its bucket already holds
// objects. A narrow interface, not *runtime.Runtime, for the same
// import-cycle reason internal/sync and internal/janitor define their own.
type EngineProvider interface {
	StorageEngine(ctx context.Context, vaultID uuid.UUID) (*storage.Engine, error)
}

// Gate authorizes encrypt_upstream flips.
type Gate struct {
	store   store.Store
	engines EngineProvider
}

// New builds a Gate.
func New(st store.Store, engines EngineProvider) *Gate {
	return &Gate{store: st, engines: engines}
}

// Authorize checks whether vault's EncryptUpstream may be changed to
// desired. A no-op flip always succeeds. A flip on an empty bucket always
// succeeds, nothing destructive happens to data that doesn't exist yet. A
// flip on a non-empty bucket requires a non-empty waiverText; on success
// it persists the Waiver row recording who consented and under what
// override, then the caller is clear to perform the flip.
func (g *Gate) Authorize(ctx context.Context, vault *model.Vault, actorID uuid.UUID, apiKeyID *uuid.UUID, desired bool, waiverText string, overridingRole *uuid.UUID) error {
	if vault.EncryptUpstream == desired {
		return nil
	}

	empty, err := g.bucketEmpty(ctx, vault.ID)
	if err != nil {
		return fmt.Errorf("waiver: checking bucket contents: %w", err)
	}
	if empty {
		return nil
	}

	if waiverText == "" {
		return &store.ValidationError{
			Field:   "waiverText",
			Message: "required to flip encrypt_upstream on a non-empty bucket",
		}
	}

	return g.store.CreateWaiver(ctx, &model.Waiver{
		ID:              uuid.New(),
		VaultID:         vault.ID,
		UserID:          actorID,
		APIKeyID:        apiKeyID,
		EncryptUpstream: desired,
		WaiverText:      waiverText,
		OverridingRole:  overridingRole,
		CreatedAt:       time.Now(),
	})
}

func (g *Gate) bucketEmpty(ctx context.Context, vaultID uuid.UUID) (bool, error) {
	engine, err := g.engines.StorageEngine(ctx, vaultID)
	if err != nil {
		return false, err
	}
	keys, err := engine.Backend().List(ctx)
	if err != nil {
		return false, err
	}
	return len(keys) == 0, nil
}
