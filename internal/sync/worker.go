package sync

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/chirino/vaulthalla/internal/crypto"
	"github.com/chirino/vaulthalla/internal/model"
	"github.com/chirino/vaulthalla/internal/permission"
	"github.com/chirino/vaulthalla/internal/registry/store"
	"github.com/chirino/vaulthalla/internal/storage"
)

// workerDeps bundles what both worker algorithms need out of one tick's
// Controller.runWorker call, so local_worker.go/s3_worker.go don't each
// carry their own long parameter list.
type workerDeps struct {
	store  store.Store
	engine *storage.Engine
	enc    *crypto.Manager
}

// errSuspended is returned by a worker when its conflict policy is Ask and
// a conflict needing a human decision was found; the task's SyncEvent
// records OutcomeSuspended rather than OutcomeFailed.
var errSuspended = errors.New("sync: suspended pending conflict resolution")

// errInterrupted is returned when a worker observes LocalTask.Interrupt set
// between files and yields the walk early.
var errInterrupted = errors.New("sync: interrupted")

// systemActor is the UUID recorded as CreatedBy/LastModifiedBy for FSEntry
// mutations the sync controller itself makes (key-rotation re-encryption),
// distinguishing them in an audit trail from any real user's actions.
var systemActor = uuid.Nil

// systemSnapshot authorizes as CapSuperAdmin: the sync controller acts on
// behalf of the daemon, not any one user's role or vault assignment.
func systemSnapshot() permission.Snapshot {
	return permission.Snapshot{UserRole: model.CapSuperAdmin}
}

// rotateIfNeeded re-encrypts every file FSEntry still stamped with the
// superseded key version, then finishes the rotation once none remain.
// Shared by both worker algorithms since it only touches the Engine/FSEntry
// layer, not the backend-specific diff logic. Returns errInterrupted if
// task.Interrupt is set mid-walk.
func rotateIfNeeded(ctx context.Context, deps workerDeps, task *LocalTask) error {
	if !deps.enc.RotationInProgress() {
		var notFound *store.NotFoundError
		syncRow, err := deps.store.GetSync(ctx, task.VaultID)
		if err != nil {
			if errors.As(err, &notFound) {
				return nil
			}
			return err
		}
		if !syncRow.RotationPending {
			return nil
		}
		if err := deps.enc.PrepareKeyRotation(ctx); err != nil {
			return err
		}
	}
	entries, err := deps.store.ListAllFSEntries(ctx, task.VaultID)
	if err != nil {
		return err
	}
	current := deps.enc.Version()
	for _, entry := range entries {
		if entry.IsDir || entry.EncryptedWithKeyVersion == current {
			continue
		}
		if task.Interrupt.Load() {
			return errInterrupted
		}
		plaintext, err := deps.engine.Get(ctx, systemSnapshot(), entry.Path)
		if err != nil {
			return err
		}
		if _, err := deps.engine.Put(ctx, systemSnapshot(), systemActor, entry.Path, plaintext); err != nil {
			return err
		}
	}
	// Every stale entry above got re-encrypted or the loop returned early;
	// reaching here means none remain, so the rotation is done.
	return deps.enc.FinishKeyRotation(ctx)
}
