package sync

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/chirino/vaulthalla/internal/model"
)

// runS3Worker reconciles an S3 vault per its configured RSync.Strategy.
// Writes already go straight to the bucket inline with Put/Get (see
// internal/plugin/storage/s3), so this worker's job is detecting drift
// caused by something touching the bucket outside Vaulthalla — a remote
// object with no referencing FSEntry, or an FSEntry whose alias the bucket
// no longer has — and, for Mirror, enforcing the one-way push it promises.
func runS3Worker(ctx context.Context, deps workerDeps, task *LocalTask, strategy model.SyncStrategy, policy model.ConflictPolicy) error {
	if strategy == model.StrategyCache {
		// Cache strategy pulls on access and pushes local writes only;
		// there is nothing left for a scheduled walk except rotation.
		return rotateIfNeeded(ctx, deps, task)
	}

	entries, err := deps.store.ListAllFSEntries(ctx, task.VaultID)
	if err != nil {
		return fmt.Errorf("listing fsentries: %w", err)
	}
	remoteKeys, err := deps.engine.Backend().List(ctx)
	if err != nil {
		return fmt.Errorf("listing remote objects: %w", err)
	}

	known := make(map[string]string, len(entries)) // alias -> path
	for _, e := range entries {
		if !e.IsDir {
			known[e.Base32Alias] = e.Path
		}
	}
	remote := make(map[string]struct{}, len(remoteKeys))
	for _, k := range remoteKeys {
		remote[k] = struct{}{}
	}

	var remoteOnly []string
	for _, k := range remoteKeys {
		if _, ok := known[k]; !ok {
			remoteOnly = append(remoteOnly, k)
		}
	}
	var localOnly []string
	for alias := range known {
		if _, ok := remote[alias]; !ok {
			localOnly = append(localOnly, alias)
		}
	}

	if strategy == model.StrategyMirror {
		for _, key := range remoteOnly {
			if task.Interrupt.Load() {
				return errInterrupted
			}
			if err := deps.engine.Backend().Remove(ctx, key); err != nil {
				log.Error("sync: mirror worker failed deleting remote-only object", "vault", task.VaultID, "key", key, "err", err)
			}
		}
		if len(remoteOnly) > 0 {
			log.Info("sync: mirror worker deleted remote-only objects", "vault", task.VaultID, "count", len(remoteOnly))
		}
	} else if len(remoteOnly) > 0 {
		switch policy {
		case model.ConflictAsk:
			log.Warn("sync: s3 worker suspended on remote-only objects", "vault", task.VaultID, "count", len(remoteOnly))
			return errSuspended
		case model.ConflictKeepLocal:
			for _, key := range remoteOnly {
				if task.Interrupt.Load() {
					return errInterrupted
				}
				if err := deps.engine.Backend().Remove(ctx, key); err != nil {
					log.Error("sync: s3 worker failed deleting remote-only object", "vault", task.VaultID, "key", key, "err", err)
				}
			}
		default: // KeepRemote: the bucket is authoritative, leave it
			log.Info("sync: s3 worker left remote-only objects in place", "vault", task.VaultID, "count", len(remoteOnly))
		}
	}

	if len(localOnly) > 0 {
		switch policy {
		case model.ConflictAsk:
			log.Warn("sync: s3 worker suspended on local-only entries", "vault", task.VaultID, "count", len(localOnly))
			return errSuspended
		case model.ConflictKeepRemote:
			for _, alias := range localOnly {
				if task.Interrupt.Load() {
					return errInterrupted
				}
				if err := deps.engine.Remove(ctx, systemSnapshot(), systemActor, known[alias]); err != nil {
					log.Error("sync: s3 worker failed trashing local-only entry", "vault", task.VaultID, "path", known[alias], "err", err)
				}
			}
		default: // KeepLocal: re-push from cache, re-establishing the remote object
			for _, alias := range localOnly {
				if task.Interrupt.Load() {
					return errInterrupted
				}
				path := known[alias]
				plaintext, err := deps.engine.Get(ctx, systemSnapshot(), path)
				if err != nil {
					log.Error("sync: s3 worker could not recover local-only entry for re-push", "vault", task.VaultID, "path", path, "err", err)
					continue
				}
				if _, err := deps.engine.Put(ctx, systemSnapshot(), systemActor, path, plaintext); err != nil {
					log.Error("sync: s3 worker failed re-pushing local-only entry", "vault", task.VaultID, "path", path, "err", err)
				}
			}
		}
	}

	return rotateIfNeeded(ctx, deps, task)
}
