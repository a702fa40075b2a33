package sync

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/chirino/vaulthalla/internal/model"
)

// runLocalWorker reconciles a Local vault's FSEntry tree against what its
// VaultBackend actually holds. There is no second, independently-writable
// mirror for a Local vault — the "three-way diff" spec.md describes against
// a backing store is this consistency check: any backend key with no
// referencing FSEntry is drift (written or left behind outside the normal
// Put/Remove path, e.g. directly on the mount point); any FSEntry whose
// alias the backend no longer has is corruption.
func runLocalWorker(ctx context.Context, deps workerDeps, task *LocalTask, policy model.ConflictPolicy) error {
	entries, err := deps.store.ListAllFSEntries(ctx, task.VaultID)
	if err != nil {
		return fmt.Errorf("listing fsentries: %w", err)
	}
	backendKeys, err := deps.engine.Backend().List(ctx)
	if err != nil {
		return fmt.Errorf("listing backend keys: %w", err)
	}

	known := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if !e.IsDir {
			known[e.Base32Alias] = struct{}{}
		}
	}
	present := make(map[string]struct{}, len(backendKeys))
	for _, k := range backendKeys {
		present[k] = struct{}{}
	}

	var orphans []string
	for _, k := range backendKeys {
		if _, ok := known[k]; !ok {
			orphans = append(orphans, k)
		}
	}
	var missing []string
	for alias := range known {
		if _, ok := present[alias]; !ok {
			missing = append(missing, alias)
		}
	}

	if len(missing) > 0 {
		log.Error("sync: local worker found fsentries with no backing object", "vault", task.VaultID, "count", len(missing))
	}

	if len(orphans) > 0 {
		if task.Interrupt.Load() {
			return errInterrupted
		}
		switch policy {
		case model.ConflictAsk:
			log.Warn("sync: local worker suspended on orphan backend objects", "vault", task.VaultID, "count", len(orphans))
			return errSuspended
		case model.ConflictKeepBoth:
			log.Info("sync: local worker left orphan backend objects in place", "vault", task.VaultID, "count", len(orphans))
		default: // Overwrite: the FSEntry tree is authoritative, drop the drift
			for _, key := range orphans {
				if task.Interrupt.Load() {
					return errInterrupted
				}
				if err := deps.engine.Backend().Remove(ctx, key); err != nil {
					log.Error("sync: local worker failed removing orphan object", "vault", task.VaultID, "key", key, "err", err)
				}
			}
			log.Info("sync: local worker removed orphan backend objects", "vault", task.VaultID, "count", len(orphans))
		}
	}

	if err := rotateIfNeeded(ctx, deps, task); err != nil {
		return err
	}

	if len(missing) > 0 {
		return fmt.Errorf("local worker: %d fsentries reference missing backend objects", len(missing))
	}
	return nil
}
