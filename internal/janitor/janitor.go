// Package janitor implements TrashJanitor, the background sweeper that
// reclaims TrashedFile rows (and the backing object each references)
// once they have sat past the configured retention window.
package janitor

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/chirino/vaulthalla/internal/metrics"
	"github.com/chirino/vaulthalla/internal/registry/store"
	"github.com/chirino/vaulthalla/internal/storage"
)

// EngineProvider is the slice of Runtime the janitor needs: building a
// vault's StorageEngine to reach its VaultBackend for the actual delete.
// A narrow interface, not *runtime.Runtime, for the same import-cycle
// reason internal/sync defines its own.
type EngineProvider interface {
	StorageEngine(ctx context.Context, vaultID uuid.UUID) (*storage.Engine, error)
}

// TrashJanitor periodically purges TrashedFile rows older than retention,
// removing the underlying backend object before dropping the row.
type TrashJanitor struct {
	store     store.Store
	engines   EngineProvider
	interval  time.Duration
	retention time.Duration
	batchSize int
	delay     time.Duration
}

// New builds a TrashJanitor. interval governs the sweep ticker; retention
// is how long a trashed file survives before it's eligible for purge;
// batchSize and delay throttle one sweep's store/backend load.
func New(st store.Store, engines EngineProvider, interval, retention time.Duration, batchSize int, delay time.Duration) *TrashJanitor {
	return &TrashJanitor{
		store:     st,
		engines:   engines,
		interval:  interval,
		retention: retention,
		batchSize: batchSize,
		delay:     delay,
	}
}

// Run is the janitor's main loop. It returns when ctx is cancelled.
func (j *TrashJanitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep purges every TrashedFile row older than retention, in batches.
// Exported so a caller (or a test) can force one pass without waiting on
// the ticker.
func (j *TrashJanitor) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-j.retention)
	purged := 0
	for {
		batch, err := j.store.ListTrashOlderThan(ctx, cutoff, j.batchSize)
		if err != nil {
			log.Error("janitor: listing trash failed", "err", err)
			return
		}
		if len(batch) == 0 {
			break
		}
		for _, tf := range batch {
			if err := j.purgeOne(ctx, tf.VaultID, tf.ID, tf.BackingPath); err != nil {
				log.Error("janitor: purge failed", "vault", tf.VaultID, "trashed", tf.ID, "err", err)
				continue
			}
			purged++
		}
		if j.delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(j.delay):
			}
		}
	}
	if purged > 0 {
		log.Info("janitor: purged trashed files", "count", purged, "cutoff", cutoff)
	}
}

func (j *TrashJanitor) purgeOne(ctx context.Context, vaultID, trashedID uuid.UUID, backingPath string) error {
	engine, err := j.engines.StorageEngine(ctx, vaultID)
	if err != nil {
		return err
	}
	// Remove already treats a missing backend object as success (it's
	// purging either way), so any error here is a real backend failure.
	if err := engine.Backend().Remove(ctx, backingPath); err != nil {
		return err
	}
	if err := j.store.PurgeTrash(ctx, trashedID); err != nil {
		return err
	}
	metrics.RecordTrashPurge()
	return nil
}
