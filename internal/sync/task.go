package sync

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/chirino/vaulthalla/internal/model"
)

// defaultInterval is used when a vault has no FSync/RSync row yet (the
// owner hasn't configured a sync policy, but the vault still needs a
// task so a later policy write takes effect without a daemon restart).
const defaultInterval = 5 * time.Minute

// LocalTask is the SyncController's scheduling unit: one per active vault.
// Despite the name (kept from spec.md's naming of the struct, which predates
// the Local/S3 engine split) it schedules both vault types; VaultType picks
// which worker algorithm runs it.
type LocalTask struct {
	VaultID   uuid.UUID
	VaultType model.VaultType
	Interval  time.Duration

	LastSuccessAt *time.Time
	ManualTrigger bool
	CooldownUntil time.Time

	// Interrupt is set by InterruptTask; the worker checks it between
	// files and yields the current task without finishing the walk.
	Interrupt atomic.Bool

	running bool
	// cachedPriority is priority(now) as of the start of the current
	// tick, set once per tick before the heap is reordered — priority()
	// is a pure function of wall-clock time, which container/heap's
	// comparisons must not re-evaluate mid-sort.
	cachedPriority float64
	// index is container/heap's bookkeeping slot, required for
	// heap.Remove and heap.Fix. -1 when the task is not currently in the queue.
	index int
}

// priority implements spec.md's ordering: manual triggers first, then
// longest-overdue by (time_since_last_success - configured_interval).
func (t *LocalTask) priority(now time.Time) float64 {
	if t.ManualTrigger {
		return math.Inf(1)
	}
	if t.LastSuccessAt == nil {
		return math.MaxFloat64 / 2
	}
	return now.Sub(*t.LastSuccessAt).Seconds() - t.Interval.Seconds()
}

// eligible reports whether t is ready to dispatch right now: not already
// running, past any requeue cooldown, and either manually triggered or
// overdue by its configured interval.
func (t *LocalTask) eligible(now time.Time) bool {
	if t.running {
		return false
	}
	if now.Before(t.CooldownUntil) {
		return false
	}
	if t.ManualTrigger {
		return true
	}
	if t.LastSuccessAt == nil {
		return true
	}
	return now.Sub(*t.LastSuccessAt) >= t.Interval
}
