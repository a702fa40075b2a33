// Package sync implements SyncController: globally fair, preemptible
// scheduling of per-vault background reconciliation between the FSEntry
// metadata tree and whatever a vault's VaultBackend actually holds.
package sync

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/chirino/vaulthalla/internal/crypto"
	"github.com/chirino/vaulthalla/internal/metrics"
	"github.com/chirino/vaulthalla/internal/model"
	"github.com/chirino/vaulthalla/internal/registry/store"
	"github.com/chirino/vaulthalla/internal/storage"
)

// EngineProvider is the slice of Runtime the controller needs: building a
// vault's StorageEngine and reaching its crypto.Manager to check rotation
// state. A narrow interface instead of the concrete *runtime.Runtime type
// so this package never imports runtime (runtime imports this package).
type EngineProvider interface {
	StorageEngine(ctx context.Context, vaultID uuid.UUID) (*storage.Engine, error)
	EncryptionManager(ctx context.Context, vaultID uuid.UUID) (*crypto.Manager, error)
}

// transientCooldown is how long a task backs off after a worker hits a
// transient failure, before it becomes eligible again.
const transientCooldown = 2 * time.Minute

// Controller is the SyncController: one dedicated goroutine runs its main
// loop, dispatching to a bounded pool of per-vault worker goroutines.
type Controller struct {
	store   store.Store
	engines EngineProvider

	tickInterval time.Duration
	sem          chan struct{}
	nudge        chan struct{}

	pqMu stdsync.Mutex
	pq   taskQueue

	taskMapMu stdsync.RWMutex
	taskMap   map[uuid.UUID]*LocalTask
}

// New builds a Controller. tickInterval governs how often the main loop
// re-evaluates the queue absent a manual nudge; poolSize bounds concurrent
// per-vault workers.
func New(st store.Store, engines EngineProvider, tickInterval time.Duration, poolSize int) *Controller {
	if poolSize < 1 {
		poolSize = 1
	}
	return &Controller{
		store:        st,
		engines:      engines,
		tickInterval: tickInterval,
		sem:          make(chan struct{}, poolSize),
		nudge:        make(chan struct{}, 1),
		taskMap:      make(map[uuid.UUID]*LocalTask),
	}
}

// Run is the main loop. It returns when ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx)
		case <-c.nudge:
			c.tick(ctx)
		}
	}
}

// tick is one pass of the main loop: refresh_engines, then dispatch every
// eligible task the worker pool has room for.
func (c *Controller) tick(ctx context.Context) {
	c.refreshEngines(ctx)
	c.dispatchReady(ctx)
}

// refreshEngines snapshots the active vault set and reconciles it against
// task_map: new vaults get a task and are pushed onto pq; vaults that went
// inactive (or were deleted) have their task dropped.
func (c *Controller) refreshEngines(ctx context.Context) {
	vaults, err := c.store.ListVaults(ctx, nil)
	if err != nil {
		log.Error("sync: listing vaults failed", "err", err)
		return
	}
	active := make(map[uuid.UUID]*model.Vault, len(vaults))
	for i := range vaults {
		if vaults[i].IsActive {
			active[vaults[i].ID] = &vaults[i]
		}
	}

	c.taskMapMu.Lock()
	defer c.taskMapMu.Unlock()

	for id, v := range active {
		if _, ok := c.taskMap[id]; ok {
			continue
		}
		task, err := c.buildTask(ctx, v)
		if err != nil {
			log.Error("sync: building task for vault failed", "vault", id, "err", err)
			continue
		}
		c.taskMap[id] = task
		c.pqMu.Lock()
		heap.Push(&c.pq, task)
		c.pqMu.Unlock()
		log.Info("sync: scheduled new vault task", "vault", id, "type", v.Type)
	}

	for id, task := range c.taskMap {
		if _, ok := active[id]; ok {
			continue
		}
		delete(c.taskMap, id)
		if task.running {
			// the running worker will simply have nowhere to re-enqueue
			// itself on completion (see runTask) — nothing further to do.
			continue
		}
		c.pqMu.Lock()
		if task.index >= 0 {
			heap.Remove(&c.pq, task.index)
		}
		c.pqMu.Unlock()
		log.Info("sync: dropped vault task", "vault", id)
	}
}

func (c *Controller) buildTask(ctx context.Context, v *model.Vault) (*LocalTask, error) {
	var notFound *store.NotFoundError

	syncRow, err := c.store.GetSync(ctx, v.ID)
	if err != nil {
		if !errors.As(err, &notFound) {
			return nil, err
		}
		syncRow = &model.Sync{VaultID: v.ID}
	}

	interval := defaultInterval
	switch v.Type {
	case model.VaultTypeLocal:
		if fs, err := c.store.GetFSync(ctx, v.ID); err == nil {
			interval = fs.Interval
		} else if !errors.As(err, &notFound) {
			return nil, err
		}
	case model.VaultTypeS3:
		if rs, err := c.store.GetRSync(ctx, v.ID); err == nil {
			interval = rs.Interval
		} else if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	return &LocalTask{
		VaultID:       v.ID,
		VaultType:     v.Type,
		Interval:      interval,
		LastSuccessAt: syncRow.LastSuccessAt,
		ManualTrigger: syncRow.ManualTrigger,
		index:         -1,
	}, nil
}

// dispatchReady pops as many eligible tasks as the worker pool has free
// slots for, in priority order, and runs each in its own goroutine.
// Overflow tasks — eligible but no slot free — remain in pq untouched.
func (c *Controller) dispatchReady(ctx context.Context) {
	now := time.Now()

	c.pqMu.Lock()
	for _, t := range c.pq {
		t.cachedPriority = t.priority(now)
	}
	heap.Init(&c.pq)

	var ready []*LocalTask
loop:
	for len(c.pq) > 0 {
		select {
		case c.sem <- struct{}{}:
		default:
			break loop
		}
		if !c.pq[0].eligible(now) {
			<-c.sem
			break loop
		}
		task := heap.Pop(&c.pq).(*LocalTask)
		task.running = true
		ready = append(ready, task)
	}
	c.pqMu.Unlock()

	for _, t := range ready {
		go c.runTask(ctx, t)
	}
}

// runTask executes one vault's worker algorithm, records a SyncEvent, and
// re-enqueues the task with updated priority.
func (c *Controller) runTask(ctx context.Context, task *LocalTask) {
	defer func() { <-c.sem }()

	trigger := model.TriggerSchedule
	if task.ManualTrigger {
		trigger = model.TriggerManual
	}
	event := &model.SyncEvent{
		ID:        uuid.New(),
		VaultID:   task.VaultID,
		Trigger:   trigger,
		StartedAt: time.Now(),
	}
	if err := c.store.CreateSyncEvent(ctx, event); err != nil {
		log.Error("sync: recording sync event start failed", "vault", task.VaultID, "err", err)
	}

	err := c.runWorker(ctx, task)
	interrupted := errors.Is(err, errInterrupted)
	suspended := errors.Is(err, errSuspended)

	now := time.Now()
	outcome := model.OutcomeSuccess
	errMsg := ""
	switch {
	case suspended:
		outcome = model.OutcomeSuspended
	case err != nil:
		outcome = model.OutcomeFailed
		errMsg = err.Error()
	}
	if fErr := c.store.FinishSyncEvent(ctx, event.ID, outcome, errMsg); fErr != nil {
		log.Error("sync: recording sync event finish failed", "vault", task.VaultID, "err", fErr)
	}
	metrics.RecordSyncEvent(string(outcome))

	c.taskMapMu.Lock()
	task.running = false
	task.ManualTrigger = false
	task.Interrupt.Store(false)
	switch {
	case err == nil:
		task.LastSuccessAt = &now
		task.CooldownUntil = time.Time{}
	case interrupted:
		// picked up again next tick at normal priority, no penalty.
	default:
		task.CooldownUntil = now.Add(transientCooldown)
	}
	still := c.taskMap[task.VaultID] == task
	c.taskMapMu.Unlock()

	if !still {
		// vault went inactive while this task was running; drop it.
		return
	}
	// Preserve whatever RotationPending currently holds — rotateIfNeeded
	// (inside runWorker, already committed) may have just changed it via
	// a direct column update, and a blind Save here would stomp that.
	rotationPending := false
	if current, err := c.store.GetSync(ctx, task.VaultID); err == nil {
		rotationPending = current.RotationPending
	}
	_ = c.store.UpsertSync(ctx, &model.Sync{
		VaultID:         task.VaultID,
		LastSuccessAt:   task.LastSuccessAt,
		ManualTrigger:   false,
		RotationPending: rotationPending,
	})

	c.pqMu.Lock()
	heap.Push(&c.pq, task)
	c.pqMu.Unlock()
}

func (c *Controller) runWorker(ctx context.Context, task *LocalTask) error {
	engine, err := c.engines.StorageEngine(ctx, task.VaultID)
	if err != nil {
		return fmt.Errorf("sync: building engine for vault %s: %w", task.VaultID, err)
	}
	enc, err := c.engines.EncryptionManager(ctx, task.VaultID)
	if err != nil {
		return fmt.Errorf("sync: loading encryption manager for vault %s: %w", task.VaultID, err)
	}

	deps := workerDeps{store: c.store, engine: engine, enc: enc}

	switch task.VaultType {
	case model.VaultTypeLocal:
		policy := model.ConflictOverwrite
		if fs, err := c.store.GetFSync(ctx, task.VaultID); err == nil {
			policy = fs.ConflictPolicy
		}
		return runLocalWorker(ctx, deps, task, policy)
	case model.VaultTypeS3:
		strategy := model.StrategyCache
		policy := model.ConflictKeepRemote
		if rs, err := c.store.GetRSync(ctx, task.VaultID); err == nil {
			strategy, policy = rs.Strategy, rs.ConflictPolicy
		}
		return runS3Worker(ctx, deps, task, strategy, policy)
	default:
		return fmt.Errorf("sync: unknown vault type %q", task.VaultType)
	}
}

// RunNow marks vaultID's task as manually triggered and nudges the
// scheduler so it doesn't wait for the next tick.
func (c *Controller) RunNow(vaultID uuid.UUID) error {
	c.taskMapMu.Lock()
	task, ok := c.taskMap[vaultID]
	if ok {
		task.ManualTrigger = true
	}
	c.taskMapMu.Unlock()
	if !ok {
		return fmt.Errorf("sync: vault %s has no scheduled task", vaultID)
	}
	select {
	case c.nudge <- struct{}{}:
	default:
	}
	return nil
}

// InterruptTask sets vaultID's cooperative-cancellation flag. A running
// worker observes it between files and yields without finishing the walk;
// the task is then immediately eligible to run again.
func (c *Controller) InterruptTask(vaultID uuid.UUID) error {
	c.taskMapMu.RLock()
	task, ok := c.taskMap[vaultID]
	c.taskMapMu.RUnlock()
	if !ok {
		return fmt.Errorf("sync: vault %s has no scheduled task", vaultID)
	}
	task.Interrupt.Store(true)
	return nil
}

// Requeue pushes vaultID's task back with a cooldown, for a worker that hit
// a transient failure it wants to retry later rather than immediately.
func (c *Controller) Requeue(vaultID uuid.UUID, cooldown time.Duration) {
	c.taskMapMu.RLock()
	task, ok := c.taskMap[vaultID]
	c.taskMapMu.RUnlock()
	if !ok {
		return
	}
	task.CooldownUntil = time.Now().Add(cooldown)
}
