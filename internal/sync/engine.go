package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/tandemapp/tandem-go/internal/entity"
	"github.com/tandemapp/tandem-go/internal/remote"
	"golang.org/x/sync/errgroup"
)

// Engine loop defaults, overridable via [engine] config.
const (
	defaultSyncInterval     = 60 * time.Second
	defaultParallelEntities = 4
	defaultBatchSize        = 50
)

// mergeRetryLimit bounds in-cycle rebase attempts per action against
// writers racing the merge. Past the limit the action falls back to the
// normal retry schedule.
const mergeRetryLimit = 2

// Config holds the options for NewEngine. Zero values fall back to the
// defaults above.
type Config struct {
	SyncInterval     time.Duration // periodic cycle cadence while online
	MaxAttempts      int           // retry budget per action
	BackoffBase      time.Duration
	BackoffCap       time.Duration
	ParallelEntities int // concurrent entity chains per cycle
	BatchSize        int // actions pulled per drain round
	Logger           *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.SyncInterval <= 0 {
		c.SyncInterval = defaultSyncInterval
	}

	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}

	if c.BackoffBase <= 0 {
		c.BackoffBase = defaultBackoffBase
	}

	if c.BackoffCap <= 0 {
		c.BackoffCap = defaultBackoffCap
	}

	if c.ParallelEntities <= 0 {
		c.ParallelEntities = defaultParallelEntities
	}

	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}

	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// CycleResult summarizes one completed sync cycle.
type CycleResult struct {
	CycleID   string
	Applied   int // actions settled against the server (dropped actions included)
	Merged    int // applied after an automatic rebase
	Conflicts int // parked for user resolution
	Failed    int // failed this cycle, retryable or terminal
	Duration  time.Duration
	Err       error // store-level error that aborted the cycle, nil otherwise
}

// Engine drains the action log against the remote document service: one
// cycle at a time, entities in parallel, per-entity strictly in order.
type Engine struct {
	store   *Store
	client  DocumentClient
	monitor Connectivity
	cfg     Config
	logger  *slog.Logger

	nowFunc   func() time.Time // injectable for deterministic tests
	randFloat func() float64   // jitter source, injectable likewise

	locks *entityLocks
	hub   *statusHub

	// wake nudges the Run loop to consider a cycle now (monitor flip,
	// queue observer, SIGHUP). Buffer of one: a pending nudge is enough.
	wake chan struct{}

	mu      stdsync.Mutex
	state   EngineState
	cycle   CycleProgress
	running bool
	paused  bool
	waiters []chan CycleResult
}

// NewEngine wires an engine over an open store, a document client, and a
// connectivity source. The engine does not own the store; the caller
// closes it after the engine stops.
func NewEngine(store *Store, client DocumentClient, monitor Connectivity, cfg Config) *Engine {
	cfg.applyDefaults()

	return &Engine{
		store:     store,
		client:    client,
		monitor:   monitor,
		cfg:       cfg,
		logger:    cfg.Logger,
		nowFunc:   time.Now,
		randFloat: rand.Float64,
		locks:     newEntityLocks(),
		hub:       newStatusHub(),
		wake:      make(chan struct{}, 1),
		state:     EngineIdle,
	}
}

// State returns the engine's position in its cycle state machine.
func (e *Engine) State() EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state
}

// Paused reports whether the engine is refusing new cycles.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.paused
}

// SetPaused pauses or resumes cycle starts. A cycle already running is not
// interrupted. Resuming nudges the loop so queued work drains promptly.
func (e *Engine) SetPaused(paused bool) {
	e.mu.Lock()
	changed := e.paused != paused
	e.paused = paused
	e.mu.Unlock()

	if !changed {
		return
	}

	e.logger.Info("sync pause state changed", "paused", paused)
	e.publishStatus(context.Background())

	if !paused {
		e.Kick()
	}
}

// Kick nudges the Run loop to consider starting a cycle now. Nonblocking;
// safe from any goroutine.
func (e *Engine) Kick() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Subscribe registers a status callback and returns its unsubscribe func.
// The callback sees the latest snapshot immediately and every change after.
func (e *Engine) Subscribe(fn func(SyncStatusView)) func() {
	return e.hub.subscribe(fn)
}

// Status computes a fresh status view from the store and engine state.
func (e *Engine) Status(ctx context.Context) (SyncStatusView, error) {
	counts, err := e.store.Counts(ctx, e.cfg.MaxAttempts)
	if err != nil {
		return SyncStatusView{}, fmt.Errorf("sync: computing status: %w", err)
	}

	lastSynced, err := e.store.LastSyncedAt(ctx)
	if err != nil {
		return SyncStatusView{}, fmt.Errorf("sync: computing status: %w", err)
	}

	e.mu.Lock()
	state, cycle, paused := e.state, e.cycle, e.paused
	e.mu.Unlock()

	return Project(counts, state, cycle, e.monitor.Online(), lastSynced, paused), nil
}

// publishStatus pushes a fresh snapshot to subscribers. Failures to read
// the store here only cost a status update, never sync progress.
func (e *Engine) publishStatus(ctx context.Context) {
	view, err := e.Status(ctx)
	if err != nil {
		e.logger.Debug("status snapshot failed", "error", err)
		return
	}

	e.hub.publish(view)
}

// Run is the daemon loop: a periodic timer plus wake nudges, each starting
// a cycle when the engine is idle, unpaused, and online. Returns nil once
// ctx is canceled and any running cycle has finished.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("sync engine starting",
		"sync_interval", e.cfg.SyncInterval.String(),
		"max_attempts", e.cfg.MaxAttempts,
		"parallel_entities", e.cfg.ParallelEntities)

	e.publishStatus(ctx)

	ticker := time.NewTicker(e.cfg.SyncInterval)
	defer ticker.Stop()

	// Work may be waiting from before this process started.
	e.maybeStartCycle()

	for {
		select {
		case <-ctx.Done():
			e.awaitIdle()
			e.logger.Info("sync engine stopped")

			return nil

		case <-ticker.C:
			e.maybeStartCycle()

		case <-e.wake:
			e.maybeStartCycle()
		}
	}
}

// maybeStartCycle starts a cycle unless one is running, the engine is
// paused, or the device looks offline.
func (e *Engine) maybeStartCycle() {
	e.mu.Lock()

	if e.running || e.paused {
		e.mu.Unlock()
		return
	}

	if !e.monitor.Online() {
		e.mu.Unlock()
		e.logger.Debug("skipping sync cycle while offline")

		return
	}

	e.running = true
	e.mu.Unlock()

	go e.runCycle()
}

// awaitIdle blocks until no cycle is running.
func (e *Engine) awaitIdle() {
	e.mu.Lock()

	if !e.running {
		e.mu.Unlock()
		return
	}

	ch := make(chan CycleResult, 1)
	e.waiters = append(e.waiters, ch)
	e.mu.Unlock()

	<-ch
}

// ForceSync starts a cycle immediately, or joins the one already running.
// The returned channel delivers that cycle's result and never blocks the
// caller. Explicit syncs bypass the pause and offline gates: the user
// asked, so the engine tries.
func (e *Engine) ForceSync() <-chan CycleResult {
	ch := make(chan CycleResult, 1)

	e.mu.Lock()
	e.waiters = append(e.waiters, ch)

	if e.running {
		e.mu.Unlock()
		return ch
	}

	e.running = true
	e.mu.Unlock()

	go e.runCycle()

	return ch
}

// SyncOnce runs one cycle (or joins a running one) and waits for it.
func (e *Engine) SyncOnce(ctx context.Context) (CycleResult, error) {
	select {
	case res := <-e.ForceSync():
		return res, res.Err
	case <-ctx.Done():
		return CycleResult{}, ctx.Err()
	}
}

// actionOutcome is what one dispatch did to its action.
type actionOutcome int

const (
	outcomeApplied actionOutcome = iota
	outcomeMerged
	outcomeConflicted
	outcomeFailed
	outcomeSkipped
)

// runCycle drains the queue: repeated NextBatch rounds until empty, each
// round's actions applied in parallel across entities. The caller has
// already claimed the running flag.
//
// The cycle runs on a background context: daemon shutdown stops new
// rounds via awaitIdle, and an action mid-write always completes (the
// client's per-attempt timeout bounds the wait) so its outcome is
// recorded rather than lost.
func (e *Engine) runCycle() {
	ctx := context.Background()
	start := e.nowFunc()
	res := CycleResult{CycleID: uuid.NewString()}

	e.setCycleState(EngineDraining, CycleProgress{})
	e.logger.Info("sync cycle starting", "cycle_id", res.CycleID)

	var resMu stdsync.Mutex

	for {
		batch, err := e.store.NextBatch(ctx, e.cfg.BatchSize, e.cfg.MaxAttempts)
		if err != nil {
			res.Err = err
			break
		}

		if len(batch) == 0 {
			break
		}

		e.mu.Lock()
		e.cycle.Total += len(batch)

		if e.state == EngineDraining {
			e.state = EngineApplying
		}
		e.mu.Unlock()
		e.publishStatus(ctx)

		var g errgroup.Group
		g.SetLimit(e.cfg.ParallelEntities)

		for _, action := range batch {
			g.Go(func() error {
				outcome, err := e.safeApply(ctx, action)

				resMu.Lock()
				switch outcome {
				case outcomeApplied:
					res.Applied++
				case outcomeMerged:
					res.Applied++
					res.Merged++
				case outcomeConflicted:
					res.Conflicts++
				case outcomeFailed:
					res.Failed++
				case outcomeSkipped:
				}
				resMu.Unlock()

				e.noteProgress(outcome)

				return err
			})
		}

		if err := g.Wait(); err != nil {
			res.Err = err
			break
		}
	}

	if res.Err == nil && res.Failed == 0 && res.Conflicts == 0 {
		if err := e.store.SetMeta(ctx, metaLastSyncedAt,
			strconv.FormatInt(ToUnixNano(e.nowFunc()), 10)); err != nil {
			e.logger.Warn("recording last sync time failed", "error", err)
		}
	}

	res.Duration = e.nowFunc().Sub(start)
	e.finishCycle(ctx, res)
}

// setCycleState moves the state machine and publishes the change.
func (e *Engine) setCycleState(state EngineState, cycle CycleProgress) {
	e.mu.Lock()
	e.state = state
	e.cycle = cycle
	e.mu.Unlock()

	e.publishStatus(context.Background())
}

// noteProgress advances the cycle progress counters after one action.
// A conflict flips the cycle into its Conflicting state.
func (e *Engine) noteProgress(outcome actionOutcome) {
	e.mu.Lock()

	switch outcome {
	case outcomeApplied, outcomeMerged:
		e.cycle.Applied++
	case outcomeConflicted:
		e.state = EngineConflicting
	case outcomeFailed, outcomeSkipped:
	}
	e.mu.Unlock()

	e.publishStatus(context.Background())
}

// finishCycle returns the engine to Idle, delivers the result to every
// waiter, and logs the summary. The idle snapshot publishes before the
// waiters wake so a caller returning from SyncOnce observes it.
func (e *Engine) finishCycle(ctx context.Context, res CycleResult) {
	e.mu.Lock()
	e.state = EngineIdle
	e.cycle = CycleProgress{}
	e.running = false
	waiters := e.waiters
	e.waiters = nil
	e.mu.Unlock()

	e.publishStatus(ctx)

	for _, w := range waiters {
		w <- res
	}

	if res.Err != nil {
		e.logger.Error("sync cycle aborted",
			"cycle_id", res.CycleID,
			"error", res.Err.Error(),
			"duration", res.Duration.String())

		return
	}

	e.logger.Info("sync cycle complete",
		"cycle_id", res.CycleID,
		"applied", res.Applied,
		"merged", res.Merged,
		"conflicts", res.Conflicts,
		"failed", res.Failed,
		"duration", res.Duration.String())
}

// safeApply guards a worker against panics below it: a panic becomes a
// failed attempt on the action instead of taking down the daemon.
func (e *Engine) safeApply(ctx context.Context, a *PendingAction) (outcome actionOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("action worker panicked",
				"action_id", a.ID, "entity", a.Entity.String(), "panic", fmt.Sprint(r))
			outcome, err = e.recordFailure(ctx, a, fmt.Errorf("sync: internal error: %v", r))
		}
	}()

	return e.applyAction(ctx, a)
}

// applyAction dispatches one action under its entity lock: conditional
// write, then conflict handling or failure bookkeeping. Returned errors
// are store-level only; remote failures are recorded on the action.
func (e *Engine) applyAction(ctx context.Context, a *PendingAction) (actionOutcome, error) {
	unlock := e.locks.lock(a.Entity)
	defer unlock()

	if err := e.store.MarkInFlight(ctx, a.ID); err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			// Resolved or cleared between batch selection and now.
			return outcomeSkipped, nil
		}

		return outcomeSkipped, err
	}

	op, payload, base := a.Op, a.Payload, a.BaseVersion
	rebased := false

	for mergeBudget := mergeRetryLimit; ; mergeBudget-- {
		doc, err := e.dispatch(ctx, op, a.Entity, payload, base)
		if err == nil {
			e.monitor.ReportSuccess()

			if err := e.store.MarkApplied(ctx, a.ID); err != nil {
				return outcomeSkipped, err
			}

			if err := e.updateBaseline(ctx, a.Entity, doc); err != nil {
				return outcomeSkipped, err
			}

			if err := e.store.AdvanceBaseVersions(ctx, a.Entity, doc, payload); err != nil {
				return outcomeSkipped, err
			}

			e.logger.Debug("action applied",
				"action_id", a.ID, "op", string(op),
				"entity", a.Entity.String(), "version", doc.Version)

			if rebased {
				return outcomeMerged, nil
			}

			return outcomeApplied, nil
		}

		var vc *remote.VersionConflictError
		if !errors.As(err, &vc) {
			return e.recordFailure(ctx, a, err)
		}

		remoteDoc := vc.Remote
		if remoteDoc == nil {
			remoteDoc, err = e.fetchCurrent(ctx, a.Entity)
			if err != nil {
				return e.recordFailure(ctx, a, err)
			}
		}

		attempt := *a
		attempt.Op, attempt.Payload, attempt.BaseVersion = op, payload, base
		verdict := decide(&attempt, remoteDoc)

		switch verdict.Outcome {
		case ResolutionMerged:
			if mergeBudget == 0 {
				return e.recordFailure(ctx, a,
					fmt.Errorf("sync: rebase raced concurrent writers: %w", err))
			}

			// A create that found an existing document resubmits as an
			// update on top of it.
			if op == OpCreate {
				op = OpUpdate
			}

			base = verdict.RebaseTo
			rebased = true

			if err := e.store.ReplaceForResubmit(ctx, a.ID, op, payload, base); err != nil {
				return outcomeSkipped, err
			}

			if err := e.store.MarkInFlight(ctx, a.ID); err != nil {
				return outcomeSkipped, err
			}

			e.logger.Debug("rebasing action onto remote version",
				"action_id", a.ID, "entity", a.Entity.String(), "base_version", base)

			continue

		case ResolutionAcceptRemote:
			done, outcome, derr := e.applyDeletedRemotely(ctx, a, op, payload, remoteDoc)
			if derr != nil {
				return outcomeSkipped, derr
			}

			if done {
				return outcome, nil
			}

			// Entity re-created locally behind this action: resurrect it
			// by resubmitting as a create.
			if mergeBudget == 0 {
				return e.recordFailure(ctx, a,
					fmt.Errorf("sync: resurrect raced concurrent writers: %w", err))
			}

			op, base, rebased = OpCreate, 0, true

			if err := e.store.ReplaceForResubmit(ctx, a.ID, op, payload, base); err != nil {
				return outcomeSkipped, err
			}

			if err := e.store.MarkInFlight(ctx, a.ID); err != nil {
				return outcomeSkipped, err
			}

			e.logger.Info("converting stranded action to create",
				"action_id", a.ID, "entity", a.Entity.String())

			continue

		default: // ResolutionUnresolved
			return e.parkConflict(ctx, a, payload, base, remoteDoc, verdict)
		}
	}
}

// dispatch issues the conditional remote write for one action.
func (e *Engine) dispatch(ctx context.Context, op Operation, ref entity.Ref, payload remote.Fields, base int64) (*remote.Document, error) {
	collection := ref.Kind.Collection()

	switch op {
	case OpCreate:
		return e.client.Create(ctx, collection, ref.ID, payload)
	case OpUpdate:
		return e.client.Update(ctx, collection, ref.ID, payload, base)
	case OpDelete:
		return e.client.Delete(ctx, collection, ref.ID, base)
	default:
		// Enqueue validation makes this unreachable.
		return nil, validationErrorf("unknown operation %q", op)
	}
}

// fetchCurrent reads the server's current document when a conflict
// response arrived without a body. Absence maps to nil.
func (e *Engine) fetchCurrent(ctx context.Context, ref entity.Ref) (*remote.Document, error) {
	doc, err := e.client.Get(ctx, ref.Kind.Collection(), ref.ID)
	if errors.Is(err, remote.ErrNotFound) {
		return nil, nil //nolint:nilnil // absent document is the answer, not an error
	}

	if err != nil {
		return nil, err
	}

	return doc, nil
}

// updateBaseline mirrors the server document confirmed by a write.
func (e *Engine) updateBaseline(ctx context.Context, ref entity.Ref, doc *remote.Document) error {
	return e.store.UpsertBaseline(ctx, &Baseline{
		Entity:    ref,
		Version:   doc.Version,
		Fields:    doc.Fields,
		Deleted:   doc.Deleted,
		UpdatedAt: ToUnixNano(doc.UpdatedAt),
	})
}

// applyDeletedRemotely settles an action whose target no longer exists on
// the server. Returns done=false when the action should instead resurrect
// the entity (a later local create exists).
func (e *Engine) applyDeletedRemotely(ctx context.Context, a *PendingAction, op Operation, payload remote.Fields, remoteDoc *remote.Document) (done bool, outcome actionOutcome, err error) {
	tombstone := &Baseline{
		Entity:    a.Entity,
		Deleted:   true,
		UpdatedAt: ToUnixNano(e.nowFunc()),
	}
	if remoteDoc != nil {
		tombstone.Version = remoteDoc.Version
		tombstone.UpdatedAt = ToUnixNano(remoteDoc.UpdatedAt)
	}

	// A local delete meeting a remote tombstone is already satisfied.
	if op == OpDelete {
		if err := e.store.MarkApplied(ctx, a.ID); err != nil {
			return true, outcomeSkipped, err
		}

		if err := e.store.UpsertBaseline(ctx, tombstone); err != nil {
			return true, outcomeSkipped, err
		}

		e.logger.Debug("delete already satisfied remotely",
			"action_id", a.ID, "entity", a.Entity.String())

		return true, outcomeApplied, nil
	}

	later, err := e.store.HasLaterCreate(ctx, a.Entity, a.CreatedAt, a.Seq)
	if err != nil {
		return true, outcomeSkipped, err
	}

	if later {
		return false, outcomeSkipped, nil
	}

	// Default: the remote deletion wins. The stranded action is dropped
	// with an already-resolved record so history shows what happened.
	if err := e.store.MarkApplied(ctx, a.ID); err != nil {
		return true, outcomeSkipped, err
	}

	resolvedAt := ToUnixNano(e.nowFunc())
	by := ResolvedByAuto
	record := &ConflictRecord{
		ActionID:      a.ID,
		Entity:        a.Entity,
		Type:          ConflictDeletedRemotely,
		LocalFields:   payload,
		RemoteVersion: tombstone.Version,
		BaseVersion:   a.BaseVersion,
		Resolution:    ResolutionAcceptRemote,
		ResolvedAt:    &resolvedAt,
		ResolvedBy:    &by,
	}
	if err := e.store.RecordConflict(ctx, record); err != nil {
		return true, outcomeSkipped, err
	}

	if err := e.store.UpsertBaseline(ctx, tombstone); err != nil {
		return true, outcomeSkipped, err
	}

	e.logger.Info("dropping local change for remotely deleted entity",
		"action_id", a.ID, "entity", a.Entity.String(), "op", string(op))

	return true, outcomeApplied, nil
}

// parkConflict persists a ConcurrentEdit conflict and parks the action
// until the user resolves it. The baseline refreshes to the remote
// snapshot so offline reads show what the server has.
func (e *Engine) parkConflict(ctx context.Context, a *PendingAction, payload remote.Fields, base int64, remoteDoc *remote.Document, verdict decision) (actionOutcome, error) {
	record := &ConflictRecord{
		ActionID:      a.ID,
		Entity:        a.Entity,
		Type:          verdict.Type,
		LocalFields:   payload,
		RemoteFields:  remoteDoc.Fields,
		RemoteVersion: remoteDoc.Version,
		BaseVersion:   base,
	}
	if err := e.store.RecordConflict(ctx, record); err != nil {
		return outcomeSkipped, err
	}

	if err := e.store.MarkConflicted(ctx, a.ID); err != nil {
		return outcomeSkipped, err
	}

	if err := e.updateBaseline(ctx, a.Entity, remoteDoc); err != nil {
		return outcomeSkipped, err
	}

	e.logger.Warn("conflict needs user resolution",
		"action_id", a.ID, "entity", a.Entity.String(),
		"fields", verdict.Overlapping,
		"base_version", base, "remote_version", remoteDoc.Version)

	return outcomeConflicted, nil
}

// recordFailure books one failed attempt: transient failures reschedule
// with exponential backoff, everything else burns the budget immediately.
func (e *Engine) recordFailure(ctx context.Context, a *PendingAction, cause error) (actionOutcome, error) {
	if errors.Is(cause, remote.ErrNetwork) || errors.Is(cause, remote.ErrTimeout) {
		e.monitor.ReportFailure()
	}

	attempt := a.AttemptCount + 1

	var notBefore int64

	switch {
	case !remote.IsRetryable(cause):
		attempt = e.cfg.MaxAttempts
	case attempt < e.cfg.MaxAttempts:
		delay := backoffDelay(attempt, e.cfg.BackoffBase, e.cfg.BackoffCap, e.randFloat)
		notBefore = ToUnixNano(e.nowFunc().Add(delay))
	}

	if err := e.store.MarkFailed(ctx, a.ID, attempt, cause.Error(), notBefore); err != nil {
		return outcomeSkipped, err
	}

	if attempt >= e.cfg.MaxAttempts {
		e.logger.Warn("action failed permanently",
			"action_id", a.ID, "entity", a.Entity.String(),
			"attempts", attempt, "error", cause.Error())
	} else {
		e.logger.Debug("action failed, scheduled for retry",
			"action_id", a.ID, "entity", a.Entity.String(),
			"attempt", attempt, "error", cause.Error())
	}

	return outcomeFailed, nil
}

// RetryFailed returns every failed action to the dispatchable pool with a
// fresh attempt budget and nudges the loop.
func (e *Engine) RetryFailed(ctx context.Context) (int64, error) {
	n, err := e.store.RetryFailed(ctx)
	if err != nil {
		return 0, err
	}

	if n > 0 {
		e.logger.Info("requeued failed actions", "count", n)
		e.publishStatus(ctx)
		e.Kick()
	}

	return n, nil
}

// ClearErrors discards terminally failed actions.
func (e *Engine) ClearErrors(ctx context.Context) (int64, error) {
	n, err := e.store.ClearFailed(ctx, e.cfg.MaxAttempts)
	if err != nil {
		return 0, err
	}

	if n > 0 {
		e.logger.Info("cleared failed actions", "count", n)
		e.publishStatus(ctx)
	}

	return n, nil
}

// Conflicts returns the active (unresolved) conflict records.
func (e *Engine) Conflicts(ctx context.Context) ([]*ConflictRecord, error) {
	return e.store.ActiveConflicts(ctx)
}

// ConflictHistory returns every conflict ever recorded, resolved included.
func (e *Engine) ConflictHistory(ctx context.Context) ([]*ConflictRecord, error) {
	return e.store.ConflictHistory(ctx)
}
