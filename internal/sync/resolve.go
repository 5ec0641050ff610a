package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/tandemapp/tandem-go/internal/remote"
)

// ConflictDecision is the user's verdict on a parked conflict.
type ConflictDecision string

const (
	// DecisionAccept keeps the local change, overwriting the server.
	DecisionAccept ConflictDecision = "accept"
	// DecisionReject discards the local change in favor of the server.
	DecisionReject ConflictDecision = "reject"
)

// Valid reports whether d is a known decision.
func (d ConflictDecision) Valid() bool {
	return d == DecisionAccept || d == DecisionReject
}

// ResolveConflict settles the unresolved conflict parked on actionID.
// Accept forces the local change onto the server and needs the network;
// reject is purely local bookkeeping and works offline. Either way the
// action leaves the queue and the entity's later actions are rebased.
func (e *Engine) ResolveConflict(ctx context.Context, actionID string, decision ConflictDecision) error {
	if !decision.Valid() {
		return validationErrorf("unknown decision %q", decision)
	}

	record, err := e.store.GetConflictByAction(ctx, actionID)
	if err != nil {
		return err
	}

	if record == nil {
		return &NotFoundError{ID: actionID, Want: "conflict resolution"}
	}

	action, err := e.store.Get(ctx, actionID)
	if err != nil {
		return err
	}

	if action == nil || action.Status != StatusConflicted {
		return &NotFoundError{ID: actionID, Want: "conflict resolution"}
	}

	unlock := e.locks.lock(action.Entity)
	defer unlock()

	if decision == DecisionAccept {
		err = e.resolveAccept(ctx, record, action)
	} else {
		err = e.resolveReject(ctx, record, action)
	}

	if err != nil {
		return err
	}

	e.publishStatus(ctx)
	e.Kick()

	return nil
}

// resolveAccept forces the local change through. The conflict is marked
// resolved only after the server write lands, so a failed attempt leaves
// it active for the user to retry.
func (e *Engine) resolveAccept(ctx context.Context, record *ConflictRecord, action *PendingAction) error {
	collection := action.Entity.Kind.Collection()

	var (
		doc       *remote.Document
		tombstone bool
		err       error
	)

	if action.Op == OpDelete {
		doc, err = e.client.ForceDelete(ctx, collection, action.Entity.ID)
		if errors.Is(err, remote.ErrNotFound) {
			// Already gone; the delete is satisfied.
			doc, err, tombstone = nil, nil, true
		}
	} else {
		doc, err = e.client.ForceUpdate(ctx, collection, action.Entity.ID, action.Payload)
		if errors.Is(err, remote.ErrNotFound) {
			// Deleted since the conflict was parked; keeping the local
			// change means recreating the document.
			doc, err = e.client.Create(ctx, collection, action.Entity.ID, action.Payload)
		}
	}

	if err != nil {
		if errors.Is(err, remote.ErrNetwork) || errors.Is(err, remote.ErrTimeout) {
			e.monitor.ReportFailure()
		}

		return fmt.Errorf("sync: forcing local change for %s: %w", action.Entity.String(), err)
	}

	e.monitor.ReportSuccess()

	if err := e.store.MarkConflictResolved(ctx, record.ID, ResolutionAcceptLocal, ResolvedByUser); err != nil {
		return err
	}

	if err := e.store.MarkApplied(ctx, action.ID); err != nil {
		return err
	}

	if tombstone {
		if err := e.store.UpsertBaseline(ctx, &Baseline{
			Entity:    action.Entity,
			Version:   record.RemoteVersion,
			Deleted:   true,
			UpdatedAt: ToUnixNano(e.nowFunc()),
		}); err != nil {
			return err
		}
	} else {
		if err := e.updateBaseline(ctx, action.Entity, doc); err != nil {
			return err
		}

		if err := e.store.AdvanceBaseVersions(ctx, action.Entity, doc, action.Payload); err != nil {
			return err
		}
	}

	e.logger.Info("conflict resolved, local change kept",
		"action_id", action.ID, "entity", action.Entity.String())

	return nil
}

// resolveReject discards the local change. Everything is local state: the
// baseline snaps to the remote snapshot captured at detection and the
// action is retired without a write, so rejection works offline.
func (e *Engine) resolveReject(ctx context.Context, record *ConflictRecord, action *PendingAction) error {
	if err := e.store.MarkConflictResolved(ctx, record.ID, ResolutionAcceptRemote, ResolvedByUser); err != nil {
		return err
	}

	if err := e.store.MarkApplied(ctx, action.ID); err != nil {
		return err
	}

	baseline := &Baseline{
		Entity:    action.Entity,
		Version:   record.RemoteVersion,
		Fields:    record.RemoteFields,
		UpdatedAt: ToUnixNano(e.nowFunc()),
	}
	if record.Type == ConflictDeletedRemotely {
		baseline.Deleted = true
		baseline.Fields = nil
	}

	if err := e.store.UpsertBaseline(ctx, baseline); err != nil {
		return err
	}

	// Later queued actions keep their own base: every version the server
	// gained past it was another device's work, so the next cycle must
	// judge each of them against the live document.

	e.logger.Info("conflict resolved, remote state kept",
		"action_id", action.ID, "entity", action.Entity.String())

	return nil
}

// ResolveAllConflicts applies one decision to every active conflict, in
// detection order. Returns how many resolved; failures are joined but do
// not stop the sweep.
func (e *Engine) ResolveAllConflicts(ctx context.Context, decision ConflictDecision) (int, error) {
	if !decision.Valid() {
		return 0, validationErrorf("unknown decision %q", decision)
	}

	records, err := e.store.ActiveConflicts(ctx)
	if err != nil {
		return 0, err
	}

	var (
		resolved int
		errs     []error
	)

	for _, record := range records {
		if err := e.ResolveConflict(ctx, record.ActionID, decision); err != nil {
			errs = append(errs, fmt.Errorf("resolving %s: %w", record.ActionID, err))
			continue
		}

		resolved++
	}

	return resolved, errors.Join(errs...)
}
