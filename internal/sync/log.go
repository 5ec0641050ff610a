package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/tandemapp/tandem-go/internal/entity"
	"github.com/tandemapp/tandem-go/internal/remote"
)

// Enqueue validates and appends a new action to the log. The action is
// durable once Enqueue returns: a crash immediately after loses nothing.
// Returns the stored action including its assigned seq.
func (s *Store) Enqueue(ctx context.Context, op Operation, ref entity.Ref, payload remote.Fields, baseVersion int64) (*PendingAction, error) {
	if err := validateEnqueue(op, ref, payload, baseVersion); err != nil {
		return nil, err
	}

	encoded, err := marshalFields(payload)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s %s: %w", op, ref, err)
	}

	a := &PendingAction{
		ID:          uuid.NewString(),
		Entity:      ref,
		Op:          op,
		Payload:     payload.Clone(),
		BaseVersion: baseVersion,
		Status:      StatusPending,
		CreatedAt:   ToUnixNano(s.nowFunc()),
	}

	res, err := s.queueStmts.insert.ExecContext(ctx,
		a.ID, string(ref.Kind), ref.ID, string(op), encoded, baseVersion, a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s %s: %w", op, ref, err)
	}

	a.Seq, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("enqueue %s %s: %w", op, ref, err)
	}

	s.logger.Debug("enqueued action",
		"action_id", a.ID, "op", string(op), "entity", ref.String(),
		"base_version", baseVersion)

	s.touchMarker()

	return a, nil
}

func validateEnqueue(op Operation, ref entity.Ref, payload remote.Fields, baseVersion int64) error {
	switch {
	case !op.Valid():
		return validationErrorf("unknown operation %q", op)
	case !ref.Kind.Valid():
		return validationErrorf("unknown entity kind %q", ref.Kind)
	case ref.ID == "":
		return validationErrorf("empty entity id")
	case baseVersion < 0:
		return validationErrorf("negative base version %d", baseVersion)
	case op == OpDelete && len(payload) > 0:
		return validationErrorf("delete carries a payload")
	case op != OpDelete && len(payload) == 0:
		return validationErrorf("%s without fields", op)
	default:
		return nil
	}
}

// touchMarker bumps the queue marker's mtime so filesystem watchers see
// the enqueue. Failures are logged, never fatal: the marker is a hint,
// the database is the truth.
func (s *Store) touchMarker() {
	if s.markerPath == "" {
		return
	}

	now := s.nowFunc()

	err := os.Chtimes(s.markerPath, now, now)
	if errors.Is(err, os.ErrNotExist) {
		var f *os.File
		if f, err = os.OpenFile(s.markerPath, os.O_CREATE|os.O_WRONLY, 0o600); err == nil {
			f.Close()
			return
		}
	}

	if err != nil {
		s.logger.Warn("touch queue marker", "path", s.markerPath, "error", err)
	}
}

// Get returns the action with the given id, or (nil, nil) when no such
// action exists; applied actions are deleted, so absence is routine.
func (s *Store) Get(ctx context.Context, id string) (*PendingAction, error) {
	a, err := scanAction(s.queueStmts.get.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // absence is a normal outcome, not an error
	}

	if err != nil {
		return nil, fmt.Errorf("get action %s: %w", id, err)
	}

	return a, nil
}

// All returns every queued action in enqueue order, regardless of status.
func (s *Store) All(ctx context.Context) ([]*PendingAction, error) {
	rows, err := s.queueStmts.all.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	return scanActionRows(rows)
}

// NextBatch returns up to maxSize dispatchable actions: per entity, only
// the earliest remaining action is eligible, and it must be pending or
// failed-but-retryable with its backoff window elapsed. Actions come back
// in enqueue order.
func (s *Store) NextBatch(ctx context.Context, maxSize, maxAttempts int) ([]*PendingAction, error) {
	now := ToUnixNano(s.nowFunc())

	rows, err := s.queueStmts.nextBatch.QueryContext(ctx, maxAttempts, now, maxSize)
	if err != nil {
		return nil, fmt.Errorf("next batch: %w", err)
	}
	defer rows.Close()

	return scanActionRows(rows)
}

// HasLaterCreate reports whether a create for the entity was enqueued
// after the given log position. Used when the remote deletion of an
// entity strands its queued updates: a later create means the user
// re-created it and the update should resurrect the entity.
func (s *Store) HasLaterCreate(ctx context.Context, ref entity.Ref, afterCreatedAt, afterSeq int64) (bool, error) {
	var exists int

	err := s.queueStmts.hasLaterCreate.QueryRowContext(ctx,
		string(ref.Kind), ref.ID, afterCreatedAt, afterCreatedAt, afterSeq).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check later create for %s: %w", ref, err)
	}

	return exists == 1, nil
}

// execGuarded runs a guarded status-transition statement and converts a
// zero-row result into NotFoundError: the action is gone or in a state
// the transition does not accept.
func execGuarded(ctx context.Context, stmt *sql.Stmt, id, want string, args ...any) error {
	res, err := stmt.ExecContext(ctx, args...)
	if err != nil {
		return fmt.Errorf("mark action %s %s: %w", id, want, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark action %s %s: %w", id, want, err)
	}

	if n == 0 {
		return &NotFoundError{ID: id, Want: want}
	}

	return nil
}

// MarkInFlight transitions a pending or retryable action to inflight,
// claiming it for one dispatch attempt.
func (s *Store) MarkInFlight(ctx context.Context, id string) error {
	return execGuarded(ctx, s.queueStmts.markInFlight, id, "inflight", id)
}

// MarkApplied removes an action whose server write succeeded (or whose
// conflict was resolved by discarding it). Deletion is the terminal
// success state; the queue never holds applied rows.
func (s *Store) MarkApplied(ctx context.Context, id string) error {
	return execGuarded(ctx, s.queueStmts.markApplied, id, "applied", id)
}

// MarkFailed records a failed dispatch attempt with its new attempt count,
// the error text for status displays, and the earliest time the next
// attempt may run. Terminal failures carry attemptCount at the retry
// ceiling so NextBatch skips them.
func (s *Store) MarkFailed(ctx context.Context, id string, attemptCount int, errMsg string, notBefore int64) error {
	return execGuarded(ctx, s.queueStmts.markFailed, id, "failed",
		attemptCount, errMsg, notBefore, id)
}

// MarkConflicted parks an inflight action pending user resolution. A
// conflicted action blocks every later action for its entity.
func (s *Store) MarkConflicted(ctx context.Context, id string) error {
	return execGuarded(ctx, s.queueStmts.markConflicted, id, "conflicted", id)
}

// MarkPending returns a failed or inflight action to the dispatchable
// pool immediately, clearing its backoff window.
func (s *Store) MarkPending(ctx context.Context, id string) error {
	return execGuarded(ctx, s.queueStmts.markPending, id, "pending", id)
}

// ReplaceForResubmit rewrites an action in place after the resolver
// rebases or transforms it (merge onto a newer remote version, update
// converted to create). The action keeps its identity and log position
// so per-entity ordering is preserved, and returns to pending for the
// next cycle.
func (s *Store) ReplaceForResubmit(ctx context.Context, id string, op Operation, payload remote.Fields, baseVersion int64) error {
	encoded, err := marshalFields(payload)
	if err != nil {
		return fmt.Errorf("resubmit action %s: %w", id, err)
	}

	return execGuarded(ctx, s.queueStmts.replace, id, "resubmit",
		string(op), encoded, baseVersion, id)
}

// AdvanceBaseVersions rebases queued actions for an entity onto the
// version a successful write just confirmed, so the entity's remaining
// chain does not trip the precondition on writes this same device made.
// Advancement is decided per action: it moves forward only if every field
// in its payload is untouched past that action's own base, except by the
// confirmed write itself (written names the fields that write set; they
// carry doc.Version). An action whose field moved under it stays on its
// original base, so its dispatch trips the version check and the overlap
// is judged against the base the edit was actually computed on.
func (s *Store) AdvanceBaseVersions(ctx context.Context, ref entity.Ref, doc *remote.Document, written remote.Fields) error {
	if doc == nil || doc.Deleted {
		return nil
	}

	rows, err := s.queueStmts.entityQueue.QueryContext(ctx, string(ref.Kind), ref.ID)
	if err != nil {
		return fmt.Errorf("advance base versions for %s: %w", ref, err)
	}
	defer rows.Close()

	queue, err := scanActionRows(rows)
	if err != nil {
		return fmt.Errorf("advance base versions for %s: %w", ref, err)
	}

	for _, a := range queue {
		if a.Op == OpCreate || a.BaseVersion >= doc.Version {
			continue
		}

		if !rebaseSafe(a, doc, written) {
			continue
		}

		_, err := s.queueStmts.advanceBase.ExecContext(ctx, doc.Version, a.ID, doc.Version)
		if err != nil {
			return fmt.Errorf("advance base versions for %s: %w", ref, err)
		}
	}

	return nil
}

// rebaseSafe reports whether a queued action may adopt doc.Version as its
// base without hiding a concurrent edit. A payload field blocks the
// rebase when its version moved past the action's base and the confirmed
// write is not what moved it. Deletes carry no fields and always rebase.
func rebaseSafe(a *PendingAction, doc *remote.Document, written remote.Fields) bool {
	for name := range a.Payload {
		ver := doc.FieldVersions[name]
		if ver <= a.BaseVersion {
			continue
		}

		if _, ours := written[name]; ours && ver == doc.Version {
			continue
		}

		return false
	}

	return true
}

// RetryFailed returns every failed action to pending with a fresh attempt
// budget. Backed by the user-facing retry command.
func (s *Store) RetryFailed(ctx context.Context) (int64, error) {
	res, err := s.queueStmts.retryAll.ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("retry failed actions: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("retry failed actions: %w", err)
	}

	return n, nil
}

// ClearFailed discards terminally failed actions (attempt budget
// exhausted). Retryable failures are left alone: they still have attempts
// coming.
func (s *Store) ClearFailed(ctx context.Context, maxAttempts int) (int64, error) {
	res, err := s.queueStmts.clearHard.ExecContext(ctx, maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("clear failed actions: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear failed actions: %w", err)
	}

	return n, nil
}

// Counts returns queue depth by disposition for status displays.
func (s *Store) Counts(ctx context.Context, maxAttempts int) (QueueCounts, error) {
	var c QueueCounts

	err := s.queueStmts.counts.QueryRowContext(ctx, maxAttempts, maxAttempts).
		Scan(&c.Pending, &c.InFlight, &c.Retryable, &c.Failed)
	if err != nil {
		return QueueCounts{}, fmt.Errorf("count queue: %w", err)
	}

	err = s.conflictStmts.countOpen.QueryRowContext(ctx).Scan(&c.Conflicts)
	if err != nil {
		return QueueCounts{}, fmt.Errorf("count conflicts: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM quarantined_actions`).Scan(&c.Quarantined)
	if err != nil {
		return QueueCounts{}, fmt.Errorf("count quarantined: %w", err)
	}

	return c, nil
}
