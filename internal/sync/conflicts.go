package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// RecordConflict inserts a conflict into the ledger. Records created by
// user-facing conflicts start unresolved; records written for audit
// visibility (auto-merges the engine resolved itself) arrive already
// resolved. Missing ID and DetectedAt are filled in.
func (s *Store) RecordConflict(ctx context.Context, r *ConflictRecord) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	if r.DetectedAt == 0 {
		r.DetectedAt = ToUnixNano(s.nowFunc())
	}

	if r.Resolution == "" {
		r.Resolution = ResolutionUnresolved
	}

	localFields, err := marshalFields(r.LocalFields)
	if err != nil {
		return fmt.Errorf("record conflict for %s: %w", r.Entity, err)
	}

	remoteFields, err := marshalFields(r.RemoteFields)
	if err != nil {
		return fmt.Errorf("record conflict for %s: %w", r.Entity, err)
	}

	var resolvedBy *string
	if r.ResolvedBy != nil {
		by := string(*r.ResolvedBy)
		resolvedBy = &by
	}

	_, err = s.conflictStmts.record.ExecContext(ctx,
		r.ID, r.ActionID, string(r.Entity.Kind), r.Entity.ID, string(r.Type),
		localFields, remoteFields, r.RemoteVersion, r.BaseVersion,
		r.DetectedAt, string(r.Resolution), r.ResolvedAt, resolvedBy)
	if err != nil {
		return fmt.Errorf("record conflict for %s: %w", r.Entity, err)
	}

	return nil
}

// ActiveConflicts returns unresolved conflicts in detection order.
func (s *Store) ActiveConflicts(ctx context.Context) ([]*ConflictRecord, error) {
	rows, err := s.conflictStmts.active.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active conflicts: %w", err)
	}
	defer rows.Close()

	return scanConflictRows(rows)
}

// ConflictHistory returns every conflict ever recorded, resolved included,
// in detection order.
func (s *Store) ConflictHistory(ctx context.Context) ([]*ConflictRecord, error) {
	rows, err := s.conflictStmts.history.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list conflict history: %w", err)
	}
	defer rows.Close()

	return scanConflictRows(rows)
}

// GetConflict returns the conflict with the given id, or (nil, nil) when
// none exists.
func (s *Store) GetConflict(ctx context.Context, id string) (*ConflictRecord, error) {
	r, err := scanConflict(s.conflictStmts.get.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // absence is a normal outcome, not an error
	}

	if err != nil {
		return nil, fmt.Errorf("get conflict %s: %w", id, err)
	}

	return r, nil
}

// GetConflictByAction returns the unresolved conflict parked on the given
// action, or (nil, nil) when the action has none.
func (s *Store) GetConflictByAction(ctx context.Context, actionID string) (*ConflictRecord, error) {
	r, err := scanConflict(s.conflictStmts.getByAction.QueryRowContext(ctx, actionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // absence is a normal outcome, not an error
	}

	if err != nil {
		return nil, fmt.Errorf("get conflict for action %s: %w", actionID, err)
	}

	return r, nil
}

// MarkConflictResolved stamps an unresolved conflict with its outcome.
// Returns NotFoundError when the conflict is absent or already resolved,
// so double resolution cannot overwrite the first verdict.
func (s *Store) MarkConflictResolved(ctx context.Context, id string, resolution Resolution, by ResolvedBy) error {
	now := ToUnixNano(s.nowFunc())

	res, err := s.conflictStmts.resolve.ExecContext(ctx,
		string(resolution), now, string(by), id)
	if err != nil {
		return fmt.Errorf("resolve conflict %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve conflict %s: %w", id, err)
	}

	if n == 0 {
		return &NotFoundError{ID: id, Want: "resolved"}
	}

	return nil
}
