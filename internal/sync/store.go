package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/tandemapp/tandem-go/internal/entity"
	"github.com/tandemapp/tandem-go/internal/remote"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

// Store is the durable action log: queued mutations, the conflict ledger,
// baseline mirrors of remote documents, and engine bookkeeping, all in one
// SQLite database. It is the single writer for that database.
type Store struct {
	db         *sql.DB
	logger     *slog.Logger
	markerPath string // queue marker touched after each committed enqueue
	readOnly   bool

	nowFunc func() time.Time // injectable for deterministic tests

	queueStmts    queueStatements
	conflictStmts conflictStatements
	baselineStmts baselineStatements
	metaStmts     metaStatements
}

// Statement groups, mirroring the table layout.
type queueStatements struct {
	insert, get, nextBatch, all, entityQueue, hasLaterCreate *sql.Stmt
	markInFlight, markApplied, markFailed, markConflicted    *sql.Stmt
	markPending, replace, advanceBase, retryAll, clearHard   *sql.Stmt
	counts                                                   *sql.Stmt
}

type conflictStatements struct {
	record, active, history, get, getByAction, resolve, countOpen *sql.Stmt
}

type baselineStatements struct {
	upsert, get, delete, listKind *sql.Stmt
}

type metaStatements struct {
	get, set *sql.Stmt
}

// NewStore opens (creating if needed) the action log at dbPath, applies
// migrations, recovers interrupted work, and quarantines rows that fail
// the integrity scan. markerPath is the queue marker file touched after
// each enqueue; empty disables marker touching.
func NewStore(dbPath, markerPath string, logger *slog.Logger) (*Store, error) {
	logger.Info("opening action log", "path", dbPath)

	db, err := openDatabase(dbPath, false)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:         db,
		logger:     logger,
		markerPath: markerPath,
		nowFunc:    time.Now,
	}

	if err := s.prepareAllStatements(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare statements: %w", err)
	}

	recovered, err := s.recoverInFlight(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}

	if recovered > 0 {
		logger.Warn("requeued actions interrupted by previous shutdown", "count", recovered)
	}

	quarantined, err := s.VerifyQueue(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}

	if quarantined > 0 {
		logger.Warn("quarantined undecodable action rows", "count", quarantined)
	}

	logger.Info("action log ready", "path", dbPath)

	return s, nil
}

// Open opens the action log for writing without the recovery scan.
// Requeuing in-flight rows is only correct at daemon startup; a CLI
// command that writes while a daemon may be running must not touch
// rows the daemon is working on.
func Open(dbPath, markerPath string, logger *slog.Logger) (*Store, error) {
	db, err := openDatabase(dbPath, false)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:         db,
		logger:     logger,
		markerPath: markerPath,
		nowFunc:    time.Now,
	}

	if err := s.prepareAllStatements(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare statements: %w", err)
	}

	return s, nil
}

// OpenReadOnly opens an existing action log without migrating, recovering,
// or ever writing. Used by status commands so they cannot disturb a
// running daemon.
func OpenReadOnly(dbPath string, logger *slog.Logger) (*Store, error) {
	db, err := openDatabase(dbPath, true)
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:       db,
		logger:   logger,
		readOnly: true,
		nowFunc:  time.Now,
	}

	if err := s.prepareAllStatements(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare statements: %w", err)
	}

	return s, nil
}

// openDatabase opens the SQLite file with WAL journaling and full
// synchronous writes. The single connection makes this process's access
// strictly serial, which SQLite rewards. Read-only opens skip the
// journal pragmas: changing journal mode needs a write lock.
func openDatabase(dbPath string, readOnly bool) (*sql.DB, error) {
	var dsn string
	if readOnly {
		dsn = fmt.Sprintf("file:%s?mode=ro&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", dbPath)
	} else {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"+
			"&_pragma=journal_size_limit(67108864)", dbPath)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	return db, nil
}

// --- SQL query constants ---
// Grouped by table. Column list shared by every action-returning query.

const (
	sqlActionColumns = `seq, id, entity_kind, entity_id, op, payload,
		base_version, status, attempt_count, not_before, created_at, last_error`

	sqlInsertAction = `INSERT INTO actions
		(id, entity_kind, entity_id, op, payload, base_version, status,
		 attempt_count, not_before, created_at, last_error)
		VALUES (?, ?, ?, ?, ?, ?, 'pending', 0, 0, ?, '')`

	sqlGetAction = `SELECT ` + sqlActionColumns + ` FROM actions WHERE id = ?`

	// One eligible action per entity: the row must be the entity's earliest
	// remaining action in (created_at, seq) order, so a conflicted or
	// terminally failed earlier action blocks everything behind it.
	sqlNextBatch = `SELECT ` + sqlActionColumns + ` FROM actions AS a
		WHERE (a.status = 'pending'
		       OR (a.status = 'failed' AND a.attempt_count < ? AND a.not_before <= ?))
		  AND NOT EXISTS (
		      SELECT 1 FROM actions AS b
		      WHERE b.entity_kind = a.entity_kind
		        AND b.entity_id = a.entity_id
		        AND (b.created_at < a.created_at
		             OR (b.created_at = a.created_at AND b.seq < a.seq))
		  )
		ORDER BY a.created_at, a.seq
		LIMIT ?`

	sqlAllActions = `SELECT ` + sqlActionColumns + ` FROM actions
		ORDER BY created_at, seq`

	sqlEntityQueue = `SELECT ` + sqlActionColumns + ` FROM actions
		WHERE entity_kind = ? AND entity_id = ? AND status IN ('pending', 'failed')
		ORDER BY created_at, seq`

	sqlHasLaterCreate = `SELECT EXISTS (
		SELECT 1 FROM actions
		WHERE entity_kind = ? AND entity_id = ? AND op = 'create'
		  AND (created_at > ? OR (created_at = ? AND seq > ?)))`

	sqlMarkInFlight = `UPDATE actions SET status = 'inflight'
		WHERE id = ? AND status IN ('pending', 'failed')`

	// Applied rows are deleted: the queue holds outstanding work only.
	sqlMarkApplied = `DELETE FROM actions
		WHERE id = ? AND status IN ('inflight', 'conflicted')`

	sqlMarkFailed = `UPDATE actions
		SET status = 'failed', attempt_count = ?, last_error = ?, not_before = ?
		WHERE id = ? AND status = 'inflight'`

	sqlMarkConflicted = `UPDATE actions SET status = 'conflicted'
		WHERE id = ? AND status = 'inflight'`

	sqlMarkPending = `UPDATE actions SET status = 'pending', not_before = 0
		WHERE id = ? AND status IN ('failed', 'inflight')`

	sqlReplaceAction = `UPDATE actions
		SET op = ?, payload = ?, base_version = ?, status = 'pending', not_before = 0
		WHERE id = ? AND status IN ('inflight', 'conflicted')`

	sqlAdvanceBase = `UPDATE actions SET base_version = ?
		WHERE id = ? AND status IN ('pending', 'failed') AND base_version < ?`

	sqlRetryFailed = `UPDATE actions
		SET status = 'pending', attempt_count = 0, not_before = 0
		WHERE status = 'failed'`

	sqlClearFailed = `DELETE FROM actions
		WHERE status = 'failed' AND attempt_count >= ?`

	sqlQueueCounts = `SELECT
		COUNT(*) FILTER (WHERE status = 'pending'),
		COUNT(*) FILTER (WHERE status = 'inflight'),
		COUNT(*) FILTER (WHERE status = 'failed' AND attempt_count < ?),
		COUNT(*) FILTER (WHERE status = 'failed' AND attempt_count >= ?)
		FROM actions`
)

const (
	sqlConflictColumns = `id, action_id, entity_kind, entity_id, conflict_type,
		local_fields, remote_fields, remote_version, base_version,
		detected_at, resolution, resolved_at, resolved_by`

	sqlRecordConflict = `INSERT INTO conflicts
		(id, action_id, entity_kind, entity_id, conflict_type,
		 local_fields, remote_fields, remote_version, base_version,
		 detected_at, resolution, resolved_at, resolved_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlActiveConflicts = `SELECT ` + sqlConflictColumns + ` FROM conflicts
		WHERE resolution = 'unresolved' ORDER BY detected_at, id`

	sqlConflictHistory = `SELECT ` + sqlConflictColumns + ` FROM conflicts
		ORDER BY detected_at, id`

	sqlGetConflict = `SELECT ` + sqlConflictColumns + ` FROM conflicts WHERE id = ?`

	sqlGetConflictByAction = `SELECT ` + sqlConflictColumns + ` FROM conflicts
		WHERE action_id = ? AND resolution = 'unresolved'`

	sqlResolveConflict = `UPDATE conflicts
		SET resolution = ?, resolved_at = ?, resolved_by = ?
		WHERE id = ? AND resolution = 'unresolved'`

	sqlOpenConflictCount = `SELECT COUNT(*) FROM conflicts
		WHERE resolution = 'unresolved'`
)

const (
	sqlUpsertBaseline = `INSERT INTO baseline
		(entity_kind, entity_id, version, fields, deleted, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_kind, entity_id) DO UPDATE SET
			version    = excluded.version,
			fields     = excluded.fields,
			deleted    = excluded.deleted,
			updated_at = excluded.updated_at`

	sqlGetBaseline = `SELECT entity_kind, entity_id, version, fields, deleted, updated_at
		FROM baseline WHERE entity_kind = ? AND entity_id = ?`

	sqlDeleteBaseline = `DELETE FROM baseline WHERE entity_kind = ? AND entity_id = ?`

	sqlListBaselines = `SELECT entity_kind, entity_id, version, fields, deleted, updated_at
		FROM baseline WHERE entity_kind = ? AND deleted = 0 ORDER BY entity_id`
)

const (
	sqlGetMeta = `SELECT value FROM sync_meta WHERE key = ?`

	sqlSetMeta = `INSERT INTO sync_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
)

// stmtDef maps a SQL string to the prepared statement pointer it should populate.
type stmtDef struct {
	dest **sql.Stmt
	sql  string
	name string
}

// prepareAll prepares a batch of statements, returning on first error.
func prepareAll(ctx context.Context, db *sql.DB, defs []stmtDef) error {
	for i := range defs {
		stmt, err := db.PrepareContext(ctx, defs[i].sql)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", defs[i].name, err)
		}

		*defs[i].dest = stmt
	}

	return nil
}

func (s *Store) prepareAllStatements(ctx context.Context) error {
	if err := s.prepareQueueStmts(ctx); err != nil {
		return err
	}

	if err := s.prepareConflictStmts(ctx); err != nil {
		return err
	}

	if err := s.prepareBaselineStmts(ctx); err != nil {
		return err
	}

	return prepareAll(ctx, s.db, []stmtDef{
		{&s.metaStmts.get, sqlGetMeta, "getMeta"},
		{&s.metaStmts.set, sqlSetMeta, "setMeta"},
	})
}

func (s *Store) prepareQueueStmts(ctx context.Context) error {
	return prepareAll(ctx, s.db, []stmtDef{
		{&s.queueStmts.insert, sqlInsertAction, "insertAction"},
		{&s.queueStmts.get, sqlGetAction, "getAction"},
		{&s.queueStmts.nextBatch, sqlNextBatch, "nextBatch"},
		{&s.queueStmts.all, sqlAllActions, "allActions"},
		{&s.queueStmts.entityQueue, sqlEntityQueue, "entityQueue"},
		{&s.queueStmts.hasLaterCreate, sqlHasLaterCreate, "hasLaterCreate"},
		{&s.queueStmts.markInFlight, sqlMarkInFlight, "markInFlight"},
		{&s.queueStmts.markApplied, sqlMarkApplied, "markApplied"},
		{&s.queueStmts.markFailed, sqlMarkFailed, "markFailed"},
		{&s.queueStmts.markConflicted, sqlMarkConflicted, "markConflicted"},
		{&s.queueStmts.markPending, sqlMarkPending, "markPending"},
		{&s.queueStmts.replace, sqlReplaceAction, "replaceAction"},
		{&s.queueStmts.advanceBase, sqlAdvanceBase, "advanceBaseVersions"},
		{&s.queueStmts.retryAll, sqlRetryFailed, "retryFailed"},
		{&s.queueStmts.clearHard, sqlClearFailed, "clearFailed"},
		{&s.queueStmts.counts, sqlQueueCounts, "queueCounts"},
	})
}

func (s *Store) prepareConflictStmts(ctx context.Context) error {
	return prepareAll(ctx, s.db, []stmtDef{
		{&s.conflictStmts.record, sqlRecordConflict, "recordConflict"},
		{&s.conflictStmts.active, sqlActiveConflicts, "activeConflicts"},
		{&s.conflictStmts.history, sqlConflictHistory, "conflictHistory"},
		{&s.conflictStmts.get, sqlGetConflict, "getConflict"},
		{&s.conflictStmts.getByAction, sqlGetConflictByAction, "getConflictByAction"},
		{&s.conflictStmts.resolve, sqlResolveConflict, "resolveConflict"},
		{&s.conflictStmts.countOpen, sqlOpenConflictCount, "openConflictCount"},
	})
}

func (s *Store) prepareBaselineStmts(ctx context.Context) error {
	return prepareAll(ctx, s.db, []stmtDef{
		{&s.baselineStmts.upsert, sqlUpsertBaseline, "upsertBaseline"},
		{&s.baselineStmts.get, sqlGetBaseline, "getBaseline"},
		{&s.baselineStmts.delete, sqlDeleteBaseline, "deleteBaseline"},
		{&s.baselineStmts.listKind, sqlListBaselines, "listBaselines"},
	})
}

// --- Row scanning helpers ---

// scanAction scans a full action row into a PendingAction.
func scanAction(row interface{ Scan(...any) error }) (*PendingAction, error) {
	a := &PendingAction{}

	var kind, op, status, payload string

	err := row.Scan(
		&a.Seq, &a.ID, &kind, &a.Entity.ID, &op, &payload,
		&a.BaseVersion, &status, &a.AttemptCount, &a.NotBefore,
		&a.CreatedAt, &a.LastError,
	)
	if err != nil {
		return nil, err
	}

	a.Entity.Kind = entity.Kind(kind)
	a.Op = Operation(op)
	a.Status = ActionStatus(status)

	if err := json.Unmarshal([]byte(payload), &a.Payload); err != nil {
		return nil, fmt.Errorf("decode payload for action %s: %w", a.ID, err)
	}

	return a, nil
}

// scanActionRows collects PendingActions from a result set.
func scanActionRows(rows *sql.Rows) ([]*PendingAction, error) {
	var actions []*PendingAction

	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan action row: %w", err)
		}

		actions = append(actions, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate action rows: %w", err)
	}

	return actions, nil
}

// scanConflict scans a full conflict row into a ConflictRecord.
func scanConflict(row interface{ Scan(...any) error }) (*ConflictRecord, error) {
	r := &ConflictRecord{}

	var kind, ctype, resolution, localFields, remoteFields string

	var resolvedBy *string

	err := row.Scan(
		&r.ID, &r.ActionID, &kind, &r.Entity.ID, &ctype,
		&localFields, &remoteFields, &r.RemoteVersion, &r.BaseVersion,
		&r.DetectedAt, &resolution, &r.ResolvedAt, &resolvedBy,
	)
	if err != nil {
		return nil, err
	}

	r.Entity.Kind = entity.Kind(kind)
	r.Type = ConflictType(ctype)
	r.Resolution = Resolution(resolution)

	if resolvedBy != nil {
		by := ResolvedBy(*resolvedBy)
		r.ResolvedBy = &by
	}

	if err := json.Unmarshal([]byte(localFields), &r.LocalFields); err != nil {
		return nil, fmt.Errorf("decode local fields for conflict %s: %w", r.ID, err)
	}

	if err := json.Unmarshal([]byte(remoteFields), &r.RemoteFields); err != nil {
		return nil, fmt.Errorf("decode remote fields for conflict %s: %w", r.ID, err)
	}

	return r, nil
}

func scanConflictRows(rows *sql.Rows) ([]*ConflictRecord, error) {
	var records []*ConflictRecord

	for rows.Next() {
		r, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conflict row: %w", err)
		}

		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conflict rows: %w", err)
	}

	return records, nil
}

// marshalFields encodes a field map for storage; nil maps store as '{}' so
// the columns never hold NULL.
func marshalFields(f remote.Fields) (string, error) {
	if len(f) == 0 {
		return "{}", nil
	}

	raw, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("encode fields: %w", err)
	}

	return string(raw), nil
}

// --- Baseline methods ---

// UpsertBaseline records the latest known server state for an entity.
func (s *Store) UpsertBaseline(ctx context.Context, b *Baseline) error {
	fields, err := marshalFields(b.Fields)
	if err != nil {
		return fmt.Errorf("upsert baseline %s: %w", b.Entity, err)
	}

	deleted := 0
	if b.Deleted {
		deleted = 1
	}

	_, err = s.baselineStmts.upsert.ExecContext(ctx,
		string(b.Entity.Kind), b.Entity.ID, b.Version, fields, deleted, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert baseline %s: %w", b.Entity, err)
	}

	return nil
}

// GetBaseline returns the last known server state for an entity.
// Returns (nil, nil) when this device has never seen the entity; callers
// use the nil baseline to pick baseVersion 0.
func (s *Store) GetBaseline(ctx context.Context, ref entity.Ref) (*Baseline, error) {
	b, err := scanBaseline(s.baselineStmts.get.QueryRowContext(ctx, string(ref.Kind), ref.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // nil baseline means "never seen", matching GetAction
	}

	if err != nil {
		return nil, fmt.Errorf("get baseline %s: %w", ref, err)
	}

	return b, nil
}

// DeleteBaseline removes the mirror row for an entity.
func (s *Store) DeleteBaseline(ctx context.Context, ref entity.Ref) error {
	if _, err := s.baselineStmts.delete.ExecContext(ctx, string(ref.Kind), ref.ID); err != nil {
		return fmt.Errorf("delete baseline %s: %w", ref, err)
	}

	return nil
}

// ListBaselines returns all live (non-tombstoned) mirrored entities of a kind.
func (s *Store) ListBaselines(ctx context.Context, kind entity.Kind) ([]*Baseline, error) {
	rows, err := s.baselineStmts.listKind.QueryContext(ctx, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list baselines %s: %w", kind, err)
	}
	defer rows.Close()

	var baselines []*Baseline

	for rows.Next() {
		b, err := scanBaseline(rows)
		if err != nil {
			return nil, fmt.Errorf("scan baseline row: %w", err)
		}

		baselines = append(baselines, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate baseline rows: %w", err)
	}

	return baselines, nil
}

func scanBaseline(row interface{ Scan(...any) error }) (*Baseline, error) {
	b := &Baseline{}

	var kind, fields string

	var deleted int

	if err := row.Scan(&kind, &b.Entity.ID, &b.Version, &fields, &deleted, &b.UpdatedAt); err != nil {
		return nil, err
	}

	b.Entity.Kind = entity.Kind(kind)
	b.Deleted = deleted == 1

	if err := json.Unmarshal([]byte(fields), &b.Fields); err != nil {
		return nil, fmt.Errorf("decode baseline fields for %s: %w", b.Entity, err)
	}

	return b, nil
}

// --- Meta methods ---

// Meta keys used by the engine.
const (
	metaLastSyncedAt = "last_synced_at"
)

// GetMeta returns a bookkeeping value, or empty string when unset.
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	var value string

	err := s.metaStmts.get.QueryRowContext(ctx, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("get meta %q: %w", key, err)
	}

	return value, nil
}

// SetMeta stores a bookkeeping key-value pair.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	if _, err := s.metaStmts.set.ExecContext(ctx, key, value); err != nil {
		return fmt.Errorf("set meta %q: %w", key, err)
	}

	return nil
}

// LastSyncedAt returns the unix-nano timestamp of the last clean sync
// cycle, or zero when no cycle has completed yet.
func (s *Store) LastSyncedAt(ctx context.Context) (int64, error) {
	raw, err := s.GetMeta(ctx, metaLastSyncedAt)
	if err != nil {
		return 0, err
	}

	if raw == "" {
		return 0, nil
	}

	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", metaLastSyncedAt, raw, err)
	}

	return ts, nil
}

// --- Startup recovery ---

// recoverInFlight requeues actions stranded inflight by a crash. The write
// may or may not have landed; re-attempting is safe because a landed write
// surfaces as a version conflict the resolver reconciles.
func (s *Store) recoverInFlight(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE actions SET status = 'pending' WHERE status = 'inflight'`)
	if err != nil {
		return 0, fmt.Errorf("recover inflight actions: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("recover inflight actions: %w", err)
	}

	return n, nil
}

// rawAction mirrors an actions row as stored, for quarantine snapshots.
type rawAction struct {
	Seq         int64  `json:"seq"`
	ID          string `json:"id"`
	EntityKind  string `json:"entityKind"`
	EntityID    string `json:"entityId"`
	Op          string `json:"op"`
	Payload     string `json:"payload"`
	BaseVersion int64  `json:"baseVersion"`
	Status      string `json:"status"`
	CreatedAt   int64  `json:"createdAt"`
}

// validate reports why the row cannot be decoded, or empty when fine.
func (r *rawAction) validate() string {
	switch {
	case r.ID == "":
		return "empty action id"
	case !entity.Kind(r.EntityKind).Valid():
		return fmt.Sprintf("unknown entity kind %q", r.EntityKind)
	case r.EntityID == "":
		return "empty entity id"
	case !Operation(r.Op).Valid():
		return fmt.Sprintf("unknown operation %q", r.Op)
	case !ActionStatus(r.Status).Valid():
		return fmt.Sprintf("unknown status %q", r.Status)
	case r.BaseVersion < 0:
		return fmt.Sprintf("negative base version %d", r.BaseVersion)
	default:
		var f remote.Fields
		if err := json.Unmarshal([]byte(r.Payload), &f); err != nil {
			return fmt.Sprintf("malformed payload: %v", err)
		}

		return ""
	}
}

// VerifyQueue moves queue rows that no longer decode (schema drift, disk
// corruption, manual edits) into quarantined_actions so the rest of the
// queue keeps syncing. Returns the number of rows quarantined.
func (s *Store) VerifyQueue(ctx context.Context) (int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, id, entity_kind, entity_id, op, payload, base_version, status, created_at
		 FROM actions`)
	if err != nil {
		return 0, fmt.Errorf("scan queue: %w", err)
	}
	defer rows.Close()

	type quarantineCandidate struct {
		raw    rawAction
		reason string
	}

	var bad []quarantineCandidate

	for rows.Next() {
		var r rawAction

		err := rows.Scan(&r.Seq, &r.ID, &r.EntityKind, &r.EntityID,
			&r.Op, &r.Payload, &r.BaseVersion, &r.Status, &r.CreatedAt)
		if err != nil {
			return 0, fmt.Errorf("scan queue row: %w", err)
		}

		if reason := r.validate(); reason != "" {
			bad = append(bad, quarantineCandidate{raw: r, reason: reason})
		}
	}

	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("scan queue: %w", err)
	}

	if len(bad) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin quarantine tx: %w", err)
	}

	now := ToUnixNano(s.nowFunc())

	for _, c := range bad {
		snapshot, err := json.Marshal(c.raw)
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("snapshot quarantined row %d: %w", c.raw.Seq, err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO quarantined_actions (action_id, reason, raw, quarantined_at)
			 VALUES (?, ?, ?, ?)`,
			c.raw.ID, c.reason, string(snapshot), now)
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("quarantine row %d: %w", c.raw.Seq, err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM actions WHERE seq = ?`, c.raw.Seq); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("remove quarantined row %d: %w", c.raw.Seq, err)
		}

		s.logger.Warn("quarantined action row",
			"action_id", c.raw.ID, "entity_kind", c.raw.EntityKind,
			"entity_id", c.raw.EntityID, "reason", c.reason)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit quarantine tx: %w", err)
	}

	return int64(len(bad)), nil
}

// ListQuarantined returns the rows set aside by the integrity scan.
func (s *Store) ListQuarantined(ctx context.Context) ([]*QuarantinedAction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, action_id, reason, raw, quarantined_at
		 FROM quarantined_actions ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list quarantined: %w", err)
	}
	defer rows.Close()

	var records []*QuarantinedAction

	for rows.Next() {
		q := &QuarantinedAction{}

		if err := rows.Scan(&q.Seq, &q.ActionID, &q.Reason, &q.Raw, &q.QuarantinedAt); err != nil {
			return nil, fmt.Errorf("scan quarantined row: %w", err)
		}

		records = append(records, q)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quarantined rows: %w", err)
	}

	return records, nil
}

// --- Maintenance ---

// Checkpoint consolidates the WAL into the main database file.
func (s *Store) Checkpoint() error {
	_, err := s.db.ExecContext(context.Background(), "PRAGMA wal_checkpoint(TRUNCATE)")
	if err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}

	return nil
}

// Close closes all prepared statements and the database connection.
func (s *Store) Close() error {
	if err := s.closeStatements(); err != nil {
		s.logger.Error("error closing statements", "error", err)
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}

	return nil
}

func (s *Store) closeStatements() error {
	stmts := []*sql.Stmt{
		s.queueStmts.insert, s.queueStmts.get, s.queueStmts.nextBatch,
		s.queueStmts.all, s.queueStmts.entityQueue, s.queueStmts.hasLaterCreate,
		s.queueStmts.markInFlight, s.queueStmts.markApplied,
		s.queueStmts.markFailed, s.queueStmts.markConflicted,
		s.queueStmts.markPending, s.queueStmts.replace,
		s.queueStmts.advanceBase, s.queueStmts.retryAll,
		s.queueStmts.clearHard, s.queueStmts.counts,
		s.conflictStmts.record, s.conflictStmts.active,
		s.conflictStmts.history, s.conflictStmts.get,
		s.conflictStmts.getByAction, s.conflictStmts.resolve,
		s.conflictStmts.countOpen,
		s.baselineStmts.upsert, s.baselineStmts.get,
		s.baselineStmts.delete, s.baselineStmts.listKind,
		s.metaStmts.get, s.metaStmts.set,
	}

	var errs []string

	for _, stmt := range stmts {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close statements: %s", strings.Join(errs, "; "))
	}

	return nil
}
