// Package sync implements the offline-first synchronization core for
// tandem-go: a durable action log in SQLite, the engine that drains it
// against the remote document service with retry and backoff, the
// deterministic conflict resolver, and the status projection consumed by
// the CLI and the host app's UI.
package sync

import (
	"context"
	"time"

	"github.com/tandemapp/tandem-go/internal/entity"
	"github.com/tandemapp/tandem-go/internal/remote"
)

// Operation is the kind of mutation a queued action performs.
type Operation string

// Operations as stored in the actions table op column.
const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether op is a known operation.
func (op Operation) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	default:
		return false
	}
}

// ActionStatus tracks a queued action through its lifecycle. Applied is
// terminal and never persisted: applying an action deletes its row.
type ActionStatus string

// Statuses as stored in the actions table status column.
const (
	StatusPending    ActionStatus = "pending"
	StatusInFlight   ActionStatus = "inflight"
	StatusFailed     ActionStatus = "failed"
	StatusConflicted ActionStatus = "conflicted"
	StatusApplied    ActionStatus = "applied"
)

// Valid reports whether s is a known status.
func (s ActionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInFlight, StatusFailed, StatusConflicted, StatusApplied:
		return true
	default:
		return false
	}
}

// PendingAction is one queued local mutation awaiting remote application.
type PendingAction struct {
	Seq          int64 // insertion rowid, breaks CreatedAt ties
	ID           string
	Entity       entity.Ref
	Op           Operation
	Payload      remote.Fields // partial for Update, full for Create, empty for Delete
	BaseVersion  int64         // remote version the edit was computed against, 0 for Create
	Status       ActionStatus
	AttemptCount int
	NotBefore    int64 // earliest next attempt (Unix nanoseconds), 0 = eligible now
	CreatedAt    int64 // Unix nanoseconds, ordering key
	LastError    string
}

// Retryable reports whether a Failed action still has attempts left.
func (a *PendingAction) Retryable(maxAttempts int) bool {
	return a.Status == StatusFailed && a.AttemptCount < maxAttempts
}

// ConflictType classifies why a write was rejected.
type ConflictType string

// Conflict types as stored in the conflicts table.
const (
	// ConflictVersionMismatch: versions diverged but the changed field sets
	// were disjoint; resolved by auto-merge.
	ConflictVersionMismatch ConflictType = "version_mismatch"
	// ConflictDeletedRemotely: the document no longer exists (or is
	// tombstoned) on the server.
	ConflictDeletedRemotely ConflictType = "deleted_remotely"
	// ConflictConcurrentEdit: both sides changed the same field to
	// different values; needs a user decision.
	ConflictConcurrentEdit ConflictType = "concurrent_edit"
)

// Resolution describes the outcome chosen for a conflict.
type Resolution string

// Resolutions as stored in the conflicts table resolution column.
const (
	ResolutionUnresolved   Resolution = "unresolved"
	ResolutionAcceptLocal  Resolution = "accept_local"
	ResolutionAcceptRemote Resolution = "accept_remote"
	ResolutionMerged       Resolution = "merged"
)

// ResolvedBy indicates who resolved a conflict.
type ResolvedBy string

// Values for the resolved_by column.
const (
	ResolvedByUser ResolvedBy = "user"
	ResolvedByAuto ResolvedBy = "auto"
)

// ConflictRecord is one detected conflict. Unresolved records form the
// active set surfaced to the user; resolved records are retained with
// ResolvedAt set for history.
type ConflictRecord struct {
	ID            string
	ActionID      string
	Entity        entity.Ref
	Type          ConflictType
	LocalFields   remote.Fields // what the local action wanted to write
	RemoteFields  remote.Fields // server document fields at detection
	RemoteVersion int64
	BaseVersion   int64
	DetectedAt    int64 // Unix nanoseconds
	Resolution    Resolution
	ResolvedAt    *int64
	ResolvedBy    *ResolvedBy
}

// QuarantinedAction is a row that failed the startup integrity scan and
// was moved out of the queue rather than silently dropped.
type QuarantinedAction struct {
	Seq           int64
	ActionID      string
	Reason        string
	Raw           string // JSON snapshot of the original row
	QuarantinedAt int64  // Unix nanoseconds
}

// Baseline is the local mirror of a remote document: the last server
// state this device has seen. Enqueue reads it for baseVersion; the CLI
// reads it to show current entity state while offline.
type Baseline struct {
	Entity    entity.Ref
	Version   int64
	Fields    remote.Fields
	Deleted   bool
	UpdatedAt int64 // server updatedAt (Unix nanoseconds)
}

// QueueCounts is a point-in-time tally of the action log and conflict
// set, split the way the status projector needs it.
type QueueCounts struct {
	Pending     int // status pending
	InFlight    int // status inflight
	Retryable   int // failed with attempts remaining
	Failed      int // terminally failed (attempts exhausted or non-retryable)
	Conflicts   int // unresolved conflict records
	Quarantined int // rows set aside by the integrity scan
}

// EngineState is the engine's position in its cycle state machine.
type EngineState string

const (
	EngineIdle        EngineState = "idle"
	EngineDraining    EngineState = "draining"
	EngineApplying    EngineState = "applying"
	EngineConflicting EngineState = "conflicting"
)

// --- Consumer-defined interfaces ---
// These decouple the engine from the concrete remote client and network
// monitor, following the "accept interfaces, return structs" convention.

// DocumentClient is the narrow remote-store surface the engine needs.
// *remote.Client satisfies it.
type DocumentClient interface {
	Get(ctx context.Context, collection, id string) (*remote.Document, error)
	Create(ctx context.Context, collection, id string, fields remote.Fields) (*remote.Document, error)
	Update(ctx context.Context, collection, id string, fields remote.Fields, baseVersion int64) (*remote.Document, error)
	Delete(ctx context.Context, collection, id string, baseVersion int64) (*remote.Document, error)
	ForceUpdate(ctx context.Context, collection, id string, fields remote.Fields) (*remote.Document, error)
	ForceDelete(ctx context.Context, collection, id string) (*remote.Document, error)
}

// Connectivity is the engine's view of the network monitor. *netmon.Monitor
// satisfies it. Write outcomes feed back so the monitor converges on the
// truth even when probes lie (captive portals).
type Connectivity interface {
	Online() bool
	ReportSuccess()
	ReportFailure()
}

// --- Timestamp helpers ---
// All persisted timestamps are int64 Unix nanoseconds. Conversion to
// time.Time happens at display boundaries only.

// NowNano returns the current time as Unix nanoseconds.
func NowNano() int64 {
	return time.Now().UnixNano()
}

// ToUnixNano converts a time.Time to Unix nanoseconds.
// Returns 0 for the zero time.
func ToUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.UnixNano()
}
