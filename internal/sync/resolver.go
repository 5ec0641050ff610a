package sync

import (
	"encoding/json"
	"sort"

	"github.com/tandemapp/tandem-go/internal/remote"
	"golang.org/x/text/unicode/norm"
)

// decision is the resolver's verdict on a version-conflicted action.
type decision struct {
	Type ConflictType

	// Outcome is ResolutionMerged when the action can be rebased and
	// resubmitted automatically, ResolutionAcceptRemote when the local
	// action should be dropped, and ResolutionUnresolved when only the
	// user can decide.
	Outcome Resolution

	// RebaseTo is the base version a merged action resubmits against.
	RebaseTo int64

	// Overlapping lists the fields both sides changed to different values,
	// sorted, for the conflict record and logs.
	Overlapping []string
}

// decide classifies a rejected write against the server's current document.
// Pure: same action and document always produce the same verdict, so two
// devices replaying the same history converge.
//
// remoteDoc nil means the server no longer has the document at all (not
// even a tombstone).
func decide(a *PendingAction, remoteDoc *remote.Document) decision {
	if remoteDoc == nil || remoteDoc.Deleted {
		return decision{Type: ConflictDeletedRemotely, Outcome: ResolutionAcceptRemote}
	}

	overlapping := overlappingFields(a, remoteDoc)
	if len(overlapping) > 0 {
		return decision{
			Type:        ConflictConcurrentEdit,
			Outcome:     ResolutionUnresolved,
			Overlapping: overlapping,
		}
	}

	// Disjoint edits: the remote moved only fields this action does not
	// touch (a delete touches none), so replaying on top of the current
	// version preserves both sides.
	return decision{
		Type:     ConflictVersionMismatch,
		Outcome:  ResolutionMerged,
		RebaseTo: remoteDoc.Version,
	}
}

// overlappingFields returns the action's payload fields that the remote
// also changed since the action's base version, excluding fields where
// both sides landed on the same value: matching writes are not a
// conflict, whoever typed them.
func overlappingFields(a *PendingAction, remoteDoc *remote.Document) []string {
	changed := remoteDoc.ChangedSince(a.BaseVersion)

	var overlapping []string

	for name, localValue := range a.Payload {
		if !changed[name] {
			continue
		}

		if fieldValueEqual(localValue, remoteDoc.Fields[name]) {
			continue
		}

		overlapping = append(overlapping, name)
	}

	sort.Strings(overlapping)

	return overlapping
}

// fieldValueEqual compares two raw field values. String values compare
// after Unicode NFC normalization so composed and decomposed spellings of
// the same text ("café") never manufacture a conflict. Everything else
// uses the wire-level comparison.
func fieldValueEqual(a, b json.RawMessage) bool {
	var sa, sb string
	if json.Unmarshal(a, &sa) == nil && json.Unmarshal(b, &sb) == nil {
		return norm.NFC.String(sa) == norm.NFC.String(sb)
	}

	return remote.ValueEqual(a, b)
}
