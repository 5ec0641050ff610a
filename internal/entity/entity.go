// Package entity provides type-safe identity types for the synchronized
// Tandem entities (tasks, profiles, partnerships). It consolidates the
// kind/ID pairing used as the per-entity ordering key across the action
// log, the conflict ledger, and the remote API.
//
// Two types cover the codebase's identity needs:
//   - Kind: validated entity type name ("task", "profile", "partnership")
//   - Ref: composite (Kind, ID) pair for map keys and log lookups
//
// This is a leaf package whose only dependency is google/uuid for
// placeholder ID generation.
package entity

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Kind is a validated entity type name. The zero value ("") represents an
// absent or unknown kind.
type Kind string

// Entity kinds as stored in the actions and conflicts tables.
const (
	KindTask        Kind = "task"
	KindProfile     Kind = "profile"
	KindPartnership Kind = "partnership"
)

// ParseKind validates a raw kind string. Input is lowercased so CLI
// arguments like "Task" parse cleanly.
func ParseKind(raw string) (Kind, error) {
	switch k := Kind(strings.ToLower(raw)); k {
	case KindTask, KindProfile, KindPartnership:
		return k, nil
	default:
		return "", fmt.Errorf("entity: unknown kind %q (want task, profile, or partnership)", raw)
	}
}

// Valid reports whether k is one of the known entity kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindTask, KindProfile, KindPartnership:
		return true
	default:
		return false
	}
}

// Collection returns the remote API collection name for the kind
// ("task" → "tasks").
func (k Kind) Collection() string {
	return string(k) + "s"
}

// String returns the kind name.
func (k Kind) String() string {
	return string(k)
}

// Ref is a composite (Kind, ID) pair identifying one synchronized entity.
// Comparable: both fields are comparable, so Ref works as a map key for
// per-entity chain grouping.
type Ref struct {
	Kind Kind
	ID   string
}

// NewRef creates a Ref from a validated kind and entity ID.
func NewRef(kind Kind, id string) Ref {
	return Ref{Kind: kind, ID: id}
}

// ParseRef parses the "kind/id" form used in CLI arguments and log output,
// e.g. "task/2ff2e49c-ae05-4f6c-a2a2-0e0a01e1b3b4".
func ParseRef(raw string) (Ref, error) {
	kindPart, id, ok := strings.Cut(raw, "/")
	if !ok || id == "" {
		return Ref{}, fmt.Errorf("entity: invalid reference %q (want kind/id)", raw)
	}

	kind, err := ParseKind(kindPart)
	if err != nil {
		return Ref{}, err
	}

	return Ref{Kind: kind, ID: id}, nil
}

// String returns the "kind/id" representation used for logging and CLI
// round-trips.
func (r Ref) String() string {
	return string(r.Kind) + "/" + r.ID
}

// IsZero reports whether both components are empty.
func (r Ref) IsZero() bool {
	return r.Kind == "" && r.ID == ""
}

// NewID generates a fresh entity ID. IDs are client-generated (offline
// creation must not wait for the server), so the remote API accepts them
// as-is and they remain stable across the create round-trip.
func NewID() string {
	return uuid.NewString()
}
