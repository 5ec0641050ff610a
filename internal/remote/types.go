package remote

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"
)

// Fields is a JSON object of field name to value. Values stay raw so they
// round-trip byte-exact through the action log and the wire; the sync
// core never interprets field contents beyond equality checks.
type Fields map[string]json.RawMessage

// Clone returns a deep copy. Mutating the copy never aliases the original's
// value bytes.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}

	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = bytes.Clone(v)
	}

	return out
}

// Names returns the field names in sorted order, for deterministic
// logging and conflict descriptions.
func (f Fields) Names() []string {
	names := make([]string, 0, len(f))
	for k := range f {
		names = append(names, k)
	}
	sort.Strings(names)

	return names
}

// Equal reports whether two field values are the same. JSON strings are
// compared after decoding (so "a" and "a" match); everything else
// compares compacted bytes.
func valueEqual(a, b json.RawMessage) bool {
	var sa, sb string
	if json.Unmarshal(a, &sa) == nil && json.Unmarshal(b, &sb) == nil {
		return sa == sb
	}

	var ca, cb bytes.Buffer
	if json.Compact(&ca, a) != nil || json.Compact(&cb, b) != nil {
		return bytes.Equal(a, b)
	}

	return bytes.Equal(ca.Bytes(), cb.Bytes())
}

// ValueEqual reports whether two raw JSON field values are semantically
// equal. Used by the conflict resolver to discard false conflicts where
// both sides wrote the same value.
func ValueEqual(a, b json.RawMessage) bool {
	return valueEqual(a, b)
}

// Document is one versioned entity as the server stores it. Version
// advances by one on every accepted write; FieldVersions records, per
// field, the document version at which that field last changed. The
// conflict resolver uses FieldVersions to tell which fields moved since
// a client's base version.
type Document struct {
	Collection    string           `json:"collection"`
	ID            string           `json:"id"`
	Version       int64            `json:"version"`
	Fields        Fields           `json:"fields"`
	FieldVersions map[string]int64 `json:"fieldVersions"`
	UpdatedAt     time.Time        `json:"updatedAt"`
	Deleted       bool             `json:"deleted,omitempty"`
}

// ChangedSince returns the set of field names whose last change happened
// after the given base version. A client that wrote at baseVersion sees
// exactly these fields as "moved underneath it".
func (d *Document) ChangedSince(base int64) map[string]bool {
	changed := make(map[string]bool)
	for name, ver := range d.FieldVersions {
		if ver > base {
			changed[name] = true
		}
	}

	return changed
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}

	out := *d
	out.Fields = d.Fields.Clone()
	if d.FieldVersions != nil {
		out.FieldVersions = make(map[string]int64, len(d.FieldVersions))
		for k, v := range d.FieldVersions {
			out.FieldVersions[k] = v
		}
	}

	return &out
}
