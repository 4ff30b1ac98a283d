// Package snapshot defines the versioned export/import contract for analysis
// state. A Snapshot is an immutable, ordered set of tagged records (renames,
// comments, function metadata) stamped with the schema version it was written
// under and the session generation it was captured at. Validation is strict
// on structure and fails closed on unknown future versions; applying a
// snapshot is lenient on semantic conflicts and reports them per record.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// SchemaVersion is the current (highest known) snapshot schema version.
//
// History:
//
//	v1: string schema_version "1.0", hex-string addresses, function rows.
//	v2: integer schema_version, integer addresses.
//	v3: tagged entries (rename/comment/function_meta), generation stamp.
const SchemaVersion = 3

// Kind tags the record type of a snapshot entry.
type Kind string

const (
	KindRename       Kind = "rename"
	KindComment      Kind = "comment"
	KindFunctionMeta Kind = "function_meta"
)

var kindRank = map[Kind]int{KindFunctionMeta: 0, KindRename: 1, KindComment: 2}

// Entry is one typed record. Fields beyond Kind and Address are populated
// according to the kind: NewName for renames, Text for comments, Name and
// Size for function metadata.
type Entry struct {
	Kind    Kind   `json:"kind"`
	Address uint64 `json:"address"`
	NewName string `json:"new_name,omitempty"`
	Text    string `json:"text,omitempty"`
	Name    string `json:"name,omitempty"`
	Size    uint64 `json:"size,omitempty"`
}

// Snapshot is a capture of exportable analysis facts. Treat as immutable
// once produced; Apply never modifies it.
type Snapshot struct {
	SchemaVersion int     `json:"schema_version"`
	Generation    uint64  `json:"generation"`
	Entries       []Entry `json:"entries"`
}

// Counts returns the number of entries per kind.
func (s *Snapshot) Counts() map[Kind]int {
	out := make(map[Kind]int, len(kindRank))
	for _, e := range s.Entries {
		out[e.Kind]++
	}
	return out
}

// Encode serializes the snapshot as deterministic indented JSON: entries are
// ordered by address, then by kind, so identical state always encodes to
// identical bytes.
func (s *Snapshot) Encode() ([]byte, error) {
	clone := Snapshot{
		SchemaVersion: s.SchemaVersion,
		Generation:    s.Generation,
		Entries:       append([]Entry(nil), s.Entries...),
	}
	sort.SliceStable(clone.Entries, func(i, j int) bool {
		a, b := clone.Entries[i], clone.Entries[j]
		if a.Address != b.Address {
			return a.Address < b.Address
		}
		return kindRank[a.Kind] < kindRank[b.Kind]
	})
	return json.MarshalIndent(&clone, "", "  ")
}

// Load reads and validates a snapshot file, migrating older schema versions
// to the current one.
func Load(path string) (*Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: read %s: %w", path, err)
	}
	return Validate(raw)
}

// Save writes the snapshot to path in deterministic form.
func Save(path string, s *Snapshot) error {
	data, err := s.Encode()
	if err != nil {
		return fmt.Errorf("snapshot: encode: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("snapshot: write %s: %w", path, err)
	}
	return nil
}
