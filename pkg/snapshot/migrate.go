package snapshot

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// MigrationError reports a gap in the migration chain or a payload that
// cannot be carried across one step.
type MigrationError struct {
	From   int
	To     int
	Reason string
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("snapshot: cannot migrate v%d to v%d: %s", e.From, e.To, e.Reason)
}

// steps holds the version-to-version transformations. Each step carries a
// payload exactly one version forward; Migrate composes them in order, never
// skipping an intermediate version.
var steps = map[int]func([]byte) ([]byte, error){
	1: migrateV1toV2,
	2: migrateV2toV3,
}

// Migrate transforms a payload written at from up to the current schema
// version and returns the parsed result.
func Migrate(raw []byte, from int) (*Snapshot, error) {
	if from < 1 {
		return nil, &MigrationError{From: from, To: SchemaVersion, Reason: "unknown source version"}
	}
	if from > SchemaVersion {
		return nil, fmt.Errorf("%w: got %d, max %d", ErrUnsupportedVersion, from, SchemaVersion)
	}
	current := raw
	for v := from; v < SchemaVersion; v++ {
		step, ok := steps[v]
		if !ok {
			return nil, &MigrationError{From: v, To: v + 1, Reason: "no transformation registered"}
		}
		next, err := step(current)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return validateCurrent(current)
}

// v1 is the original plugin contract: string schema version "1.0",
// hex-string addresses, separate function/comment arrays.
type v1Doc struct {
	SchemaVersion string      `json:"schema_version"`
	Functions     []v1Funcrow `json:"functions"`
	Comments      []v1Comment `json:"comments"`
}

type v1Funcrow struct {
	Address string  `json:"address"`
	Name    string  `json:"name"`
	Size    *uint64 `json:"size"`
}

type v1Comment struct {
	Address string `json:"address"`
	Text    string `json:"text"`
}

type v2Doc struct {
	SchemaVersion int         `json:"schema_version"`
	Functions     []v2Funcrow `json:"functions"`
	Comments      []v2Comment `json:"comments"`
}

type v2Funcrow struct {
	Address uint64 `json:"address"`
	Name    string `json:"name"`
	Size    uint64 `json:"size"`
}

type v2Comment struct {
	Address uint64 `json:"address"`
	Text    string `json:"text"`
}

func migrateV1toV2(raw []byte) ([]byte, error) {
	var doc v1Doc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &MigrationError{From: 1, To: 2, Reason: "malformed v1 document"}
	}
	out := v2Doc{SchemaVersion: 2}
	for _, row := range doc.Functions {
		addr, err := parseHexAddress(row.Address)
		if err != nil {
			return nil, &MigrationError{From: 1, To: 2, Reason: fmt.Sprintf("function address %q: %v", row.Address, err)}
		}
		fn := v2Funcrow{Address: addr, Name: row.Name}
		if row.Size != nil {
			fn.Size = *row.Size
		}
		out.Functions = append(out.Functions, fn)
	}
	for _, row := range doc.Comments {
		addr, err := parseHexAddress(row.Address)
		if err != nil {
			return nil, &MigrationError{From: 1, To: 2, Reason: fmt.Sprintf("comment address %q: %v", row.Address, err)}
		}
		out.Comments = append(out.Comments, v2Comment{Address: addr, Text: row.Text})
	}
	return json.Marshal(&out)
}

func migrateV2toV3(raw []byte) ([]byte, error) {
	var doc v2Doc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &MigrationError{From: 2, To: 3, Reason: "malformed v2 document"}
	}
	snap := Snapshot{SchemaVersion: SchemaVersion}
	for _, fn := range doc.Functions {
		snap.Entries = append(snap.Entries,
			Entry{Kind: KindFunctionMeta, Address: fn.Address, Name: fn.Name, Size: fn.Size},
			Entry{Kind: KindRename, Address: fn.Address, NewName: fn.Name},
		)
	}
	for _, c := range doc.Comments {
		snap.Entries = append(snap.Entries, Entry{Kind: KindComment, Address: c.Address, Text: c.Text})
	}
	// v2 predates the generation stamp; zero marks "origin unknown".
	return json.Marshal(&snap)
}

func parseHexAddress(s string) (uint64, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if trimmed == "" {
		return 0, fmt.Errorf("empty address")
	}
	return strconv.ParseUint(trimmed, 16, 64)
}
