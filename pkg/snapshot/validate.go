package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrUnsupportedVersion indicates the snapshot declares a schema version
// newer than this implementation understands. Forward compatibility is
// deliberately not attempted; partially-understood formats risk silent data
// loss.
var ErrUnsupportedVersion = errors.New("snapshot: schema version not supported")

// ValidationError reports the first structural problem found, located by
// entry index and field. Entry is -1 for top-level document errors.
type ValidationError struct {
	Entry  int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Entry < 0 {
		return fmt.Sprintf("snapshot: invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("snapshot: entry %d: invalid %s: %s", e.Entry, e.Field, e.Reason)
}

func invalid(entry int, field, reason string) error {
	return &ValidationError{Entry: entry, Field: field, Reason: reason}
}

// Validate parses raw snapshot JSON, checks it structurally against its
// declared schema version and returns a Snapshot at the current version,
// running the migration chain when the payload is older. Versions above
// SchemaVersion fail closed with ErrUnsupportedVersion.
func Validate(raw []byte) (*Snapshot, error) {
	version, err := sniffVersion(raw)
	if err != nil {
		return nil, err
	}
	switch {
	case version > SchemaVersion:
		return nil, fmt.Errorf("%w: got %d, max %d", ErrUnsupportedVersion, version, SchemaVersion)
	case version < SchemaVersion:
		return Migrate(raw, version)
	default:
		return validateCurrent(raw)
	}
}

// sniffVersion extracts the declared schema version. v1 used the string
// "1.0"; later versions use integers.
func sniffVersion(raw []byte) (int, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return 0, invalid(-1, "document", "not a JSON object")
	}
	field, ok := doc["schema_version"]
	if !ok {
		return 0, invalid(-1, "schema_version", "missing")
	}
	var asInt int
	if err := json.Unmarshal(field, &asInt); err == nil {
		if asInt < 1 {
			return 0, invalid(-1, "schema_version", "must be a positive integer")
		}
		return asInt, nil
	}
	var asString string
	if err := json.Unmarshal(field, &asString); err == nil && asString == "1.0" {
		return 1, nil
	}
	return 0, invalid(-1, "schema_version", "must be an integer or the legacy string \"1.0\"")
}

// validateCurrent checks a payload already at the current schema version,
// reporting the first structural error with its location.
func validateCurrent(raw []byte) (*Snapshot, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, invalid(-1, "document", "not a JSON object")
	}
	genRaw, ok := doc["generation"]
	if !ok {
		return nil, invalid(-1, "generation", "missing")
	}
	var generation int64
	if err := json.Unmarshal(genRaw, &generation); err != nil || generation < 0 {
		return nil, invalid(-1, "generation", "must be a non-negative integer")
	}
	entriesRaw, ok := doc["entries"]
	if !ok {
		return nil, invalid(-1, "entries", "missing")
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(entriesRaw, &entries); err != nil {
		return nil, invalid(-1, "entries", "must be an array")
	}

	snap := &Snapshot{
		SchemaVersion: SchemaVersion,
		Generation:    uint64(generation),
		Entries:       make([]Entry, 0, len(entries)),
	}
	commentSeen := make(map[uint64]struct{})
	for i, entryRaw := range entries {
		entry, err := validateEntry(i, entryRaw)
		if err != nil {
			return nil, err
		}
		if entry.Kind == KindComment {
			if _, dup := commentSeen[entry.Address]; dup {
				return nil, invalid(i, "address", fmt.Sprintf("duplicate comment key %#x", entry.Address))
			}
			commentSeen[entry.Address] = struct{}{}
		}
		snap.Entries = append(snap.Entries, entry)
	}
	return snap, nil
}

func validateEntry(index int, raw json.RawMessage) (Entry, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Entry{}, invalid(index, "entry", "must be an object")
	}

	kindRaw, ok := fields["kind"]
	if !ok {
		return Entry{}, invalid(index, "kind", "missing")
	}
	var kind Kind
	if err := json.Unmarshal(kindRaw, &kind); err != nil {
		return Entry{}, invalid(index, "kind", "must be a string")
	}
	if _, known := kindRank[kind]; !known {
		return Entry{}, invalid(index, "kind", fmt.Sprintf("unrecognized kind %q", kind))
	}

	addr, err := parseAddress(index, fields)
	if err != nil {
		return Entry{}, err
	}

	entry := Entry{Kind: kind, Address: addr}
	switch kind {
	case KindRename:
		name, err := requireString(index, fields, "new_name")
		if err != nil {
			return Entry{}, err
		}
		entry.NewName = name
	case KindComment:
		text, ok := fields["text"]
		if !ok {
			return Entry{}, invalid(index, "text", "missing")
		}
		if err := json.Unmarshal(text, &entry.Text); err != nil {
			return Entry{}, invalid(index, "text", "must be a string")
		}
	case KindFunctionMeta:
		name, err := requireString(index, fields, "name")
		if err != nil {
			return Entry{}, err
		}
		entry.Name = name
		if sizeRaw, ok := fields["size"]; ok {
			var size int64
			if err := json.Unmarshal(sizeRaw, &size); err != nil || size < 0 {
				return Entry{}, invalid(index, "size", "must be a non-negative integer")
			}
			entry.Size = uint64(size)
		}
	}
	return entry, nil
}

func parseAddress(index int, fields map[string]json.RawMessage) (uint64, error) {
	addrRaw, ok := fields["address"]
	if !ok {
		return 0, invalid(index, "address", "missing")
	}
	dec := json.NewDecoder(bytes.NewReader(addrRaw))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return 0, invalid(index, "address", "must be a number")
	}
	num, ok := value.(json.Number)
	if !ok {
		return 0, invalid(index, "address", "must be a number")
	}
	signed, err := num.Int64()
	if err != nil {
		// Addresses above int64 range are still valid 64-bit addresses.
		unsigned, uerr := strconv.ParseUint(num.String(), 10, 64)
		if uerr != nil {
			return 0, invalid(index, "address", "must be an integer")
		}
		return unsigned, nil
	}
	if signed < 0 {
		return 0, invalid(index, "address", "must be non-negative")
	}
	return uint64(signed), nil
}

func requireString(index int, fields map[string]json.RawMessage, name string) (string, error) {
	raw, ok := fields[name]
	if !ok {
		return "", invalid(index, name, "missing")
	}
	var out string
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", invalid(index, name, "must be a string")
	}
	if out == "" {
		return "", invalid(index, name, "must be non-empty")
	}
	return out, nil
}
