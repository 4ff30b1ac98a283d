package snapshot

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCurrentVersion(t *testing.T) {
	raw := []byte(`{
		"schema_version": 3,
		"generation": 7,
		"entries": [
			{"kind": "rename", "address": 4198400, "new_name": "check_input"},
			{"kind": "comment", "address": 4198400, "text": "validates the password"},
			{"kind": "function_meta", "address": 4198400, "name": "check_input", "size": 128}
		]
	}`)
	snap, err := Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, snap.SchemaVersion)
	assert.Equal(t, uint64(7), snap.Generation)
	require.Len(t, snap.Entries, 3)
	assert.Equal(t, KindRename, snap.Entries[0].Kind)
	assert.Equal(t, uint64(0x401000), snap.Entries[0].Address)
}

func TestValidateRejectsFutureVersion(t *testing.T) {
	raw := []byte(fmt.Sprintf(`{"schema_version": %d, "generation": 0, "entries": []}`, SchemaVersion+1))
	_, err := Validate(raw)
	require.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestValidateReportsLocation(t *testing.T) {
	cases := []struct {
		name      string
		raw       string
		wantEntry int
		wantField string
	}{
		{"missing version", `{"generation": 0, "entries": []}`, -1, "schema_version"},
		{"missing generation", `{"schema_version": 3, "entries": []}`, -1, "generation"},
		{"negative generation", `{"schema_version": 3, "generation": -1, "entries": []}`, -1, "generation"},
		{"entries not array", `{"schema_version": 3, "generation": 0, "entries": {}}`, -1, "entries"},
		{"unknown kind", `{"schema_version": 3, "generation": 0, "entries": [{"kind": "paint", "address": 1}]}`, 0, "kind"},
		{"negative address", `{"schema_version": 3, "generation": 0, "entries": [{"kind": "comment", "address": -5, "text": "x"}]}`, 0, "address"},
		{"rename without name", `{"schema_version": 3, "generation": 0, "entries": [{"kind": "rename", "address": 1}]}`, 0, "new_name"},
		{"comment without text", `{"schema_version": 3, "generation": 0, "entries": [
			{"kind": "rename", "address": 1, "new_name": "f"},
			{"kind": "comment", "address": 2}
		]}`, 1, "text"},
		{"duplicate comment key", `{"schema_version": 3, "generation": 0, "entries": [
			{"kind": "comment", "address": 9, "text": "a"},
			{"kind": "comment", "address": 9, "text": "b"}
		]}`, 1, "address"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Validate([]byte(tc.raw))
			var verr *ValidationError
			require.ErrorAs(t, err, &verr, "expected a validation error")
			assert.Equal(t, tc.wantEntry, verr.Entry)
			assert.Equal(t, tc.wantField, verr.Field)
		})
	}
}

func TestValidateAcceptsLargeAddresses(t *testing.T) {
	raw := []byte(`{"schema_version": 3, "generation": 0, "entries": [
		{"kind": "comment", "address": 18446744073709551615, "text": "top of the address space"}
	]}`)
	snap, err := Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, uint64(18446744073709551615), snap.Entries[0].Address)
}

func TestEncodeIsDeterministic(t *testing.T) {
	snap := &Snapshot{
		SchemaVersion: SchemaVersion,
		Generation:    2,
		Entries: []Entry{
			{Kind: KindComment, Address: 0x500, Text: "later"},
			{Kind: KindRename, Address: 0x100, NewName: "entry"},
			{Kind: KindFunctionMeta, Address: 0x100, Name: "entry", Size: 32},
		},
	}
	first, err := snap.Encode()
	require.NoError(t, err)
	second, err := snap.Encode()
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Encode orders by address, then kind; the original slice is untouched.
	decoded, err := Validate(first)
	require.NoError(t, err)
	assert.Equal(t, KindFunctionMeta, decoded.Entries[0].Kind)
	assert.Equal(t, KindRename, decoded.Entries[1].Kind)
	assert.Equal(t, KindComment, decoded.Entries[2].Kind)
	assert.Equal(t, KindComment, snap.Entries[0].Kind)
}

func TestLoadSaveRoundTrip(t *testing.T) {
	path := t.TempDir() + "/snap.json"
	snap := &Snapshot{
		SchemaVersion: SchemaVersion,
		Generation:    4,
		Entries:       []Entry{{Kind: KindRename, Address: 0x401000, NewName: "main"}},
	}
	require.NoError(t, Save(path, snap))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, snap.Generation, loaded.Generation)
	assert.Equal(t, snap.Entries, loaded.Entries)

	_, err = Load(path + ".missing")
	assert.Error(t, err)
}

func TestValidateRejectsNonObject(t *testing.T) {
	_, err := Validate([]byte(`[1, 2, 3]`))
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, -1, verr.Entry)
}
