package snapshot

import (
	"context"
	"fmt"
	"sort"

	"github.com/godeps/revlink/pkg/session"
)

// RecordError describes one snapshot record that could not be applied.
type RecordError struct {
	Index   int    `json:"index"`
	Kind    Kind   `json:"kind"`
	Address uint64 `json:"address"`
	Reason  string `json:"reason"`
}

// ApplyReport summarizes an Apply run. Applied counts records that changed
// workspace state, Skipped counts records already satisfied (so re-applying
// an identical snapshot reports zero applied), Failed counts per-record
// errors listed in Errors. GenerationDrift is set when the target session's
// generation differed from the snapshot's at apply time; drift informs the
// caller, it never blocks the apply.
type ApplyReport struct {
	SnapshotGeneration uint64        `json:"snapshot_generation"`
	SessionGeneration  uint64        `json:"session_generation"`
	GenerationDrift    bool          `json:"generation_drift"`
	Applied            int           `json:"applied"`
	Skipped            int           `json:"skipped"`
	Failed             int           `json:"failed"`
	Errors             []RecordError `json:"errors,omitempty"`
}

// Capture reads the exportable facts from an already-acquired session into a
// new Snapshot stamped with the session's current generation. Used by Export
// and by batch export actions that already hold the lock.
func Capture(s *session.Session) (*Snapshot, error) {
	funcs, err := s.Functions()
	if err != nil {
		return nil, err
	}
	comments, err := s.Comments()
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{SchemaVersion: SchemaVersion, Generation: s.Generation()}
	for _, fn := range funcs {
		snap.Entries = append(snap.Entries,
			Entry{Kind: KindFunctionMeta, Address: fn.Address, Name: fn.Name, Size: fn.Size},
			Entry{Kind: KindRename, Address: fn.Address, NewName: fn.Name},
		)
	}
	addrs := make([]uint64, 0, len(comments))
	for addr := range comments {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	for _, addr := range addrs {
		snap.Entries = append(snap.Entries, Entry{Kind: KindComment, Address: addr, Text: comments[addr]})
	}
	return snap, nil
}

// Export captures a snapshot under a single session scope, so the result is a
// consistent point-in-time view even while the GUI thread is active.
func Export(ctx context.Context, h *session.Handle) (*Snapshot, error) {
	var snap *Snapshot
	err := h.WithSession(ctx, func(s *session.Session) error {
		var cerr error
		snap, cerr = Capture(s)
		return cerr
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Apply replays snapshot records against the live session under one session
// scope. Per-record failures are collected, not fatal; only session-level
// errors (not bound, lock timeout) abort the call.
func Apply(ctx context.Context, snap *Snapshot, h *session.Handle) (*ApplyReport, error) {
	report := &ApplyReport{SnapshotGeneration: snap.Generation}
	err := h.WithSession(ctx, func(s *session.Session) error {
		report.SessionGeneration = s.Generation()
		report.GenerationDrift = report.SessionGeneration != snap.Generation
		for i, entry := range snap.Entries {
			applyEntry(s, i, entry, report)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func applyEntry(s *session.Session, index int, entry Entry, report *ApplyReport) {
	fail := func(err error) {
		report.Failed++
		report.Errors = append(report.Errors, RecordError{
			Index:   index,
			Kind:    entry.Kind,
			Address: entry.Address,
			Reason:  err.Error(),
		})
	}

	switch entry.Kind {
	case KindRename:
		fn, err := s.FunctionAt(entry.Address)
		if err != nil {
			fail(err)
			return
		}
		if fn.Name == entry.NewName {
			report.Skipped++
			return
		}
		if _, err := s.Rename(entry.Address, entry.NewName); err != nil {
			fail(err)
			return
		}
		report.Applied++
	case KindComment:
		current, ok, err := s.Comment(entry.Address)
		if err != nil {
			fail(err)
			return
		}
		if ok && current == entry.Text {
			report.Skipped++
			return
		}
		if _, err := s.SetComment(entry.Address, entry.Text); err != nil {
			fail(err)
			return
		}
		report.Applied++
	case KindFunctionMeta:
		// Metadata records verify the target still exists; they carry no
		// mutation of their own.
		if _, err := s.FunctionAt(entry.Address); err != nil {
			fail(err)
			return
		}
		report.Skipped++
	default:
		fail(fmt.Errorf("unrecognized kind %q", entry.Kind))
	}
}
