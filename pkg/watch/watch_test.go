package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validPayload() []byte {
	return []byte(`{"schema_version": 3, "generation": 1, "entries": [
		{"kind": "rename", "address": 4198400, "new_name": "main"}
	]}`)
}

func waitEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("events channel closed before expected event")
		}
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for validation event")
	}
	return Event{}
}

func TestWatchValidatesImmediatelyThenOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	if err := os.WriteFile(path, validPayload(), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan Event, 4)
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, events) }()

	first := waitEvent(t, events)
	if first.Err != nil {
		t.Fatalf("initial validation failed: %v", first.Err)
	}
	if first.Snapshot == nil || len(first.Snapshot.Entries) != 1 {
		t.Fatalf("initial snapshot = %+v", first.Snapshot)
	}

	// Break the file and expect a failing pass.
	if err := os.WriteFile(path, []byte(`{"generation": 1}`), 0o644); err != nil {
		t.Fatalf("rewrite file: %v", err)
	}
	second := waitEvent(t, events)
	if second.Err == nil {
		t.Fatal("expected validation error after corrupting the file")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("watch returned: %v", err)
	}
	if _, ok := <-events; ok {
		t.Fatal("events channel should be closed after Watch returns")
	}
}

func TestWatchMissingDirectory(t *testing.T) {
	events := make(chan Event, 1)
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "absent", "state.json"), events)
	if err == nil {
		t.Fatal("expected error for unwatchable directory")
	}
}

func TestWatchReportsLoadErrorForMissingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan Event, 1)
	go func() { _ = Watch(ctx, path, events) }()

	first := waitEvent(t, events)
	if first.Err == nil {
		t.Fatal("expected error validating a file that does not exist yet")
	}
	if first.Snapshot != nil {
		t.Fatalf("snapshot should be nil on load error, got %+v", first.Snapshot)
	}
}
