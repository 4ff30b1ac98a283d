// Package watch re-validates a snapshot file whenever it changes on disk.
// Used by the validate --watch CLI mode during contract development.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/godeps/revlink/pkg/snapshot"
)

// Event reports one validation pass triggered by a file change.
type Event struct {
	Path     string
	Snapshot *snapshot.Snapshot
	Err      error
}

const debounce = 100 * time.Millisecond

// Watch validates path once immediately, then on every write until ctx is
// canceled. Events are delivered on the channel; the channel is closed when
// Watch returns. Editors often emit bursts of writes, so events are debounced.
func Watch(ctx context.Context, path string, events chan<- Event) error {
	defer close(events)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors replace files on save and
	// the inode-level watch would be lost.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}

	validate := func() {
		snap, verr := snapshot.Load(path)
		select {
		case events <- Event{Path: path, Snapshot: snap, Err: verr}:
		case <-ctx.Done():
		}
	}
	validate()

	var timer *time.Timer
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			abs, _ := filepath.Abs(ev.Name)
			if abs != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			pending = timer.C
		case <-pending:
			pending = nil
			validate()
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			select {
			case events <- Event{Path: path, Err: werr}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
