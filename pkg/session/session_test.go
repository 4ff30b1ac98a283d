package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/godeps/revlink/pkg/workspace"
)

func testWorkspace() *workspace.Memory {
	ws := workspace.NewMemory(workspace.Program{Name: "a.out", Path: "/tmp/a.out", Architecture: "AMD64", Entry: 0x401000})
	ws.AddFunction(workspace.Function{Address: 0x401000, Name: "main", Size: 0x100})
	ws.AddFunction(workspace.Function{Address: 0x401200, Name: "sub_401200", Size: 0x40})
	return ws
}

func TestBindRequiresWorkspace(t *testing.T) {
	h := NewHandle()
	if _, err := h.Bind(context.Background(), nil); !errors.Is(err, ErrNoWorkspace) {
		t.Fatalf("bind nil workspace: got %v, want ErrNoWorkspace", err)
	}
}

func TestWithSessionNotBound(t *testing.T) {
	h := NewHandle()
	err := h.WithSession(context.Background(), func(*Session) error { return nil })
	if !errors.Is(err, ErrNotBound) {
		t.Fatalf("unbound handle: got %v, want ErrNotBound", err)
	}
}

func TestBindResetsGeneration(t *testing.T) {
	h := NewHandle()
	ctx := context.Background()
	if _, err := h.Bind(ctx, testWorkspace()); err != nil {
		t.Fatalf("bind: %v", err)
	}
	err := h.WithSession(ctx, func(s *Session) error {
		if _, err := s.Rename(0x401200, "check_input"); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if got := h.Generation(); got != 1 {
		t.Fatalf("generation = %d, want 1", got)
	}
	info, err := h.Bind(ctx, testWorkspace())
	if err != nil {
		t.Fatalf("rebind: %v", err)
	}
	if h.Generation() != 0 || info.Generation != 0 {
		t.Fatalf("generation after rebind = %d (info %d), want 0", h.Generation(), info.Generation)
	}
}

func TestGenerationCountsEveryMutation(t *testing.T) {
	const workers = 8
	const perWorker = 25

	h := NewHandle()
	ctx := context.Background()
	if _, err := h.Bind(ctx, testWorkspace()); err != nil {
		t.Fatalf("bind: %v", err)
	}

	gens := make(chan uint64, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				err := h.WithSession(ctx, func(s *Session) error {
					gen, err := s.SetComment(0x401000, fmt.Sprintf("w%d-%d", w, i))
					if err != nil {
						return err
					}
					gens <- gen
					return nil
				})
				if err != nil {
					t.Errorf("worker %d: %v", w, err)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(gens)

	if got := h.Generation(); got != workers*perWorker {
		t.Fatalf("final generation = %d, want %d", got, workers*perWorker)
	}
	seen := make(map[uint64]bool)
	for gen := range gens {
		if seen[gen] {
			t.Fatalf("generation %d stamped twice", gen)
		}
		seen[gen] = true
	}
	if len(seen) != workers*perWorker {
		t.Fatalf("stamped %d distinct generations, want %d", len(seen), workers*perWorker)
	}
}

func TestStaleSessionAfterRebind(t *testing.T) {
	h := NewHandle()
	ctx := context.Background()
	if _, err := h.Bind(ctx, testWorkspace()); err != nil {
		t.Fatalf("bind: %v", err)
	}

	var leaked *Session
	if err := h.WithSession(ctx, func(s *Session) error {
		leaked = s
		return nil
	}); err != nil {
		t.Fatalf("with session: %v", err)
	}
	if _, err := h.Bind(ctx, testWorkspace()); err != nil {
		t.Fatalf("rebind: %v", err)
	}

	if _, err := leaked.Functions(); !errors.Is(err, ErrStale) {
		t.Fatalf("leaked session read: got %v, want ErrStale", err)
	}
	if _, err := leaked.Rename(0x401000, "pwn"); !errors.Is(err, ErrStale) {
		t.Fatalf("leaked session mutate: got %v, want ErrStale", err)
	}
}

func TestLockTimeoutReportsBusy(t *testing.T) {
	h := NewHandle(WithLockTimeout(50 * time.Millisecond))
	ctx := context.Background()
	if _, err := h.Bind(ctx, testWorkspace()); err != nil {
		t.Fatalf("bind: %v", err)
	}

	holding := make(chan struct{})
	releaseC := make(chan struct{})
	go func() {
		_ = h.WithSession(ctx, func(*Session) error {
			close(holding)
			<-releaseC
			return nil
		})
	}()
	<-holding

	err := h.WithSession(ctx, func(*Session) error { return nil })
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("contended acquire: got %v, want ErrBusy", err)
	}
	close(releaseC)
}

func TestAcquireHonorsContextCancel(t *testing.T) {
	h := NewHandle(WithLockTimeout(5 * time.Second))
	bg := context.Background()
	if _, err := h.Bind(bg, testWorkspace()); err != nil {
		t.Fatalf("bind: %v", err)
	}

	holding := make(chan struct{})
	releaseC := make(chan struct{})
	go func() {
		_ = h.WithSession(bg, func(*Session) error {
			close(holding)
			<-releaseC
			return nil
		})
	}()
	<-holding
	defer close(releaseC)

	ctx, cancel := context.WithTimeout(bg, 20*time.Millisecond)
	defer cancel()
	err := h.WithSession(ctx, func(*Session) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("canceled acquire: got %v, want deadline exceeded", err)
	}
}

func TestRebindBlocksUntilInFlightScopeReleases(t *testing.T) {
	h := NewHandle()
	ctx := context.Background()
	if _, err := h.Bind(ctx, testWorkspace()); err != nil {
		t.Fatalf("bind: %v", err)
	}

	entered := make(chan struct{})
	releaseC := make(chan struct{})
	observed := make(chan string, 1)
	go func() {
		_ = h.WithSession(ctx, func(s *Session) error {
			close(entered)
			<-releaseC
			// Still inside the original scope: the rebind must not have
			// swapped the workspace under us.
			program, err := s.Program()
			if err != nil {
				observed <- err.Error()
				return err
			}
			observed <- program.Name
			return nil
		})
	}()
	<-entered

	bound := make(chan struct{})
	go func() {
		other := workspace.NewMemory(workspace.Program{Name: "other.bin"})
		if _, err := h.Bind(ctx, other); err != nil {
			t.Errorf("rebind: %v", err)
		}
		close(bound)
	}()

	select {
	case <-bound:
		t.Fatal("bind completed while another caller held the session")
	case <-time.After(50 * time.Millisecond):
	}

	close(releaseC)
	<-bound
	if got := <-observed; got != "a.out" {
		t.Fatalf("in-flight scope observed %q, want original workspace", got)
	}
}

func TestRenameValidatesName(t *testing.T) {
	h := NewHandle()
	ctx := context.Background()
	if _, err := h.Bind(ctx, testWorkspace()); err != nil {
		t.Fatalf("bind: %v", err)
	}
	err := h.WithSession(ctx, func(s *Session) error {
		_, err := s.Rename(0x401000, "  ")
		return err
	})
	if !errors.Is(err, ErrInvalidName) {
		t.Fatalf("blank rename: got %v, want ErrInvalidName", err)
	}
}

func TestCFGBuildAdvancesGeneration(t *testing.T) {
	h := NewHandle()
	ctx := context.Background()
	ws := testWorkspace()
	ws.SetCFGResult(workspace.CFGSummary{Nodes: 10, Edges: 12})
	if _, err := h.Bind(ctx, ws); err != nil {
		t.Fatalf("bind: %v", err)
	}
	err := h.WithSession(ctx, func(s *Session) error {
		sum, gen, err := s.BuildCFG(ctx)
		if err != nil {
			return err
		}
		if sum.Nodes != 10 || sum.Edges != 12 {
			t.Errorf("cfg summary = %+v", sum)
		}
		if gen != 1 {
			t.Errorf("cfg generation = %d, want 1", gen)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("build cfg: %v", err)
	}
}
