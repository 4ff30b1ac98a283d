// Package session serializes access to the one live analysis workspace.
//
// A Handle is the single choke point between the tool-call server and the
// workspace owned by the host GUI: every read and every mutation, from either
// side, must run inside Handle.WithSession. The handle enforces a bounded
// lock wait, a monotonic generation counter stamped on each committed
// mutation, and staleness detection across rebinds.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/godeps/revlink/pkg/workspace"
)

var (
	// ErrNoWorkspace indicates Bind was called with a nil workspace.
	ErrNoWorkspace = errors.New("session: no workspace provided")
	// ErrNotBound indicates no session is currently bound to the handle.
	ErrNotBound = errors.New("session: no active session")
	// ErrStale indicates the operation targeted a session superseded by a rebind.
	ErrStale = errors.New("session: superseded by a newer binding")
	// ErrBusy indicates the session lock could not be acquired within the timeout.
	ErrBusy = errors.New("session: lock acquisition timed out")
	// ErrInvalidName indicates a rename was attempted with an empty name.
	ErrInvalidName = errors.New("session: empty function name")
)

// DefaultLockTimeout bounds how long a caller waits for the session lock
// before the wait is reported as ErrBusy.
const DefaultLockTimeout = 5 * time.Second

// Option customizes a Handle.
type Option func(*Handle)

// WithLockTimeout overrides the bounded lock wait.
func WithLockTimeout(d time.Duration) Option {
	return func(h *Handle) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithAcquireObserver installs a callback invoked with the time spent waiting
// for the lock on every successful acquisition. Used for telemetry.
func WithAcquireObserver(fn func(wait time.Duration)) Option {
	return func(h *Handle) { h.observe = fn }
}

// Handle owns the binding between the coordination layer and the active
// workspace. The zero value is not usable; construct with NewHandle.
type Handle struct {
	sem     chan struct{}
	timeout time.Duration
	observe func(time.Duration)

	generation atomic.Uint64
	epoch      atomic.Uint64

	// cur is guarded by sem.
	cur *Session
}

// NewHandle returns an unbound handle.
func NewHandle(opts ...Option) *Handle {
	h := &Handle{
		sem:     make(chan struct{}, 1),
		timeout: DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Info describes a bound session without exposing the workspace reference.
type Info struct {
	ID         string    `json:"id"`
	BoundAt    time.Time `json:"bound_at"`
	Generation uint64    `json:"generation"`
}

// Bind replaces the active session with a fresh binding around ws. The
// generation counter restarts at zero and any holder of the previous session
// fails with ErrStale on its next access.
func (h *Handle) Bind(ctx context.Context, ws workspace.Workspace) (Info, error) {
	if ws == nil {
		return Info{}, ErrNoWorkspace
	}
	if err := h.acquire(ctx); err != nil {
		return Info{}, err
	}
	defer h.release()

	epoch := h.epoch.Add(1)
	h.generation.Store(0)
	h.cur = &Session{
		id:      uuid.NewString(),
		epoch:   epoch,
		boundAt: time.Now().UTC(),
		handle:  h,
		ws:      ws,
	}
	return h.cur.info(), nil
}

// WithSession acquires the lock, verifies a session is bound and invokes fn
// with it. The lock is released on every exit path. The *Session passed to fn
// must not be retained beyond fn's return; retained sessions fail with
// ErrStale once the handle is rebound.
func (h *Handle) WithSession(ctx context.Context, fn func(*Session) error) error {
	if err := h.acquire(ctx); err != nil {
		return err
	}
	defer h.release()

	if h.cur == nil {
		return ErrNotBound
	}
	return fn(h.cur)
}

// Generation reads the current generation counter without taking the lock.
func (h *Handle) Generation() uint64 { return h.generation.Load() }

// Bound reports whether a session is currently bound. Lock-free; the answer
// may be stale by the time the caller acts on it.
func (h *Handle) Bound() bool { return h.epoch.Load() > 0 }

func (h *Handle) acquire(ctx context.Context) error {
	start := time.Now()
	timer := time.NewTimer(h.timeout)
	defer timer.Stop()
	select {
	case h.sem <- struct{}{}:
		if h.observe != nil {
			h.observe(time.Since(start))
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("session: acquire: %w", ctx.Err())
	case <-timer.C:
		return fmt.Errorf("%w after %s", ErrBusy, h.timeout)
	}
}

func (h *Handle) release() { <-h.sem }

// Session is the live binding handed to WithSession callbacks. All methods
// assume the caller holds the handle lock for the duration of the callback.
type Session struct {
	id      string
	epoch   uint64
	boundAt time.Time
	handle  *Handle
	ws      workspace.Workspace
}

// ID returns the unique identifier stamped at bind time.
func (s *Session) ID() string { return s.id }

// BoundAt returns when this binding was established.
func (s *Session) BoundAt() time.Time { return s.boundAt }

// Generation returns the generation counter as of the last committed mutation.
func (s *Session) Generation() uint64 { return s.handle.generation.Load() }

func (s *Session) info() Info {
	return Info{ID: s.id, BoundAt: s.boundAt, Generation: s.handle.generation.Load()}
}

// check guards every access against a rebind that happened after this Session
// was captured.
func (s *Session) check() error {
	if s.handle.epoch.Load() != s.epoch {
		return ErrStale
	}
	return nil
}

// Program returns the descriptor of the bound program.
func (s *Session) Program() (workspace.Program, error) {
	if err := s.check(); err != nil {
		return workspace.Program{}, err
	}
	return s.ws.Program(), nil
}

// Functions lists the workspace function table.
func (s *Session) Functions() ([]workspace.Function, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.ws.Functions(), nil
}

// FunctionAt fetches one function row.
func (s *Session) FunctionAt(addr uint64) (workspace.Function, error) {
	if err := s.check(); err != nil {
		return workspace.Function{}, err
	}
	return s.ws.FunctionAt(addr)
}

// Rename renames the function at addr and stamps the mutation with the next
// generation value, returned to the caller. The increment happens in the same
// critical section as the rename so no reader can observe the new name under
// the old generation.
func (s *Session) Rename(addr uint64, name string) (uint64, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	if strings.TrimSpace(name) == "" {
		return 0, ErrInvalidName
	}
	if err := s.ws.Rename(addr, name); err != nil {
		return 0, err
	}
	return s.handle.generation.Add(1), nil
}

// Comment fetches the comment at addr, if any.
func (s *Session) Comment(addr uint64) (string, bool, error) {
	if err := s.check(); err != nil {
		return "", false, err
	}
	text, ok := s.ws.Comment(addr)
	return text, ok, nil
}

// Comments returns all comments keyed by address.
func (s *Session) Comments() (map[uint64]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.ws.Comments(), nil
}

// SetComment stores comment text at addr and stamps the mutation, returning
// the new generation.
func (s *Session) SetComment(addr uint64, text string) (uint64, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	if err := s.ws.SetComment(addr, text); err != nil {
		return 0, err
	}
	return s.handle.generation.Add(1), nil
}

// Strings lists defined strings.
func (s *Session) Strings() ([]workspace.StringRef, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.ws.Strings(), nil
}

// XrefsTo resolves cross-references to addr.
func (s *Session) XrefsTo(addr uint64) ([]workspace.Xref, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.ws.XrefsTo(addr)
}

// BuildCFG delegates a CFG build to the analysis engine. The call runs under
// the session lock because concurrent workspace mutation mid-analysis is
// unsafe; the handle's lock timeout protects other callers from a stuck
// engine. A successful build counts as a structural mutation.
func (s *Session) BuildCFG(ctx context.Context) (workspace.CFGSummary, uint64, error) {
	if err := s.check(); err != nil {
		return workspace.CFGSummary{}, 0, err
	}
	sum, err := s.ws.BuildCFG(ctx)
	if err != nil {
		return workspace.CFGSummary{}, 0, err
	}
	return sum, s.handle.generation.Add(1), nil
}

// Explore delegates a symbolic exploration to the analysis engine. Read-only
// with respect to the workspace; the generation is not advanced.
func (s *Session) Explore(ctx context.Context, spec workspace.ExploreSpec) (workspace.ExploreResult, error) {
	if err := s.check(); err != nil {
		return workspace.ExploreResult{}, err
	}
	return s.ws.Explore(ctx, spec)
}
