// Package workspace declares the contract the coordination core expects from
// the host's live analysis workspace. The host (an interactive GUI embedding
// an analysis engine) owns the workspace; this package only defines the calls
// routed to it. Implementations must return typed results or a classifiable
// error, never panic across the boundary.
package workspace

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates no function, string or comment exists at the address.
	ErrNotFound = errors.New("workspace: address not found")
	// ErrUnsupported indicates the host does not expose the requested capability.
	ErrUnsupported = errors.New("workspace: capability not available")
)

// Program describes the binary currently loaded in the workspace.
type Program struct {
	Name         string `json:"name"`
	Path         string `json:"path"`
	Architecture string `json:"architecture"`
	Entry        uint64 `json:"entry"`
}

// Function is one entry of the workspace function table.
type Function struct {
	Address uint64 `json:"address"`
	Name    string `json:"name"`
	Size    uint64 `json:"size"`
}

// StringRef is a defined string discovered in the binary.
type StringRef struct {
	Address uint64 `json:"address"`
	Value   string `json:"value"`
}

// Xref is a cross-reference into a target address.
type Xref struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
	Kind string `json:"kind"`
}

// CFGSummary reports the size of a built control-flow graph.
type CFGSummary struct {
	Nodes int `json:"nodes"`
	Edges int `json:"edges"`
}

// ExploreSpec parameterizes a symbolic exploration toward a target address.
type ExploreSpec struct {
	Find          uint64
	Avoid         []uint64
	SymbolicStdin bool
}

// ExploreResult summarizes a finished exploration. Stdin holds a satisfying
// input when a path to the target was found.
type ExploreResult struct {
	Found     bool
	Active    int
	Deadended int
	Stdin     []byte
}

// Workspace is the narrow view of the host's analysis state. All calls are
// made while the caller holds the session lock, so implementations need not
// add their own synchronization for correctness, only for their own internals.
//
// BuildCFG and Explore delegate to the analysis engine and may block for the
// duration of the analysis; they must honor ctx cancellation when the engine
// supports it.
type Workspace interface {
	Program() Program
	Functions() []Function
	FunctionAt(addr uint64) (Function, error)
	Rename(addr uint64, name string) error
	Comment(addr uint64) (string, bool)
	Comments() map[uint64]string
	SetComment(addr uint64, text string) error
	Strings() []StringRef
	XrefsTo(addr uint64) ([]Xref, error)
	BuildCFG(ctx context.Context) (CFGSummary, error)
	Explore(ctx context.Context, spec ExploreSpec) (ExploreResult, error)
}
