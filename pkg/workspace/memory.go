package workspace

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Workspace backed by plain maps. It serves the dev
// server when no host GUI is attached and doubles as the fixture workspace in
// tests. CFG and exploration results are canned so the engine boundary stays
// opaque.
type Memory struct {
	mu       sync.RWMutex
	program  Program
	funcs    map[uint64]*Function
	comments map[uint64]string
	strs     []StringRef
	xrefs    map[uint64][]Xref

	cfg     CFGSummary
	explore ExploreResult
}

// NewMemory builds an empty in-memory workspace for the given program.
func NewMemory(program Program) *Memory {
	return &Memory{
		program:  program,
		funcs:    make(map[uint64]*Function),
		comments: make(map[uint64]string),
		xrefs:    make(map[uint64][]Xref),
	}
}

// AddFunction registers a function row. Existing rows at the same address are
// replaced.
func (m *Memory) AddFunction(fn Function) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := fn
	m.funcs[fn.Address] = &clone
}

// AddString registers a defined string.
func (m *Memory) AddString(ref StringRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strs = append(m.strs, ref)
}

// AddXref registers a cross-reference to its destination address.
func (m *Memory) AddXref(ref Xref) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.xrefs[ref.To] = append(m.xrefs[ref.To], ref)
}

// SetCFGResult sets the canned summary returned by BuildCFG.
func (m *Memory) SetCFGResult(sum CFGSummary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = sum
}

// SetExploreResult sets the canned result returned by Explore.
func (m *Memory) SetExploreResult(res ExploreResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.explore = res
}

func (m *Memory) Program() Program {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.program
}

func (m *Memory) Functions() []Function {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Function, 0, len(m.funcs))
	for _, fn := range m.funcs {
		out = append(out, *fn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

func (m *Memory) FunctionAt(addr uint64) (Function, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn, ok := m.funcs[addr]
	if !ok {
		return Function{}, fmt.Errorf("function at %#x: %w", addr, ErrNotFound)
	}
	return *fn, nil
}

func (m *Memory) Rename(addr uint64, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("workspace: empty function name")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	fn, ok := m.funcs[addr]
	if !ok {
		return fmt.Errorf("rename at %#x: %w", addr, ErrNotFound)
	}
	fn.Name = name
	return nil
}

func (m *Memory) Comment(addr uint64) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	text, ok := m.comments[addr]
	return text, ok
}

func (m *Memory) Comments() map[uint64]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[uint64]string, len(m.comments))
	for addr, text := range m.comments {
		out[addr] = text
	}
	return out
}

func (m *Memory) SetComment(addr uint64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.comments[addr] = text
	return nil
}

func (m *Memory) Strings() []StringRef {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]StringRef, len(m.strs))
	copy(out, m.strs)
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

func (m *Memory) XrefsTo(addr uint64) ([]Xref, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	refs := m.xrefs[addr]
	out := make([]Xref, len(refs))
	copy(out, refs)
	return out, nil
}

func (m *Memory) BuildCFG(ctx context.Context) (CFGSummary, error) {
	if err := ctx.Err(); err != nil {
		return CFGSummary{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg, nil
}

func (m *Memory) Explore(ctx context.Context, spec ExploreSpec) (ExploreResult, error) {
	if err := ctx.Err(); err != nil {
		return ExploreResult{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := m.explore
	res.Stdin = append([]byte(nil), m.explore.Stdin...)
	return res, nil
}

// DevWorkspace returns a small populated workspace mirroring the placeholder
// program used when running the server without an attached host.
func DevWorkspace() *Memory {
	m := NewMemory(Program{
		Name:         "dev-placeholder.bin",
		Path:         "/tmp/dev-placeholder.bin",
		Architecture: "AMD64",
		Entry:        0x401000,
	})
	m.AddFunction(Function{Address: 0x401000, Name: "main", Size: 0x120})
	m.AddFunction(Function{Address: 0x401200, Name: "check_input", Size: 0x80})
	m.AddFunction(Function{Address: 0x401300, Name: "sub_401300", Size: 0x40})
	m.AddString(StringRef{Address: 0x402000, Value: "enter password:"})
	m.AddString(StringRef{Address: 0x402010, Value: "access granted"})
	m.AddXref(Xref{From: 0x401050, To: 0x401200, Kind: "call"})
	m.SetCFGResult(CFGSummary{Nodes: 42, Edges: 57})
	m.SetExploreResult(ExploreResult{Found: true, Active: 0, Deadended: 3, Stdin: []byte("hunter2\n")})
	return m
}
