package server

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/godeps/revlink/pkg/batch"
	"github.com/godeps/revlink/pkg/session"
	"github.com/godeps/revlink/pkg/snapshot"
	"github.com/godeps/revlink/pkg/telemetry"
	"github.com/godeps/revlink/pkg/workspace"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 1000
)

var errInvalidArgument = errors.New("server: invalid argument")

func (s *Server) register() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_program",
		Description: "Describe the program bound to the active session.",
	}, instrument(s, "get_program", s.getProgram))
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_functions",
		Description: "List functions from the active workspace, paged by offset/limit.",
	}, instrument(s, "list_functions", s.listFunctions))
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_function",
		Description: "Fetch one function row by address.",
	}, instrument(s, "get_function", s.getFunction))
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "rename_function",
		Description: "Rename the function at an address. Advances the session generation.",
	}, instrument(s, "rename_function", s.renameFunction))
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "set_comment",
		Description: "Set comment text at an address. Advances the session generation.",
	}, instrument(s, "set_comment", s.setComment))
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_strings",
		Description: "List defined strings, paged by offset/limit.",
	}, instrument(s, "list_strings", s.listStrings))
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_xrefs",
		Description: "List cross-references to a target address.",
	}, instrument(s, "get_xrefs", s.getXrefs))
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "build_cfg",
		Description: "Build the control-flow graph and report its size. Runs under the session lock.",
	}, instrument(s, "build_cfg", s.buildCFG))
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "explore",
		Description: "Symbolically explore toward a target address and report a satisfying input when found.",
	}, instrument(s, "explore", s.explore))
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "export_state",
		Description: "Export a versioned snapshot of renames, comments and function metadata.",
	}, instrument(s, "export_state", s.exportState))
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "import_state",
		Description: "Validate a snapshot and apply its records to the active session, reporting per-record outcomes and generation drift.",
	}, instrument(s, "import_state", s.importState))
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "validate_snapshot",
		Description: "Validate snapshot JSON without applying it; reports the first structural error with its location.",
	}, instrument(s, "validate_snapshot", s.validateSnapshot))
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "run_batch",
		Description: "Run an ordered action batch under one session scope with index-aligned results.",
	}, instrument(s, "run_batch", s.runBatch))
}

func parseAddr(raw string) (uint64, error) {
	t := strings.TrimSpace(raw)
	var (
		addr uint64
		err  error
	)
	switch {
	case t == "":
		return 0, fmt.Errorf("%w: empty", errInvalidArgument)
	case strings.HasPrefix(t, "0x"), strings.HasPrefix(t, "0X"):
		addr, err = strconv.ParseUint(t[2:], 16, 64)
	default:
		addr, err = strconv.ParseUint(t, 10, 64)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %q", errInvalidArgument, raw)
	}
	return addr, nil
}

func formatAddr(addr uint64) string { return fmt.Sprintf("%#x", addr) }

func pageBounds(offset, limit, total int) (int, int, int, error) {
	if offset < 0 {
		return 0, 0, 0, fmt.Errorf("%w: offset must be >= 0", errInvalidArgument)
	}
	if limit < 0 {
		return 0, 0, 0, fmt.Errorf("%w: limit must be >= 0", errInvalidArgument)
	}
	if limit == 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	lo := offset
	if lo > total {
		lo = total
	}
	hi := lo + limit
	if hi > total {
		hi = total
	}
	return lo, hi, limit, nil
}

type emptyArgs struct{}

type programResult struct {
	Name         string `json:"name"`
	Path         string `json:"path"`
	Architecture string `json:"architecture"`
	Entry        string `json:"entry"`
	SessionID    string `json:"session_id"`
	Generation   uint64 `json:"generation"`
}

func (s *Server) getProgram(ctx context.Context, _ emptyArgs) (programResult, error) {
	var out programResult
	err := s.handle.WithSession(ctx, func(sess *session.Session) error {
		program, err := sess.Program()
		if err != nil {
			return err
		}
		out = programResult{
			Name:         program.Name,
			Path:         program.Path,
			Architecture: program.Architecture,
			Entry:        formatAddr(program.Entry),
			SessionID:    sess.ID(),
			Generation:   sess.Generation(),
		}
		return nil
	})
	return out, err
}

type pageArgs struct {
	Offset int `json:"offset,omitempty"`
	Limit  int `json:"limit,omitempty"`
}

type functionRow struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Size    uint64 `json:"size"`
}

func toFunctionRow(fn workspace.Function) functionRow {
	return functionRow{Address: formatAddr(fn.Address), Name: fn.Name, Size: fn.Size}
}

type listFunctionsResult struct {
	Functions []functionRow `json:"functions"`
	Total     int           `json:"total"`
	Offset    int           `json:"offset"`
	Limit     int           `json:"limit"`
}

func (s *Server) listFunctions(ctx context.Context, in pageArgs) (listFunctionsResult, error) {
	var out listFunctionsResult
	err := s.handle.WithSession(ctx, func(sess *session.Session) error {
		funcs, err := sess.Functions()
		if err != nil {
			return err
		}
		lo, hi, limit, err := pageBounds(in.Offset, in.Limit, len(funcs))
		if err != nil {
			return err
		}
		rows := make([]functionRow, 0, hi-lo)
		for _, fn := range funcs[lo:hi] {
			rows = append(rows, toFunctionRow(fn))
		}
		out = listFunctionsResult{Functions: rows, Total: len(funcs), Offset: in.Offset, Limit: limit}
		return nil
	})
	return out, err
}

type addressArgs struct {
	Address string `json:"address"`
}

func (s *Server) getFunction(ctx context.Context, in addressArgs) (functionRow, error) {
	addr, err := parseAddr(in.Address)
	if err != nil {
		return functionRow{}, err
	}
	var out functionRow
	err = s.handle.WithSession(ctx, func(sess *session.Session) error {
		fn, err := sess.FunctionAt(addr)
		if err != nil {
			return err
		}
		out = toFunctionRow(fn)
		return nil
	})
	return out, err
}

type renameArgs struct {
	Address string `json:"address"`
	NewName string `json:"new_name"`
}

type renameResult struct {
	Address    string `json:"address"`
	OldName    string `json:"old_name"`
	NewName    string `json:"new_name"`
	Generation uint64 `json:"generation"`
}

func (s *Server) renameFunction(ctx context.Context, in renameArgs) (renameResult, error) {
	addr, err := parseAddr(in.Address)
	if err != nil {
		return renameResult{}, err
	}
	var out renameResult
	err = s.handle.WithSession(ctx, func(sess *session.Session) error {
		fn, err := sess.FunctionAt(addr)
		if err != nil {
			return err
		}
		gen, err := sess.Rename(addr, in.NewName)
		if err != nil {
			return err
		}
		out = renameResult{Address: in.Address, OldName: fn.Name, NewName: in.NewName, Generation: gen}
		return nil
	})
	return out, err
}

type commentArgs struct {
	Address string `json:"address"`
	Text    string `json:"text"`
}

type commentResult struct {
	Address    string `json:"address"`
	OldText    string `json:"old_text"`
	NewText    string `json:"new_text"`
	Generation uint64 `json:"generation"`
}

func (s *Server) setComment(ctx context.Context, in commentArgs) (commentResult, error) {
	addr, err := parseAddr(in.Address)
	if err != nil {
		return commentResult{}, err
	}
	var out commentResult
	err = s.handle.WithSession(ctx, func(sess *session.Session) error {
		old, _, err := sess.Comment(addr)
		if err != nil {
			return err
		}
		gen, err := sess.SetComment(addr, in.Text)
		if err != nil {
			return err
		}
		out = commentResult{Address: in.Address, OldText: old, NewText: in.Text, Generation: gen}
		return nil
	})
	return out, err
}

type stringRow struct {
	Address string `json:"address"`
	Value   string `json:"value"`
}

type listStringsResult struct {
	Strings []stringRow `json:"strings"`
	Total   int         `json:"total"`
	Offset  int         `json:"offset"`
	Limit   int         `json:"limit"`
}

func (s *Server) listStrings(ctx context.Context, in pageArgs) (listStringsResult, error) {
	var out listStringsResult
	err := s.handle.WithSession(ctx, func(sess *session.Session) error {
		strs, err := sess.Strings()
		if err != nil {
			return err
		}
		lo, hi, limit, err := pageBounds(in.Offset, in.Limit, len(strs))
		if err != nil {
			return err
		}
		rows := make([]stringRow, 0, hi-lo)
		for _, ref := range strs[lo:hi] {
			rows = append(rows, stringRow{Address: formatAddr(ref.Address), Value: ref.Value})
		}
		out = listStringsResult{Strings: rows, Total: len(strs), Offset: in.Offset, Limit: limit}
		return nil
	})
	return out, err
}

type xrefArgs struct {
	Address string `json:"address"`
	Offset  int    `json:"offset,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

type xrefRow struct {
	From string `json:"from"`
	To   string `json:"to"`
	Kind string `json:"kind"`
}

type xrefsResult struct {
	Xrefs  []xrefRow `json:"xrefs"`
	Total  int       `json:"total"`
	Offset int       `json:"offset"`
	Limit  int       `json:"limit"`
}

func (s *Server) getXrefs(ctx context.Context, in xrefArgs) (xrefsResult, error) {
	addr, err := parseAddr(in.Address)
	if err != nil {
		return xrefsResult{}, err
	}
	var out xrefsResult
	err = s.handle.WithSession(ctx, func(sess *session.Session) error {
		refs, err := sess.XrefsTo(addr)
		if err != nil {
			return err
		}
		lo, hi, limit, err := pageBounds(in.Offset, in.Limit, len(refs))
		if err != nil {
			return err
		}
		rows := make([]xrefRow, 0, hi-lo)
		for _, ref := range refs[lo:hi] {
			rows = append(rows, xrefRow{From: formatAddr(ref.From), To: formatAddr(ref.To), Kind: ref.Kind})
		}
		out = xrefsResult{Xrefs: rows, Total: len(refs), Offset: in.Offset, Limit: limit}
		return nil
	})
	return out, err
}

type cfgResult struct {
	Nodes      int    `json:"nodes"`
	Edges      int    `json:"edges"`
	Generation uint64 `json:"generation"`
}

func (s *Server) buildCFG(ctx context.Context, _ emptyArgs) (cfgResult, error) {
	var out cfgResult
	err := s.handle.WithSession(ctx, func(sess *session.Session) error {
		sum, gen, err := sess.BuildCFG(ctx)
		if err != nil {
			return err
		}
		out = cfgResult{Nodes: sum.Nodes, Edges: sum.Edges, Generation: gen}
		return nil
	})
	return out, err
}

type exploreArgs struct {
	Find           string   `json:"find"`
	Avoid          []string `json:"avoid,omitempty"`
	SymbolicStdin  bool     `json:"symbolic_stdin,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
}

type exploreResult struct {
	Found     bool   `json:"found"`
	Active    int    `json:"active_states"`
	Deadended int    `json:"deadended_states"`
	StdinHex  string `json:"stdin_solution,omitempty"`
	StdinUTF8 string `json:"stdin_solution_utf8,omitempty"`
}

func (s *Server) explore(ctx context.Context, in exploreArgs) (exploreResult, error) {
	find, err := parseAddr(in.Find)
	if err != nil {
		return exploreResult{}, err
	}
	avoid := make([]uint64, 0, len(in.Avoid))
	for _, raw := range in.Avoid {
		addr, err := parseAddr(raw)
		if err != nil {
			return exploreResult{}, err
		}
		avoid = append(avoid, addr)
	}
	if in.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(in.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	var out exploreResult
	err = s.handle.WithSession(ctx, func(sess *session.Session) error {
		res, err := sess.Explore(ctx, workspace.ExploreSpec{
			Find:          find,
			Avoid:         avoid,
			SymbolicStdin: in.SymbolicStdin,
		})
		if err != nil {
			return err
		}
		out = exploreResult{Found: res.Found, Active: res.Active, Deadended: res.Deadended}
		if res.Found && len(res.Stdin) > 0 {
			out.StdinHex = hex.EncodeToString(res.Stdin)
			out.StdinUTF8 = strings.ToValidUTF8(string(res.Stdin), "�")
		}
		return nil
	})
	return out, err
}

type exportArgs struct {
	Path string `json:"path,omitempty"`
}

type exportResult struct {
	Snapshot   *snapshot.Snapshot `json:"snapshot"`
	Generation uint64             `json:"generation"`
	Path       string             `json:"path,omitempty"`
}

func (s *Server) exportState(ctx context.Context, in exportArgs) (exportResult, error) {
	snap, err := snapshot.Export(ctx, s.handle)
	if err != nil {
		return exportResult{}, err
	}
	if in.Path != "" {
		if err := snapshot.Save(in.Path, snap); err != nil {
			return exportResult{}, err
		}
	}
	return exportResult{Snapshot: snap, Generation: snap.Generation, Path: in.Path}, nil
}

type snapshotArgs struct {
	SnapshotJSON string `json:"snapshot_json,omitempty"`
	Path         string `json:"path,omitempty"`
}

func (s *Server) loadSnapshotArg(in snapshotArgs) (*snapshot.Snapshot, error) {
	switch {
	case in.SnapshotJSON != "":
		return snapshot.Validate([]byte(in.SnapshotJSON))
	case in.Path != "":
		return snapshot.Load(in.Path)
	default:
		return nil, fmt.Errorf("%w: either snapshot_json or path is required", errInvalidArgument)
	}
}

type importResult struct {
	Report *snapshot.ApplyReport `json:"report"`
}

func (s *Server) importState(ctx context.Context, in snapshotArgs) (importResult, error) {
	snap, err := s.loadSnapshotArg(in)
	if err != nil {
		return importResult{}, err
	}
	report, err := snapshot.Apply(ctx, snap, s.handle)
	if err != nil {
		return importResult{}, err
	}
	return importResult{Report: report}, nil
}

type validateResult struct {
	Valid         bool   `json:"valid"`
	SchemaVersion int    `json:"schema_version"`
	Generation    uint64 `json:"generation"`
	Renames       int    `json:"renames"`
	Comments      int    `json:"comments"`
	FunctionMeta  int    `json:"function_meta"`
}

func (s *Server) validateSnapshot(_ context.Context, in snapshotArgs) (validateResult, error) {
	snap, err := s.loadSnapshotArg(in)
	if err != nil {
		return validateResult{}, err
	}
	counts := snap.Counts()
	return validateResult{
		Valid:         true,
		SchemaVersion: snap.SchemaVersion,
		Generation:    snap.Generation,
		Renames:       counts[snapshot.KindRename],
		Comments:      counts[snapshot.KindComment],
		FunctionMeta:  counts[snapshot.KindFunctionMeta],
	}, nil
}

type batchActionArg struct {
	Op      string `json:"op"`
	Address string `json:"address,omitempty"`
	Name    string `json:"name,omitempty"`
	Text    string `json:"text,omitempty"`
}

type batchArgs struct {
	Actions []batchActionArg `json:"actions"`
	// StopOnError selects the stop-on-first-failure policy; the default
	// attempts every action and records each outcome.
	StopOnError bool `json:"stop_on_error,omitempty"`
}

func (s *Server) runBatch(ctx context.Context, in batchArgs) (*batch.Result, error) {
	req := batch.Request{Policy: batch.ContinueOnError}
	if in.StopOnError {
		req.Policy = batch.StopOnFirstFailure
	}
	for _, arg := range in.Actions {
		action := batch.Action{Op: batch.Op(arg.Op), Name: arg.Name, Text: arg.Text}
		if arg.Address != "" {
			addr, err := parseAddr(arg.Address)
			if err != nil {
				return nil, err
			}
			action.Address = addr
		}
		req.Actions = append(req.Actions, action)
	}
	result, err := batch.Run(ctx, req, s.handle)
	if err != nil {
		return nil, err
	}
	s.tel.RecordBatch(ctx, telemetry.BatchData{Actions: len(result.Results), Failed: result.Failed})
	return result, nil
}
