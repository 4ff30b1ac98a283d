// Package batch executes ordered action lists against one session binding.
// The whole batch runs inside a single session scope, so no GUI-thread
// mutation can interleave between its actions; each action's outcome is
// recorded index-aligned with the request.
package batch

import (
	"context"
	"fmt"

	"github.com/godeps/revlink/pkg/session"
	"github.com/godeps/revlink/pkg/snapshot"
	"github.com/godeps/revlink/pkg/workspace"
)

// Op names a batch action operation.
type Op string

const (
	OpRename         Op = "rename"
	OpSetComment     Op = "set_comment"
	OpGetFunction    Op = "get_function"
	OpCurrentProgram Op = "current_program"
	OpExport         Op = "export"
)

// Policy selects the partial-failure behavior of a run.
type Policy string

const (
	// ContinueOnError attempts every action regardless of earlier failures.
	// This is the default policy.
	ContinueOnError Policy = "continue"
	// StopOnFirstFailure short-circuits after the first failed action;
	// remaining entries are marked skipped, never attempted.
	StopOnFirstFailure Policy = "stop"
)

// Action is one operation descriptor. Address, Name and Text are read
// according to Op.
type Action struct {
	Op      Op     `json:"op"`
	Address uint64 `json:"address,omitempty"`
	Name    string `json:"name,omitempty"`
	Text    string `json:"text,omitempty"`
}

// Request is an ordered action list plus its failure policy.
type Request struct {
	Actions []Action `json:"actions"`
	Policy  Policy   `json:"policy,omitempty"`
}

// Status classifies one action outcome.
type Status string

const (
	StatusOK      Status = "ok"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

// ActionResult records the outcome of one action, index-aligned with the
// request. Exactly one of the payload fields is set on success, depending on
// the operation.
type ActionResult struct {
	Index      int                 `json:"index"`
	Op         Op                  `json:"op"`
	Status     Status              `json:"status"`
	ErrorKind  string              `json:"error_kind,omitempty"`
	Error      string              `json:"error,omitempty"`
	Generation uint64              `json:"generation,omitempty"`
	Function   *workspace.Function `json:"function,omitempty"`
	Program    *workspace.Program  `json:"program,omitempty"`
	Snapshot   *snapshot.Snapshot  `json:"snapshot,omitempty"`
}

// Result aggregates a finished run. Results always has one entry per request
// action, whatever the policy.
type Result struct {
	Results []ActionResult `json:"results"`
	Failed  int            `json:"failed"`
}

// Run executes the request against the handle under one session scope.
// Session-level failures (no binding, lock timeout) abort the whole request;
// per-action failures are recorded and, under ContinueOnError, do not stop
// later actions.
func Run(ctx context.Context, req Request, h *session.Handle) (*Result, error) {
	policy := req.Policy
	if policy == "" {
		policy = ContinueOnError
	}
	if policy != ContinueOnError && policy != StopOnFirstFailure {
		return nil, fmt.Errorf("batch: unknown policy %q", policy)
	}

	out := &Result{Results: make([]ActionResult, len(req.Actions))}
	err := h.WithSession(ctx, func(s *session.Session) error {
		stopped := false
		for i, action := range req.Actions {
			if stopped {
				out.Results[i] = ActionResult{Index: i, Op: action.Op, Status: StatusSkipped}
				continue
			}
			out.Results[i] = execute(ctx, s, i, action)
			if out.Results[i].Status == StatusError {
				out.Failed++
				if policy == StopOnFirstFailure {
					stopped = true
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func execute(ctx context.Context, s *session.Session, index int, action Action) ActionResult {
	res := ActionResult{Index: index, Op: action.Op, Status: StatusOK}
	fail := func(err error) ActionResult {
		res.Status = StatusError
		res.ErrorKind = Classify(err)
		res.Error = err.Error()
		return res
	}

	switch action.Op {
	case OpRename:
		gen, err := s.Rename(action.Address, action.Name)
		if err != nil {
			return fail(err)
		}
		res.Generation = gen
	case OpSetComment:
		gen, err := s.SetComment(action.Address, action.Text)
		if err != nil {
			return fail(err)
		}
		res.Generation = gen
	case OpGetFunction:
		fn, err := s.FunctionAt(action.Address)
		if err != nil {
			return fail(err)
		}
		res.Function = &fn
	case OpCurrentProgram:
		program, err := s.Program()
		if err != nil {
			return fail(err)
		}
		res.Program = &program
	case OpExport:
		snap, err := snapshot.Capture(s)
		if err != nil {
			return fail(err)
		}
		res.Snapshot = snap
	default:
		return fail(fmt.Errorf("batch: unsupported op %q", action.Op))
	}
	return res
}
