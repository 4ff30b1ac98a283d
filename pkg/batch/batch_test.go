package batch

import (
	"context"
	"testing"

	"github.com/godeps/revlink/pkg/session"
	"github.com/godeps/revlink/pkg/workspace"
)

func boundHandle(t *testing.T) *session.Handle {
	t.Helper()
	ws := workspace.NewMemory(workspace.Program{Name: "target.bin", Architecture: "AMD64", Entry: 0x401000})
	ws.AddFunction(workspace.Function{Address: 0x401000, Name: "main", Size: 0x100})
	ws.AddFunction(workspace.Function{Address: 0x401200, Name: "sub_401200", Size: 0x40})
	h := session.NewHandle()
	if _, err := h.Bind(context.Background(), ws); err != nil {
		t.Fatalf("bind: %v", err)
	}
	return h
}

// Three actions with a bad address in the middle: continue-mode attempts all
// of them, stop-mode skips the tail.
func TestRunPartialFailurePolicies(t *testing.T) {
	actions := []Action{
		{Op: OpRename, Address: 0x401200, Name: "check_input"},
		{Op: OpRename, Address: 0xdead, Name: "ghost"},
		{Op: OpSetComment, Address: 0x401000, Text: "entry"},
	}

	t.Run("continue", func(t *testing.T) {
		h := boundHandle(t)
		res, err := Run(context.Background(), Request{Actions: actions}, h)
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if len(res.Results) != len(actions) {
			t.Fatalf("result length = %d, want %d", len(res.Results), len(actions))
		}
		want := []Status{StatusOK, StatusError, StatusOK}
		for i, status := range want {
			if res.Results[i].Status != status {
				t.Fatalf("result[%d].Status = %q, want %q", i, res.Results[i].Status, status)
			}
		}
		if res.Results[1].ErrorKind != KindNotFound {
			t.Fatalf("result[1].ErrorKind = %q, want %q", res.Results[1].ErrorKind, KindNotFound)
		}
		if res.Failed != 1 {
			t.Fatalf("failed = %d, want 1", res.Failed)
		}
		if h.Generation() != 2 {
			t.Fatalf("generation = %d, want 2 (two committed mutations)", h.Generation())
		}
	})

	t.Run("stop", func(t *testing.T) {
		h := boundHandle(t)
		res, err := Run(context.Background(), Request{Actions: actions, Policy: StopOnFirstFailure}, h)
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if len(res.Results) != len(actions) {
			t.Fatalf("result length = %d, want %d", len(res.Results), len(actions))
		}
		want := []Status{StatusOK, StatusError, StatusSkipped}
		for i, status := range want {
			if res.Results[i].Status != status {
				t.Fatalf("result[%d].Status = %q, want %q", i, res.Results[i].Status, status)
			}
		}
		if h.Generation() != 1 {
			t.Fatalf("generation = %d, want 1 (comment was never attempted)", h.Generation())
		}
	})
}

func TestRunUnboundHandleAbortsWholeRequest(t *testing.T) {
	h := session.NewHandle()
	_, err := Run(context.Background(), Request{Actions: []Action{{Op: OpCurrentProgram}}}, h)
	if Classify(err) != KindNotBound {
		t.Fatalf("classify(%v) = %q, want %q", err, Classify(err), KindNotBound)
	}
}

func TestRunRejectsUnknownPolicy(t *testing.T) {
	h := boundHandle(t)
	if _, err := Run(context.Background(), Request{Policy: Policy("maybe")}, h); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}

func TestRunReadAndExportActions(t *testing.T) {
	h := boundHandle(t)
	req := Request{Actions: []Action{
		{Op: OpCurrentProgram},
		{Op: OpGetFunction, Address: 0x401000},
		{Op: OpExport},
		{Op: Op("teleport")},
	}}
	res, err := Run(context.Background(), req, h)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Results[0].Program == nil || res.Results[0].Program.Name != "target.bin" {
		t.Fatalf("program result = %+v", res.Results[0].Program)
	}
	if res.Results[1].Function == nil || res.Results[1].Function.Name != "main" {
		t.Fatalf("function result = %+v", res.Results[1].Function)
	}
	if res.Results[2].Snapshot == nil || len(res.Results[2].Snapshot.Entries) == 0 {
		t.Fatalf("export result = %+v", res.Results[2].Snapshot)
	}
	if res.Results[3].Status != StatusError || res.Results[3].ErrorKind != KindActionError {
		t.Fatalf("unknown op result = %+v", res.Results[3])
	}
}

func TestRunEmptyRequest(t *testing.T) {
	h := boundHandle(t)
	res, err := Run(context.Background(), Request{}, h)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Results) != 0 || res.Failed != 0 {
		t.Fatalf("empty request result = %+v", res)
	}
}
