package engine

import (
	"strings"
	"testing"
	"time"
)

func emptyPlan() *Plan {
	return &Plan{ID: "test-plan", CreatedAt: time.Now()}
}

func TestBuildReport_AllApplied(t *testing.T) {
	actions := []ActionResult{
		{ActionID: "000", Ref: refOf(KindPackage, "a"), Verb: VerbCreate, Status: ActionStatusApplied},
		{ActionID: "001", Ref: refOf(KindFile, "b"), Verb: VerbModify, Status: ActionStatusApplied},
	}

	report := BuildReport("run-1", emptyPlan(), nil, actions, nil, time.Now())
	if report.Status != RunStatusConverged {
		t.Errorf("status = %s, want converged", report.Status)
	}
	if !report.Converged {
		t.Error("report should be converged")
	}
	if report.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", report.ExitCode)
	}
}

func TestBuildReport_AllSkippedIsConverged(t *testing.T) {
	actions := []ActionResult{
		{ActionID: "000", Ref: refOf(KindPackage, "a"), Verb: VerbNoop,
			Status: ActionStatusSkipped, Reason: "already satisfied"},
	}

	report := BuildReport("run-1", emptyPlan(), nil, actions, nil, time.Now())
	if report.Status != RunStatusConverged || report.ExitCode != 0 {
		t.Errorf("status = %s exit = %d, want converged 0", report.Status, report.ExitCode)
	}
}

func TestBuildReport_AbortedRun(t *testing.T) {
	actions := []ActionResult{
		{ActionID: "000", Ref: refOf(KindPackage, "a"), Verb: VerbCreate,
			Status: ActionStatusFailed, Error: NewApplyError("boom", nil)},
		{ActionID: "001", Ref: refOf(KindFile, "b"), Verb: VerbCreate,
			Status: ActionStatusSkipped, Reason: "aborted after earlier failure",
			NotReached: true},
	}

	report := BuildReport("run-1", emptyPlan(), nil, actions, nil, time.Now())
	if report.Status != RunStatusAborted {
		t.Errorf("status = %s, want aborted", report.Status)
	}
	if report.ExitCode == 0 {
		t.Error("failed run must have non-zero exit code")
	}
}

func TestBuildReport_CancelledRunAborted(t *testing.T) {
	// A cancelled run has no failures, only not-reached skips. It must
	// still report aborted, never converged.
	actions := []ActionResult{
		{ActionID: "000", Ref: refOf(KindPackage, "a"), Verb: VerbCreate,
			Status: ActionStatusSkipped, Reason: "run cancelled", NotReached: true},
		{ActionID: "001", Ref: refOf(KindFile, "b"), Verb: VerbCreate,
			Status: ActionStatusSkipped, Reason: "run cancelled", NotReached: true},
	}

	report := BuildReport("run-1", emptyPlan(), nil, actions, nil, time.Now())
	if report.Status != RunStatusAborted {
		t.Errorf("status = %s, want aborted", report.Status)
	}
	if report.Converged {
		t.Error("cancelled run must not report converged")
	}
	if report.ExitCode == 0 {
		t.Error("exit code must be non-zero")
	}
}

func TestBuildReport_ContinueOnErrorRunFails(t *testing.T) {
	actions := []ActionResult{
		{ActionID: "000", Ref: refOf(KindPackage, "a"), Verb: VerbCreate,
			Status: ActionStatusFailed, Error: NewApplyError("boom", nil)},
		{ActionID: "001", Ref: refOf(KindFile, "b"), Verb: VerbCreate,
			Status: ActionStatusApplied},
	}

	report := BuildReport("run-1", emptyPlan(), nil, actions, nil, time.Now())
	if report.Status != RunStatusFailed {
		t.Errorf("status = %s, want failed", report.Status)
	}
	if report.ExitCode == 0 {
		t.Error("exit code must be non-zero")
	}
}

func TestBuildReport_HandlerFailureFailsRun(t *testing.T) {
	actions := []ActionResult{
		{ActionID: "000", Ref: refOf(KindFile, "a"), Verb: VerbModify, Status: ActionStatusApplied},
	}
	handlers := []HandlerResult{
		{HandlerID: "restart", Ref: refOf(KindService, "nginx"),
			Status: HandlerStatusFailed, Error: NewHandlerError("boom", nil)},
	}

	report := BuildReport("run-1", emptyPlan(), nil, actions, handlers, time.Now())
	if report.ExitCode == 0 {
		t.Error("handler failure must surface in the exit code")
	}
}

func TestBuildReport_ProbeErrorsSurface(t *testing.T) {
	snap := snapshot(nil, map[Ref]string{
		refOf(KindService, "nginx"): "probe failed: dbus unavailable",
	})

	report := BuildReport("run-1", emptyPlan(), snap, nil, nil, time.Now())
	if len(report.ProbeErrors) != 1 {
		t.Fatalf("expected 1 probe error, got %d", len(report.ProbeErrors))
	}
	if _, ok := report.ProbeErrors["service/nginx"]; !ok {
		t.Error("probe error must be keyed by ref")
	}
	// Probe errors alone never fail the run.
	if report.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", report.ExitCode)
	}
}

func TestRenderText(t *testing.T) {
	actions := []ActionResult{
		{ActionID: "000-package/nginx", Ref: refOf(KindPackage, "nginx"),
			Verb: VerbCreate, Status: ActionStatusApplied},
		{ActionID: "001-service/nginx", Ref: refOf(KindService, "nginx"),
			Verb: VerbCreate, Status: ActionStatusFailed,
			Error: NewApplyError("unit failed to start", nil)},
	}
	report := BuildReport("run-1", emptyPlan(), nil, actions, nil, time.Now())

	var sb strings.Builder
	report.RenderText(&sb)
	out := sb.String()

	for _, want := range []string{"package/nginx", "service/nginx", "run-1"} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered report missing %q:\n%s", want, out)
		}
	}
}
