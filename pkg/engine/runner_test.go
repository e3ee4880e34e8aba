package engine

import (
	"context"
	"testing"
)

func TestRunner_FullPipeline(t *testing.T) {
	pkg := newMockAdapter(KindPackage)
	file := newMockAdapter(KindFile)
	svc := newMockAdapter(KindService)
	registry := newMockRegistry(pkg, file, svc)

	resources := []Resource{
		res(KindPackage, "nginx", 0, Attributes{"version": "1.24"}),
		res(KindFile, "/etc/nginx/nginx.conf", 1, Attributes{"content": "worker_processes auto;\n"},
			refOf(KindPackage, "nginx")),
	}
	handlers := []Handler{
		{
			ID: "restart-nginx",
			On: []Ref{refOf(KindFile, "/etc/nginx/nginx.conf")},
			Do: ActionTemplate{Kind: KindService, ID: "nginx",
				Attributes: Attributes{"action": "restart"}},
		},
	}

	runner := NewRunner(registry, RunnerConfig{}, testLogger())
	report, err := runner.Run(context.Background(), resources, handlers)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Status != RunStatusConverged {
		t.Errorf("status = %s, want converged", report.Status)
	}
	if report.ExitCode != 0 {
		t.Errorf("exit code = %d", report.ExitCode)
	}
	if len(report.Actions) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(report.Actions))
	}
	if len(report.Handlers) != 1 || report.Handlers[0].Status != HandlerStatusFired {
		t.Errorf("handler results = %+v", report.Handlers)
	}
	// Handlers fire only after all primary actions.
	if len(svc.applied) != 1 {
		t.Errorf("service adapter Apply count = %d, want 1", len(svc.applied))
	}
}

func TestRunner_SecondRunIsAllSkipped(t *testing.T) {
	pkg := newMockAdapter(KindPackage)
	svc := newMockAdapter(KindService)
	registry := newMockRegistry(pkg, svc)

	resources := []Resource{
		res(KindPackage, "nginx", 0, Attributes{"version": "1.24"}),
	}
	handlers := []Handler{
		{ID: "restart-nginx", On: []Ref{refOf(KindPackage, "nginx")},
			Do: ActionTemplate{Kind: KindService, ID: "nginx",
				Attributes: Attributes{"action": "restart"}}},
	}

	runner := NewRunner(registry, RunnerConfig{}, testLogger())

	first, err := runner.Run(context.Background(), resources, handlers)
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if first.Actions[0].Status != ActionStatusApplied {
		t.Fatalf("first run action = %s, want applied", first.Actions[0].Status)
	}

	// Simulate the converged host: the probe now sees the applied state.
	pkg.observed["package/nginx"] = Attributes{"version": "1.24"}

	second, err := runner.Run(context.Background(), resources, handlers)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	for _, a := range second.Actions {
		if a.Status != ActionStatusSkipped {
			t.Errorf("%s: status = %s, want skipped", a.Ref, a.Status)
		}
	}
	if second.Handlers[0].Status != HandlerStatusSkipped {
		t.Errorf("handler must not re-fire on a converged run, got %s", second.Handlers[0].Status)
	}
	if !second.Converged {
		t.Error("second run should be converged")
	}
}

func TestRunner_DryRunAppliesNothing(t *testing.T) {
	pkg := newMockAdapter(KindPackage)
	svc := newMockAdapter(KindService)
	registry := newMockRegistry(pkg, svc)

	resources := []Resource{
		res(KindPackage, "nginx", 0, Attributes{"version": "1.24"}),
	}
	handlers := []Handler{
		{ID: "restart-nginx", On: []Ref{refOf(KindPackage, "nginx")},
			Do: ActionTemplate{Kind: KindService, ID: "nginx"}},
	}

	runner := NewRunner(registry, RunnerConfig{DryRun: true}, testLogger())
	report, err := runner.Run(context.Background(), resources, handlers)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(pkg.applied)+len(svc.applied) != 0 {
		t.Error("dry-run must not apply anything")
	}
	if report.ExitCode != 0 {
		t.Errorf("exit code = %d", report.ExitCode)
	}
}

func TestRunner_CycleFailsBeforeExecution(t *testing.T) {
	pkg := newMockAdapter(KindPackage)
	file := newMockAdapter(KindFile)
	registry := newMockRegistry(pkg, file)

	resources := []Resource{
		res(KindPackage, "a", 0, nil, refOf(KindFile, "b")),
		res(KindFile, "b", 1, nil, refOf(KindPackage, "a")),
	}

	runner := NewRunner(registry, RunnerConfig{}, testLogger())
	_, err := runner.Run(context.Background(), resources, nil)
	if !IsCycleError(err) {
		t.Fatalf("expected cycle error, got: %v", err)
	}
	if len(pkg.applied)+len(file.applied) != 0 {
		t.Error("a cyclic manifest must not mutate anything")
	}
}

type rejectAllGate struct{}

func (rejectAllGate) CheckPlan(_ context.Context, _ *Plan) error {
	return NewValidationError("plan rejected by policy: no mutations allowed", nil)
}

func TestRunner_PolicyDenialStopsRun(t *testing.T) {
	pkg := newMockAdapter(KindPackage)
	registry := newMockRegistry(pkg)

	resources := []Resource{
		res(KindPackage, "nginx", 0, Attributes{"version": "1.24"}),
	}

	runner := NewRunner(registry, RunnerConfig{}, testLogger()).WithPolicy(rejectAllGate{})
	_, err := runner.Run(context.Background(), resources, nil)
	if !IsValidationError(err) {
		t.Fatalf("expected validation error from policy gate, got: %v", err)
	}
	if len(pkg.applied) != 0 {
		t.Error("denied plan must not be executed")
	}
}

func TestRunner_ActionFailureReportedNotReturned(t *testing.T) {
	pkg := newMockAdapter(KindPackage)
	pkg.applyFn = func(a *Action) (Attributes, error) {
		return nil, NewApplyError("install failed", nil)
	}
	registry := newMockRegistry(pkg)

	resources := []Resource{
		res(KindPackage, "nginx", 0, Attributes{"version": "1.24"}),
	}

	runner := NewRunner(registry, RunnerConfig{}, testLogger())
	report, err := runner.Run(context.Background(), resources, nil)
	if err != nil {
		t.Fatalf("apply failures must flow through the report, got error: %v", err)
	}
	if report.ExitCode == 0 {
		t.Error("exit code must be non-zero on apply failure")
	}
	if report.Status == RunStatusConverged {
		t.Error("run must not report converged")
	}
}
