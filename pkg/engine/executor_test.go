package engine

import (
	"context"
	"errors"
	"testing"
)

func planOf(t *testing.T, resources []Resource, snap *Snapshot) *Plan {
	t.Helper()
	plan, err := NewPlanner(testLogger()).Plan(resources, snap)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	return plan
}

func TestExecute_SequentialPlanOrder(t *testing.T) {
	pkg := newMockAdapter(KindPackage)
	file := newMockAdapter(KindFile)
	registry := newMockRegistry(pkg, file)

	resources := []Resource{
		res(KindFile, "/etc/app.conf", 0, Attributes{"content": "x"},
			refOf(KindPackage, "app")),
		res(KindPackage, "app", 1, Attributes{"version": "1"}),
	}
	plan := planOf(t, resources, snapshot(nil, nil))

	results, err := NewExecutor(registry, nil, testLogger()).
		Execute(context.Background(), plan, ExecOptions{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	// The package is a dependency, it must be applied first.
	if results[0].Ref.String() != "package/app" || results[1].Ref.String() != "file//etc/app.conf" {
		t.Errorf("execution order = %s, %s", results[0].Ref, results[1].Ref)
	}
	for _, r := range results {
		if r.Status != ActionStatusApplied {
			t.Errorf("%s: status = %s, want applied", r.Ref, r.Status)
		}
	}
}

func TestExecute_ConvergedRunSkipsEverything(t *testing.T) {
	pkg := newMockAdapter(KindPackage)
	registry := newMockRegistry(pkg)

	ref := refOf(KindPackage, "nginx")
	resources := []Resource{
		res(KindPackage, "nginx", 0, Attributes{"version": "1.24"}),
	}
	snap := snapshot(map[Ref]Attributes{ref: {"version": "1.24"}}, nil)
	plan := planOf(t, resources, snap)

	results, err := NewExecutor(registry, nil, testLogger()).
		Execute(context.Background(), plan, ExecOptions{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Status != ActionStatusSkipped {
		t.Errorf("status = %s, want skipped", results[0].Status)
	}
	if results[0].Reason != "already satisfied" {
		t.Errorf("reason = %q, want already satisfied", results[0].Reason)
	}
	if len(pkg.applied) != 0 {
		t.Error("no adapter Apply must be called on a converged host")
	}
}

func TestExecute_AbortOnFailure(t *testing.T) {
	pkg := newMockAdapter(KindPackage)
	pkg.applyErr = errors.New("repository unreachable")
	file := newMockAdapter(KindFile)
	registry := newMockRegistry(pkg, file)

	resources := []Resource{
		res(KindPackage, "app", 0, Attributes{"version": "1"}),
		res(KindFile, "/etc/app.conf", 1, Attributes{"content": "x"}),
	}
	plan := planOf(t, resources, snapshot(nil, nil))

	results, err := NewExecutor(registry, nil, testLogger()).
		Execute(context.Background(), plan, ExecOptions{})
	if err == nil {
		t.Fatal("expected error from failed apply")
	}
	if !IsApplyError(err) {
		t.Errorf("expected apply classification, got: %v", err)
	}

	if results[0].Status != ActionStatusFailed {
		t.Errorf("first action status = %s, want failed", results[0].Status)
	}
	if results[1].Status != ActionStatusSkipped {
		t.Errorf("second action status = %s, want skipped", results[1].Status)
	}
	if results[1].Reason != "aborted after earlier failure" {
		t.Errorf("skip reason = %q", results[1].Reason)
	}
	if !results[1].NotReached {
		t.Error("skip after failure must be marked not reached")
	}
	if len(file.applied) != 0 {
		t.Error("later action must not be applied after abort")
	}
}

func TestExecute_ContinueOnError(t *testing.T) {
	pkg := newMockAdapter(KindPackage)
	pkg.applyErr = errors.New("repository unreachable")
	file := newMockAdapter(KindFile)
	registry := newMockRegistry(pkg, file)

	resources := []Resource{
		res(KindPackage, "app", 0, Attributes{"version": "1"}),
		res(KindFile, "/etc/app.conf", 1, Attributes{"content": "x"}),
	}
	plan := planOf(t, resources, snapshot(nil, nil))

	results, err := NewExecutor(registry, nil, testLogger()).
		Execute(context.Background(), plan, ExecOptions{ContinueOnError: true})
	if err == nil {
		t.Fatal("first failure must still be reported")
	}

	if results[0].Status != ActionStatusFailed {
		t.Errorf("first action status = %s, want failed", results[0].Status)
	}
	if results[1].Status != ActionStatusApplied {
		t.Errorf("second action status = %s, want applied", results[1].Status)
	}
}

func TestExecute_DryRunNeverCallsApply(t *testing.T) {
	pkg := newMockAdapter(KindPackage)
	registry := newMockRegistry(pkg)

	resources := []Resource{
		res(KindPackage, "app", 0, Attributes{"version": "1"}),
	}
	plan := planOf(t, resources, snapshot(nil, nil))

	results, err := NewExecutor(registry, nil, testLogger()).
		Execute(context.Background(), plan, ExecOptions{DryRun: true})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if results[0].Status != ActionStatusSkipped {
		t.Errorf("status = %s, want skipped", results[0].Status)
	}
	if results[0].Reason != "dry-run: would create" {
		t.Errorf("reason = %q", results[0].Reason)
	}
	if len(pkg.applied) != 0 {
		t.Error("dry-run must not call Apply")
	}
}

func TestExecute_CancelledContextAborts(t *testing.T) {
	pkg := newMockAdapter(KindPackage)
	registry := newMockRegistry(pkg)

	resources := []Resource{
		res(KindPackage, "app", 0, Attributes{"version": "1"}),
	}
	plan := planOf(t, resources, snapshot(nil, nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := NewExecutor(registry, nil, testLogger()).
		Execute(ctx, plan, ExecOptions{})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if results[0].Status != ActionStatusSkipped {
		t.Errorf("status = %s, want skipped", results[0].Status)
	}
	if results[0].Reason != "run cancelled" {
		t.Errorf("skip reason = %q, want run cancelled", results[0].Reason)
	}
	if !results[0].NotReached {
		t.Error("cancelled skip must be marked not reached")
	}
	if len(pkg.applied) != 0 {
		t.Error("no Apply after cancellation")
	}
}

func TestExecute_MissingAdapterFailsAction(t *testing.T) {
	registry := newMockRegistry() // empty

	resources := []Resource{
		res(KindPackage, "app", 0, Attributes{"version": "1"}),
	}
	plan := planOf(t, resources, snapshot(nil, nil))

	results, err := NewExecutor(registry, nil, testLogger()).
		Execute(context.Background(), plan, ExecOptions{})
	if err == nil {
		t.Fatal("expected error for missing adapter")
	}
	if results[0].Status != ActionStatusFailed {
		t.Errorf("status = %s, want failed", results[0].Status)
	}
}

func TestExecute_AppliedChangesReachTheBus(t *testing.T) {
	pkg := newMockAdapter(KindPackage)
	registry := newMockRegistry(pkg)
	bus := NewNotificationBus(nil, testLogger())

	resources := []Resource{
		res(KindPackage, "app", 0, Attributes{"version": "1"}),
	}
	plan := planOf(t, resources, snapshot(nil, nil))

	_, err := NewExecutor(registry, bus, testLogger()).
		Execute(context.Background(), plan, ExecOptions{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	events := bus.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 change event, got %d", len(events))
	}
	if events[0].Ref.String() != "package/app" || events[0].Verb != VerbCreate {
		t.Errorf("event = %+v", events[0])
	}
}
