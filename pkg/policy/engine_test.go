package policy

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/convergekit/converge/pkg/engine"
)

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func testPlan(actions ...engine.Action) *engine.Plan {
	return &engine.Plan{ID: "test-plan", CreatedAt: time.Now(), Actions: actions}
}

func action(kind engine.Kind, id string, verb engine.Verb, desired engine.Attributes) engine.Action {
	return engine.Action{
		ID:      "000-" + string(kind) + "/" + id,
		Ref:     engine.Ref{Kind: kind, ID: id},
		Verb:    verb,
		Desired: desired,
	}
}

func TestNewEngine_BuiltinsLoaded(t *testing.T) {
	eng, err := NewEngine(testLogger())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	policies := eng.ListPolicies()
	for _, want := range []string{"credential-literal", "protected-removal"} {
		found := false
		for _, p := range policies {
			if p.Name == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("built-in policy %s not loaded", want)
		}
	}
}

func TestEvaluate_CleanPlanAllowed(t *testing.T) {
	eng, err := NewEngine(testLogger())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	plan := testPlan(
		action(engine.KindPackage, "nginx", engine.VerbCreate,
			engine.Attributes{"version": "1.24"}),
	)

	result, err := eng.Evaluate(context.Background(), plan)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("clean plan must be allowed, violations: %+v", result.Violations)
	}
	if len(result.Violations) != 0 {
		t.Errorf("unexpected violations: %+v", result.Violations)
	}
}

func TestEvaluate_ProtectedRemovalDenied(t *testing.T) {
	eng, err := NewEngine(testLogger())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	tests := []struct {
		name string
		act  engine.Action
	}{
		{"protected file", action(engine.KindFile, "/etc/passwd", engine.VerbRemove, nil)},
		{"protected user", action(engine.KindUser, "root", engine.VerbRemove, nil)},
		{"protected service", action(engine.KindService, "sshd", engine.VerbRemove, nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := eng.Evaluate(context.Background(), testPlan(tt.act))
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if result.Allowed {
				t.Error("plan must be blocked")
			}
			if len(result.Violations) != 1 {
				t.Fatalf("expected 1 violation, got %+v", result.Violations)
			}
			if result.Violations[0].Severity != string(SeverityError) {
				t.Errorf("severity = %s, want error", result.Violations[0].Severity)
			}
		})
	}
}

func TestEvaluate_LabeledProtectedRemovalDenied(t *testing.T) {
	eng, err := NewEngine(testLogger())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	// Not in any built-in list, but the declaration labels it protected.
	act := action(engine.KindFile, "/opt/data/ledger.db", engine.VerbRemove, nil)
	act.Labels = map[string]string{"protected": "true"}

	result, err := eng.Evaluate(context.Background(), testPlan(act))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Allowed {
		t.Error("removal of a protected-labeled resource must be blocked")
	}
	if len(result.Violations) != 1 {
		t.Fatalf("expected 1 violation, got %+v", result.Violations)
	}
	if !strings.Contains(result.Violations[0].Message, "labeled protected") {
		t.Errorf("message = %q", result.Violations[0].Message)
	}

	// Modify is still fine: only removal is guarded.
	act.Verb = engine.VerbModify
	result, err = eng.Evaluate(context.Background(), testPlan(act))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("modify of a protected-labeled resource must be allowed: %+v", result.Violations)
	}
}

func TestEvaluate_UnprotectedRemovalAllowed(t *testing.T) {
	eng, err := NewEngine(testLogger())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	plan := testPlan(action(engine.KindFile, "/tmp/scratch.txt", engine.VerbRemove, nil))
	result, err := eng.Evaluate(context.Background(), plan)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("removal of an unprotected file must be allowed: %+v", result.Violations)
	}
}

func TestEvaluate_CredentialLiteralWarns(t *testing.T) {
	eng, err := NewEngine(testLogger())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	plan := testPlan(
		action(engine.KindDBObject, "appuser", engine.VerbCreate,
			engine.Attributes{"object_type": "user", "password": "hunter2"}),
	)

	result, err := eng.Evaluate(context.Background(), plan)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	// Warning severity: reported but not blocking.
	if !result.Allowed {
		t.Error("warning-severity violation must not block the plan")
	}
	if len(result.Violations) != 1 {
		t.Fatalf("expected 1 violation, got %+v", result.Violations)
	}
	v := result.Violations[0]
	if v.Severity != string(SeverityWarning) {
		t.Errorf("severity = %s, want warning", v.Severity)
	}
	if !strings.Contains(v.Message, "password") {
		t.Errorf("message should name the attribute: %s", v.Message)
	}
}

func TestCheckPlan_BlocksOnErrorViolation(t *testing.T) {
	eng, err := NewEngine(testLogger())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	plan := testPlan(action(engine.KindUser, "root", engine.VerbRemove, nil))
	err = eng.CheckPlan(context.Background(), plan)
	if err == nil {
		t.Fatal("CheckPlan must reject the plan")
	}
	if !engine.IsValidationError(err) {
		t.Errorf("expected validation classification, got: %v", err)
	}
}

func TestCheckPlan_AdvisoryModeNeverBlocks(t *testing.T) {
	eng, err := NewEngine(testLogger())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	eng.SetAdvisory(true)

	plan := testPlan(action(engine.KindUser, "root", engine.VerbRemove, nil))
	if err := eng.CheckPlan(context.Background(), plan); err != nil {
		t.Errorf("advisory mode must not block: %v", err)
	}

	eng.SetAdvisory(false)
	if err := eng.CheckPlan(context.Background(), plan); err == nil {
		t.Error("enforcing mode must block again")
	}
}

func TestCheckPlan_WarningsPass(t *testing.T) {
	eng, err := NewEngine(testLogger())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	plan := testPlan(
		action(engine.KindDBObject, "appuser", engine.VerbCreate,
			engine.Attributes{"password": "hunter2"}),
	)
	if err := eng.CheckPlan(context.Background(), plan); err != nil {
		t.Errorf("warnings alone must not block: %v", err)
	}
}

func TestAddPolicy_CustomDeny(t *testing.T) {
	eng, err := NewEngine(testLogger())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	custom := &Policy{
		Name:     "no-removals",
		Severity: SeverityError,
		Enabled:  true,
		Rego: `package custom.noremovals

import rego.v1

deny contains violation if {
	some action in input.plan.actions
	action.verb == "remove"
	violation := {
		"message": sprintf("removals are not allowed: %s", [action.ref]),
		"severity": "error",
		"ref": action.ref,
	}
}
`,
	}
	if err := eng.AddPolicy(context.Background(), custom); err != nil {
		t.Fatalf("AddPolicy failed: %v", err)
	}

	plan := testPlan(action(engine.KindFile, "/tmp/anything", engine.VerbRemove, nil))
	result, err := eng.Evaluate(context.Background(), plan)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Allowed {
		t.Error("custom policy must block the removal")
	}
}
