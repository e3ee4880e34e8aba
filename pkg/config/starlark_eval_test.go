package config

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestStarlarkEvaluate_Globals(t *testing.T) {
	se := NewStarlarkEvaluator(0)

	script := `
port = 8080
hosts = ["a", "b"]
debug = False
ratio = 0.5
settings = {"retries": 3}
_private = "hidden"
`
	out, err := se.Evaluate(context.Background(), script, nil)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if out["port"] != int64(8080) {
		t.Errorf("port = %v (%T)", out["port"], out["port"])
	}
	hosts, ok := out["hosts"].([]any)
	if !ok || len(hosts) != 2 || hosts[0] != "a" {
		t.Errorf("hosts = %v", out["hosts"])
	}
	if out["debug"] != false {
		t.Errorf("debug = %v", out["debug"])
	}
	if out["ratio"] != 0.5 {
		t.Errorf("ratio = %v", out["ratio"])
	}
	settings, ok := out["settings"].(map[string]any)
	if !ok || settings["retries"] != int64(3) {
		t.Errorf("settings = %v", out["settings"])
	}
	if _, leaked := out["_private"]; leaked {
		t.Error("underscore-prefixed globals must stay private")
	}
}

func TestStarlarkEvaluate_InputsPredeclared(t *testing.T) {
	se := NewStarlarkEvaluator(0)

	script := `env = vars["env"] + "-suffix"`
	out, err := se.Evaluate(context.Background(), script, map[string]any{
		"vars": map[string]any{"env": "prod"},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if out["env"] != "prod-suffix" {
		t.Errorf("env = %v", out["env"])
	}
}

func TestStarlarkEvaluate_SyntaxError(t *testing.T) {
	se := NewStarlarkEvaluator(0)

	_, err := se.Evaluate(context.Background(), "x = (", nil)
	if err == nil {
		t.Fatal("expected syntax error")
	}
}

func TestStarlarkEvaluate_Timeout(t *testing.T) {
	se := NewStarlarkEvaluator(50 * time.Millisecond)

	// Long-running evaluation; must be cut off by the timeout.
	script := `total = max(range(500000000))`
	_, err := se.Evaluate(context.Background(), script, nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "timeout") {
		t.Errorf("error = %v, want timeout", err)
	}
}
