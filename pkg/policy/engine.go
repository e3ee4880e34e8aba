package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/convergekit/converge/pkg/engine"
)

// Engine evaluates plans against Rego policies before execution. It
// implements engine.PolicyGate.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	advisory bool
	logger   zerolog.Logger
}

// compiledPolicy is a policy with its prepared deny query.
type compiledPolicy struct {
	policy   *Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy").Logger(),
	}

	builtins := GetBuiltinPolicies()
	for i := range builtins {
		if err := e.compile(context.Background(), &builtins[i]); err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
	}

	e.logger.Debug().Int("count", len(builtins)).Msg("Built-in policies loaded")
	return e, nil
}

// AddPolicy compiles and registers a policy. An existing policy of the
// same name is replaced.
func (e *Engine) AddPolicy(ctx context.Context, policy *Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.compile(ctx, policy)
}

// ListPolicies returns all loaded policies.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, *cp.policy)
	}
	return policies
}

// SetAdvisory switches the engine to advisory mode: violations are
// logged but never block the run.
func (e *Engine) SetAdvisory(advisory bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.advisory = advisory
}

// CheckPlan evaluates the plan against every enabled policy. Any
// error-severity violation blocks the run unless the engine is in
// advisory mode.
func (e *Engine) CheckPlan(ctx context.Context, plan *engine.Plan) error {
	result, err := e.Evaluate(ctx, plan)
	if err != nil {
		return err
	}

	for _, w := range result.Warnings {
		e.logger.Warn().Str("warning", w).Msg("Policy evaluation warning")
	}
	for _, v := range result.Violations {
		if v.Severity == string(SeverityError) {
			continue
		}
		e.logger.Warn().
			Str("policy", v.Policy).
			Str("ref", v.Ref).
			Msg(v.Message)
	}

	if result.Allowed {
		return nil
	}

	var blocked []string
	for _, v := range result.Violations {
		if v.Severity == string(SeverityError) {
			blocked = append(blocked, v.Message)
		}
	}

	e.mu.RLock()
	advisory := e.advisory
	e.mu.RUnlock()
	if advisory {
		for _, msg := range blocked {
			e.logger.Warn().Msg("Policy violation (advisory mode): " + msg)
		}
		return nil
	}

	return engine.NewValidationError(
		fmt.Sprintf("plan rejected by policy: %s", strings.Join(blocked, "; ")), nil)
}

// Evaluate runs every enabled policy against the plan and collects
// violations.
func (e *Engine) Evaluate(ctx context.Context, plan *engine.Plan) (*Result, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	input := buildPlanInput(plan)

	result := &Result{Allowed: true, EvaluatedAt: time.Now()}
	for _, cp := range e.policies {
		if !cp.policy.Enabled {
			continue
		}

		violations, err := e.evalPolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", cp.policy.Name).
				Msg("Policy evaluation failed")
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("policy %s evaluation failed: %v", cp.policy.Name, err))
			continue
		}
		result.Violations = append(result.Violations, violations...)
	}

	for i := range result.Violations {
		if result.Violations[i].Severity == string(SeverityError) {
			result.Allowed = false
			break
		}
	}

	e.logger.Debug().
		Str("plan_id", plan.ID).
		Int("violations", len(result.Violations)).
		Bool("allowed", result.Allowed).
		Msg("Plan policy evaluation completed")

	return result, nil
}

func (e *Engine) evalPolicy(ctx context.Context, cp *compiledPolicy, input map[string]any) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		for _, expr := range result.Expressions {
			denySet, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, d := range denySet {
				violations = append(violations, makeViolation(cp.policy, d))
			}
		}
	}
	return violations, nil
}

func makeViolation(policy *Policy, result interface{}) Violation {
	violation := Violation{
		Policy:   policy.Name,
		Severity: string(policy.Severity),
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = sev
		}
		if ref, ok := v["ref"].(string); ok {
			violation.Ref = ref
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compile prepares the policy's deny query. Caller holds the lock.
func (e *Engine) compile(ctx context.Context, policy *Policy) error {
	packageName := extractPackageName(policy.Rego)

	r := rego.New(
		rego.Module(policy.Name+".rego", policy.Rego),
		rego.Query(fmt.Sprintf("data.%s.deny", packageName)),
	)
	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		query:    query,
		compiled: time.Now(),
	}
	return nil
}

// extractPackageName extracts the package name from Rego source.
func extractPackageName(source string) string {
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "converge.policies"
}

// buildPlanInput shapes the plan for Rego evaluation.
func buildPlanInput(plan *engine.Plan) map[string]any {
	actions := make([]map[string]any, 0, len(plan.Actions))
	for i := range plan.Actions {
		a := &plan.Actions[i]
		labels := make(map[string]any, len(a.Labels))
		for k, v := range a.Labels {
			labels[k] = v
		}
		actions = append(actions, map[string]any{
			"ref":     a.Ref.String(),
			"kind":    string(a.Ref.Kind),
			"id":      a.Ref.ID,
			"verb":    string(a.Verb),
			"desired": map[string]any(a.Desired),
			"labels":  labels,
		})
	}
	return map[string]any{
		"plan": map[string]any{
			"id":      plan.ID,
			"actions": actions,
		},
	}
}
