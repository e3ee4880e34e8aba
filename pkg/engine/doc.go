// Package engine provides the core types and workflow of the converge
// provisioning engine.
//
// # Overview
//
// Converge drives a host from its observed state to a declared state
// through a fixed per-run pipeline:
//
//  1. Facts - probe every declared resource through its adapter (FactGatherer)
//  2. Plan - diff desired against observed, order by dependencies (Planner)
//  3. Gate - evaluate the plan against policy before any mutation (PolicyGate)
//  4. Apply - execute actions strictly sequentially (Executor)
//  5. Notify - fire triggered handlers, each at most once (NotificationBus)
//  6. Report - assemble the run report with per-action outcomes (RunReport)
//
// The Runner type wires the phases together and optionally persists run
// history, facts, and resource state through the stores package.
//
// # Core Domain Types
//
//   - Resource: one declared unit of host state (package, file, service,
//     user, dbobject) with attributes and dependencies
//   - Snapshot: the immutable per-run view of observed host state
//   - Action: one planned step with a verb (create/modify/remove/noop)
//     and an attribute diff
//   - Plan: the ordered action list for one run
//   - Handler: a deferred action triggered by change events
//   - RunReport: the structured outcome of a run
//
// # Adapter Interface
//
// Adapters connect resource kinds to external systems:
//
//	type Adapter interface {
//	    Kind() Kind
//	    Probe(ctx context.Context, resource *Resource) (Attributes, bool, error)
//	    Apply(ctx context.Context, action *Action) (Attributes, error)
//	}
//
// Probe must never mutate host state. Apply must be idempotent: re-running
// it against a converged host changes nothing.
//
// # Ordering Guarantees
//
// Actions run in dependency order with declaration order as the stable
// tie-break, so equal inputs always produce the same plan. A dependency
// cycle fails the run before any adapter Apply call.
//
// # Error Classification
//
// Errors carry a class that decides their severity:
//
//   - probe: a resource's state could not be determined; never fatal,
//     the resource is treated as absent and reported
//   - cycle: the dependency graph is cyclic; fatal before mutation
//   - apply: an action failed; remaining actions are skipped unless
//     continue-on-error is set
//   - handler: a handler failed; reported, never rolls back applied work
//
// Use the Is helpers to classify:
//
//	if engine.IsProbeError(err) {
//	    // resource treated as absent
//	}
package engine
