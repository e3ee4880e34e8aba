package engine

import "context"

// Adapter is the capability-set interface to one external system (package
// manager, service manager, filesystem, database administration). The
// engine core is adapter-agnostic: it only ever probes and applies.
type Adapter interface {
	// Kind returns the resource kind this adapter manages.
	Kind() Kind

	// Probe inspects the current state of the resource on the host.
	// It must never mutate host state. The boolean reports whether the
	// resource exists; an error marks the resource state as unknown.
	Probe(ctx context.Context, resource *Resource) (Attributes, bool, error)

	// Apply converges the resource according to the action's verb.
	// Every applied action must be independently re-runnable with no
	// further effect once the host matches the desired state.
	Apply(ctx context.Context, action *Action) (Attributes, error)
}

// AdapterRegistry resolves adapters by resource kind.
type AdapterRegistry interface {
	// Get returns the adapter for a kind, or an error when none is
	// registered.
	Get(kind Kind) (Adapter, error)

	// Kinds lists the registered kinds.
	Kinds() []Kind
}

// PolicyGate evaluates a plan before execution. A non-nil error blocks the
// run before any adapter Apply call.
type PolicyGate interface {
	CheckPlan(ctx context.Context, plan *Plan) error
}
