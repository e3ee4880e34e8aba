package engine

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies the category of a managed resource.
type Kind string

const (
	// KindPackage is an OS package managed through the system package manager.
	KindPackage Kind = "package"

	// KindFile is a file on the target host.
	KindFile Kind = "file"

	// KindService is a system service.
	KindService Kind = "service"

	// KindUser is a local user account.
	KindUser Kind = "user"

	// KindDBObject is a database-level object (database, user, grant).
	KindDBObject Kind = "dbobject"
)

// Validate checks if the kind is one of the supported resource kinds.
func (k Kind) Validate() error {
	switch k {
	case KindPackage, KindFile, KindService, KindUser, KindDBObject:
		return nil
	default:
		return fmt.Errorf("invalid resource kind: %s", k)
	}
}

// Ref uniquely identifies a resource as kind plus identifier.
// Identifiers are unique per kind.
type Ref struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

// String returns the canonical "kind/id" form.
func (r Ref) String() string {
	return string(r.Kind) + "/" + r.ID
}

// ParseRef parses a "kind/id" string into a Ref.
func ParseRef(s string) (Ref, error) {
	kind, id, ok := strings.Cut(s, "/")
	if !ok || kind == "" || id == "" {
		return Ref{}, fmt.Errorf("invalid resource reference %q: want kind/id", s)
	}
	ref := Ref{Kind: Kind(kind), ID: id}
	if err := ref.Kind.Validate(); err != nil {
		return Ref{}, err
	}
	return ref, nil
}

// Attributes is the attribute map of a resource, desired or observed.
type Attributes map[string]any

// Clone returns a shallow copy of the attribute map.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// StateAttr is the attribute naming the desired existence of a resource.
const StateAttr = "state"

const (
	// StatePresent declares the resource should exist. Default.
	StatePresent = "present"

	// StateAbsent declares the resource should not exist.
	StateAbsent = "absent"
)

// Resource is a declared unit of desired state.
type Resource struct {
	// Kind is the resource kind.
	Kind Kind `json:"kind"`

	// ID is the identifier, unique per kind.
	ID string `json:"id"`

	// Attributes are the desired attribute values. Only the declared
	// attributes participate in drift comparison.
	Attributes Attributes `json:"attributes,omitempty"`

	// Requires lists resources that must be converged before this one.
	Requires []Ref `json:"requires,omitempty"`

	// Labels are key-value pairs for organizing and selecting resources.
	Labels map[string]string `json:"labels,omitempty"`

	// Position is the zero-based declaration order in the manifest.
	// It is the stable tie-break for independent resources.
	Position int `json:"position"`
}

// Ref returns the resource's reference.
func (r *Resource) Ref() Ref {
	return Ref{Kind: r.Kind, ID: r.ID}
}

// DesiredState returns the declared state attribute, defaulting to present.
func (r *Resource) DesiredState() string {
	if s, ok := r.Attributes[StateAttr].(string); ok && s != "" {
		return s
	}
	return StatePresent
}

// Snapshot is the observed host state for one run, immutable once taken.
type Snapshot struct {
	// Observed maps resource refs to the attributes probed from the host.
	// A resource absent from both maps was observed as not existing.
	Observed map[Ref]Attributes `json:"observed"`

	// Unknown maps resource refs to the probe error that prevented
	// observation. Unknown resources are treated as absent by the planner.
	Unknown map[Ref]string `json:"unknown,omitempty"`

	// TakenAt is when the snapshot was captured.
	TakenAt time.Time `json:"taken_at"`
}

// Lookup returns the observed attributes for a resource and whether the
// resource was observed to exist. Unknown resources report as absent.
func (s *Snapshot) Lookup(ref Ref) (Attributes, bool) {
	attrs, ok := s.Observed[ref]
	return attrs, ok
}

// IsUnknown reports whether the resource state could not be determined.
func (s *Snapshot) IsUnknown(ref Ref) bool {
	_, ok := s.Unknown[ref]
	return ok
}

// Change records one attribute-level difference between observed and
// desired state.
type Change struct {
	// Path is the attribute name being changed.
	Path string `json:"path"`

	// Before is the observed value, nil when the resource is absent.
	Before any `json:"before,omitempty"`

	// After is the desired value, nil when the resource is being removed.
	After any `json:"after,omitempty"`
}

// Action is one unit of the execution plan. Created by the planner,
// consumed exactly once by the executor.
type Action struct {
	// ID identifies the action within its plan. Deterministic for a fixed
	// resource set and snapshot.
	ID string `json:"id"`

	// Ref is the target resource.
	Ref Ref `json:"ref"`

	// Verb is the operation required to converge the resource.
	Verb Verb `json:"verb"`

	// Diff lists the attribute changes this action applies.
	Diff []Change `json:"diff,omitempty"`

	// Desired is the declared attribute set.
	Desired Attributes `json:"desired,omitempty"`

	// Observed is the probed attribute set, nil when absent.
	Observed Attributes `json:"observed,omitempty"`

	// Labels are carried from the resource declaration so policies can
	// select actions by label.
	Labels map[string]string `json:"labels,omitempty"`

	// Position is the plan order of the action.
	Position int `json:"position"`
}

// Plan is the ordered action list for one run.
type Plan struct {
	// ID is the unique identifier for this plan.
	ID string `json:"id"`

	// CreatedAt is when the plan was computed.
	CreatedAt time.Time `json:"created_at"`

	// Actions are the planned actions in execution order.
	Actions []Action `json:"actions"`

	// Summary provides per-verb statistics.
	Summary PlanSummary `json:"summary"`
}

// PlanSummary provides statistics about a plan.
type PlanSummary struct {
	Total    int `json:"total"`
	ToCreate int `json:"to_create"`
	ToModify int `json:"to_modify"`
	ToRemove int `json:"to_remove"`
	NoChange int `json:"no_change"`
}

// Converged reports whether the plan contains no mutating actions.
func (s PlanSummary) Converged() bool {
	return s.ToCreate == 0 && s.ToModify == 0 && s.ToRemove == 0
}

// ChangeEvent is emitted by the executor for every applied action and
// consumed by the notification bus, then discarded.
type ChangeEvent struct {
	// Ref is the resource that changed.
	Ref Ref `json:"ref"`

	// Verb is the operation that was applied.
	Verb Verb `json:"verb"`

	// Status is the resulting action status.
	Status ActionStatus `json:"status"`

	// At is when the change completed.
	At time.Time `json:"at"`
}

// ActionTemplate is the effect of a handler: an adapter operation rendered
// into an Action when the handler fires.
type ActionTemplate struct {
	// Kind is the target resource kind.
	Kind Kind `json:"kind"`

	// ID is the target resource identifier.
	ID string `json:"id"`

	// Attributes parameterize the operation (e.g. action: restart).
	Attributes Attributes `json:"attributes,omitempty"`
}

// Ref returns the template target's reference.
func (t *ActionTemplate) Ref() Ref {
	return Ref{Kind: t.Kind, ID: t.ID}
}

// Handler is a deferred follow-up action fired at most once per run after
// all primary actions complete.
type Handler struct {
	// ID is the handler name, unique per manifest.
	ID string `json:"id"`

	// On lists the resources whose changes trigger this handler.
	On []Ref `json:"on"`

	// Do is the action performed when the handler fires.
	Do ActionTemplate `json:"do"`

	// Position is the zero-based declaration order; handlers fire in this
	// order.
	Position int `json:"position"`
}

// TriggeredBy reports whether the event's resource is in the trigger set.
func (h *Handler) TriggeredBy(ev ChangeEvent) bool {
	for _, ref := range h.On {
		if ref == ev.Ref {
			return true
		}
	}
	return false
}
