package engine

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Planner compares declared resources against the fact snapshot and
// produces the ordered action list for one run.
type Planner struct {
	logger zerolog.Logger
}

// NewPlanner creates a planner.
func NewPlanner(logger zerolog.Logger) *Planner {
	return &Planner{
		logger: logger.With().Str("component", "planner").Logger(),
	}
}

// Plan computes the action list. Actions appear in dependency order with
// declaration order as the stable tie-break; a dependency cycle fails
// before any mutation. For a fixed resource set and snapshot the returned
// action list is identical across runs, except for the plan ID.
func (p *Planner) Plan(resources []Resource, snap *Snapshot) (*Plan, error) {
	ordered, err := SortResources(resources)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		ID:        uuid.New().String(),
		CreatedAt: time.Now(),
		Actions:   make([]Action, 0, len(ordered)),
		Summary:   PlanSummary{Total: len(ordered)},
	}

	for i := range ordered {
		r := &ordered[i]
		verb, diff := p.diffResource(r, snap)

		action := Action{
			ID:       fmt.Sprintf("%03d-%s", i, r.Ref()),
			Ref:      r.Ref(),
			Verb:     verb,
			Diff:     diff,
			Desired:  r.Attributes.Clone(),
			Labels:   r.Labels,
			Position: i,
		}
		if observed, ok := snap.Lookup(r.Ref()); ok {
			action.Observed = observed.Clone()
		}

		switch verb {
		case VerbCreate:
			plan.Summary.ToCreate++
		case VerbModify:
			plan.Summary.ToModify++
		case VerbRemove:
			plan.Summary.ToRemove++
		case VerbNoop:
			plan.Summary.NoChange++
		}

		plan.Actions = append(plan.Actions, action)
	}

	p.logger.Info().
		Int("total", plan.Summary.Total).
		Int("create", plan.Summary.ToCreate).
		Int("modify", plan.Summary.ToModify).
		Int("remove", plan.Summary.ToRemove).
		Int("noop", plan.Summary.NoChange).
		Msg("Plan computed")

	return plan, nil
}

// diffResource determines the verb and attribute diff for one resource.
// Comparison covers the declared attribute subset only: attributes the
// manifest does not mention are never treated as drift. Unknown resources
// are treated as absent.
func (p *Planner) diffResource(r *Resource, snap *Snapshot) (Verb, []Change) {
	ref := r.Ref()
	observed, exists := snap.Lookup(ref)

	if r.DesiredState() == StateAbsent {
		if !exists {
			return VerbNoop, nil
		}
		return VerbRemove, []Change{{Path: StateAttr, Before: StatePresent, After: StateAbsent}}
	}

	if !exists {
		return VerbCreate, createDiff(r)
	}

	var diff []Change
	for _, key := range sortedAttrKeys(r.Attributes) {
		if key == StateAttr {
			continue
		}
		desired := r.Attributes[key]
		before, present := observed[key]
		if !present || !attrEqual(before, desired) {
			var beforeVal any
			if present {
				beforeVal = before
			}
			diff = append(diff, Change{Path: key, Before: beforeVal, After: desired})
		}
	}

	if len(diff) == 0 {
		return VerbNoop, nil
	}
	return VerbModify, diff
}

// createDiff lists every declared attribute as an addition.
func createDiff(r *Resource) []Change {
	diff := []Change{{Path: StateAttr, After: StatePresent}}
	for _, key := range sortedAttrKeys(r.Attributes) {
		if key == StateAttr {
			continue
		}
		diff = append(diff, Change{Path: key, After: r.Attributes[key]})
	}
	return diff
}

// sortedAttrKeys returns attribute names in lexical order so diffs are
// deterministic.
func sortedAttrKeys(attrs Attributes) []string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// attrEqual compares two attribute values through a JSON round-trip so
// that manifest-typed and adapter-typed scalars compare by value.
func attrEqual(a, b any) bool {
	return reflect.DeepEqual(canonical(a), canonical(b))
}

func canonical(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}
