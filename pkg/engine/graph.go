package engine

import (
	"fmt"
	"sort"
	"strings"
)

// depGraph is the declared dependency graph over resources.
// It produces a deterministic topological order: resources appear after
// everything they require, and independent resources keep declaration order.
type depGraph struct {
	// resources maps refs to their resources
	resources map[Ref]*Resource

	// dependents maps a ref to the refs that require it
	dependents map[Ref][]Ref

	// inDegree tracks the number of unresolved requirements per ref
	inDegree map[Ref]int
}

// newDepGraph indexes the resources and validates their requirement edges.
func newDepGraph(resources []Resource) (*depGraph, error) {
	g := &depGraph{
		resources:  make(map[Ref]*Resource, len(resources)),
		dependents: make(map[Ref][]Ref),
		inDegree:   make(map[Ref]int, len(resources)),
	}

	for i := range resources {
		r := &resources[i]
		ref := r.Ref()
		if _, exists := g.resources[ref]; exists {
			return nil, NewValidationError(
				fmt.Sprintf("duplicate resource identifier: %s", ref), nil,
			).WithResource(ref.String())
		}
		g.resources[ref] = r
		g.inDegree[ref] = 0
	}

	for _, r := range resources {
		ref := r.Ref()
		for _, req := range r.Requires {
			if _, exists := g.resources[req]; !exists {
				return nil, NewValidationError(
					fmt.Sprintf("resource %s requires undeclared resource %s", ref, req), nil,
				).WithResource(ref.String())
			}
			if req == ref {
				return nil, NewCycleError(
					fmt.Sprintf("resource %s requires itself", ref), nil,
				).WithResource(ref.String())
			}
			g.dependents[req] = append(g.dependents[req], ref)
			g.inDegree[ref]++
		}
	}

	return g, nil
}

// SortResources returns the resources in dependency order. Resources with
// no ordering constraint between them keep their declaration order. A
// dependency cycle fails with a cycle error naming the cycle path.
func SortResources(resources []Resource) ([]Resource, error) {
	if len(resources) == 0 {
		return nil, nil
	}

	g, err := newDepGraph(resources)
	if err != nil {
		return nil, err
	}

	// Kahn's algorithm with a ready list kept sorted by declaration
	// position. Selecting the lowest position first makes the order
	// stable and deterministic.
	ready := make([]Ref, 0, len(resources))
	for ref, deg := range g.inDegree {
		if deg == 0 {
			ready = append(ready, ref)
		}
	}
	g.sortByPosition(ready)

	ordered := make([]Resource, 0, len(resources))
	for len(ready) > 0 {
		ref := ready[0]
		ready = ready[1:]
		ordered = append(ordered, *g.resources[ref])

		released := make([]Ref, 0)
		for _, dep := range g.dependents[ref] {
			g.inDegree[dep]--
			if g.inDegree[dep] == 0 {
				released = append(released, dep)
			}
		}
		if len(released) > 0 {
			ready = append(ready, released...)
			g.sortByPosition(ready)
		}
	}

	if len(ordered) != len(resources) {
		cycle := g.findCycle()
		return nil, NewCycleError(
			fmt.Sprintf("dependency cycle detected: %s", formatCycle(cycle)), nil,
		)
	}

	return ordered, nil
}

// sortByPosition orders refs by their resource's declaration position.
func (g *depGraph) sortByPosition(refs []Ref) {
	sort.Slice(refs, func(i, j int) bool {
		return g.resources[refs[i]].Position < g.resources[refs[j]].Position
	})
}

// findCycle locates one cycle among the unprocessed resources using DFS.
// Only reached after Kahn's algorithm stalls, so a cycle must exist.
func (g *depGraph) findCycle() []Ref {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)

	state := make(map[Ref]int, len(g.resources))
	var stack []Ref
	var cycle []Ref

	var visit func(ref Ref) bool
	visit = func(ref Ref) bool {
		state[ref] = inStack
		stack = append(stack, ref)

		for _, req := range g.resources[ref].Requires {
			switch state[req] {
			case unvisited:
				if visit(req) {
					return true
				}
			case inStack:
				start := 0
				for i, r := range stack {
					if r == req {
						start = i
						break
					}
				}
				cycle = append(append([]Ref{}, stack[start:]...), req)
				return true
			}
		}

		stack = stack[:len(stack)-1]
		state[ref] = done
		return false
	}

	// Visit in declaration order so the reported cycle is deterministic.
	refs := make([]Ref, 0, len(g.resources))
	for ref := range g.resources {
		refs = append(refs, ref)
	}
	g.sortByPosition(refs)

	for _, ref := range refs {
		if state[ref] == unvisited && visit(ref) {
			break
		}
	}

	return cycle
}

// formatCycle formats a cycle path for error messages.
func formatCycle(cycle []Ref) string {
	if len(cycle) == 0 {
		return "unknown"
	}
	parts := make([]string, len(cycle))
	for i, ref := range cycle {
		parts[i] = ref.String()
	}
	return strings.Join(parts, " -> ")
}
