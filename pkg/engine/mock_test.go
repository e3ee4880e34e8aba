package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// testLogger is a disabled logger for tests.
func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

// mockAdapter is a scriptable adapter. Probe and Apply calls are
// recorded in order for assertions.
type mockAdapter struct {
	kind      Kind
	probeFn   func(r *Resource) (Attributes, bool, error)
	applyFn   func(a *Action) (Attributes, error)
	probed    []string
	applied   []string
	probeErr  error
	applyErr  error
	observed  map[string]Attributes
}

func newMockAdapter(kind Kind) *mockAdapter {
	return &mockAdapter{kind: kind, observed: make(map[string]Attributes)}
}

func (m *mockAdapter) Kind() Kind { return m.kind }

func (m *mockAdapter) Probe(_ context.Context, r *Resource) (Attributes, bool, error) {
	m.probed = append(m.probed, r.Ref().String())
	if m.probeFn != nil {
		return m.probeFn(r)
	}
	if m.probeErr != nil {
		return nil, false, m.probeErr
	}
	attrs, ok := m.observed[r.Ref().String()]
	return attrs, ok, nil
}

func (m *mockAdapter) Apply(_ context.Context, a *Action) (Attributes, error) {
	m.applied = append(m.applied, a.Ref.String())
	if m.applyFn != nil {
		return m.applyFn(a)
	}
	if m.applyErr != nil {
		return nil, m.applyErr
	}
	return a.Desired, nil
}

// mockRegistry maps kinds to mock adapters.
type mockRegistry struct {
	adapters map[Kind]Adapter
}

func newMockRegistry(adapters ...*mockAdapter) *mockRegistry {
	reg := &mockRegistry{adapters: make(map[Kind]Adapter)}
	for _, a := range adapters {
		reg.adapters[a.kind] = a
	}
	return reg
}

func (r *mockRegistry) Get(kind Kind) (Adapter, error) {
	a, ok := r.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for kind %s", kind)
	}
	return a, nil
}

func (r *mockRegistry) Kinds() []Kind {
	kinds := make([]Kind, 0, len(r.adapters))
	for k := range r.adapters {
		kinds = append(kinds, k)
	}
	return kinds
}

// res is a shorthand resource constructor for tests.
func res(kind Kind, id string, pos int, attrs Attributes, requires ...Ref) Resource {
	return Resource{
		Kind:       kind,
		ID:         id,
		Attributes: attrs,
		Requires:   requires,
		Position:   pos,
	}
}

func refOf(kind Kind, id string) Ref {
	return Ref{Kind: kind, ID: id}
}
