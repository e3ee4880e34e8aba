package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// FactGatherer probes declared resources through their adapters and
// produces the immutable per-run snapshot of observed host state.
type FactGatherer struct {
	registry AdapterRegistry
	logger   zerolog.Logger
}

// NewFactGatherer creates a fact gatherer over the adapter registry.
func NewFactGatherer(registry AdapterRegistry, logger zerolog.Logger) *FactGatherer {
	return &FactGatherer{
		registry: registry,
		logger:   logger.With().Str("component", "facts").Logger(),
	}
}

// Gather probes every resource and returns the snapshot. Probing never
// mutates host state. A probe failure marks the resource unknown and is
// never fatal: the planner treats unknown as absent. Only context
// cancellation aborts gathering.
func (g *FactGatherer) Gather(ctx context.Context, resources []Resource) (*Snapshot, error) {
	snap := &Snapshot{
		Observed: make(map[Ref]Attributes, len(resources)),
		Unknown:  make(map[Ref]string),
		TakenAt:  time.Now(),
	}

	for i := range resources {
		r := &resources[i]
		ref := r.Ref()

		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("fact gathering cancelled: %w", err)
		}

		adapter, err := g.registry.Get(r.Kind)
		if err != nil {
			probeErr := NewProbeError("no adapter for kind", err).
				WithResource(ref.String()).
				WithOperation("probe")
			snap.Unknown[ref] = probeErr.Error()
			g.logger.Warn().Str("resource", ref.String()).Err(err).
				Msg("No adapter registered, state unknown")
			continue
		}

		attrs, exists, err := adapter.Probe(ctx, r)
		if err != nil {
			probeErr := NewProbeError("probe failed", err).
				WithResource(ref.String()).
				WithOperation("probe")
			snap.Unknown[ref] = probeErr.Error()
			g.logger.Warn().Str("resource", ref.String()).Err(err).
				Msg("Probe failed, assuming absent")
			continue
		}

		if exists {
			snap.Observed[ref] = attrs
		}

		g.logger.Debug().
			Str("resource", ref.String()).
			Bool("exists", exists).
			Msg("Probed resource")
	}

	g.logger.Info().
		Int("resources", len(resources)).
		Int("observed", len(snap.Observed)).
		Int("unknown", len(snap.Unknown)).
		Msg("Fact gathering completed")

	return snap, nil
}
