package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// NotificationBus collects change events during the primary pass and fires
// triggered handlers afterwards. A handler fires at most once per run, no
// matter how many of its trigger resources changed, and handlers fire in
// declaration order only after the full primary action list completes.
type NotificationBus struct {
	handlers []Handler
	events   []ChangeEvent
	logger   zerolog.Logger
}

// NewNotificationBus creates a bus over the declared handlers.
func NewNotificationBus(handlers []Handler, logger zerolog.Logger) *NotificationBus {
	sorted := make([]Handler, len(handlers))
	copy(sorted, handlers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Position < sorted[j].Position
	})

	return &NotificationBus{
		handlers: sorted,
		logger:   logger.With().Str("component", "bus").Logger(),
	}
}

// Record collects a change event from the executor. Only applied changes
// trigger handlers.
func (b *NotificationBus) Record(ev ChangeEvent) {
	if ev.Status != ActionStatusApplied {
		return
	}
	b.events = append(b.events, ev)
}

// Events returns the recorded change events.
func (b *NotificationBus) Events() []ChangeEvent {
	return b.events
}

// Fire executes every triggered handler exactly once, in declaration
// order, through the adapter registry. A failing handler is reported but
// never rolls back applied primary actions or blocks later handlers.
// Recorded events are discarded afterwards.
func (b *NotificationBus) Fire(ctx context.Context, registry AdapterRegistry) []HandlerResult {
	results := make([]HandlerResult, 0, len(b.handlers))

	for i := range b.handlers {
		h := &b.handlers[i]
		triggers := 0
		for _, ev := range b.events {
			if h.TriggeredBy(ev) {
				triggers++
			}
		}

		result := HandlerResult{
			HandlerID:    h.ID,
			Ref:          h.Do.Ref(),
			TriggerCount: triggers,
		}

		if triggers == 0 {
			result.Status = HandlerStatusSkipped
			results = append(results, result)
			continue
		}

		started := time.Now()
		err := b.fireHandler(ctx, registry, h)
		result.Duration = time.Since(started)

		if err != nil {
			result.Status = HandlerStatusFailed
			result.Error = NewHandlerError("handler failed", err).
				WithResource(h.Do.Ref().String()).
				WithOperation(h.ID)
			b.logger.Error().Str("handler", h.ID).Err(err).Msg("Handler failed")
		} else {
			result.Status = HandlerStatusFired
			b.logger.Info().
				Str("handler", h.ID).
				Int("triggers", triggers).
				Dur("duration", result.Duration).
				Msg("Handler fired")
		}

		results = append(results, result)
	}

	b.events = nil
	return results
}

// fireHandler renders the handler's action template and applies it.
func (b *NotificationBus) fireHandler(ctx context.Context, registry AdapterRegistry, h *Handler) error {
	adapter, err := registry.Get(h.Do.Kind)
	if err != nil {
		return fmt.Errorf("no adapter for handler target: %w", err)
	}

	action := &Action{
		ID:      fmt.Sprintf("handler-%s", h.ID),
		Ref:     h.Do.Ref(),
		Verb:    VerbModify,
		Desired: h.Do.Attributes.Clone(),
	}

	_, err = adapter.Apply(ctx, action)
	return err
}
