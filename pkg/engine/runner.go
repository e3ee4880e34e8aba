package engine

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/convergekit/converge/pkg/stores"
	"github.com/convergekit/converge/pkg/telemetry"
)

// RunnerConfig configures one runner instance.
type RunnerConfig struct {
	// Target labels the host being converged in persisted records.
	Target string

	// ContinueOnError keeps executing after an action failure.
	ContinueOnError bool

	// DryRun plans and reports without applying anything.
	DryRun bool

	// FactTTL bounds how long persisted facts stay fresh. Zero disables
	// expiry.
	FactTTL time.Duration
}

// Runner drives one full convergence run: gather facts, plan, gate the
// plan through policy, execute, fire handlers, and assemble the report.
// Store, policy, metrics and tracer are all optional.
type Runner struct {
	registry AdapterRegistry
	policy   PolicyGate
	store    stores.Store
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
	logger   zerolog.Logger
	config   RunnerConfig
}

// NewRunner creates a runner over the adapter registry.
func NewRunner(registry AdapterRegistry, cfg RunnerConfig, logger zerolog.Logger) *Runner {
	return &Runner{
		registry: registry,
		logger:   logger.With().Str("component", "runner").Logger(),
		config:   cfg,
	}
}

// WithPolicy attaches a policy gate evaluated before execution.
func (r *Runner) WithPolicy(gate PolicyGate) *Runner {
	r.policy = gate
	return r
}

// WithStore attaches a persistence layer for runs, actions and facts.
func (r *Runner) WithStore(store stores.Store) *Runner {
	r.store = store
	return r
}

// WithTelemetry attaches metrics and tracing.
func (r *Runner) WithTelemetry(metrics *telemetry.Metrics, tracer *telemetry.Tracer) *Runner {
	r.metrics = metrics
	r.tracer = tracer
	return r
}

// Run performs one convergence run and returns its report. The error is
// non-nil only for failures that stop the run before or during planning:
// validation errors, dependency cycles, policy denials, or cancellation.
// Action and handler failures are conveyed through the report instead.
func (r *Runner) Run(ctx context.Context, resources []Resource, handlers []Handler) (*RunReport, error) {
	runID := uuid.New().String()
	startedAt := time.Now()
	logger := r.logger.With().Str("run_id", runID).Logger()

	if r.tracer != nil {
		var span trace.Span
		ctx, span = r.tracer.StartRunSpan(ctx, runID)
		defer span.End()
	}
	if r.metrics != nil {
		r.metrics.RecordRunStarted()
	}
	r.persistRunStart(ctx, runID, startedAt, logger)

	logger.Info().
		Int("resources", len(resources)).
		Int("handlers", len(handlers)).
		Bool("dry_run", r.config.DryRun).
		Msg("Run started")

	gatherer := NewFactGatherer(r.registry, logger)
	snap, err := gatherer.Gather(ctx, resources)
	if err != nil {
		r.finishFailed(ctx, runID, logger, err)
		return nil, err
	}
	r.persistFacts(ctx, snap, logger)
	if r.metrics != nil {
		for range snap.Unknown {
			r.metrics.RecordProbeError("unknown")
		}
	}

	planner := NewPlanner(logger)
	plan, err := planner.Plan(resources, snap)
	if err != nil {
		r.finishFailed(ctx, runID, logger, err)
		return nil, err
	}
	if r.metrics != nil {
		r.metrics.SetPlanActions(string(VerbCreate), float64(plan.Summary.ToCreate))
		r.metrics.SetPlanActions(string(VerbModify), float64(plan.Summary.ToModify))
		r.metrics.SetPlanActions(string(VerbRemove), float64(plan.Summary.ToRemove))
		r.metrics.SetPlanActions(string(VerbNoop), float64(plan.Summary.NoChange))
	}

	if r.policy != nil {
		if err := r.policy.CheckPlan(ctx, plan); err != nil {
			logger.Error().Err(err).Msg("Plan rejected by policy")
			r.finishFailed(ctx, runID, logger, err)
			return nil, err
		}
	}

	bus := NewNotificationBus(handlers, logger)
	executor := NewExecutor(r.registry, bus, logger)
	actions, _ := executor.Execute(ctx, plan, ExecOptions{
		ContinueOnError: r.config.ContinueOnError,
		DryRun:          r.config.DryRun,
	})

	var handlerResults []HandlerResult
	if !r.config.DryRun {
		handlerResults = bus.Fire(ctx, r.registry)
	}

	report := BuildReport(runID, plan, snap, actions, handlerResults, startedAt)

	if r.metrics != nil {
		for _, a := range actions {
			r.metrics.RecordActionExecution(string(a.Ref.Kind), string(a.Verb), string(a.Status), a.Duration)
		}
		for _, h := range handlerResults {
			r.metrics.RecordHandlerFiring(string(h.Status))
		}
		r.metrics.RecordRunCompleted(string(report.Status), time.Since(startedAt))
	}

	r.persistRunEnd(ctx, runID, plan, report, logger)

	logger.Info().
		Str("status", string(report.Status)).
		Int("exit_code", report.ExitCode).
		Dur("duration", report.CompletedAt.Sub(report.StartedAt)).
		Msg("Run completed")

	return report, nil
}

// persistRunStart records the run as running. Persistence failures are
// logged, never fatal to the run itself.
func (r *Runner) persistRunStart(ctx context.Context, runID string, startedAt time.Time, logger zerolog.Logger) {
	if r.store == nil {
		return
	}
	now := time.Now()
	err := r.store.CreateRun(ctx, &stores.RunRecord{
		ID:              runID,
		Status:          string(RunStatusRunning),
		Target:          r.config.Target,
		ContinueOnError: r.config.ContinueOnError,
		DryRun:          r.config.DryRun,
		StartedAt:       startedAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to persist run start")
	}
}

// persistFacts caches the snapshot so later plan-only invocations can
// reuse it within the TTL window.
func (r *Runner) persistFacts(ctx context.Context, snap *Snapshot, logger zerolog.Logger) {
	if r.store == nil {
		return
	}
	now := time.Now()
	var expires *time.Time
	ttl := 0
	if r.config.FactTTL > 0 {
		t := now.Add(r.config.FactTTL)
		expires = &t
		ttl = int(r.config.FactTTL.Seconds())
	}

	put := func(ref Ref, value string, exists bool) {
		err := r.store.UpsertFact(ctx, &stores.Fact{
			ID:        uuid.New().String(),
			TargetID:  r.config.Target,
			Ref:       ref.String(),
			Value:     value,
			Exists:    exists,
			TTL:       ttl,
			ExpiresAt: expires,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			logger.Warn().Str("ref", ref.String()).Err(err).Msg("Failed to persist fact")
		}
	}

	for ref, attrs := range snap.Observed {
		raw, err := json.Marshal(attrs)
		if err != nil {
			continue
		}
		put(ref, string(raw), true)
	}
	for ref := range snap.Unknown {
		put(ref, "null", false)
	}
}

// persistRunEnd records per-action and per-handler outcomes, updates the
// resource state table for applied actions, and closes out the run row.
func (r *Runner) persistRunEnd(ctx context.Context, runID string, plan *Plan, report *RunReport, logger zerolog.Logger) {
	if r.store == nil {
		return
	}

	diffs := make(map[string]string, len(plan.Actions))
	desired := make(map[string]Attributes, len(plan.Actions))
	for i := range plan.Actions {
		a := &plan.Actions[i]
		if raw, err := json.Marshal(a.Diff); err == nil && len(a.Diff) > 0 {
			diffs[a.ID] = string(raw)
		}
		desired[a.ID] = a.Desired
	}

	for _, a := range report.Actions {
		rec := &stores.ActionRecord{
			ID:         a.ActionID,
			RunID:      runID,
			Ref:        a.Ref.String(),
			Verb:       string(a.Verb),
			Status:     string(a.Status),
			StartedAt:  a.StartedAt,
			DurationMS: a.Duration.Milliseconds(),
		}
		if a.Reason != "" {
			reason := a.Reason
			rec.Reason = &reason
		}
		if a.Error != nil {
			msg := a.Error.Error()
			rec.Error = &msg
		}
		if d, ok := diffs[a.ActionID]; ok {
			rec.Diff = &d
		}
		if err := r.store.CreateActionRecord(ctx, rec); err != nil {
			logger.Warn().Str("action", a.ActionID).Err(err).Msg("Failed to persist action record")
		}

		if a.Status == ActionStatusApplied {
			r.persistResourceState(ctx, runID, a, desired[a.ActionID], logger)
		}
	}

	for _, h := range report.Handlers {
		rec := &stores.HandlerRecord{
			RunID:        runID,
			HandlerID:    h.HandlerID,
			Ref:          h.Ref.String(),
			Status:       string(h.Status),
			TriggerCount: h.TriggerCount,
			DurationMS:   h.Duration.Milliseconds(),
		}
		if h.Error != nil {
			msg := h.Error.Error()
			rec.Error = &msg
		}
		if err := r.store.CreateHandlerRecord(ctx, rec); err != nil {
			logger.Warn().Str("handler", h.HandlerID).Err(err).Msg("Failed to persist handler record")
		}
	}

	var reportJSON *string
	if raw, err := json.Marshal(report); err == nil {
		s := string(raw)
		reportJSON = &s
	}
	if err := r.store.UpdateRun(ctx, runID, string(report.Status), reportJSON); err != nil {
		logger.Warn().Err(err).Msg("Failed to persist run completion")
	}
}

// persistResourceState records the last applied state of one resource.
func (r *Runner) persistResourceState(ctx context.Context, runID string, a ActionResult, attrs Attributes, logger zerolog.Logger) {
	if a.Verb == VerbRemove {
		if err := r.store.DeleteResourceState(ctx, a.Ref.String()); err != nil {
			logger.Warn().Str("ref", a.Ref.String()).Err(err).Msg("Failed to delete resource state")
		}
		return
	}

	raw, err := json.Marshal(attrs)
	if err != nil {
		return
	}
	now := time.Now()
	err = r.store.UpsertResourceState(ctx, &stores.ResourceState{
		Ref:         a.Ref.String(),
		State:       string(raw),
		Hash:        fmt.Sprintf("%x", sha256.Sum256(raw)),
		LastRunID:   runID,
		LastApplied: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		logger.Warn().Str("ref", a.Ref.String()).Err(err).Msg("Failed to persist resource state")
	}
}

// finishFailed closes out the persisted run row after a pre-execution
// failure.
func (r *Runner) finishFailed(ctx context.Context, runID string, logger zerolog.Logger, cause error) {
	if r.metrics != nil {
		var classed *Error
		if errors.As(cause, &classed) {
			r.metrics.RecordError(string(classed.Class))
		}
		r.metrics.RecordRunCompleted(string(RunStatusFailed), 0)
	}
	if r.store == nil {
		return
	}
	msg := cause.Error()
	if err := r.store.UpdateRun(ctx, runID, string(RunStatusFailed), &msg); err != nil {
		logger.Warn().Err(err).Msg("Failed to persist run failure")
	}
}
