package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Skip reasons recorded on ActionResult. Human-readable only; report
// classification uses the NotReached flag, not these strings.
const (
	reasonAlreadySatisfied = "already satisfied"
	reasonAfterFailure     = "aborted after earlier failure"
	reasonCancelled        = "run cancelled"
)

// ExecOptions are the per-run execution policy knobs.
type ExecOptions struct {
	// ContinueOnError keeps executing remaining actions after a failure.
	// Default is abort: remaining actions are recorded as skipped.
	ContinueOnError bool

	// DryRun records what would change without calling any adapter Apply.
	DryRun bool
}

// Executor runs a plan strictly sequentially, in plan order. Each action is
// consumed exactly once; applied actions emit a change event on the bus.
type Executor struct {
	registry AdapterRegistry
	bus      *NotificationBus
	logger   zerolog.Logger
}

// NewExecutor creates an executor. The bus may be nil when no handlers are
// declared.
func NewExecutor(registry AdapterRegistry, bus *NotificationBus, logger zerolog.Logger) *Executor {
	return &Executor{
		registry: registry,
		bus:      bus,
		logger:   logger.With().Str("component", "executor").Logger(),
	}
}

// Execute applies the plan and returns one result per action, in plan
// order. Against an already-converged host every result is skipped. The
// returned error is the first apply failure, nil when all actions
// succeeded or were skipped.
func (e *Executor) Execute(ctx context.Context, plan *Plan, opts ExecOptions) ([]ActionResult, error) {
	results := make([]ActionResult, 0, len(plan.Actions))
	var firstErr error
	aborted := false
	cancelled := false

	for i := range plan.Actions {
		action := &plan.Actions[i]

		if err := ctx.Err(); err != nil && !aborted {
			aborted = true
			cancelled = true
			firstErr = NewApplyError(reasonCancelled, err)
		}

		switch {
		case aborted:
			reason := reasonAfterFailure
			if cancelled {
				reason = reasonCancelled
			}
			r := e.skip(action, reason)
			r.NotReached = true
			results = append(results, r)
		case action.Verb == VerbNoop:
			results = append(results, e.skip(action, reasonAlreadySatisfied))
		case opts.DryRun:
			results = append(results, e.skip(action, fmt.Sprintf("dry-run: would %s", action.Verb)))
		default:
			result := e.apply(ctx, action)
			results = append(results, result)
			if result.Status == ActionStatusFailed {
				if firstErr == nil {
					firstErr = result.Error
				}
				if !opts.ContinueOnError {
					aborted = true
				}
			}
		}
	}

	return results, firstErr
}

// apply runs a single action through its adapter and records the outcome.
func (e *Executor) apply(ctx context.Context, action *Action) ActionResult {
	started := time.Now()
	result := ActionResult{
		ActionID:  action.ID,
		Ref:       action.Ref,
		Verb:      action.Verb,
		StartedAt: started,
	}

	adapter, err := e.registry.Get(action.Ref.Kind)
	if err != nil {
		result.Status = ActionStatusFailed
		result.Error = NewApplyError("no adapter for kind", err).
			WithResource(action.Ref.String()).
			WithOperation(string(action.Verb))
		result.Duration = time.Since(started)
		return result
	}

	e.logger.Info().
		Str("resource", action.Ref.String()).
		Str("verb", string(action.Verb)).
		Msg("Applying action")

	_, err = adapter.Apply(ctx, action)
	result.Duration = time.Since(started)

	if err != nil {
		result.Status = ActionStatusFailed
		applyErr, ok := err.(*Error)
		if !ok {
			applyErr = NewApplyError("apply failed", err)
		}
		result.Error = applyErr.
			WithResource(action.Ref.String()).
			WithOperation(string(action.Verb))
		e.logger.Error().
			Str("resource", action.Ref.String()).
			Str("verb", string(action.Verb)).
			Err(err).
			Msg("Action failed")
		return result
	}

	result.Status = ActionStatusApplied
	if e.bus != nil {
		e.bus.Record(ChangeEvent{
			Ref:    action.Ref,
			Verb:   action.Verb,
			Status: ActionStatusApplied,
			At:     time.Now(),
		})
	}

	e.logger.Info().
		Str("resource", action.Ref.String()).
		Str("verb", string(action.Verb)).
		Dur("duration", result.Duration).
		Msg("Action applied")

	return result
}

func (e *Executor) skip(action *Action, reason string) ActionResult {
	e.logger.Debug().
		Str("resource", action.Ref.String()).
		Str("reason", reason).
		Msg("Skipping action")

	return ActionResult{
		ActionID:  action.ID,
		Ref:       action.Ref,
		Verb:      action.Verb,
		Status:    ActionStatusSkipped,
		Reason:    reason,
		StartedAt: time.Now(),
	}
}
