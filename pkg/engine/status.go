package engine

import (
	"fmt"
	"time"
)

// Verb is the operation a planned action performs on its resource.
type Verb string

const (
	// VerbCreate brings an absent resource into existence.
	VerbCreate Verb = "create"

	// VerbModify changes attributes of an existing resource.
	VerbModify Verb = "modify"

	// VerbRemove removes an existing resource.
	VerbRemove Verb = "remove"

	// VerbNoop records that the resource already satisfies its declaration.
	VerbNoop Verb = "noop"
)

// Validate checks if the verb is valid.
func (v Verb) Validate() error {
	switch v {
	case VerbCreate, VerbModify, VerbRemove, VerbNoop:
		return nil
	default:
		return fmt.Errorf("invalid verb: %s", v)
	}
}

// Mutates reports whether the verb changes host state when applied.
func (v Verb) Mutates() bool {
	return v != VerbNoop
}

// ActionStatus is the execution outcome of one action.
type ActionStatus string

const (
	// ActionStatusPending indicates the action has not executed yet.
	ActionStatusPending ActionStatus = "pending"

	// ActionStatusApplied indicates the action mutated the host.
	ActionStatusApplied ActionStatus = "applied"

	// ActionStatusSkipped indicates no work was needed or the action was
	// not reached (aborted run, failed dependency).
	ActionStatusSkipped ActionStatus = "skipped"

	// ActionStatusFailed indicates the adapter reported an apply error.
	ActionStatusFailed ActionStatus = "failed"
)

// Validate checks if the action status is valid.
func (s ActionStatus) Validate() error {
	switch s {
	case ActionStatusPending, ActionStatusApplied, ActionStatusSkipped, ActionStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid action status: %s", s)
	}
}

// IsTerminal reports whether the status is a final state.
func (s ActionStatus) IsTerminal() bool {
	return s == ActionStatusApplied || s == ActionStatusSkipped || s == ActionStatusFailed
}

// ActionResult records the outcome of executing one action.
type ActionResult struct {
	// ActionID is the plan action this result belongs to.
	ActionID string `json:"action_id"`

	// Ref is the target resource.
	Ref Ref `json:"ref"`

	// Verb is the planned operation.
	Verb Verb `json:"verb"`

	// Status is the execution outcome.
	Status ActionStatus `json:"status"`

	// Reason explains skipped results.
	Reason string `json:"reason,omitempty"`

	// NotReached marks a skip caused by an earlier failure or run
	// cancellation, as opposed to an already-satisfied resource.
	NotReached bool `json:"not_reached,omitempty"`

	// Error is the classified error for failed results.
	Error *Error `json:"error,omitempty"`

	// StartedAt is when execution started.
	StartedAt time.Time `json:"started_at"`

	// Duration is the execution time.
	Duration time.Duration `json:"duration"`
}

// HandlerStatus is the firing outcome of one handler.
type HandlerStatus string

const (
	// HandlerStatusFired indicates the handler executed successfully.
	HandlerStatusFired HandlerStatus = "fired"

	// HandlerStatusSkipped indicates no triggering event occurred.
	HandlerStatusSkipped HandlerStatus = "skipped"

	// HandlerStatusFailed indicates the handler's action failed.
	HandlerStatusFailed HandlerStatus = "failed"
)

// HandlerResult records the outcome of one handler for the run.
type HandlerResult struct {
	// HandlerID is the handler this result belongs to.
	HandlerID string `json:"handler_id"`

	// Ref is the handler's target resource.
	Ref Ref `json:"ref"`

	// Status is the firing outcome.
	Status HandlerStatus `json:"status"`

	// TriggerCount is the number of change events that matched the
	// trigger set. The handler fires at most once regardless.
	TriggerCount int `json:"trigger_count"`

	// Error is the classified error for failed results.
	Error *Error `json:"error,omitempty"`

	// Duration is the execution time for fired handlers.
	Duration time.Duration `json:"duration"`
}

// RunStatus is the overall status of a convergence run.
type RunStatus string

const (
	// RunStatusRunning indicates the run is executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusConverged indicates every action and handler succeeded or
	// was already satisfied.
	RunStatusConverged RunStatus = "converged"

	// RunStatusFailed indicates at least one action or handler failed.
	RunStatusFailed RunStatus = "failed"

	// RunStatusAborted indicates the run stopped before completing the plan.
	RunStatusAborted RunStatus = "aborted"
)

// IsTerminal reports whether the run status is final.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusConverged || s == RunStatusFailed || s == RunStatusAborted
}
