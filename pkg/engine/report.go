package engine

import (
	"fmt"
	"io"
	"time"
)

// RunReport is the structured summary of one convergence run: every
// non-skipped action's outcome is recorded, nothing fails silently.
type RunReport struct {
	// RunID is the unique identifier for the run.
	RunID string `json:"run_id"`

	// Status is the overall run outcome.
	Status RunStatus `json:"status"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run completed.
	CompletedAt time.Time `json:"completed_at"`

	// Summary is the plan's per-verb statistics.
	Summary PlanSummary `json:"summary"`

	// Actions are the per-action outcomes in plan order.
	Actions []ActionResult `json:"actions"`

	// Handlers are the per-handler outcomes in declaration order.
	Handlers []HandlerResult `json:"handlers,omitempty"`

	// ProbeErrors lists resources whose state could not be determined,
	// keyed by reference, so "absent" and "unprobeable" stay
	// distinguishable in the report.
	ProbeErrors map[string]string `json:"probe_errors,omitempty"`

	// Converged reports whether the host matches all declared resources.
	Converged bool `json:"converged"`

	// ExitCode is 0 only when no action or handler failed.
	ExitCode int `json:"exit_code"`
}

// BuildReport assembles the run report from the plan and the per-phase
// results.
func BuildReport(runID string, plan *Plan, snap *Snapshot, actions []ActionResult, handlers []HandlerResult, startedAt time.Time) *RunReport {
	report := &RunReport{
		RunID:       runID,
		StartedAt:   startedAt,
		CompletedAt: time.Now(),
		Summary:     plan.Summary,
		Actions:     actions,
		Handlers:    handlers,
	}

	if snap != nil && len(snap.Unknown) > 0 {
		report.ProbeErrors = make(map[string]string, len(snap.Unknown))
		for ref, msg := range snap.Unknown {
			report.ProbeErrors[ref.String()] = msg
		}
	}

	failed := 0
	applied := 0
	notReached := 0
	for _, a := range actions {
		switch a.Status {
		case ActionStatusFailed:
			failed++
		case ActionStatusApplied:
			applied++
		case ActionStatusSkipped:
			if a.NotReached {
				notReached++
			}
		}
	}
	for _, h := range handlers {
		if h.Status == HandlerStatusFailed {
			failed++
		}
	}

	// A cancelled run can have zero failures, so not-reached actions must
	// rule out convergence before the failure count is consulted.
	switch {
	case notReached > 0:
		report.Status = RunStatusAborted
		report.ExitCode = 1
	case failed == 0:
		report.Status = RunStatusConverged
		report.Converged = true
		report.ExitCode = 0
	default:
		report.Status = RunStatusFailed
		report.ExitCode = 1
	}

	return report
}

// RenderText writes a human-readable report.
func (r *RunReport) RenderText(w io.Writer) {
	fmt.Fprintf(w, "Run %s: %s\n", r.RunID, r.Status)
	fmt.Fprintf(w, "  %d resources: %d create, %d modify, %d remove, %d unchanged\n",
		r.Summary.Total, r.Summary.ToCreate, r.Summary.ToModify,
		r.Summary.ToRemove, r.Summary.NoChange)

	for _, a := range r.Actions {
		line := fmt.Sprintf("  [%s] %s %s", a.Status, a.Verb, a.Ref)
		if a.Reason != "" {
			line += fmt.Sprintf(" (%s)", a.Reason)
		}
		if a.Error != nil {
			line += fmt.Sprintf(": %s", a.Error.Error())
		}
		fmt.Fprintln(w, line)
	}

	for _, h := range r.Handlers {
		line := fmt.Sprintf("  [handler %s] %s", h.Status, h.HandlerID)
		if h.Status == HandlerStatusFired {
			line += fmt.Sprintf(" (%d trigger(s))", h.TriggerCount)
		}
		if h.Error != nil {
			line += fmt.Sprintf(": %s", h.Error.Error())
		}
		fmt.Fprintln(w, line)
	}

	for ref, msg := range r.ProbeErrors {
		fmt.Fprintf(w, "  [probe-error] %s: %s\n", ref, msg)
	}

	fmt.Fprintf(w, "  duration: %s, exit code: %d\n",
		r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond), r.ExitCode)
}
