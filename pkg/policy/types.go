package policy

import (
	"time"
)

// Severity indicates the impact of a policy violation.
type Severity string

const (
	// SeverityWarning reports the violation without blocking the run.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the run before any mutation.
	SeverityError Severity = "error"
)

// Policy is one named Rego policy.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. Violations are collected from
	// the package's deny set.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation is one policy finding against a planned action.
type Violation struct {
	// Policy is the name of the violated policy.
	Policy string `json:"policy"`

	// Severity is the violation severity.
	Severity string `json:"severity"`

	// Message describes the violation.
	Message string `json:"message"`

	// Ref identifies the offending resource.
	Ref string `json:"ref,omitempty"`
}

// Result is the outcome of evaluating a plan against all policies.
type Result struct {
	// Allowed is false when any error-severity violation was found.
	Allowed bool `json:"allowed"`

	// Violations lists every finding.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists policies that failed to evaluate.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedAt is when the evaluation ran.
	EvaluatedAt time.Time `json:"evaluated_at"`
}
