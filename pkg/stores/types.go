// Package stores provides the persistence layer for runs, action results,
// handler firings, facts and resource state.
package stores

import (
	"context"
	"time"
)

// RunRecord is a persisted convergence run.
type RunRecord struct {
	ID              string     `json:"id"`
	Status          string     `json:"status"`
	Target          string     `json:"target"`
	ContinueOnError bool       `json:"continue_on_error"`
	DryRun          bool       `json:"dry_run"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Report          *string    `json:"report,omitempty"` // JSON blob
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ActionRecord is a persisted per-action outcome.
type ActionRecord struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	Ref        string    `json:"ref"` // kind/id
	Verb       string    `json:"verb"`
	Status     string    `json:"status"`
	Reason     *string   `json:"reason,omitempty"`
	Error      *string   `json:"error,omitempty"`
	Diff       *string   `json:"diff,omitempty"` // JSON blob
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
}

// HandlerRecord is a persisted per-handler outcome.
type HandlerRecord struct {
	ID           int64   `json:"id"`
	RunID        string  `json:"run_id"`
	HandlerID    string  `json:"handler_id"`
	Ref          string  `json:"ref"`
	Status       string  `json:"status"`
	TriggerCount int     `json:"trigger_count"`
	Error        *string `json:"error,omitempty"`
	DurationMS   int64   `json:"duration_ms"`
}

// Fact is a cached observation about one resource on a target host.
type Fact struct {
	ID        string     `json:"id"`
	TargetID  string     `json:"target_id"`
	Ref       string     `json:"ref"`   // kind/id
	Value     string     `json:"value"` // JSON blob, "null" when absent
	Exists    bool       `json:"exists"`
	TTL       int        `json:"ttl"` // seconds, 0 = no expiry
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ResourceState is the last applied state of a managed resource.
type ResourceState struct {
	Ref         string    `json:"ref"`
	State       string    `json:"state"` // JSON blob
	Hash        string    `json:"hash"`  // SHA256 of state
	LastRunID   string    `json:"last_run_id"`
	LastApplied time.Time `json:"last_applied"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// EventLevel is the severity of a log event.
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Event is an append-only log entry.
type Event struct {
	ID        int64      `json:"id"`
	RunID     *string    `json:"run_id,omitempty"`
	Ref       *string    `json:"ref,omitempty"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	Details   *string    `json:"details,omitempty"` // JSON blob
	Timestamp time.Time  `json:"timestamp"`
}

// Store defines the persistence layer interface.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run operations
	CreateRun(ctx context.Context, run *RunRecord) error
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	UpdateRun(ctx context.Context, id string, status string, report *string) error
	ListRuns(ctx context.Context, limit, offset int) ([]*RunRecord, error)

	// Action operations
	CreateActionRecord(ctx context.Context, rec *ActionRecord) error
	ListActionsByRun(ctx context.Context, runID string) ([]*ActionRecord, error)

	// Handler operations
	CreateHandlerRecord(ctx context.Context, rec *HandlerRecord) error
	ListHandlersByRun(ctx context.Context, runID string) ([]*HandlerRecord, error)

	// Fact operations
	UpsertFact(ctx context.Context, fact *Fact) error
	GetFact(ctx context.Context, targetID, ref string) (*Fact, error)
	ListFacts(ctx context.Context, targetID *string, limit, offset int) ([]*Fact, error)
	DeleteExpiredFacts(ctx context.Context) (int64, error)

	// ResourceState operations
	UpsertResourceState(ctx context.Context, state *ResourceState) error
	GetResourceState(ctx context.Context, ref string) (*ResourceState, error)
	ListResourceStates(ctx context.Context, limit, offset int) ([]*ResourceState, error)
	DeleteResourceState(ctx context.Context, ref string) error

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	ListEvents(ctx context.Context, runID *string, limit, offset int) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
