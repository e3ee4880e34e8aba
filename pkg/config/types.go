// Package config loads and validates converge manifests.
package config

import (
	"time"
)

// Manifest is a parsed manifest document. Declaration order is
// significant: it is the tie-break for execution order and the firing
// order of handlers.
type Manifest struct {
	// Version is the manifest format version.
	Version string `yaml:"version,omitempty"`

	// Target labels the host this manifest converges.
	Target string `yaml:"target,omitempty"`

	// Vars are static variables available as ${var.NAME} in attributes.
	Vars map[string]any `yaml:"vars,omitempty"`

	// VarsScript is an optional Starlark script whose globals are merged
	// into Vars. Script values win over static ones.
	VarsScript string `yaml:"vars_script,omitempty"`

	// Resources are the declared resources, in declaration order.
	Resources []ResourceDecl `yaml:"resources" validate:"required,min=1,dive"`

	// Handlers are the declared handlers, in declaration order.
	Handlers []HandlerDecl `yaml:"handlers,omitempty" validate:"dive"`
}

// ResourceDecl is one resource declaration.
type ResourceDecl struct {
	// Kind is the resource kind.
	Kind string `yaml:"kind" validate:"required,oneof=package file service user dbobject"`

	// ID identifies the resource within its kind (package name, file
	// path, unit name, username, object name).
	ID string `yaml:"id" validate:"required"`

	// Attributes is the desired state. The reserved "state" attribute
	// takes "present" (default) or "absent".
	Attributes map[string]any `yaml:"attributes,omitempty"`

	// Template is an optional text/template rendered with the manifest
	// vars into the "content" attribute. File resources only.
	Template string `yaml:"template,omitempty"`

	// Requires lists hard dependencies as "kind/id" references.
	Requires []string `yaml:"requires,omitempty"`

	// Labels are free-form key-value metadata.
	Labels map[string]string `yaml:"labels,omitempty"`
}

// HandlerDecl is one handler declaration.
type HandlerDecl struct {
	// ID names the handler.
	ID string `yaml:"id" validate:"required"`

	// On lists the "kind/id" references whose applied changes trigger
	// this handler.
	On []string `yaml:"on" validate:"required,min=1"`

	// Do is the action performed when triggered.
	Do ActionDecl `yaml:"do" validate:"required"`
}

// ActionDecl is the action template of a handler.
type ActionDecl struct {
	// Kind is the target resource kind.
	Kind string `yaml:"kind" validate:"required,oneof=package file service user dbobject"`

	// ID is the target resource ID.
	ID string `yaml:"id" validate:"required"`

	// Attributes parameterize the action (e.g. action: restart).
	Attributes map[string]any `yaml:"attributes,omitempty"`
}

// LoaderOptions configures manifest loading.
type LoaderOptions struct {
	// StarlarkTimeout bounds vars_script execution. Zero uses the
	// default of 30 seconds.
	StarlarkTimeout time.Duration
}
