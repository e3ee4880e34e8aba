// Package policy provides Open Policy Agent (OPA) integration for
// vetting provisioning plans before any action runs.
//
// Plans are serialized into a Rego input document of the form
//
//	{"plan": {"id": ..., "actions": [{"ref", "kind", "id", "verb", "desired", "labels"}, ...]}}
//
// and evaluated against the deny rule of every loaded policy. A policy
// is a Rego module plus a severity: error-severity violations block the
// run, warning-severity violations are logged and the run proceeds.
//
// Built-in policies guard against plaintext credentials in resource
// attributes and against removal of protected resources: anything
// labeled protected: "true" in the manifest, plus a fixed set of
// critical system files, users, and services. Additional .rego files can be loaded from disk with Loader;
// a "# severity: error" comment in the file header raises a loaded
// policy from the default warning severity.
package policy
