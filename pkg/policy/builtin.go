package policy

import (
	"time"
)

// GetBuiltinPolicies returns the policies compiled into converge.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		credentialLiteralPolicy(),
		protectedRemovalPolicy(),
	}
}

// credentialLiteralPolicy flags plaintext credentials in manifests.
func credentialLiteralPolicy() Policy {
	return Policy{
		Name:        "credential-literal",
		Description: "Flags actions whose desired attributes carry a plaintext credential",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"secrets"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package converge.policies.credentials

import rego.v1

secret_attrs := {"password", "secret", "token", "api_key", "private_key"}

deny contains violation if {
	some action in input.plan.actions
	action.verb != "noop"
	some attr, value in action.desired
	attr in secret_attrs
	is_string(value)
	value != ""
	violation := {
		"message": sprintf("resource %s declares plaintext credential attribute %q", [action.ref, attr]),
		"severity": "warning",
		"ref": action.ref,
	}
}
`,
	}
}

// protectedRemovalPolicy blocks removal of resources labeled protected
// and of a built-in set of critical system objects.
func protectedRemovalPolicy() Policy {
	return Policy{
		Name:        "protected-removal",
		Description: "Blocks remove actions against resources labeled protected and critical system files, users, and services",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package converge.policies.protected

import rego.v1

protected_files := {"/etc/passwd", "/etc/shadow", "/etc/group", "/etc/sudoers", "/etc/fstab"}

protected_users := {"root", "daemon", "nobody"}

protected_services := {"sshd", "ssh", "systemd-journald"}

deny contains violation if {
	some action in input.plan.actions
	action.verb == "remove"
	action.kind == "file"
	action.id in protected_files
	violation := {
		"message": sprintf("refusing to remove protected file %s", [action.id]),
		"severity": "error",
		"ref": action.ref,
	}
}

deny contains violation if {
	some action in input.plan.actions
	action.verb == "remove"
	action.kind == "user"
	action.id in protected_users
	violation := {
		"message": sprintf("refusing to remove protected user %s", [action.id]),
		"severity": "error",
		"ref": action.ref,
	}
}

deny contains violation if {
	some action in input.plan.actions
	action.verb == "remove"
	action.kind == "service"
	action.id in protected_services
	violation := {
		"message": sprintf("refusing to stop protected service %s", [action.id]),
		"severity": "error",
		"ref": action.ref,
	}
}

deny contains violation if {
	some action in input.plan.actions
	action.verb == "remove"
	action.labels.protected == "true"
	violation := {
		"message": sprintf("refusing to remove %s: labeled protected", [action.ref]),
		"severity": "error",
		"ref": action.ref,
	}
}
`,
	}
}
