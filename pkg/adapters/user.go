package adapters

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/convergekit/converge/pkg/engine"
	"github.com/convergekit/converge/pkg/transports"
)

// UserAdapter manages local system accounts. The resource ID is the
// username. Supported attributes:
//
//	uid     numeric user ID
//	home    home directory path
//	shell   login shell
//	groups  supplementary group names (sorted for comparison)
//	system  create as a system account (apply-only)
type UserAdapter struct {
	transport transports.Transport
}

// NewUserAdapter creates a user adapter.
func NewUserAdapter(transport transports.Transport) *UserAdapter {
	return &UserAdapter{transport: transport}
}

// Kind returns the user resource kind.
func (a *UserAdapter) Kind() engine.Kind {
	return engine.KindUser
}

// Probe reads the account from the passwd database.
func (a *UserAdapter) Probe(ctx context.Context, resource *engine.Resource) (engine.Attributes, bool, error) {
	name := resource.ID

	result, err := a.transport.Run(ctx, "getent", "passwd", name)
	if err != nil {
		return nil, false, err
	}
	if result.ExitCode != 0 {
		return nil, false, nil
	}

	// name:x:uid:gid:gecos:home:shell
	fields := strings.Split(strings.TrimSpace(result.Stdout), ":")
	if len(fields) < 7 {
		return nil, false, fmt.Errorf("malformed passwd entry for %s", name)
	}

	uid, err := strconv.Atoi(fields[2])
	if err != nil {
		return nil, false, fmt.Errorf("malformed uid for %s: %w", name, err)
	}

	attrs := engine.Attributes{
		engine.StateAttr: engine.StatePresent,
		"uid":            uid,
		"home":           fields[5],
		"shell":          fields[6],
	}

	if _, declared := resource.Attributes["groups"]; declared {
		groups, err := a.supplementaryGroups(ctx, name)
		if err != nil {
			return nil, false, err
		}
		attrs["groups"] = groups
	}

	return attrs, true, nil
}

// Apply creates, modifies, or deletes the account.
func (a *UserAdapter) Apply(ctx context.Context, action *engine.Action) (engine.Attributes, error) {
	name := action.Ref.ID

	switch action.Verb {
	case engine.VerbCreate:
		args := []string{}
		if uid, ok := numericAttr(action.Desired["uid"]); ok {
			args = append(args, "-u", strconv.Itoa(uid))
		}
		if home, ok := action.Desired["home"].(string); ok && home != "" {
			args = append(args, "-d", home, "-m")
		}
		if shell, ok := action.Desired["shell"].(string); ok && shell != "" {
			args = append(args, "-s", shell)
		}
		if system, ok := action.Desired["system"].(bool); ok && system {
			args = append(args, "-r")
		}
		if groups := stringSliceAttr(action.Desired["groups"]); len(groups) > 0 {
			args = append(args, "-G", strings.Join(groups, ","))
		}
		args = append(args, name)
		if err := a.run(ctx, "useradd", args...); err != nil {
			return nil, err
		}

	case engine.VerbModify:
		args := []string{}
		if uid, ok := numericAttr(action.Desired["uid"]); ok {
			args = append(args, "-u", strconv.Itoa(uid))
		}
		if home, ok := action.Desired["home"].(string); ok && home != "" {
			args = append(args, "-d", home)
		}
		if shell, ok := action.Desired["shell"].(string); ok && shell != "" {
			args = append(args, "-s", shell)
		}
		if groups := stringSliceAttr(action.Desired["groups"]); len(groups) > 0 {
			args = append(args, "-G", strings.Join(groups, ","))
		}
		if len(args) == 0 {
			break
		}
		args = append(args, name)
		if err := a.run(ctx, "usermod", args...); err != nil {
			return nil, err
		}

	case engine.VerbRemove:
		if err := a.run(ctx, "userdel", name); err != nil {
			return nil, err
		}
		return nil, nil

	default:
		return nil, fmt.Errorf("unsupported verb for user: %s", action.Verb)
	}

	resource := engine.Resource{Kind: engine.KindUser, ID: name, Attributes: action.Desired}
	attrs, _, err := a.Probe(ctx, &resource)
	return attrs, err
}

// supplementaryGroups returns the sorted non-primary group names.
func (a *UserAdapter) supplementaryGroups(ctx context.Context, name string) ([]string, error) {
	result, err := a.transport.Run(ctx, "id", "-Gn", name)
	if err != nil {
		return nil, err
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("id -Gn %s failed: %s", name, strings.TrimSpace(result.Stderr))
	}

	groups := strings.Fields(result.Stdout)
	sort.Strings(groups)
	return groups, nil
}

func (a *UserAdapter) run(ctx context.Context, cmd string, args ...string) error {
	result, err := a.transport.Run(ctx, cmd, args...)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("%s failed: %s", cmd, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// numericAttr accepts int and float64 (JSON/YAML decode both ways).
func numericAttr(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func stringSliceAttr(v any) []string {
	switch s := v.(type) {
	case []string:
		out := make([]string, len(s))
		copy(out, s)
		sort.Strings(out)
		return out
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		sort.Strings(out)
		return out
	default:
		return nil
	}
}
