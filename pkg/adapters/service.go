package adapters

import (
	"context"
	"fmt"
	"strings"

	"github.com/convergekit/converge/pkg/engine"
	"github.com/convergekit/converge/pkg/transports"
)

// ServiceAdapter manages systemd units. The resource ID is the unit
// name. Supported attributes:
//
//	running  whether the unit should be active (bool)
//	enabled  whether the unit starts at boot (bool)
//
// A desired state of absent stops and disables the unit; converge never
// deletes unit files.
type ServiceAdapter struct {
	transport transports.Transport
}

// NewServiceAdapter creates a service adapter.
func NewServiceAdapter(transport transports.Transport) *ServiceAdapter {
	return &ServiceAdapter{transport: transport}
}

// Kind returns the service resource kind.
func (a *ServiceAdapter) Kind() engine.Kind {
	return engine.KindService
}

// Probe reads the unit's load, active, and enablement state.
func (a *ServiceAdapter) Probe(ctx context.Context, resource *engine.Resource) (engine.Attributes, bool, error) {
	name := resource.ID

	result, err := a.transport.Run(ctx, "systemctl", "show", name, "--property=LoadState", "--value")
	if err != nil {
		return nil, false, err
	}
	loadState := strings.TrimSpace(result.Stdout)
	if loadState != "loaded" {
		return nil, false, nil
	}

	active, err := a.transport.Run(ctx, "systemctl", "is-active", name)
	if err != nil {
		return nil, false, err
	}
	enabled, err := a.transport.Run(ctx, "systemctl", "is-enabled", name)
	if err != nil {
		return nil, false, err
	}

	attrs := engine.Attributes{
		engine.StateAttr: engine.StatePresent,
		"running":        strings.TrimSpace(active.Stdout) == "active",
		"enabled":        strings.TrimSpace(enabled.Stdout) == "enabled",
	}
	return attrs, true, nil
}

// Apply drives the unit toward the desired running/enabled state.
func (a *ServiceAdapter) Apply(ctx context.Context, action *engine.Action) (engine.Attributes, error) {
	name := action.Ref.ID

	if action.Verb == engine.VerbRemove {
		if err := a.systemctl(ctx, "stop", name); err != nil {
			return nil, err
		}
		if err := a.systemctl(ctx, "disable", name); err != nil {
			return nil, err
		}
		return nil, nil
	}

	// Handler firings arrive as modify actions with a restart/reload
	// attribute instead of a target state
	if act, ok := action.Desired["action"].(string); ok && act != "" {
		switch act {
		case "restart", "reload", "start", "stop":
			if err := a.systemctl(ctx, act, name); err != nil {
				return nil, err
			}
			return a.currentAttrs(ctx, name)
		default:
			return nil, fmt.Errorf("unsupported service action: %s", act)
		}
	}

	if running, ok := action.Desired["running"].(bool); ok {
		verb := "stop"
		if running {
			verb = "start"
		}
		if err := a.systemctl(ctx, verb, name); err != nil {
			return nil, err
		}
	}

	if enabled, ok := action.Desired["enabled"].(bool); ok {
		verb := "disable"
		if enabled {
			verb = "enable"
		}
		if err := a.systemctl(ctx, verb, name); err != nil {
			return nil, err
		}
	}

	return a.currentAttrs(ctx, name)
}

func (a *ServiceAdapter) currentAttrs(ctx context.Context, name string) (engine.Attributes, error) {
	active, err := a.transport.Run(ctx, "systemctl", "is-active", name)
	if err != nil {
		return nil, err
	}
	enabled, err := a.transport.Run(ctx, "systemctl", "is-enabled", name)
	if err != nil {
		return nil, err
	}
	return engine.Attributes{
		engine.StateAttr: engine.StatePresent,
		"running":        strings.TrimSpace(active.Stdout) == "active",
		"enabled":        strings.TrimSpace(enabled.Stdout) == "enabled",
	}, nil
}

func (a *ServiceAdapter) systemctl(ctx context.Context, verb, name string) error {
	result, err := a.transport.Run(ctx, "systemctl", verb, name)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("systemctl %s %s failed: %s", verb, name, strings.TrimSpace(result.Stderr))
	}
	return nil
}
