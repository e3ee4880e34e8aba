package adapters

import (
	"context"
	"fmt"
	"strings"

	"github.com/convergekit/converge/pkg/engine"
	"github.com/convergekit/converge/pkg/transports"
)

// PackageAdapter manages OS packages through the host's package manager.
// The resource ID is the package name. Supported attributes:
//
//	version  pin to a specific version ("latest" upgrades on every diff)
//	manager  override the detected package manager
type PackageAdapter struct {
	transport transports.Transport
	manager   string
}

// NewPackageAdapter creates a package adapter. An empty manager is
// detected on first use.
func NewPackageAdapter(transport transports.Transport, manager string) *PackageAdapter {
	return &PackageAdapter{
		transport: transport,
		manager:   manager,
	}
}

// Kind returns the package resource kind.
func (a *PackageAdapter) Kind() engine.Kind {
	return engine.KindPackage
}

// Probe queries the package database without touching it.
func (a *PackageAdapter) Probe(ctx context.Context, resource *engine.Resource) (engine.Attributes, bool, error) {
	manager, err := a.resolveManager(ctx, resource)
	if err != nil {
		return nil, false, err
	}

	installed, version, err := a.queryPackage(ctx, manager, resource.ID)
	if err != nil {
		return nil, false, err
	}
	if !installed {
		return nil, false, nil
	}

	attrs := engine.Attributes{engine.StateAttr: engine.StatePresent}
	if version != "" {
		attrs["version"] = version
	}
	return attrs, true, nil
}

// Apply installs, upgrades, or removes the package per the action verb.
func (a *PackageAdapter) Apply(ctx context.Context, action *engine.Action) (engine.Attributes, error) {
	manager, err := a.resolveManagerFromAttrs(ctx, action.Desired)
	if err != nil {
		return nil, err
	}

	name := action.Ref.ID
	version, _ := action.Desired["version"].(string)

	switch action.Verb {
	case engine.VerbCreate:
		if err := a.install(ctx, manager, name, version); err != nil {
			return nil, err
		}
	case engine.VerbModify:
		// A version diff on an installed package is an upgrade (or a
		// pinned reinstall)
		if version == "latest" || version == "" {
			if err := a.upgrade(ctx, manager, name); err != nil {
				return nil, err
			}
		} else {
			if err := a.install(ctx, manager, name, version); err != nil {
				return nil, err
			}
		}
	case engine.VerbRemove:
		if err := a.remove(ctx, manager, name); err != nil {
			return nil, err
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported verb for package: %s", action.Verb)
	}

	_, installedVersion, err := a.queryPackage(ctx, manager, name)
	if err != nil {
		return nil, err
	}
	attrs := engine.Attributes{engine.StateAttr: engine.StatePresent}
	if installedVersion != "" {
		attrs["version"] = installedVersion
	}
	return attrs, nil
}

func (a *PackageAdapter) resolveManager(ctx context.Context, resource *engine.Resource) (string, error) {
	return a.resolveManagerFromAttrs(ctx, resource.Attributes)
}

func (a *PackageAdapter) resolveManagerFromAttrs(ctx context.Context, attrs engine.Attributes) (string, error) {
	if m, ok := attrs["manager"].(string); ok && m != "" {
		return m, nil
	}
	if a.manager != "" {
		return a.manager, nil
	}

	for _, mgr := range []string{"apt", "dnf", "yum", "zypper"} {
		result, err := a.transport.Run(ctx, "which", mgr)
		if err != nil {
			return "", err
		}
		if result.ExitCode == 0 {
			a.manager = mgr
			return mgr, nil
		}
	}
	return "", fmt.Errorf("no supported package manager found")
}

// queryPackage checks the package database. A query failure for a
// missing package is not an error.
func (a *PackageAdapter) queryPackage(ctx context.Context, manager, name string) (bool, string, error) {
	var result *transports.ExecResult
	var err error

	switch manager {
	case "apt":
		result, err = a.transport.Run(ctx, "dpkg-query", "-W", "-f=${Version}", name)
	case "dnf", "yum", "zypper":
		result, err = a.transport.Run(ctx, "rpm", "-q", "--queryformat", "%{VERSION}-%{RELEASE}", name)
	default:
		return false, "", fmt.Errorf("unsupported package manager: %s", manager)
	}
	if err != nil {
		return false, "", err
	}
	if result.ExitCode != 0 {
		return false, "", nil
	}

	return true, strings.TrimSpace(result.Stdout), nil
}

func (a *PackageAdapter) install(ctx context.Context, manager, name, version string) error {
	pkgSpec := name
	if version != "" && version != "latest" {
		switch manager {
		case "apt":
			pkgSpec = fmt.Sprintf("%s=%s", name, version)
		case "dnf", "yum", "zypper":
			pkgSpec = fmt.Sprintf("%s-%s", name, version)
		}
	}

	result, err := a.transport.Run(ctx, manager, "install", "-y", pkgSpec)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("%s install %s failed: %s", manager, name, strings.TrimSpace(result.Stderr))
	}
	return nil
}

func (a *PackageAdapter) upgrade(ctx context.Context, manager, name string) error {
	verb := "upgrade"
	if manager == "zypper" {
		verb = "update"
	}

	result, err := a.transport.Run(ctx, manager, verb, "-y", name)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("%s %s %s failed: %s", manager, verb, name, strings.TrimSpace(result.Stderr))
	}
	return nil
}

func (a *PackageAdapter) remove(ctx context.Context, manager, name string) error {
	result, err := a.transport.Run(ctx, manager, "remove", "-y", name)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("%s remove %s failed: %s", manager, name, strings.TrimSpace(result.Stderr))
	}
	return nil
}
