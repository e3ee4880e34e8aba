package config

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/convergekit/converge/pkg/engine"
)

// LoadResult is a manifest translated into engine inputs.
type LoadResult struct {
	// Manifest is the parsed manifest.
	Manifest *Manifest

	// Resources are the declared resources with positions assigned in
	// declaration order.
	Resources []engine.Resource

	// Handlers are the declared handlers in declaration order.
	Handlers []engine.Handler

	// Vars are the resolved variables after script evaluation.
	Vars map[string]any
}

// Loader parses, validates, and resolves manifests.
type Loader struct {
	validator *validator.Validate
	starlark  *StarlarkEvaluator
}

// NewLoader creates a manifest loader.
func NewLoader(opts LoaderOptions) *Loader {
	return &Loader{
		validator: validator.New(),
		starlark:  NewStarlarkEvaluator(opts.StarlarkTimeout),
	}
}

// Load reads and resolves a manifest file.
func (l *Loader) Load(ctx context.Context, path string) (*LoadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewValidationError("failed to read manifest", err)
	}
	return l.Parse(ctx, data)
}

// Parse resolves a manifest document: schema validation, variable
// resolution, ${var.*} interpolation, template rendering, and reference
// checks.
func (l *Loader) Parse(ctx context.Context, data []byte) (*LoadResult, error) {
	var manifest Manifest
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&manifest); err != nil {
		return nil, engine.NewValidationError("failed to parse manifest", err)
	}

	if err := l.validator.Struct(&manifest); err != nil {
		return nil, engine.NewValidationError("manifest failed validation", err)
	}

	vars, err := l.resolveVars(ctx, &manifest)
	if err != nil {
		return nil, err
	}

	resources, err := l.buildResources(&manifest, vars)
	if err != nil {
		return nil, err
	}

	handlers, err := l.buildHandlers(&manifest, resources, vars)
	if err != nil {
		return nil, err
	}

	return &LoadResult{
		Manifest:  &manifest,
		Resources: resources,
		Handlers:  handlers,
		Vars:      vars,
	}, nil
}

// resolveVars merges static vars with the vars_script globals. Script
// values win.
func (l *Loader) resolveVars(ctx context.Context, manifest *Manifest) (map[string]any, error) {
	vars := make(map[string]any, len(manifest.Vars))
	for k, v := range manifest.Vars {
		vars[k] = v
	}

	if manifest.VarsScript == "" {
		return vars, nil
	}

	globals, err := l.starlark.Evaluate(ctx, manifest.VarsScript, map[string]any{"vars": vars})
	if err != nil {
		return nil, engine.NewValidationError("vars_script evaluation failed", err)
	}
	for k, v := range globals {
		vars[k] = v
	}
	return vars, nil
}

func (l *Loader) buildResources(manifest *Manifest, vars map[string]any) ([]engine.Resource, error) {
	seen := make(map[engine.Ref]int, len(manifest.Resources))
	resources := make([]engine.Resource, 0, len(manifest.Resources))

	for i, decl := range manifest.Resources {
		kind := engine.Kind(decl.Kind)
		ref := engine.Ref{Kind: kind, ID: decl.ID}
		if prev, dup := seen[ref]; dup {
			return nil, engine.NewValidationError(
				fmt.Sprintf("duplicate resource %s (declared at positions %d and %d)", ref, prev, i), nil)
		}
		seen[ref] = i

		attrs, err := interpolateAttrs(decl.Attributes, vars)
		if err != nil {
			return nil, engine.NewValidationError(
				fmt.Sprintf("resource %s has invalid attributes", ref), err)
		}
		if attrs == nil {
			attrs = engine.Attributes{}
		}

		if decl.Template != "" {
			if kind != engine.KindFile {
				return nil, engine.NewValidationError(
					fmt.Sprintf("resource %s: template is only supported for file resources", ref), nil)
			}
			if _, has := attrs["content"]; has {
				return nil, engine.NewValidationError(
					fmt.Sprintf("resource %s declares both template and content", ref), nil)
			}
			content, err := RenderTemplate(decl.Template, vars)
			if err != nil {
				return nil, engine.NewValidationError(
					fmt.Sprintf("resource %s template failed to render", ref), err)
			}
			attrs["content"] = content
		}

		if kind == engine.KindUser {
			normalizeGroupList(attrs)
		}

		requires := make([]engine.Ref, 0, len(decl.Requires))
		for _, raw := range decl.Requires {
			dep, err := engine.ParseRef(raw)
			if err != nil {
				return nil, engine.NewValidationError(
					fmt.Sprintf("resource %s has invalid requires entry %q", ref, raw), err)
			}
			requires = append(requires, dep)
		}

		resources = append(resources, engine.Resource{
			Kind:       kind,
			ID:         decl.ID,
			Attributes: attrs,
			Requires:   requires,
			Labels:     decl.Labels,
			Position:   i,
		})
	}

	return resources, nil
}

func (l *Loader) buildHandlers(manifest *Manifest, resources []engine.Resource, vars map[string]any) ([]engine.Handler, error) {
	declared := make(map[engine.Ref]bool, len(resources))
	for i := range resources {
		declared[resources[i].Ref()] = true
	}

	seen := make(map[string]bool, len(manifest.Handlers))
	handlers := make([]engine.Handler, 0, len(manifest.Handlers))

	for i, decl := range manifest.Handlers {
		if seen[decl.ID] {
			return nil, engine.NewValidationError(
				fmt.Sprintf("duplicate handler %q", decl.ID), nil)
		}
		seen[decl.ID] = true

		on := make([]engine.Ref, 0, len(decl.On))
		for _, raw := range decl.On {
			trigger, err := engine.ParseRef(raw)
			if err != nil {
				return nil, engine.NewValidationError(
					fmt.Sprintf("handler %q has invalid trigger %q", decl.ID, raw), err)
			}
			if !declared[trigger] {
				return nil, engine.NewValidationError(
					fmt.Sprintf("handler %q triggers on undeclared resource %s", decl.ID, trigger), nil)
			}
			on = append(on, trigger)
		}

		attrs, err := interpolateAttrs(decl.Do.Attributes, vars)
		if err != nil {
			return nil, engine.NewValidationError(
				fmt.Sprintf("handler %q has invalid attributes", decl.ID), err)
		}

		handlers = append(handlers, engine.Handler{
			ID: decl.ID,
			On: on,
			Do: engine.ActionTemplate{
				Kind:       engine.Kind(decl.Do.Kind),
				ID:         decl.Do.ID,
				Attributes: attrs,
			},
			Position: i,
		})
	}

	return handlers, nil
}

// normalizeGroupList sorts a user's declared supplementary groups in
// place. Group membership is a set: adapters probe it sorted, so the
// declared list must compare order-independently or a converged
// account diffs forever.
func normalizeGroupList(attrs engine.Attributes) {
	switch groups := attrs["groups"].(type) {
	case []any:
		sort.SliceStable(groups, func(i, j int) bool {
			a, _ := groups[i].(string)
			b, _ := groups[j].(string)
			return a < b
		})
	case []string:
		sort.Strings(groups)
	}
}

var varPattern = regexp.MustCompile(`\$\{var\.([A-Za-z_][A-Za-z0-9_]*)\}`)

// interpolateAttrs substitutes ${var.NAME} in every string attribute,
// recursively through nested maps and lists. An unknown variable is an
// error, not an empty substitution.
func interpolateAttrs(attrs map[string]any, vars map[string]any) (engine.Attributes, error) {
	if attrs == nil {
		return nil, nil
	}
	out := make(engine.Attributes, len(attrs))
	for k, v := range attrs {
		resolved, err := interpolateValue(v, vars)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		out[k] = resolved
	}
	return out, nil
}

func interpolateValue(v any, vars map[string]any) (any, error) {
	switch val := v.(type) {
	case string:
		return interpolateString(val, vars)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			resolved, err := interpolateValue(item, vars)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			resolved, err := interpolateValue(item, vars)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

func interpolateString(s string, vars map[string]any) (any, error) {
	// A string that is exactly one reference keeps the variable's type
	if m := varPattern.FindStringSubmatch(s); m != nil && m[0] == s {
		value, ok := vars[m[1]]
		if !ok {
			return nil, fmt.Errorf("undefined variable %q", m[1])
		}
		return value, nil
	}

	var missing string
	result := varPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := varPattern.FindStringSubmatch(match)[1]
		value, ok := vars[name]
		if !ok {
			missing = name
			return match
		}
		return fmt.Sprintf("%v", value)
	})
	if missing != "" {
		return nil, fmt.Errorf("undefined variable %q", missing)
	}
	if strings.Contains(result, "${var.") {
		return nil, fmt.Errorf("malformed variable reference in %q", s)
	}
	return result, nil
}
