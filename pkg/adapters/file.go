package adapters

import (
	"context"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/convergekit/converge/pkg/engine"
	"github.com/convergekit/converge/pkg/transports"
)

// FileAdapter manages files. The resource ID is the absolute path.
// Supported attributes:
//
//	content  the full desired file content
//	mode     octal permission string, e.g. "0644"
//	owner    owner name or numeric UID
//	group    group name or numeric GID
type FileAdapter struct {
	transport transports.Transport
}

// NewFileAdapter creates a file adapter.
func NewFileAdapter(transport transports.Transport) *FileAdapter {
	return &FileAdapter{transport: transport}
}

// Kind returns the file resource kind.
func (a *FileAdapter) Kind() engine.Kind {
	return engine.KindFile
}

// Probe reads the file's content, mode, and ownership.
func (a *FileAdapter) Probe(ctx context.Context, resource *engine.Resource) (engine.Attributes, bool, error) {
	path := resource.ID

	info, err := a.transport.Stat(ctx, path)
	if err != nil {
		return nil, false, err
	}
	if !info.Exists {
		return nil, false, nil
	}
	if info.IsDir {
		return nil, false, fmt.Errorf("%s is a directory", path)
	}

	attrs := engine.Attributes{
		engine.StateAttr: engine.StatePresent,
		"mode":           fmt.Sprintf("%04o", info.Mode),
	}

	// Only read content when the manifest declares it, large files the
	// manifest doesn't diff on stay unread
	if _, declared := resource.Attributes["content"]; declared {
		content, err := a.transport.ReadFile(ctx, path)
		if err != nil {
			return nil, false, err
		}
		attrs["content"] = string(content)
	}

	if _, declared := resource.Attributes["owner"]; declared {
		owner, err := a.lookupName(ctx, "passwd", info.UID)
		if err != nil {
			return nil, false, err
		}
		attrs["owner"] = owner
	}
	if _, declared := resource.Attributes["group"]; declared {
		group, err := a.lookupName(ctx, "group", info.GID)
		if err != nil {
			return nil, false, err
		}
		attrs["group"] = group
	}

	return attrs, true, nil
}

// Apply writes or removes the file and adjusts mode and ownership.
func (a *FileAdapter) Apply(ctx context.Context, action *engine.Action) (engine.Attributes, error) {
	path := action.Ref.ID

	if action.Verb == engine.VerbRemove {
		if err := a.transport.Remove(ctx, path); err != nil {
			return nil, err
		}
		return nil, nil
	}

	mode := fs.FileMode(0644)
	modeStr, hasMode := action.Desired["mode"].(string)
	if hasMode {
		parsed, err := strconv.ParseUint(modeStr, 8, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid mode %q: %w", modeStr, err)
		}
		mode = fs.FileMode(parsed)
	}

	if content, ok := action.Desired["content"].(string); ok {
		if err := a.transport.WriteFile(ctx, path, []byte(content), mode); err != nil {
			return nil, err
		}
	} else if action.Verb == engine.VerbCreate {
		// No content declared: the file must still come into existence
		// for mode and ownership to apply to anything
		if err := a.transport.WriteFile(ctx, path, nil, mode); err != nil {
			return nil, err
		}
	} else if hasMode {
		if err := a.chmod(ctx, path, modeStr); err != nil {
			return nil, err
		}
	}

	owner, _ := action.Desired["owner"].(string)
	group, _ := action.Desired["group"].(string)
	if owner != "" || group != "" {
		if err := a.chown(ctx, path, owner, group); err != nil {
			return nil, err
		}
	}

	attrs := engine.Attributes{engine.StateAttr: engine.StatePresent}
	for k, v := range action.Desired {
		if k == engine.StateAttr {
			continue
		}
		attrs[k] = v
	}
	return attrs, nil
}

func (a *FileAdapter) chmod(ctx context.Context, path, mode string) error {
	result, err := a.transport.Run(ctx, "chmod", mode, path)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("chmod %s %s failed: %s", mode, path, strings.TrimSpace(result.Stderr))
	}
	return nil
}

func (a *FileAdapter) chown(ctx context.Context, path, owner, group string) error {
	spec := owner
	if group != "" {
		spec += ":" + group
	}

	result, err := a.transport.Run(ctx, "chown", spec, path)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("chown %s %s failed: %s", spec, path, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// lookupName resolves a numeric ID to a name through getent.
func (a *FileAdapter) lookupName(ctx context.Context, database string, id int) (string, error) {
	result, err := a.transport.Run(ctx, "getent", database, strconv.Itoa(id))
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		return strconv.Itoa(id), nil
	}

	fields := strings.SplitN(strings.TrimSpace(result.Stdout), ":", 2)
	if len(fields) == 0 || fields[0] == "" {
		return strconv.Itoa(id), nil
	}
	return fields[0], nil
}
